// Package main provides the gbxflash CLI application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/richardwooding/gbxflash/internal/device"
	"github.com/richardwooding/gbxflash/internal/logger"
	"github.com/richardwooding/gbxflash/internal/serial"
)

// connectFunc opens the reader described by a serial configuration.
type connectFunc func(ctx context.Context, cfg serial.Config, opts ...device.Option) (*device.Handle, error)

// Globals are the flags shared by every command.
type Globals struct {
	Config  kong.ConfigFlag `help:"Read default flag values from a JSON file."`
	Port    string          `help:"Serial port of the reader. Discovered when empty." env:"GBXCART_PORT"`
	Baud    int             `help:"Serial baud rate." default:"1000000"`
	Backend string          `help:"Serial backend." enum:"term,goserial" default:"term"`
	Verbose bool            `short:"v" help:"Log every command sent to the reader."`

	ctx     context.Context
	log     logger.Logger
	connect connectFunc
}

// CLI represents the command-line interface structure.
type CLI struct {
	Globals

	Info      InfoCmd      `cmd:"" help:"Display reader and cartridge information."`
	ReadROM   ReadROMCmd   `cmd:"" name:"read-rom" help:"Dump the cartridge ROM to a file."`
	Flash     FlashCmd     `cmd:"" help:"Write a ROM image to a flash cartridge."`
	ReadSave  ReadSaveCmd  `cmd:"" name:"read-save" help:"Back up the cartridge save to a file."`
	WriteSave WriteSaveCmd `cmd:"" name:"write-save" help:"Restore a save file to the cartridge."`
	Detect    DetectCmd    `cmd:"" help:"Probe the flash chip and report its ID."`
	Carts     CartsCmd     `cmd:"" help:"List the supported flash cartridge types."`
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("gbxflash"),
		kong.Description("Read and write Game Boy and Game Boy Advance cartridges with a GBxCart RW."),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, "~/.config/gbxflash.json"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cli.ctx = ctx
	cli.log = logger.New(os.Stderr, cli.Verbose)
	cli.connect = device.Open

	err := kctx.Run(&cli.Globals)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// progress draws a single updating percentage line on stderr.
func progress(label string) func(done, total int) {
	last := -1
	return func(done, total int) {
		if total <= 0 {
			return
		}
		pct := done * 100 / total
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(os.Stderr, "\r%s %3d%% (%d/%d bytes)", label, pct, done, total)
		if done >= total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// hexID formats a chip ID the way cartridge lists print them.
func hexID(id []byte) string {
	parts := make([]string, len(id))
	for i, b := range id {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
