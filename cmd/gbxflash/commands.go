package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/device"
	"github.com/richardwooding/gbxflash/internal/flash"
	"github.com/richardwooding/gbxflash/internal/romfile"
	"github.com/richardwooding/gbxflash/internal/serial"
	"github.com/richardwooding/gbxflash/internal/transfer"
)

// Generic profiles used when auto detection finds no known cartridge.
const (
	genericGB  = 52
	genericGBA = 54
)

// open connects to the reader and powers the cartridge for mode.
func (g *Globals) open(mode cartridge.Mode, force5V bool) (*device.Handle, error) {
	connect := g.connect
	if connect == nil {
		connect = device.Open
	}
	h, err := connect(g.ctx, serial.Config{Name: g.Port, Baud: g.Baud, Backend: g.Backend}, device.WithLogger(g.log))
	if err != nil {
		return nil, fmt.Errorf("failed to open reader: %w", err)
	}
	if mode == 0 {
		return h, nil
	}
	if err := h.ApplyVoltage(mode, device.VoltageAny, force5V); err != nil {
		_ = h.Close()
		return nil, err
	}
	if err := h.SelectMode(mode); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// ModeFlag selects the cartridge bus.
type ModeFlag struct {
	Mode string `help:"Cartridge bus." enum:"gb,gba" default:"gb"`
}

func (m ModeFlag) mode() cartridge.Mode {
	if m.Mode == "gba" {
		return cartridge.ModeGBA
	}
	return cartridge.ModeGB
}

// readSession reads the cartridge header through e.
func (g *Globals) readSession(e *transfer.Engine, mode cartridge.Mode, save cartridge.SaveType) (cartridge.Session, error) {
	if mode == cartridge.ModeGBA {
		s, _, err := e.ReadGBAHeader(g.ctx, save)
		return s, err
	}
	s, _, err := e.ReadGBHeader(g.ctx)
	return s, err
}

// InfoCmd displays reader and cartridge information.
type InfoCmd struct {
	ModeFlag
}

// Run executes the info command.
func (c *InfoCmd) Run(g *Globals) error {
	h, err := g.open(c.mode(), false)
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Printf("Reader:\n")
	fmt.Printf("  Port:     %s\n", h.Port)
	fmt.Printf("  PCB:      %s\n", h.PCBName())
	fmt.Printf("  Firmware: R%d\n", h.Firmware)

	s, err := g.readSession(transfer.New(h), c.mode(), cartridge.SaveNone)
	if err != nil {
		return fmt.Errorf("failed to read cartridge header: %w", err)
	}

	fmt.Printf("Cartridge:\n")
	fmt.Printf("  Title:          %s\n", s.Title)
	if s.Mode == cartridge.ModeGBA {
		fmt.Printf("  Game Code:      %s\n", s.GameCode)
		fmt.Printf("  ROM Size:       %d KiB\n", s.ROMSize/1024)
		fmt.Printf("  Save Type:      %s\n", s.Save)
	} else {
		fmt.Printf("  Cartridge Type: %s (0x%02X)\n", s.Type, uint8(s.Type))
		fmt.Printf("  Mapper:         %s\n", s.Mapper)
		fmt.Printf("  ROM Size:       %d KiB (%d banks)\n", s.ROMSize/1024, s.ROMBanks)
		fmt.Printf("  RAM Size:       %d KiB (%d banks)\n", s.SaveSize()/1024, s.RAMBanks)
		fmt.Printf("  Logo:           %v\n", s.LogoOK)
	}
	fmt.Printf("  Checksum:       %v\n", s.ChecksumOK)
	return nil
}

// ReadROMCmd dumps the cartridge ROM.
type ReadROMCmd struct {
	ModeFlag
	Out string `arg:"" type:"path" help:"Output file."`
}

// Run executes the read-rom command.
func (c *ReadROMCmd) Run(g *Globals) error {
	h, err := g.open(c.mode(), false)
	if err != nil {
		return err
	}
	defer h.Close()

	e := transfer.New(h, transfer.WithProgress(progress("Reading")))
	s, err := g.readSession(e, c.mode(), cartridge.SaveNone)
	if err != nil {
		return fmt.Errorf("failed to read cartridge header: %w", err)
	}

	var rom []byte
	if s.Mode == cartridge.ModeGBA {
		rom, err = e.ReadGBAROM(g.ctx, s.ROMSize)
	} else {
		rom, err = e.ReadGBROM(g.ctx, s)
	}
	if err != nil {
		return fmt.Errorf("failed to read ROM: %w", err)
	}

	if err := romfile.Save(c.Out, rom); err != nil {
		return fmt.Errorf("failed to write ROM: %w", err)
	}
	fmt.Printf("Wrote %d bytes to %s (xxh64 %016x)\n", len(rom), c.Out, romfile.Digest(rom))
	return nil
}

// FlashCmd programs a flash cartridge.
type FlashCmd struct {
	ROM     string `arg:"" type:"existingfile" help:"ROM image, optionally inside a .gz, .zip or .7z archive."`
	Cart    string `help:"Cartridge type number, or auto to detect it." default:"auto"`
	Force5V bool   `name:"force-5v" help:"Run the cartridge at 5V."`
	Block   int    `help:"8 MiB block to write on block-select cartridges (0-3)."`
	Verify  bool   `help:"Read the cartridge back and compare."`
	Force   bool   `help:"Program even when the chip ID is not one the cartridge type is known to report. Without it a mismatch aborts before erasing."`
}

// modeFor guesses the cartridge bus from the image file name.
func modeFor(name string) cartridge.Mode {
	name = strings.ToLower(name)
	for _, ext := range []string{".gz", ".zip", ".7z"} {
		name = strings.TrimSuffix(name, ext)
	}
	if filepath.Ext(name) == ".gba" {
		return cartridge.ModeGBA
	}
	return cartridge.ModeGB
}

// lookup resolves a numeric --cart value.
func (c *FlashCmd) lookup() (flash.Profile, error) {
	id, err := strconv.Atoi(c.Cart)
	if err != nil {
		return flash.Profile{}, fmt.Errorf("%w: %q", flash.ErrUnknownCart, c.Cart)
	}
	return flash.Lookup(id)
}

// largestCapacity returns the biggest image any cartridge on mode can hold.
func largestCapacity(mode cartridge.Mode) uint32 {
	var most uint32
	for _, p := range flash.All() {
		if p.Mode == mode && p.Capacity > most {
			most = p.Capacity
		}
	}
	return most
}

// preflight rejects images that cannot be written before the reader is
// opened. A numeric --cart is resolved here and returned; auto detection
// returns nil and is checked against the largest cartridge on the bus.
func (c *FlashCmd) preflight(image []byte) (*flash.Profile, error) {
	if len(image) == 0 {
		return nil, flash.ErrEmptyImage
	}

	if c.Cart == "auto" {
		mode := modeFor(c.ROM)
		if most := largestCapacity(mode); uint64(len(image)) > uint64(most) {
			return nil, fmt.Errorf("%w: %d bytes, no %s cartridge holds more than %d", flash.ErrFileTooLarge, len(image), mode, most)
		}
		return nil, nil
	}

	p, err := c.lookup()
	if err != nil {
		return nil, err
	}
	if uint64(len(image)) > uint64(p.Capacity) {
		return nil, fmt.Errorf("%w: %d bytes, cartridge holds %d", flash.ErrFileTooLarge, len(image), p.Capacity)
	}
	if p.Layout == flash.LayoutBlockSelect && (c.Block < 0 || c.Block > 3) {
		return nil, fmt.Errorf("%w: %d", flash.ErrBlockOutOfRange, c.Block)
	}
	return &p, nil
}

// detect resolves --cart auto on a reader already set up for the image's bus.
func (c *FlashCmd) detect(g *Globals, h *device.Handle) (flash.Profile, error) {
	mode := modeFor(c.ROM)
	d, err := flash.Detect(h.Client(), mode)
	if err != nil {
		return flash.Profile{}, fmt.Errorf("%w; pass --cart with the cartridge type", err)
	}
	if d.Profile != nil {
		g.log.Infof("chip %s answered %s, using %s", hexID(d.ID), d.Method, d.Profile)
		return *d.Profile, nil
	}

	id := genericGB
	if mode == cartridge.ModeGBA {
		id = genericGBA
	}
	g.log.Warnf("chip %s answered %s but matches no known cartridge, using generic profile", hexID(d.ID), d.Method)
	return flash.Lookup(id)
}

// Run executes the flash command.
func (c *FlashCmd) Run(g *Globals) error {
	image, err := romfile.Load(c.ROM)
	if err != nil {
		return fmt.Errorf("failed to read ROM: %w", err)
	}

	chosen, err := c.preflight(image)
	if err != nil {
		return err
	}

	var mode cartridge.Mode
	if chosen == nil {
		mode = modeFor(c.ROM)
	}
	h, err := g.open(mode, c.Force5V)
	if err != nil {
		return err
	}
	defer h.Close()

	var p flash.Profile
	if chosen != nil {
		p = *chosen
	} else if p, err = c.detect(g, h); err != nil {
		return err
	}

	fmt.Printf("Programming %s with %s (%d bytes)\n", p, filepath.Base(c.ROM), len(image))
	res, err := flash.New(h).Program(g.ctx, p, image, flash.Options{
		Force5V: c.Force5V,
		Block:   c.Block,
		Verify:  c.Verify,
		Warn: func(err error) bool {
			g.log.Warnf("%v", err)
			if !c.Force && errors.Is(err, flash.ErrChipIDMismatch) {
				g.log.Errorf("pass --force to program anyway")
				return false
			}
			return true
		},
		Progress: progress("Writing"),
	})
	if err != nil {
		if errors.Is(err, flash.ErrEraseTimeout) || errors.Is(err, flash.ErrSectorEraseTimeout) {
			return fmt.Errorf("%w (reseat the cartridge and try again)", err)
		}
		return err
	}

	fmt.Printf("Wrote %d bytes, %d erase(s), chip ID %s, xxh64 %016x\n", res.Written, res.Erases, hexID(res.ChipID), res.Digest)
	if res.Verified {
		fmt.Println("Verified OK")
	}
	return nil
}

// SaveFlags are shared by the save commands.
type SaveFlags struct {
	ModeFlag
	SaveType string `name:"save-type" help:"GBA save type (sram, sram512, sram1m, flash, flash1m, eeprom4k, eeprom64k). Flash saves are detected when omitted."`
}

func (f SaveFlags) saveType() (cartridge.SaveType, error) {
	if f.SaveType == "" {
		return cartridge.SaveNone, nil
	}
	return cartridge.ParseSaveType(f.SaveType)
}

// saveSession opens the reader and reads a header that describes the save.
func (g *Globals) saveSession(f SaveFlags, opts ...transfer.Option) (*device.Handle, *transfer.Engine, cartridge.Session, error) {
	save, err := f.saveType()
	if err != nil {
		return nil, nil, cartridge.Session{}, err
	}
	h, err := g.open(f.mode(), false)
	if err != nil {
		return nil, nil, cartridge.Session{}, err
	}
	e := transfer.New(h, opts...)
	s, err := g.readSession(e, f.mode(), save)
	if err != nil {
		_ = h.Close()
		return nil, nil, cartridge.Session{}, fmt.Errorf("failed to read cartridge header: %w", err)
	}
	if !s.HasSave() {
		_ = h.Close()
		if s.Mode == cartridge.ModeGB && s.SaveSize() > 0 {
			return nil, nil, cartridge.Session{}, fmt.Errorf("%w: %s save RAM has no battery", transfer.ErrNoSave, s.Type)
		}
		return nil, nil, cartridge.Session{}, transfer.ErrNoSave
	}
	return h, e, s, nil
}

// ReadSaveCmd backs up the save memory.
type ReadSaveCmd struct {
	SaveFlags
	Out string `arg:"" type:"path" help:"Output file."`
}

// Run executes the read-save command.
func (c *ReadSaveCmd) Run(g *Globals) error {
	h, e, s, err := g.saveSession(c.SaveFlags, transfer.WithProgress(progress("Reading")))
	if err != nil {
		return err
	}
	defer h.Close()

	var data []byte
	if s.Mode == cartridge.ModeGBA {
		data, err = e.ReadGBASave(g.ctx, s)
	} else {
		data, err = e.ReadGBRAM(g.ctx, s)
	}
	if err != nil {
		return fmt.Errorf("failed to read save: %w", err)
	}

	if err := romfile.Save(c.Out, data); err != nil {
		return fmt.Errorf("failed to write save: %w", err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), c.Out)
	return nil
}

// WriteSaveCmd restores the save memory.
type WriteSaveCmd struct {
	SaveFlags
	File string `arg:"" type:"existingfile" help:"Save file."`
}

// Run executes the write-save command.
func (c *WriteSaveCmd) Run(g *Globals) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read save: %w", err)
	}

	h, e, s, err := g.saveSession(c.SaveFlags, transfer.WithProgress(progress("Writing")))
	if err != nil {
		return err
	}
	defer h.Close()

	if s.Mode == cartridge.ModeGBA {
		err = e.WriteGBASave(g.ctx, s, data)
	} else {
		err = e.WriteGBRAM(g.ctx, s, data)
	}
	if err != nil {
		return fmt.Errorf("failed to write save: %w", err)
	}
	fmt.Printf("Restored %d bytes from %s\n", len(data), c.File)
	return nil
}

// DetectCmd probes the flash chip.
type DetectCmd struct {
	ModeFlag
}

// Run executes the detect command.
func (c *DetectCmd) Run(g *Globals) error {
	h, err := g.open(c.mode(), false)
	if err != nil {
		return err
	}
	defer h.Close()

	d, err := flash.Detect(h.Client(), c.mode())
	if err != nil {
		return err
	}
	fmt.Printf("Method:  %s\n", d.Method)
	fmt.Printf("Chip ID: %s\n", hexID(d.ID))
	if d.Profile != nil {
		fmt.Printf("Cart:    %s\n", d.Profile)
	} else {
		fmt.Printf("Cart:    unknown, try a generic type\n")
	}
	return nil
}

// CartsCmd lists the cartridge registry.
type CartsCmd struct {
	Mode string `help:"Only list cartridges for this bus." enum:"all,gb,gba" default:"all"`
}

// Run executes the carts command.
func (c *CartsCmd) Run() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tBUS\tSIZE\tVOLTAGE\tNAME")
	for _, p := range flash.All() {
		if c.Mode != "all" && !strings.EqualFold(p.Mode.String(), c.Mode) {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%d KiB\t%s\t%s\n", p.ID, p.Mode, p.Capacity/1024, p.Voltage, p.Name)
	}
	return w.Flush()
}
