// Package device opens the cartridge reader and answers questions about its
// hardware: firmware revision, PCB revision, the cart mode switch and which
// voltages it can supply.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/clock"
	"github.com/richardwooding/gbxflash/internal/logger"
	"github.com/richardwooding/gbxflash/internal/protocol"
	"github.com/richardwooding/gbxflash/internal/serial"
)

// PCB revisions reported for protocol.OpPCBVersion.
const (
	PCB10     = 1
	PCB11     = 2
	PCB13     = 4
	PCBGBXMAS = 90
	PCBMini   = 100
)

// MinFlashFirmware is the oldest firmware revision that can program flash cartridges.
const MinFlashFirmware = 9

// VoltageSettle is how long the cartridge needs after a voltage change.
const VoltageSettle = 500 * time.Millisecond

var (
	// ErrUnsupportedHardware indicates the reader's PCB or firmware cannot run the operation.
	ErrUnsupportedHardware = errors.New("unsupported hardware revision")

	// ErrVoltageIncompatible indicates the reader cannot supply the voltage a cartridge needs.
	ErrVoltageIncompatible = errors.New("voltage incompatible")
)

// Voltage is a cartridge supply voltage requirement.
type Voltage int

// Voltages.
const (
	VoltageAny Voltage = iota
	Voltage3V3
	Voltage5V
)

func (v Voltage) String() string {
	switch v {
	case Voltage3V3:
		return "3.3V"
	case Voltage5V:
		return "5V"
	default:
		return "any"
	}
}

// Info describes the connected reader.
type Info struct {
	Port     string
	Firmware int
	PCB      int
	CartMode int

	// FastRead is set when the reader supports 256-byte GBA read bursts.
	FastRead bool
}

// PCBName returns a printable PCB revision.
func (i Info) PCBName() string {
	switch i.PCB {
	case PCB10:
		return "v1.0"
	case PCB11:
		return "v1.1/v1.2"
	case PCB13:
		return "v1.3"
	case PCBGBXMAS:
		return "XMAS"
	case PCBMini:
		return "Mini"
	default:
		return fmt.Sprintf("unknown (%d)", i.PCB)
	}
}

// CanSwitchVoltage reports whether the reader sets the cartridge voltage in
// software. Older boards use a physical switch that also selects the mode.
func (i Info) CanSwitchVoltage() bool {
	return i.PCB == PCB13 || i.PCB == PCBGBXMAS
}

// Handle is an open reader.
type Handle struct {
	Info

	client *protocol.Client
	sleep  clock.Sleeper
	log    logger.Logger
}

// Option configures a Handle.
type Option func(*options)

type options struct {
	sleep clock.Sleeper
	log   logger.Logger
}

// WithSleeper replaces the real sleeper.
func WithSleeper(s clock.Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = logger.OrNull(l) }
}

// Open discovers or opens the reader described by cfg.
func Open(ctx context.Context, cfg serial.Config, opts ...Option) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probe := func(p serial.Port) bool {
		v, err := protocol.New(p).RequestValue(protocol.OpFirmwareVersion)
		return err == nil && v != 0
	}

	port, name, err := serial.Discover(cfg, probe)
	if err != nil {
		return nil, err
	}

	h, err := New(port, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	h.Port = name
	return h, nil
}

// New queries the reader on an already open port.
func New(port serial.Port, opts ...Option) (*Handle, error) {
	o := options{sleep: clock.Real{}, log: logger.NewNull()}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Handle{
		client: protocol.New(port, protocol.WithSleeper(o.sleep), protocol.WithLogger(o.log)),
		sleep:  o.sleep,
		log:    o.log,
	}

	// A stream left open by an interrupted session would swallow the queries.
	if err := h.client.StopRead(); err != nil {
		return nil, fmt.Errorf("reset stream: %w", err)
	}

	fw, err := h.client.RequestValue(protocol.OpFirmwareVersion)
	if err != nil {
		return nil, fmt.Errorf("read firmware version: %w", err)
	}
	pcb, err := h.client.RequestValue(protocol.OpPCBVersion)
	if err != nil {
		return nil, fmt.Errorf("read PCB version: %w", err)
	}
	mode, err := h.client.RequestValue(protocol.OpCartMode)
	if err != nil {
		return nil, fmt.Errorf("read cart mode: %w", err)
	}

	h.Firmware = int(fw)
	h.PCB = int(pcb)
	h.CartMode = int(mode)
	h.FastRead = h.PCB != PCB10

	h.log.Debugf("reader PCB %s firmware R%d cart mode %d", h.PCBName(), h.Firmware, h.CartMode)
	return h, nil
}

// Client returns the command client.
func (h *Handle) Client() *protocol.Client { return h.client }

// Sleeper returns the sleeper used for settle delays.
func (h *Handle) Sleeper() clock.Sleeper { return h.sleep }

// Logger returns the handle's logger.
func (h *Handle) Logger() logger.Logger { return h.log }

// Close releases the serial port.
func (h *Handle) Close() error {
	return h.client.Port().Close()
}

// SelectMode switches the reader to GB or GBA cartridge access.
func (h *Handle) SelectMode(mode cartridge.Mode) error {
	op := protocol.OpModeGB
	want := protocol.CartModeGB
	if mode == cartridge.ModeGBA {
		op = protocol.OpModeGBA
		want = protocol.CartModeGBA
	}

	if !h.CanSwitchVoltage() && h.PCB != PCB10 && h.CartMode != 0 && h.CartMode != want {
		return fmt.Errorf("%w: set the reader switch to %s", ErrVoltageIncompatible, mode)
	}

	if err := h.client.SetMode(op); err != nil {
		return err
	}
	h.CartMode = want
	return nil
}

// CheckFlashSupport verifies the reader can program flash cartridges that
// need at least minFirmware.
func (h *Handle) CheckFlashSupport(minFirmware int) error {
	if h.PCB == PCB10 {
		return fmt.Errorf("%w: PCB v1.0 cannot program flash cartridges", ErrUnsupportedHardware)
	}
	if minFirmware < MinFlashFirmware {
		minFirmware = MinFlashFirmware
	}
	if h.Firmware < minFirmware {
		return fmt.Errorf("%w: firmware R%d, need R%d or newer", ErrUnsupportedHardware, h.Firmware, minFirmware)
	}
	return nil
}

// ApplyVoltage makes sure the cartridge gets the voltage it needs. On boards
// with a software switch the voltage is set and allowed to settle. On boards
// with a physical switch a GB cartridge needing 3.3V cannot be powered in GB
// mode unless force5V accepts running it at 5V.
func (h *Handle) ApplyVoltage(mode cartridge.Mode, need Voltage, force5V bool) error {
	if force5V {
		need = Voltage5V
	}
	if need == VoltageAny {
		need = Voltage5V
		if mode == cartridge.ModeGBA {
			need = Voltage3V3
		}
	}

	if h.CanSwitchVoltage() {
		op := protocol.OpVoltage5V
		if need == Voltage3V3 {
			op = protocol.OpVoltage3V3
		}
		h.log.Debugf("setting cartridge voltage to %s", need)
		if err := h.client.SetMode(op); err != nil {
			return err
		}
		h.sleep.Sleep(VoltageSettle)
		return nil
	}

	if h.PCB == PCB11 && mode == cartridge.ModeGB && need == Voltage3V3 {
		return fmt.Errorf("%w: cartridge needs 3.3V, switch the reader to 3.3V manually or force 5V", ErrVoltageIncompatible)
	}
	return nil
}
