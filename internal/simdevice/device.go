// Package simdevice simulates a GBxCart RW reader with a cartridge inserted.
// A Device implements serial.Port and answers the same command frames the
// real firmware does, so transfer and flashing code can be tested without
// hardware.
//
// The simulator expects each Write call to carry exactly one frame, which is
// how protocol.Client writes.
package simdevice

import (
	"bytes"
	"errors"
	"strconv"
	"sync"

	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/protocol"
	"github.com/richardwooding/gbxflash/internal/serial"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("simulated device closed")

// Event is one decoded frame received by the device.
type Event struct {
	Op    protocol.Opcode
	Addr  uint32
	Value uint32
	Len   int
}

// Config describes the simulated reader.
type Config struct {
	Firmware int
	PCB      int
	// CartMode is the reader switch position reported before any mode change.
	CartMode int

	GB  *GBCart
	GBA *GBACart

	// ShortReadAt truncates the Nth streamed chunk (1-based) to
	// ShortReadBytes bytes and ends the stream.
	ShortReadAt    int
	ShortReadBytes int

	// DropAckAt suppresses the acknowledgement of the Nth write frame.
	DropAckAt int
}

// Device is a simulated reader.
type Device struct {
	mu  sync.Mutex
	cfg Config

	out    bytes.Buffer
	closed bool

	mode       int
	voltage    protocol.Opcode
	addr       uint32
	streaming  protocol.ReadMode
	bankAddr   int
	eeprom     int
	programSeq []protocol.Command
	wePin      protocol.Opcode
	bank1      bool

	reads  int
	writes int
	events []Event
}

var _ serial.Port = (*Device)(nil)

// New returns a simulated reader.
func New(cfg Config) *Device {
	if cfg.GB != nil {
		cfg.GB.powerOn()
	}
	return &Device{cfg: cfg, mode: cfg.CartMode, bankAddr: -1}
}

// Events returns every frame received so far.
func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Count returns how many received frames used op.
func (d *Device) Count(op protocol.Opcode) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Op == op {
			n++
		}
	}
	return n
}

// Voltage returns the last voltage opcode received.
func (d *Device) Voltage() protocol.Opcode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voltage
}

// WEPin returns the last WE pin selection received.
func (d *Device) WEPin() protocol.Opcode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wePin
}

// ProgramMethod returns the last program-byte sequence received.
func (d *Device) ProgramMethod() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Command(nil), d.programSeq...)
}

// Write implements serial.Port.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	d.handle(p)
	return len(p), nil
}

// ReadExact implements serial.Port.
func (d *Device) ReadExact(n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.out.Len() < n {
		got := append([]byte(nil), d.out.Bytes()...)
		d.out.Reset()
		return got, &serial.PartialReadError{Want: n, Got: got}
	}
	return append([]byte(nil), d.out.Next(n)...), nil
}

// FlushInput implements serial.Port.
func (d *Device) FlushInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.Reset()
	return nil
}

// Close implements serial.Port.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) record(e Event) {
	d.events = append(d.events, e)
}

func (d *Device) ack() {
	d.writes++
	if d.writes == d.cfg.DropAckAt {
		return
	}
	d.out.WriteByte(protocol.Ack)
}

func (d *Device) handle(p []byte) {
	op := protocol.Opcode(p[0])

	if d.bankAddr >= 0 && op == protocol.OpSetBank {
		v, _ := strconv.ParseUint(string(bytes.TrimRight(p[1:], "\x00")), 10, 8)
		d.record(Event{Op: op, Addr: uint32(d.bankAddr), Value: uint32(v)})
		if d.cfg.GB != nil {
			d.cfg.GB.writeRegister(uint16(d.bankAddr), uint8(v))
		}
		d.bankAddr = -1
		return
	}

	if m, ok := protocol.WriteMethodFor(op); ok {
		d.record(Event{Op: op, Addr: d.addr, Len: len(p) - 1})
		d.write(m, p[1:])
		return
	}

	if m, ok := protocol.ReadModeFor(op); ok {
		d.record(Event{Op: op, Addr: d.addr})
		d.streaming = m
		d.emit()
		return
	}

	nums := parseNumbers(p[1:])
	switch op {
	case protocol.OpContinue:
		if d.streaming != 0 {
			d.emit()
		}
		return

	case protocol.OpStop:
		d.streaming = 0

	case protocol.OpFirmwareVersion:
		d.out.WriteByte(byte(d.cfg.Firmware))
	case protocol.OpPCBVersion:
		d.out.WriteByte(byte(d.cfg.PCB))
	case protocol.OpCartMode:
		d.out.WriteByte(byte(d.mode))

	case protocol.OpModeGB:
		d.mode = protocol.CartModeGB
	case protocol.OpModeGBA:
		d.mode = protocol.CartModeGBA
	case protocol.OpVoltage3V3, protocol.OpVoltage5V:
		d.voltage = op

	case protocol.OpSetStartAddress:
		d.streaming = 0
		d.addr = num(nums, 0)
		d.record(Event{Op: op, Addr: d.addr})
		return

	case protocol.OpSetBank:
		d.bankAddr = int(num(nums, 0))
		return

	case protocol.OpGBFlashCommand, protocol.OpGBAFlashCommand:
		addr, v := num(nums, 0), num(nums, 1)
		d.record(Event{Op: op, Addr: addr, Value: v})
		if op == protocol.OpGBFlashCommand && d.cfg.GB != nil {
			d.cfg.GB.flashCommand(addr, uint16(v))
		}
		if op == protocol.OpGBAFlashCommand && d.cfg.GBA != nil {
			d.cfg.GBA.flashCommand(addr, uint16(v))
		}
		d.ack()
		return

	case protocol.OpGBFlashProgramMethod:
		d.programSeq = d.programSeq[:0]
		for i := 0; i+1 < len(nums); i += 2 {
			d.programSeq = append(d.programSeq, protocol.Command{Addr: nums[i], Data: uint16(nums[i+1])})
		}

	case protocol.OpGBFlashWEPin:
		if len(p) > 1 {
			d.wePin = protocol.Opcode(p[1])
		}

	case protocol.OpGBFlashBank1Commands:
		d.bank1 = true

	case protocol.OpGBASetEEPROMSize:
		d.eeprom = int(num(nums, 0))

	case protocol.OpGBAFlashSaveID:
		if d.cfg.GBA != nil && d.cfg.GBA.Save.IsFlash() {
			d.out.Write(d.cfg.GBA.SaveID[:])
		} else {
			d.out.Write([]byte{0xFF, 0xFF})
		}

	case protocol.OpGBAFlashSetBank:
		if d.cfg.GBA != nil {
			d.cfg.GBA.saveBank = int(num(nums, 0))
		}

	case protocol.OpGBAFlash4KErase:
		sector := num(nums, 0)
		d.record(Event{Op: op, Value: sector})
		if d.cfg.GBA != nil {
			d.cfg.GBA.eraseSaveSector(sector)
		}
		d.ack()
		return
	}

	d.record(Event{Op: op})
}

// write handles a payload write frame at the current address.
func (d *Device) write(m protocol.WriteMethod, data []byte) {
	switch m {
	case protocol.WriteGBRAM64:
		if gb := d.cfg.GB; gb != nil {
			for i, b := range data {
				gb.writeRAM(uint16(d.addr)+uint16(i), b)
			}
		}
		d.addr += uint32(len(data))

	case protocol.WriteGBASRAM64, protocol.WriteGBAFlashSaveAtmel128:
		if gba := d.cfg.GBA; gba != nil {
			gba.writeSave(d.addr, data, false)
		}
		d.addr += uint32(len(data))

	case protocol.WriteGBAFlashSave64:
		if gba := d.cfg.GBA; gba != nil {
			gba.writeSave(d.addr, data, true)
		}
		d.addr += uint32(len(data))

	case protocol.WriteGBAEEPROM8:
		if gba := d.cfg.GBA; gba != nil {
			gba.writeSave(d.addr, data, false)
		}
		d.addr += uint32(len(data))

	case protocol.WriteGB64, protocol.WriteGB64PulseReset, protocol.WriteGB256,
		protocol.WriteGBBuffered32, protocol.WriteGBIntelBuffered32:
		if gb := d.cfg.GB; gb != nil && d.gbWriteAccepted(m) {
			gb.program(uint16(d.addr), data)
		}
		d.addr += uint32(len(data))

	default:
		if gba := d.cfg.GBA; gba != nil && d.gbaWriteAccepted(m) {
			gba.program(d.addr*2, data)
		}
		d.addr += uint32(len(data) / 2)
	}
	d.ack()
}

// gbWriteAccepted reports whether the firmware would program the chip with
// the configured method: JEDEC chips need the matching program sequence,
// Intel chips the Intel write opcode.
func (d *Device) gbWriteAccepted(m protocol.WriteMethod) bool {
	chip := d.cfg.GB.Flash
	if chip == nil {
		return false
	}
	if chip.Family == Intel {
		return m == protocol.WriteGBIntelBuffered32
	}
	if m == protocol.WriteGBIntelBuffered32 || len(d.programSeq) != 3 {
		return false
	}
	return d.programSeq[0].Addr == chip.Unlock1 &&
		d.programSeq[1].Addr == chip.Unlock2 &&
		d.programSeq[0].Data == chip.data(0xAA)
}

func (d *Device) gbaWriteAccepted(m protocol.WriteMethod) bool {
	chip := d.cfg.GBA.Flash
	if chip == nil {
		return false
	}
	switch m {
	case protocol.WriteGBA256:
		return chip.Family == JEDEC && !chip.Swapped
	case protocol.WriteGBA256SwappedD0D1:
		return chip.Family == JEDEC && chip.Swapped
	default:
		return chip.Family == Intel
	}
}

// emit streams the next chunk of the current read mode.
func (d *Device) emit() {
	m := d.streaming
	size := m.ChunkSize()
	chunk := make([]byte, size)

	switch m {
	case protocol.ReadGB:
		if gb := d.cfg.GB; gb != nil {
			for i := range chunk {
				chunk[i] = gb.read(uint16(d.addr) + uint16(i))
			}
			if gb.Flash != nil {
				gb.Flash.polled()
			}
		}
		d.addr += uint32(size)

	case protocol.ReadGBA, protocol.ReadGBA256:
		if gba := d.cfg.GBA; gba != nil {
			for i := range chunk {
				chunk[i] = gba.readROM(d.addr*2 + uint32(i))
			}
			if gba.Flash != nil {
				gba.Flash.polled()
			}
		}
		d.addr += uint32(size / 2)

	case protocol.ReadGBASRAM, protocol.ReadGBAEEPROM:
		if gba := d.cfg.GBA; gba != nil {
			for i := range chunk {
				chunk[i] = gba.readSave(d.addr + uint32(i))
			}
		}
		d.addr += uint32(size)
	}

	d.reads++
	if d.reads == d.cfg.ShortReadAt {
		d.out.Write(chunk[:d.cfg.ShortReadBytes])
		d.streaming = 0
		return
	}
	d.out.Write(chunk)
}

// parseNumbers splits NUL terminated hex fields.
func parseNumbers(b []byte) []uint32 {
	var out []uint32
	for _, field := range bytes.Split(b, []byte{0}) {
		if len(field) == 0 {
			continue
		}
		v, err := strconv.ParseUint(string(field), 16, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(v))
	}
	return out
}

func num(nums []uint32, i int) uint32 {
	if i < len(nums) {
		return nums[i]
	}
	return 0
}

// Mode returns the cartridge mode the device is in.
func (d *Device) Mode() cartridge.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == protocol.CartModeGBA {
		return cartridge.ModeGBA
	}
	return cartridge.ModeGB
}
