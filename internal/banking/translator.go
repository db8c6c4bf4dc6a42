// Package banking translates logical cartridge offsets into device addresses
// and the mapper register writes that make them visible.
//
// A GB cartridge shows bank 0 at 0x0000-0x3FFF and one switchable bank at
// 0x4000-0x7FFF. The Translator tracks which bank is mapped and emits a
// switch only when an access crosses into a different bank.
package banking

import (
	"errors"
	"fmt"

	"github.com/richardwooding/gbxflash/internal/cartridge"
)

// BankSize is the size of a switchable GB ROM bank.
const BankSize = 0x4000

// SwitchableBase is the first address of the switchable ROM window.
const SwitchableBase = 0x4000

// Mapper register addresses.
const (
	RegRAMEnable  = 0x0000
	RegROMBank    = 0x2000
	RegROMBankLow = 0x2100
	RegROMBankHi  = 0x3000
	RegUpperBank  = 0x4000
	RegMode       = 0x6000
)

// ErrBankOutOfRange indicates a bank the mapper cannot select.
var ErrBankOutOfRange = errors.New("bank out of range")

// RegisterWriter writes a value to a mapper register.
type RegisterWriter interface {
	SetBank(addr uint16, value uint8) error
}

// Write is a single mapper register write.
type Write struct {
	Addr  uint16
	Value uint8
}

// State is the bank switching state the translator believes the cartridge
// is in. Negative values mean unknown.
type State struct {
	Bank    int
	HighBit int
}

// unknownState is the state after power on or after an out-of-band write.
var unknownState = State{Bank: -1, HighBit: -1}

// Translator maps logical ROM offsets to device addresses for one mapper.
type Translator struct {
	mapper     cartridge.Mapper
	w          RegisterWriter
	state      State
	highAlways bool
	switches   int
}

// Option configures a Translator.
type Option func(*Translator)

// WithHighBitAlways writes the MBC5 high bank bit on every switch instead of
// only when it changes. Some flash cartridges latch it unreliably.
func WithHighBitAlways() Option {
	return func(t *Translator) { t.highAlways = true }
}

// NewTranslator returns a translator writing registers through w.
func NewTranslator(m cartridge.Mapper, w RegisterWriter, opts ...Option) *Translator {
	t := &Translator{mapper: m, w: w, state: unknownState}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current bank switching state.
func (t *Translator) State() State { return t.state }

// Switches returns how many bank switches have been emitted.
func (t *Translator) Switches() int { return t.switches }

// Forget marks the mapped bank as unknown, e.g. after writes that bypass the
// translator.
func (t *Translator) Forget() { t.state = unknownState }

// SwitchWrites returns the register writes that map bank into the
// switchable window, given the current state.
func (t *Translator) SwitchWrites(bank int) ([]Write, error) {
	switch t.mapper {
	case cartridge.MapperNone:
		if bank > 1 {
			return nil, fmt.Errorf("%w: bank %d without a mapper", ErrBankOutOfRange, bank)
		}
		return nil, nil

	case cartridge.MapperMBC1:
		if bank > 0x7F {
			return nil, fmt.Errorf("%w: MBC1 bank %d", ErrBankOutOfRange, bank)
		}
		return []Write{
			{RegMode, 0},
			{RegUpperBank, uint8(bank >> 5)},
			{RegROMBank, uint8(bank & 0x1F)},
		}, nil

	case cartridge.MapperMBC1Hudson:
		if bank > 0x3F {
			return nil, fmt.Errorf("%w: MBC1 multicart bank %d", ErrBankOutOfRange, bank)
		}
		low := uint8(bank & 0x1F)
		if bank >= 10 {
			low |= 0x10
		}
		return []Write{
			{RegUpperBank, uint8(bank >> 4)},
			{RegROMBank, low},
		}, nil

	default:
		if bank > 0x1FF {
			return nil, fmt.Errorf("%w: bank %d", ErrBankOutOfRange, bank)
		}
		writes := []Write{{RegROMBankLow, uint8(bank & 0xFF)}}
		high := bank >> 8
		if t.highAlways || (high == 1 && t.state.HighBit != 1) || (high == 0 && t.state.HighBit == 1) {
			writes = append(writes, Write{RegROMBankHi, uint8(high)})
		}
		return writes, nil
	}
}

// Select maps bank into the switchable window unless it already is.
func (t *Translator) Select(bank int) error {
	if bank == t.state.Bank {
		return nil
	}

	writes, err := t.SwitchWrites(bank)
	if err != nil {
		return err
	}
	for _, w := range writes {
		if err := t.w.SetBank(w.Addr, w.Value); err != nil {
			t.Forget()
			return fmt.Errorf("select bank %d: %w", bank, err)
		}
		if w.Addr == RegROMBankHi {
			t.state.HighBit = int(w.Value)
		}
	}

	t.state.Bank = bank
	t.switches++
	return nil
}

// Locate returns the device address of a logical ROM offset, switching banks
// first when the offset lies in a bank that is not mapped. Bank 0 is read
// through the fixed window and never switched.
func (t *Translator) Locate(offset uint32) (uint16, error) {
	bank := int(offset / BankSize)
	if bank == 0 {
		return uint16(offset), nil
	}
	if err := t.Select(bank); err != nil {
		return 0, err
	}
	return uint16(SwitchableBase + offset%BankSize), nil
}

// LocateSwitchable is like Locate but always uses the switchable window,
// selecting bank 0 there when needed. Flash cartridges that program every
// bank through 0x4000 use this.
func (t *Translator) LocateSwitchable(offset uint32) (uint16, error) {
	bank := int(offset / BankSize)
	if err := t.Select(bank); err != nil {
		return 0, err
	}
	return uint16(SwitchableBase + offset%BankSize), nil
}

// WriteAll issues writes in order, bypassing bank tracking.
func WriteAll(w RegisterWriter, writes []Write) error {
	for _, wr := range writes {
		if err := w.SetBank(wr.Addr, wr.Value); err != nil {
			return fmt.Errorf("register 0x%04X <- 0x%02X: %w", wr.Addr, wr.Value, err)
		}
	}
	return nil
}

// WordAddress converts a GBA byte offset into the 16-bit word address the
// cartridge bus uses.
func WordAddress(offset uint32) uint32 {
	return offset / 2
}
