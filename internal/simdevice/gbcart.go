package simdevice

import "github.com/richardwooding/gbxflash/internal/cartridge"

const block8M = 0x800000

// GBCart is a simulated GB cartridge: a mapper in front of ROM or flash,
// with optional save RAM.
//
// Memory Map:
// - 0x0000-0x3FFF: ROM bank 0 (fixed)
// - 0x4000-0x7FFF: switchable ROM bank
// - 0xA000-0xBFFF: switchable RAM bank, when enabled
type GBCart struct {
	Mapper cartridge.Mapper
	ROM    []byte
	RAM    []byte

	// Flash is the chip behind ROM. Nil means mask ROM, which ignores
	// programming.
	Flash *Chip

	ramEnabled bool
	romLow     uint8 // 0x2000-0x3FFF (MBC5: 0x2000-0x2FFF)
	romHigh    uint8 // MBC5 0x3000-0x3FFF, MBC1 0x4000-0x5FFF
	ramBank    uint8
	mode       uint8

	// Multi-game flash cartridges map one 8 MiB block at a time.
	blockBase   uint32
	mightyArmed bool
	smartArmed  bool
}

func (c *GBCart) powerOn() {
	c.romLow = 1
}

// bank returns the ROM bank visible at 0x4000-0x7FFF.
func (c *GBCart) bank() int {
	switch c.Mapper {
	case cartridge.MapperNone:
		return 1
	case cartridge.MapperMBC1:
		low := int(c.romLow & 0x1F)
		if low == 0 {
			low = 1
		}
		return int(c.romHigh&0x03)<<5 | low
	case cartridge.MapperMBC1Hudson:
		low := int(c.romLow & 0x1F)
		if low == 0 {
			low = 1
		}
		return int(c.romHigh&0x03)<<4 | low&0x0F
	case cartridge.MapperMBC2:
		if c.romLow&0x0F == 0 {
			return 1
		}
		return int(c.romLow & 0x0F)
	case cartridge.MapperMBC3:
		if c.romLow&0x7F == 0 {
			return 1
		}
		return int(c.romLow & 0x7F)
	default:
		return int(c.romHigh&0x01)<<8 | int(c.romLow)
	}
}

// flat returns the ROM offset a bus address maps to.
func (c *GBCart) flat(addr uint16) uint32 {
	if addr < 0x4000 {
		return c.blockBase + uint32(addr)
	}
	return c.blockBase + uint32(c.bank())*0x4000 + uint32(addr-0x4000)
}

func (c *GBCart) ramOffset(addr uint16) (int, bool) {
	if !c.ramEnabled || len(c.RAM) == 0 {
		return 0, false
	}
	bank := 0
	switch c.Mapper {
	case cartridge.MapperMBC1, cartridge.MapperMBC1Hudson:
		if c.mode == 1 {
			bank = int(c.ramBank & 0x03)
		}
	case cartridge.MapperMBC3:
		bank = int(c.ramBank & 0x03)
	case cartridge.MapperMBC5:
		bank = int(c.ramBank & 0x0F)
	}
	off := bank*0x2000 + int(addr-0xA000)
	if off >= len(c.RAM) {
		off %= len(c.RAM)
	}
	return off, true
}

func (c *GBCart) read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		flat := c.flat(addr)
		if c.Flash != nil {
			if v, ok := c.Flash.overlay(flat - c.blockBase); ok {
				return v
			}
		}
		if flat < uint32(len(c.ROM)) {
			return c.ROM[flat]
		}
		return 0xFF

	case addr >= 0xA000 && addr < 0xC000:
		if off, ok := c.ramOffset(addr); ok {
			return c.RAM[off]
		}
		return 0xFF

	default:
		return 0xFF
	}
}

func (c *GBCart) writeRAM(addr uint16, v byte) {
	if off, ok := c.ramOffset(addr); ok {
		c.RAM[off] = v
	}
}

// writeRegister handles a mapper register write.
func (c *GBCart) writeRegister(addr uint16, v uint8) {
	if c.Mapper == cartridge.MapperMBC2 && addr < 0x4000 {
		if addr&0x0100 != 0 {
			c.romLow = v
		} else {
			c.ramEnabled = v&0x0F == 0x0A
		}
		return
	}

	switch {
	case addr < 0x2000:
		c.ramEnabled = v&0x0F == 0x0A
		switch {
		case addr == 0x1000 && v == 0xD9:
			c.mightyArmed = true
		case addr == 0x0000 && v == 0xAA:
			c.mightyArmed = false
		case addr == 0x1000 && v == 0xA5:
			c.smartArmed = true
		case addr == 0x1000 && v == 0x98:
			c.smartArmed = false
		}

	case addr < 0x3000:
		c.romLow = v

	case addr < 0x4000:
		if c.Mapper == cartridge.MapperMBC5 {
			c.romHigh = v & 0x01
		} else {
			c.romLow = v
		}

	case addr < 0x6000:
		if c.Mapper == cartridge.MapperMBC1 || c.Mapper == cartridge.MapperMBC1Hudson {
			c.romHigh = v & 0x03
		}
		c.ramBank = v

	case addr < 0x8000:
		if c.mightyArmed && addr == 0x7000 && v >= 0xF0 {
			c.blockBase = uint32(v-0xF0) / 2 * block8M
			return
		}
		// GB Smart cartridges map the chip holding bank romLow.
		if c.smartArmed && addr == 0x7000 {
			if v == 0x23 {
				c.blockBase = uint32(c.romLow) * 0x4000
			}
			return
		}
		c.mode = v & 0x01
	}
}

// flashCommand handles a flash command write through the cartridge bus.
func (c *GBCart) flashCommand(addr uint32, v uint16) {
	if addr == 0x7002 && v >= 0x90 && v < 0x94 {
		c.blockBase = uint32(v-0x90) * block8M
		return
	}
	if c.Flash == nil {
		return
	}
	if c.blockBase >= uint32(len(c.ROM)) {
		return
	}
	flat := c.flat(uint16(addr))
	c.Flash.command(addr, flat-c.blockBase, v, c.ROM[c.blockBase:], false)
}

// program writes data through the flash chip at a bus address.
func (c *GBCart) program(addr uint16, data []byte) {
	if c.Flash == nil {
		return
	}
	for i, b := range data {
		programByte(c.ROM, c.flat(addr+uint16(i)), b)
	}
}
