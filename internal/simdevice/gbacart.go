package simdevice

import "github.com/richardwooding/gbxflash/internal/cartridge"

// sramBankRegister selects the upper 64 KiB of 1 Mbit SRAM.
const sramBankRegister = 0x1000000

// GBACart is a simulated GBA cartridge.
type GBACart struct {
	// ROM reads beyond its length return open bus: the low 16 bits of the
	// word address.
	ROM   []byte
	Flash *Chip

	Save    cartridge.SaveType
	SaveMem []byte
	// SaveID is returned for flash save ID requests.
	SaveID [2]byte

	saveBank int
}

func (c *GBACart) readROM(off uint32) byte {
	if c.Flash != nil {
		if v, ok := c.Flash.overlay(off); ok {
			return v
		}
	}
	if off < uint32(len(c.ROM)) {
		return c.ROM[off]
	}
	word := off / 2
	if off%2 == 0 {
		return byte(word)
	}
	return byte(word >> 8)
}

func (c *GBACart) saveOffset(addr uint32) int {
	off := int(addr)
	if c.Save == cartridge.SaveFlash1M || c.Save == cartridge.SaveSRAM1M {
		off += c.saveBank * 0x10000
	}
	return off
}

func (c *GBACart) readSave(addr uint32) byte {
	off := c.saveOffset(addr)
	if off < len(c.SaveMem) {
		return c.SaveMem[off]
	}
	return 0xFF
}

func (c *GBACart) writeSave(addr uint32, data []byte, program bool) {
	off := c.saveOffset(addr)
	for i, b := range data {
		if off+i >= len(c.SaveMem) {
			return
		}
		if program {
			c.SaveMem[off+i] &= b
		} else {
			c.SaveMem[off+i] = b
		}
	}
}

func (c *GBACart) eraseSaveSector(sector uint32) {
	off := c.saveOffset(sector * 0x1000)
	for i := off; i < off+0x1000 && i < len(c.SaveMem); i++ {
		c.SaveMem[i] = 0xFF
	}
}

func (c *GBACart) flashCommand(addr uint32, v uint16) {
	if addr == sramBankRegister {
		c.saveBank = int(v & 1)
		return
	}
	if c.Flash != nil {
		c.Flash.command(addr, addr, v, c.ROM, true)
	}
}

func (c *GBACart) program(off uint32, data []byte) {
	if c.Flash == nil {
		return
	}
	for i, b := range data {
		programByte(c.ROM, off+uint32(i), b)
	}
}
