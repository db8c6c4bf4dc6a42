package banking

import "github.com/richardwooding/gbxflash/internal/cartridge"

// RAM window on GB cartridges.
const (
	RAMBase     = 0xA000
	RAMBankSize = 0x2000
)

// EnableRAMWrites returns the writes that enable save RAM. MBC1 also needs
// its RAM banking mode for banks above 0.
func EnableRAMWrites(m cartridge.Mapper) []Write {
	var writes []Write
	if m == cartridge.MapperMBC1 || m == cartridge.MapperMBC1Hudson {
		writes = append(writes, Write{RegMode, 1})
	}
	return append(writes, Write{RegRAMEnable, 0x0A})
}

// DisableRAMWrites returns the writes that protect save RAM again.
func DisableRAMWrites() []Write {
	return []Write{{RegRAMEnable, 0x00}}
}

// RAMBankWrite returns the write that maps RAM bank into 0xA000-0xBFFF.
func RAMBankWrite(bank int) Write {
	return Write{RegUpperBank, uint8(bank)}
}

// MightyBlockWrites returns the writes that map an 8 MiB block on
// multi-game MBC5 flash cartridges. Bank tracking must be reset afterwards.
func MightyBlockWrites(block int) []Write {
	return []Write{
		{RegROMBankLow, 0x00},
		{RegROMBankHi, 0x00},
		{0x1000, 0xD9},
		{0x7000, uint8(0xF0 + 2*block)},
		{0x6000, 0x00},
		{0x0000, 0xAA},
	}
}
