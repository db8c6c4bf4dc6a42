package cartridge

import (
	"errors"
	"fmt"
)

// Mode selects the cartridge bus the reader drives.
type Mode int

// Cartridge modes.
const (
	ModeGB Mode = iota + 1
	ModeGBA
)

func (m Mode) String() string {
	switch m {
	case ModeGB:
		return "GB"
	case ModeGBA:
		return "GBA"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// EEPROMSize is the address width class of a GBA EEPROM save chip.
type EEPROMSize int

// EEPROM size classes. The numeric value is what the firmware expects.
const (
	EEPROMNone   EEPROMSize = 0
	EEPROM4Kbit  EEPROMSize = 1 // 512 bytes, 6-bit addressing
	EEPROM64Kbit EEPROMSize = 2 // 8 KiB, 14-bit addressing
)

// Bytes returns the EEPROM capacity in bytes.
func (e EEPROMSize) Bytes() int {
	switch e {
	case EEPROM4Kbit:
		return 512
	case EEPROM64Kbit:
		return 8192
	default:
		return 0
	}
}

// SaveType identifies the save memory of a GBA cartridge.
type SaveType int

// GBA save types.
const (
	SaveNone      SaveType = iota
	SaveSRAM256K           // 32 KiB SRAM/FRAM
	SaveSRAM512K           // 64 KiB SRAM/FRAM
	SaveSRAM1M             // 128 KiB SRAM in two banks
	SaveFlash512K          // 64 KiB flash
	SaveFlash1M            // 128 KiB flash in two banks
	SaveEEPROM4K
	SaveEEPROM64K
)

var saveTypeNames = map[SaveType]string{
	SaveNone:      "none",
	SaveSRAM256K:  "sram",
	SaveSRAM512K:  "sram512",
	SaveSRAM1M:    "sram1m",
	SaveFlash512K: "flash",
	SaveFlash1M:   "flash1m",
	SaveEEPROM4K:  "eeprom4k",
	SaveEEPROM64K: "eeprom64k",
}

func (s SaveType) String() string {
	if name, ok := saveTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SaveType(%d)", int(s))
}

// ErrUnknownSaveType indicates a save type name that is not recognised.
var ErrUnknownSaveType = errors.New("unknown save type")

// ParseSaveType parses the names printed by SaveType.String.
func ParseSaveType(name string) (SaveType, error) {
	for t, n := range saveTypeNames {
		if n == name {
			return t, nil
		}
	}
	return SaveNone, fmt.Errorf("%w: %q", ErrUnknownSaveType, name)
}

// Bytes returns the save size in bytes.
func (s SaveType) Bytes() int {
	switch s {
	case SaveSRAM256K:
		return 0x8000
	case SaveSRAM512K, SaveFlash512K:
		return 0x10000
	case SaveSRAM1M, SaveFlash1M:
		return 0x20000
	case SaveEEPROM4K:
		return EEPROM4Kbit.Bytes()
	case SaveEEPROM64K:
		return EEPROM64Kbit.Bytes()
	default:
		return 0
	}
}

// EEPROM returns the EEPROM size class of the save type.
func (s SaveType) EEPROM() EEPROMSize {
	switch s {
	case SaveEEPROM4K:
		return EEPROM4Kbit
	case SaveEEPROM64K:
		return EEPROM64Kbit
	default:
		return EEPROMNone
	}
}

// IsFlash reports whether the save type is a flash chip.
func (s SaveType) IsFlash() bool {
	return s == SaveFlash512K || s == SaveFlash1M
}

// IsSRAM reports whether the save type is battery-backed SRAM or FRAM.
func (s SaveType) IsSRAM() bool {
	return s == SaveSRAM256K || s == SaveSRAM512K || s == SaveSRAM1M
}

// Session describes the inserted cartridge. It is built once from the header
// and never modified afterwards.
type Session struct {
	Mode     Mode
	Title    string
	GameCode string

	// GB only
	Type          CartridgeType
	Mapper        Mapper
	ROMBanks      int
	RAMBanks      int
	RAMEndAddress uint16
	// RAMSize is the save RAM size in bytes.
	RAMSize int
	LogoOK  bool

	// ROMSize is the ROM size in bytes.
	ROMSize int

	// GBA only
	Save   SaveType
	EEPROM EEPROMSize

	ChecksumOK bool
}

// NewGBSession builds a session from the first GBHeaderSize bytes of bank 0.
func NewGBSession(rom []byte) (Session, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return Session{}, fmt.Errorf("failed to parse header: %w", err)
	}

	title := h.GetTitle()
	return Session{
		Mode:          ModeGB,
		Title:         title,
		Type:          h.CartridgeType,
		Mapper:        MapperFor(h.CartridgeType, title),
		ROMBanks:      h.GetROMBanks(),
		ROMSize:       h.GetROMSizeBytes(),
		RAMBanks:      h.GetRAMBanks(),
		RAMEndAddress: h.GetRAMEndAddress(),
		RAMSize:       h.GetRAMSizeBytes(),
		LogoOK:        h.LogoOK(),
		ChecksumOK:    h.ChecksumOK,
	}, nil
}

// NewGBASession builds a session from the first GBAHeaderSize bytes of ROM.
// The ROM size and save type come from probing the cartridge.
func NewGBASession(rom []byte, romSize int, save SaveType) (Session, error) {
	h, err := ParseGBAHeader(rom)
	if err != nil {
		return Session{}, fmt.Errorf("failed to parse header: %w", err)
	}

	return Session{
		Mode:       ModeGBA,
		Title:      h.GetTitle(),
		GameCode:   h.GetGameCode(),
		ROMSize:    romSize,
		Save:       save,
		EEPROM:     save.EEPROM(),
		ChecksumOK: h.ChecksumOK,
	}, nil
}

// SaveSize returns the size of the cartridge's save memory in bytes.
func (s Session) SaveSize() int {
	if s.Mode == ModeGBA {
		return s.Save.Bytes()
	}
	return s.RAMSize
}

// HasSave reports whether the cartridge keeps a save worth backing up. GB
// save RAM without a battery loses its contents at power off.
func (s Session) HasSave() bool {
	if s.SaveSize() == 0 {
		return false
	}
	return s.Mode == ModeGBA || s.Type.HasBattery()
}
