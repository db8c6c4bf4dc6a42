package cartridge

import (
	"errors"
	"testing"
)

func TestNewGBSession(t *testing.T) {
	rom := make([]byte, GBHeaderSize)
	setupHeader(rom, "MOMOCOL", TypeMBC1RAMBattery, 0x04, 0x03)

	s, err := NewGBSession(rom)
	if err != nil {
		t.Fatalf("NewGBSession() error = %v", err)
	}

	if s.Mode != ModeGB {
		t.Errorf("Mode = %v, want %v", s.Mode, ModeGB)
	}
	if s.Mapper != MapperMBC1Hudson {
		t.Errorf("Mapper = %v, want %v", s.Mapper, MapperMBC1Hudson)
	}
	if s.ROMBanks != 32 {
		t.Errorf("ROMBanks = %d, want 32", s.ROMBanks)
	}
	if s.ROMSize != 512*1024 {
		t.Errorf("ROMSize = %d, want %d", s.ROMSize, 512*1024)
	}
	if s.RAMBanks != 4 || s.RAMEndAddress != 0xBFFF {
		t.Errorf("RAM = %d banks to 0x%04X, want 4 banks to 0xBFFF", s.RAMBanks, s.RAMEndAddress)
	}
	if s.SaveSize() != 32768 {
		t.Errorf("SaveSize() = %d, want 32768", s.SaveSize())
	}
	if !s.ChecksumOK || !s.LogoOK {
		t.Errorf("ChecksumOK = %v, LogoOK = %v, want both true", s.ChecksumOK, s.LogoOK)
	}
}

func TestHasSave(t *testing.T) {
	tests := []struct {
		name     string
		cartType CartridgeType
		ramSize  byte
		size     int
		want     bool
	}{
		{"MBC1 battery RAM", TypeMBC1RAMBattery, 0x03, 0x8000, true},
		{"MBC1 RAM without battery", TypeMBC1RAM, 0x03, 0x8000, false},
		{"MBC2 battery", TypeMBC2Battery, 0x00, 512, true},
		{"MBC3 timer without RAM", TypeMBC3TimerBattery, 0x00, 0, false},
		{"MBC5 2 KiB battery RAM", TypeMBC5RAMBattery, 0x01, 0x800, true},
		{"pocket camera", TypePocketCamera, 0x04, 0x20000, true},
		{"ROM only", TypeROMOnly, 0x00, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rom := make([]byte, GBHeaderSize)
			setupHeader(rom, "SAVE", tt.cartType, 0x01, tt.ramSize)
			s, err := NewGBSession(rom)
			if err != nil {
				t.Fatalf("NewGBSession() error = %v", err)
			}
			if got := s.SaveSize(); got != tt.size {
				t.Errorf("SaveSize() = %d, want %d", got, tt.size)
			}
			if got := s.HasSave(); got != tt.want {
				t.Errorf("HasSave() = %v, want %v", got, tt.want)
			}
		})
	}

	if !(Session{Mode: ModeGBA, Save: SaveFlash512K}).HasSave() {
		t.Error("HasSave() = false for a GBA flash save, want true")
	}
	if (Session{Mode: ModeGBA}).HasSave() {
		t.Error("HasSave() = true for a GBA cartridge without save, want false")
	}
}

func TestNewGBSessionTooShort(t *testing.T) {
	_, err := NewGBSession(make([]byte, 0x40))
	if !errors.Is(err, ErrHeaderTooShort) {
		t.Errorf("NewGBSession() error = %v, want %v", err, ErrHeaderTooShort)
	}
}

func setupGBAHeader(rom []byte, title, code string) {
	copy(rom[0xA0:0xAC], make([]byte, 12))
	copy(rom[0xA0:], title)
	copy(rom[0xAC:], code)
	copy(rom[0xB0:], "01")
	rom[0xB2] = 0x96
	rom[0xBD] = GBAComplement(rom)
}

func TestNewGBASession(t *testing.T) {
	rom := make([]byte, GBAHeaderSize)
	setupGBAHeader(rom, "POKEMON EMER", "BPEE")

	s, err := NewGBASession(rom, 16<<20, SaveFlash1M)
	if err != nil {
		t.Fatalf("NewGBASession() error = %v", err)
	}

	if s.Title != "POKEMON EMER" {
		t.Errorf("Title = %q, want %q", s.Title, "POKEMON EMER")
	}
	if s.GameCode != "BPEE" {
		t.Errorf("GameCode = %q, want %q", s.GameCode, "BPEE")
	}
	if !s.ChecksumOK {
		t.Error("ChecksumOK = false, want true")
	}
	if s.SaveSize() != 0x20000 {
		t.Errorf("SaveSize() = 0x%X, want 0x20000", s.SaveSize())
	}
	if s.EEPROM != EEPROMNone {
		t.Errorf("EEPROM = %v, want none", s.EEPROM)
	}
}

func TestSaveTypes(t *testing.T) {
	tests := []struct {
		save   SaveType
		bytes  int
		eeprom EEPROMSize
		flash  bool
		sram   bool
	}{
		{SaveNone, 0, EEPROMNone, false, false},
		{SaveSRAM256K, 0x8000, EEPROMNone, false, true},
		{SaveSRAM1M, 0x20000, EEPROMNone, false, true},
		{SaveFlash512K, 0x10000, EEPROMNone, true, false},
		{SaveFlash1M, 0x20000, EEPROMNone, true, false},
		{SaveEEPROM4K, 512, EEPROM4Kbit, false, false},
		{SaveEEPROM64K, 8192, EEPROM64Kbit, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.save.String(), func(t *testing.T) {
			if got := tt.save.Bytes(); got != tt.bytes {
				t.Errorf("Bytes() = %d, want %d", got, tt.bytes)
			}
			if got := tt.save.EEPROM(); got != tt.eeprom {
				t.Errorf("EEPROM() = %v, want %v", got, tt.eeprom)
			}
			if got := tt.save.IsFlash(); got != tt.flash {
				t.Errorf("IsFlash() = %v, want %v", got, tt.flash)
			}
			if got := tt.save.IsSRAM(); got != tt.sram {
				t.Errorf("IsSRAM() = %v, want %v", got, tt.sram)
			}

			back, err := ParseSaveType(tt.save.String())
			if err != nil || back != tt.save {
				t.Errorf("ParseSaveType(%q) = %v, %v", tt.save.String(), back, err)
			}
		})
	}

	if _, err := ParseSaveType("tape"); !errors.Is(err, ErrUnknownSaveType) {
		t.Errorf("ParseSaveType(tape) error = %v, want %v", err, ErrUnknownSaveType)
	}
}
