package cartridge

import (
	"bytes"
	"fmt"
)

// GBAHeaderSize is the number of bytes needed to parse a GBA header.
const GBAHeaderSize = 0xC0

// GBAHeader is the Game Boy Advance cartridge header (0x00-0xBF).
type GBAHeader struct {
	Title      [12]byte // 0xA0-0xAB
	GameCode   [4]byte  // 0xAC-0xAF
	MakerCode  [2]byte  // 0xB0-0xB1
	FixedValue byte     // 0xB2, always 0x96
	Version    byte     // 0xBC
	Complement byte     // 0xBD

	ChecksumOK bool
}

// ParseGBAHeader parses the header from the first 0xC0 bytes of ROM.
func ParseGBAHeader(rom []byte) (*GBAHeader, error) {
	if len(rom) < GBAHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrHeaderTooShort, len(rom), GBAHeaderSize)
	}

	h := &GBAHeader{
		FixedValue: rom[0xB2],
		Version:    rom[0xBC],
		Complement: rom[0xBD],
	}
	copy(h.Title[:], rom[0xA0:0xAC])
	copy(h.GameCode[:], rom[0xAC:0xB0])
	copy(h.MakerCode[:], rom[0xB0:0xB2])
	h.ChecksumOK = GBAComplement(rom) == h.Complement

	return h, nil
}

// GBAComplement computes the header complement check over 0xA0-0xBC.
func GBAComplement(rom []byte) byte {
	sum := byte(0)
	for addr := 0xA0; addr <= 0xBC; addr++ {
		sum -= rom[addr]
	}
	return sum - 0x19
}

// GetTitle returns the title up to the first NUL.
func (h *GBAHeader) GetTitle() string {
	title := h.Title[:]
	if i := bytes.IndexByte(title, 0); i >= 0 {
		title = title[:i]
	}
	return string(title)
}

// GetGameCode returns the four character game code, e.g. "AGBE".
func (h *GBAHeader) GetGameCode() string {
	return string(bytes.TrimRight(h.GameCode[:], "\x00"))
}
