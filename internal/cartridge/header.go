// Package cartridge models Game Boy and Game Boy Advance cartridge headers and
// the session parameters derived from them.
package cartridge

import (
	"bytes"
	"errors"
	"fmt"
)

// GBHeaderSize is the number of bytes from the start of bank 0 needed to parse a GB header.
const GBHeaderSize = 0x0150

// Header represents the Game Boy cartridge header (0x0100-0x014F).
type Header struct {
	// Nintendo logo (0x0104-0x0133). A mismatch usually means dirty contacts.
	Logo [48]byte

	// Title (0x0134-0x0143). Newer cartridges reuse the tail for the
	// manufacturer code and CGB flag.
	Title [16]byte

	// CGB flag (0x0143)
	CGBFlag byte

	// SGB flag (0x0146)
	SGBFlag byte

	// Cartridge type (0x0147)
	CartridgeType CartridgeType

	// ROM size (0x0148): 32 KiB << n
	ROMSize byte

	// RAM size (0x0149)
	RAMSize byte

	// Mask ROM version (0x014C)
	Version byte

	// Header checksum (0x014D)
	HeaderChecksum byte

	// Global checksum (0x014E-0x014F), big endian
	GlobalChecksum uint16

	// ChecksumOK is set when HeaderChecksum matches bytes 0x0134-0x014C.
	ChecksumOK bool
}

// nintendoLogo is the bitmap every licensed GB cartridge carries at 0x0104.
var nintendoLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B,
	0x03, 0x73, 0x00, 0x83, 0x00, 0x0C, 0x00, 0x0D,
	0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E,
	0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99,
	0xBB, 0xBB, 0x67, 0x63, 0x6E, 0x0E, 0xEC, 0xCC,
	0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

// NintendoLogo returns the expected header logo bitmap.
func NintendoLogo() [48]byte { return nintendoLogo }

// ErrHeaderTooShort indicates fewer bytes than a header occupies were supplied.
var ErrHeaderTooShort = errors.New("header data too short")

// ParseHeader parses the cartridge header from the first bytes of bank 0.
// A bad checksum is reported through ChecksumOK rather than as an error:
// a reader still has to dump cartridges with damaged headers.
func ParseHeader(rom []byte) (*Header, error) {
	if len(rom) < GBHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrHeaderTooShort, len(rom), GBHeaderSize)
	}

	h := &Header{
		CGBFlag:        rom[0x0143],
		SGBFlag:        rom[0x0146],
		CartridgeType:  CartridgeType(rom[0x0147]),
		ROMSize:        rom[0x0148],
		RAMSize:        rom[0x0149],
		Version:        rom[0x014C],
		HeaderChecksum: rom[0x014D],
		GlobalChecksum: uint16(rom[0x014E])<<8 | uint16(rom[0x014F]),
	}
	copy(h.Logo[:], rom[0x0104:0x0134])
	copy(h.Title[:], rom[0x0134:0x0144])
	h.ChecksumOK = HeaderChecksum(rom) == h.HeaderChecksum

	return h, nil
}

// HeaderChecksum computes the header checksum over 0x0134-0x014C:
// x = 0; for each byte: x = x - byte - 1.
func HeaderChecksum(rom []byte) byte {
	checksum := byte(0)
	for addr := 0x0134; addr <= 0x014C; addr++ {
		checksum = checksum - rom[addr] - 1
	}
	return checksum
}

// LogoOK reports whether the header carries the Nintendo logo.
func (h *Header) LogoOK() bool {
	return bytes.Equal(h.Logo[:], nintendoLogo[:])
}

// GetTitle returns the title up to the first NUL. The CGB flag byte is
// dropped for CGB titles.
func (h *Header) GetTitle() string {
	title := h.Title[:]
	if h.CGBFlag == 0x80 || h.CGBFlag == 0xC0 {
		title = title[:15]
	}
	if i := bytes.IndexByte(title, 0); i >= 0 {
		title = title[:i]
	}
	return string(title)
}

// GetROMBanks returns the number of 16 KiB ROM banks.
func (h *Header) GetROMBanks() int {
	switch {
	case h.ROMSize <= 0x08:
		return 2 << h.ROMSize
	case h.ROMSize == 0x52:
		return 72
	case h.ROMSize == 0x53:
		return 80
	case h.ROMSize == 0x54:
		return 96
	default:
		return 0
	}
}

// GetROMSizeBytes returns the total ROM size in bytes.
func (h *Header) GetROMSizeBytes() int {
	return h.GetROMBanks() * 0x4000
}

// GetRAMBanks returns the number of switchable RAM banks. MBC2 has a single
// bank of built-in RAM regardless of the RAM size byte.
func (h *Header) GetRAMBanks() int {
	if h.CartridgeType == TypeMBC2 || h.CartridgeType == TypeMBC2Battery {
		return 1
	}
	switch h.RAMSize {
	case 0x01, 0x02:
		return 1
	case 0x03:
		return 4
	case 0x04:
		return 16
	case 0x05:
		return 8
	default:
		return 0
	}
}

// GetRAMEndAddress returns the last byte address of a RAM bank in the
// 0xA000-0xBFFF window, or 0 without RAM.
func (h *Header) GetRAMEndAddress() uint16 {
	switch {
	case h.CartridgeType == TypeMBC2 || h.CartridgeType == TypeMBC2Battery:
		return 0xA1FF // 512 x 4 bits
	case h.RAMSize == 0x01:
		return 0xA7FF // 2 KiB
	case h.GetRAMBanks() > 0:
		return 0xBFFF
	default:
		return 0
	}
}

// GetRAMSizeBytes returns the total save RAM size in bytes.
func (h *Header) GetRAMSizeBytes() int {
	end := h.GetRAMEndAddress()
	if end == 0 {
		return 0
	}
	return h.GetRAMBanks() * (int(end) - 0xA000 + 1)
}
