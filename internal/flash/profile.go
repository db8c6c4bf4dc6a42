// Package flash programs flash cartridges. A Profile describes one
// cartridge type: its chip command set, write opcode, erase strategy and
// the quirks of its board. Engine.Program runs the whole sequence of
// preparing the reader, checking the chip, erasing, writing and verifying.
package flash

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/richardwooding/gbxflash/internal/banking"
	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/device"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

// ErrUnknownCart indicates a cartridge type number not in the registry.
var ErrUnknownCart = errors.New("unknown flash cartridge type")

// Algorithm is the family of erase and status commands a chip uses.
type Algorithm int

// Algorithms.
const (
	AlgoJEDEC Algorithm = iota
	AlgoIntel
	AlgoIntelInterleaved
	AlgoSharp
)

func (a Algorithm) String() string {
	switch a {
	case AlgoIntel:
		return "Intel"
	case AlgoIntelInterleaved:
		return "Intel interleaved"
	case AlgoSharp:
		return "Sharp"
	default:
		return "JEDEC"
	}
}

// Layout is how a cartridge exposes its flash to the bus while programming.
type Layout int

// Layouts.
const (
	// LayoutFlat is a 32 KiB cartridge without a mapper.
	LayoutFlat Layout = iota
	// LayoutBanked programs bank 0 at 0x0000 and later banks through 0x4000.
	LayoutBanked
	// LayoutCPLD programs every bank through 0x4000 and reasserts the bank
	// after each chunk because the write pulse resets the CPLD.
	LayoutCPLD
	// LayoutMultiChip spreads the image over 512 KiB chips selected one at a time.
	LayoutMultiChip
	// LayoutMighty maps one 8 MiB block at a time through mapper registers.
	LayoutMighty
	// LayoutBlockSelect writes one user-chosen 8 MiB block selected by flash commands.
	LayoutBlockSelect
	// LayoutGBA is the linear GBA ROM bus.
	LayoutGBA
)

var layoutNames = map[Layout]string{
	LayoutFlat:        "flat",
	LayoutBanked:      "banked",
	LayoutCPLD:        "CPLD",
	LayoutMultiChip:   "multi-chip",
	LayoutMighty:      "8 MiB blocks",
	LayoutBlockSelect: "selectable 8 MiB block",
	LayoutGBA:         "GBA",
}

func (l Layout) String() string { return layoutNames[l] }

// EraseMode is how the chip is cleared before programming.
type EraseMode int

// Erase modes.
const (
	EraseChip EraseMode = iota
	EraseSector
	// EraseNone leaves erasing to the cartridge, which erases sectors as
	// they are first written.
	EraseNone
)

func (e EraseMode) String() string {
	switch e {
	case EraseSector:
		return "sector"
	case EraseNone:
		return "none"
	default:
		return "chip"
	}
}

// Sector starts a run of equally sized erase sectors. A sector map is a list
// of runs in ascending Start order; each run lasts until the next one starts.
type Sector struct {
	Start uint32
	Size  uint32
}

// SectorVariant is a sector map used when the chip reports a given ID.
type SectorVariant struct {
	ID      []byte
	Sectors []Sector
}

// Profile describes one flash cartridge type.
type Profile struct {
	ID       int
	Name     string
	Mode     cartridge.Mode
	Capacity uint32
	Voltage  device.Voltage

	// MinFirmware is the oldest reader firmware able to program the cartridge.
	MinFirmware int

	Method    Method
	Algorithm Algorithm
	WEPin     protocol.Opcode
	Write     protocol.WriteMethod
	Layout    Layout
	Erase     EraseMode

	// Sectors is the erase sector map for EraseSector. SectorVariants
	// replace it for specific chip IDs.
	Sectors        []Sector
	SectorVariants []SectorVariant

	// ExpectedIDs are the chip ID prefixes the cartridge is known to report.
	ExpectedIDs [][]byte

	// Bank1Commands makes the reader issue flash commands with bank 1 mapped.
	Bank1Commands bool
	// HighBitAlways writes the MBC5 high bank bit on every bank switch.
	HighBitAlways bool

	// ChipEraseAbove switches a sector erasing cartridge to a chip erase for
	// images larger than this. ChipEraseIDs does the same for chip IDs.
	ChipEraseAbove uint32
	ChipEraseIDs   [][]byte

	// StopAt ends programming at this offset; the space above is mapped to
	// save memory.
	StopAt uint32
	// WordHead programs this many leading bytes one word at a time.
	WordHead uint32
	// ManualWordWindow programs the last 64 bytes of every 32 KiB block
	// one word at a time.
	ManualWordWindow bool

	// PreWrites are mapper register writes issued before programming.
	PreWrites []banking.Write

	// BlockSize is the size of one selectable block for LayoutMighty,
	// LayoutBlockSelect and LayoutMultiChip.
	BlockSize uint32

	// Force5V runs a 3.3V chip at 5V. Alias types set it.
	Force5V bool
	// Generic profiles detect their program method before programming.
	Generic bool
	// AliasOf is the type this one duplicates, or zero.
	AliasOf int
}

// String returns the type number and name.
func (p Profile) String() string {
	return fmt.Sprintf("%d. %s", p.ID, p.Name)
}

// MatchesID reports whether id starts with one of the expected prefixes. A
// profile without expected IDs matches anything.
func (p Profile) MatchesID(id []byte) bool {
	if len(p.ExpectedIDs) == 0 {
		return true
	}
	return matchAny(p.ExpectedIDs, id)
}

// SectorsFor returns the sector map to use for a chip reporting id.
func (p Profile) SectorsFor(id []byte) []Sector {
	for _, v := range p.SectorVariants {
		if bytes.HasPrefix(id, v.ID) {
			return v.Sectors
		}
	}
	return p.Sectors
}

func matchAny(prefixes [][]byte, id []byte) bool {
	for _, prefix := range prefixes {
		if bytes.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// IsSectorStart reports whether off is the first byte of a sector.
func IsSectorStart(sectors []Sector, off uint32) bool {
	if len(sectors) == 0 {
		return false
	}
	r := sectors[0]
	if off < r.Start {
		return false
	}
	for _, next := range sectors[1:] {
		if off < next.Start {
			break
		}
		r = next
	}
	return (off-r.Start)%r.Size == 0
}

func uniform(size uint32) []Sector { return []Sector{{0, size}} }

// gb returns a GB profile with the common defaults filled in.
func gb(p Profile) Profile {
	p.Mode = cartridge.ModeGB
	if p.WEPin == 0 {
		p.WEPin = protocol.WEWR
	}
	if p.Write == 0 {
		p.Write = protocol.WriteGB64
	}
	if p.Layout == LayoutFlat && p.Capacity > 0x8000 {
		p.Layout = LayoutBanked
	}
	if p.Voltage == device.VoltageAny {
		p.Voltage = device.Voltage5V
	}
	return p
}

// gba returns a GBA profile with the common defaults filled in.
func gba(p Profile) Profile {
	p.Mode = cartridge.ModeGBA
	p.Layout = LayoutGBA
	p.Voltage = device.Voltage3V3
	if p.Write == 0 {
		p.Write = protocol.WriteGBA256
		if p.Method.Swapped() {
			p.Write = protocol.WriteGBA256SwappedD0D1
		}
	}
	return p
}

var (
	idInsideGadgetsGBA  = []byte{0x01, 0x00, 0x7E, 0x22}
	idInsideGadgetsRTC  = []byte{0x89, 0x00, 0x7E, 0x22}
	idIntelSmallSectors = []byte{0x8A, 0x00, 0x15, 0x88}
	idIntelSmallSecond  = []byte{0x8A, 0x00, 0x10, 0x88}
)

var intelSmallSectors = []Sector{{0, 0x8000}, {0x20000, 0x20000}}

var profiles = []Profile{
	gb(Profile{ID: 1, Name: "32 KByte Gameboy Flash Cart", Capacity: 0x8000, Method: Method5555,
		ExpectedIDs: [][]byte{{0xBF, 0xB5, 0x01, 0xFF}}}),
	gb(Profile{ID: 2, Name: "insideGadgets 2 MByte 128KB SRAM Flash Cart", Capacity: 0x200000, Method: Method555,
		ExpectedIDs: [][]byte{{0x01, 0xAD, 0x00, 0x00}}}),
	gb(Profile{ID: 3, Name: "insideGadgets 2 MByte 32KB FRAM Flash Cart", Capacity: 0x200000, Method: Method555,
		ExpectedIDs: [][]byte{{0x01, 0xAD, 0x00, 0x00}}}),
	gb(Profile{ID: 4, Name: "insideGadgets 4 MByte 128KB SRAM/FRAM Gameboy Flash Cart", Capacity: 0x400000, Method: MethodAAA,
		Erase: EraseNone, ExpectedIDs: [][]byte{{0x01, 0x01, 0x7E, 0x7E}, {0xC2}}}),
	gb(Profile{ID: 5, Name: "64 MByte Mighty Flash Cart", Capacity: 0x4000000, Method: MethodAAA,
		Layout: LayoutMighty, BlockSize: 0x800000, Erase: EraseSector, Sectors: uniform(0x20000)}),
	gb(Profile{ID: 6, Name: "64 MByte Mighty Flash Cart - Buffered (Experimental)", Capacity: 0x4000000, Method: MethodAAA,
		Write: protocol.WriteGBBuffered32, Layout: LayoutMighty, BlockSize: 0x800000, Erase: EraseSector, Sectors: uniform(0x20000)}),
	gb(Profile{ID: 8, Name: "512 KByte (SST39SF040) Gameboy Flash Cart", Capacity: 0x80000, Method: Method5555,
		Bank1Commands: true}),
	gb(Profile{ID: 9, Name: "1 MByte (ES29LV160) Gameboy Flash Cart", Capacity: 0x100000, Voltage: device.Voltage3V3,
		Method: Method555Swapped}),
	gb(Profile{ID: 10, Name: "2 MByte (BV5) Gameboy Flash Cart", Capacity: 0x200000, Method: MethodAAASwapped}),
	gb(Profile{ID: 11, Name: "2 MByte (AM29LV160DB / 29LV160CTTC / 29LV160TE / S29AL016) Gameboy Flash Cart", Capacity: 0x200000,
		Voltage: device.Voltage3V3, Method: MethodAAA}),
	gb(Profile{ID: 12, Name: "2 MByte (AM29F016B) / 4 MByte (AM29F032B) Gameboy Flash Cart", Capacity: 0x400000, Method: Method555}),
	gb(Profile{ID: 13, Name: "2 MByte (GB Smart 16M) Gameboy Flash Cart", Capacity: 0x200000, Method: Method5555,
		WEPin: protocol.WEAudio, Bank1Commands: true, Layout: LayoutMultiChip, BlockSize: 0x80000}),
	gb(Profile{ID: 14, Name: "4 MByte (M29W640 / 29DL32BF / GL032A10BAIR4 / S29AL016M9) Gameboy Flash Cart", Capacity: 0x400000,
		Voltage: device.Voltage3V3, Method: MethodAAASwapped}),
	gb(Profile{ID: 15, Name: "4 MByte MBC30 (AM29F032B / MBM29F033C) Gameboy Flash Cart", Capacity: 0x400000, Method: Method555,
		WEPin: protocol.WEAudio}),
	gb(Profile{ID: 16, Name: "32 MByte (4x 8MB Banks) (256M29) Gameboy Flash Cart", Capacity: 0x800000, Voltage: device.Voltage3V3,
		MinFirmware: 11, Method: MethodAAASwapped, Layout: LayoutBlockSelect, BlockSize: 0x800000}),
	gb(Profile{ID: 17, Name: "32 MByte (4x 8MB Banks) (M29W256 / MX29GL256 / MSP55LV100) Gameboy Flash Cart", Capacity: 0x800000,
		Voltage: device.Voltage3V3, MinFirmware: 11, Method: MethodAAASwapped, Layout: LayoutBlockSelect, BlockSize: 0x800000}),

	gba(Profile{ID: 20, Name: "insideGadgets GBA 32MB (512Kbit/1Mbit Flash Save) or (256Kbit FRAM) Flash Cart", Capacity: 0x2000000,
		Method: MethodAAA, Erase: EraseSector, Sectors: uniform(0x10000), ChipEraseAbove: 0x1000000,
		ChipEraseIDs: [][]byte{idInsideGadgetsRTC}, ExpectedIDs: [][]byte{idInsideGadgetsGBA, idInsideGadgetsRTC}}),
	gba(Profile{ID: 21, Name: "16 MByte (MSP55LV128 / 29LV128DTMC) GBA Flash Cart", Capacity: 0x1000000,
		Method: MethodAAASwapped, Erase: EraseSector, Sectors: uniform(0x10000)}),
	gba(Profile{ID: 22, Name: "16 MByte (MSP55LV128M / 29GL128EHMC / MX29GL128ELT / M29W128 / S29GL128) GBA Flash Cart", Capacity: 0x2000000,
		Method: MethodAAASwapped, Erase: EraseSector, Sectors: uniform(0x20000)}),
	gba(Profile{ID: 23, Name: "16 MByte M36L0R706 / 32 MByte 256L30B / 4455LLZBQO / 4000L0YBQ0 GBA Flash Cart", Capacity: 0x2000000,
		Method: MethodIntel, Algorithm: AlgoIntel, Write: protocol.WriteGBAIntel64, Erase: EraseSector, Sectors: uniform(0x20000),
		SectorVariants: []SectorVariant{{idIntelSmallSectors, intelSmallSectors}, {idIntelSmallSecond, intelSmallSectors}}}),
	gba(Profile{ID: 24, Name: "16 MByte M36L0R706 / 32 MByte 256L30B / 4455LLZBQO / 4000L0YBQ0 GBA Flash Cart (2)", Capacity: 0x2000000,
		Method: MethodIntel, Algorithm: AlgoIntel, Write: protocol.WriteGBAIntel64, Erase: EraseSector, Sectors: uniform(0x20000),
		SectorVariants:   []SectorVariant{{idIntelSmallSectors, intelSmallSectors}, {idIntelSmallSecond, intelSmallSectors}},
		ManualWordWindow: true}),
	gba(Profile{ID: 25, Name: "16 MByte GE28F128W30 GBA Flash Cart", Capacity: 0x1000000, MinFirmware: 15,
		Method: MethodIntel, Algorithm: AlgoIntel, Write: protocol.WriteGBAIntel64Word, Erase: EraseSector,
		Sectors: []Sector{{0, 0x2000}, {0x10000, 0x10000}}}),
	gba(Profile{ID: 26, Name: "4 MByte (MX29LV320) GBA Flash Cart", Capacity: 0x400000,
		Method: MethodAAA, Erase: EraseSector, Sectors: []Sector{{0, 0x2000}, {0x10000, 0x10000}}}),
	gba(Profile{ID: 27, Name: "insideGadgets GBA 32MB 4K/64K EEPROM Flash Cart", Capacity: 0x2000000,
		Method: MethodAAA, Erase: EraseSector, Sectors: uniform(0x10000), ChipEraseAbove: 0x1000000,
		ChipEraseIDs: [][]byte{idInsideGadgetsRTC}, ExpectedIDs: [][]byte{idInsideGadgetsGBA, idInsideGadgetsRTC},
		StopAt: 0x1FFFF00}),

	gb(Profile{ID: 29, Name: "insideGadgets 512 KByte Gameboy Flash Cart", Capacity: 0x80000, Method: Method5555,
		WEPin: protocol.WEAudio, Bank1Commands: true}),
	gb(Profile{ID: 30, Name: "insideGadgets 1 MByte 128KB SRAM Gameboy Flash Cart", Capacity: 0x100000, Method: MethodAAA,
		Erase: EraseNone}),
	gb(Profile{ID: 31, Name: "insideGadgets 1 MByte 128KB SRAM Custom Logo Flash Cart", Capacity: 0x100000, Method: MethodAAA,
		Erase: EraseNone, PreWrites: []banking.Write{{Addr: 0x31, Value: 0x2D}, {Addr: banking.RegROMBankLow, Value: 1}}}),
	gb(Profile{ID: 32, Name: "512 KByte (AM29LV160 with CPLD) Gameboy Flash Cart", Capacity: 0x80000, Voltage: device.Voltage3V3,
		Method: Method7AAASwapped, Write: protocol.WriteGB64PulseReset, Layout: LayoutCPLD}),
	gb(Profile{ID: 33, Name: "1 MByte (29LV320 with CPLD) Gameboy Flash Cart", Capacity: 0x100000, Voltage: device.Voltage3V3,
		Method: Method7AAASwapped, Write: protocol.WriteGB64PulseReset, Layout: LayoutCPLD}),
	gb(Profile{ID: 34, Name: "2 MByte (AM29F016B) / 4 MByte (AM29F032B) Gameboy Flash Cart (Audio as WE)", Capacity: 0x400000,
		Method: Method555, WEPin: protocol.WEAudio}),
	gb(Profile{ID: 35, Name: "insideGadgets 4 MByte 32KB FRAM MBC3 RTC Flash Cart", Capacity: 0x400000, Method: Method555,
		WEPin: protocol.WEAudio}),
	gba(Profile{ID: 36, Name: "32 MByte (Flash2Advance 256M) GBA Flash Cart", Capacity: 0x2000000, MinFirmware: 18,
		Method: MethodIntel, Algorithm: AlgoIntelInterleaved, Write: protocol.WriteGBAIntelInterleaved256,
		Erase: EraseSector, Sectors: uniform(0x40000)}),
	gba(Profile{ID: 37, Name: "16 MByte (Nintendo Development AGB Cartridge 128M Flash S, E201850) GBA Flash Cart", Capacity: 0x1000000,
		MinFirmware: 18, Method: MethodSharp, Algorithm: AlgoSharp, Write: protocol.WriteGBASharp64}),
	gb(Profile{ID: 38, Name: "8 MByte (BUNG Doctor GB Card 64M) (28F640J5) Gameboy Flash Cart", Capacity: 0x800000, MinFirmware: 18,
		Method: MethodIntel, Algorithm: AlgoIntel, WEPin: protocol.WEAudio, Write: protocol.WriteGBIntelBuffered32,
		Bank1Commands: true, HighBitAlways: true, Erase: EraseSector, Sectors: uniform(0x20000)}),
	gb(Profile{ID: 39, Name: "4 MByte (S29GL032 with CPLD) Gameboy Flash Cart", Capacity: 0x400000, Voltage: device.Voltage3V3,
		Method: Method7AAASwapped, Layout: LayoutCPLD}),
	gb(Profile{ID: 40, Name: "4 MByte (GB Smart 32M) Gameboy Flash Cart", Capacity: 0x400000, MinFirmware: 18,
		Method: MethodIntel, Algorithm: AlgoIntel, WEPin: protocol.WEAudio, Write: protocol.WriteGBIntelBuffered32,
		Bank1Commands: true, HighBitAlways: true, Erase: EraseSector, Sectors: uniform(0x20000)}),
	gba(Profile{ID: 41, Name: "insideGadgets GBA 32MB RTC 1Mbit Flash Save Flash Cart", Capacity: 0x2000000,
		Method: MethodAAA, ExpectedIDs: [][]byte{idInsideGadgetsRTC}, WordHead: 0x100}),
	gb(Profile{ID: 42, Name: "insideGadgets 2 MByte 128KB SRAM Gameboy Flash Cart (ULP)", Capacity: 0x200000, Method: MethodAAA,
		Erase: EraseNone}),
	gba(Profile{ID: 43, Name: "insideGadgets GBA 16MB 64K EEPROM Solar+RTC Flash Cart", Capacity: 0x1000000,
		Method: MethodAAA, Erase: EraseSector, Sectors: uniform(0x10000), ChipEraseAbove: 0x800000,
		ExpectedIDs: [][]byte{idInsideGadgetsRTC}, WordHead: 0x100}),

	gb(Profile{ID: 52, Name: "Generic 5v Flash Cart (Auto detect)", Capacity: 0x400000, Method: MethodAuto, Generic: true}),
	gb(Profile{ID: 53, Name: "Generic 3.3v Flash Cart (Auto detect)", Capacity: 0x400000, Voltage: device.Voltage3V3,
		Method: MethodAuto, Generic: true}),
	gba(Profile{ID: 54, Name: "Generic GBA Flash Cart (Auto detect)", Capacity: 0x2000000, Method: MethodAuto, Generic: true}),

	gb(Profile{ID: 101, Name: "32 KByte AM29F010B Gameboy Flash Cart (Audio as WE)", Capacity: 0x8000, Method: Method555,
		WEPin: protocol.WEAudio, Erase: EraseSector, Sectors: uniform(0x4000)}),
	gb(Profile{ID: 102, Name: "32 KByte AM29F010B Gameboy Flash Cart (WR as WE)", Capacity: 0x8000, Method: Method555,
		Erase: EraseSector, Sectors: uniform(0x4000)}),
	gb(Profile{ID: 103, Name: "32 KByte SST39SF010A / AT49F040 Gameboy Flash Cart (Audio as WE)", Capacity: 0x8000, Method: Method5555,
		WEPin: protocol.WEAudio}),
	gb(Profile{ID: 104, Name: "32 KByte SST39SF010A / AT49F040 Gameboy Flash Cart (WR as WE)", Capacity: 0x8000, Method: Method5555}),
}

// aliases run a 3.3V cartridge type at 5V.
var aliases = map[int]int{
	44: 32,
	45: 9,
	46: 33,
	47: 11,
	48: 14,
	49: 39,
	50: 16,
	51: 17,
}

var registry = buildRegistry()

func buildRegistry() map[int]Profile {
	reg := make(map[int]Profile, len(profiles)+len(aliases))
	for _, p := range profiles {
		reg[p.ID] = p
	}
	for id, of := range aliases {
		p := reg[of]
		p.ID = id
		p.Name += " (5V)"
		p.AliasOf = of
		p.Force5V = true
		reg[id] = p
	}
	return reg
}

// Lookup returns the profile for a cartridge type number. The returned
// profile is a copy and may be modified by the caller.
func Lookup(id int) (Profile, error) {
	p, ok := registry[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %d", ErrUnknownCart, id)
	}
	return p.clone(), nil
}

// All returns every profile ordered by type number.
func All() []Profile {
	out := make([]Profile, 0, len(registry))
	for _, p := range registry {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p Profile) clone() Profile {
	p.Sectors = append([]Sector(nil), p.Sectors...)
	p.SectorVariants = append([]SectorVariant(nil), p.SectorVariants...)
	p.ExpectedIDs = append([][]byte(nil), p.ExpectedIDs...)
	p.ChipEraseIDs = append([][]byte(nil), p.ChipEraseIDs...)
	p.PreWrites = append([]banking.Write(nil), p.PreWrites...)
	return p
}
