package cartridge

import "fmt"

// CartridgeType is the cartridge type byte at 0x0147.
//
//nolint:revive // CartridgeType reads better than Type at call sites outside the package
type CartridgeType byte

// Cartridge types as defined in the header at 0x0147.
const (
	TypeROMOnly                    CartridgeType = 0x00
	TypeMBC1                       CartridgeType = 0x01
	TypeMBC1RAM                    CartridgeType = 0x02
	TypeMBC1RAMBattery             CartridgeType = 0x03
	TypeMBC2                       CartridgeType = 0x05
	TypeMBC2Battery                CartridgeType = 0x06
	TypeROMRAM                     CartridgeType = 0x08
	TypeROMRAMBattery              CartridgeType = 0x09
	TypeMMM01                      CartridgeType = 0x0B
	TypeMMM01RAM                   CartridgeType = 0x0C
	TypeMMM01RAMBattery            CartridgeType = 0x0D
	TypeMBC3TimerBattery           CartridgeType = 0x0F
	TypeMBC3TimerRAMBattery        CartridgeType = 0x10
	TypeMBC3                       CartridgeType = 0x11
	TypeMBC3RAM                    CartridgeType = 0x12
	TypeMBC3RAMBattery             CartridgeType = 0x13
	TypeMBC5                       CartridgeType = 0x19
	TypeMBC5RAM                    CartridgeType = 0x1A
	TypeMBC5RAMBattery             CartridgeType = 0x1B
	TypeMBC5Rumble                 CartridgeType = 0x1C
	TypeMBC5RumbleRAM              CartridgeType = 0x1D
	TypeMBC5RumbleRAMBattery       CartridgeType = 0x1E
	TypeMBC6                       CartridgeType = 0x20
	TypeMBC7SensorRumbleRAMBattery CartridgeType = 0x22
	TypePocketCamera               CartridgeType = 0xFC
	TypeBandaiTAMA5                CartridgeType = 0xFD
	TypeHuC3                       CartridgeType = 0xFE
	TypeHuC1RAMBattery             CartridgeType = 0xFF
)

var typeNames = map[CartridgeType]string{
	TypeROMOnly:                    "ROM ONLY",
	TypeMBC1:                       "MBC1",
	TypeMBC1RAM:                    "MBC1+RAM",
	TypeMBC1RAMBattery:             "MBC1+RAM+BATTERY",
	TypeMBC2:                       "MBC2",
	TypeMBC2Battery:                "MBC2+BATTERY",
	TypeROMRAM:                     "ROM+RAM",
	TypeROMRAMBattery:              "ROM+RAM+BATTERY",
	TypeMMM01:                      "MMM01",
	TypeMMM01RAM:                   "MMM01+RAM",
	TypeMMM01RAMBattery:            "MMM01+RAM+BATTERY",
	TypeMBC3TimerBattery:           "MBC3+TIMER+BATTERY",
	TypeMBC3TimerRAMBattery:        "MBC3+TIMER+RAM+BATTERY",
	TypeMBC3:                       "MBC3",
	TypeMBC3RAM:                    "MBC3+RAM",
	TypeMBC3RAMBattery:             "MBC3+RAM+BATTERY",
	TypeMBC5:                       "MBC5",
	TypeMBC5RAM:                    "MBC5+RAM",
	TypeMBC5RAMBattery:             "MBC5+RAM+BATTERY",
	TypeMBC5Rumble:                 "MBC5+RUMBLE",
	TypeMBC5RumbleRAM:              "MBC5+RUMBLE+RAM",
	TypeMBC5RumbleRAMBattery:       "MBC5+RUMBLE+RAM+BATTERY",
	TypeMBC6:                       "MBC6",
	TypeMBC7SensorRumbleRAMBattery: "MBC7+SENSOR+RUMBLE+RAM+BATTERY",
	TypePocketCamera:               "POCKET CAMERA",
	TypeBandaiTAMA5:                "BANDAI TAMA5",
	TypeHuC3:                       "HuC3",
	TypeHuC1RAMBattery:             "HuC1+RAM+BATTERY",
}

// String returns a human-readable name for the cartridge type.
func (t CartridgeType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN (0x%02X)", byte(t))
}

// HasBattery returns true if the cartridge keeps its save RAM powered.
func (t CartridgeType) HasBattery() bool {
	switch t {
	case TypeMBC1RAMBattery, TypeMBC2Battery, TypeROMRAMBattery, TypeMMM01RAMBattery,
		TypeMBC3TimerBattery, TypeMBC3TimerRAMBattery, TypeMBC3RAMBattery,
		TypeMBC5RAMBattery, TypeMBC5RumbleRAMBattery,
		TypeMBC7SensorRumbleRAMBattery, TypePocketCamera, TypeHuC3, TypeHuC1RAMBattery:
		return true
	default:
		return false
	}
}

// Mapper identifies the bank register layout a cartridge uses.
type Mapper int

// Mapper families. MapperMBC5 covers every type that follows the MBC2-and-up
// register layout (ROM bank low byte at 0x2100, high bit at 0x3000).
const (
	MapperNone Mapper = iota
	MapperMBC1
	MapperMBC1Hudson
	MapperMBC2
	MapperMBC3
	MapperMBC5
)

func (m Mapper) String() string {
	switch m {
	case MapperNone:
		return "none"
	case MapperMBC1:
		return "MBC1"
	case MapperMBC1Hudson:
		return "MBC1 (Hudson)"
	case MapperMBC2:
		return "MBC2"
	case MapperMBC3:
		return "MBC3"
	case MapperMBC5:
		return "MBC5"
	default:
		return fmt.Sprintf("Mapper(%d)", int(m))
	}
}

// hudsonTitles are MBC1 multicarts wired so that bank numbers use four low bits.
var hudsonTitles = []string{"MOMOCOL", "BOMCOL"}

// MapperFor returns the mapper family of a cartridge type and title.
func MapperFor(t CartridgeType, title string) Mapper {
	switch t {
	case TypeROMOnly, TypeROMRAM, TypeROMRAMBattery:
		return MapperNone
	case TypeMBC1, TypeMBC1RAM, TypeMBC1RAMBattery:
		for _, prefix := range hudsonTitles {
			if len(title) >= len(prefix) && title[:len(prefix)] == prefix {
				return MapperMBC1Hudson
			}
		}
		return MapperMBC1
	case TypeMBC2, TypeMBC2Battery:
		return MapperMBC2
	case TypeMBC3TimerBattery, TypeMBC3TimerRAMBattery, TypeMBC3, TypeMBC3RAM, TypeMBC3RAMBattery:
		return MapperMBC3
	default:
		return MapperMBC5
	}
}
