package protocol

import "fmt"

// Opcode is a single command byte understood by the reader firmware.
type Opcode byte

// Stream control.
const (
	OpStop     Opcode = '0' // End a read stream
	OpContinue Opcode = '1' // Request the next chunk of a read stream
)

// Device queries answered with RequestValue.
const (
	OpCartMode        Opcode = 'C'
	OpFirmwareVersion Opcode = 'V'
	OpPCBVersion      Opcode = 'h'
)

// Mode and power selection.
const (
	OpModeGB           Opcode = 'G'
	OpModeGBA          Opcode = 'g'
	OpVoltage3V3       Opcode = '3'
	OpVoltage5V        Opcode = '5'
	OpResetCommonLines Opcode = 'M'
)

// Addressing and GB cartridge access.
const (
	OpSetStartAddress Opcode = 'A' // Followed by a hex number
	OpSetBank         Opcode = 'B' // Two frames: hex register address, decimal value
	OpReadROMRAM      Opcode = 'R' // 64-byte stream from the current address
	OpWriteRAM        Opcode = 'W' // 64-byte save RAM write
)

// GBA cartridge access.
const (
	OpGBAReadROM         Opcode = 'r'
	OpGBAReadROM256      Opcode = 'j'
	OpGBAReadSRAM        Opcode = 'm'
	OpGBAWriteSRAM       Opcode = 'w'
	OpGBASetEEPROMSize   Opcode = 'S'
	OpGBAReadEEPROM      Opcode = 'e'
	OpGBAWriteEEPROM     Opcode = 'p'
	OpGBAFlashSaveID     Opcode = 'i'
	OpGBAFlashSetBank    Opcode = 'k'
	OpGBAFlash4KErase    Opcode = 's'
	OpGBAFlashWriteByte  Opcode = 'b'
	OpGBAFlashWriteAtmel Opcode = 'a'
)

// GB flash cartridge programming.
const (
	OpGBFlashCommand              Opcode = 'F' // Single command write: hex address, hex data
	OpGBFlashProgramMethod        Opcode = 'E' // Program-byte sequence used by the firmware
	OpGBFlashWEPin                Opcode = 'P' // Followed by WEAudio or WEWR
	OpGBFlashBank1Commands        Opcode = 'N' // Issue flash commands with bank 1 mapped
	OpGBFlashWrite64              Opcode = 'T'
	OpGBFlashWrite64PulseReset    Opcode = 'J'
	OpGBFlashWrite256             Opcode = 'X'
	OpGBFlashWriteBuffered32      Opcode = 'Y'
	OpGBFlashWriteIntelBuffered32 Opcode = 'y'
)

// GBA flash cartridge programming.
const (
	OpGBAFlashCommand                  Opcode = 'n' // Single command write: hex byte address, hex data
	OpGBAFlashWrite256                 Opcode = 'f'
	OpGBAFlashWrite256SwappedD0D1      Opcode = 't'
	OpGBAFlashWriteIntel64             Opcode = 'l'
	OpGBAFlashWriteIntel64Word         Opcode = 'u'
	OpGBAFlashWriteIntelInterleaved256 Opcode = 'v'
	OpGBAFlashWriteSharp64             Opcode = 'x'
)

// WE pin selections sent after OpGBFlashWEPin.
const (
	WEAudio Opcode = 'A'
	WEWR    Opcode = 'W'
)

// Cart mode values returned for OpCartMode.
const (
	CartModeGB  = 1
	CartModeGBA = 2
)

// Ack is the byte the firmware sends after every write frame.
const Ack = '1'

// ReadMode selects the read stream opcode and chunk size.
type ReadMode int

// Read streams.
const (
	ReadGB ReadMode = iota + 1
	ReadGBA
	ReadGBA256
	ReadGBASRAM
	ReadGBAEEPROM
)

var readModes = map[ReadMode]struct {
	op   Opcode
	size int
	name string
}{
	ReadGB:        {OpReadROMRAM, 64, "GB 64-byte"},
	ReadGBA:       {OpGBAReadROM, 64, "GBA 64-byte"},
	ReadGBA256:    {OpGBAReadROM256, 256, "GBA 256-byte"},
	ReadGBASRAM:   {OpGBAReadSRAM, 64, "GBA SRAM 64-byte"},
	ReadGBAEEPROM: {OpGBAReadEEPROM, 8, "GBA EEPROM 8-byte"},
}

// Opcode returns the opcode that starts the stream.
func (m ReadMode) Opcode() Opcode { return readModes[m].op }

// ChunkSize returns the number of bytes in each streamed chunk.
func (m ReadMode) ChunkSize() int { return readModes[m].size }

func (m ReadMode) String() string {
	if r, ok := readModes[m]; ok {
		return r.name
	}
	return fmt.Sprintf("ReadMode(%d)", int(m))
}

// WriteMethod selects a write opcode and its payload granularity.
type WriteMethod int

// Write methods. Flash methods program through the firmware using the
// sequence configured with SetProgramMethod or the chip family's command set.
const (
	WriteGB64 WriteMethod = iota + 1
	WriteGB64PulseReset
	WriteGB256
	WriteGBBuffered32
	WriteGBIntelBuffered32
	WriteGBRAM64
	WriteGBA256
	WriteGBA256SwappedD0D1
	WriteGBAIntel64
	WriteGBAIntel64Word
	WriteGBAIntelInterleaved256
	WriteGBASharp64
	WriteGBASRAM64
	WriteGBAFlashSave64
	WriteGBAFlashSaveAtmel128
	WriteGBAEEPROM8
)

var writeMethods = map[WriteMethod]struct {
	op   Opcode
	size int
	name string
}{
	WriteGB64:                   {OpGBFlashWrite64, 64, "GB 64-byte"},
	WriteGB64PulseReset:         {OpGBFlashWrite64PulseReset, 64, "GB 64-byte pulse reset"},
	WriteGB256:                  {OpGBFlashWrite256, 256, "GB 256-byte"},
	WriteGBBuffered32:           {OpGBFlashWriteBuffered32, 32, "GB buffered 32-byte"},
	WriteGBIntelBuffered32:      {OpGBFlashWriteIntelBuffered32, 32, "GB Intel buffered 32-byte"},
	WriteGBRAM64:                {OpWriteRAM, 64, "GB RAM 64-byte"},
	WriteGBA256:                 {OpGBAFlashWrite256, 256, "GBA 256-byte"},
	WriteGBA256SwappedD0D1:      {OpGBAFlashWrite256SwappedD0D1, 256, "GBA 256-byte D0/D1 swapped"},
	WriteGBAIntel64:             {OpGBAFlashWriteIntel64, 64, "GBA Intel 64-byte"},
	WriteGBAIntel64Word:         {OpGBAFlashWriteIntel64Word, 64, "GBA Intel 64-byte word"},
	WriteGBAIntelInterleaved256: {OpGBAFlashWriteIntelInterleaved256, 256, "GBA Intel interleaved 256-byte"},
	WriteGBASharp64:             {OpGBAFlashWriteSharp64, 64, "GBA Sharp 64-byte"},
	WriteGBASRAM64:              {OpGBAWriteSRAM, 64, "GBA SRAM 64-byte"},
	WriteGBAFlashSave64:         {OpGBAFlashWriteByte, 64, "GBA flash save 64-byte"},
	WriteGBAFlashSaveAtmel128:   {OpGBAFlashWriteAtmel, 128, "GBA flash save Atmel 128-byte"},
	WriteGBAEEPROM8:             {OpGBAWriteEEPROM, 8, "GBA EEPROM 8-byte"},
}

// Opcode returns the opcode that carries the payload.
func (m WriteMethod) Opcode() Opcode { return writeMethods[m].op }

// ChunkSize returns the payload size of a single write frame.
func (m WriteMethod) ChunkSize() int { return writeMethods[m].size }

func (m WriteMethod) String() string {
	if w, ok := writeMethods[m]; ok {
		return w.name
	}
	return fmt.Sprintf("WriteMethod(%d)", int(m))
}

// WriteMethodFor returns the write method carried by op, if any.
func WriteMethodFor(op Opcode) (WriteMethod, bool) {
	for m, w := range writeMethods {
		if w.op == op {
			return m, true
		}
	}
	return 0, false
}

// ReadModeFor returns the read stream started by op, if any.
func ReadModeFor(op Opcode) (ReadMode, bool) {
	for m, r := range readModes {
		if r.op == op {
			return m, true
		}
	}
	return 0, false
}
