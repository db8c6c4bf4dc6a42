package flash

import (
	"fmt"

	"github.com/richardwooding/gbxflash/internal/protocol"
)

// Method is the command set and unlock addresses a flash chip answers to.
type Method int

// Program methods. MethodAuto is resolved by detection before programming.
const (
	MethodAuto Method = iota
	Method555
	MethodAAA
	Method5555
	Method7AAASwapped
	Method555Swapped
	MethodAAASwapped
	MethodIntel
	MethodSharp
)

var methodNames = map[Method]string{
	MethodAuto:        "auto",
	Method555:         "555",
	MethodAAA:         "AAA",
	Method5555:        "5555",
	Method7AAASwapped: "7AAA (D0/D1 swapped)",
	Method555Swapped:  "555 (D0/D1 swapped)",
	MethodAAASwapped:  "AAA (D0/D1 swapped)",
	MethodIntel:       "Intel",
	MethodSharp:       "Sharp",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// JEDEC reports whether the method uses AMD style unlock cycles.
func (m Method) JEDEC() bool {
	return m >= Method555 && m <= MethodAAASwapped
}

// Swapped reports whether the cartridge exchanges data lines D0 and D1.
func (m Method) Swapped() bool {
	return m == Method7AAASwapped || m == Method555Swapped || m == MethodAAASwapped
}

// Unlock returns the two JEDEC unlock addresses.
func (m Method) Unlock() (uint32, uint32) {
	switch m {
	case Method555, Method555Swapped:
		return 0x555, 0x2AA
	case MethodAAA, MethodAAASwapped:
		return 0xAAA, 0x555
	case Method5555:
		return 0x5555, 0x2AAA
	case Method7AAASwapped:
		return 0x7AAA, 0x7555
	}
	return 0, 0
}

// Data converts a command byte to what must be written on the bus.
func (m Method) Data(v uint16) uint16 {
	if m.Swapped() {
		return v&^3 | (v&1)<<1 | (v&2)>>1
	}
	return v
}

// command returns one unlock-prefixed command write.
func (m Method) command(cmd uint16) []protocol.Command {
	a1, a2 := m.Unlock()
	return []protocol.Command{
		{Addr: a1, Data: m.Data(0xAA)},
		{Addr: a2, Data: m.Data(0x55)},
		{Addr: a1, Data: m.Data(cmd)},
	}
}

// ProgramSequence is the program-byte sequence the firmware issues before
// every byte it writes.
func (m Method) ProgramSequence() [3]protocol.Command {
	var seq [3]protocol.Command
	copy(seq[:], m.command(0xA0))
	return seq
}

// AutoselectSequence enters read-ID mode.
func (m Method) AutoselectSequence() []protocol.Command {
	if !m.JEDEC() {
		return []protocol.Command{{Addr: 0, Data: 0x90}}
	}
	return m.command(0x90)
}

// ChipEraseSequence erases the whole chip.
func (m Method) ChipEraseSequence() []protocol.Command {
	return append(m.command(0x80), m.command(0x10)...)
}

// SectorEraseSequence erases the sector containing addr.
func (m Method) SectorEraseSequence(addr uint32) []protocol.Command {
	cmds := append(m.command(0x80), m.command(0x30)...)
	cmds[len(cmds)-1].Addr = addr
	return cmds
}
