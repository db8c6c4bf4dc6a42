package flash

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

// ErrNoMatch indicates no program method produced a chip ID.
var ErrNoMatch = errors.New("no flash chip answered")

// Detection is the outcome of probing a cartridge.
type Detection struct {
	Method Method
	ID     []byte
	// Profile is the first registered cartridge using Method whose
	// expected IDs include ID, or nil when none does.
	Profile *Profile
}

var (
	// Intel goes first: JEDEC chips ignore a bare 0x90 but Intel chips also
	// answer the JEDEC autoselect sequence.
	gbProbeMethods  = []Method{MethodIntel, Method555, MethodAAA, Method555Swapped, MethodAAASwapped, Method5555}
	gbaProbeMethods = []Method{MethodIntel, MethodAAA, MethodAAASwapped}
)

// Detect probes each program method in turn and reports the first one the
// chip answers with an ID that differs from plain ROM contents. The chip is
// returned to read-array mode after every probe, so detection can be
// repeated and ROM reads work afterwards.
func Detect(c *protocol.Client, mode cartridge.Mode) (Detection, error) {
	gba := mode == cartridge.ModeGBA
	methods := gbProbeMethods
	if gba {
		methods = gbaProbeMethods
	}

	if !gba {
		if err := c.SetWEPin(protocol.WEWR); err != nil {
			return Detection{}, err
		}
	}

	baseline, err := readID(c, gba)
	if err != nil {
		return Detection{}, fmt.Errorf("read baseline: %w", err)
	}

	var first *Detection
	for _, m := range methods {
		if err := c.FlashSequence(gba, m.AutoselectSequence()); err != nil {
			return Detection{}, fmt.Errorf("probe %s: %w", m, err)
		}
		id, err := readID(c, gba)
		if err != nil {
			return Detection{}, fmt.Errorf("probe %s: %w", m, err)
		}
		if err := resetChip(c, gba); err != nil {
			return Detection{}, fmt.Errorf("probe %s: %w", m, err)
		}
		if bytes.Equal(id, baseline) {
			continue
		}

		d := Detection{Method: m, ID: id}
		if p, ok := profileFor(mode, m, id); ok {
			d.Profile = &p
			return d, nil
		}
		if first == nil {
			first = &d
		}
	}

	if first == nil {
		return Detection{}, ErrNoMatch
	}
	return *first, nil
}

func profileFor(mode cartridge.Mode, m Method, id []byte) (Profile, bool) {
	for _, p := range All() {
		if p.Mode != mode || p.Method != m || p.AliasOf != 0 || len(p.ExpectedIDs) == 0 {
			continue
		}
		if p.MatchesID(id) {
			return p, true
		}
	}
	return Profile{}, false
}

// readID reads the first four bytes of the cartridge bus.
func readID(c *protocol.Client, gba bool) ([]byte, error) {
	mode := protocol.ReadGB
	if gba {
		mode = protocol.ReadGBA
	}
	if err := c.SetStartAddress(0); err != nil {
		return nil, err
	}
	chunk, err := c.ReadChunk(mode)
	if err != nil {
		return nil, err
	}
	if err := c.StopRead(); err != nil {
		return nil, err
	}
	return append([]byte(nil), chunk[:4]...), nil
}

// resetChip returns JEDEC and Intel chips to read-array mode. Each family
// ignores the other's reset.
func resetChip(c *protocol.Client, gba bool) error {
	return c.FlashSequence(gba, []protocol.Command{{Addr: 0, Data: 0xF0}, {Addr: 0, Data: 0xFF}})
}
