package transfer

import (
	"context"
	"fmt"

	"github.com/richardwooding/gbxflash/internal/banking"
	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

// gbaROMSizes are the sizes probed for open bus, smallest first.
var gbaROMSizes = []int{
	0x100000, 0x200000, 0x400000, 0x800000, 0x1000000, 0x2000000,
}

// gbHeaderRead covers the GB header in whole chunks.
const gbHeaderRead = 0x180

// ReadGBHeader reads the start of bank 0 and builds a session from it.
func (e *Engine) ReadGBHeader(ctx context.Context) (cartridge.Session, []byte, error) {
	st := &State{Total: gbHeaderRead}
	head, err := e.ReadStream(ctx, st, gbHeaderRead, protocol.ReadGB, 0, func(off uint32) error {
		return e.client.SetStartAddress(off)
	})
	if err != nil {
		return cartridge.Session{}, nil, fmt.Errorf("failed to read header: %w", err)
	}
	s, err := cartridge.NewGBSession(head)
	if err != nil {
		return cartridge.Session{}, nil, err
	}
	return s, head, nil
}

// ReadGBROM reads every ROM bank of a GB cartridge. Bank 0 is read through
// the fixed window and every other bank through 0x4000-0x7FFF, with one
// bank switch per bank.
func (e *Engine) ReadGBROM(ctx context.Context, s cartridge.Session) ([]byte, error) {
	size := s.ROMBanks * banking.BankSize
	tr := banking.NewTranslator(s.Mapper, e.client)
	st := &State{Total: size}

	e.log.Infof("reading %d banks (%d bytes) using %s", s.ROMBanks, size, s.Mapper)
	return e.ReadStream(ctx, st, size, protocol.ReadGB, banking.BankSize, func(off uint32) error {
		addr, err := tr.Locate(off)
		if err != nil {
			return err
		}
		st.Bank = int(off / banking.BankSize)
		return e.client.SetStartAddress(uint32(addr))
	})
}

// gbaReadMode picks the largest read burst the reader supports.
func (e *Engine) gbaReadMode() protocol.ReadMode {
	if e.info.FastRead {
		return protocol.ReadGBA256
	}
	return protocol.ReadGBA
}

// ReadGBARange reads n bytes of GBA ROM from byte offset start.
func (e *Engine) ReadGBARange(ctx context.Context, start uint32, n int) ([]byte, error) {
	st := &State{Offset: start, Total: n}
	return e.ReadStream(ctx, st, n, e.gbaReadMode(), 0, func(off uint32) error {
		return e.client.SetStartAddress(banking.WordAddress(off))
	})
}

// ReadGBAROM reads size bytes of GBA ROM.
func (e *Engine) ReadGBAROM(ctx context.Context, size int) ([]byte, error) {
	e.log.Infof("reading %d bytes of GBA ROM", size)
	return e.ReadGBARange(ctx, 0, size)
}

// DetectGBAROMSize finds the ROM size by looking for open bus: past the end
// of the ROM the cartridge returns the low bits of the word address.
func (e *Engine) DetectGBAROMSize(ctx context.Context) (int, error) {
	for _, size := range gbaROMSizes {
		probe, err := e.ReadGBARange(ctx, uint32(size), protocol.ReadGBA.ChunkSize())
		if err != nil {
			return 0, fmt.Errorf("failed to probe ROM size: %w", err)
		}
		if isOpenBus(uint32(size), probe) {
			e.log.Debugf("open bus at 0x%X", size)
			return size, nil
		}
	}
	return gbaROMSizes[len(gbaROMSizes)-1], nil
}

func isOpenBus(start uint32, data []byte) bool {
	for i := 0; i+1 < len(data); i += 2 {
		word := (start + uint32(i)) / 2
		if data[i] != byte(word) || data[i+1] != byte(word>>8) {
			return false
		}
	}
	return true
}

// ReadGBAHeader reads the GBA header and probes ROM size and save type.
func (e *Engine) ReadGBAHeader(ctx context.Context, save cartridge.SaveType) (cartridge.Session, []byte, error) {
	head, err := e.ReadGBARange(ctx, 0, cartridge.GBAHeaderSize)
	if err != nil {
		return cartridge.Session{}, nil, fmt.Errorf("failed to read header: %w", err)
	}

	size, err := e.DetectGBAROMSize(ctx)
	if err != nil {
		return cartridge.Session{}, nil, err
	}

	if save == cartridge.SaveNone {
		if detected, err := e.DetectGBASave(); err == nil {
			save = detected
		}
	}

	s, err := cartridge.NewGBASession(head, size, save)
	if err != nil {
		return cartridge.Session{}, nil, err
	}
	return s, head, nil
}
