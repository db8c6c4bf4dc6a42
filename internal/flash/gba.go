package flash

import (
	"context"

	"github.com/richardwooding/gbxflash/internal/banking"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

// sharpChunk is the span one Sharp block erase clears.
const sharpChunk = 0x400000

// manualWordStride separates the windows programmed word by word.
const manualWordStride = 0x8000

func (j *job) gbaSeek(off uint32) error {
	return j.c.SetStartAddress(banking.WordAddress(off))
}

func (j *job) programGBA(ctx context.Context) error {
	p := j.p
	ps := pass{from: 0, to: j.size, seek: j.gbaSeek}

	if p.Algorithm == AlgoIntelInterleaved {
		j.log.Infof("unlocking flash")
		if err := j.command(flash2AdvanceUnlock()...); err != nil {
			return err
		}
	}

	switch {
	case p.Algorithm == AlgoSharp:
		if err := j.eraseSharp(); err != nil {
			return err
		}
	case j.wantChipErase():
		if err := j.chipErase(); err != nil {
			return err
		}
	case p.Erase == EraseSector:
		ps.sectors = p.SectorsFor(j.id)
		ps.eraseAt = func(off uint32) error {
			return j.eraseSector(off, banking.WordAddress(off))
		}
	}

	switch {
	case p.WordHead > 0:
		ps.special = j.writeWordHead
	case p.ManualWordWindow:
		ps.special = j.writeWordWindow
	}

	return j.write(ctx, ps)
}

// eraseSharp erases every 4 MiB block the image covers, then waits for each
// to report ready.
func (j *job) eraseSharp() error {
	j.log.Infof("erasing flash blocks")
	for off := uint32(0); off < j.size; off += sharpChunk {
		err := j.command(
			protocol.Command{Addr: off, Data: 0x30},
			protocol.Command{Addr: off, Data: 0xD0},
		)
		if err != nil {
			return err
		}
		j.erases++
	}
	for off := uint32(0); off < j.size; off += sharpChunk {
		if err := j.command(protocol.Command{Addr: off, Data: 0x70}); err != nil {
			return err
		}
		ready := func(chunk []byte) bool { return chunk[0] == 0x80 }
		if err := j.poll(banking.WordAddress(off), ChipPollDelay, ErrEraseTimeout, ready); err != nil {
			return err
		}
		if err := j.command(protocol.Command{Addr: off, Data: 0xFF}); err != nil {
			return err
		}
	}
	return nil
}

func word(chunk []byte, i int) uint16 {
	return uint16(chunk[i]) | uint16(chunk[i+1])<<8
}

// writeWordHead programs the first WordHead bytes one word at a time.
func (j *job) writeWordHead(off uint32, chunk []byte) (bool, error) {
	if off >= j.p.WordHead {
		return false, nil
	}
	seq := j.p.Method.ProgramSequence()
	for i := 0; i < len(chunk); i += 2 {
		if err := j.command(seq[:]...); err != nil {
			return false, err
		}
		if err := j.command(protocol.Command{Addr: off + uint32(i), Data: word(chunk, i)}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// writeWordWindow programs the 64 bytes ending each 32 KiB block one word
// at a time; the buffered write does not reach them on these chips.
func (j *job) writeWordWindow(off uint32, chunk []byte) (bool, error) {
	if off == 0 || off != j.wordWindow {
		return false, nil
	}
	j.wordWindow += manualWordStride
	for i := 0; i < len(chunk); i += 2 {
		addr := off + uint32(i)
		err := j.command(
			protocol.Command{Addr: addr, Data: 0x40},
			protocol.Command{Addr: addr, Data: word(chunk, i)},
		)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// flash2AdvanceUnlock is the write sequence that enables programming on
// Flash2Advance cartridges.
func flash2AdvanceUnlock() []protocol.Command {
	var cmds []protocol.Command
	add := func(addr uint32, data uint16, n int) {
		for range n {
			cmds = append(cmds, protocol.Command{Addr: addr, Data: data})
		}
	}
	add(0, 0xFF, 1)
	add(2, 0xFF, 1)
	add(0x987654*2, 0x5354, 1)
	add(0x12345*2, 0x1234, 500)
	add(0x7654*2, 0x5354, 1)
	add(0x12345*2, 0x5354, 1)
	add(0x12345*2, 0x5678, 500)
	add(0x987654*2, 0x5354, 1)
	add(0x12345*2, 0x5354, 1)
	add(0x765400*2, 0x5678, 1)
	add(0x13450*2, 0x1234, 1)
	add(0x12345*2, 0xABCD, 500)
	add(0x987654*2, 0x5354, 1)
	add(0xF12345*2, 0x9413, 1)
	return cmds
}
