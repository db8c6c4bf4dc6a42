package flash

import (
	"context"

	"github.com/richardwooding/gbxflash/internal/banking"
	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

// Mighty cartridges keep save slots in the second megabyte. An image whose
// first slot is blank leaves the area alone.
const (
	mightySaveStart = 0x20000
	mightySaveEnd   = 0x120000
)

// gbSmartBanks is the number of banks on each GB Smart flash chip.
const gbSmartBanks = 32

func (j *job) translator() *banking.Translator {
	var opts []banking.Option
	if j.p.HighBitAlways {
		opts = append(opts, banking.WithHighBitAlways())
	}
	mapper := cartridge.MapperMBC5
	if j.p.Layout == LayoutFlat {
		mapper = cartridge.MapperNone
	}
	return banking.NewTranslator(mapper, j.c, opts...)
}

// gbWindows splits the image into the ranges the layout maps one at a time.
func (j *job) gbWindows() []window {
	p := j.p
	switch p.Layout {
	case LayoutMighty, LayoutMultiChip:
		var ws []window
		for n := uint32(0); n*p.BlockSize < j.size; n++ {
			base := n * p.BlockSize
			w := window{from: base, to: min(base+p.BlockSize, j.size), base: base}
			if p.Layout == LayoutMighty {
				w.enter = func() error { return j.selectMightyBlock(int(n)) }
			} else {
				w.enter = func() error { return j.selectSmartChip(int(n)) }
			}
			ws = append(ws, w)
		}
		return ws

	case LayoutBlockSelect:
		return []window{{from: 0, to: j.size, enter: j.selectBlock}}

	default:
		return []window{{from: 0, to: j.size}}
	}
}

func (j *job) programGB(ctx context.Context) error {
	p := j.p
	for _, w := range j.gbWindows() {
		if w.enter != nil {
			if err := w.enter(); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		tr := j.translator()
		ps := pass{from: w.from, to: w.to, segment: banking.BankSize, seek: j.gbSeek(tr, w.base)}

		if p.Layout == LayoutCPLD {
			ps.seek = j.cpldSeek(tr)
		}

		switch {
		case j.wantChipErase():
			if err := j.chipErase(); err != nil {
				return err
			}
		case p.Erase == EraseSector:
			ps.sectors = j.p.SectorsFor(j.id)
			ps.eraseAt = func(off uint32) error {
				addr, err := tr.Locate(off - w.base)
				if err != nil {
					return err
				}
				return j.eraseSector(uint32(addr), uint32(addr))
			}
		}

		if p.Layout == LayoutMighty && w.base == 0 && j.blankSaveArea() {
			ps.skipFrom, ps.skipTo = mightySaveStart, min(mightySaveEnd, w.to)
		}

		if err := j.write(ctx, ps); err != nil {
			return err
		}
	}

	if p.Layout == LayoutMighty {
		return j.selectMightyBlock(0)
	}
	return nil
}

// gbSeek positions the bus at an image offset using tr for the window at base.
func (j *job) gbSeek(tr *banking.Translator, base uint32) func(uint32) error {
	return func(off uint32) error {
		addr, err := tr.Locate(off - base)
		if err != nil {
			return err
		}
		return j.c.SetStartAddress(uint32(addr))
	}
}

// cpldSeek reselects the bank before every seek. Programming pulses the
// CPLD reset, which drops the bank register.
func (j *job) cpldSeek(tr *banking.Translator) func(uint32) error {
	return func(off uint32) error {
		if err := j.c.SetMode(protocol.OpGBFlashBank1Commands); err != nil {
			return err
		}
		tr.Forget()
		addr, err := tr.LocateSwitchable(off)
		if err != nil {
			return err
		}
		return j.c.SetStartAddress(uint32(addr))
	}
}

// blankSaveArea reports whether a Mighty image leaves its first save slot empty.
func (j *job) blankSaveArea() bool {
	if j.size <= mightySaveEnd {
		return false
	}
	for _, b := range j.image[mightySaveStart : mightySaveStart+0x20000] {
		if b != 0 {
			return false
		}
	}
	return true
}

// selectMightyBlock maps an 8 MiB block of a Mighty cartridge.
func (j *job) selectMightyBlock(block int) error {
	j.log.Debugf("selecting 8 MiB block %d", block)
	return banking.WriteAll(j.c, banking.MightyBlockWrites(block))
}

// selectSmartChip maps one flash chip of a GB Smart cartridge.
func (j *job) selectSmartChip(chip int) error {
	if err := j.c.SetBank(banking.RegROMBankLow, 1); err != nil {
		return err
	}
	if err := j.c.SetStartAddress(0); err != nil {
		return err
	}
	if chip == 0 && !j.smartMoved {
		return nil
	}
	j.smartMoved = true
	j.log.Debugf("selecting flash chip %d", chip)
	bank := uint8(gbSmartBanks * chip)
	return banking.WriteAll(j.c, []banking.Write{
		{Addr: banking.RegROMBank, Value: bank},
		{Addr: 0x1000, Value: 0xA5},
		{Addr: 0x7000, Value: 0x00},
		{Addr: 0x1000, Value: 0x98},
		{Addr: banking.RegROMBank, Value: bank},
		{Addr: 0x1000, Value: 0xA5},
		{Addr: 0x7000, Value: 0x23},
		{Addr: 0x1000, Value: 0x98},
	})
}

// selectBlock maps the user-chosen 8 MiB block of a block-select cartridge.
func (j *job) selectBlock() error {
	j.log.Infof("selecting 8 MiB block %d", j.opts.Block)
	return j.command(
		protocol.Command{Addr: 0x7000, Data: 0x00},
		protocol.Command{Addr: 0x7001, Data: 0x00},
		protocol.Command{Addr: 0x7002, Data: uint16(0x90 + j.opts.Block)},
	)
}
