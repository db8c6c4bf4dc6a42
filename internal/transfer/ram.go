package transfer

import (
	"context"
	"fmt"

	"github.com/richardwooding/gbxflash/internal/banking"
	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

// ReadGBRAM reads every save RAM bank of a GB cartridge.
func (e *Engine) ReadGBRAM(ctx context.Context, s cartridge.Session) (data []byte, err error) {
	size := s.SaveSize()
	if size == 0 {
		return nil, ErrNoSave
	}
	bankSize := int(s.RAMEndAddress) - banking.RAMBase + 1

	if err := e.enableRAM(s.Mapper); err != nil {
		return nil, err
	}
	defer func() {
		if derr := e.disableRAM(); derr != nil && err == nil {
			err = derr
		}
	}()

	st := &State{Total: size}
	data = make([]byte, 0, size)
	for bank := 0; bank < s.RAMBanks; bank++ {
		if err := e.selectRAMBank(st, bank); err != nil {
			return data, err
		}

		base := st.Offset
		chunk, err := e.ReadStream(ctx, st, bankSize, protocol.ReadGB, 0, func(off uint32) error {
			return e.client.SetStartAddress(banking.RAMBase + off - base)
		})
		data = append(data, chunk...)
		if err != nil {
			return data, err
		}
	}
	return data, nil
}

// WriteGBRAM writes a save image to GB save RAM.
func (e *Engine) WriteGBRAM(ctx context.Context, s cartridge.Session, image []byte) (err error) {
	size := s.SaveSize()
	if size == 0 {
		return ErrNoSave
	}
	if len(image) != size {
		return fmt.Errorf("%w: file is %d bytes, save RAM is %d", ErrSaveSize, len(image), size)
	}
	bankSize := int(s.RAMEndAddress) - banking.RAMBase + 1

	if err := e.enableRAM(s.Mapper); err != nil {
		return err
	}
	defer func() {
		if derr := e.disableRAM(); derr != nil && err == nil {
			err = derr
		}
	}()

	method := protocol.WriteGBRAM64
	st := &State{Total: size}
	for bank := 0; bank < s.RAMBanks; bank++ {
		if err := e.selectRAMBank(st, bank); err != nil {
			return err
		}

		base := st.Offset
		seek := func(off uint32) error {
			return e.client.SetStartAddress(banking.RAMBase + off - base)
		}
		if err := seek(st.Offset); err != nil {
			return err
		}

		end := int(base) + bankSize
		for int(st.Offset) < end {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := min(method.ChunkSize(), end-int(st.Offset))
			if err := e.WriteChunk(st, method, image[st.Offset:int(st.Offset)+n], seek); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) enableRAM(m cartridge.Mapper) error {
	if err := banking.WriteAll(e.client, banking.EnableRAMWrites(m)); err != nil {
		return fmt.Errorf("failed to enable RAM: %w", err)
	}
	return nil
}

func (e *Engine) disableRAM() error {
	if err := banking.WriteAll(e.client, banking.DisableRAMWrites()); err != nil {
		return fmt.Errorf("failed to disable RAM: %w", err)
	}
	return nil
}

func (e *Engine) selectRAMBank(st *State, bank int) error {
	st.Bank = bank
	w := banking.RAMBankWrite(bank)
	if err := e.client.SetBank(w.Addr, w.Value); err != nil {
		return fmt.Errorf("failed to select RAM bank %d: %w", bank, err)
	}
	return nil
}
