package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

const (
	// saveBankSize is the window of 1 Mbit SRAM and flash saves.
	saveBankSize = 0x10000

	// saveSectorSize is the erase unit of flash saves.
	saveSectorSize = 0x1000

	// sramBankRegister selects the upper half of 1 Mbit SRAM.
	sramBankRegister = 0x1000000

	// SaveErasePolls bounds the wait for a flash save sector to read blank.
	SaveErasePolls = 200

	// SaveErasePollDelay is the wait between blank checks.
	SaveErasePollDelay = 5 * time.Millisecond

	// EEPROMWriteSettle is the wait after each EEPROM block write.
	EEPROMWriteSettle = time.Millisecond
)

// ErrSaveEraseTimeout indicates a flash save sector that never read blank.
var ErrSaveEraseTimeout = errors.New("flash save sector erase timeout")

// FlashSaveID identifies a flash save chip as manufacturer and device code.
type FlashSaveID [2]byte

// Atmel pages are written whole and need no erase.
var atmelID = FlashSaveID{0x1F, 0x3D}

var flashSaveChips = map[FlashSaveID]cartridge.SaveType{
	atmelID:      cartridge.SaveFlash512K,
	{0x32, 0x1B}: cartridge.SaveFlash512K, // Panasonic
	{0xBF, 0xD4}: cartridge.SaveFlash512K, // SST
	{0xC2, 0x1C}: cartridge.SaveFlash512K, // Macronix
	{0xC2, 0x09}: cartridge.SaveFlash1M,   // Macronix
	{0x62, 0x13}: cartridge.SaveFlash1M,   // Sanyo
}

// ReadFlashSaveID asks the cartridge for its flash save chip ID.
func (e *Engine) ReadFlashSaveID() (FlashSaveID, error) {
	b, err := e.client.RequestBytes(protocol.OpGBAFlashSaveID, 2)
	if err != nil {
		return FlashSaveID{}, fmt.Errorf("failed to read flash save ID: %w", err)
	}
	return FlashSaveID{b[0], b[1]}, nil
}

// DetectGBASave identifies flash saves by chip ID. SRAM and EEPROM carry no
// ID and must be named by the caller.
func (e *Engine) DetectGBASave() (cartridge.SaveType, error) {
	id, err := e.ReadFlashSaveID()
	if err != nil {
		return cartridge.SaveNone, err
	}
	if t, ok := flashSaveChips[id]; ok {
		e.log.Debugf("flash save chip %02X %02X", id[0], id[1])
		return t, nil
	}
	return cartridge.SaveNone, ErrSaveNotDetected
}

func saveBanks(t cartridge.SaveType) (banks, size int) {
	total := t.Bytes()
	if total > saveBankSize {
		return total / saveBankSize, saveBankSize
	}
	return 1, total
}

// selectSaveBank maps one 64 KiB half of a 1 Mbit save.
func (e *Engine) selectSaveBank(t cartridge.SaveType, bank int) error {
	switch {
	case t.Bytes() <= saveBankSize:
		return nil
	case t.IsSRAM():
		return e.client.GBAFlashCommand(sramBankRegister, uint16(bank))
	case t.IsFlash():
		return e.client.SetNumber(protocol.OpGBAFlashSetBank, uint32(bank))
	}
	return nil
}

// ReadGBASave reads the save memory named by s.Save.
func (e *Engine) ReadGBASave(ctx context.Context, s cartridge.Session) ([]byte, error) {
	t := s.Save
	if t == cartridge.SaveNone {
		return nil, ErrNoSave
	}
	st := &State{Total: t.Bytes()}

	if class := t.EEPROM(); class != cartridge.EEPROMNone {
		if err := e.client.SetNumber(protocol.OpGBASetEEPROMSize, uint32(class)); err != nil {
			return nil, err
		}
		return e.ReadStream(ctx, st, t.Bytes(), protocol.ReadGBAEEPROM, 0, e.client.SetStartAddress)
	}

	banks, bankSize := saveBanks(t)
	data := make([]byte, 0, t.Bytes())
	for bank := 0; bank < banks; bank++ {
		st.Bank = bank
		if err := e.selectSaveBank(t, bank); err != nil {
			return data, fmt.Errorf("failed to select save bank %d: %w", bank, err)
		}
		base := st.Offset
		chunk, err := e.ReadStream(ctx, st, bankSize, protocol.ReadGBASRAM, 0, func(off uint32) error {
			return e.client.SetStartAddress(off - base)
		})
		data = append(data, chunk...)
		if err != nil {
			return data, err
		}
	}
	if banks > 1 {
		if err := e.selectSaveBank(t, 0); err != nil {
			return data, err
		}
	}
	return data, nil
}

// WriteGBASave writes a save image to the save memory named by s.Save.
func (e *Engine) WriteGBASave(ctx context.Context, s cartridge.Session, image []byte) error {
	t := s.Save
	if t == cartridge.SaveNone {
		return ErrNoSave
	}
	if len(image) != t.Bytes() {
		return fmt.Errorf("%w: file is %d bytes, %s save is %d", ErrSaveSize, len(image), t, t.Bytes())
	}
	st := &State{Total: len(image)}

	if class := t.EEPROM(); class != cartridge.EEPROMNone {
		return e.writeEEPROM(ctx, st, class, image)
	}

	method := protocol.WriteGBASRAM64
	atmel := false
	if t.IsFlash() {
		id, err := e.ReadFlashSaveID()
		if err != nil {
			return err
		}
		method = protocol.WriteGBAFlashSave64
		if id == atmelID {
			method = protocol.WriteGBAFlashSaveAtmel128
			atmel = true
		}
	}

	banks, bankSize := saveBanks(t)
	for bank := 0; bank < banks; bank++ {
		st.Bank = bank
		if err := e.selectSaveBank(t, bank); err != nil {
			return fmt.Errorf("failed to select save bank %d: %w", bank, err)
		}
		base := st.Offset
		seek := func(off uint32) error {
			return e.client.SetStartAddress(off - base)
		}

		for int(st.Offset) < int(base)+bankSize {
			if err := ctx.Err(); err != nil {
				return err
			}

			if t.IsFlash() && !atmel && (st.Offset-base)%saveSectorSize == 0 {
				st.Sector = st.Offset - base
				if err := e.eraseSaveSector(st.Sector); err != nil {
					return &OpError{Op: "erase", Offset: st.Offset, Attempts: 1, Err: err}
				}
				if err := seek(st.Offset); err != nil {
					return err
				}
			} else if st.Offset == base {
				if err := seek(st.Offset); err != nil {
					return err
				}
			}

			n := method.ChunkSize()
			if err := e.WriteChunk(st, method, image[st.Offset:int(st.Offset)+n], seek); err != nil {
				return err
			}
		}
	}
	if banks > 1 {
		return e.selectSaveBank(t, 0)
	}
	return nil
}

// eraseSaveSector erases one 4 KiB flash save sector at a bank-relative
// address and waits until it reads blank.
func (e *Engine) eraseSaveSector(addr uint32) error {
	if err := e.client.SetNumber(protocol.OpGBAFlash4KErase, addr/saveSectorSize); err != nil {
		return err
	}
	if err := e.client.WaitForAck(); err != nil {
		return err
	}

	for i := 0; i < SaveErasePolls; i++ {
		if err := e.client.SetStartAddress(addr); err != nil {
			return err
		}
		chunk, err := e.client.ReadChunk(protocol.ReadGBASRAM)
		if stopErr := e.client.StopRead(); err == nil {
			err = stopErr
		}
		if err != nil {
			return err
		}
		if chunk[0] == 0xFF {
			return nil
		}
		e.sleep.Sleep(SaveErasePollDelay)
	}
	return fmt.Errorf("%w: sector 0x%X", ErrSaveEraseTimeout, addr)
}

func (e *Engine) writeEEPROM(ctx context.Context, st *State, class cartridge.EEPROMSize, image []byte) error {
	if err := e.client.SetNumber(protocol.OpGBASetEEPROMSize, uint32(class)); err != nil {
		return err
	}
	seek := e.client.SetStartAddress
	if err := seek(0); err != nil {
		return err
	}

	method := protocol.WriteGBAEEPROM8
	for int(st.Offset) < len(image) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := method.ChunkSize()
		if err := e.WriteChunk(st, method, image[st.Offset:int(st.Offset)+n], seek); err != nil {
			return err
		}
		e.sleep.Sleep(EEPROMWriteSettle)
	}
	return nil
}
