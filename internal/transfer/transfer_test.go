package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/richardwooding/gbxflash/internal/banking"
	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/clock"
	"github.com/richardwooding/gbxflash/internal/device"
	"github.com/richardwooding/gbxflash/internal/protocol"
	"github.com/richardwooding/gbxflash/internal/simdevice"
)

func newTestEngine(t *testing.T, cfg simdevice.Config, opts ...Option) (*Engine, *simdevice.Device, *clock.Fake) {
	t.Helper()
	if cfg.Firmware == 0 {
		cfg.Firmware = 19
	}
	if cfg.PCB == 0 {
		cfg.PCB = device.PCB13
	}
	sim := simdevice.New(cfg)
	fake := &clock.Fake{}
	h, err := device.New(sim, device.WithSleeper(fake))
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	return New(h, opts...), sim, fake
}

func makeGBROM(banks int, cartType cartridge.CartridgeType, romSize, ramSize byte) []byte {
	rom := make([]byte, banks*banking.BankSize)
	for i := range rom {
		rom[i] = byte(i/banking.BankSize)*17 ^ byte(i)
	}
	logo := cartridge.NintendoLogo()
	copy(rom[0x0104:], logo[:])
	copy(rom[0x0134:0x0144], make([]byte, 16))
	copy(rom[0x0134:], "TESTCART")
	rom[0x0147] = byte(cartType)
	rom[0x0148] = romSize
	rom[0x0149] = ramSize
	rom[0x014D] = cartridge.HeaderChecksum(rom)
	return rom
}

func makeGBAROM(size int) []byte {
	rom := make([]byte, size)
	for i := range rom {
		rom[i] = byte(i*31 + i>>9)
	}
	copy(rom[0xA0:0xAC], make([]byte, 12))
	copy(rom[0xA0:], "GBXTEST")
	copy(rom[0xAC:], "AGBE")
	rom[0xB2] = 0x96
	rom[0xBD] = cartridge.GBAComplement(rom)
	return rom
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i) ^ seed ^ byte(i>>8)
	}
	return b
}

func bankWrites(sim *simdevice.Device, addr uint32) int {
	n := 0
	for _, e := range sim.Events() {
		if e.Op == protocol.OpSetBank && e.Addr == addr {
			n++
		}
	}
	return n
}

func startAddresses(sim *simdevice.Device) []uint32 {
	var out []uint32
	for _, e := range sim.Events() {
		if e.Op == protocol.OpSetStartAddress {
			out = append(out, e.Addr)
		}
	}
	return out
}

func TestReadGBROM(t *testing.T) {
	tests := []struct {
		name     string
		cartType cartridge.CartridgeType
		romSize  byte
		banks    int
		mapper   cartridge.Mapper
		register uint32
	}{
		{"MBC1", cartridge.TypeMBC1, 0x02, 8, cartridge.MapperMBC1, banking.RegROMBank},
		{"MBC3", cartridge.TypeMBC3, 0x01, 4, cartridge.MapperMBC3, banking.RegROMBankLow},
		{"MBC5", cartridge.TypeMBC5, 0x01, 4, cartridge.MapperMBC5, banking.RegROMBankLow},
		{"ROM only", cartridge.TypeROMOnly, 0x00, 2, cartridge.MapperNone, banking.RegROMBankLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rom := makeGBROM(tt.banks, tt.cartType, tt.romSize, 0)
			cart := &simdevice.GBCart{Mapper: tt.mapper, ROM: append([]byte(nil), rom...)}
			e, sim, _ := newTestEngine(t, simdevice.Config{GB: cart})

			s, _, err := e.ReadGBHeader(context.Background())
			if err != nil {
				t.Fatalf("ReadGBHeader() error = %v", err)
			}
			if s.ROMBanks != tt.banks {
				t.Errorf("ROMBanks = %d, want %d", s.ROMBanks, tt.banks)
			}
			if s.Mapper != tt.mapper {
				t.Errorf("Mapper = %s, want %s", s.Mapper, tt.mapper)
			}

			got, err := e.ReadGBROM(context.Background(), s)
			if err != nil {
				t.Fatalf("ReadGBROM() error = %v", err)
			}
			if !bytes.Equal(got, rom) {
				t.Fatalf("ReadGBROM() returned different data")
			}

			want := tt.banks - 1
			if tt.mapper == cartridge.MapperNone {
				want = 0
			}
			if n := bankWrites(sim, tt.register); n != want {
				t.Errorf("bank register writes = %d, want %d", n, want)
			}
		})
	}
}

func TestReadGBROMResumesAfterShortRead(t *testing.T) {
	rom := makeGBROM(2, cartridge.TypeMBC5, 0x00, 0)
	cart := &simdevice.GBCart{Mapper: cartridge.MapperMBC5, ROM: append([]byte(nil), rom...)}
	e, sim, fake := newTestEngine(t, simdevice.Config{GB: cart, ShortReadAt: 3, ShortReadBytes: 10})

	s, err := cartridge.NewGBSession(rom)
	if err != nil {
		t.Fatalf("NewGBSession() error = %v", err)
	}

	got, err := e.ReadGBROM(context.Background(), s)
	if err != nil {
		t.Fatalf("ReadGBROM() error = %v", err)
	}
	if !bytes.Equal(got, rom) {
		t.Fatalf("ReadGBROM() returned different data")
	}

	addrs := startAddresses(sim)
	if len(addrs) < 2 || addrs[0] != 0 || addrs[1] != 0x80 {
		t.Errorf("start addresses = %v, want [0 0x80 ...]", addrs)
	}
	if n := fake.Count(RetrySettle); n != 1 {
		t.Errorf("retry settles = %d, want 1", n)
	}
}

func TestReadGBROMGivesUpAfterRetries(t *testing.T) {
	rom := makeGBROM(2, cartridge.TypeMBC5, 0x00, 0)
	cart := &simdevice.GBCart{Mapper: cartridge.MapperMBC5, ROM: rom}
	e, _, _ := newTestEngine(t, simdevice.Config{GB: cart, ShortReadAt: 3, ShortReadBytes: 10}, WithMaxRetries(0))

	s, _ := cartridge.NewGBSession(rom)
	got, err := e.ReadGBROM(context.Background(), s)
	if !errors.Is(err, ErrPartialTransfer) {
		t.Fatalf("ReadGBROM() error = %v, want %v", err, ErrPartialTransfer)
	}

	var opErr *OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("ReadGBROM() error = %T, want *OpError", err)
	}
	if opErr.Offset != 0x80 {
		t.Errorf("Offset = 0x%X, want 0x80", opErr.Offset)
	}
	if len(got) != 0x80 {
		t.Errorf("len(data) = %d, want %d", len(got), 0x80)
	}
}

func TestReadGBROMCancelled(t *testing.T) {
	rom := makeGBROM(2, cartridge.TypeMBC5, 0x00, 0)
	e, sim, _ := newTestEngine(t, simdevice.Config{GB: &simdevice.GBCart{Mapper: cartridge.MapperMBC5, ROM: rom}})
	s, _ := cartridge.NewGBSession(rom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.ReadGBROM(ctx, s); !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadGBROM() error = %v, want %v", err, context.Canceled)
	}
	if n := sim.Count(protocol.OpReadROMRAM); n != 0 {
		t.Errorf("read commands = %d, want 0", n)
	}
}

func TestProgress(t *testing.T) {
	rom := makeGBROM(2, cartridge.TypeMBC5, 0x00, 0)
	var done, total, calls int
	e, _, _ := newTestEngine(t, simdevice.Config{GB: &simdevice.GBCart{Mapper: cartridge.MapperMBC5, ROM: rom}},
		WithProgress(func(d, t int) {
			done, total = d, t
			calls++
		}))
	s, _ := cartridge.NewGBSession(rom)

	if _, err := e.ReadGBROM(context.Background(), s); err != nil {
		t.Fatalf("ReadGBROM() error = %v", err)
	}
	if done != len(rom) || total != len(rom) {
		t.Errorf("last progress = %d/%d, want %d/%d", done, total, len(rom), len(rom))
	}
	if want := len(rom) / protocol.ReadGB.ChunkSize(); calls != want {
		t.Errorf("progress calls = %d, want %d", calls, want)
	}
}

func TestGBRAMRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		cartType cartridge.CartridgeType
		mapper   cartridge.Mapper
		ramSize  byte
		size     int
	}{
		{"MBC1 32K", cartridge.TypeMBC1RAMBattery, cartridge.MapperMBC1, 0x03, 0x8000},
		{"MBC2", cartridge.TypeMBC2Battery, cartridge.MapperMBC2, 0x00, 0x200},
		{"MBC3 8K", cartridge.TypeMBC3RAMBattery, cartridge.MapperMBC3, 0x02, 0x2000},
		{"MBC5 128K", cartridge.TypeMBC5RAMBattery, cartridge.MapperMBC5, 0x04, 0x20000},
		{"2K", cartridge.TypeMBC5RAMBattery, cartridge.MapperMBC5, 0x01, 0x800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rom := makeGBROM(2, tt.cartType, 0x00, tt.ramSize)
			cart := &simdevice.GBCart{Mapper: tt.mapper, ROM: rom, RAM: make([]byte, tt.size)}
			e, _, _ := newTestEngine(t, simdevice.Config{GB: cart})

			s, err := cartridge.NewGBSession(rom)
			if err != nil {
				t.Fatalf("NewGBSession() error = %v", err)
			}
			if s.SaveSize() != tt.size {
				t.Fatalf("SaveSize() = %d, want %d", s.SaveSize(), tt.size)
			}

			image := pattern(tt.size, 0x5A)
			if err := e.WriteGBRAM(context.Background(), s, image); err != nil {
				t.Fatalf("WriteGBRAM() error = %v", err)
			}
			if !bytes.Equal(cart.RAM, image) {
				t.Fatalf("cartridge RAM differs from written image")
			}

			got, err := e.ReadGBRAM(context.Background(), s)
			if err != nil {
				t.Fatalf("ReadGBRAM() error = %v", err)
			}
			if !bytes.Equal(got, image) {
				t.Fatalf("ReadGBRAM() returned different data")
			}
		})
	}
}

func TestWriteGBRAMResendsUnacknowledgedChunk(t *testing.T) {
	rom := makeGBROM(2, cartridge.TypeMBC5RAMBattery, 0x00, 0x02)
	cart := &simdevice.GBCart{Mapper: cartridge.MapperMBC5, ROM: rom, RAM: make([]byte, 0x2000)}
	e, sim, _ := newTestEngine(t, simdevice.Config{GB: cart, DropAckAt: 2})
	s, _ := cartridge.NewGBSession(rom)

	image := pattern(0x2000, 0x33)
	if err := e.WriteGBRAM(context.Background(), s, image); err != nil {
		t.Fatalf("WriteGBRAM() error = %v", err)
	}
	if !bytes.Equal(cart.RAM, image) {
		t.Fatalf("cartridge RAM differs from written image")
	}
	if got, want := sim.Count(protocol.OpWriteRAM), 0x2000/64+1; got != want {
		t.Errorf("write frames = %d, want %d", got, want)
	}
}

func TestGBRAMErrors(t *testing.T) {
	rom := makeGBROM(2, cartridge.TypeMBC5, 0x00, 0x00)
	e, _, _ := newTestEngine(t, simdevice.Config{GB: &simdevice.GBCart{Mapper: cartridge.MapperMBC5, ROM: rom}})
	s, _ := cartridge.NewGBSession(rom)

	if _, err := e.ReadGBRAM(context.Background(), s); !errors.Is(err, ErrNoSave) {
		t.Errorf("ReadGBRAM() error = %v, want %v", err, ErrNoSave)
	}

	rom = makeGBROM(2, cartridge.TypeMBC5RAMBattery, 0x00, 0x02)
	s, _ = cartridge.NewGBSession(rom)
	if err := e.WriteGBRAM(context.Background(), s, make([]byte, 100)); !errors.Is(err, ErrSaveSize) {
		t.Errorf("WriteGBRAM() error = %v, want %v", err, ErrSaveSize)
	}
}

func TestReadGBAHeaderDetectsSize(t *testing.T) {
	tests := []struct {
		name string
		size int
		pcb  int
		op   protocol.Opcode
	}{
		{"1M fast", 0x100000, device.PCB13, protocol.OpGBAReadROM256},
		{"4M fast", 0x400000, device.PCB11, protocol.OpGBAReadROM256},
		{"1M v1.0", 0x100000, device.PCB10, protocol.OpGBAReadROM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rom := makeGBAROM(tt.size)
			cart := &simdevice.GBACart{ROM: rom}
			e, sim, _ := newTestEngine(t, simdevice.Config{PCB: tt.pcb, GBA: cart})

			s, _, err := e.ReadGBAHeader(context.Background(), cartridge.SaveNone)
			if err != nil {
				t.Fatalf("ReadGBAHeader() error = %v", err)
			}
			if s.ROMSize != tt.size {
				t.Errorf("ROMSize = 0x%X, want 0x%X", s.ROMSize, tt.size)
			}
			if s.Title != "GBXTEST" {
				t.Errorf("Title = %q, want %q", s.Title, "GBXTEST")
			}
			if !s.ChecksumOK {
				t.Errorf("ChecksumOK = false, want true")
			}
			if s.Save != cartridge.SaveNone {
				t.Errorf("Save = %s, want none", s.Save)
			}
			if sim.Count(tt.op) == 0 {
				t.Errorf("no %q read commands", tt.op)
			}
		})
	}
}

func TestReadGBAROM(t *testing.T) {
	rom := makeGBAROM(0x100000)
	e, _, _ := newTestEngine(t, simdevice.Config{GBA: &simdevice.GBACart{ROM: rom}})

	got, err := e.ReadGBAROM(context.Background(), len(rom))
	if err != nil {
		t.Fatalf("ReadGBAROM() error = %v", err)
	}
	if !bytes.Equal(got, rom) {
		t.Fatalf("ReadGBAROM() returned different data")
	}
}

func TestGBASaveRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		save   cartridge.SaveType
		id     [2]byte
		erases int
	}{
		{"SRAM", cartridge.SaveSRAM256K, [2]byte{}, 0},
		{"SRAM 1M", cartridge.SaveSRAM1M, [2]byte{}, 0},
		{"flash", cartridge.SaveFlash512K, [2]byte{0x32, 0x1B}, 16},
		{"flash 1M", cartridge.SaveFlash1M, [2]byte{0x62, 0x13}, 32},
		{"flash Atmel", cartridge.SaveFlash512K, [2]byte{0x1F, 0x3D}, 0},
		{"EEPROM 4K", cartridge.SaveEEPROM4K, [2]byte{}, 0},
		{"EEPROM 64K", cartridge.SaveEEPROM64K, [2]byte{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := &simdevice.GBACart{
				ROM:     makeGBAROM(0x1000),
				Save:    tt.save,
				SaveMem: make([]byte, tt.save.Bytes()),
				SaveID:  tt.id,
			}
			e, sim, _ := newTestEngine(t, simdevice.Config{GBA: cart})
			s := cartridge.Session{Mode: cartridge.ModeGBA, Save: tt.save, EEPROM: tt.save.EEPROM()}

			image := pattern(tt.save.Bytes(), 0xC3)
			if err := e.WriteGBASave(context.Background(), s, image); err != nil {
				t.Fatalf("WriteGBASave() error = %v", err)
			}
			if !bytes.Equal(cart.SaveMem, image) {
				t.Fatalf("save memory differs from written image")
			}
			if n := sim.Count(protocol.OpGBAFlash4KErase); n != tt.erases {
				t.Errorf("sector erases = %d, want %d", n, tt.erases)
			}

			got, err := e.ReadGBASave(context.Background(), s)
			if err != nil {
				t.Fatalf("ReadGBASave() error = %v", err)
			}
			if !bytes.Equal(got, image) {
				t.Fatalf("ReadGBASave() returned different data")
			}
		})
	}
}

func TestDetectGBASave(t *testing.T) {
	tests := []struct {
		name    string
		save    cartridge.SaveType
		id      [2]byte
		want    cartridge.SaveType
		wantErr error
	}{
		{"Sanyo 1M", cartridge.SaveFlash1M, [2]byte{0x62, 0x13}, cartridge.SaveFlash1M, nil},
		{"SST", cartridge.SaveFlash512K, [2]byte{0xBF, 0xD4}, cartridge.SaveFlash512K, nil},
		{"SRAM", cartridge.SaveSRAM256K, [2]byte{}, cartridge.SaveNone, ErrSaveNotDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := &simdevice.GBACart{ROM: makeGBAROM(0x1000), Save: tt.save, SaveMem: make([]byte, tt.save.Bytes()), SaveID: tt.id}
			e, _, _ := newTestEngine(t, simdevice.Config{GBA: cart})

			got, err := e.DetectGBASave()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DetectGBASave() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectGBASave() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWriteGBASaveErrors(t *testing.T) {
	e, _, _ := newTestEngine(t, simdevice.Config{GBA: &simdevice.GBACart{ROM: makeGBAROM(0x1000)}})

	if err := e.WriteGBASave(context.Background(), cartridge.Session{Mode: cartridge.ModeGBA}, nil); !errors.Is(err, ErrNoSave) {
		t.Errorf("WriteGBASave() error = %v, want %v", err, ErrNoSave)
	}
	s := cartridge.Session{Mode: cartridge.ModeGBA, Save: cartridge.SaveSRAM256K}
	if err := e.WriteGBASave(context.Background(), s, make([]byte, 10)); !errors.Is(err, ErrSaveSize) {
		t.Errorf("WriteGBASave() error = %v, want %v", err, ErrSaveSize)
	}
}
