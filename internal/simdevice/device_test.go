package simdevice

import (
	"bytes"
	"errors"
	"testing"

	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/protocol"
	"github.com/richardwooding/gbxflash/internal/serial"
)

func TestDeviceStreamsBankedROM(t *testing.T) {
	rom := make([]byte, 4*0x4000)
	for i := range rom {
		rom[i] = byte(i>>14) ^ byte(i)
	}
	dev := New(Config{GB: &GBCart{Mapper: cartridge.MapperMBC5, ROM: rom}})
	c := protocol.New(dev)

	if err := c.SetBank(0x2100, 3); err != nil {
		t.Fatalf("SetBank() error = %v", err)
	}
	if err := c.SetStartAddress(0x4000); err != nil {
		t.Fatalf("SetStartAddress() error = %v", err)
	}

	var got []byte
	for i := 0; i < 2; i++ {
		chunk, err := c.ReadChunk(protocol.ReadGB)
		if err != nil {
			t.Fatalf("ReadChunk() error = %v", err)
		}
		got = append(got, chunk...)
	}
	if want := rom[3*0x4000 : 3*0x4000+128]; !bytes.Equal(got, want) {
		t.Errorf("bank 3 data mismatch")
	}

	if n := dev.Count(protocol.OpReadROMRAM); n != 1 {
		t.Errorf("stream starts = %d, want 1", n)
	}
}

func TestDeviceShortRead(t *testing.T) {
	dev := New(Config{GB: &GBCart{Mapper: cartridge.MapperNone, ROM: make([]byte, 0x8000)}, ShortReadAt: 2, ShortReadBytes: 5})
	c := protocol.New(dev)

	if _, err := c.ReadChunk(protocol.ReadGB); err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	got, err := c.ReadChunk(protocol.ReadGB)
	if !errors.Is(err, serial.ErrShortRead) {
		t.Fatalf("ReadChunk() error = %v, want %v", err, serial.ErrShortRead)
	}
	if len(got) != 5 {
		t.Errorf("len(chunk) = %d, want 5", len(got))
	}
	if c.Streaming() {
		t.Errorf("Streaming() = true after short read")
	}
}

func TestDeviceDropsAck(t *testing.T) {
	dev := New(Config{GB: &GBCart{Mapper: cartridge.MapperMBC5, ROM: make([]byte, 0x8000), RAM: make([]byte, 0x2000)}, DropAckAt: 1})
	c := protocol.New(dev)

	if err := c.WriteChunkAcked(protocol.WriteGBRAM64, make([]byte, 64)); !errors.Is(err, protocol.ErrAckTimeout) {
		t.Fatalf("WriteChunkAcked() error = %v, want %v", err, protocol.ErrAckTimeout)
	}
	if err := c.WriteChunkAcked(protocol.WriteGBRAM64, make([]byte, 64)); err != nil {
		t.Fatalf("WriteChunkAcked() error = %v", err)
	}
}

func TestDeviceReportsHardware(t *testing.T) {
	dev := New(Config{Firmware: 21, PCB: 4, CartMode: protocol.CartModeGB})
	c := protocol.New(dev)

	tests := []struct {
		op   protocol.Opcode
		want byte
	}{
		{protocol.OpFirmwareVersion, 21},
		{protocol.OpPCBVersion, 4},
		{protocol.OpCartMode, protocol.CartModeGB},
	}
	for _, tt := range tests {
		got, err := c.RequestValue(tt.op)
		if err != nil {
			t.Fatalf("RequestValue(%q) error = %v", tt.op, err)
		}
		if got != tt.want {
			t.Errorf("RequestValue(%q) = %d, want %d", tt.op, got, tt.want)
		}
	}

	if err := c.SetMode(protocol.OpModeGBA); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if got, _ := c.RequestValue(protocol.OpCartMode); got != protocol.CartModeGBA {
		t.Errorf("cart mode after switch = %d, want %d", got, protocol.CartModeGBA)
	}
}

func TestDeviceProgramMethodGatesGBWrites(t *testing.T) {
	chip := &Chip{Family: JEDEC, Unlock1: 0xAAA, Unlock2: 0x555}
	rom := bytes.Repeat([]byte{0xFF}, 0x8000)
	dev := New(Config{GB: &GBCart{Mapper: cartridge.MapperMBC5, ROM: rom, Flash: chip}})
	c := protocol.New(dev)

	data := bytes.Repeat([]byte{0x3C}, 64)
	if err := c.SetStartAddress(0); err != nil {
		t.Fatalf("SetStartAddress() error = %v", err)
	}
	if err := c.WriteChunkAcked(protocol.WriteGB64, data); err != nil {
		t.Fatalf("WriteChunkAcked() error = %v", err)
	}
	if rom[0] != 0xFF {
		t.Fatalf("write without program method reached the chip")
	}

	seq := [3]protocol.Command{{Addr: 0xAAA, Data: 0xAA}, {Addr: 0x555, Data: 0x55}, {Addr: 0xAAA, Data: 0xA0}}
	if err := c.SetProgramMethod(seq); err != nil {
		t.Fatalf("SetProgramMethod() error = %v", err)
	}
	if err := c.SetStartAddress(0); err != nil {
		t.Fatalf("SetStartAddress() error = %v", err)
	}
	if err := c.WriteChunkAcked(protocol.WriteGB64, data); err != nil {
		t.Fatalf("WriteChunkAcked() error = %v", err)
	}
	if !bytes.Equal(rom[:64], data) {
		t.Errorf("programmed data mismatch")
	}
	if got := dev.ProgramMethod(); len(got) != 3 || got[2].Data != 0xA0 {
		t.Errorf("ProgramMethod() = %v, want 3 commands ending in 0xA0", got)
	}
}
