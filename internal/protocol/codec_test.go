package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/richardwooding/gbxflash/internal/clock"
	"github.com/richardwooding/gbxflash/internal/serial"
)

// recordingPort records every written frame and answers reads from a queue.
type recordingPort struct {
	frames  [][]byte
	pending []byte
	flushes int
}

func (p *recordingPort) Write(b []byte) (int, error) {
	p.frames = append(p.frames, append([]byte(nil), b...))
	return len(b), nil
}

func (p *recordingPort) ReadExact(n int) ([]byte, error) {
	if len(p.pending) < n {
		got := p.pending
		p.pending = nil
		return got, &serial.PartialReadError{Want: n, Got: got}
	}
	out := p.pending[:n]
	p.pending = p.pending[n:]
	return out, nil
}

func (p *recordingPort) FlushInput() error { p.flushes++; return nil }
func (p *recordingPort) Close() error      { return nil }

func newTestClient() (*Client, *recordingPort, *clock.Fake) {
	port := &recordingPort{}
	fake := &clock.Fake{}
	return New(port, WithSleeper(fake)), port, fake
}

func TestNumberFrames(t *testing.T) {
	tests := []struct {
		name string
		call func(*Client) error
		want []string
	}{
		{
			name: "start address",
			call: func(c *Client) error { return c.SetStartAddress(0x4000) },
			want: []string{"A4000\x00"},
		},
		{
			name: "start address zero",
			call: func(c *Client) error { return c.SetStartAddress(0) },
			want: []string{"A0\x00"},
		},
		{
			name: "bank register",
			call: func(c *Client) error { return c.SetBank(0x2100, 12) },
			want: []string{"B2100\x00", "B12\x00"},
		},
		{
			name: "eeprom size",
			call: func(c *Client) error { return c.SetNumber(OpGBASetEEPROMSize, 2) },
			want: []string{"S2\x00"},
		},
		{
			name: "we pin",
			call: func(c *Client) error { return c.SetWEPin(WEAudio) },
			want: []string{"PA"},
		},
		{
			name: "program method",
			call: func(c *Client) error {
				return c.SetProgramMethod([3]Command{{0x555, 0xAA}, {0x2AA, 0x55}, {0x555, 0xA0}})
			},
			want: []string{"E555\x00aa\x002aa\x0055\x00555\x00a0\x00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, port, _ := newTestClient()
			if err := tt.call(c); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if len(port.frames) != len(tt.want) {
				t.Fatalf("frames = %q, want %q", port.frames, tt.want)
			}
			for i, want := range tt.want {
				if string(port.frames[i]) != want {
					t.Errorf("frame[%d] = %q, want %q", i, port.frames[i], want)
				}
			}
		})
	}
}

func TestSetBankSettles(t *testing.T) {
	c, _, fake := newTestClient()
	if err := c.SetBank(0x2000, 1); err != nil {
		t.Fatalf("SetBank() error = %v", err)
	}
	if got := fake.Count(BankSettle); got != 2 {
		t.Errorf("BankSettle sleeps = %d, want 2", got)
	}
	if got := fake.Total(); got != 2*BankSettle {
		t.Errorf("total sleep = %v, want %v", got, 2*BankSettle)
	}
}

func TestReadChunkStream(t *testing.T) {
	c, port, _ := newTestClient()
	port.pending = bytes.Repeat([]byte{0xAB}, 64*2)

	if _, err := c.ReadChunk(ReadGB); err != nil {
		t.Fatalf("first ReadChunk() error = %v", err)
	}
	if _, err := c.ReadChunk(ReadGB); err != nil {
		t.Fatalf("second ReadChunk() error = %v", err)
	}
	if !c.Streaming() {
		t.Error("Streaming() = false after successful reads")
	}
	if err := c.StopRead(); err != nil {
		t.Fatalf("StopRead() error = %v", err)
	}

	want := []string{"R", "1", "0"}
	for i, w := range want {
		if string(port.frames[i]) != w {
			t.Errorf("frame[%d] = %q, want %q", i, port.frames[i], w)
		}
	}
}

func TestReadChunkSwitchesMode(t *testing.T) {
	c, port, _ := newTestClient()
	port.pending = make([]byte, 64+256)

	if _, err := c.ReadChunk(ReadGBA); err != nil {
		t.Fatalf("ReadChunk(ReadGBA) error = %v", err)
	}
	if _, err := c.ReadChunk(ReadGBA256); err != nil {
		t.Fatalf("ReadChunk(ReadGBA256) error = %v", err)
	}

	want := []string{"r", "0", "j"}
	for i, w := range want {
		if string(port.frames[i]) != w {
			t.Errorf("frame[%d] = %q, want %q", i, port.frames[i], w)
		}
	}
}

func TestReadChunkShortRead(t *testing.T) {
	c, port, _ := newTestClient()
	port.pending = make([]byte, 10)

	got, err := c.ReadChunk(ReadGB)
	if !errors.Is(err, serial.ErrShortRead) {
		t.Fatalf("ReadChunk() error = %v, want short read", err)
	}
	if len(got) != 10 {
		t.Errorf("ReadChunk() returned %d bytes, want 10", len(got))
	}
	if c.Streaming() {
		t.Error("Streaming() = true after short read")
	}
}

func TestWriteChunkPads(t *testing.T) {
	c, port, _ := newTestClient()
	if err := c.WriteChunk(WriteGBAEEPROM8, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	want := []byte{'p', 1, 2, 3, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(port.frames[0], want) {
		t.Errorf("frame = %v, want %v", port.frames[0], want)
	}
}

func TestWriteChunkTooLarge(t *testing.T) {
	c, port, _ := newTestClient()
	err := c.WriteChunk(WriteGBBuffered32, make([]byte, 33))
	if !errors.Is(err, ErrChunkSize) {
		t.Errorf("WriteChunk() error = %v, want %v", err, ErrChunkSize)
	}
	if len(port.frames) != 0 {
		t.Errorf("oversized chunk sent %d frames", len(port.frames))
	}
}

func TestWaitForAck(t *testing.T) {
	tests := []struct {
		name    string
		pending []byte
		wantErr error
	}{
		{"ack", []byte{Ack}, nil},
		{"timeout", nil, ErrAckTimeout},
		{"garbage", []byte{0x00}, ErrUnexpectedAck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, port, _ := newTestClient()
			port.pending = tt.pending
			err := c.WaitForAck()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("WaitForAck() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("WaitForAck() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFlashCommands(t *testing.T) {
	c, port, _ := newTestClient()
	port.pending = []byte{Ack, Ack}

	if err := c.GBFlashCommand(0xAAA, 0xA9); err != nil {
		t.Fatalf("GBFlashCommand() error = %v", err)
	}
	if err := c.GBAFlashCommand(0x987654*2, 0x5354); err != nil {
		t.Fatalf("GBAFlashCommand() error = %v", err)
	}

	want := []string{"Faaa\x00a9\x00", "n130eca8\x005354\x00"}
	for i, w := range want {
		if string(port.frames[i]) != w {
			t.Errorf("frame[%d] = %q, want %q", i, port.frames[i], w)
		}
	}
}

func TestRequestValue(t *testing.T) {
	c, port, _ := newTestClient()
	port.pending = []byte{19}

	v, err := c.RequestValue(OpFirmwareVersion)
	if err != nil {
		t.Fatalf("RequestValue() error = %v", err)
	}
	if v != 19 {
		t.Errorf("RequestValue() = %d, want 19", v)
	}
	if port.flushes != 1 {
		t.Errorf("input flushes = %d, want 1", port.flushes)
	}
	if string(port.frames[0]) != "V" {
		t.Errorf("frame = %q, want %q", port.frames[0], "V")
	}
}

func TestMethodTables(t *testing.T) {
	for m := WriteGB64; m <= WriteGBAEEPROM8; m++ {
		if m.ChunkSize() == 0 {
			t.Errorf("%v has zero chunk size", m)
		}
		back, ok := WriteMethodFor(m.Opcode())
		if !ok || back != m {
			t.Errorf("WriteMethodFor(%q) = %v, %v, want %v", rune(m.Opcode()), back, ok, m)
		}
	}
	for m := ReadGB; m <= ReadGBAEEPROM; m++ {
		back, ok := ReadModeFor(m.Opcode())
		if !ok || back != m {
			t.Errorf("ReadModeFor(%q) = %v, %v, want %v", rune(m.Opcode()), back, ok, m)
		}
	}
}
