// Package protocol encodes the command set of the GBxCart RW reader firmware.
//
// Every command is a single opcode byte. Numbers follow the opcode as
// lowercase hex text terminated by NUL. Read commands start a stream of
// fixed-size chunks: OpContinue requests the next chunk and OpStop ends the
// stream. Write commands carry their payload in the same frame and are
// acknowledged with a single Ack byte.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/richardwooding/gbxflash/internal/clock"
	"github.com/richardwooding/gbxflash/internal/logger"
	"github.com/richardwooding/gbxflash/internal/serial"
)

// Settle delays between frames the firmware parses one at a time.
const (
	BankSettle    = 5 * time.Millisecond
	CommandSettle = 1 * time.Millisecond
)

var (
	// ErrAckTimeout indicates the firmware did not acknowledge a write in time.
	ErrAckTimeout = errors.New("ack timeout")

	// ErrUnexpectedAck indicates the firmware answered a write with something other than Ack.
	ErrUnexpectedAck = errors.New("unexpected ack byte")

	// ErrChunkSize indicates a write payload larger than the write method allows.
	ErrChunkSize = errors.New("payload exceeds chunk size")
)

// Command is a single address/data write issued to a flash chip.
type Command struct {
	Addr uint32
	Data uint16
}

// Client issues commands over a serial port. A Client tracks whether a read
// stream is open so that ReadChunk knows whether to start or continue it.
// It is not safe for concurrent use.
type Client struct {
	port  serial.Port
	sleep clock.Sleeper
	log   logger.Logger

	streaming ReadMode
}

// Option configures a Client.
type Option func(*Client)

// WithSleeper replaces the real sleeper used for settle delays.
func WithSleeper(s clock.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithLogger sets the logger used for frame level debug output.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = logger.OrNull(l) }
}

// New returns a Client talking over port.
func New(port serial.Port, opts ...Option) *Client {
	c := &Client{
		port:  port,
		sleep: clock.Real{},
		log:   logger.NewNull(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Port returns the underlying transport.
func (c *Client) Port() serial.Port { return c.port }

// Sleep waits d using the client's sleeper.
func (c *Client) Sleep(d time.Duration) { c.sleep.Sleep(d) }

func (c *Client) send(frame []byte) error {
	if _, err := c.port.Write(frame); err != nil {
		return err
	}
	return nil
}

// SetMode sends a bare opcode.
func (c *Client) SetMode(op Opcode) error {
	return c.send([]byte{byte(op)})
}

// SetNumber sends op followed by n as NUL terminated hex.
func (c *Client) SetNumber(op Opcode, n uint32) error {
	return c.send(numberFrame(op, n))
}

// SetStartAddress sets the device address used by the next read or write.
func (c *Client) SetStartAddress(addr uint32) error {
	c.log.Debugf("set start address 0x%X", addr)
	return c.SetNumber(OpSetStartAddress, addr)
}

// SetBank writes value to a GB mapper register.
func (c *Client) SetBank(addr uint16, value uint8) error {
	c.log.Debugf("set bank register 0x%04X = 0x%02X", addr, value)
	if err := c.send(numberFrame(OpSetBank, uint32(addr))); err != nil {
		return err
	}
	c.sleep.Sleep(BankSettle)

	frame := append([]byte{byte(OpSetBank)}, strconv.FormatUint(uint64(value), 10)...)
	if err := c.send(append(frame, 0)); err != nil {
		return err
	}
	c.sleep.Sleep(BankSettle)
	return nil
}

// ReadChunk returns the next chunk of the mode's read stream, starting the
// stream if it is not already open. A short read closes the client's view of
// the stream; the caller must StopRead and reposition before retrying.
func (c *Client) ReadChunk(mode ReadMode) ([]byte, error) {
	op := OpContinue
	if c.streaming != mode {
		if c.streaming != 0 {
			if err := c.StopRead(); err != nil {
				return nil, err
			}
		}
		op = mode.Opcode()
	}

	if err := c.send([]byte{byte(op)}); err != nil {
		c.streaming = 0
		return nil, err
	}

	data, err := c.port.ReadExact(mode.ChunkSize())
	if err != nil {
		c.streaming = 0
		return data, err
	}
	c.streaming = mode
	return data, nil
}

// StopRead ends the current read stream.
func (c *Client) StopRead() error {
	c.streaming = 0
	return c.send([]byte{byte(OpStop)})
}

// Streaming reports whether a read stream is open.
func (c *Client) Streaming() bool { return c.streaming != 0 }

// WriteChunk sends a write frame. Payloads shorter than the method's chunk
// size are padded with 0xFF.
func (c *Client) WriteChunk(method WriteMethod, data []byte) error {
	size := method.ChunkSize()
	if len(data) > size {
		return fmt.Errorf("%w: %d > %d for %s", ErrChunkSize, len(data), size, method)
	}

	frame := make([]byte, 1+size)
	frame[0] = byte(method.Opcode())
	copy(frame[1:], data)
	for i := 1 + len(data); i < len(frame); i++ {
		frame[i] = 0xFF
	}
	return c.send(frame)
}

// WaitForAck reads the single acknowledgement byte that follows every write.
func (c *Client) WaitForAck() error {
	b, err := c.port.ReadExact(1)
	if err != nil {
		if errors.Is(err, serial.ErrShortRead) {
			return ErrAckTimeout
		}
		return err
	}
	if b[0] != Ack {
		return fmt.Errorf("%w: 0x%02X", ErrUnexpectedAck, b[0])
	}
	return nil
}

// WriteChunkAcked sends a write frame and waits for its acknowledgement.
func (c *Client) WriteChunkAcked(method WriteMethod, data []byte) error {
	if err := c.WriteChunk(method, data); err != nil {
		return err
	}
	return c.WaitForAck()
}

// RequestValue sends op and returns the single byte answer.
func (c *Client) RequestValue(op Opcode) (byte, error) {
	b, err := c.RequestBytes(op, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// RequestBytes sends op and returns the n byte answer.
func (c *Client) RequestBytes(op Opcode, n int) ([]byte, error) {
	if err := c.port.FlushInput(); err != nil {
		return nil, err
	}
	if err := c.send([]byte{byte(op)}); err != nil {
		return nil, err
	}
	b, err := c.port.ReadExact(n)
	if err != nil {
		return nil, fmt.Errorf("request %q: %w", rune(op), err)
	}
	return b, nil
}

// GBFlashCommand writes data to addr on a GB flash cartridge.
func (c *Client) GBFlashCommand(addr uint32, data uint8) error {
	return c.flashCommand(OpGBFlashCommand, addr, uint16(data))
}

// GBAFlashCommand writes data to the byte address addr on a GBA flash
// cartridge. The firmware drives the bus with addr/2.
func (c *Client) GBAFlashCommand(addr uint32, data uint16) error {
	return c.flashCommand(OpGBAFlashCommand, addr, data)
}

func (c *Client) flashCommand(op Opcode, addr uint32, data uint16) error {
	c.log.Debugf("flash command %c 0x%X <- 0x%X", rune(op), addr, data)
	frame := numberFrame(op, addr)
	frame = append(frame, strconv.FormatUint(uint64(data), 16)...)
	frame = append(frame, 0)
	if err := c.send(frame); err != nil {
		return err
	}
	return c.WaitForAck()
}

// FlashSequence issues each command in order through the mode's command opcode.
func (c *Client) FlashSequence(gba bool, cmds []Command) error {
	for _, cmd := range cmds {
		var err error
		if gba {
			err = c.GBAFlashCommand(cmd.Addr, cmd.Data)
		} else {
			err = c.GBFlashCommand(cmd.Addr, uint8(cmd.Data))
		}
		if err != nil {
			return fmt.Errorf("flash command 0x%X <- 0x%X: %w", cmd.Addr, cmd.Data, err)
		}
	}
	return nil
}

// SetProgramMethod tells the firmware which three writes program one byte.
func (c *Client) SetProgramMethod(seq [3]Command) error {
	frame := []byte{byte(OpGBFlashProgramMethod)}
	for _, cmd := range seq {
		frame = append(frame, strconv.FormatUint(uint64(cmd.Addr), 16)...)
		frame = append(frame, 0)
		frame = append(frame, strconv.FormatUint(uint64(cmd.Data), 16)...)
		frame = append(frame, 0)
	}
	if err := c.send(frame); err != nil {
		return err
	}
	c.sleep.Sleep(CommandSettle)
	return nil
}

// SetWEPin selects which cartridge pin drives flash write enable.
func (c *Client) SetWEPin(pin Opcode) error {
	if err := c.send([]byte{byte(OpGBFlashWEPin), byte(pin)}); err != nil {
		return err
	}
	c.sleep.Sleep(CommandSettle)
	return nil
}

func numberFrame(op Opcode, n uint32) []byte {
	frame := append([]byte{byte(op)}, strconv.FormatUint(uint64(n), 16)...)
	return append(frame, 0)
}
