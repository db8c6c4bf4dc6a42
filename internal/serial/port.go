// Package serial provides the byte transport between the host and the
// cartridge reader.
//
// Reads are bounded by attempts rather than wall-clock deadlines: each
// underlying read waits at most Config.ReadTimeout, and ReadAttempts
// consecutive empty reads end ReadExact with a *PartialReadError carrying
// whatever did arrive.
package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Backend names accepted by Config.Backend.
const (
	BackendTerm     = "term"
	BackendGoSerial = "goserial"
)

const (
	// DefaultBaud is the line rate of the reader's USB-serial bridge.
	DefaultBaud = 1000000

	// DefaultReadTimeout bounds a single underlying read.
	DefaultReadTimeout = 100 * time.Millisecond

	// DefaultReadAttempts is how many consecutive empty reads end ReadExact.
	DefaultReadAttempts = 20
)

var (
	// ErrDeviceNotFound indicates no serial port answered as a cartridge reader.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUnknownBackend indicates Config.Backend names no available backend.
	ErrUnknownBackend = errors.New("unknown serial backend")

	// ErrShortRead is wrapped by every *PartialReadError.
	ErrShortRead = errors.New("short read")
)

// PartialReadError reports a ReadExact that ran out of attempts before
// receiving every requested byte.
type PartialReadError struct {
	Want int
	Got  []byte
}

func (e *PartialReadError) Error() string {
	return fmt.Sprintf("short read: got %d of %d bytes", len(e.Got), e.Want)
}

// Unwrap lets errors.Is match ErrShortRead.
func (e *PartialReadError) Unwrap() error {
	return ErrShortRead
}

// Port is an open connection to the reader.
type Port interface {
	io.Writer

	// ReadExact reads exactly n bytes or returns a *PartialReadError.
	ReadExact(n int) ([]byte, error)

	// FlushInput discards any bytes waiting in the receive buffer.
	FlushInput() error

	Close() error
}

// Config selects and tunes a serial backend.
type Config struct {
	// Name is the device path or COM port. Empty means discover.
	Name string

	Baud    int
	Backend string

	ReadTimeout  time.Duration
	ReadAttempts int

	// Candidates overrides the glob patterns searched during discovery.
	Candidates []string
}

func (c Config) withDefaults() Config {
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if c.Backend == "" {
		c.Backend = BackendTerm
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ReadAttempts == 0 {
		c.ReadAttempts = DefaultReadAttempts
	}
	return c
}

// Open opens the port named by cfg.Name with the configured backend.
func Open(cfg Config) (Port, error) {
	cfg = cfg.withDefaults()
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: no port name", ErrDeviceNotFound)
	}

	switch cfg.Backend {
	case BackendTerm:
		return openTerm(cfg)
	case BackendGoSerial:
		return openGoSerial(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Stream adapts a timed byte stream into a Port.
type Stream struct {
	rw       io.ReadWriteCloser
	flush    func() error
	attempts int
}

// NewStream wraps rw. Each rw.Read must return within a bounded time, with
// zero bytes (and optionally io.EOF) on timeout. flush may be nil, in which
// case FlushInput drains rw until a read comes back empty.
func NewStream(rw io.ReadWriteCloser, flush func() error, attempts int) *Stream {
	if attempts <= 0 {
		attempts = DefaultReadAttempts
	}
	return &Stream{rw: rw, flush: flush, attempts: attempts}
}

// Write sends p in full.
func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.rw.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial write: %w", err)
	}
	if n < len(p) {
		return n, fmt.Errorf("serial write: %w", io.ErrShortWrite)
	}
	return n, nil
}

// ReadExact implements Port.
func (s *Stream) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	empty := 0

	for got < n {
		m, err := s.rw.Read(buf[got:])
		got += m

		if err != nil && !isTimeout(err) {
			return buf[:got], fmt.Errorf("serial read: %w", err)
		}

		if m == 0 {
			empty++
			if empty >= s.attempts {
				return buf[:got], &PartialReadError{Want: n, Got: buf[:got]}
			}
			continue
		}
		empty = 0
	}

	return buf, nil
}

// FlushInput implements Port.
func (s *Stream) FlushInput() error {
	if s.flush != nil {
		return s.flush()
	}

	scratch := make([]byte, 256)
	for {
		m, err := s.rw.Read(scratch)
		if err != nil && !isTimeout(err) {
			return fmt.Errorf("serial flush: %w", err)
		}
		if m == 0 {
			return nil
		}
	}
}

// Close implements Port.
func (s *Stream) Close() error {
	return s.rw.Close()
}

// isTimeout reports whether err is how a backend signals an expired read timeout.
func isTimeout(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded)
}
