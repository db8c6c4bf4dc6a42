// Package transfer moves ROM and save data between the host and a
// cartridge: banked GB ROM reads, GBA ROM reads, GB save RAM and the three
// GBA save memories.
//
// Reads recover from short reads by flushing input, settling, repositioning
// at the last confirmed offset and resuming. Writes retry a missing
// acknowledgement by repositioning and resending the chunk.
package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/richardwooding/gbxflash/internal/clock"
	"github.com/richardwooding/gbxflash/internal/device"
	"github.com/richardwooding/gbxflash/internal/logger"
	"github.com/richardwooding/gbxflash/internal/protocol"
)

const (
	// RetrySettle is how long to wait after a short read before resuming.
	RetrySettle = 500 * time.Millisecond

	// DefaultMaxRetries bounds consecutive failures at one offset.
	DefaultMaxRetries = 3
)

var (
	// ErrPartialTransfer indicates a transfer stopped short after exhausting retries.
	ErrPartialTransfer = errors.New("partial transfer")

	// ErrNoSave indicates the cartridge has no save memory to transfer.
	ErrNoSave = errors.New("cartridge has no save memory")

	// ErrSaveSize indicates a save image that does not match the save memory.
	ErrSaveSize = errors.New("save image size mismatch")

	// ErrSaveNotDetected indicates the save type could not be probed.
	ErrSaveNotDetected = errors.New("save type not detected")
)

// OpError reports a failed transfer step with the offset to resume from.
type OpError struct {
	Op       string
	Offset   uint32
	Attempts int
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s at offset 0x%X after %d attempts: %v", e.Op, e.Offset, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error { return e.Err }

// State tracks a transfer in progress. Offset only moves forward except when
// a retry rewinds it to the last confirmed position.
type State struct {
	// Offset is the next logical byte to transfer.
	Offset uint32
	// Transferred counts confirmed bytes.
	Transferred int
	// Total is the number of bytes the operation will move.
	Total int
	// Bank is the ROM bank or save bank in use.
	Bank int
	// Sector is the start of the erase sector being programmed.
	Sector uint32
}

// ProgressFunc is called after every confirmed chunk.
type ProgressFunc func(done, total int)

// SeekFunc positions the device so that the next read or write starts at a
// logical offset.
type SeekFunc func(offset uint32) error

// Engine runs transfers on an open reader.
type Engine struct {
	client     *protocol.Client
	info       device.Info
	sleep      clock.Sleeper
	log        logger.Logger
	progress   ProgressFunc
	maxRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// New returns an engine using the handle's client, sleeper and logger.
func New(h *device.Handle, opts ...Option) *Engine {
	e := &Engine{
		client:     h.Client(),
		info:       h.Info,
		sleep:      h.Sleeper(),
		log:        h.Logger(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Client returns the command client the engine drives.
func (e *Engine) Client() *protocol.Client { return e.client }

// Logger returns the engine's logger.
func (e *Engine) Logger() logger.Logger { return e.log }

// Sleep waits d using the engine's sleeper.
func (e *Engine) Sleep(d time.Duration) { e.sleep.Sleep(d) }

func (e *Engine) report(st *State) {
	if e.progress != nil {
		e.progress(st.Transferred, st.Total)
	}
}
