package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardwooding/gbxflash/internal/protocol"
	"github.com/richardwooding/gbxflash/internal/serial"
)

// ReadStream reads n bytes of a read stream starting at st.Offset. seek is
// called before the first chunk, after every recovered short read, and
// whenever st.Offset reaches a multiple of segment (zero disables segments).
// GB ROM reads use segments to switch banks between chunks.
func (e *Engine) ReadStream(ctx context.Context, st *State, n int, mode protocol.ReadMode, segment uint32, seek SeekFunc) ([]byte, error) {
	buf := make([]byte, 0, n)
	retries := 0
	needSeek := true

	defer func() {
		if e.client.Streaming() {
			_ = e.client.StopRead()
		}
	}()

	for len(buf) < n {
		if err := ctx.Err(); err != nil {
			return buf, err
		}

		if needSeek || (segment > 0 && st.Offset%segment == 0) {
			if e.client.Streaming() {
				if err := e.client.StopRead(); err != nil {
					return buf, &OpError{Op: "read", Offset: st.Offset, Attempts: retries + 1, Err: err}
				}
			}
			if err := seek(st.Offset); err != nil {
				return buf, &OpError{Op: "seek", Offset: st.Offset, Attempts: retries + 1, Err: err}
			}
			needSeek = false
		}

		chunk, err := e.client.ReadChunk(mode)
		if err != nil {
			if !errors.Is(err, serial.ErrShortRead) {
				return buf, &OpError{Op: "read", Offset: st.Offset, Attempts: retries + 1, Err: err}
			}

			retries++
			if retries > e.maxRetries {
				return buf, &OpError{Op: "read", Offset: st.Offset, Attempts: retries, Err: fmt.Errorf("%w: %v", ErrPartialTransfer, err)}
			}
			e.log.Warnf("short read at 0x%X (%d of %d bytes), retrying", st.Offset, len(chunk), mode.ChunkSize())
			if err := e.recover(); err != nil {
				return buf, &OpError{Op: "read", Offset: st.Offset, Attempts: retries, Err: err}
			}
			needSeek = true
			continue
		}
		retries = 0

		take := len(chunk)
		if rest := n - len(buf); take > rest {
			take = rest
		}
		buf = append(buf, chunk[:take]...)
		st.Offset += uint32(take)
		st.Transferred += take
		e.report(st)
	}

	return buf, nil
}

// recover drops whatever is left of a broken stream.
func (e *Engine) recover() error {
	if err := e.client.Port().FlushInput(); err != nil {
		return err
	}
	if err := e.client.StopRead(); err != nil {
		return err
	}
	e.sleep.Sleep(RetrySettle)
	return e.client.Port().FlushInput()
}

// WriteChunk sends data at st.Offset and waits for the acknowledgement.
// On an ack timeout it repositions with seek at the same offset and resends,
// up to the engine's retry bound. st advances only after an ack.
func (e *Engine) WriteChunk(st *State, method protocol.WriteMethod, data []byte, seek SeekFunc) error {
	for attempt := 1; ; attempt++ {
		err := e.client.WriteChunkAcked(method, data)
		if err == nil {
			st.Offset += uint32(len(data))
			st.Transferred += len(data)
			e.report(st)
			return nil
		}

		if !errors.Is(err, protocol.ErrAckTimeout) || attempt > e.maxRetries {
			return &OpError{Op: "write", Offset: st.Offset, Attempts: attempt, Err: err}
		}

		e.log.Warnf("no ack at 0x%X, resending chunk (attempt %d)", st.Offset, attempt+1)
		if err := e.client.Port().FlushInput(); err != nil {
			return &OpError{Op: "write", Offset: st.Offset, Attempts: attempt, Err: err}
		}
		if err := seek(st.Offset); err != nil {
			return &OpError{Op: "seek", Offset: st.Offset, Attempts: attempt, Err: err}
		}
	}
}
