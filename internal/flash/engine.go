package flash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardwooding/gbxflash/internal/cartridge"
	"github.com/richardwooding/gbxflash/internal/device"
	"github.com/richardwooding/gbxflash/internal/logger"
	"github.com/richardwooding/gbxflash/internal/protocol"
	"github.com/richardwooding/gbxflash/internal/romfile"
	"github.com/richardwooding/gbxflash/internal/transfer"
)

// Erase polling.
const (
	ErasePolls      = 200
	SectorPollDelay = 50 * time.Millisecond
	ChipPollDelay   = 2 * time.Second
)

var (
	// ErrFileTooLarge indicates an image larger than the cartridge.
	ErrFileTooLarge = errors.New("image larger than cartridge")

	// ErrEmptyImage indicates an image with no data.
	ErrEmptyImage = errors.New("empty image")

	// ErrChipIDMismatch indicates the chip reported an ID the profile does not expect.
	ErrChipIDMismatch = errors.New("unexpected flash chip ID")

	// ErrEraseTimeout indicates a chip erase that never completed.
	ErrEraseTimeout = errors.New("chip erase timed out")

	// ErrSectorEraseTimeout indicates a sector erase that never completed.
	ErrSectorEraseTimeout = errors.New("sector erase timed out")

	// ErrVerifyMismatch indicates the readback differs from the image.
	ErrVerifyMismatch = errors.New("verify mismatch")

	// ErrBlockOutOfRange indicates an invalid 8 MiB block number.
	ErrBlockOutOfRange = errors.New("block out of range")

	// ErrAborted indicates programming stopped because a warning was not accepted.
	ErrAborted = errors.New("programming aborted")
)

// Options tune a programming run.
type Options struct {
	// Force5V runs the cartridge at 5V whatever its profile says.
	Force5V bool
	// Block is the 8 MiB block to write on block-select cartridges.
	Block int
	// Verify reads the cartridge back and compares digests.
	Verify bool
	// SkipIDCheck programs without comparing the chip ID.
	SkipIDCheck bool
	// Warn receives recoverable problems such as an unexpected chip ID.
	// Returning false aborts. A nil Warn logs and continues.
	Warn func(err error) bool
	// Progress is called after every written chunk.
	Progress transfer.ProgressFunc
}

// Result summarises a programming run.
type Result struct {
	Profile  Profile
	ChipID   []byte
	Written  int
	Erases   int
	Digest   uint64
	Verified bool
}

// Engine programs flash cartridges through an open reader.
type Engine struct {
	h   *device.Handle
	c   *protocol.Client
	log logger.Logger
}

// New returns an engine for h.
func New(h *device.Handle) *Engine {
	return &Engine{h: h, c: h.Client(), log: h.Logger()}
}

// job is one programming run.
type job struct {
	e     *Engine
	c     *protocol.Client
	log   logger.Logger
	p     Profile
	opts  Options
	image []byte
	size  uint32
	id    []byte
	xfer  *transfer.Engine
	st    *transfer.State

	erases     int
	wordWindow uint32
	// smartMoved is set once a GB Smart chip other than the first was mapped.
	smartMoved bool
}

// Program writes image to a cartridge described by p.
//
// Size, hardware and firmware checks run before anything is sent to the
// reader. Cancelling ctx stops between chunks; if that happens before the
// erase the chip is left untouched.
func (e *Engine) Program(ctx context.Context, p Profile, image []byte, opts Options) (Result, error) {
	res := Result{Profile: p}

	if len(image) == 0 {
		return res, ErrEmptyImage
	}
	if uint64(len(image)) > uint64(p.Capacity) {
		return res, fmt.Errorf("%w: %d bytes, cartridge holds %d", ErrFileTooLarge, len(image), p.Capacity)
	}
	if p.Layout == LayoutBlockSelect && (opts.Block < 0 || opts.Block > 3) {
		return res, fmt.Errorf("%w: %d", ErrBlockOutOfRange, opts.Block)
	}
	if err := e.h.CheckFlashSupport(p.MinFirmware); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	j := &job{
		e:          e,
		c:          e.c,
		log:        e.log,
		p:          p,
		opts:       opts,
		wordWindow: 0x7FC0,
		xfer:       transfer.New(e.h, transfer.WithProgress(opts.Progress)),
	}
	if err := j.prepare(); err != nil {
		return res, err
	}
	res.Profile = j.p

	j.pad(image)
	id, err := j.readChipID()
	if err != nil {
		return res, fmt.Errorf("read chip ID: %w", err)
	}
	j.id = id
	res.ChipID = id
	e.log.Infof("flash chip ID %X", id)

	if !opts.SkipIDCheck && !j.p.MatchesID(id) {
		if !j.warn(fmt.Errorf("%w: got %X", ErrChipIDMismatch, id)) {
			return res, ErrAborted
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if j.p.Mode == cartridge.ModeGBA {
		err = j.programGBA(ctx)
	} else {
		err = j.programGB(ctx)
	}
	res.Erases = j.erases
	res.Written = j.st.Transferred
	if err != nil {
		return res, err
	}
	if err := j.reset(); err != nil {
		return res, fmt.Errorf("reset chip: %w", err)
	}

	res.Digest = romfile.Digest(image)
	e.log.Infof("wrote %d bytes with %d erases, digest %016x", res.Written, res.Erases, res.Digest)

	if opts.Verify {
		if err := j.verify(ctx, image); err != nil {
			return res, err
		}
		res.Verified = true
	}
	return res, nil
}

// prepare powers and configures the reader for the profile.
func (j *job) prepare() error {
	p := &j.p
	if err := j.e.h.ApplyVoltage(p.Mode, p.Voltage, p.Force5V || j.opts.Force5V); err != nil {
		return err
	}
	if err := j.e.h.SelectMode(p.Mode); err != nil {
		return err
	}

	if p.Method == MethodAuto {
		d, err := Detect(j.c, p.Mode)
		if err != nil {
			return fmt.Errorf("detect program method: %w", err)
		}
		if !d.Method.JEDEC() {
			return fmt.Errorf("%w: %s chip needs a specific cartridge type", ErrNoMatch, d.Method)
		}
		j.log.Infof("detected %s program method", d.Method)
		p.Method = d.Method
		if p.Mode == cartridge.ModeGBA && d.Method.Swapped() {
			p.Write = protocol.WriteGBA256SwappedD0D1
		}
	}

	if p.Mode == cartridge.ModeGB {
		if err := j.c.SetWEPin(p.WEPin); err != nil {
			return err
		}
		if p.Method.JEDEC() {
			if err := j.c.SetProgramMethod(p.Method.ProgramSequence()); err != nil {
				return err
			}
		}
		if p.Bank1Commands {
			if err := j.c.SetMode(protocol.OpGBFlashBank1Commands); err != nil {
				return err
			}
		}
		for _, w := range p.PreWrites {
			if err := j.c.SetBank(w.Addr, w.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// pad copies image and fills the last chunk with 0xFF.
func (j *job) pad(image []byte) {
	chunk := j.p.Write.ChunkSize()
	n := (len(image) + chunk - 1) / chunk * chunk
	buf := make([]byte, n)
	copy(buf, image)
	for i := len(image); i < n; i++ {
		buf[i] = 0xFF
	}
	j.image = buf
	j.size = uint32(n)
	if j.p.StopAt > 0 && j.size > j.p.StopAt {
		j.log.Warnf("image truncated at 0x%X, the space above is save memory", j.p.StopAt)
		j.size = j.p.StopAt
	}
	j.st = &transfer.State{Total: int(j.size)}
}

func (j *job) warn(err error) bool {
	if j.opts.Warn == nil {
		j.log.Warnf("%v", err)
		return true
	}
	return j.opts.Warn(err)
}

func (j *job) gba() bool { return j.p.Mode == cartridge.ModeGBA }

func (j *job) command(cmds ...protocol.Command) error {
	return j.c.FlashSequence(j.gba(), cmds)
}

func (j *job) readMode() protocol.ReadMode {
	if j.gba() {
		return protocol.ReadGBA
	}
	return protocol.ReadGB
}

// readAt reads one chunk at a bus address: a GB address or a GBA word address.
func (j *job) readAt(addr uint32) ([]byte, error) {
	if err := j.c.SetStartAddress(addr); err != nil {
		return nil, err
	}
	chunk, err := j.c.ReadChunk(j.readMode())
	if err != nil {
		return nil, err
	}
	return chunk, j.c.StopRead()
}

// poll reads addr until done accepts the data.
func (j *job) poll(addr uint32, delay time.Duration, timeout error, done func([]byte) bool) error {
	for i := 0; i < ErasePolls; i++ {
		chunk, err := j.readAt(addr)
		if err != nil {
			return err
		}
		if done(chunk) {
			return nil
		}
		j.xfer.Sleep(delay)
	}
	return fmt.Errorf("%w: 0x%X after %d polls", timeout, addr, ErasePolls)
}

func (j *job) erased(chunk []byte) bool {
	if j.gba() {
		return chunk[0] == 0xFF && chunk[1] == 0xFF
	}
	return chunk[0] == 0xFF
}

func intelReady(chunk []byte) bool {
	return chunk[0] == 0x80 || chunk[0] == 0xB0
}

func (j *job) readChipID() ([]byte, error) {
	p := j.p
	var cmds []protocol.Command
	switch p.Algorithm {
	case AlgoIntelInterleaved:
		cmds = []protocol.Command{{Addr: 0, Data: 0x90}, {Addr: 2, Data: 0x90}}
	default:
		cmds = p.Method.AutoselectSequence()
	}
	if err := j.command(cmds...); err != nil {
		return nil, err
	}
	id, err := readID(j.c, j.gba())
	if err != nil {
		return nil, err
	}
	return id, j.reset()
}

// reset returns the chip to read-array mode.
func (j *job) reset() error {
	switch j.p.Algorithm {
	case AlgoJEDEC:
		return j.command(protocol.Command{Addr: 0, Data: 0xF0})
	case AlgoIntelInterleaved:
		return j.command(protocol.Command{Addr: 0, Data: 0xFF}, protocol.Command{Addr: 2, Data: 0xFF})
	default:
		return j.command(protocol.Command{Addr: 0, Data: 0xFF})
	}
}

// wantChipErase reports whether the whole chip is erased up front.
func (j *job) wantChipErase() bool {
	p := j.p
	switch p.Erase {
	case EraseNone:
		return false
	case EraseChip:
		return true
	}
	if p.ChipEraseAbove > 0 && j.size > p.ChipEraseAbove {
		return true
	}
	return matchAny(p.ChipEraseIDs, j.id)
}

// chipErase erases the chip and waits for address 0 to read erased.
func (j *job) chipErase() error {
	j.log.Infof("erasing flash chip")
	if err := j.command(j.p.Method.ChipEraseSequence()...); err != nil {
		return err
	}
	j.erases++
	return j.poll(0, ChipPollDelay, ErrEraseTimeout, j.erased)
}

// eraseSector erases the sector at cmdAddr and polls readAddr until it
// completes. GB addresses are bus addresses with the bank selected; GBA
// command addresses are byte offsets and read addresses word addresses.
func (j *job) eraseSector(cmdAddr, readAddr uint32) error {
	j.log.Debugf("erasing sector at 0x%X", cmdAddr)
	j.erases++

	switch j.p.Algorithm {
	case AlgoIntel:
		err := j.command(
			protocol.Command{Addr: cmdAddr, Data: 0x60},
			protocol.Command{Addr: cmdAddr, Data: 0xD0},
			protocol.Command{Addr: cmdAddr, Data: 0x20},
			protocol.Command{Addr: cmdAddr, Data: 0xD0},
		)
		if err != nil {
			return err
		}
		if err := j.poll(readAddr, SectorPollDelay, ErrSectorEraseTimeout, intelReady); err != nil {
			return err
		}
		return j.command(protocol.Command{Addr: cmdAddr, Data: 0xFF})

	case AlgoIntelInterleaved:
		err := j.command(
			protocol.Command{Addr: cmdAddr, Data: 0x20},
			protocol.Command{Addr: cmdAddr + 2, Data: 0x20},
			protocol.Command{Addr: cmdAddr, Data: 0xD0},
			protocol.Command{Addr: cmdAddr + 2, Data: 0xD0},
		)
		if err != nil {
			return err
		}
		bothReady := func(chunk []byte) bool { return chunk[0] == 0x80 && chunk[2] == 0x80 }
		if err := j.poll(readAddr, SectorPollDelay, ErrSectorEraseTimeout, bothReady); err != nil {
			return err
		}
		return j.command(protocol.Command{Addr: cmdAddr, Data: 0xFF}, protocol.Command{Addr: cmdAddr + 2, Data: 0xFF})

	default:
		if err := j.command(j.p.Method.SectorEraseSequence(cmdAddr)...); err != nil {
			return err
		}
		return j.poll(readAddr, SectorPollDelay, ErrSectorEraseTimeout, j.erased)
	}
}

// window is a range of the image programmed with one part of the flash mapped.
type window struct {
	from, to uint32
	// base is the image offset mapped at bus offset 0.
	base uint32
	// enter maps the window. Nil for cartridges with a single window.
	enter func() error
}

// pass writes one range of the image.
type pass struct {
	from, to uint32
	seek     transfer.SeekFunc
	// segment forces a seek whenever the offset reaches a multiple of it.
	segment uint32
	// eraseAt erases the sector starting at an image offset. Nil when
	// sectors are not erased during the pass.
	eraseAt func(off uint32) error
	sectors []Sector
	// special programs a chunk by other means and reports whether it did.
	special func(off uint32, chunk []byte) (bool, error)
	// skipFrom and skipTo bound a range left untouched.
	skipFrom, skipTo uint32
}

func (j *job) write(ctx context.Context, ps pass) error {
	st := j.st
	st.Offset = ps.from
	size := uint32(j.p.Write.ChunkSize())
	needSeek := true

	for st.Offset < ps.to {
		if err := ctx.Err(); err != nil {
			return err
		}
		off := st.Offset

		if ps.skipTo > ps.skipFrom && off >= ps.skipFrom && off < ps.skipTo {
			j.log.Infof("skipping empty save area 0x%X-0x%X", ps.skipFrom, ps.skipTo)
			st.Transferred += int(ps.skipTo - off)
			st.Offset = ps.skipTo
			needSeek = true
			continue
		}

		if ps.eraseAt != nil && IsSectorStart(ps.sectors, off) {
			st.Sector = off
			if err := ps.eraseAt(off); err != nil {
				return &transfer.OpError{Op: "erase", Offset: off, Attempts: 1, Err: err}
			}
			needSeek = true
		}
		if ps.segment > 0 && off%ps.segment == 0 {
			needSeek = true
		}
		if needSeek {
			if err := ps.seek(off); err != nil {
				return &transfer.OpError{Op: "seek", Offset: off, Attempts: 1, Err: err}
			}
			needSeek = false
		}

		chunk := j.image[off : off+size]
		if ps.special != nil {
			done, err := ps.special(off, chunk)
			if err != nil {
				return &transfer.OpError{Op: "write", Offset: off, Attempts: 1, Err: err}
			}
			if done {
				st.Offset += size
				st.Transferred += int(size)
				needSeek = true
				continue
			}
		}

		if err := j.xfer.WriteChunk(st, j.p.Write, chunk, ps.seek); err != nil {
			return err
		}
	}
	return nil
}
