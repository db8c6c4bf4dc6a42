package flash

import (
	"context"
	"fmt"

	"github.com/richardwooding/gbxflash/internal/banking"
	"github.com/richardwooding/gbxflash/internal/protocol"
	"github.com/richardwooding/gbxflash/internal/romfile"
	"github.com/richardwooding/gbxflash/internal/transfer"
)

// verify reads the programmed range back and compares it with image.
func (j *job) verify(ctx context.Context, image []byte) error {
	j.log.Infof("verifying")
	n := min(uint32(len(image)), j.size)
	want := image[:n]

	got, err := j.readBack(ctx, n)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if j.p.Layout == LayoutMighty && j.blankSaveArea() {
		copy(got[mightySaveStart:min(mightySaveEnd, n)], want[mightySaveStart:min(mightySaveEnd, n)])
	}

	if romfile.Digest(got) == romfile.Digest(want) {
		return nil
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%w at 0x%X: read 0x%02X, wrote 0x%02X", ErrVerifyMismatch, i, got[i], want[i])
		}
	}
	return ErrVerifyMismatch
}

func (j *job) readBack(ctx context.Context, n uint32) ([]byte, error) {
	if j.gba() {
		return transfer.New(j.e.h).ReadGBARange(ctx, 0, int(n))
	}

	xfer := transfer.New(j.e.h)
	out := make([]byte, 0, n)
	for _, w := range j.gbWindows() {
		if w.from >= n {
			break
		}
		if w.enter != nil {
			if err := w.enter(); err != nil {
				return nil, err
			}
		}
		st := &transfer.State{Offset: w.from, Total: int(n)}
		seek := j.gbSeek(j.translator(), w.base)
		data, err := xfer.ReadStream(ctx, st, int(min(w.to, n)-w.from), protocol.ReadGB, banking.BankSize, seek)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}

	if j.p.Layout == LayoutMighty {
		if err := j.selectMightyBlock(0); err != nil {
			return nil, err
		}
	}
	return out, nil
}
