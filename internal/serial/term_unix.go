//go:build !windows

package serial

import (
	"fmt"

	"github.com/pkg/term"
)

func openTerm(cfg Config) (Port, error) {
	t, err := term.Open(cfg.Name, term.Speed(cfg.Baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}

	if err := t.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Name, err)
	}

	return NewStream(t, t.Flush, cfg.ReadAttempts), nil
}
