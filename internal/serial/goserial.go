package serial

import (
	"fmt"

	"github.com/jacobsa/go-serial/serial"
)

func openGoSerial(cfg Config) (Port, error) {
	// The inter-character timeout is in milliseconds and only applies
	// when MinimumReadSize is zero.
	timeout := uint(cfg.ReadTimeout.Milliseconds())
	if timeout == 0 {
		timeout = 1
	}

	options := serial.OpenOptions{
		PortName:              cfg.Name,
		BaudRate:              uint(cfg.Baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: timeout,
	}

	f, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}

	return NewStream(f, nil, cfg.ReadAttempts), nil
}
