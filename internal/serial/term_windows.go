//go:build windows

package serial

import "fmt"

func openTerm(Config) (Port, error) {
	return nil, fmt.Errorf("%w: %q is not available on windows, use %q", ErrUnknownBackend, BackendTerm, BackendGoSerial)
}
