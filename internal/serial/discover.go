package serial

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
)

// ProbeFunc reports whether an opened port answers as a cartridge reader.
type ProbeFunc func(Port) bool

// DefaultCandidates returns the device globs searched on this platform.
func DefaultCandidates() []string {
	switch runtime.GOOS {
	case "windows":
		names := make([]string, 0, 32)
		for i := 1; i <= 32; i++ {
			names = append(names, fmt.Sprintf("COM%d", i))
		}
		return names
	case "darwin":
		return []string{"/dev/cu.usbserial*", "/dev/cu.wchusbserial*", "/dev/cu.usbmodem*"}
	default:
		return []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
	}
}

// Discover opens cfg.Name when set. Otherwise it tries every candidate port
// in order and returns the first one probe accepts.
func Discover(cfg Config, probe ProbeFunc) (Port, string, error) {
	cfg = cfg.withDefaults()

	if cfg.Name != "" {
		p, err := Open(cfg)
		if err != nil {
			return nil, "", err
		}
		if probe != nil && !probe(p) {
			_ = p.Close()
			return nil, "", fmt.Errorf("%w: %s did not answer", ErrDeviceNotFound, cfg.Name)
		}
		return p, cfg.Name, nil
	}

	patterns := cfg.Candidates
	if patterns == nil {
		patterns = DefaultCandidates()
	}

	for _, name := range expand(patterns) {
		try := cfg
		try.Name = name
		p, err := Open(try)
		if err != nil {
			continue
		}
		if probe == nil || probe(p) {
			return p, name, nil
		}
		_ = p.Close()
	}

	return nil, "", ErrDeviceNotFound
}

// expand resolves glob patterns, keeping literal names such as COM3 as-is.
func expand(patterns []string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			if !hasMeta(pattern) {
				matches = []string{pattern}
			} else {
				continue
			}
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				names = append(names, m)
			}
		}
	}
	return names
}

func hasMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', '\\':
			return true
		}
	}
	return false
}
