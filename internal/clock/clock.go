// Package clock abstracts the settle and poll delays used when talking to the
// cartridge reader so that tests can run without real sleeps.
package clock

import (
	"sync"
	"time"
)

// Sleeper blocks the calling goroutine for a duration.
type Sleeper interface {
	Sleep(d time.Duration)
}

// Real sleeps using time.Sleep.
type Real struct{}

// Sleep implements Sleeper.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Fake records requested delays instead of sleeping.
type Fake struct {
	mu    sync.Mutex
	calls []time.Duration
}

// Sleep implements Sleeper.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	f.calls = append(f.calls, d)
	f.mu.Unlock()
}

// Total returns the sum of every recorded delay.
func (f *Fake) Total() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total time.Duration
	for _, d := range f.calls {
		total += d
	}
	return total
}

// Count returns how many times Sleep was called with exactly d.
func (f *Fake) Count(d time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == d {
			n++
		}
	}
	return n
}
