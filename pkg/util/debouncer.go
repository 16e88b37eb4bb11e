package util

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into a single trailing-edge call.
// Every Trigger (re)arms the timer; only the last trigger in a burst actually
// runs the function, after the configured quiet period.
//
// Example usage:
//
//	d := NewDebouncer(500*time.Millisecond, flushSubtitles)
//	defer d.Stop()
//
//	for line := range lines {
//	    buffer.Append(line)
//	    d.Trigger()
//	}
type Debouncer struct {
	duration time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that invokes fn once per quiet period.
func NewDebouncer(duration time.Duration, fn func()) *Debouncer {
	return &Debouncer{
		duration: duration,
		fn:       fn,
	}
}

// Trigger arms (or re-arms) the timer. If the debouncer has been stopped,
// this is a no-op.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(d.duration, d.fire)

		return
	}

	d.timer.Reset(d.duration)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()

		return
	}
	d.mu.Unlock()

	d.fn()
}

// Stop cancels any pending invocation and prevents further triggers.
// It's safe to call Stop multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Flush runs the function immediately and cancels any pending invocation.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()

		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.fn()
}
