package client

import (
	"sync"
	"time"
)

// Debouncer collapses rapid pushes and calls fn with only the latest value once
// no push has happened for the wait duration.
type Debouncer struct {
	wait time.Duration
	fn   func(string)

	mu      sync.Mutex
	timer   *time.Timer
	latest  string
	stopped bool
}

func NewDebouncer(wait time.Duration, fn func(string)) *Debouncer {
	return &Debouncer{wait: wait, fn: fn}
}

func (d *Debouncer) Push(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.latest = value
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	value := d.latest
	d.timer = nil
	d.mu.Unlock()
	d.fn(value)
}

// Flush delivers a pending value immediately and reports whether there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer == nil || d.stopped || !d.timer.Stop() {
		d.mu.Unlock()
		return false
	}
	value := d.latest
	d.timer = nil
	d.mu.Unlock()
	d.fn(value)
	return true
}

// Stop drops any pending value.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
