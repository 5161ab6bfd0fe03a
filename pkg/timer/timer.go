package timer

import (
	"sync"
	"time"
)

// OneShot runs fn once per Arm. Re-arming replaces the previous schedule,
// including one that already expired but whose callback has not started.
type OneShot struct {
	mu      sync.Mutex
	fn      func()
	t       *time.Timer
	gen     uint64
	stopped bool
}

func NewOneShot(fn func()) *OneShot {
	return &OneShot{fn: fn}
}

// Arm schedules fn after d. A negative or zero d fires as soon as possible.
func (o *OneShot) Arm(d time.Duration) {
	if d < 0 {
		d = 0
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}

	o.gen++
	gen := o.gen
	if o.t != nil {
		o.t.Stop()
	}
	o.t = time.AfterFunc(d, func() {
		o.fire(gen)
	})
}

func (o *OneShot) fire(gen uint64) {
	o.mu.Lock()
	if o.stopped || gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.fn()
}

// Stop cancels any pending schedule and disables further Arm calls.
// It reports whether a schedule was still pending.
func (o *OneShot) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopped = true
	o.gen++
	if o.t == nil {
		return false
	}
	return o.t.Stop()
}
