package device

import (
	"sync"
	"time"
)

// Scheduler replaces timer-callback-with-userdata patterns (§9) with a
// plain Go continuation: Schedule(delay, fn) runs fn once after delay on
// its own goroutine, and the returned handle can cancel it before it
// fires. This backs the registry's remove-delay (a device that unplugs
// during a replug window is kept around for RemoveDelay before it's
// actually dropped).
type Scheduler struct {
	mu      sync.Mutex
	pending map[*scheduled]struct{}
}

type scheduled struct {
	timer *time.Timer
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{pending: map[*scheduled]struct{}{}}
}

// Handle cancels a scheduled continuation if it hasn't fired yet.
type Handle struct {
	s *Scheduler
	e *scheduled
}

// Cancel stops the continuation from running, if it hasn't already.
func (h *Handle) Cancel() {
	h.e.timer.Stop()
	h.s.mu.Lock()
	delete(h.s.pending, h.e)
	h.s.mu.Unlock()
}

// Schedule runs fn after delay elapses, unless the returned Handle is
// cancelled first.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Handle {
	e := &scheduled{}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, e)
		s.mu.Unlock()
		fn()
	})

	s.mu.Lock()
	s.pending[e] = struct{}{}
	s.mu.Unlock()

	return &Handle{s: s, e: e}
}
