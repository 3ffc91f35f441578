// internal/orchestration/scheduler.go
package orchestration

import (
	"sort"
	"sync"
	"time"
)

// Handle is a pending scheduled callback.
type Handle interface {
	// Cancel prevents the callback from running. It reports false if the
	// callback already ran or was already cancelled.
	Cancel() bool
}

// Scheduler runs fn once after d.
type Scheduler interface {
	After(d time.Duration, fn func()) Handle
}

// TimerScheduler schedules on the runtime timer.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) Handle {
	return timerHandle{t: time.AfterFunc(d, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() bool {
	return h.t.Stop()
}

// ManualScheduler is a virtual clock. Callbacks only run from Advance or
// Flush, on the calling goroutine.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*manualTimer
	delays  []time.Duration
}

type manualTimer struct {
	s     *ManualScheduler
	at    time.Duration
	order int
	fn    func()
	done  bool
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) After(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTimer{s: s, at: s.now + d, order: s.seq, fn: fn}
	s.pending = append(s.pending, t)
	s.delays = append(s.delays, d)
	return t
}

func (t *manualTimer) Cancel() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.s.removeLocked(t)
	return true
}

// Advance moves the clock forward by d, running every callback that falls
// due in time order.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextLocked()
		if next == nil || next.at > target {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.at
		next.done = true
		s.removeLocked(next)
		s.mu.Unlock()

		next.fn()
	}
}

// Flush runs callbacks until nothing is pending, including callbacks
// scheduled by callbacks.
func (s *ManualScheduler) Flush() {
	for {
		s.mu.Lock()
		next := s.nextLocked()
		if next == nil {
			s.mu.Unlock()
			return
		}
		d := next.at - s.now
		s.mu.Unlock()
		s.Advance(d)
	}
}

// Pending is the number of callbacks not yet run or cancelled.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Delays returns every delay requested so far.
func (s *ManualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) nextLocked() *manualTimer {
	if len(s.pending) == 0 {
		return nil
	}
	sort.Slice(s.pending, func(i, j int) bool {
		if s.pending[i].at == s.pending[j].at {
			return s.pending[i].order < s.pending[j].order
		}
		return s.pending[i].at < s.pending[j].at
	})
	return s.pending[0]
}

func (s *ManualScheduler) removeLocked(t *manualTimer) {
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
