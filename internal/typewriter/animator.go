// Package typewriter reveals message text a few runes at a time. It is
// cosmetic: it never touches conversation state.
package typewriter

import (
	"sync"
	"time"

	"loanops-console/internal/orchestration"
)

// Frame is one reveal step. Done is set on the last frame.
type Frame struct {
	MessageID string
	Text      string
	Done      bool
}

// Animator runs independent reveals keyed by message id.
type Animator struct {
	scheduler orchestration.Scheduler
	interval  time.Duration
	step      int

	mu     sync.Mutex
	active map[string]*reveal
}

type reveal struct {
	id     string
	runes  []rune
	shown  int
	handle orchestration.Handle
	emit   func(Frame)
	done   bool
}

// New builds an animator that reveals step runes every interval.
func New(s orchestration.Scheduler, interval time.Duration, step int) *Animator {
	if s == nil {
		s = orchestration.TimerScheduler{}
	}
	if step < 1 {
		step = 1
	}
	return &Animator{
		scheduler: s,
		interval:  interval,
		step:      step,
		active:    make(map[string]*reveal),
	}
}

// Start begins revealing text for id. A reveal already running for id is
// cancelled first. The first frame is emitted synchronously.
func (a *Animator) Start(id, text string, emit func(Frame)) {
	a.Cancel(id)

	r := &reveal{id: id, runes: []rune(text), emit: emit}
	a.mu.Lock()
	a.active[id] = r
	a.mu.Unlock()

	a.tick(r)
}

func (a *Animator) tick(r *reveal) {
	a.mu.Lock()
	if r.done || a.active[r.id] != r {
		a.mu.Unlock()
		return
	}
	r.shown += a.step
	if r.shown >= len(r.runes) || a.interval <= 0 {
		r.shown = len(r.runes)
		r.done = true
		delete(a.active, r.id)
	}
	frame := Frame{MessageID: r.id, Text: string(r.runes[:r.shown]), Done: r.done}
	if !r.done {
		r.handle = a.scheduler.After(a.interval, func() { a.tick(r) })
	}
	a.mu.Unlock()

	r.emit(frame)
}

// Cancel stops the reveal for id. It reports whether one was running.
func (a *Animator) Cancel(id string) bool {
	a.mu.Lock()
	r, ok := a.active[id]
	var h orchestration.Handle
	if ok {
		delete(a.active, id)
		r.done = true
		h = r.handle
	}
	a.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
	return ok
}

// CancelAll stops every running reveal.
func (a *Animator) CancelAll() {
	a.mu.Lock()
	handles := make([]orchestration.Handle, 0, len(a.active))
	for id, r := range a.active {
		r.done = true
		if r.handle != nil {
			handles = append(handles, r.handle)
		}
		delete(a.active, id)
	}
	a.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Active is the number of running reveals.
func (a *Animator) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
