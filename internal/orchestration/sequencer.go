package orchestration

import (
	"math/rand/v2"
	"sync"
	"time"

	"loanops-console/internal/common/logger"
	"loanops-console/internal/common/metrics"
	"loanops-console/internal/contract"
)

const (
	DefaultMinDelay = 900 * time.Millisecond
	DefaultMaxDelay = 1200 * time.Millisecond
)

// Step is one synthetic agent message of the playback script.
type Step struct {
	Name  string
	Stage contract.Stage
	Text  string
}

// Script is the fixed playback order.
var Script = []Step{
	{
		Name:  "credit",
		Stage: contract.StageUnderwriting,
		Text:  "Credit Agent: pulling your bureau report and repayment history...",
	},
	{
		Name:  "risk",
		Stage: contract.StageUnderwriting,
		Text:  "Risk Agent: scoring affordability against lending policy...",
	},
	{
		Name:  "sanction",
		Stage: contract.StageSanction,
		Text:  "Sanction Agent: finalising the decision on your application...",
	},
}

// Sink receives the playback output. Both methods report false when the
// playback is no longer current for the sink, which ends it silently.
type Sink interface {
	ShowStep(p *Playback, step Step) bool
	Finish(p *Playback, resp *contract.ChatResponse) bool
}

// Sequencer builds playbacks that share a scheduler and delay source.
type Sequencer struct {
	scheduler Scheduler
	delay     func() time.Duration
	logger    logger.Logger
}

// NewSequencer draws each step delay uniformly from [lo, hi).
func NewSequencer(s Scheduler, lo, hi time.Duration, log logger.Logger) *Sequencer {
	if s == nil {
		s = TimerScheduler{}
	}
	return &Sequencer{
		scheduler: s,
		delay:     UniformDelay(lo, hi),
		logger: log.WithFields(map[string]interface{}{
			"component": "orchestration",
		}),
	}
}

// WithDelay replaces the delay source.
func (s *Sequencer) WithDelay(delay func() time.Duration) *Sequencer {
	cp := *s
	cp.delay = delay
	return &cp
}

// UniformDelay returns a generator of delays in [lo, hi).
func UniformDelay(lo, hi time.Duration) func() time.Duration {
	if hi <= lo {
		return func() time.Duration { return lo }
	}
	span := hi - lo
	return func() time.Duration {
		return lo + rand.N(span)
	}
}

// New captures resp and prepares a playback. Nothing happens until Begin.
func (s *Sequencer) New(resp *contract.ChatResponse, sink Sink) *Playback {
	return &Playback{
		seq:  s,
		resp: resp,
		sink: sink,
		done: make(chan struct{}),
	}
}

// Playback is a single run of Script followed by the captured reply.
type Playback struct {
	seq  *Sequencer
	resp *contract.ChatResponse
	sink Sink

	mu       sync.Mutex
	next     int
	handle   Handle
	stopped  bool
	started  time.Time
	once     sync.Once
	done     chan struct{}
	finished bool
}

// Begin shows the first step synchronously; the rest follow on the
// scheduler. Callers must not hold locks the Sink takes.
func (p *Playback) Begin() {
	p.mu.Lock()
	p.started = time.Now()
	p.mu.Unlock()

	p.seq.logger.Debug("playback started", nil)
	p.advance()
}

func (p *Playback) advance() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	idx := p.next
	p.handle = nil
	p.mu.Unlock()

	if idx >= len(Script) {
		ok := p.sink.Finish(p, p.resp)
		p.complete(ok)
		return
	}

	step := Script[idx]
	if !p.sink.ShowStep(p, step) {
		p.complete(false)
		return
	}

	d := p.seq.delay()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.next = idx + 1
	p.handle = p.seq.scheduler.After(d, p.advance)
}

// Stop cancels the pending delay. No sink method is called afterwards by
// this playback. It reports false if the playback had already ended.
func (p *Playback) Stop() bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.stopped = true
	h := p.handle
	p.handle = nil
	p.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
	p.complete(false)
	return true
}

// Done is closed once the playback has finished or been stopped.
func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Finished reports whether the captured reply was delivered.
func (p *Playback) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

func (p *Playback) complete(delivered bool) {
	p.once.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.finished = delivered
		started := p.started
		p.mu.Unlock()

		if delivered {
			metrics.OrchestrationPlaybacks.WithLabelValues("completed").Inc()
			metrics.OrchestrationPlaybackDuration.Observe(time.Since(started).Seconds())
			p.seq.logger.Debug("playback completed", nil)
		} else {
			metrics.OrchestrationPlaybacks.WithLabelValues("cancelled").Inc()
			p.seq.logger.Debug("playback cancelled", nil)
		}
		close(p.done)
	})
}
