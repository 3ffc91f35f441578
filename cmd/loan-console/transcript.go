package main

import (
	"context"
	"sync"
	"time"

	"loanops-console/internal/common/logger"
	"loanops-console/internal/conversation"
)

const transcriptTimeout = 5 * time.Second

type transcriptSyncer interface {
	Sync(ctx context.Context, state conversation.State) (int, error)
	Forget(sessionID string)
}

// transcriptWriter syncs snapshots on its own goroutine; enqueue never waits
// on the database. Only the newest pending snapshot is kept, and it carries
// every earlier message.
type transcriptWriter struct {
	sink   transcriptSyncer
	logger logger.Logger

	mu      sync.Mutex
	pending *conversation.State
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newTranscriptWriter(sink transcriptSyncer, log logger.Logger) *transcriptWriter {
	w := &transcriptWriter{
		sink:   sink,
		logger: log,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue never blocks. Snapshots arriving after close are dropped.
func (w *transcriptWriter) enqueue(s conversation.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = &s
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *transcriptWriter) run() {
	defer close(w.done)
	for range w.wake {
		w.mu.Lock()
		s := w.pending
		w.pending = nil
		w.mu.Unlock()
		if s != nil {
			w.sync(*s)
		}
	}
}

func (w *transcriptWriter) sync(s conversation.State) {
	ctx, cancel := context.WithTimeout(context.Background(), transcriptTimeout)
	defer cancel()
	if _, err := w.sink.Sync(ctx, s); err != nil {
		w.logger.Warn("transcript sync failed", map[string]interface{}{
			"sessionId": s.SessionID,
			"error":     err.Error(),
		})
	}
}

// close writes whatever is still pending, then forgets the session.
func (w *transcriptWriter) close(sessionID string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.wake)
	w.mu.Unlock()

	<-w.done
	w.sink.Forget(sessionID)
}
