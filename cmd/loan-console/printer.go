package main

import (
	"fmt"
	"io"
	"sync"

	"loanops-console/internal/conversation"
	"loanops-console/internal/typewriter"
)

// printer serializes everything written to the terminal. Bot messages are
// revealed through the animator when one is configured; at most one reveal
// is on screen at a time and anything else written first completes it.
type printer struct {
	out      io.Writer
	animator *typewriter.Animator

	mu      sync.Mutex
	printed int
	reveal  *reveal
}

type reveal struct {
	id    string
	text  string
	shown int
}

func newPrinter(out io.Writer, animator *typewriter.Animator) *printer {
	return &printer{out: out, animator: animator}
}

// reset forgets the message offset of the previous conversation.
func (p *printer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
	p.printed = 0
}

// onState prints the messages appended since the last snapshot. Snapshots
// may arrive out of order; an older one simply has nothing new.
func (p *printer) onState(s conversation.State) {
	p.mu.Lock()
	var start *reveal
	for ; p.printed < len(s.Messages); p.printed++ {
		msg := s.Messages[p.printed]
		if msg.Sender == conversation.SenderUser {
			continue
		}
		p.finishLocked()
		prefix := prefixFor(msg)
		if p.animator == nil || msg.IsOrchestrationStep || msg.IsWarning {
			fmt.Fprintf(p.out, "%s%s\n", prefix, msg.Text)
			continue
		}
		fmt.Fprint(p.out, prefix)
		p.reveal = &reveal{id: msg.ID, text: msg.Text}
		start = p.reveal
	}
	p.mu.Unlock()

	// the first frame is emitted synchronously and takes p.mu
	if start != nil {
		p.animator.Start(start.id, start.text, p.frame)
	}
}

func (p *printer) frame(f typewriter.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.reveal
	if r == nil || r.id != f.MessageID || len(f.Text) < r.shown {
		return
	}
	fmt.Fprint(p.out, f.Text[r.shown:])
	r.shown = len(f.Text)
	if f.Done {
		fmt.Fprintln(p.out)
		p.reveal = nil
	}
}

func (p *printer) finishLocked() {
	r := p.reveal
	if r == nil {
		return
	}
	p.reveal = nil
	p.animator.Cancel(r.id)
	fmt.Fprintln(p.out, r.text[r.shown:])
}

// flush completes any reveal in progress.
func (p *printer) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
	io.WriteString(p.out, s)
}

func prefixFor(msg conversation.Message) string {
	switch {
	case msg.IsWarning:
		return "! "
	case msg.IsOrchestrationStep:
		return "  » "
	default:
		return "bot> "
	}
}
