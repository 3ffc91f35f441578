package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "loanops-console/internal/common/errors"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/common/metrics"
	"loanops-console/internal/contract"
	"loanops-console/internal/orchestration"
)

var (
	ErrEmptyMessage = apperrors.New("EMPTY_MESSAGE")
	ErrBusy         = apperrors.New("CONVERSATION_BUSY")
	ErrClosed       = apperrors.New("CONVERSATION_CLOSED")
)

// TransportFailureText is shown when the Decision Service cannot be reached
// or its reply cannot be used.
const TransportFailureText = "Sorry, I couldn't reach the loan service. Please try again."

// ChatClient is the part of the Decision Service the machine needs.
type ChatClient interface {
	Chat(ctx context.Context, sessionID, message string) (*contract.ChatResponse, error)
}

// Machine owns the conversation state of one session. All transitions are
// serialized on its mutex; network calls and listeners run outside it.
type Machine struct {
	client    ChatClient
	sequencer *orchestration.Sequencer
	logger    logger.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	playback  *orchestration.Playback
	held      []Message
	closed    bool
	idle      chan struct{}
	listeners map[int]func(State)
	nextID    int
}

func NewMachine(sessionID string, client ChatClient, seq *orchestration.Sequencer, log logger.Logger) *Machine {
	idle := make(chan struct{})
	close(idle)
	return &Machine{
		client:    client,
		sequencer: seq,
		logger: log.WithFields(map[string]interface{}{
			"component": "conversation",
			"sessionId": sessionID,
		}),
		now: time.Now,
		state: State{
			SessionID:         sessionID,
			Stage:             contract.StageSales,
			Indicator:         contract.StageSales,
			ApplicationStatus: contract.StatusInitiated,
		},
		idle:      idle,
		listeners: make(map[int]func(State)),
	}
}

func (m *Machine) SessionID() string {
	return m.state.SessionID
}

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned func unregisters it.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Submit sends one user message. It returns once the Decision Service has
// answered; an orchestrated reply continues to play back afterwards with the
// machine still busy. Transport failures are reported in the log, not as an
// error. ErrEmptyMessage, ErrBusy and ErrClosed leave the state untouched.
func (m *Machine) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state.Busy {
		m.mu.Unlock()
		metrics.ConversationSubmits.WithLabelValues("refused").Inc()
		return ErrBusy
	}
	m.appendLocked(Message{Sender: SenderUser, Text: text, Stage: m.state.Stage})
	m.setBusyLocked(true)
	sessionID := m.state.SessionID
	m.mu.Unlock()
	m.notify()

	resp, err := m.client.Chat(ctx, sessionID, text)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	if err != nil {
		m.appendLocked(Message{Sender: SenderBot, Text: TransportFailureText, Stage: m.state.Stage, IsWarning: true})
		m.setBusyLocked(false)
		m.mu.Unlock()
		m.notify()

		metrics.ConversationSubmits.WithLabelValues("transport_failure").Inc()
		m.logger.Warn("decision service call failed", map[string]interface{}{
			"error":     err.Error(),
			"retryable": apperrors.IsRetryable(err),
		})
		return nil
	}

	if resp.Halted() {
		m.haltLocked(resp)
		m.mu.Unlock()
		m.notify()

		metrics.ConversationSubmits.WithLabelValues("halted").Inc()
		m.logger.Warn("agents halted by decision service", nil)
		return nil
	}

	if eligible(m.state.Stage, resp) {
		p := m.sequencer.New(resp.Clone(), m)
		m.playback = p
		m.mu.Unlock()

		metrics.ConversationSubmits.WithLabelValues("orchestrated").Inc()
		m.logger.Info("starting orchestration playback", map[string]interface{}{
			"targetStage": string(*resp.Stage),
			"riskScore":   *resp.RiskScore,
		})
		p.Begin()
		return nil
	}

	m.applyLocked(resp)
	m.setBusyLocked(false)
	m.mu.Unlock()
	m.notify()

	metrics.ConversationSubmits.WithLabelValues("immediate").Inc()
	return nil
}

// eligible decides playback against the stage held before the response is
// applied.
func eligible(prior contract.Stage, resp *contract.ChatResponse) bool {
	if resp.RiskScore == nil || resp.Stage == nil {
		return false
	}
	switch *resp.Stage {
	case contract.StageSanction, contract.StageRejected:
		return true
	case contract.StageUnderwriting:
		return prior == contract.StageVerification
	}
	return false
}

// ShowStep implements orchestration.Sink.
func (m *Machine) ShowStep(p *orchestration.Playback, step orchestration.Step) bool {
	m.mu.Lock()
	if m.closed || m.playback != p {
		m.mu.Unlock()
		return false
	}
	m.state.Indicator = step.Stage
	m.appendLocked(Message{
		Sender:              SenderBot,
		Text:                step.Text,
		Stage:               step.Stage,
		IsOrchestrationStep: true,
	})
	m.mu.Unlock()
	m.notify()
	return true
}

// Finish implements orchestration.Sink.
func (m *Machine) Finish(p *orchestration.Playback, resp *contract.ChatResponse) bool {
	m.mu.Lock()
	if m.closed || m.playback != p {
		m.mu.Unlock()
		return false
	}
	m.playback = nil
	m.applyLocked(resp)
	m.setBusyLocked(false)
	m.mu.Unlock()
	m.notify()
	return true
}

// CompleteVerification records a successful identity verification and
// appends the service reply. While a request or playback is in progress the
// reply is held back and appended after the pending bot reply.
func (m *Machine) CompleteVerification(reply string, result VerificationResult) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if strings.TrimSpace(reply) != "" {
		msg := Message{Sender: SenderBot, Text: reply}
		if m.state.Busy {
			m.held = append(m.held, msg)
		} else {
			msg.Stage = m.state.Stage
			m.appendLocked(msg)
		}
	}
	r := result
	m.state.Verification = &r
	m.mu.Unlock()
	m.notify()

	m.logger.Info("verification recorded", map[string]interface{}{
		"panStatus": string(result.PANStatus),
	})
}

// AwaitIdle blocks until the machine is not busy or ctx is done.
func (m *Machine) AwaitIdle(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the session down. A running playback is stopped and appends
// nothing further; later submits fail with ErrClosed.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	p := m.playback
	m.playback = nil
	m.held = nil
	m.setBusyLocked(false)
	m.listeners = make(map[int]func(State))
	m.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	m.logger.Debug("conversation closed", nil)
}

func (m *Machine) haltLocked(resp *contract.ChatResponse) {
	m.appendLocked(Message{
		Sender:    SenderBot,
		Text:      resp.Reply,
		Stage:     contract.StageVerification,
		IsWarning: true,
	})
	m.setStageLocked(contract.StageVerification)
	if resp.ApplicationStatus != nil {
		m.state.ApplicationStatus = *resp.ApplicationStatus
	}
	m.state.Halted = true
	m.setBusyLocked(false)
}

// applyLocked merges a non-halted response. Absent fields leave state alone.
func (m *Machine) applyLocked(resp *contract.ChatResponse) {
	msgStage := m.state.Stage
	if resp.Stage != nil {
		msgStage = *resp.Stage
	}
	m.appendLocked(Message{Sender: SenderBot, Text: resp.Reply, Stage: msgStage})

	if resp.Stage != nil {
		if contract.CanAdvance(m.state.Stage, *resp.Stage) {
			m.setStageLocked(*resp.Stage)
		} else {
			m.logger.Warn("ignoring backward stage change", map[string]interface{}{
				"from": string(m.state.Stage),
				"to":   string(*resp.Stage),
			})
		}
	}
	m.state.Indicator = m.state.Stage

	if resp.ApplicationStatus != nil {
		m.state.ApplicationStatus = *resp.ApplicationStatus
	}
	if resp.SanctionLetter != nil && *resp.SanctionLetter != "" {
		m.state.SanctionArtifactID = *resp.SanctionLetter
	}

	if resp.RiskScore != nil {
		if m.state.Risk == nil {
			m.state.Risk = &RiskAssessment{}
		}
		m.state.Risk.Score = *resp.RiskScore
	}
	if m.state.Risk != nil {
		if resp.RiskLevel != nil {
			m.state.Risk.Level = *resp.RiskLevel
		}
		if resp.RiskFactors != nil {
			factors := make([]RiskFactor, 0, len(resp.RiskFactors))
			for _, f := range resp.RiskFactors {
				factors = append(factors, ParseRiskFactor(f))
			}
			m.state.Risk.Factors = factors
		}
	}

	if resp.DecisionType != nil {
		if m.state.Decision == nil {
			m.state.Decision = &DecisionInfo{}
		}
		m.state.Decision.Type = *resp.DecisionType
	}
	if m.state.Decision != nil {
		if resp.DecisionReason != nil {
			m.state.Decision.Reason = *resp.DecisionReason
		}
		if resp.DecisionSource != nil {
			m.state.Decision.Source = *resp.DecisionSource
		}
		if resp.PolicyApplied != nil {
			m.state.Decision.PolicyApplied = *resp.PolicyApplied
		}
	}

	if resp.ActiveAgent != nil {
		m.state.ActiveAgent = *resp.ActiveAgent
	}
	m.state.Halted = false
}

func (m *Machine) setStageLocked(to contract.Stage) {
	from := m.state.Stage
	m.state.Stage = to
	m.state.Indicator = to
	if from != to {
		metrics.ConversationStageTransitions.WithLabelValues(string(from), string(to)).Inc()
		m.logger.Info("stage changed", map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		})
	}
}

func (m *Machine) setBusyLocked(busy bool) {
	if m.state.Busy == busy {
		return
	}
	m.state.Busy = busy
	if busy {
		m.idle = make(chan struct{})
		return
	}
	if !m.closed {
		for _, msg := range m.held {
			msg.Stage = m.state.Stage
			m.appendLocked(msg)
		}
	}
	m.held = nil
	close(m.idle)
}

func (m *Machine) appendLocked(msg Message) {
	msg.ID = uuid.NewString()
	msg.Timestamp = m.now()
	m.state.Messages = append(m.state.Messages, msg)
}

func (m *Machine) notify() {
	m.mu.Lock()
	if len(m.listeners) == 0 {
		m.mu.Unlock()
		return
	}
	snap := m.state.clone()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
