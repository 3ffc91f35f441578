// internal/conversation/models.go
package conversation

import (
	"strings"
	"time"

	"loanops-console/internal/contract"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one entry of the append-only conversation log.
type Message struct {
	ID                  string         `json:"id"`
	Sender              Sender         `json:"sender"`
	Text                string         `json:"text"`
	Timestamp           time.Time      `json:"timestamp"`
	Stage               contract.Stage `json:"stage,omitempty"`
	IsWarning           bool           `json:"is_warning,omitempty"`
	IsOrchestrationStep bool           `json:"is_orchestration_step,omitempty"`
}

type RiskFactor struct {
	Positive bool   `json:"positive"`
	Text     string `json:"text"`
}

type RiskAssessment struct {
	Score   int                `json:"score"`
	Level   contract.RiskLevel `json:"level,omitempty"`
	Factors []RiskFactor       `json:"factors,omitempty"`
}

type DecisionInfo struct {
	Type          contract.DecisionType `json:"type"`
	Reason        string                `json:"reason,omitempty"`
	Source        string                `json:"source,omitempty"`
	PolicyApplied string                `json:"policy_applied,omitempty"`
}

// PANStatus is the three-way outcome of PAN verification.
type PANStatus string

const (
	PANVerified      PANStatus = "Verified"
	PANFormatInvalid PANStatus = "FormatInvalid"
	PANSimulatedOnly PANStatus = "SimulatedOnly"
)

// VerificationResult is recorded once the identity wizard succeeds.
type VerificationResult struct {
	PANStatus     PANStatus `json:"pan_status"`
	MatchedName   string    `json:"matched_name,omitempty"`
	Mode          string    `json:"mode,omitempty"`
	Source        string    `json:"source,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
	VideoVerified bool      `json:"video_verified"`
}

// State is the conversation state of one session. Values handed out by the
// Machine are deep copies.
type State struct {
	SessionID          string                     `json:"session_id"`
	Stage              contract.Stage             `json:"stage"`
	Indicator          contract.Stage             `json:"indicator"`
	Messages           []Message                  `json:"messages"`
	Busy               bool                       `json:"busy"`
	Halted             bool                       `json:"halted"`
	ApplicationStatus  contract.ApplicationStatus `json:"application_status"`
	SanctionArtifactID string                     `json:"sanction_artifact_id,omitempty"`
	Risk               *RiskAssessment            `json:"risk,omitempty"`
	Decision           *DecisionInfo              `json:"decision,omitempty"`
	ActiveAgent        contract.ActiveAgent       `json:"active_agent,omitempty"`
	Verification       *VerificationResult        `json:"verification,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	if s.Risk != nil {
		r := *s.Risk
		r.Factors = append([]RiskFactor(nil), s.Risk.Factors...)
		out.Risk = &r
	}
	if s.Decision != nil {
		d := *s.Decision
		out.Decision = &d
	}
	if s.Verification != nil {
		v := *s.Verification
		out.Verification = &v
	}
	return out
}

const (
	positiveMarker = "✓"
	negativeMarker = "⚠"
)

// ParseRiskFactor strips the leading marker. Unmarked factors count as
// negative.
func ParseRiskFactor(raw string) RiskFactor {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, positiveMarker):
		return RiskFactor{Positive: true, Text: strings.TrimSpace(strings.TrimPrefix(s, positiveMarker))}
	case strings.HasPrefix(s, negativeMarker):
		rest := strings.TrimPrefix(s, negativeMarker)
		// U+26A0 is often followed by the emoji variation selector
		rest = strings.TrimPrefix(rest, "\ufe0f")
		return RiskFactor{Positive: false, Text: strings.TrimSpace(rest)}
	default:
		return RiskFactor{Positive: false, Text: s}
	}
}
