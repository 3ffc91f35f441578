// Package render derives what the console shows from a conversation
// snapshot. It holds no state of its own.
package render

import (
	"loanops-console/internal/contract"
	"loanops-console/internal/conversation"
)

const (
	BannerAutoApproved = "Auto-Approved"
	BannerHumanReview  = "Human Review"
)

type View struct {
	Stage        contract.Stage
	Indicator    contract.Stage
	ActiveAgent  contract.ActiveAgent
	Status       contract.ApplicationStatus
	Busy         bool
	Halted       bool
	RiskCard     *RiskCard
	SanctionCard *SanctionCard
	ShowKYC      bool
	PAN          *PANBadge
}

type RiskCard struct {
	Score    int
	Level    contract.RiskLevel
	Positive []string
	Negative []string
}

type SanctionCard struct {
	ArtifactID string
	Banner     string
	Reason     string
	Source     string
	Policy     string
}

// PANBadge is the display form of the PAN tri-state.
type PANBadge struct {
	Status      conversation.PANStatus
	Label       string
	MatchedName string
}

// Render is a pure function of the snapshot.
func Render(s conversation.State) View {
	v := View{
		Stage:       s.Stage,
		Indicator:   s.Indicator,
		ActiveAgent: s.ActiveAgent,
		Status:      s.ApplicationStatus,
		Busy:        s.Busy,
		Halted:      s.Halted,
	}

	if s.Risk != nil && s.SanctionArtifactID == "" && s.Stage.Terminal() {
		v.RiskCard = riskCard(s.Risk)
	}

	if s.SanctionArtifactID != "" {
		v.SanctionCard = sanctionCard(s.SanctionArtifactID, s.Decision)
	}

	v.ShowKYC = s.Stage == contract.StageVerification && s.Verification == nil

	if s.Verification != nil {
		v.PAN = PANBadgeFor(*s.Verification)
	}
	return v
}

func riskCard(r *conversation.RiskAssessment) *RiskCard {
	card := &RiskCard{Score: r.Score, Level: r.Level}
	for _, f := range r.Factors {
		if f.Positive {
			card.Positive = append(card.Positive, f.Text)
		} else {
			card.Negative = append(card.Negative, f.Text)
		}
	}
	return card
}

func sanctionCard(artifactID string, d *conversation.DecisionInfo) *SanctionCard {
	card := &SanctionCard{ArtifactID: artifactID}
	if d == nil {
		return card
	}
	switch d.Type {
	case contract.DecisionAutomated:
		card.Banner = BannerAutoApproved
	case contract.DecisionManual:
		card.Banner = BannerHumanReview
	}
	card.Reason = d.Reason
	card.Source = d.Source
	card.Policy = d.PolicyApplied
	return card
}

func PANBadgeFor(r conversation.VerificationResult) *PANBadge {
	b := &PANBadge{Status: r.PANStatus, MatchedName: r.MatchedName}
	switch r.PANStatus {
	case conversation.PANVerified:
		b.Label = "PAN verified"
	case conversation.PANFormatInvalid:
		b.Label = "PAN format invalid"
	default:
		b.Label = "PAN format valid (simulated check)"
	}
	return b
}
