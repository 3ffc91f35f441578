package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanops-console/internal/contract"
	"loanops-console/internal/conversation"
)

func TestRender_RiskCard(t *testing.T) {
	risk := &conversation.RiskAssessment{
		Score: 72,
		Level: contract.RiskMedium,
		Factors: []conversation.RiskFactor{
			{Positive: true, Text: "Stable income"},
			{Positive: false, Text: "High EMI"},
		},
	}

	tests := []struct {
		name     string
		state    conversation.State
		expected bool
	}{
		{
			name:     "sanction without artifact",
			state:    conversation.State{Stage: contract.StageSanction, Risk: risk},
			expected: true,
		},
		{
			name:     "rejected",
			state:    conversation.State{Stage: contract.StageRejected, Risk: risk},
			expected: true,
		},
		{
			name:     "underwriting",
			state:    conversation.State{Stage: contract.StageUnderwriting, Risk: risk},
			expected: false,
		},
		{
			name:     "artifact present",
			state:    conversation.State{Stage: contract.StageSanction, Risk: risk, SanctionArtifactID: "a.pdf"},
			expected: false,
		},
		{
			name:     "no assessment",
			state:    conversation.State{Stage: contract.StageRejected},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Render(tt.state)
			assert.Equal(t, tt.expected, v.RiskCard != nil)
		})
	}

	v := Render(conversation.State{Stage: contract.StageSanction, Risk: risk})
	require.NotNil(t, v.RiskCard)
	assert.Equal(t, []string{"Stable income"}, v.RiskCard.Positive)
	assert.Equal(t, []string{"High EMI"}, v.RiskCard.Negative)
}

func TestRender_SanctionCard(t *testing.T) {
	tests := []struct {
		name     string
		decision *conversation.DecisionInfo
		banner   string
	}{
		{name: "automated", decision: &conversation.DecisionInfo{Type: contract.DecisionAutomated}, banner: BannerAutoApproved},
		{name: "manual", decision: &conversation.DecisionInfo{Type: contract.DecisionManual, Reason: "Exceeds auto limit"}, banner: BannerHumanReview},
		{name: "no decision info", decision: nil, banner: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Render(conversation.State{
				Stage:              contract.StageSanction,
				SanctionArtifactID: "LOAN-1_sanction.pdf",
				Decision:           tt.decision,
			})
			require.NotNil(t, v.SanctionCard)
			assert.Equal(t, "LOAN-1_sanction.pdf", v.SanctionCard.ArtifactID)
			assert.Equal(t, tt.banner, v.SanctionCard.Banner)
		})
	}

	assert.Nil(t, Render(conversation.State{Stage: contract.StageSanction}).SanctionCard)
}

func TestRender_KYCWizardVisibility(t *testing.T) {
	verified := &conversation.VerificationResult{PANStatus: conversation.PANVerified}

	assert.True(t, Render(conversation.State{Stage: contract.StageVerification}).ShowKYC)
	assert.False(t, Render(conversation.State{Stage: contract.StageVerification, Verification: verified}).ShowKYC)
	assert.False(t, Render(conversation.State{Stage: contract.StageSales}).ShowKYC)
	assert.False(t, Render(conversation.State{Stage: contract.StageUnderwriting}).ShowKYC)
}

func TestPANBadgeFor(t *testing.T) {
	tests := []struct {
		status conversation.PANStatus
		label  string
	}{
		{conversation.PANVerified, "PAN verified"},
		{conversation.PANFormatInvalid, "PAN format invalid"},
		{conversation.PANSimulatedOnly, "PAN format valid (simulated check)"},
	}
	for _, tt := range tests {
		b := PANBadgeFor(conversation.VerificationResult{PANStatus: tt.status, MatchedName: "ASHA RAO"})
		assert.Equal(t, tt.label, b.Label)
		assert.Equal(t, "ASHA RAO", b.MatchedName)
	}
}

func TestRender_IsPure(t *testing.T) {
	s := conversation.State{
		Stage: contract.StageRejected,
		Risk:  &conversation.RiskAssessment{Score: 20, Factors: []conversation.RiskFactor{{Text: "x"}}},
	}
	a := Render(s)
	b := Render(s)
	assert.Equal(t, a, b)
	assert.Equal(t, 20, s.Risk.Score)
}
