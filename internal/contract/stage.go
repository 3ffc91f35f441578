// internal/contract/stage.go
package contract

// Stage is the conversation stage reported by the Decision Service.
type Stage string

const (
	StageSales        Stage = "sales"
	StageVerification Stage = "verification"
	StageUnderwriting Stage = "underwriting"
	StageSanction     Stage = "sanction"
	StageRejected     Stage = "rejected"
)

var stageRank = map[Stage]int{
	StageSales:        0,
	StageVerification: 1,
	StageUnderwriting: 2,
	StageSanction:     3,
	StageRejected:     4,
}

// AllStages lists the stages in flow order.
func AllStages() []Stage {
	return []Stage{StageSales, StageVerification, StageUnderwriting, StageSanction, StageRejected}
}

func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Terminal reports whether no further stage change is expected.
func (s Stage) Terminal() bool {
	return s == StageSanction || s == StageRejected
}

// CanAdvance reports whether a non-halted response may move the conversation
// from one stage to another. Rejected is reachable from anywhere; otherwise
// the stage never moves backward and nothing leaves rejected.
func CanAdvance(from, to Stage) bool {
	if !to.Valid() {
		return false
	}
	if to == StageRejected {
		return true
	}
	if from == StageRejected {
		return false
	}
	return stageRank[to] >= stageRank[from]
}

// ApplicationStatus is the server-side status of the loan application.
type ApplicationStatus string

const (
	StatusInitiated     ApplicationStatus = "Initiated"
	StatusVerified      ApplicationStatus = "Verified"
	StatusApproved      ApplicationStatus = "Approved"
	StatusSanctioned    ApplicationStatus = "Sanctioned"
	StatusRejected      ApplicationStatus = "Rejected"
	StatusPendingReview ApplicationStatus = "PendingReview"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

type DecisionType string

const (
	DecisionAutomated DecisionType = "AUTOMATED"
	DecisionManual    DecisionType = "MANUAL"
)

// ActiveAgent names the server-side agent currently handling the session.
type ActiveAgent string

const (
	AgentSales        ActiveAgent = "SalesAgent"
	AgentVerification ActiveAgent = "VerificationAgent"
	AgentUnderwriting ActiveAgent = "UnderwritingAgent"
	AgentSanction     ActiveAgent = "SanctionAgent"
)
