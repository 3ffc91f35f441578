// internal/contract/models.go
package contract

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the Decision Service reply to POST /chat. Every field but
// Reply is optional; a nil field means "no change", never "clear".
type ChatResponse struct {
	Reply             string             `json:"reply"`
	Stage             *Stage             `json:"stage,omitempty"`
	ApplicationStatus *ApplicationStatus `json:"application_status,omitempty"`
	SanctionLetter    *string            `json:"sanction_letter,omitempty"`
	RiskScore         *int               `json:"risk_score,omitempty"`
	RiskLevel         *RiskLevel         `json:"risk_level,omitempty"`
	RiskFactors       []string           `json:"risk_factors,omitempty"`
	DecisionType      *DecisionType      `json:"decision_type,omitempty"`
	DecisionReason    *string            `json:"decision_reason,omitempty"`
	DecisionSource    *string            `json:"decision_source,omitempty"`
	PolicyApplied     *string            `json:"policy_applied,omitempty"`
	HaltAgents        *bool              `json:"halt_agents,omitempty"`
	ActiveAgent       *ActiveAgent       `json:"active_agent,omitempty"`
}

// Halted reports whether the response carries halt_agents = true.
func (r *ChatResponse) Halted() bool {
	return r.HaltAgents != nil && *r.HaltAgents
}

// Clone returns a deep copy so a captured response cannot be mutated by the
// caller while a playback holds it.
func (r *ChatResponse) Clone() *ChatResponse {
	if r == nil {
		return nil
	}
	out := *r
	out.Stage = clonePtr(r.Stage)
	out.ApplicationStatus = clonePtr(r.ApplicationStatus)
	out.SanctionLetter = clonePtr(r.SanctionLetter)
	out.RiskScore = clonePtr(r.RiskScore)
	out.RiskLevel = clonePtr(r.RiskLevel)
	out.DecisionType = clonePtr(r.DecisionType)
	out.DecisionReason = clonePtr(r.DecisionReason)
	out.DecisionSource = clonePtr(r.DecisionSource)
	out.PolicyApplied = clonePtr(r.PolicyApplied)
	out.HaltAgents = clonePtr(r.HaltAgents)
	out.ActiveAgent = clonePtr(r.ActiveAgent)
	if r.RiskFactors != nil {
		out.RiskFactors = append([]string(nil), r.RiskFactors...)
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr is a convenience for building responses in tests and fixtures.
func Ptr[T any](v T) *T { return &v }

type VerifyRequest struct {
	SessionID string        `json:"session_id"`
	Details   VerifyDetails `json:"details"`
}

type VerifyDetails struct {
	Name    string                 `json:"name"`
	KYCData map[string]interface{} `json:"kyc_data"`
}

type VerifyResponse struct {
	Reply      string     `json:"reply"`
	KYCSummary KYCSummary `json:"kyc_summary"`
}

type KYCSummary struct {
	PANVerificationStatus bool    `json:"pan_verification_status"`
	PANFormatValid        bool    `json:"pan_format_valid"`
	VerificationMode      string  `json:"verification_mode"`
	PANVerificationSource string  `json:"pan_verification_source"`
	PANNameOnRecord       *string `json:"pan_name_on_record,omitempty"`
}

type ApplicationSummary struct {
	ApplicationID string   `json:"application_id"`
	UserID        string   `json:"user_id,omitempty"`
	LoanAmount    *float64 `json:"loan_amount,omitempty"`
	Status        string   `json:"status"`
	CreatedAt     string   `json:"created_at"`
}

type ApplicationList struct {
	Total        int                  `json:"total"`
	Applications []ApplicationSummary `json:"applications"`
}

type StageInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Agent       string `json:"agent"`
	Description string `json:"description"`
}

type StageCatalogue struct {
	Stages []StageInfo `json:"stages"`
	Flow   string      `json:"flow"`
}

type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
