// internal/contract/schema.go
package contract

import (
	"encoding/json"
	"fmt"

	"loanops-console/internal/common/validation"
)

// Optional fields accept null; a null is treated the same as an absent key.
const chatResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["reply"],
  "properties": {
    "reply": {"type": "string"},
    "stage": {"enum": ["sales", "verification", "underwriting", "sanction", "rejected", null]},
    "application_status": {"enum": ["Initiated", "Verified", "Approved", "Sanctioned", "Rejected", "PendingReview", null]},
    "sanction_letter": {"type": ["string", "null"]},
    "risk_score": {"type": ["integer", "null"], "minimum": 0, "maximum": 100},
    "risk_level": {"enum": ["Low", "Medium", "High", null]},
    "risk_factors": {"type": ["array", "null"], "items": {"type": "string"}},
    "decision_type": {"enum": ["AUTOMATED", "MANUAL", null]},
    "decision_reason": {"type": ["string", "null"]},
    "decision_source": {"type": ["string", "null"]},
    "policy_applied": {"type": ["string", "null"]},
    "halt_agents": {"type": ["boolean", "null"]},
    "active_agent": {"type": ["string", "null"]}
  }
}`

const verifyResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["reply", "kyc_summary"],
  "properties": {
    "reply": {"type": "string"},
    "kyc_summary": {
      "type": "object",
      "required": ["pan_verification_status", "pan_format_valid"],
      "properties": {
        "pan_verification_status": {"type": "boolean"},
        "pan_format_valid": {"type": "boolean"},
        "verification_mode": {"type": ["string", "null"]},
        "pan_verification_source": {"type": ["string", "null"]},
        "pan_name_on_record": {"type": ["string", "null"]}
      }
    }
  }
}`

const applicationListSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["total", "applications"],
  "properties": {
    "total": {"type": "integer", "minimum": 0},
    "applications": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["application_id", "status"],
        "properties": {
          "application_id": {"type": "string"},
          "user_id": {"type": ["string", "null"]},
          "loan_amount": {"type": ["number", "null"]},
          "status": {"type": "string"},
          "created_at": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var (
	chatSchema    = validation.MustCompile(chatResponseSchema)
	verifySchema  = validation.MustCompile(verifyResponseSchema)
	appListSchema = validation.MustCompile(applicationListSchema)
)

// DecodeChatResponse validates body against the chat response contract and
// decodes it.
func DecodeChatResponse(body []byte) (*ChatResponse, error) {
	if res := chatSchema.ValidateBytes(body); !res.Valid {
		return nil, fmt.Errorf("chat response: %s", res.String())
	}
	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("chat response: %w", err)
	}
	return &out, nil
}

func DecodeVerifyResponse(body []byte) (*VerifyResponse, error) {
	if res := verifySchema.ValidateBytes(body); !res.Valid {
		return nil, fmt.Errorf("verify response: %s", res.String())
	}
	var out VerifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("verify response: %w", err)
	}
	return &out, nil
}

func DecodeApplicationList(body []byte) (*ApplicationList, error) {
	if res := appListSchema.ValidateBytes(body); !res.Valid {
		return nil, fmt.Errorf("applications response: %s", res.String())
	}
	var out ApplicationList
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("applications response: %w", err)
	}
	return &out, nil
}
