// internal/kyc/models.go
package kyc

import (
	"regexp"
	"strings"
	"time"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

// Step is a wizard page, in order.
type Step int

const (
	StepPersonal Step = iota
	StepIdentity
	StepEmployment
	StepDocuments
)

func (s Step) String() string {
	switch s {
	case StepPersonal:
		return "Personal"
	case StepIdentity:
		return "Identity"
	case StepEmployment:
		return "Employment"
	case StepDocuments:
		return "Documents"
	}
	return "Unknown"
}

// Steps lists every step in order.
func Steps() []Step {
	return []Step{StepPersonal, StepIdentity, StepEmployment, StepDocuments}
}

type Personal struct {
	FullName     string `json:"full_name"`
	MobileNumber string `json:"mobile_number"`
	Email        string `json:"email,omitempty"`
	DateOfBirth  string `json:"dob,omitempty"`
	Address      string `json:"address,omitempty"`
}

type Identity struct {
	PANNumber    string `json:"pan_number"`
	AadhaarLast4 string `json:"aadhaar_last4"`
}

type Employment struct {
	EmploymentType string `json:"employment_type,omitempty"`
	EmployerName   string `json:"employer_name,omitempty"`
	MonthlyIncome  string `json:"monthly_income"`
}

type Documents struct {
	DocumentNames []string          `json:"documents,omitempty"`
	VideoKYC      *VideoKYCMetadata `json:"video_kyc,omitempty"`
}

// VideoKYCMetadata is attached to the payload as captured; nothing in it is
// checked locally.
type VideoKYCMetadata struct {
	Submitted       bool      `json:"submitted"`
	DurationSeconds int       `json:"duration_seconds"`
	FaceDetected    bool      `json:"face_detected"`
	LivenessCheck   bool      `json:"liveness_check"`
	LightingScore   float64   `json:"lighting_score"`
	FaceMatchScore  float64   `json:"face_match_score"`
	Timestamp       time.Time `json:"timestamp"`
}

// Form is the composite wizard payload.
type Form struct {
	Personal   Personal
	Identity   Identity
	Employment Employment
	Documents  Documents
}

func (f Form) clone() Form {
	out := f
	out.Documents.DocumentNames = append([]string(nil), f.Documents.DocumentNames...)
	if f.Documents.VideoKYC != nil {
		v := *f.Documents.VideoKYC
		out.Documents.VideoKYC = &v
	}
	return out
}

func (p Personal) trimmed() Personal {
	return Personal{
		FullName:     strings.TrimSpace(p.FullName),
		MobileNumber: strings.TrimSpace(p.MobileNumber),
		Email:        strings.TrimSpace(p.Email),
		DateOfBirth:  strings.TrimSpace(p.DateOfBirth),
		Address:      strings.TrimSpace(p.Address),
	}
}

func (i Identity) trimmed() Identity {
	return Identity{
		PANNumber:    strings.ToUpper(strings.TrimSpace(i.PANNumber)),
		AadhaarLast4: strings.TrimSpace(i.AadhaarLast4),
	}
}

func (e Employment) trimmed() Employment {
	return Employment{
		EmploymentType: strings.TrimSpace(e.EmploymentType),
		EmployerName:   strings.TrimSpace(e.EmployerName),
		MonthlyIncome:  strings.TrimSpace(e.MonthlyIncome),
	}
}

// Validate implements ozzo.Validatable. Only the full name and mobile number
// gate the step.
func (p Personal) Validate() error {
	t := p.trimmed()
	return ozzo.ValidateStruct(&t,
		ozzo.Field(&t.FullName, ozzo.Required.Error("full name is required")),
		ozzo.Field(&t.MobileNumber, ozzo.Required.Error("mobile number is required")),
	)
}

// Validate requires at least one of PAN and Aadhaar last 4.
func (i Identity) Validate() error {
	t := i.trimmed()
	return ozzo.ValidateStruct(&t,
		ozzo.Field(&t.PANNumber, ozzo.When(t.AadhaarLast4 == "",
			ozzo.Required.Error("PAN or Aadhaar last 4 digits is required"))),
		ozzo.Field(&t.AadhaarLast4, ozzo.When(t.PANNumber == "",
			ozzo.Required.Error("PAN or Aadhaar last 4 digits is required"))),
	)
}

func (e Employment) Validate() error {
	t := e.trimmed()
	return ozzo.ValidateStruct(&t,
		ozzo.Field(&t.MonthlyIncome, ozzo.Required.Error("monthly income is required")),
	)
}

// Validate always passes.
func (d Documents) Validate() error {
	return nil
}

var panPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

// PANFormatHint reports whether pan looks like AAAAA9999A. It is advisory
// only; the Decision Service owns the verdict.
func PANFormatHint(pan string) bool {
	p := strings.ToUpper(strings.TrimSpace(pan))
	return ozzo.Validate(p, ozzo.Required, ozzo.Match(panPattern)) == nil
}
