package kyc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "loanops-console/internal/common/errors"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/common/metrics"
	"loanops-console/internal/common/validation"
	"loanops-console/internal/contract"
	"loanops-console/internal/conversation"
)

var (
	ErrStepIncomplete     = apperrors.ErrStepIncomplete
	ErrSubmitNotAllowed   = errors.New("WIZARD_SUBMIT_NOT_ALLOWED")
	ErrSubmitInFlight     = errors.New("KYC_SUBMIT_IN_FLIGHT")
	ErrAlreadySubmitted   = errors.New("KYC_ALREADY_SUBMITTED")
	ErrVerificationFailed = errors.New("KYC_VERIFICATION_FAILED")
)

// Verifier submits the composite payload to the Decision Service.
type Verifier interface {
	Verify(ctx context.Context, req contract.VerifyRequest) (*contract.VerifyResponse, error)
}

// Recorder receives the outcome of a successful submission.
type Recorder interface {
	CompleteVerification(reply string, result conversation.VerificationResult)
}

// Wizard is the four-step identity form of one session. After a successful
// submission it is read-only and its form data is dropped.
type Wizard struct {
	sessionID string
	verifier  Verifier
	recorder  Recorder
	logger    logger.Logger
	now       func() time.Time

	mu        sync.Mutex
	step      Step
	form      Form
	inFlight  bool
	submitted bool
	result    *conversation.VerificationResult
}

func NewWizard(sessionID string, verifier Verifier, recorder Recorder, log logger.Logger) *Wizard {
	return &Wizard{
		sessionID: sessionID,
		verifier:  verifier,
		recorder:  recorder,
		logger: log.WithFields(map[string]interface{}{
			"component": "kyc",
			"sessionId": sessionID,
		}),
		now:  time.Now,
		step: StepPersonal,
	}
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

func (w *Wizard) Form() Form {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.form.clone()
}

func (w *Wizard) Submitted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitted
}

func (w *Wizard) InFlight() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// Result is the verification outcome, nil until submitted.
func (w *Wizard) Result() *conversation.VerificationResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil
	}
	r := *w.result
	return &r
}

func (w *Wizard) SetPersonal(p Personal) error {
	return w.edit(func(f *Form) { f.Personal = p })
}

func (w *Wizard) SetIdentity(i Identity) error {
	return w.edit(func(f *Form) { f.Identity = i })
}

func (w *Wizard) SetEmployment(e Employment) error {
	return w.edit(func(f *Form) { f.Employment = e })
}

func (w *Wizard) SetDocuments(d Documents) error {
	return w.edit(func(f *Form) {
		f.Documents = Documents{DocumentNames: append([]string(nil), d.DocumentNames...)}
		if d.VideoKYC != nil {
			v := *d.VideoKYC
			f.Documents.VideoKYC = &v
		}
	})
}

func (w *Wizard) edit(fn func(*Form)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editableLocked(); err != nil {
		return err
	}
	fn(&w.form)
	return nil
}

func (w *Wizard) editableLocked() error {
	if w.submitted {
		return ErrAlreadySubmitted
	}
	if w.inFlight {
		return ErrSubmitInFlight
	}
	return nil
}

// Validate runs the predicate of step against the current form.
func (w *Wizard) Validate(step Step) *validation.ValidationResult {
	w.mu.Lock()
	form := w.form
	w.mu.Unlock()
	return validateStep(step, form)
}

func validateStep(step Step, f Form) *validation.ValidationResult {
	switch step {
	case StepPersonal:
		return validation.FromRules(f.Personal.Validate())
	case StepIdentity:
		return validation.FromRules(f.Identity.Validate())
	case StepEmployment:
		return validation.FromRules(f.Employment.Validate())
	default:
		return validation.FromRules(f.Documents.Validate())
	}
}

// CanAdvance reports whether Next would succeed.
func (w *Wizard) CanAdvance() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.editableLocked() != nil || w.step == StepDocuments {
		return false
	}
	return validateStep(w.step, w.form).Valid
}

// Next moves forward one step if the current step is satisfied. A failing
// predicate is reported as ErrStepIncomplete and changes nothing.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.editableLocked(); err != nil {
		return err
	}
	if w.step == StepDocuments {
		return fmt.Errorf("%w: already on the last step", ErrSubmitNotAllowed)
	}
	res := validateStep(w.step, w.form)
	if !res.Valid {
		return apperrors.NewStepIncompleteError(w.step.String(), res.String())
	}
	w.step++
	return nil
}

// Back moves to the previous step. It never validates.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.editableLocked(); err != nil {
		return err
	}
	if w.step > StepPersonal {
		w.step--
	}
	return nil
}

// Submit sends the composite payload in exactly one request. It is only
// allowed from the Documents step. On failure the wizard stays editable.
func (w *Wizard) Submit(ctx context.Context) (*conversation.VerificationResult, error) {
	w.mu.Lock()
	if err := w.editableLocked(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	if w.step != StepDocuments {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: on step %s", ErrSubmitNotAllowed, w.step)
	}
	for _, s := range Steps() {
		if res := validateStep(s, w.form); !res.Valid {
			w.mu.Unlock()
			return nil, apperrors.NewStepIncompleteError(s.String(), res.String())
		}
	}
	w.inFlight = true
	req := buildRequest(w.sessionID, w.form)
	pan := w.form.Identity.trimmed().PANNumber
	w.mu.Unlock()

	w.logger.Info("submitting kyc", map[string]interface{}{
		"pan": logger.Mask(pan, 5),
	})

	resp, err := w.verifier.Verify(ctx, req)

	w.mu.Lock()
	w.inFlight = false
	if err != nil {
		w.mu.Unlock()
		metrics.KYCSubmissions.WithLabelValues("error").Inc()
		w.logger.Warn("kyc submission failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	result := conversation.VerificationResult{
		PANStatus:     DerivePANStatus(resp.KYCSummary),
		Mode:          resp.KYCSummary.VerificationMode,
		Source:        resp.KYCSummary.PANVerificationSource,
		SubmittedAt:   w.now().UTC(),
		VideoVerified: w.form.Documents.VideoKYC != nil && w.form.Documents.VideoKYC.Submitted,
	}
	if resp.KYCSummary.PANNameOnRecord != nil {
		result.MatchedName = *resp.KYCSummary.PANNameOnRecord
	}
	w.submitted = true
	w.result = &result
	w.form = Form{}
	w.mu.Unlock()

	metrics.KYCSubmissions.WithLabelValues(string(result.PANStatus)).Inc()
	w.logger.Info("kyc verified", map[string]interface{}{
		"panStatus": string(result.PANStatus),
		"mode":      result.Mode,
	})

	if w.recorder != nil {
		w.recorder.CompleteVerification(resp.Reply, result)
	}
	out := result
	return &out, nil
}

// DerivePANStatus maps the service summary to the display tri-state.
func DerivePANStatus(s contract.KYCSummary) conversation.PANStatus {
	switch {
	case s.PANVerificationStatus:
		return conversation.PANVerified
	case !s.PANFormatValid:
		return conversation.PANFormatInvalid
	default:
		return conversation.PANSimulatedOnly
	}
}

func buildRequest(sessionID string, f Form) contract.VerifyRequest {
	p := f.Personal.trimmed()
	id := f.Identity.trimmed()
	e := f.Employment.trimmed()

	idNumber := id.PANNumber
	if idNumber == "" {
		idNumber = id.AadhaarLast4
	}

	data := map[string]interface{}{
		"full_name":       p.FullName,
		"mobile_number":   p.MobileNumber,
		"email":           p.Email,
		"dob":             p.DateOfBirth,
		"address":         p.Address,
		"pan_number":      id.PANNumber,
		"aadhaar_last4":   id.AadhaarLast4,
		"id_number":       idNumber,
		"employment_type": e.EmploymentType,
		"employer_name":   e.EmployerName,
		"monthly_income":  e.MonthlyIncome,
		"documents":       append([]string{}, f.Documents.DocumentNames...),
	}
	if f.Documents.VideoKYC != nil {
		data["video_kyc"] = *f.Documents.VideoKYC
	}

	return contract.VerifyRequest{
		SessionID: sessionID,
		Details: contract.VerifyDetails{
			Name:    p.FullName,
			KYCData: data,
		},
	}
}
