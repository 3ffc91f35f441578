package kyc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "loanops-console/internal/common/errors"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/contract"
	"loanops-console/internal/conversation"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeVerifier struct {
	mu    sync.Mutex
	calls []contract.VerifyRequest
	resp  *contract.VerifyResponse
	err   error
	gate  chan struct{}
}

func (f *fakeVerifier) Verify(ctx context.Context, req contract.VerifyRequest) (*contract.VerifyResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resp, f.err
}

func (f *fakeVerifier) Calls() []contract.VerifyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contract.VerifyRequest(nil), f.calls...)
}

type fakeRecorder struct {
	reply  string
	result *conversation.VerificationResult
}

func (r *fakeRecorder) CompleteVerification(reply string, result conversation.VerificationResult) {
	r.reply = reply
	r.result = &result
}

func summary(status, formatValid bool, name *string) *contract.VerifyResponse {
	return &contract.VerifyResponse{
		Reply: "Verification completed successfully!",
		KYCSummary: contract.KYCSummary{
			PANVerificationStatus: status,
			PANFormatValid:        formatValid,
			VerificationMode:      "SANDBOX",
			PANVerificationSource: "setu",
			PANNameOnRecord:       name,
		},
	}
}

func filledWizard(t *testing.T, v Verifier, r Recorder) *Wizard {
	t.Helper()
	w := NewWizard("LOAN-TEST0001", v, r, logger.NewTestLogger(t))
	require.NoError(t, w.SetPersonal(Personal{FullName: "Asha Rao", MobileNumber: "9999999999", Email: "asha@example.com"}))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetIdentity(Identity{PANNumber: "abcde1234f"}))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetEmployment(Employment{EmploymentType: "Salaried", MonthlyIncome: "85000"}))
	require.NoError(t, w.Next())
	video := SimulatedVideoCapture(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, w.SetDocuments(Documents{DocumentNames: []string{"salary_slip.pdf"}, VideoKYC: &video}))
	require.Equal(t, StepDocuments, w.Step())
	return w
}

// ==========================
// Step Predicate Tests
// ==========================

func TestWizard_PersonalGate(t *testing.T) {
	tests := []struct {
		name     string
		personal Personal
		advance  bool
	}{
		{name: "empty", personal: Personal{}, advance: false},
		{name: "missing name", personal: Personal{MobileNumber: "9999999999"}, advance: false},
		{name: "blank name", personal: Personal{FullName: "   ", MobileNumber: "9999999999"}, advance: false},
		{name: "missing mobile", personal: Personal{FullName: "A"}, advance: false},
		{name: "complete", personal: Personal{FullName: "A", MobileNumber: "9999999999"}, advance: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeVerifier{}
			w := NewWizard("LOAN-TEST0001", v, nil, logger.NewNoOpLogger())
			require.NoError(t, w.SetPersonal(tt.personal))

			assert.Equal(t, tt.advance, w.CanAdvance())
			err := w.Next()
			if tt.advance {
				require.NoError(t, err)
				assert.Equal(t, StepIdentity, w.Step())
			} else {
				assert.ErrorIs(t, err, ErrStepIncomplete)
				assert.Equal(t, StepPersonal, w.Step())
			}
			assert.Empty(t, v.Calls(), "validation never calls the network")
		})
	}
}

func TestWizard_IdentityGate(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		advance  bool
	}{
		{name: "neither", identity: Identity{}, advance: false},
		{name: "pan only", identity: Identity{PANNumber: "ABCDE1234F"}, advance: true},
		{name: "aadhaar only", identity: Identity{AadhaarLast4: "1234"}, advance: true},
		{name: "both", identity: Identity{PANNumber: "ABCDE1234F", AadhaarLast4: "1234"}, advance: true},
		{name: "malformed pan still advances", identity: Identity{PANNumber: "123"}, advance: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validateStep(StepIdentity, Form{Identity: tt.identity})
			assert.Equal(t, tt.advance, res.Valid)
			if !tt.advance {
				assert.True(t, res.HasErrors("pan_number"))
				assert.True(t, res.HasErrors("aadhaar_last4"))
			}
		})
	}
}

func TestWizard_EmploymentAndDocumentsGate(t *testing.T) {
	assert.False(t, validateStep(StepEmployment, Form{Employment: Employment{EmployerName: "Acme"}}).Valid)
	assert.True(t, validateStep(StepEmployment, Form{Employment: Employment{MonthlyIncome: "50000"}}).Valid)
	assert.True(t, validateStep(StepDocuments, Form{}).Valid)
}

func TestWizard_BackAlwaysAllowed(t *testing.T) {
	w := filledWizard(t, &fakeVerifier{}, nil)

	require.NoError(t, w.SetEmployment(Employment{}))
	require.NoError(t, w.Back())
	assert.Equal(t, StepEmployment, w.Step())
	require.NoError(t, w.Back())
	require.NoError(t, w.Back())
	require.NoError(t, w.Back())
	assert.Equal(t, StepPersonal, w.Step())
}

// ==========================
// Submission Tests
// ==========================

func TestWizard_SubmitOnlyFromDocuments(t *testing.T) {
	v := &fakeVerifier{resp: summary(true, true, nil)}
	w := NewWizard("LOAN-TEST0001", v, nil, logger.NewNoOpLogger())
	require.NoError(t, w.SetPersonal(Personal{FullName: "A", MobileNumber: "1"}))

	_, err := w.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitNotAllowed)
	assert.Empty(t, v.Calls())
}

func TestWizard_SubmitSuccess(t *testing.T) {
	name := "ASHA RAO"
	v := &fakeVerifier{resp: summary(true, true, &name)}
	rec := &fakeRecorder{}
	w := filledWizard(t, v, rec)

	res, err := w.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conversation.PANVerified, res.PANStatus)
	assert.Equal(t, "ASHA RAO", res.MatchedName)
	assert.True(t, res.VideoVerified)

	calls := v.Calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, "LOAN-TEST0001", req.SessionID)
	assert.Equal(t, "Asha Rao", req.Details.Name)
	assert.Equal(t, "ABCDE1234F", req.Details.KYCData["pan_number"])
	assert.Equal(t, "ABCDE1234F", req.Details.KYCData["id_number"])
	assert.Equal(t, "85000", req.Details.KYCData["monthly_income"])
	video, ok := req.Details.KYCData["video_kyc"].(VideoKYCMetadata)
	require.True(t, ok)
	assert.InDelta(t, 0.92, video.FaceMatchScore, 1e-9)

	require.NotNil(t, rec.result)
	assert.Equal(t, "Verification completed successfully!", rec.reply)
	assert.Equal(t, conversation.PANVerified, rec.result.PANStatus)

	assert.True(t, w.Submitted())
	assert.Equal(t, Form{}, w.Form(), "form data is dropped after success")
	assert.NotNil(t, w.Result())
}

func TestWizard_TerminalAfterSubmit(t *testing.T) {
	v := &fakeVerifier{resp: summary(false, true, nil)}
	w := filledWizard(t, v, nil)

	_, err := w.Submit(context.Background())
	require.NoError(t, err)

	_, err = w.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.ErrorIs(t, w.Back(), ErrAlreadySubmitted)
	assert.ErrorIs(t, w.SetPersonal(Personal{FullName: "B"}), ErrAlreadySubmitted)
	assert.Len(t, v.Calls(), 1, "never reused for a second submission")
}

func TestWizard_SubmitFailureStaysEditable(t *testing.T) {
	v := &fakeVerifier{err: apperrors.NewBadStatusError("verify", 500)}
	w := filledWizard(t, v, nil)

	_, err := w.Submit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.False(t, w.Submitted())
	assert.False(t, w.InFlight())
	assert.Equal(t, "Asha Rao", w.Form().Personal.FullName)

	v.mu.Lock()
	v.err = nil
	v.resp = summary(false, false, nil)
	v.mu.Unlock()

	res, err := w.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conversation.PANFormatInvalid, res.PANStatus)
}

func TestWizard_SubmitDisabledWhileInFlight(t *testing.T) {
	v := &fakeVerifier{resp: summary(false, true, nil), gate: make(chan struct{})}
	w := filledWizard(t, v, nil)

	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background())
		done <- err
	}()

	require.Eventually(t, w.InFlight, time.Second, 5*time.Millisecond)
	_, err := w.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInFlight)
	assert.ErrorIs(t, w.Back(), ErrSubmitInFlight)

	close(v.gate)
	require.NoError(t, <-done)
	assert.Len(t, v.Calls(), 1)
}

func TestDerivePANStatus(t *testing.T) {
	tests := []struct {
		name     string
		summary  contract.KYCSummary
		expected conversation.PANStatus
	}{
		{"verified", contract.KYCSummary{PANVerificationStatus: true, PANFormatValid: true}, conversation.PANVerified},
		{"format invalid", contract.KYCSummary{PANFormatValid: false}, conversation.PANFormatInvalid},
		{"simulated", contract.KYCSummary{PANFormatValid: true}, conversation.PANSimulatedOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DerivePANStatus(tt.summary))
		})
	}
}

func TestPANFormatHint(t *testing.T) {
	assert.True(t, PANFormatHint("ABCDE1234F"))
	assert.True(t, PANFormatHint(" abcde1234f "))
	assert.False(t, PANFormatHint("ABCD1234F"))
	assert.False(t, PANFormatHint(""))
}

func TestSimulatedVideoCapture_Deterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := SimulatedVideoCapture(at)
	b := SimulatedVideoCapture(at)
	assert.Equal(t, a, b)
	assert.True(t, a.Submitted)
	assert.GreaterOrEqual(t, a.LightingScore, 0.0)
	assert.LessOrEqual(t, a.FaceMatchScore, 1.0)
}

func TestWizard_ErrorWrapping(t *testing.T) {
	w := NewWizard("LOAN-TEST0001", &fakeVerifier{}, nil, logger.NewNoOpLogger())
	err := w.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepIncomplete))
	assert.Contains(t, err.Error(), "full_name")
}
