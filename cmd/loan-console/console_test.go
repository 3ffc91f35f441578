package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "loanops-console/internal/common/errors"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/contract"
	"loanops-console/internal/conversation"
	"loanops-console/internal/orchestration"
	"loanops-console/internal/session"
	"loanops-console/internal/typewriter"
)

// ==========================
// Test doubles
// ==========================

type fakeBackend struct {
	mu        sync.Mutex
	replies   []*contract.ChatResponse
	chatErr   error
	verify    *contract.VerifyResponse
	verifyReq []contract.VerifyRequest
	cleared   []string
	apps      *contract.ApplicationList
	file      []byte
	healthErr error
	stagesErr error
}

func (f *fakeBackend) Chat(ctx context.Context, sessionID, message string) (*contract.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if len(f.replies) == 0 {
		return &contract.ChatResponse{Reply: "ok"}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeBackend) Verify(ctx context.Context, req contract.VerifyRequest) (*contract.VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyReq = append(f.verifyReq, req)
	if f.verify == nil {
		return nil, apperrors.NewServiceUnavailableError(errors.New("down"))
	}
	return f.verify, nil
}

func (f *fakeBackend) ListApplications(ctx context.Context) (*contract.ApplicationList, error) {
	if f.apps == nil {
		return &contract.ApplicationList{}, nil
	}
	return f.apps, nil
}

func (f *fakeBackend) GetApplication(ctx context.Context, id string) (*contract.ApplicationSummary, error) {
	if f.apps != nil {
		for _, a := range f.apps.Applications {
			if a.ApplicationID == id {
				app := a
				return &app, nil
			}
		}
	}
	return nil, apperrors.NewNotFoundError("application " + id)
}

func (f *fakeBackend) Stages(ctx context.Context) (*contract.StageCatalogue, error) {
	if f.stagesErr != nil {
		return nil, f.stagesErr
	}
	return &contract.StageCatalogue{
		Stages: []contract.StageInfo{
			{ID: "sales", Name: "Sales", Agent: "Sales Agent", Description: "Understand your needs"},
			{ID: "verification", Name: "Verification", Agent: "Verification Agent", Description: "KYC checks"},
		},
		Flow: "sales -> verification",
	}, nil
}

func (f *fakeBackend) Health(ctx context.Context) (*contract.Health, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &contract.Health{Status: "ok", Message: "Loan service running"}, nil
}

func (f *fakeBackend) ClearSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, sessionID)
	return nil
}

func (f *fakeBackend) DownloadFile(ctx context.Context, artifactID string, w io.Writer) (int64, error) {
	n, err := w.Write(f.file)
	return int64(n), err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runConsole(t *testing.T, be *fakeBackend, store session.Store, input ...string) string {
	t.Helper()
	log := logger.NewTestLogger(t)
	out := &syncBuffer{}
	c := NewConsole(ConsoleOptions{
		Backend:   be,
		Sessions:  session.NewManager(store, time.Hour, "", log),
		Sequencer: orchestration.NewSequencer(orchestration.TimerScheduler{}, 0, 0, log),
		Logger:    log,
		In:        strings.NewReader(strings.Join(input, "\n") + "\n"),
		Out:       out,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	return out.String()
}

func verificationReply() *contract.ChatResponse {
	return &contract.ChatResponse{
		Reply: "Let's verify you.",
		Stage: contract.Ptr(contract.StageVerification),
	}
}

func sanctionReply() *contract.ChatResponse {
	return &contract.ChatResponse{
		Reply:          "Your loan is sanctioned.",
		Stage:          contract.Ptr(contract.StageSanction),
		RiskScore:      contract.Ptr(28),
		RiskLevel:      contract.Ptr(contract.RiskLow),
		RiskFactors:    []string{"✓ Stable income"},
		SanctionLetter: contract.Ptr("sanction_LOAN-1.pdf"),
		DecisionType:   contract.Ptr(contract.DecisionAutomated),
		DecisionReason: contract.Ptr("Score within policy"),
	}
}

// ==========================
// Conversation
// ==========================

func TestConsole_ChatPrintsReplyAndStatus(t *testing.T) {
	be := &fakeBackend{replies: []*contract.ChatResponse{{
		Reply: "How much would you like to borrow?",
		Stage: contract.Ptr(contract.StageSales),
	}}}

	out := runConsole(t, be, session.NewMemoryStore(), "I need a loan", "/quit")

	assert.Contains(t, out, "Loan assistant, session LOAN-")
	assert.Contains(t, out, "bot> How much would you like to borrow?\n")
	assert.Contains(t, out, "[stage: sales | status: Initiated]")
	assert.NotContains(t, out, "I need a loan", "user input is not echoed")
}

func TestConsole_TransportFailureShownAsWarning(t *testing.T) {
	be := &fakeBackend{chatErr: apperrors.NewServiceTimeoutError(errors.New("deadline"))}

	out := runConsole(t, be, session.NewMemoryStore(), "hello")

	assert.Contains(t, out, "! "+conversation.TransportFailureText)
	assert.NotContains(t, out, "error:")
}

func TestConsole_OrchestratedSanction(t *testing.T) {
	be := &fakeBackend{replies: []*contract.ChatResponse{sanctionReply()}}

	out := runConsole(t, be, session.NewMemoryStore(), "yes, proceed")

	credit := strings.Index(out, "  » Credit Agent")
	risk := strings.Index(out, "  » Risk Agent")
	sanction := strings.Index(out, "  » Sanction Agent")
	reply := strings.Index(out, "bot> Your loan is sanctioned.")
	require.True(t, credit >= 0 && risk > credit && sanction > risk && reply > sanction, out)

	assert.Contains(t, out, "Sanction letter ready [Auto-Approved]")
	assert.Contains(t, out, "Reason: Score within policy")
	assert.NotContains(t, out, "Risk score", "sanction card replaces the risk card")
}

func TestConsole_HaltPromptsForKYC(t *testing.T) {
	be := &fakeBackend{replies: []*contract.ChatResponse{{
		Reply:      "Please verify your identity first.",
		Stage:      contract.Ptr(contract.StageVerification),
		HaltAgents: contract.Ptr(true),
	}}}

	out := runConsole(t, be, session.NewMemoryStore(), "approve me now")

	assert.Contains(t, out, "! Please verify your identity first.")
	assert.Contains(t, out, "Agents paused until your identity is verified.")
	assert.Contains(t, out, "Type /kyc to start.")
}

// ==========================
// KYC wizard
// ==========================

func TestConsole_KYCWizard(t *testing.T) {
	be := &fakeBackend{
		replies: []*contract.ChatResponse{verificationReply()},
		verify: &contract.VerifyResponse{
			Reply: "Thanks, your KYC is complete.",
			KYCSummary: contract.KYCSummary{
				PANVerificationStatus: true,
				PANFormatValid:        true,
				VerificationMode:      "live",
				PANNameOnRecord:       contract.Ptr("ASHA RAO"),
			},
		},
	}

	out := runConsole(t, be, session.NewMemoryStore(),
		"I want a personal loan",
		"/kyc",
		// personal, mobile missing
		"Asha Rao", "", "", "", "",
		// personal again, name kept
		"", "9876543210", "", "", "",
		// identity
		"ABCDE1234F", "",
		// employment
		"Salaried", "", "85000",
		// documents
		"payslip.pdf, bank.pdf", "y",
	)

	assert.Contains(t, out, "Identity verification required. Type /kyc to start.")
	assert.Equal(t, 2, strings.Count(out, "-- Step 1 of 4: Personal --"))
	assert.Contains(t, out, "mobile number is required")
	assert.Contains(t, out, "-- Step 4 of 4: Documents --")
	assert.Contains(t, out, "bot> Thanks, your KYC is complete.")
	assert.Contains(t, out, "KYC: PAN verified (ASHA RAO)")

	require.Len(t, be.verifyReq, 1)
	assert.Equal(t, "Asha Rao", be.verifyReq[0].Details.Name)
	assert.Regexp(t, `^LOAN-`, be.verifyReq[0].SessionID)
}

func TestConsole_KYCFailureKeepsAnswers(t *testing.T) {
	be := &fakeBackend{replies: []*contract.ChatResponse{verificationReply()}}

	out := runConsole(t, be, session.NewMemoryStore(),
		"verify me",
		"/kyc",
		"Asha Rao", "9876543210", "", "", "",
		"", "1234",
		"", "", "50000",
		"", "n",
		"n", // no retry
		"/kyc",
		"/cancel",
	)

	assert.Contains(t, out, "Verification failed:")
	assert.Contains(t, out, "Your answers are kept.")
	assert.Contains(t, out, "Verification paused.")
	// the second run resumes on the last step
	assert.Equal(t, 2, strings.Count(out, "-- Step 4 of 4: Documents --"))
	assert.Len(t, be.verifyReq, 1)
}

func TestConsole_KYCBack(t *testing.T) {
	be := &fakeBackend{replies: []*contract.ChatResponse{verificationReply()}}
	out := runConsole(t, be, session.NewMemoryStore(),
		"verify me",
		"/kyc",
		"Asha Rao", "9876543210", "", "", "",
		"/back",
		"/cancel",
	)

	assert.Equal(t, 2, strings.Count(out, "-- Step 1 of 4: Personal --"))
	assert.Contains(t, out, "Full name [Asha Rao]")
}

func TestConsole_KYCOnlyDuringVerification(t *testing.T) {
	be := &fakeBackend{
		verify: &contract.VerifyResponse{
			Reply:      "kyc done",
			KYCSummary: contract.KYCSummary{PANVerificationStatus: true, PANFormatValid: true},
		},
	}

	out := runConsole(t, be, session.NewMemoryStore(),
		"hello",
		"/kyc",
		"Asha Rao", "9876543210", "", "", "",
	)

	assert.Contains(t, out, "[stage: sales | status: Initiated]")
	assert.Contains(t, out, "Identity verification is not needed right now.")
	assert.NotContains(t, out, "-- Step 1 of 4: Personal --")
	assert.NotContains(t, out, "KYC: PAN verified")
	assert.Empty(t, be.verifyReq)
}

func TestConsole_KYCAfterVerification(t *testing.T) {
	be := &fakeBackend{
		replies: []*contract.ChatResponse{verificationReply()},
		verify: &contract.VerifyResponse{
			Reply:      "kyc done",
			KYCSummary: contract.KYCSummary{PANVerificationStatus: true, PANFormatValid: true},
		},
	}

	out := runConsole(t, be, session.NewMemoryStore(),
		"verify me",
		"/kyc",
		"Asha Rao", "9876543210", "", "", "",
		"ABCDE1234F", "",
		"Salaried", "", "85000",
		"", "n",
		"/kyc",
	)

	assert.Contains(t, out, "Identity already verified for this session.")
	assert.Len(t, be.verifyReq, 1)
}

// ==========================
// Commands
// ==========================

func TestConsole_Applications(t *testing.T) {
	amount := 500000.0
	be := &fakeBackend{apps: &contract.ApplicationList{
		Total: 1,
		Applications: []contract.ApplicationSummary{
			{ApplicationID: "APP-1", LoanAmount: &amount, Status: "Sanctioned", CreatedAt: "2026-05-01T10:00:00"},
		},
	}}

	out := runConsole(t, be, session.NewMemoryStore(), "/apps", "/app APP-1", "/app APP-404", "/app")

	assert.Contains(t, out, "APP-1")
	assert.Contains(t, out, "₹500000")
	assert.Contains(t, out, "1 of 1 shown")
	assert.Contains(t, out, "status:  Sanctioned")
	assert.Contains(t, out, "error: ")
	assert.Contains(t, out, "usage: /app <application id>")
}

func TestConsole_StagesHealthHelp(t *testing.T) {
	out := runConsole(t, &fakeBackend{}, session.NewMemoryStore(), "/stages", "/health", "/help", "/bogus")

	assert.Contains(t, out, "1. Sales (Sales Agent): Understand your needs")
	assert.Contains(t, out, "Flow: sales -> verification")
	assert.Contains(t, out, "ok: Loan service running")
	assert.Contains(t, out, "/download [path]")
	assert.Contains(t, out, "unknown command /bogus")
}

func TestConsole_StagesFallBackWhenServiceDown(t *testing.T) {
	be := &fakeBackend{
		replies:   []*contract.ChatResponse{verificationReply()},
		stagesErr: apperrors.NewServiceUnavailableError(errors.New("refused")),
	}

	out := runConsole(t, be, session.NewMemoryStore(), "verify me", "/stages")

	assert.Contains(t, out, "Loan service unavailable, showing the known stages:")
	assert.Contains(t, out, "  1. sales\n")
	assert.Contains(t, out, "* 2. verification\n")
	assert.Contains(t, out, "  5. rejected\n")
	assert.NotContains(t, out, "error:")
}

func TestConsole_Download(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "letter.pdf")
	be := &fakeBackend{
		replies: []*contract.ChatResponse{sanctionReply()},
		file:    []byte("%PDF-1.4 sanction"),
	}

	out := runConsole(t, be, session.NewMemoryStore(), "/download "+path, "go ahead", "/download "+path)

	assert.Contains(t, out, "No sanction letter yet.")
	assert.Contains(t, out, "Saved 17 bytes to "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 sanction", string(data))
}

func TestConsole_ResetRotatesSession(t *testing.T) {
	store := session.NewMemoryStore()
	be := &fakeBackend{}

	out := runConsole(t, be, store, "/reset")

	require.Len(t, be.cleared, 1)
	assert.Contains(t, out, "Conversation reset. New session LOAN-")
	current, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, be.cleared[0], current.ID)
}

func TestConsole_LogoutExits(t *testing.T) {
	store := session.NewMemoryStore()
	be := &fakeBackend{}

	out := runConsole(t, be, store, "/logout", "never read")

	require.Len(t, be.cleared, 1)
	assert.Contains(t, out, "Logged out of "+be.cleared[0])
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestConsole_ResumesStoredSession(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &session.Context{
		ID: "LOAN-CAFEBABE", Token: "t", StartedAt: time.Now().UTC(),
	}))

	out := runConsole(t, &fakeBackend{}, store, "/quit")
	assert.Contains(t, out, "session LOAN-CAFEBABE")
}

// ==========================
// Printer
// ==========================

func TestPrinter_TypewriterReveal(t *testing.T) {
	sched := orchestration.NewManualScheduler()
	var out bytes.Buffer
	p := newPrinter(&out, typewriter.New(sched, 10*time.Millisecond, 3))

	p.onState(conversation.State{Messages: []conversation.Message{
		{ID: "u1", Sender: conversation.SenderUser, Text: "hi"},
		{ID: "b1", Sender: conversation.SenderBot, Text: "Hello there"},
	}})
	assert.Equal(t, "bot> Hel", out.String())

	sched.Advance(10 * time.Millisecond)
	assert.Equal(t, "bot> Hello ", out.String())

	sched.Flush()
	assert.Equal(t, "bot> Hello there\n", out.String())
}

func TestPrinter_InterruptedRevealCompletes(t *testing.T) {
	sched := orchestration.NewManualScheduler()
	var out bytes.Buffer
	p := newPrinter(&out, typewriter.New(sched, 10*time.Millisecond, 2))

	p.onState(conversation.State{Messages: []conversation.Message{
		{ID: "b1", Sender: conversation.SenderBot, Text: "First reply"},
	}})
	p.printf("status\n")

	assert.Equal(t, "bot> First reply\nstatus\n", out.String())
	assert.Equal(t, 0, sched.Pending())
}

func TestPrinter_StepsAndWarningsPrintAtOnce(t *testing.T) {
	sched := orchestration.NewManualScheduler()
	var out bytes.Buffer
	p := newPrinter(&out, typewriter.New(sched, 10*time.Millisecond, 1))

	state := conversation.State{Messages: []conversation.Message{
		{ID: "s1", Sender: conversation.SenderBot, Text: "Credit Agent", IsOrchestrationStep: true},
		{ID: "w1", Sender: conversation.SenderBot, Text: "Blocked", IsWarning: true},
	}}
	p.onState(state)
	p.onState(state)

	assert.Equal(t, "  » Credit Agent\n! Blocked\n", out.String())
	assert.Equal(t, 0, sched.Pending())
}

// ==========================
// Health server
// ==========================

func TestMetricsServer(t *testing.T) {
	be := &fakeBackend{}
	srv := newMetricsServer(":0", be)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	be.healthErr = apperrors.NewServiceUnavailableError(errors.New("refused"))
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"not_ready"`)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
