package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	apperrors "loanops-console/internal/common/errors"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/contract"
	"loanops-console/internal/conversation"
	"loanops-console/internal/kyc"
	"loanops-console/internal/orchestration"
	"loanops-console/internal/render"
	"loanops-console/internal/session"
	"loanops-console/internal/transcript"
	"loanops-console/internal/typewriter"
)

// backend is the Decision Service surface the console drives.
type backend interface {
	conversation.ChatClient
	kyc.Verifier
	ListApplications(ctx context.Context) (*contract.ApplicationList, error)
	GetApplication(ctx context.Context, applicationID string) (*contract.ApplicationSummary, error)
	Stages(ctx context.Context) (*contract.StageCatalogue, error)
	Health(ctx context.Context) (*contract.Health, error)
	ClearSession(ctx context.Context, sessionID string) error
	DownloadFile(ctx context.Context, artifactID string, w io.Writer) (int64, error)
}

type ConsoleOptions struct {
	Backend    backend
	Sessions   *session.Manager
	Sequencer  *orchestration.Sequencer
	Transcript *transcript.Sink     // optional
	Animator   *typewriter.Animator // optional
	Logger     logger.Logger
	In         io.Reader
	Out        io.Writer
}

// Console is the interactive host of one conversation at a time.
type Console struct {
	backend    backend
	sessions   *session.Manager
	sequencer  *orchestration.Sequencer
	transcript *transcript.Sink
	animator   *typewriter.Animator
	logger     logger.Logger
	errs       *apperrors.ErrorHandler
	out        *printer
	lines      <-chan string

	machine     *conversation.Machine
	wizard      *kyc.Wizard
	writer      *transcriptWriter
	unsubscribe []func()
	lastStatus  string
	lastCards   string
}

func NewConsole(opts ConsoleOptions) *Console {
	log := opts.Logger.WithFields(map[string]interface{}{
		"component": "console",
	})
	return &Console{
		backend:    opts.Backend,
		sessions:   opts.Sessions,
		sequencer:  opts.Sequencer,
		transcript: opts.Transcript,
		animator:   opts.Animator,
		logger:     log,
		errs:       apperrors.NewErrorHandler(log),
		out:        newPrinter(opts.Out, opts.Animator),
		lines:      readLines(opts.In),
	}
}

func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// Run starts or resumes the session and serves input until EOF, /quit or
// ctx is done. The conversation is torn down on return.
func (c *Console) Run(ctx context.Context) error {
	sc, err := c.sessions.Start(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	c.attach(sc.ID)
	defer c.detach()

	c.out.printf("Loan assistant, session %s. Type /help for commands.\n", sc.ID)
	for {
		c.out.write("> ")
		line, err := c.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		quit, err := c.handle(ctx, line)
		if err != nil {
			c.report(line, err)
		}
		if quit {
			return nil
		}
	}
}

// report prints a failed command. Service errors are logged through the
// error handler; local usage errors are only printed.
func (c *Console) report(line string, err error) {
	var se *apperrors.StandardError
	if !apperrors.As(err, &se) {
		c.out.printf("error: %v\n", err)
		return
	}

	op := "chat"
	if fields := strings.Fields(line); len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		op = strings.TrimPrefix(fields[0], "/")
	}
	se = c.errs.Handle(op, err, map[string]interface{}{
		"sessionId": c.machine.SessionID(),
	})
	if se.Retryable {
		c.out.printf("error: %s, please try again\n", se.Message)
		return
	}
	c.out.printf("error: %s\n", se.Message)
}

func (c *Console) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

func (c *Console) attach(sessionID string) {
	c.out.reset()
	c.lastStatus, c.lastCards = "", ""

	m := conversation.NewMachine(sessionID, c.backend, c.sequencer, c.logger)
	c.unsubscribe = append(c.unsubscribe, m.Subscribe(c.out.onState))
	if c.transcript != nil {
		c.writer = newTranscriptWriter(c.transcript, c.logger)
		c.unsubscribe = append(c.unsubscribe, m.Subscribe(c.writer.enqueue))
	}
	c.machine = m
	c.wizard = kyc.NewWizard(sessionID, c.backend, m, c.logger)
}

func (c *Console) detach() {
	for _, fn := range c.unsubscribe {
		fn()
	}
	c.unsubscribe = nil
	if c.machine != nil {
		c.machine.Close()
	}
	if c.writer != nil {
		c.writer.close(c.machine.SessionID())
		c.writer = nil
	}
	if c.animator != nil {
		c.animator.CancelAll()
	}
	c.out.flush()
}

// handle processes one input line and reports whether the console should exit.
func (c *Console) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return false, c.say(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		c.out.write(helpText)
		return false, nil
	case "/kyc":
		return false, c.runWizard(ctx)
	case "/apps":
		return false, c.listApplications(ctx)
	case "/app":
		if len(args) != 1 {
			return false, errors.New("usage: /app <application id>")
		}
		return false, c.showApplication(ctx, args[0])
	case "/stages":
		return false, c.showStages(ctx)
	case "/health":
		return false, c.showHealth(ctx)
	case "/download":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		return false, c.download(ctx, path)
	case "/reset":
		return false, c.reset(ctx)
	case "/logout":
		return true, c.logout(ctx)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
}

const helpText = `Commands:
  /kyc              complete identity verification
  /apps             list recent applications
  /app <id>         show one application
  /stages           show the loan journey
  /health           check the loan service
  /download [path]  save the sanction letter
  /reset            start over in a new session
  /logout           end this session and exit
  /quit             exit
`

func (c *Console) say(ctx context.Context, text string) error {
	err := c.machine.Submit(ctx, text)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return nil
	case errors.Is(err, conversation.ErrBusy):
		c.out.write("Still working on your last message...\n")
	case err != nil:
		return err
	}

	if err := c.machine.AwaitIdle(ctx); err != nil {
		return err
	}
	// the final notification may still be in flight
	c.out.onState(c.machine.Snapshot())
	c.showView()
	return nil
}

// showView prints the parts of the rendered view that changed since the
// last time it was shown.
func (c *Console) showView() {
	v := render.Render(c.machine.Snapshot())

	status := fmt.Sprintf("[stage: %s | status: %s", v.Indicator, v.Status)
	if v.ActiveAgent != "" {
		status += fmt.Sprintf(" | agent: %s", v.ActiveAgent)
	}
	status += "]"
	if status != c.lastStatus {
		c.out.printf("%s\n", status)
		c.lastStatus = status
	}

	var b strings.Builder
	if v.Halted {
		b.WriteString("Agents paused until your identity is verified.\n")
	}
	if v.ShowKYC {
		b.WriteString("Identity verification required. Type /kyc to start.\n")
	}
	if v.PAN != nil {
		fmt.Fprintf(&b, "KYC: %s", v.PAN.Label)
		if v.PAN.MatchedName != "" {
			fmt.Fprintf(&b, " (%s)", v.PAN.MatchedName)
		}
		b.WriteString("\n")
	}
	if rc := v.RiskCard; rc != nil {
		fmt.Fprintf(&b, "Risk score %d/100", rc.Score)
		if rc.Level != "" {
			fmt.Fprintf(&b, " (%s)", rc.Level)
		}
		b.WriteString("\n")
		for _, f := range rc.Positive {
			fmt.Fprintf(&b, "  ✓ %s\n", f)
		}
		for _, f := range rc.Negative {
			fmt.Fprintf(&b, "  ⚠ %s\n", f)
		}
	}
	if sc := v.SanctionCard; sc != nil {
		b.WriteString("Sanction letter ready")
		if sc.Banner != "" {
			fmt.Fprintf(&b, " [%s]", sc.Banner)
		}
		b.WriteString("\n")
		if sc.Reason != "" {
			fmt.Fprintf(&b, "  Reason: %s\n", sc.Reason)
		}
		if sc.Policy != "" {
			fmt.Fprintf(&b, "  Policy: %s\n", sc.Policy)
		}
		if sc.Source != "" {
			fmt.Fprintf(&b, "  Source: %s\n", sc.Source)
		}
		b.WriteString("  Type /download to save it.\n")
	}

	if cards := b.String(); cards != c.lastCards {
		c.out.write(cards)
		c.lastCards = cards
	}
}

func (c *Console) listApplications(ctx context.Context) error {
	list, err := c.backend.ListApplications(ctx)
	if err != nil {
		return err
	}
	if len(list.Applications) == 0 {
		c.out.write("No applications yet.\n")
		return nil
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAMOUNT\tSTATUS\tCREATED")
	for _, app := range list.Applications {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", app.ApplicationID, formatAmount(app.LoanAmount), app.Status, app.CreatedAt)
	}
	tw.Flush()
	fmt.Fprintf(&b, "%d of %d shown\n", len(list.Applications), list.Total)
	c.out.write(b.String())
	return nil
}

func (c *Console) showApplication(ctx context.Context, id string) error {
	app, err := c.backend.GetApplication(ctx, id)
	if err != nil {
		return err
	}
	c.out.printf("%s\n  amount:  %s\n  status:  %s\n  created: %s\n",
		app.ApplicationID, formatAmount(app.LoanAmount), app.Status, app.CreatedAt)
	if app.UserID != "" {
		c.out.printf("  user:    %s\n", app.UserID)
	}
	return nil
}

func formatAmount(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("₹%.0f", *v)
}

func (c *Console) showStages(ctx context.Context) error {
	cat, err := c.backend.Stages(ctx)
	if apperrors.IsTransport(err) {
		c.logger.Warn("stage catalogue unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		c.showLocalStages()
		return nil
	}
	if err != nil {
		return err
	}
	var b strings.Builder
	for i, s := range cat.Stages {
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, s.Name, s.Agent, s.Description)
	}
	if cat.Flow != "" {
		fmt.Fprintf(&b, "Flow: %s\n", cat.Flow)
	}
	c.out.write(b.String())
	return nil
}

// showLocalStages lists the known stages with the current one marked.
func (c *Console) showLocalStages() {
	current := c.machine.Snapshot().Stage
	var b strings.Builder
	b.WriteString("Loan service unavailable, showing the known stages:\n")
	for i, s := range contract.AllStages() {
		mark := " "
		if s == current {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %d. %s\n", mark, i+1, s)
	}
	c.out.write(b.String())
}

func (c *Console) showHealth(ctx context.Context) error {
	h, err := c.backend.Health(ctx)
	if err != nil {
		return err
	}
	c.out.printf("%s: %s\n", h.Status, h.Message)
	return nil
}

func (c *Console) download(ctx context.Context, path string) error {
	artifact := c.machine.Snapshot().SanctionArtifactID
	if artifact == "" {
		c.out.write("No sanction letter yet.\n")
		return nil
	}
	if path == "" {
		path = filepath.Base(artifact)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := c.backend.DownloadFile(ctx, artifact, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	c.out.printf("Saved %d bytes to %s\n", n, path)
	return nil
}

// reset ends the current conversation and continues under a fresh session.
func (c *Console) reset(ctx context.Context) error {
	sc, err := c.rotate(ctx)
	if err != nil {
		return err
	}
	c.out.printf("Conversation reset. New session %s.\n", sc.ID)
	return nil
}

// logout ends the session for good; the next launch starts a new one.
func (c *Console) logout(ctx context.Context) error {
	id := c.machine.SessionID()
	c.clearRemote(ctx, id)
	c.detach()
	if _, err := c.sessions.Logout(ctx); err != nil {
		return err
	}
	c.out.printf("Logged out of %s.\n", id)
	return nil
}

func (c *Console) rotate(ctx context.Context) (session.Context, error) {
	id := c.machine.SessionID()
	c.clearRemote(ctx, id)
	c.detach()
	if _, err := c.sessions.Logout(ctx); err != nil {
		c.logger.Warn("session clear failed", map[string]interface{}{
			"sessionId": id,
			"error":     err.Error(),
		})
	}

	sc, err := c.sessions.Start(ctx)
	if err != nil {
		return session.Context{}, fmt.Errorf("start session: %w", err)
	}
	c.attach(sc.ID)
	return sc, nil
}

func (c *Console) clearRemote(ctx context.Context, id string) {
	if err := c.backend.ClearSession(ctx, id); err != nil {
		c.logger.Warn("clear remote session failed", map[string]interface{}{
			"sessionId": id,
			"error":     err.Error(),
		})
	}
}
