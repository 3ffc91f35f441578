package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"loanops-console/internal/kyc"
	"loanops-console/internal/render"
)

var (
	errWizardBack   = errors.New("back")
	errWizardCancel = errors.New("cancel")
)

// runWizard walks the KYC steps interactively. It only opens while the
// rendered view asks for verification. /back and /cancel are
// accepted at any prompt; a cancelled wizard keeps its answers and resumes
// where it stopped.
func (c *Console) runWizard(ctx context.Context) error {
	w := c.wizard
	if w.Submitted() {
		c.out.write("Identity already verified for this session.\n")
		return nil
	}
	if !render.Render(c.machine.Snapshot()).ShowKYC {
		c.out.write("Identity verification is not needed right now.\n")
		return nil
	}
	c.out.write("Identity verification. Type /back to return to the previous step or /cancel to stop.\n")

	for {
		step := w.Step()
		c.out.printf("-- Step %d of %d: %s --\n", int(step)+1, len(kyc.Steps()), step)

		err := c.fillStep(ctx, w, step)
		switch {
		case errors.Is(err, errWizardBack):
			if err := w.Back(); err != nil {
				return err
			}
			continue
		case errors.Is(err, errWizardCancel), errors.Is(err, io.EOF):
			c.out.write("Verification paused. Type /kyc to continue.\n")
			return nil
		case err != nil:
			return err
		}

		if step != kyc.StepDocuments {
			if err := w.Next(); err != nil {
				for _, msg := range w.Validate(step).GetErrorMessages() {
					c.out.printf("  %s\n", msg)
				}
			}
			continue
		}

		if _, err := w.Submit(ctx); err != nil {
			if errors.Is(err, kyc.ErrStepIncomplete) {
				c.out.printf("%v\n", err)
				continue
			}
			c.out.printf("Verification failed: %v\n", err)
			again, aerr := c.ask(ctx, "Retry submission? [y/N]")
			if aerr != nil || !isYes(again) {
				c.out.write("Your answers are kept. Type /kyc to try again.\n")
				return nil
			}
			continue
		}

		c.showView()
		return nil
	}
}

func (c *Console) fillStep(ctx context.Context, w *kyc.Wizard, step kyc.Step) error {
	f := w.Form()
	switch step {
	case kyc.StepPersonal:
		p := f.Personal
		if err := c.askAll(ctx,
			field{"Full name", &p.FullName},
			field{"Mobile number", &p.MobileNumber},
			field{"Email (optional)", &p.Email},
			field{"Date of birth YYYY-MM-DD (optional)", &p.DateOfBirth},
			field{"Address (optional)", &p.Address},
		); err != nil {
			return err
		}
		return w.SetPersonal(p)

	case kyc.StepIdentity:
		id := f.Identity
		c.out.write("Provide your PAN, the last 4 digits of Aadhaar, or both.\n")
		if err := c.askAll(ctx,
			field{"PAN number", &id.PANNumber},
			field{"Aadhaar last 4 digits", &id.AadhaarLast4},
		); err != nil {
			return err
		}
		if pan := strings.TrimSpace(id.PANNumber); pan != "" && !kyc.PANFormatHint(pan) {
			c.out.write("  note: PAN does not look like ABCDE1234F\n")
		}
		return w.SetIdentity(id)

	case kyc.StepEmployment:
		e := f.Employment
		if err := c.askAll(ctx,
			field{"Employment type (optional)", &e.EmploymentType},
			field{"Employer (optional)", &e.EmployerName},
			field{"Monthly income", &e.MonthlyIncome},
		); err != nil {
			return err
		}
		return w.SetEmployment(e)

	default:
		d := f.Documents
		docs, err := c.ask(ctx, "Documents, comma separated (optional)")
		if err != nil {
			return err
		}
		d.DocumentNames = splitList(docs)
		video, err := c.ask(ctx, "Record video KYC now? [y/N]")
		if err != nil {
			return err
		}
		if isYes(video) {
			meta := kyc.SimulatedVideoCapture(time.Now())
			d.VideoKYC = &meta
			c.out.printf("  video captured (%ds)\n", meta.DurationSeconds)
		}
		return w.SetDocuments(d)
	}
}

type field struct {
	label string
	value *string
}

// askAll prompts for each field. An empty answer keeps the current value.
func (c *Console) askAll(ctx context.Context, fields ...field) error {
	for _, f := range fields {
		label := f.label
		if *f.value != "" {
			label = fmt.Sprintf("%s [%s]", f.label, *f.value)
		}
		answer, err := c.ask(ctx, label)
		if err != nil {
			return err
		}
		if answer != "" {
			*f.value = answer
		}
	}
	return nil
}

func (c *Console) ask(ctx context.Context, label string) (string, error) {
	c.out.printf("%s: ", label)
	line, err := c.readLine(ctx)
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	switch line {
	case "/back":
		return "", errWizardBack
	case "/cancel":
		return "", errWizardCancel
	}
	return line, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
