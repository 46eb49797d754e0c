package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/convstate"
	"github.com/BTreeMap/PolicyPal/internal/mailer"
	"github.com/BTreeMap/PolicyPal/internal/models"
)

type fakeSender struct {
	err  error
	sent []mailer.Message
}

func (s *fakeSender) SendMail(ctx context.Context, mailboxID string, msg mailer.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newEmailFixture(t *testing.T) (*EmailController, *fakeSender, convstate.Store) {
	t.Helper()
	store := convstate.NewMemoryStore(time.Hour)
	sender := &fakeSender{}
	return NewEmailController(store, sender, "hr@example.com"), sender, store
}

func TestEmailFlowFullSend(t *testing.T) {
	ctrl, sender, store := newEmailFixture(t)
	ctx := context.Background()
	const id = "conv-1"

	offer := ctrl.Start(ctx, id, "I can draft a follow-up email about the missed attendance.")
	if !strings.Contains(offer, "employee's name") {
		t.Fatalf("offer = %q", offer)
	}
	if got := store.Get(id); got.Kind != models.StateEmail || got.Email.TemplateID != TemplateAttendanceFollowup {
		t.Fatalf("after start: %+v", got)
	}

	reply, handled := ctrl.HandleTurn(ctx, id, "Sarah Johnson")
	if !handled || !strings.Contains(reply, "email address") {
		t.Fatalf("name reply = %q handled=%v", reply, handled)
	}

	// Malformed address re-prompts without advancing.
	reply, _ = ctrl.HandleTurn(ctx, id, "sarah at example dot com")
	if !strings.Contains(reply, "valid email address") {
		t.Fatalf("invalid email reply = %q", reply)
	}
	if store.Get(id).Email.Step != models.EmailStepAwaitingEmployeeEmail {
		t.Fatal("invalid email should not advance the step")
	}

	reply, _ = ctrl.HandleTurn(ctx, id, "sarah@example.com")
	if !strings.Contains(reply, "dates") {
		t.Fatalf("expected prompt for dates, got %q", reply)
	}
	reply, _ = ctrl.HandleTurn(ctx, id, "Jan 5, 6 and 7")
	if !strings.Contains(reply, "reply by") {
		t.Fatalf("expected prompt for reply by, got %q", reply)
	}
	reply, _ = ctrl.HandleTurn(ctx, id, "end of day Friday")
	if !strings.Contains(reply, "manager name") {
		t.Fatalf("expected prompt for manager name, got %q", reply)
	}

	reply, _ = ctrl.HandleTurn(ctx, id, "Alex Chen")
	if !strings.Contains(reply, "To: sarah@example.com") || !strings.Contains(reply, "Hi Sarah Johnson") {
		t.Fatalf("preview = %q", reply)
	}
	if strings.Contains(reply, "{{") {
		t.Fatalf("preview has unfilled placeholders: %q", reply)
	}

	reply, _ = ctrl.HandleTurn(ctx, id, "yes")
	if !strings.Contains(reply, "Email sent to Sarah Johnson") {
		t.Fatalf("send reply = %q", reply)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "sarah@example.com" || msg.Subject != "Follow-up on recent attendance" {
		t.Errorf("message = %+v", msg)
	}
	if !strings.Contains(msg.Body, "Jan 5, 6 and 7") || !strings.Contains(msg.Body, "Alex Chen") {
		t.Errorf("body missing collected variables: %q", msg.Body)
	}
	if store.Get(id).Email.Step != models.EmailStepCompleted {
		t.Error("flow should be completed")
	}

	if _, handled := ctrl.HandleTurn(ctx, id, "yes"); handled {
		t.Error("completed flow should not handle turns")
	}
}

func TestEmailFlowCancelFromEveryStep(t *testing.T) {
	ctx := context.Background()
	advance := [][]string{
		{},
		{"Sarah Johnson"},
		{"Sarah Johnson", "sarah@example.com"},
		{"Sarah Johnson", "sarah@example.com", "Jan 5"},
		{"Sarah Johnson", "sarah@example.com", "Jan 5", "Friday", "Alex Chen"},
	}
	for i, inputs := range advance {
		ctrl, sender, store := newEmailFixture(t)
		id := "conv-cancel"
		ctrl.Start(ctx, id, "draft an email")
		for _, in := range inputs {
			ctrl.HandleTurn(ctx, id, in)
		}
		reply, handled := ctrl.HandleTurn(ctx, id, "no")
		if !handled || !strings.Contains(reply, "won't send") {
			t.Errorf("case %d: cancel reply = %q handled=%v", i, reply, handled)
		}
		if !store.Get(id).IsIdle() {
			t.Errorf("case %d: state not idle after cancel", i)
		}
		if len(sender.sent) != 0 {
			t.Errorf("case %d: nothing should be sent", i)
		}
	}
}

func TestEmailFlowSendFailureSurfacesProviderError(t *testing.T) {
	ctrl, sender, store := newEmailFixture(t)
	sender.err = errors.New("mail provider returned status 429: quota exceeded")
	ctx := context.Background()
	const id = "conv-2"

	ctrl.Start(ctx, id, "draft an email")
	ctrl.HandleTurn(ctx, id, "Sam Lee")
	ctrl.HandleTurn(ctx, id, "sam@example.com")
	ctrl.HandleTurn(ctx, id, "Jan 5")
	ctrl.HandleTurn(ctx, id, "Friday")
	ctrl.HandleTurn(ctx, id, "Alex Chen")
	reply, _ := ctrl.HandleTurn(ctx, id, "yes")

	if !strings.Contains(reply, "quota exceeded") {
		t.Errorf("reply should surface provider error, got %q", reply)
	}
	if !store.Get(id).IsIdle() {
		t.Error("state should be idle after send failure")
	}
}

func TestEmailFlowPolicyReminderTemplate(t *testing.T) {
	ctrl, sender, _ := newEmailFixture(t)
	ctx := context.Background()
	const id = "conv-3"

	ctrl.Start(ctx, id, "I can send a quick policy reminder to the employee.")
	ctrl.HandleTurn(ctx, id, "Sam Lee")
	ctrl.HandleTurn(ctx, id, "sam@example.com")
	reply, _ := ctrl.HandleTurn(ctx, id, "remote work")
	if !strings.Contains(reply, "manager name") {
		t.Fatalf("expected prompt for manager name, got %q", reply)
	}
	ctrl.HandleTurn(ctx, id, "Alex Chen")
	ctrl.HandleTurn(ctx, id, "yes")

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages", len(sender.sent))
	}
	if got := sender.sent[0].Subject; got != "Reminder: remote work" {
		t.Errorf("subject = %q", got)
	}
}

func TestTemplateHelpers(t *testing.T) {
	got := ExtractPlaceholders("Hi {{name}}, about {{topic}}: {{name}} again")
	if len(got) != 2 || got[0] != "name" || got[1] != "topic" {
		t.Errorf("ExtractPlaceholders = %v", got)
	}

	rendered := RenderTemplate("Hi {{name}}, re {{topic}}", map[string]string{"name": "Sam"})
	if rendered != "Hi Sam, re {{topic}}" {
		t.Errorf("RenderTemplate = %q", rendered)
	}

	if tpl := ChooseTemplate("you should send a policy reminder"); tpl.ID != TemplatePolicyReminder {
		t.Errorf("ChooseTemplate policy = %q", tpl.ID)
	}
	if tpl := ChooseTemplate("draft an attendance follow-up email"); tpl.ID != TemplateAttendanceFollowup {
		t.Errorf("ChooseTemplate attendance = %q", tpl.ID)
	}
}
