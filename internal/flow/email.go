package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PolicyPal/internal/convstate"
	"github.com/BTreeMap/PolicyPal/internal/mailer"
	"github.com/BTreeMap/PolicyPal/internal/models"
)

// EmailController drives the multi-turn templated email flow. Every turn runs
// under the conversation's turn lock, held by the engine.
type EmailController struct {
	store     convstate.Store
	sender    mailer.Sender
	mailboxID string
}

// NewEmailController creates an email flow controller.
func NewEmailController(store convstate.Store, sender mailer.Sender, mailboxID string) *EmailController {
	return &EmailController{store: store, sender: sender, mailboxID: mailboxID}
}

// Start opens an email flow using the template that best matches the
// assistant response that triggered it.
func (c *EmailController) Start(ctx context.Context, conversationID, responseText string) string {
	t := ChooseTemplate(responseText)

	// The recipient's name is collected as its own step, not as a template
	// variable prompt.
	var missing []string
	for _, name := range ExtractPlaceholders(t.Subject + "\n" + t.Body) {
		if name != "employee_name" {
			missing = append(missing, name)
		}
	}

	c.store.Set(conversationID, models.NewEmailState(t.ID, t.Subject, t.Body, missing))
	slog.Info("email flow: started", "conversation_id", conversationID, "template", t.ID, "variables", len(missing))
	return fmt.Sprintf("I can draft an %s email for you. What's the employee's name?", t.Title)
}

// HandleTurn advances an active email flow with the manager's reply. It
// reports handled=false when the conversation has no live email step.
func (c *EmailController) HandleTurn(ctx context.Context, conversationID, input string) (reply string, handled bool) {
	state := c.store.Get(conversationID)
	if state.Kind != models.StateEmail || state.Email.Step == models.EmailStepCompleted {
		return "", false
	}
	es := state.Email
	trimmed := strings.ToLower(strings.TrimSpace(input))

	if trimmed == "no" || trimmed == "cancel" {
		c.store.Clear(conversationID)
		slog.Info("email flow: cancelled", "conversation_id", conversationID, "step", es.Step)
		return "No problem, I won't send anything. Is there anything else I can help with?", true
	}

	switch es.Step {
	case models.EmailStepAwaitingEmployeeName:
		return c.handleEmployeeName(conversationID, input), true
	case models.EmailStepAwaitingEmployeeEmail:
		return c.handleEmployeeEmail(conversationID, es, input), true
	case models.EmailStepAwaitingVariable:
		return c.handleVariable(conversationID, es, input), true
	case models.EmailStepAwaitingConfirmation:
		return c.handleConfirmation(ctx, conversationID, es, trimmed), true
	default:
		slog.Error("email flow: unknown step, clearing", "conversation_id", conversationID, "step", es.Step)
		c.store.Clear(conversationID)
		return "Something went wrong with the email flow, so I've reset it. Ask me again if you'd still like to send it.", true
	}
}

func (c *EmailController) handleEmployeeName(conversationID, input string) string {
	name := strings.TrimSpace(input)
	if name == "" {
		return "I didn't catch a name. Who should the email go to?"
	}
	if err := c.store.UpdateEmail(conversationID, func(s *models.EmailFlowState) {
		s.RecipientName = name
		s.Variables["employee_name"] = name
		s.Step = models.EmailStepAwaitingEmployeeEmail
	}); err != nil {
		return c.abort(conversationID, err)
	}
	return fmt.Sprintf("What's %s's email address?", name)
}

func (c *EmailController) handleEmployeeEmail(conversationID string, es *models.EmailFlowState, input string) string {
	addr := strings.TrimSpace(input)
	if err := models.ValidateEmailAddress(addr); err != nil {
		return "That doesn't look like a valid email address. Please send it as name@company.com."
	}
	next := models.EmailStepAwaitingConfirmation
	if len(es.MissingVariables) > 0 {
		next = models.EmailStepAwaitingVariable
	}
	if err := c.store.UpdateEmail(conversationID, func(s *models.EmailFlowState) {
		s.RecipientEmail = addr
		s.Step = next
	}); err != nil {
		return c.abort(conversationID, err)
	}
	if next == models.EmailStepAwaitingVariable {
		return fmt.Sprintf("What should I put for the %s?", humanizeVariable(es.MissingVariables[0]))
	}
	return c.preview(es, addr)
}

func (c *EmailController) handleVariable(conversationID string, es *models.EmailFlowState, input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return fmt.Sprintf("I need a value for the %s. What should I put?", humanizeVariable(es.MissingVariables[es.CurrentVariableIndex]))
	}

	name := es.MissingVariables[es.CurrentVariableIndex]
	nextIndex := es.CurrentVariableIndex + 1
	done := nextIndex >= len(es.MissingVariables)
	if err := c.store.UpdateEmail(conversationID, func(s *models.EmailFlowState) {
		s.Variables[name] = value
		s.CurrentVariableIndex = nextIndex
		if done {
			s.Step = models.EmailStepAwaitingConfirmation
		}
	}); err != nil {
		return c.abort(conversationID, err)
	}

	if !done {
		return fmt.Sprintf("What should I put for the %s?", humanizeVariable(es.MissingVariables[nextIndex]))
	}
	es.Variables[name] = value
	return c.preview(es, es.RecipientEmail)
}

func (c *EmailController) handleConfirmation(ctx context.Context, conversationID string, es *models.EmailFlowState, trimmed string) string {
	if trimmed != "yes" && trimmed != "y" && trimmed != "send it" {
		return "Please reply \"yes\" to send the email or \"no\" to cancel."
	}

	msg := mailer.Message{
		To:      es.RecipientEmail,
		Subject: RenderTemplate(es.Subject, es.Variables),
		Body:    RenderTemplate(es.Body, es.Variables),
	}
	if err := c.sender.SendMail(ctx, c.mailboxID, msg); err != nil {
		c.store.Clear(conversationID)
		slog.Error("email flow: send failed", "conversation_id", conversationID, "error", err)
		return fmt.Sprintf("I couldn't send the email: %v. I've cancelled the draft; ask me again if you'd like to retry.", err)
	}

	if err := c.store.UpdateEmail(conversationID, func(s *models.EmailFlowState) {
		s.Step = models.EmailStepCompleted
	}); err != nil {
		return c.abort(conversationID, err)
	}
	slog.Info("email flow: sent", "conversation_id", conversationID, "to", es.RecipientEmail, "template", es.TemplateID)
	return fmt.Sprintf("Email sent to %s at %s.", es.RecipientName, es.RecipientEmail)
}

func (c *EmailController) preview(es *models.EmailFlowState, to string) string {
	return fmt.Sprintf("Here's the draft:\n\nTo: %s\nSubject: %s\n\n%s\n\nSend it? (yes/no)",
		to, RenderTemplate(es.Subject, es.Variables), RenderTemplate(es.Body, es.Variables))
}

func (c *EmailController) abort(conversationID string, err error) string {
	slog.Error("email flow: state update failed, clearing", "conversation_id", conversationID, "error", err)
	c.store.Clear(conversationID)
	return "Something went wrong with the email flow, so I've reset it. Ask me again if you'd still like to send it."
}
