package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/PolicyPal/internal/calendar"
	"github.com/BTreeMap/PolicyPal/internal/convstate"
	"github.com/BTreeMap/PolicyPal/internal/models"
)

// DefaultSlotChoices is how many ranked slots are offered to the manager.
const DefaultSlotChoices = 3

// CalendarController drives the multi-turn call scheduling flow. Every turn
// runs under the conversation's turn lock, held by the engine.
type CalendarController struct {
	store           convstate.Store
	provider        calendar.Provider
	mailboxID       string
	defaultTimezone string
	daysAhead       int
	slotChoices     int
}

// NewCalendarController creates a calendar flow controller.
func NewCalendarController(store convstate.Store, provider calendar.Provider, mailboxID, defaultTimezone string) *CalendarController {
	return &CalendarController{
		store:           store,
		provider:        provider,
		mailboxID:       mailboxID,
		defaultTimezone: defaultTimezone,
		daysAhead:       calendar.DefaultDaysAhead,
		slotChoices:     DefaultSlotChoices,
	}
}

// Start fetches availability and opens a calendar flow for the conversation.
// On any collaborator failure no flow state is left behind and the returned
// text explains the problem to the manager.
func (c *CalendarController) Start(ctx context.Context, conversationID, topic, clientTimezone string) string {
	tz := calendar.ResolveTimezone(ctx, clientTimezone, c.provider, c.mailboxID, c.defaultTimezone)

	slots, err := c.provider.GetAvailableSlots(ctx, c.mailboxID, c.daysAhead, tz)
	if err != nil {
		c.store.Clear(conversationID)
		if errors.Is(err, models.ErrNoSlotsAvailable) {
			slog.Info("calendar flow: no open slots", "conversation_id", conversationID, "days_ahead", c.daysAhead)
			return fmt.Sprintf("I checked the calendar but couldn't find any open slots in the next %d days. You may want to book the call manually.", c.daysAhead)
		}
		slog.Error("calendar flow: slot lookup failed", "conversation_id", conversationID, "error", err)
		return "I couldn't reach the calendar service to check availability, so I won't schedule anything right now. Please try again in a bit."
	}

	ranked := calendar.TopN(calendar.RankSlots(slots), c.slotChoices)

	state := models.NewCalendarState(topic)
	state.Calendar.ManagerTimezone = tz
	state.Calendar.AvailableSlots = ranked
	c.store.Set(conversationID, state)

	var b strings.Builder
	b.WriteString("I can set up that call for you. Here are the next available times:\n")
	for i, slot := range ranked {
		fmt.Fprintf(&b, "%d. %s\n", i+1, slot.Label)
	}
	b.WriteString("\nReply with a number to pick a time, or \"no\" to skip scheduling.")

	slog.Info("calendar flow: started", "conversation_id", conversationID, "slots_offered", len(ranked), "timezone", tz)
	return b.String()
}

// HandleTurn advances an active calendar flow with the manager's reply. It
// reports handled=false when the conversation has no live calendar step, so
// the engine can fall through to ordinary Q&A.
func (c *CalendarController) HandleTurn(ctx context.Context, conversationID, input string) (reply string, handled bool) {
	state := c.store.Get(conversationID)
	if state.Kind != models.StateCalendar || state.Calendar.Step == models.CalendarStepCompleted {
		return "", false
	}
	cs := state.Calendar
	trimmed := strings.ToLower(strings.TrimSpace(input))

	if trimmed == "no" || trimmed == "cancel" {
		c.store.Clear(conversationID)
		slog.Info("calendar flow: cancelled", "conversation_id", conversationID, "step", cs.Step)
		return "No problem, I won't schedule anything. Is there anything else I can help with?", true
	}

	switch cs.Step {
	case models.CalendarStepAwaitingTimeSelection:
		return c.handleTimeSelection(conversationID, cs, trimmed), true
	case models.CalendarStepAwaitingEmployeeName:
		return c.handleEmployeeName(conversationID, input), true
	case models.CalendarStepAwaitingEmployeePhone:
		return c.handleEmployeePhone(conversationID, cs, input, trimmed), true
	case models.CalendarStepAwaitingConfirmation:
		return c.handleConfirmation(ctx, conversationID, cs, trimmed), true
	default:
		slog.Error("calendar flow: unknown step, clearing", "conversation_id", conversationID, "step", cs.Step)
		c.store.Clear(conversationID)
		return "Something went wrong with the scheduling flow, so I've reset it. Ask me again if you'd still like to book the call.", true
	}
}

func (c *CalendarController) handleTimeSelection(conversationID string, cs *models.CalendarFlowState, trimmed string) string {
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1 || n > len(cs.AvailableSlots) {
		return fmt.Sprintf("Please reply with a number between 1 and %d to pick a time, or \"no\" to skip.", len(cs.AvailableSlots))
	}
	if err := c.store.UpdateCalendar(conversationID, func(s *models.CalendarFlowState) {
		s.SelectedSlotIndex = n - 1
		s.Step = models.CalendarStepAwaitingEmployeeName
	}); err != nil {
		return c.abort(conversationID, err)
	}
	return fmt.Sprintf("Got it, %s. What's the employee's name?", cs.AvailableSlots[n-1].Label)
}

func (c *CalendarController) handleEmployeeName(conversationID, input string) string {
	name := strings.TrimSpace(input)
	if name == "" {
		return "I didn't catch a name. What's the employee's name?"
	}
	if err := c.store.UpdateCalendar(conversationID, func(s *models.CalendarFlowState) {
		s.EmployeeName = name
		s.Step = models.CalendarStepAwaitingEmployeePhone
	}); err != nil {
		return c.abort(conversationID, err)
	}
	return fmt.Sprintf("Thanks. What's the best phone number for %s? Reply \"skip\" if you don't have one handy.", name)
}

func (c *CalendarController) handleEmployeePhone(conversationID string, cs *models.CalendarFlowState, input, trimmed string) string {
	phone := strings.TrimSpace(input)
	if trimmed == "skip" {
		phone = ""
	}
	if err := c.store.UpdateCalendar(conversationID, func(s *models.CalendarFlowState) {
		s.EmployeePhone = phone
		s.Step = models.CalendarStepAwaitingConfirmation
	}); err != nil {
		return c.abort(conversationID, err)
	}
	slot := cs.AvailableSlots[cs.SelectedSlotIndex]
	return fmt.Sprintf("Here's what I have:\n- Call about: %s\n- Employee: %s\n- Time: %s\n\nShall I book it? (yes/no)", cs.Topic, cs.EmployeeName, slot.Label)
}

func (c *CalendarController) handleConfirmation(ctx context.Context, conversationID string, cs *models.CalendarFlowState, trimmed string) string {
	if trimmed != "yes" && trimmed != "y" && trimmed != "book it" {
		return "Please reply \"yes\" to book the call or \"no\" to cancel."
	}

	slot := cs.AvailableSlots[cs.SelectedSlotIndex]
	details := calendar.BookingDetails{
		Subject:         fmt.Sprintf("Call with %s: %s", cs.EmployeeName, cs.Topic),
		Start:           slot.Start,
		End:             slot.End,
		Timezone:        cs.ManagerTimezone,
		AttendeeName:    cs.EmployeeName,
		ReminderMinutes: calendar.DefaultReminderMinutes,
	}
	result, err := c.provider.BookEvent(ctx, c.mailboxID, details)
	if err != nil {
		c.store.Clear(conversationID)
		slog.Error("calendar flow: booking failed", "conversation_id", conversationID, "error", err)
		return fmt.Sprintf("I couldn't book the event: %v. I've cancelled the scheduling; ask me again if you'd like to retry.", err)
	}

	if err := c.store.UpdateCalendar(conversationID, func(s *models.CalendarFlowState) {
		s.Step = models.CalendarStepCompleted
		s.BookedTime = slot.Start
	}); err != nil {
		return c.abort(conversationID, err)
	}
	slog.Info("calendar flow: booked", "conversation_id", conversationID, "event_id", result.EventID, "start", slot.Start)
	return fmt.Sprintf("Booked! %s with %s. I've added a %d-minute reminder to your calendar.", slot.Label, cs.EmployeeName, calendar.DefaultReminderMinutes)
}

// abort handles a state update failure mid-flow. It never leaves the
// conversation dangling in an earlier step.
func (c *CalendarController) abort(conversationID string, err error) string {
	slog.Error("calendar flow: state update failed, clearing", "conversation_id", conversationID, "error", err)
	c.store.Clear(conversationID)
	return "Something went wrong with the scheduling flow, so I've reset it. Ask me again if you'd still like to book the call."
}
