// Package models defines conversation state structures for PolicyPal flows.
package models

import "time"

// FlowType represents a specific type of action flow.
type FlowType string

// Flow type constants. A conversation holds at most one active flow.
const (
	FlowTypeCalendar FlowType = "calendar"
	FlowTypeEmail    FlowType = "email"
)

// StateKind is the discriminator of the ConversationState tagged union.
type StateKind string

// State kind constants.
const (
	StateIdle     StateKind = "idle"
	StateCalendar StateKind = "calendar_flow"
	StateEmail    StateKind = "email_flow"
)

// CalendarStep identifies the current step of an active calendar flow.
type CalendarStep string

// Calendar flow step constants, in the order the flow advances through them.
const (
	CalendarStepAwaitingTimeSelection CalendarStep = "awaiting_time_selection"
	CalendarStepAwaitingEmployeeName  CalendarStep = "awaiting_employee_name"
	CalendarStepAwaitingEmployeePhone CalendarStep = "awaiting_employee_phone"
	CalendarStepAwaitingConfirmation  CalendarStep = "awaiting_confirmation"
	CalendarStepCompleted             CalendarStep = "completed"
)

// EmailStep identifies the current step of an active email flow.
type EmailStep string

// Email flow step constants.
const (
	EmailStepAwaitingSubject       EmailStep = "awaiting_subject"
	EmailStepAwaitingEmployeeName  EmailStep = "awaiting_employee_name"
	EmailStepAwaitingEmployeeEmail EmailStep = "awaiting_employee_email"
	EmailStepAwaitingVariable      EmailStep = "awaiting_variable"
	EmailStepAwaitingConfirmation  EmailStep = "awaiting_confirmation"
	EmailStepCompleted             EmailStep = "completed"
)

// CalendarFlowState carries the data collected across a calendar booking flow.
type CalendarFlowState struct {
	Step              CalendarStep    `json:"step"`
	Topic             string          `json:"topic"`
	ManagerTimezone   string          `json:"manager_timezone,omitempty"`
	AvailableSlots    []AvailableSlot `json:"available_slots,omitempty"`
	SelectedSlotIndex int             `json:"selected_slot_index"` // -1 until a slot is chosen
	EmployeeName      string          `json:"employee_name,omitempty"`
	EmployeePhone     string          `json:"employee_phone,omitempty"`
	BookedTime        time.Time       `json:"booked_time,omitempty"`
}

// EmailFlowState carries the data collected across an email composition flow.
type EmailFlowState struct {
	Step                 EmailStep         `json:"step"`
	TemplateID           string            `json:"template_id,omitempty"`
	Subject              string            `json:"subject,omitempty"`
	Body                 string            `json:"body,omitempty"`
	RecipientName        string            `json:"recipient_name,omitempty"`
	RecipientEmail       string            `json:"recipient_email,omitempty"`
	Variables            map[string]string `json:"variables,omitempty"`
	MissingVariables     []string          `json:"missing_variables,omitempty"`
	CurrentVariableIndex int               `json:"current_variable_index"`
}

// ConversationState is a tagged union: exactly one of Calendar or Email is
// non-nil when Kind is the matching flow kind, and both are nil when idle.
// Consumers must switch exhaustively on Kind.
type ConversationState struct {
	Kind     StateKind          `json:"kind"`
	Calendar *CalendarFlowState `json:"calendar,omitempty"`
	Email    *EmailFlowState    `json:"email,omitempty"`
}

// IdleState returns the idle conversation state.
func IdleState() ConversationState {
	return ConversationState{Kind: StateIdle}
}

// NewCalendarState returns a calendar flow state at the first step.
func NewCalendarState(topic string) ConversationState {
	return ConversationState{
		Kind: StateCalendar,
		Calendar: &CalendarFlowState{
			Step:              CalendarStepAwaitingTimeSelection,
			Topic:             topic,
			SelectedSlotIndex: -1,
		},
	}
}

// NewEmailState returns an email flow state at the first step.
func NewEmailState(templateID, subject, body string, missing []string) ConversationState {
	return ConversationState{
		Kind: StateEmail,
		Email: &EmailFlowState{
			Step:             EmailStepAwaitingEmployeeName,
			TemplateID:       templateID,
			Subject:          subject,
			Body:             body,
			Variables:        make(map[string]string),
			MissingVariables: missing,
		},
	}
}

// ActiveFlow reports the flow type of the active flow, if any.
func (s ConversationState) ActiveFlow() (FlowType, bool) {
	switch s.Kind {
	case StateCalendar:
		return FlowTypeCalendar, true
	case StateEmail:
		return FlowTypeEmail, true
	default:
		return "", false
	}
}

// IsIdle reports whether no flow is active.
func (s ConversationState) IsIdle() bool {
	return s.Kind == StateIdle
}
