// Package models defines the core data structures for PolicyPal.
//
// It includes conversation turns, flow state, intent detection results, and
// calendar slot types shared across modules.
package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the manager talking to the assistant.
	RoleUser Role = "user"
	// RoleAssistant marks a turn authored by the assistant.
	RoleAssistant Role = "assistant"
)

// ConversationTurn is a single message in a conversation history.
// Turns are immutable once appended.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// InboundMessage represents a message received from a transport service.
type InboundMessage struct {
	ConversationID string    `json:"conversation_id"`
	Body           string    `json:"body"`
	Time           time.Time `json:"time"`
}

// AvailableSlot is a candidate meeting time window offered during calendar
// booking. Slots are produced by the calendar provider and are never mutated
// after creation.
type AvailableSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// Validation constants for conversation input.
const (
	// MaxMessageBodyLength defines the maximum accepted inbound message length.
	MaxMessageBodyLength = 4096
	// MaxHistoryTurns is the retained conversation window; older turns are trimmed.
	MaxHistoryTurns = 30
)

// Error variables shared across modules.
var (
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrEmptyMessageBody    = errors.New("message body cannot be empty")
	ErrMessageBodyTooLong  = errors.New("message body exceeds maximum length")
	ErrInvalidState        = errors.New("stored state does not match expected flow type")
	ErrFlowActive          = errors.New("another flow is already active for this conversation")
	ErrNoSlotsAvailable    = errors.New("no available slots found in the lookahead window")
	ErrInvalidEmailAddress = errors.New("email address is not valid")
)

// emailShape is a deliberately loose check: local part, one @, dotted domain.
var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmailAddress checks an email address for basic shape.
func ValidateEmailAddress(addr string) error {
	if !emailShape.MatchString(strings.TrimSpace(addr)) {
		return ErrInvalidEmailAddress
	}
	return nil
}

// Validate performs validation on an inbound transport message.
func (m *InboundMessage) Validate() error {
	if m.ConversationID == "" {
		return ErrEmptyConversationID
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrEmptyMessageBody
	}
	if len(m.Body) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}

// TrimHistory returns the most recent turns within the retained window.
func TrimHistory(history []ConversationTurn) []ConversationTurn {
	if len(history) > MaxHistoryTurns {
		return history[len(history)-MaxHistoryTurns:]
	}
	return history
}

// API status values used in response envelopes.
const (
	APIStatusOK    = "ok"
	APIStatusError = "error"
)

// APIResponse is the standard JSON envelope for HTTP endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
