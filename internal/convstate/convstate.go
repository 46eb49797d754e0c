// Package convstate provides the per-conversation state store for PolicyPal.
//
// It maps a conversation id to at most one active action flow (calendar or
// email) plus the rolling conversation history. State is in-memory only and
// does not survive process restarts; stale entries are swept after an idle
// timeout.
package convstate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

// Default retention policy for per-conversation state.
const (
	// DefaultIdleTimeout is how long an untouched conversation is retained.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultSweepInterval is how often the sweeper scans for stale entries.
	DefaultSweepInterval = 5 * time.Minute
)

// Store defines the conversation state contract consumed by the flow engine.
// Implementations must serialize access per conversation id while allowing
// different conversation ids to proceed in parallel.
type Store interface {
	// Get retrieves the current state for a conversation, idle if none exists.
	Get(conversationID string) models.ConversationState

	// Set replaces the state for a conversation.
	Set(conversationID string, state models.ConversationState)

	// Clear resets a conversation to idle and drops flow data. Clearing an
	// already-idle conversation is a no-op.
	Clear(conversationID string)

	// UpdateCalendar applies a partial update to an active calendar flow.
	// Returns an error wrapping models.ErrInvalidState if the stored state is
	// not a calendar flow.
	UpdateCalendar(conversationID string, apply func(*models.CalendarFlowState)) error

	// UpdateEmail applies a partial update to an active email flow.
	// Returns an error wrapping models.ErrInvalidState if the stored state is
	// not an email flow.
	UpdateEmail(conversationID string, apply func(*models.EmailFlowState)) error

	// History returns a copy of the retained conversation turns.
	History(conversationID string) []models.ConversationTurn

	// AppendTurn appends a turn to the conversation history, trimming the
	// oldest turns beyond the retained window.
	AppendTurn(conversationID string, turn models.ConversationTurn)

	// Acquire blocks until the caller holds the per-conversation turn lock.
	// Release must be called exactly once after Acquire.
	Acquire(conversationID string)
	Release(conversationID string)
}

// entry holds all state for one conversation id.
type entry struct {
	mu           sync.Mutex // serializes turns for this conversation
	state        models.ConversationState
	history      []models.ConversationTurn
	lastActivity time.Time
}

// MemoryStore implements Store with a process-wide map keyed by conversation
// id. Map structure is guarded separately from per-entry turn locks so
// different conversations never block each other.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	locks       map[string]*turnLock
	idleTimeout time.Duration
	now         func() time.Time // injectable for tests
}

// NewMemoryStore creates a MemoryStore with the given idle timeout.
// A non-positive timeout falls back to DefaultIdleTimeout.
func NewMemoryStore(idleTimeout time.Duration) *MemoryStore {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	slog.Debug("convstate: creating memory store", "idleTimeout", idleTimeout)
	return &MemoryStore{
		entries:     make(map[string]*entry),
		locks:       make(map[string]*turnLock),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// getOrCreate returns the entry for a conversation, creating it on first use.
// The entry's last-activity timestamp is refreshed on every call: any read or
// write of state counts as activity for the sweeper.
func (s *MemoryStore) getOrCreate(conversationID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if ok {
		s.touch(e)
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[conversationID]; ok {
		s.touch(e)
		return e
	}
	e = &entry{state: models.IdleState(), lastActivity: s.now()}
	s.entries[conversationID] = e
	slog.Debug("convstate: created entry", "conversationID", conversationID)
	return e
}

func (s *MemoryStore) touch(e *entry) {
	e.mu.Lock()
	e.lastActivity = s.now()
	e.mu.Unlock()
}

// Get retrieves the current state for a conversation.
func (s *MemoryStore) Get(conversationID string) models.ConversationState {
	s.mu.RLock()
	e, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if !ok {
		return models.IdleState()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActivity = s.now()
	return e.state
}

// Set replaces the state for a conversation.
func (s *MemoryStore) Set(conversationID string, state models.ConversationState) {
	e := s.getOrCreate(conversationID)
	e.mu.Lock()
	e.state = state
	e.lastActivity = s.now()
	e.mu.Unlock()
	slog.Debug("convstate: state set", "conversationID", conversationID, "kind", state.Kind)
}

// Clear resets a conversation to idle. Idempotent.
func (s *MemoryStore) Clear(conversationID string) {
	s.mu.RLock()
	e, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.state = models.IdleState()
	e.lastActivity = s.now()
	e.mu.Unlock()
	slog.Debug("convstate: state cleared", "conversationID", conversationID)
}

// UpdateCalendar applies a partial update to an active calendar flow.
func (s *MemoryStore) UpdateCalendar(conversationID string, apply func(*models.CalendarFlowState)) error {
	s.mu.RLock()
	e, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("conversation %s has no state: %w", conversationID, models.ErrInvalidState)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Kind != models.StateCalendar || e.state.Calendar == nil {
		slog.Warn("convstate: calendar update against non-calendar state", "conversationID", conversationID, "kind", e.state.Kind)
		return fmt.Errorf("conversation %s is %s, not a calendar flow: %w", conversationID, e.state.Kind, models.ErrInvalidState)
	}
	apply(e.state.Calendar)
	e.lastActivity = s.now()
	return nil
}

// UpdateEmail applies a partial update to an active email flow.
func (s *MemoryStore) UpdateEmail(conversationID string, apply func(*models.EmailFlowState)) error {
	s.mu.RLock()
	e, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("conversation %s has no state: %w", conversationID, models.ErrInvalidState)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Kind != models.StateEmail || e.state.Email == nil {
		slog.Warn("convstate: email update against non-email state", "conversationID", conversationID, "kind", e.state.Kind)
		return fmt.Errorf("conversation %s is %s, not an email flow: %w", conversationID, e.state.Kind, models.ErrInvalidState)
	}
	apply(e.state.Email)
	e.lastActivity = s.now()
	return nil
}

// History returns a copy of the retained conversation turns.
func (s *MemoryStore) History(conversationID string) []models.ConversationTurn {
	s.mu.RLock()
	e, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActivity = s.now()
	out := make([]models.ConversationTurn, len(e.history))
	copy(out, e.history)
	return out
}

// AppendTurn appends a turn to the conversation history, trimming beyond the
// retained window.
func (s *MemoryStore) AppendTurn(conversationID string, turn models.ConversationTurn) {
	e := s.getOrCreate(conversationID)
	e.mu.Lock()
	e.history = models.TrimHistory(append(e.history, turn))
	e.lastActivity = s.now()
	e.mu.Unlock()
}

// turnLock is the per-conversation lock used by Acquire/Release. It is kept
// separate from entry.mu so a long-running turn (LLM call, provider call)
// does not block unrelated state reads such as the sweeper's timestamp check.
type turnLock struct {
	mu sync.Mutex
}

// Acquire blocks until the caller holds the turn lock for a conversation.
func (s *MemoryStore) Acquire(conversationID string) {
	s.acquireLock(conversationID).mu.Lock()
}

// Release releases the turn lock for a conversation.
func (s *MemoryStore) Release(conversationID string) {
	s.acquireLock(conversationID).mu.Unlock()
}

func (s *MemoryStore) acquireLock(conversationID string) *turnLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &turnLock{}
		s.locks[conversationID] = l
	}
	return l
}
