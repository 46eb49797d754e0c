package convstate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

func TestGetReturnsIdleForUnknownConversation(t *testing.T) {
	s := NewMemoryStore(0)
	state := s.Get("missing")
	if !state.IsIdle() {
		t.Errorf("expected idle state for unknown conversation, got %s", state.Kind)
	}
}

func TestSetGetClearRoundTrip(t *testing.T) {
	s := NewMemoryStore(0)
	s.Set("conv-1", models.NewCalendarState("attendance"))

	state := s.Get("conv-1")
	if state.Kind != models.StateCalendar {
		t.Fatalf("expected calendar state, got %s", state.Kind)
	}
	if state.Calendar.Topic != "attendance" {
		t.Errorf("topic = %q, want attendance", state.Calendar.Topic)
	}

	s.Clear("conv-1")
	if !s.Get("conv-1").IsIdle() {
		t.Error("expected idle after clear")
	}

	// Clearing twice is safe and leaves idle.
	s.Clear("conv-1")
	s.Clear("conv-1")
	if !s.Get("conv-1").IsIdle() {
		t.Error("double clear should leave idle")
	}
}

func TestUpdateCalendarRejectsMismatchedState(t *testing.T) {
	s := NewMemoryStore(0)

	err := s.UpdateCalendar("conv-1", func(c *models.CalendarFlowState) {})
	if !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("update against missing state: got %v, want ErrInvalidState", err)
	}

	s.Set("conv-1", models.NewEmailState("tmpl", "Subj", "Body", nil))
	err = s.UpdateCalendar("conv-1", func(c *models.CalendarFlowState) {
		c.EmployeeName = "should not happen"
	})
	if !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("calendar update against email state: got %v, want ErrInvalidState", err)
	}

	// The email state must be untouched by the rejected update.
	state := s.Get("conv-1")
	if state.Kind != models.StateEmail || state.Email.Subject != "Subj" {
		t.Errorf("state corrupted by rejected update: %+v", state)
	}
}

func TestUpdateEmailRejectsMismatchedState(t *testing.T) {
	s := NewMemoryStore(0)
	s.Set("conv-1", models.NewCalendarState("topic"))

	err := s.UpdateEmail("conv-1", func(e *models.EmailFlowState) {})
	if !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("email update against calendar state: got %v, want ErrInvalidState", err)
	}
}

func TestUpdateCalendarAppliesPartialFields(t *testing.T) {
	s := NewMemoryStore(0)
	s.Set("conv-1", models.NewCalendarState("attendance"))

	err := s.UpdateCalendar("conv-1", func(c *models.CalendarFlowState) {
		c.Step = models.CalendarStepAwaitingEmployeeName
		c.SelectedSlotIndex = 0
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := s.Get("conv-1")
	if state.Calendar.Step != models.CalendarStepAwaitingEmployeeName {
		t.Errorf("step = %s, want awaiting_employee_name", state.Calendar.Step)
	}
	if state.Calendar.SelectedSlotIndex != 0 {
		t.Errorf("selected index = %d, want 0", state.Calendar.SelectedSlotIndex)
	}
	if state.Calendar.Topic != "attendance" {
		t.Errorf("untouched field changed: topic = %q", state.Calendar.Topic)
	}
}

func TestHistoryAppendAndTrim(t *testing.T) {
	s := NewMemoryStore(0)
	for i := 0; i < models.MaxHistoryTurns+5; i++ {
		s.AppendTurn("conv-1", models.ConversationTurn{Role: models.RoleUser, Content: "msg"})
	}
	history := s.History("conv-1")
	if len(history) != models.MaxHistoryTurns {
		t.Errorf("history length = %d, want %d", len(history), models.MaxHistoryTurns)
	}

	if got := s.History("unknown"); got != nil {
		t.Errorf("unknown conversation history = %v, want nil", got)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := NewMemoryStore(0)
	s.AppendTurn("conv-1", models.ConversationTurn{Role: models.RoleUser, Content: "original"})

	history := s.History("conv-1")
	history[0].Content = "mutated"

	if s.History("conv-1")[0].Content != "original" {
		t.Error("History must return a copy, not the backing slice")
	}
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	s := NewMemoryStore(30 * time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Set("stale", models.NewCalendarState("old"))
	s.Set("fresh", models.NewCalendarState("new"))

	// Advance the clock past the idle timeout, then refresh only "fresh".
	s.now = func() time.Time { return base.Add(31 * time.Minute) }
	s.Get("fresh")

	removed := s.Sweep()
	if removed != 1 {
		t.Fatalf("sweep removed %d entries, want 1", removed)
	}
	if !s.Get("stale").IsIdle() {
		t.Error("stale entry should be gone (idle)")
	}
	if s.Get("fresh").Kind != models.StateCalendar {
		t.Error("fresh entry should survive the sweep")
	}
}

func TestSweepSkipsInFlightTurn(t *testing.T) {
	s := NewMemoryStore(time.Nanosecond)
	s.Set("busy", models.NewCalendarState("topic"))
	s.Acquire("busy")
	defer s.Release("busy")

	time.Sleep(time.Millisecond)
	if removed := s.Sweep(); removed != 0 {
		t.Errorf("sweep removed %d entries while turn in flight, want 0", removed)
	}
}

func TestDifferentConversationsDoNotBlock(t *testing.T) {
	s := NewMemoryStore(0)
	s.Acquire("conv-a")
	defer s.Release("conv-a")

	done := make(chan struct{})
	go func() {
		s.Acquire("conv-b")
		s.Set("conv-b", models.NewEmailState("tmpl", "s", "b", nil))
		s.Release("conv-b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("conversation B blocked behind conversation A's turn lock")
	}
}

func TestConcurrentAccessIsSafe(t *testing.T) {
	s := NewMemoryStore(0)
	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Acquire(id)
				s.Set(id, models.NewCalendarState("topic"))
				s.AppendTurn(id, models.ConversationTurn{Role: models.RoleUser, Content: "m"})
				s.Clear(id)
				s.Release(id)
			}
		}(id)
	}
	wg.Wait()
	for _, id := range ids {
		if !s.Get(id).IsIdle() {
			t.Errorf("conversation %s should end idle", id)
		}
	}
}
