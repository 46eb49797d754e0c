package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/PolicyPal/internal/convstate"
	"github.com/BTreeMap/PolicyPal/internal/intent"
	"github.com/BTreeMap/PolicyPal/internal/models"
	"github.com/BTreeMap/PolicyPal/internal/rag"
)

type fakeGenerator struct {
	replies []string
	err     error
	calls   int
}

func (g *fakeGenerator) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	if g.calls >= len(g.replies) {
		return "I'm not sure.", nil
	}
	reply := g.replies[g.calls]
	g.calls++
	return reply, nil
}

type fakeContextProvider struct {
	result *rag.ContextResult
	err    error
	calls  int
}

func (p *fakeContextProvider) GetContext(ctx context.Context, query string) (*rag.ContextResult, error) {
	p.calls++
	return p.result, p.err
}

func newEngineFixture(t *testing.T, gen *fakeGenerator) (*Engine, convstate.Store, *fakeProvider, *fakeSender) {
	t.Helper()
	store := convstate.NewMemoryStore(time.Hour)
	provider := &fakeProvider{slots: threeSlots(t), mailboxTZ: "America/Toronto"}
	sender := &fakeSender{}
	engine := NewEngine(EngineConfig{
		Store:            store,
		Generator:        gen,
		CalendarDetector: intent.NewKeywordDetector(models.FlowTypeCalendar),
		EmailDetector:    intent.NewKeywordDetector(models.FlowTypeEmail),
		Calendar:         NewCalendarController(store, provider, "hr@example.com", "America/Toronto"),
		Email:            NewEmailController(store, sender, "hr@example.com"),
	})
	return engine, store, provider, sender
}

func TestEngineFirstExchangeNeverTriggers(t *testing.T) {
	gen := &fakeGenerator{replies: []string{
		"Got it. Before anything else, I could schedule a call with them. Have you tried reaching out to them yet?",
	}}
	engine, store, _, _ := newEngineFixture(t, gen)

	reply, err := engine.HandleMessage(context.Background(), models.InboundMessage{
		ConversationID: "conv-1",
		Body:           "My employee didn't show up for 3 days",
		Time:           time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if strings.Contains(reply, "available times") {
		t.Errorf("flow offered on first exchange: %q", reply)
	}
	if !store.Get("conv-1").IsIdle() {
		t.Error("state should stay idle on first exchange")
	}
}

func TestEngineTriggersAfterContextGathered(t *testing.T) {
	gen := &fakeGenerator{replies: []string{
		"Got it. Have you tried reaching out to them yet?",
		"Thanks for the context. Since you can't reach them, would you like me to schedule that call for you?",
	}}
	engine, store, _, _ := newEngineFixture(t, gen)
	ctx := context.Background()
	const id = "conv-2"

	if _, err := engine.HandleMessage(ctx, models.InboundMessage{ConversationID: id, Body: "My employee didn't show up for 3 days", Time: time.Now()}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}

	reply, err := engine.HandleMessage(ctx, models.InboundMessage{ConversationID: id, Body: "I tried calling once but they didn't pick up", Time: time.Now()})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if !strings.Contains(reply, "would you like me to schedule that call") {
		t.Errorf("reply should carry the generated response: %q", reply)
	}
	if !strings.Contains(reply, "available times") {
		t.Errorf("reply should carry the slot offer: %q", reply)
	}
	state := store.Get(id)
	if state.Kind != models.StateCalendar || state.Calendar.Step != models.CalendarStepAwaitingTimeSelection {
		t.Fatalf("state after trigger: %+v", state)
	}

	// The next turn is intercepted by the flow, not the generator.
	reply, err = engine.HandleMessage(ctx, models.InboundMessage{ConversationID: id, Body: "1", Time: time.Now()})
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("generator called %d times, want 2", gen.calls)
	}
	if !strings.Contains(reply, "employee's name") {
		t.Errorf("flow turn reply = %q", reply)
	}
}

func TestEngineCompletedFlowFallsThroughToQA(t *testing.T) {
	gen := &fakeGenerator{replies: []string{
		"The call is booked. I could schedule a call again if you need another.",
	}}
	engine, store, _, _ := newEngineFixture(t, gen)

	state := models.NewCalendarState("topic")
	state.Calendar.Step = models.CalendarStepCompleted
	store.Set("conv-3", state)
	store.AppendTurn("conv-3", models.ConversationTurn{Role: models.RoleUser, Content: "hi"})
	store.AppendTurn("conv-3", models.ConversationTurn{Role: models.RoleAssistant, Content: "hello"})

	reply, err := engine.HandleMessage(context.Background(), models.InboundMessage{ConversationID: "conv-3", Body: "When is that call again?", Time: time.Now()})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("completed flow should fall through to Q&A, generator calls = %d", gen.calls)
	}
	// The state guard still blocks a calendar re-trigger while the completed
	// state lingers.
	if strings.Contains(reply, "available times") {
		t.Errorf("calendar re-triggered from completed state: %q", reply)
	}
	if store.Get("conv-3").Calendar.Step != models.CalendarStepCompleted {
		t.Error("completed state should persist until swept or cleared")
	}
}

func TestEngineEmailTrigger(t *testing.T) {
	gen := &fakeGenerator{replies: []string{
		"Understood. Have you spoken with them about the absences?",
		"Given the repeated no-shows, I can draft an email documenting the attendance concerns.",
	}}
	engine, store, _, _ := newEngineFixture(t, gen)
	ctx := context.Background()
	const id = "conv-4"

	engine.HandleMessage(ctx, models.InboundMessage{ConversationID: id, Body: "My employee missed three shifts", Time: time.Now()})
	reply, err := engine.HandleMessage(ctx, models.InboundMessage{ConversationID: id, Body: "Yes, they said it won't happen again but it did", Time: time.Now()})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if !strings.Contains(reply, "employee's name") {
		t.Errorf("email flow should have started: %q", reply)
	}
	state := store.Get(id)
	if state.Kind != models.StateEmail || state.Email.TemplateID != TemplateAttendanceFollowup {
		t.Fatalf("state after trigger: %+v", state)
	}
}

func TestEngineGeneratorFailureReturnsFallback(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	engine, store, _, _ := newEngineFixture(t, gen)

	reply, err := engine.HandleMessage(context.Background(), models.InboundMessage{ConversationID: "conv-5", Body: "hello", Time: time.Now()})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != fallbackReply {
		t.Errorf("reply = %q", reply)
	}
	if !store.Get("conv-5").IsIdle() {
		t.Error("state should stay idle")
	}
}

func TestEngineRejectsInvalidMessage(t *testing.T) {
	engine, _, _, _ := newEngineFixture(t, &fakeGenerator{})
	_, err := engine.HandleMessage(context.Background(), models.InboundMessage{ConversationID: "", Body: "hi", Time: time.Now()})
	if !errors.Is(err, models.ErrEmptyConversationID) {
		t.Errorf("err = %v", err)
	}
}

func TestEngineUsesRetrievedContext(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Per the attendance policy, document each absence."}}
	engine, _, _, _ := newEngineFixture(t, gen)
	provider := &fakeContextProvider{result: &rag.ContextResult{
		Results:       []rag.SearchResult{{Content: "Attendance policy text", Source: "handbook.md", Similarity: 0.9}},
		AvgSimilarity: 0.9,
	}}
	engine.retriever = provider

	if _, err := engine.HandleMessage(context.Background(), models.InboundMessage{ConversationID: "conv-6", Body: "What does the attendance policy say?", Time: time.Now()}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("retriever calls = %d", provider.calls)
	}
}

func TestEngineRetrievalFailureDegradesGracefully(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Here's what I know."}}
	engine, _, _, _ := newEngineFixture(t, gen)
	engine.retriever = &fakeContextProvider{err: errors.New("store offline")}

	reply, err := engine.HandleMessage(context.Background(), models.InboundMessage{ConversationID: "conv-7", Body: "attendance policy?", Time: time.Now()})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "Here's what I know." {
		t.Errorf("reply = %q", reply)
	}
}
