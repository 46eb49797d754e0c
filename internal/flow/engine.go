package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/PolicyPal/internal/convstate"
	"github.com/BTreeMap/PolicyPal/internal/guard"
	"github.com/BTreeMap/PolicyPal/internal/intent"
	"github.com/BTreeMap/PolicyPal/internal/models"
	"github.com/BTreeMap/PolicyPal/internal/rag"
)

const systemPrompt = `You are PolicyPal, an HR assistant that helps managers handle workplace situations according to company policy. Answer concisely and practically. When relevant policy excerpts are provided, ground your answer in them. Ask for missing context before recommending action.`

const fallbackReply = "I'm having trouble generating a response right now. Please try again in a moment."

// maxTopicLength caps the topic line carried into a calendar booking subject.
const maxTopicLength = 80

// ContextProvider supplies policy excerpts for a query. A nil provider is
// valid; the engine then answers from history alone.
type ContextProvider interface {
	GetContext(ctx context.Context, query string) (*rag.ContextResult, error)
}

// ResponseGenerator produces the assistant's candidate reply.
type ResponseGenerator interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Engine routes each inbound message either into the active flow or through
// retrieval, response generation, and trigger evaluation. At most one flow
// can be offered per turn; calendar wins when both intents fire.
type Engine struct {
	store            convstate.Store
	retriever        ContextProvider
	generator        ResponseGenerator
	calendarDetector intent.Detector
	emailDetector    intent.Detector
	calendar         *CalendarController
	email            *EmailController
	clientTimezone   string
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Store            convstate.Store
	Retriever        ContextProvider
	Generator        ResponseGenerator
	CalendarDetector intent.Detector
	EmailDetector    intent.Detector
	Calendar         *CalendarController
	Email            *EmailController

	// ClientTimezone is the transport-reported timezone, empty when the
	// transport does not supply one.
	ClientTimezone string
}

// NewEngine creates the conversation engine.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		store:            cfg.Store,
		retriever:        cfg.Retriever,
		generator:        cfg.Generator,
		calendarDetector: cfg.CalendarDetector,
		emailDetector:    cfg.EmailDetector,
		calendar:         cfg.Calendar,
		email:            cfg.Email,
		clientTimezone:   cfg.ClientTimezone,
	}
}

// HandleMessage processes one inbound message to completion and returns the
// assistant's reply. Messages for the same conversation are serialized by the
// per-conversation turn lock; different conversations proceed in parallel.
func (e *Engine) HandleMessage(ctx context.Context, msg models.InboundMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("invalid inbound message: %w", err)
	}

	e.store.Acquire(msg.ConversationID)
	defer e.store.Release(msg.ConversationID)

	start := time.Now()
	e.store.AppendTurn(msg.ConversationID, models.ConversationTurn{Role: models.RoleUser, Content: msg.Body})

	// An active flow intercepts the turn. A completed flow does not: its
	// controller reports handled=false and the turn falls through to Q&A.
	if reply, handled := e.routeToActiveFlow(ctx, msg); handled {
		e.store.AppendTurn(msg.ConversationID, models.ConversationTurn{Role: models.RoleAssistant, Content: reply})
		slog.Info("turn handled by flow", "conversation_id", msg.ConversationID, "duration", time.Since(start))
		return reply, nil
	}

	reply := e.answer(ctx, msg)
	e.store.AppendTurn(msg.ConversationID, models.ConversationTurn{Role: models.RoleAssistant, Content: reply})
	slog.Info("turn handled", "conversation_id", msg.ConversationID, "duration", time.Since(start))
	return reply, nil
}

func (e *Engine) routeToActiveFlow(ctx context.Context, msg models.InboundMessage) (string, bool) {
	switch e.store.Get(msg.ConversationID).Kind {
	case models.StateCalendar:
		return e.calendar.HandleTurn(ctx, msg.ConversationID, msg.Body)
	case models.StateEmail:
		return e.email.HandleTurn(ctx, msg.ConversationID, msg.Body)
	default:
		return "", false
	}
}

// answer runs the ordinary Q&A path: retrieve context, generate a candidate
// response, then evaluate whether it should open a flow.
func (e *Engine) answer(ctx context.Context, msg models.InboundMessage) string {
	contextText := e.gatherContext(ctx, msg.Body)
	history := e.store.History(msg.ConversationID)

	response, err := e.generator.GenerateWithMessages(ctx, buildMessages(contextText, history))
	if err != nil {
		slog.Error("response generation failed", "conversation_id", msg.ConversationID, "error", err)
		return fallbackReply
	}

	state := e.store.Get(msg.ConversationID)
	if e.shouldOffer(ctx, models.FlowTypeCalendar, e.calendarDetector, response, history, state) {
		offer := e.calendar.Start(ctx, msg.ConversationID, deriveTopic(history), e.clientTimezone)
		return response + "\n\n" + offer
	}
	if e.shouldOffer(ctx, models.FlowTypeEmail, e.emailDetector, response, history, state) {
		offer := e.email.Start(ctx, msg.ConversationID, response)
		return response + "\n\n" + offer
	}
	return response
}

// shouldOffer combines the guard pipeline's context decision with the
// detector's intent verdict. Both must agree before a flow is offered.
func (e *Engine) shouldOffer(ctx context.Context, flowType models.FlowType, detector intent.Detector, response string, history []models.ConversationTurn, state models.ConversationState) bool {
	if !guard.ShouldTrigger(flowType, response, history, state) {
		return false
	}
	result, err := detector.Detect(ctx, response)
	if err != nil {
		slog.Error("intent detection failed", "flow_type", flowType, "error", err)
		return false
	}
	slog.Debug("intent verdict",
		"flow_type", flowType,
		"should_trigger", result.ShouldTrigger,
		"confidence", result.Confidence,
		"method", result.Method,
		"reasoning", result.Reasoning)
	return result.ShouldTrigger
}

func (e *Engine) gatherContext(ctx context.Context, query string) string {
	if e.retriever == nil {
		return ""
	}
	result, err := e.retriever.GetContext(ctx, query)
	if err != nil {
		slog.Error("context retrieval failed", "error", err)
		return ""
	}
	if result == nil || len(result.Results) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range result.Results {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", r.Source, r.Content)
	}
	return b.String()
}

func buildMessages(contextText string, history []models.ConversationTurn) []openai.ChatCompletionMessageParamUnion {
	system := systemPrompt
	if contextText != "" {
		system += "\n\nRelevant policy excerpts:\n\n" + contextText
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(system))
	for _, turn := range history {
		if turn.Role == models.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}

// deriveTopic summarizes what the call is about from the first user turn in
// the retained window.
func deriveTopic(history []models.ConversationTurn) string {
	for _, turn := range history {
		if turn.Role == models.RoleUser {
			topic := strings.TrimSpace(turn.Content)
			if len(topic) > maxTopicLength {
				topic = topic[:maxTopicLength] + "..."
			}
			return topic
		}
	}
	return "employee follow-up"
}
