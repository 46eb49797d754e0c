// Package guard implements the context-aware trigger decision pipeline.
//
// The pipeline decides whether a detected action intent should actually fire
// this turn. It is evaluated as an ordered sequence of guards; the first
// failing guard vetoes the trigger. Guards return false for any input,
// including empty strings and empty history, and never return an error: a
// negative decision is a normal outcome, not a failure.
package guard

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/PolicyPal/internal/intent"
	"github.com/BTreeMap/PolicyPal/internal/models"
)

// MinHistoryDepth is the minimum number of prior turns before any flow may
// trigger. A flow can never start on the very first exchange.
const MinHistoryDepth = 2

// maxConfirmationQuestionLen bounds the trailing action-confirmation question
// that is exempt from the clarification guard ("...schedule that?").
const maxConfirmationQuestionLen = 50

// clarificationPhrases mark a response as asking the manager for more
// information. Maintained as a data table; extend the table for new
// phrasings rather than adding conditionals.
var clarificationPhrases = []string{
	"just to make sure",
	"just to confirm",
	"have you",
	"did you",
	"were these",
	"was this",
	"to confirm",
	"can you clarify",
	"need to know",
	"could you provide",
	"what about",
}

// actionOfferPhrases are explicit offers to perform the action. A response
// containing one is the trigger itself, not a clarifying question, and passes
// the clarification guard even when it ends in a question mark.
var actionOfferPhrases = []string{
	"would you like me to schedule",
	"would you like me to book",
	"would you like me to draft",
	"would you like me to send",
	"would you like me to set up",
	"shall i schedule",
	"shall i book",
	"shall i draft",
	"shall i send",
	"i can schedule",
	"i can book",
	"i can draft",
	"i can send",
	"want me to schedule",
	"want me to draft",
}

// actionWords qualify a short trailing question as an action confirmation.
var actionWords = []string{"schedule", "book", "draft", "send", "call", "email"}

// namedGuard is one predicate in the ordered pipeline.
type namedGuard struct {
	name string
	pass func(in input) bool
}

type input struct {
	flowType models.FlowType
	response string
	lower    string
	history  []models.ConversationTurn
	state    models.ConversationState
}

// pipeline is the ordered guard sequence. Order matters: cheaper and more
// decisive guards run first.
var pipeline = []namedGuard{
	{name: "state", pass: stateGuard},
	{name: "clarification", pass: clarificationGuard},
	{name: "depth", pass: depthGuard},
	{name: "context_gathered", pass: contextGatheredGuard},
	{name: "keyword", pass: keywordGuard},
}

// ShouldTrigger evaluates the full guard pipeline for one flow type against a
// candidate assistant response. All guards must pass for a trigger.
func ShouldTrigger(flowType models.FlowType, responseText string, history []models.ConversationTurn, state models.ConversationState) bool {
	in := input{
		flowType: flowType,
		response: responseText,
		lower:    strings.ToLower(responseText),
		history:  models.TrimHistory(history),
		state:    state,
	}
	for _, g := range pipeline {
		if !g.pass(in) {
			slog.Debug("guard: trigger vetoed", "flowType", flowType, "guard", g.name)
			return false
		}
	}
	slog.Info("guard: trigger approved", "flowType", flowType, "historyLen", len(in.history))
	return true
}

// stateGuard refuses to re-enter a flow that is already running. The other
// flow type being active passes here; the per-turn engine decides whether a
// second flow may actually start.
func stateGuard(in input) bool {
	active, ok := in.state.ActiveFlow()
	return !ok || active != in.flowType
}

// clarificationGuard vetoes responses that are themselves asking a clarifying
// question, unless the question is the action offer itself.
func clarificationGuard(in input) bool {
	if !strings.Contains(in.response, "?") {
		return true
	}
	if !containsAny(in.lower, clarificationPhrases) {
		return true
	}
	// The response reads as a clarifying question. Allow it through only if
	// it carries an explicit action offer or ends in a short
	// action-confirmation question.
	if containsAny(in.lower, actionOfferPhrases) {
		return true
	}
	return isShortActionConfirmation(in.lower)
}

// depthGuard requires at least one full prior exchange.
func depthGuard(in input) bool {
	return len(in.history) >= MinHistoryDepth
}

// contextGatheredGuard requires that the manager has replied after the
// assistant's most recent clarifying question. The scan is bounded by the
// retained history window, so cost is O(window) regardless of conversation
// lifetime.
func contextGatheredGuard(in input) bool {
	lastQuestion := -1
	for i := len(in.history) - 1; i >= 0; i-- {
		t := in.history[i]
		if t.Role == models.RoleAssistant && strings.Contains(t.Content, "?") {
			lastQuestion = i
			break
		}
	}
	if lastQuestion < 0 {
		return true // no open question, context considered gathered
	}
	for i := lastQuestion + 1; i < len(in.history); i++ {
		if in.history[i].Role == models.RoleUser {
			return true
		}
	}
	return false
}

// keywordGuard requires at least one trigger phrase for the flow type, using
// the same curated table as the lexical detector tier.
func keywordGuard(in input) bool {
	return containsAny(in.lower, intent.TriggerPhrases(in.flowType))
}

// isShortActionConfirmation reports whether the trailing question of the
// response is a short action confirmation such as "...schedule that?".
func isShortActionConfirmation(lower string) bool {
	end := strings.LastIndex(lower, "?")
	if end < 0 {
		return false
	}
	start := strings.LastIndexAny(lower[:end], ".!?\n")
	question := strings.TrimSpace(lower[start+1 : end+1])
	if len(question) == 0 || len(question) >= maxConfirmationQuestionLen {
		return false
	}
	return containsAny(question, actionWords)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
