// Package intent provides the model-assisted classification tier.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

// classificationTimeout bounds the model tier; classification should be fast
// and a timeout degrades to the lexical result upstream.
const classificationTimeout = 10 * time.Second

// ChatCompleter is the minimal LLM surface the model tier needs. The genai
// package provides the production implementation.
type ChatCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SemanticDetector classifies ambiguous phrasing with a model call. It is the
// slower tier and is only consulted when the lexical tier cannot reach high
// confidence.
type SemanticDetector struct {
	flowType models.FlowType
	llm      ChatCompleter
}

// NewSemanticDetector creates the model tier for a flow type.
func NewSemanticDetector(flowType models.FlowType, llm ChatCompleter) *SemanticDetector {
	return &SemanticDetector{flowType: flowType, llm: llm}
}

const calendarClassifierPrompt = `You decide whether an HR assistant's reply to a manager recommends that the MANAGER schedule or make a phone call to an employee, such that the system should offer to book that call now.

Answer no when the reply:
- refers to a call that already happened ("since you already called them")
- asks whether the manager has tried calling ("Have you tried calling them yet?")
- tells the manager to wait or not to call ("Don't call until...", "Wait before calling...")
- expects the EMPLOYEE to contact the manager
- only mentions calls as general policy background with no recommendation

Answer yes when the reply recommends the manager call, including soft recommendations ("it would be good to connect with them by phone") and conditional or sequenced ones ("after documenting this, call them").

Reply with raw JSON only: {"should_trigger": bool, "confidence": "low"|"medium"|"high", "reasoning": "<one sentence>"}`

const emailClassifierPrompt = `You decide whether an HR assistant's reply to a manager recommends that the MANAGER send written communication (email) to an employee, such that the system should offer to draft that email now.

Answer no when the reply:
- refers to an email that was already sent
- asks whether the manager has already emailed the employee
- tells the manager to wait or not to email yet
- expects the EMPLOYEE to write to the manager
- only mentions written notices as general policy background with no recommendation

Answer yes when the reply recommends the manager send an email, including soft recommendations ("it may help to follow up in writing") and conditional or sequenced ones ("once the call is done, send a summary email").

Reply with raw JSON only: {"should_trigger": bool, "confidence": "low"|"medium"|"high", "reasoning": "<one sentence>"}`

// classifierVerdict mirrors the JSON schema the prompts request.
type classifierVerdict struct {
	ShouldTrigger bool   `json:"should_trigger"`
	Confidence    string `json:"confidence"`
	Reasoning     string `json:"reasoning"`
}

// Detect classifies responseText with a bounded model call.
func (d *SemanticDetector) Detect(ctx context.Context, responseText string) (models.IntentDetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()

	system := calendarClassifierPrompt
	if d.flowType == models.FlowTypeEmail {
		system = emailClassifierPrompt
	}

	start := time.Now()
	raw, err := d.llm.Complete(ctx, system, responseText)
	latency := time.Since(start)
	if err != nil {
		slog.Error("intent: model classification failed", "flowType", d.flowType, "error", err, "latency", latency)
		return models.IntentDetectionResult{}, fmt.Errorf("model classification failed: %w", err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		slog.Error("intent: model returned unparseable verdict", "flowType", d.flowType, "raw", raw, "error", err)
		return models.IntentDetectionResult{}, fmt.Errorf("unparseable classification: %w", err)
	}

	result := models.IntentDetectionResult{
		ShouldTrigger: verdict.ShouldTrigger,
		Confidence:    normalizeConfidence(verdict.Confidence),
		Reasoning:     verdict.Reasoning,
		Method:        models.MethodModel,
		Latency:       latency,
	}
	slog.Debug("intent: model detection",
		"flowType", d.flowType,
		"shouldTrigger", result.ShouldTrigger,
		"confidence", result.Confidence,
		"latency", latency)
	return result, nil
}

// parseVerdict tolerates code fences and surrounding prose around the JSON
// object; models occasionally add both despite instructions.
func parseVerdict(raw string) (classifierVerdict, error) {
	var v classifierVerdict
	trimmed := strings.TrimSpace(raw)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return v, err
	}
	return v, nil
}

func normalizeConfidence(c string) models.Confidence {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "high":
		return models.ConfidenceHigh
	case "medium":
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
