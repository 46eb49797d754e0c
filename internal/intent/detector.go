// Package intent provides the detector tiers and their composition.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

// Detector classifies one assistant response for one intent type. Detectors
// never return an error for ordinary negative decisions; errors are reserved
// for collaborator failures in the model tier.
type Detector interface {
	Detect(ctx context.Context, responseText string) (models.IntentDetectionResult, error)
}

// KeywordDetector is the fast, deterministic lexical tier. It matches the
// curated phrase table for its flow type and vetoes matches that carry a
// disqualifying pattern (past tense, negation, employee-to-manager direction,
// questions about past action).
type KeywordDetector struct {
	flowType models.FlowType
	phrases  []string
	cues     []string
}

// NewKeywordDetector creates the lexical tier for a flow type.
func NewKeywordDetector(flowType models.FlowType) *KeywordDetector {
	return &KeywordDetector{
		flowType: flowType,
		phrases:  TriggerPhrases(flowType),
		cues:     softCues(flowType),
	}
}

// Detect classifies responseText lexically. Ambiguous results (soft cue with
// no hard phrase, or a hard phrase alongside a disqualifier) are reported at
// medium or low confidence so the tiered detector can escalate.
func (d *KeywordDetector) Detect(ctx context.Context, responseText string) (models.IntentDetectionResult, error) {
	start := time.Now()
	lower := strings.ToLower(responseText)

	matched := containsAny(lower, d.phrases)
	disqualified, pattern := firstMatch(lower, disqualifierPatterns)
	softCue := containsAny(lower, d.cues)

	result := models.IntentDetectionResult{Method: models.MethodHeuristic}
	switch {
	case matched && !disqualified:
		result.ShouldTrigger = true
		result.Confidence = models.ConfidenceHigh
		result.Reasoning = "trigger phrase present with no disqualifying pattern"
	case matched && disqualified:
		result.ShouldTrigger = false
		result.Confidence = models.ConfidenceMedium
		result.Reasoning = fmt.Sprintf("trigger phrase vetoed by disqualifier %q", pattern)
	case softCue && !disqualified:
		result.ShouldTrigger = false
		result.Confidence = models.ConfidenceLow
		result.Reasoning = "soft recommendation cue only; lexical tier cannot resolve"
	default:
		result.ShouldTrigger = false
		result.Confidence = models.ConfidenceHigh
		result.Reasoning = "no trigger phrase or actionable cue"
	}
	result.Latency = time.Since(start)

	slog.Debug("intent: lexical detection",
		"flowType", d.flowType,
		"shouldTrigger", result.ShouldTrigger,
		"confidence", result.Confidence,
		"reasoning", result.Reasoning)
	return result, nil
}

// Ambiguous reports whether a lexical result should escalate to the model
// tier: the lexical tier could not reach high confidence on its own.
func Ambiguous(r models.IntentDetectionResult) bool {
	return r.Method == models.MethodHeuristic && r.Confidence != models.ConfidenceHigh
}

// TieredDetector composes the lexical tier with an optional model tier. The
// model tier is consulted only for ambiguous lexical results; a nil model
// tier degrades to lexical-only detection.
type TieredDetector struct {
	flowType models.FlowType
	lexical  *KeywordDetector
	semantic Detector
}

// NewTieredDetector creates a detector for a flow type. semantic may be nil.
func NewTieredDetector(flowType models.FlowType, semantic Detector) *TieredDetector {
	return &TieredDetector{
		flowType: flowType,
		lexical:  NewKeywordDetector(flowType),
		semantic: semantic,
	}
}

// Detect runs the lexical tier and escalates ambiguous results to the model
// tier. A model-tier failure falls back to the lexical result rather than
// propagating: detection must degrade, never crash a turn.
func (t *TieredDetector) Detect(ctx context.Context, responseText string) (models.IntentDetectionResult, error) {
	lexResult, _ := t.lexical.Detect(ctx, responseText)
	if !Ambiguous(lexResult) || t.semantic == nil {
		return lexResult, nil
	}

	slog.Debug("intent: escalating to model tier", "flowType", t.flowType, "lexicalReasoning", lexResult.Reasoning)
	modelResult, err := t.semantic.Detect(ctx, responseText)
	if err != nil {
		slog.Warn("intent: model tier failed, using lexical result", "flowType", t.flowType, "error", err)
		return lexResult, nil
	}
	return modelResult, nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func firstMatch(haystack string, needles []string) (bool, string) {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true, n
		}
	}
	return false, ""
}
