// Package models defines intent classification structures for PolicyPal.
package models

import "time"

// Confidence expresses how certain a detector is about its decision.
type Confidence string

// Confidence level constants.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// DetectionMethod identifies which classifier tier produced a result.
type DetectionMethod string

// Detection method constants.
const (
	MethodHeuristic DetectionMethod = "heuristic"
	MethodModel     DetectionMethod = "model"
)

// IntentDetectionResult is the outcome of classifying one assistant response
// for one intent type. Results are consumed immediately by the trigger guard
// and never persisted.
type IntentDetectionResult struct {
	ShouldTrigger bool            `json:"should_trigger"`
	Confidence    Confidence      `json:"confidence"`
	Reasoning     string          `json:"reasoning,omitempty"`
	Method        DetectionMethod `json:"method"`
	Latency       time.Duration   `json:"latency"`
}
