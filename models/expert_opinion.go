package models

import (
	"strings"
)

// Confidence is the categorical confidence level reported by the expert
// reasoner. Levels are ordered: low < medium < high.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var confidenceRank = map[Confidence]int{
	ConfidenceLow:    1,
	ConfidenceMedium: 2,
	ConfidenceHigh:   3,
}

// ParseConfidence maps a free-form model response to a Confidence level.
// Unknown values map to low so a malformed response can never clear an
// admission threshold.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium", "med":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// AtLeast reports whether c meets or exceeds the threshold.
func (c Confidence) AtLeast(threshold Confidence) bool {
	return confidenceRank[c] >= confidenceRank[threshold]
}

// ExpertOpinion is the outcome of one independent expert pass over a question.
// It is consumed immediately by the validation pipeline; only its verdict is
// persisted, as part of the admitting question's audit record.
type ExpertOpinion struct {
	Answer     string     `json:"answer"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Citations  []string   `json:"citations,omitempty"`
}

// ExpertAnswer is the outcome of a free-form grounded legal Q&A call.
type ExpertAnswer struct {
	AnswerText string     `json:"answer_text"`
	Confidence Confidence `json:"confidence"`
	Citations  []string   `json:"citations,omitempty"`
}
