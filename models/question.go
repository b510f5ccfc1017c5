package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Difficulty levels for exam questions
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// QuestionStyle distinguishes scenario questions from definition questions
const (
	StyleScenario   = "scenario"
	StyleDefinition = "definition"
)

// ReferenceQuestion is a previously-validated exam question used purely as a
// style exemplar for generation. The reference corpus is never mutated by the
// pipeline and is not a source of ground truth.
type ReferenceQuestion struct {
	ID            uuid.UUID `json:"id"`
	QuestionText  string    `json:"question_text"`
	Options       Options   `json:"options"`
	CorrectAnswer string    `json:"correct_answer"`
	Explanation   string    `json:"explanation"`
	Topic         string    `json:"topic"`
	Difficulty    string    `json:"difficulty"`
	Embedding     []float64 `json:"-"`
	Similarity    float64   `json:"similarity,omitempty"`
}

// CandidateQuestion is a generated, not-yet-validated question. It exists only
// in memory for the duration of one generation+validation cycle.
type CandidateQuestion struct {
	QuestionText   string  `json:"question_text"`
	Options        Options `json:"options"`
	CorrectAnswer  string  `json:"correct_answer"`
	Explanation    string  `json:"explanation"`
	Topic          string  `json:"topic"`
	SubTopic       string  `json:"sub_topic,omitempty"`
	Difficulty     string  `json:"difficulty"`
	LegalReference string  `json:"legal_reference,omitempty"`
}

// Validate checks the structural invariants of a candidate: five distinct
// non-empty options A-E, a valid answer letter, and non-empty text fields.
// It returns a human-readable reason on failure.
func (q *CandidateQuestion) Validate() error {
	if strings.TrimSpace(q.QuestionText) == "" {
		return fmt.Errorf("question text is empty")
	}
	if err := q.Options.Validate(); err != nil {
		return err
	}
	if !IsAnswerLabel(q.CorrectAnswer) {
		return fmt.Errorf("correct_answer %q is not one of A-E", q.CorrectAnswer)
	}
	if strings.TrimSpace(q.Explanation) == "" {
		return fmt.Errorf("explanation is empty")
	}
	if strings.TrimSpace(q.Topic) == "" {
		return fmt.Errorf("topic is empty")
	}
	return nil
}

// ExpertValidationData is the audit record of the expert opinion that admitted
// a question. It is stored as JSONB alongside the question row.
type ExpertValidationData struct {
	ExpertAnswer string    `json:"expert_answer"`
	Confidence   string    `json:"confidence"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Citations    []string  `json:"citations,omitempty"`
	Model        string    `json:"model,omitempty"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// Value implements driver.Valuer for JSONB
func (d ExpertValidationData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB
func (d *ExpertValidationData) Scan(value interface{}) error {
	if value == nil {
		*d = ExpertValidationData{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*d = ExpertValidationData{}
		return nil
	}

	if len(bytes) == 0 {
		*d = ExpertValidationData{}
		return nil
	}

	return json.Unmarshal(bytes, d)
}

// AdmittedQuestion is a candidate that passed independent expert verification
// and was persisted to the question bank. Rows are insert-only from the
// pipeline's perspective; quality counters are owned by the exam-taking flows.
type AdmittedQuestion struct {
	ID                   uuid.UUID            `json:"id"`
	QuestionText         string               `json:"question_text"`
	Options              Options              `json:"options"`
	CorrectAnswer        string               `json:"correct_answer"`
	Explanation          string               `json:"explanation"`
	Topic                string               `json:"topic"`
	SubTopic             *string              `json:"sub_topic,omitempty"`
	Difficulty           string               `json:"difficulty"`
	LegalReference       *string              `json:"legal_reference,omitempty"`
	IsActive             bool                 `json:"is_active"`
	ExpertValidated      bool                 `json:"expert_validated"`
	ExpertValidationData ExpertValidationData `json:"expert_validation_data"`
	QualityScore         *float64             `json:"quality_score,omitempty"`
	TimesShown           int                  `json:"times_shown"`
	TimesCorrect         int                  `json:"times_correct"`
	TimesWrong           int                  `json:"times_wrong"`
	CreatedAt            time.Time            `json:"created_at"`
}
