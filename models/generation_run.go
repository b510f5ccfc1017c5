package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenerationRunStatus represents the status of a generation run
type GenerationRunStatus string

const (
	RunStatusPending    GenerationRunStatus = "pending"
	RunStatusInProgress GenerationRunStatus = "in_progress"
	RunStatusCompleted  GenerationRunStatus = "completed"
	// RunStatusShortfall marks a run that finished with fewer admitted
	// questions than targeted after the bounded regeneration round.
	RunStatusShortfall GenerationRunStatus = "completed_with_shortfall"
	RunStatusFailed    GenerationRunStatus = "failed"
)

// RunStep represents a step in the generation run, for client progress polling
type RunStep struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pending", "in_progress", "completed", "failed"
}

// RunSteps represents a list of run steps
type RunSteps []RunStep

// Value implements driver.Valuer for JSONB
func (s RunSteps) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB
func (s *RunSteps) Scan(value interface{}) error {
	if value == nil {
		*s = make(RunSteps, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = make(RunSteps, 0)
		return nil
	}

	if len(bytes) == 0 {
		*s = make(RunSteps, 0)
		return nil
	}

	return json.Unmarshal(bytes, s)
}

// GenerationRun tracks one generate-and-validate cycle for a single
// (topic, difficulty) cell.
type GenerationRun struct {
	ID           uuid.UUID           `json:"id"`
	Topic        string              `json:"topic"`
	Difficulty   string              `json:"difficulty"`
	TargetCount  int                 `json:"target_count"`
	Generated    int                 `json:"generated"`
	Admitted     int                 `json:"admitted"`
	Rejected     int                 `json:"rejected"`
	RegenRounds  int                 `json:"regen_rounds"`
	Status       GenerationRunStatus `json:"status"`
	Steps        RunSteps            `json:"steps"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}
