package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// OptionLabels are the canonical answer labels, in display order.
var OptionLabels = []string{"A", "B", "C", "D", "E"}

// Options holds the five answer choices of a multiple-choice question
// under their canonical A-E keys.
type Options struct {
	A string `json:"A"`
	B string `json:"B"`
	C string `json:"C"`
	D string `json:"D"`
	E string `json:"E"`
}

// Get returns the option text for a label, or "" for an unknown label.
func (o Options) Get(label string) string {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "A":
		return o.A
	case "B":
		return o.B
	case "C":
		return o.C
	case "D":
		return o.D
	case "E":
		return o.E
	}
	return ""
}

// Texts returns the option texts in label order.
func (o Options) Texts() []string {
	return []string{o.A, o.B, o.C, o.D, o.E}
}

// Validate checks that all five options are present, non-empty and distinct.
func (o Options) Validate() error {
	seen := make(map[string]string, 5)
	for _, label := range OptionLabels {
		text := strings.TrimSpace(o.Get(label))
		if text == "" {
			return fmt.Errorf("option %s is empty", label)
		}
		if prev, ok := seen[text]; ok {
			return fmt.Errorf("options %s and %s are duplicates", prev, label)
		}
		seen[text] = label
	}
	return nil
}

// Value implements driver.Valuer for JSONB
func (o Options) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// Scan implements sql.Scanner for JSONB
func (o *Options) Scan(value interface{}) error {
	if value == nil {
		*o = Options{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*o = Options{}
		return nil
	}

	if len(bytes) == 0 {
		*o = Options{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// IsAnswerLabel reports whether s is one of the canonical labels A-E.
func IsAnswerLabel(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "B", "C", "D", "E":
		return true
	}
	return false
}

// NormalizeAnswerLabel upper-cases and trims an answer letter.
func NormalizeAnswerLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
