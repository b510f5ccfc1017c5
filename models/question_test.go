package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() Options {
	return Options{
		A: "חובת דיווח מיידי",
		B: "חובת דיווח שנתי",
		C: "אין חובת דיווח",
		D: "דיווח לפי שיקול דעת",
		E: "חובת דיווח רבעוני",
	}
}

func validCandidate() CandidateQuestion {
	return CandidateQuestion{
		QuestionText:  "מהי חובת הדיווח של חברה ציבורית על אירוע מהותי?",
		Options:       validOptions(),
		CorrectAnswer: "A",
		Explanation:   "סעיף 36 לחוק ניירות ערך קובע חובת דיווח מיידי.",
		Topic:         "חובות דיווח",
		Difficulty:    DifficultyMedium,
	}
}

func TestCandidateQuestionValidate(t *testing.T) {
	t.Run("valid candidate passes", func(t *testing.T) {
		q := validCandidate()
		require.NoError(t, q.Validate())
	})

	t.Run("empty question text fails", func(t *testing.T) {
		q := validCandidate()
		q.QuestionText = "   "
		assert.Error(t, q.Validate())
	})

	t.Run("invalid answer letter fails", func(t *testing.T) {
		q := validCandidate()
		q.CorrectAnswer = "F"
		assert.Error(t, q.Validate())
	})

	t.Run("empty explanation fails", func(t *testing.T) {
		q := validCandidate()
		q.Explanation = ""
		assert.Error(t, q.Validate())
	})

	t.Run("empty topic fails", func(t *testing.T) {
		q := validCandidate()
		q.Topic = ""
		assert.Error(t, q.Validate())
	})
}

func TestOptionsValidate(t *testing.T) {
	t.Run("five distinct options pass", func(t *testing.T) {
		require.NoError(t, validOptions().Validate())
	})

	t.Run("empty option fails", func(t *testing.T) {
		opts := validOptions()
		opts.C = ""
		err := opts.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "C")
	})

	t.Run("duplicate options fail", func(t *testing.T) {
		opts := validOptions()
		opts.E = opts.B
		err := opts.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicates")
	})

	t.Run("whitespace-only duplicate detected after trimming", func(t *testing.T) {
		opts := validOptions()
		opts.D = "  " + opts.A + "  "
		assert.Error(t, opts.Validate())
	})
}

func TestOptionsGet(t *testing.T) {
	opts := validOptions()
	assert.Equal(t, opts.B, opts.Get("b"))
	assert.Equal(t, opts.E, opts.Get(" E "))
	assert.Empty(t, opts.Get("F"))
}

func TestAnswerLabels(t *testing.T) {
	assert.True(t, IsAnswerLabel("a"))
	assert.True(t, IsAnswerLabel(" D "))
	assert.False(t, IsAnswerLabel("F"))
	assert.False(t, IsAnswerLabel(""))
	assert.Equal(t, "C", NormalizeAnswerLabel(" c "))
}
