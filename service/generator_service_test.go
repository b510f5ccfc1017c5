package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ethicsprep-backend/models"
	"ethicsprep-backend/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleItem = `{
	"question_text": "חברת אלמוגים בע\"מ פרסמה תשקיף. מה חובתה?",
	"options": {"A": "דיווח מיידי", "B": "דיווח שנתי", "C": "אין חובה", "D": "דיווח רבעוני", "E": "דיווח לפי דרישה"},
	"correct_answer": "a",
	"explanation": "סעיף 36 לחוק ניירות ערך.",
	"sub_topic": "תשקיפים",
	"legal_reference": "סעיף 36"
}`

func TestParseCandidates(t *testing.T) {
	t.Run("valid array", func(t *testing.T) {
		raw := "[" + sampleItem + "]"
		results := parseCandidates(raw, "חובות דיווח", models.DifficultyMedium)
		require.Len(t, results, 1)
		require.True(t, results[0].Valid())

		c := results[0].Candidate
		assert.Equal(t, "A", c.CorrectAnswer, "answer letter is normalized")
		assert.Equal(t, "חובות דיווח", c.Topic)
		assert.Equal(t, models.DifficultyMedium, c.Difficulty)
		assert.Equal(t, "תשקיפים", c.SubTopic)
	})

	t.Run("markdown fenced response", func(t *testing.T) {
		raw := "```json\n[" + sampleItem + "]\n```"
		results := parseCandidates(raw, "נושא", models.DifficultyEasy)
		require.Len(t, results, 1)
		assert.True(t, results[0].Valid())
	})

	t.Run("surrounding prose stripped", func(t *testing.T) {
		raw := "Here are the questions:\n[" + sampleItem + "]\nLet me know if you need more."
		results := parseCandidates(raw, "נושא", models.DifficultyEasy)
		require.Len(t, results, 1)
		assert.True(t, results[0].Valid())
	})

	t.Run("invalid item carries reason without dropping siblings", func(t *testing.T) {
		bad := `{"question_text": "", "options": {"A": "x", "B": "y", "C": "z", "D": "w", "E": "v"}, "correct_answer": "A", "explanation": "e"}`
		raw := "[" + sampleItem + "," + bad + "]"
		results := parseCandidates(raw, "נושא", models.DifficultyHard)
		require.Len(t, results, 2)
		assert.True(t, results[0].Valid())
		assert.False(t, results[1].Valid())
		assert.NotEmpty(t, results[1].Invalid)
	})

	t.Run("non-array response", func(t *testing.T) {
		results := parseCandidates("I cannot help with that.", "נושא", models.DifficultyEasy)
		require.Len(t, results, 1)
		assert.False(t, results[0].Valid())
	})
}

func TestExtractJSON(t *testing.T) {
	t.Run("object with nested braces in strings", func(t *testing.T) {
		raw := `prefix {"a": "text with } brace", "b": {"c": 1}} suffix`
		assert.Equal(t, `{"a": "text with } brace", "b": {"c": 1}}`, extractJSON(raw))
	})

	t.Run("escaped quotes", func(t *testing.T) {
		raw := `{"a": "he said \"hi\""}`
		assert.Equal(t, raw, extractJSON(raw))
	})

	t.Run("array", func(t *testing.T) {
		raw := "```\n[1, 2, 3]\n```"
		assert.Equal(t, "[1, 2, 3]", extractJSON(raw))
	})

	t.Run("no json returns input", func(t *testing.T) {
		assert.Equal(t, "no json here", extractJSON("no json here"))
	})
}

type fakeCompleter struct {
	response string
	err      error
	lastMode provider.Mode
	lastTemp float64
	prompts  []string
}

func (c *fakeCompleter) Complete(_ context.Context, prompt string, temperature float64, mode provider.Mode) (string, error) {
	c.prompts = append(c.prompts, prompt)
	c.lastMode = mode
	c.lastTemp = temperature
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

type fakeRetriever struct {
	chunks []models.Chunk
	err    error
}

func (r *fakeRetriever) Retrieve(_ context.Context, _ string, k int, _ RetrieveOptions) ([]models.Chunk, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.chunks) > k {
		return r.chunks[:k], nil
	}
	return r.chunks, nil
}

func TestGeneratorServiceGenerate(t *testing.T) {
	t.Run("tolerates empty context", func(t *testing.T) {
		completer := &fakeCompleter{response: "[" + sampleItem + "]"}
		g := NewGeneratorService(
			GeneratorWithCompleter(completer),
			GeneratorWithRetrieval(&fakeRetriever{}),
		)

		candidates, err := g.Generate(context.Background(), "נושא נדיר", models.DifficultyEasy, 1)
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
		assert.Equal(t, provider.ModeThinking, completer.lastMode)
	})

	t.Run("provider failure is batch-fatal", func(t *testing.T) {
		completer := &fakeCompleter{err: errors.New("quota exceeded")}
		g := NewGeneratorService(
			GeneratorWithCompleter(completer),
			GeneratorWithRetrieval(&fakeRetriever{}),
		)

		_, err := g.Generate(context.Background(), "נושא", models.DifficultyEasy, 3)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("retrieval failure is batch-fatal", func(t *testing.T) {
		g := NewGeneratorService(
			GeneratorWithCompleter(&fakeCompleter{response: "[]"}),
			GeneratorWithRetrieval(&fakeRetriever{err: errors.New("db down")}),
		)

		_, err := g.Generate(context.Background(), "נושא", models.DifficultyEasy, 3)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("malformed items are dropped not errored", func(t *testing.T) {
		bad := `{"question_text": "חסרה תשובה", "options": {"A": "a", "B": "b", "C": "c", "D": "d", "E": "e"}, "correct_answer": "X", "explanation": "y"}`
		completer := &fakeCompleter{response: "[" + sampleItem + "," + bad + "]"}
		g := NewGeneratorService(
			GeneratorWithCompleter(completer),
			GeneratorWithRetrieval(&fakeRetriever{}),
		)

		candidates, err := g.Generate(context.Background(), "נושא", models.DifficultyMedium, 2)
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
	})

	t.Run("prompt carries exemplars and count", func(t *testing.T) {
		completer := &fakeCompleter{response: "[]"}
		exemplar := models.ReferenceQuestion{
			QuestionText: "שאלת עבר לדוגמה?",
			Options:      models.Options{A: "א", B: "ב", C: "ג", D: "ד", E: "ה"},
			Topic:        "מידע פנים",
			Difficulty:   models.DifficultyHard,
		}
		g := NewGeneratorService(
			GeneratorWithCompleter(completer),
			GeneratorWithRetrieval(&fakeRetriever{}),
			GeneratorWithExemplars(stubExemplars{exemplar}),
		)

		_, err := g.Generate(context.Background(), "מידע פנים", models.DifficultyHard, 4)
		require.NoError(t, err)
		require.Len(t, completer.prompts, 1)
		assert.Contains(t, completer.prompts[0], "שאלת עבר לדוגמה?")
		assert.Contains(t, completer.prompts[0], fmt.Sprintf("exactly %d new questions", 4))
	})
}

type stubExemplars []models.ReferenceQuestion

func (s stubExemplars) Exemplars(context.Context, string, string, int) ([]models.ReferenceQuestion, error) {
	return s, nil
}
