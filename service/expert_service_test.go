package service

import (
	"context"
	"errors"
	"testing"

	"ethicsprep-backend/models"
	"ethicsprep-backend/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunks() []models.Chunk {
	return []models.Chunk{
		{DocumentName: "חוק ניירות ערך.txt", PageNumber: 12, Content: "סעיף 52 אוסר שימוש במידע פנים."},
		{DocumentName: "חוק הסדרת העיסוק.txt", Content: "חובת נאמנות ללקוח."},
	}
}

func TestExpertSolve(t *testing.T) {
	opts := models.Options{A: "אסור", B: "מותר", C: "תלוי", D: "מותר בתנאים", E: "אין הוראה"}

	t.Run("parses verdict and collects citations", func(t *testing.T) {
		completer := &fakeCompleter{response: `{"answer": "a", "confidence": "high", "reasoning": "סעיף 52"}`}
		s := NewExpertService(
			ExpertWithCompleter(completer),
			ExpertWithRetrieval(&fakeRetriever{chunks: testChunks()}),
		)

		opinion, err := s.Solve(context.Background(), "האם מותר לסחור על בסיס מידע פנים?", opts, 0)
		require.NoError(t, err)

		assert.Equal(t, "A", opinion.Answer)
		assert.Equal(t, models.ConfidenceHigh, opinion.Confidence)
		assert.Equal(t, "סעיף 52", opinion.Reasoning)
		require.Len(t, opinion.Citations, 2)
		assert.Equal(t, "חוק ניירות ערך.txt, p. 12", opinion.Citations[0])

		assert.Equal(t, provider.ModeStandard, completer.lastMode)
		assert.InDelta(t, 0.1, completer.lastTemp, 1e-9)
	})

	t.Run("prompt contains stem and options only", func(t *testing.T) {
		completer := &fakeCompleter{response: `{"answer": "B", "confidence": "low"}`}
		s := NewExpertService(
			ExpertWithCompleter(completer),
			ExpertWithRetrieval(&fakeRetriever{}),
		)

		_, err := s.Solve(context.Background(), "שאלת מבחן?", opts, 0)
		require.NoError(t, err)
		require.Len(t, completer.prompts, 1)
		assert.Contains(t, completer.prompts[0], "שאלת מבחן?")
		assert.Contains(t, completer.prompts[0], opts.D)
	})

	t.Run("non-letter answer is a reasoning failure", func(t *testing.T) {
		completer := &fakeCompleter{response: `{"answer": "none of the above", "confidence": "high"}`}
		s := NewExpertService(
			ExpertWithCompleter(completer),
			ExpertWithRetrieval(&fakeRetriever{}),
		)

		_, err := s.Solve(context.Background(), "שאלה?", opts, 0)
		var failure *ReasoningFailure
		require.ErrorAs(t, err, &failure)
	})

	t.Run("unparseable response is a reasoning failure", func(t *testing.T) {
		completer := &fakeCompleter{response: "I think the answer is probably A."}
		s := NewExpertService(
			ExpertWithCompleter(completer),
			ExpertWithRetrieval(&fakeRetriever{}),
		)

		_, err := s.Solve(context.Background(), "שאלה?", opts, 0)
		var failure *ReasoningFailure
		require.ErrorAs(t, err, &failure)
	})

	t.Run("retrieval failure is a reasoning failure", func(t *testing.T) {
		s := NewExpertService(
			ExpertWithCompleter(&fakeCompleter{response: "{}"}),
			ExpertWithRetrieval(&fakeRetriever{err: errors.New("db down")}),
		)

		_, err := s.Solve(context.Background(), "שאלה?", opts, 0)
		var failure *ReasoningFailure
		require.ErrorAs(t, err, &failure)
	})
}

func TestExpertAnswer(t *testing.T) {
	t.Run("parses grounded answer", func(t *testing.T) {
		completer := &fakeCompleter{response: `{"answer_text": "אסור על פי סעיף 52.", "confidence": "medium", "citations": ["חוק ניירות ערך"]}`}
		s := NewExpertService(
			ExpertWithCompleter(completer),
			ExpertWithRetrieval(&fakeRetriever{chunks: testChunks()}),
		)

		answer, err := s.Answer(context.Background(), "האם מותר לסחור על בסיס מידע פנים?", 0)
		require.NoError(t, err)
		assert.Equal(t, "אסור על פי סעיף 52.", answer.AnswerText)
		assert.Equal(t, models.ConfidenceMedium, answer.Confidence)
		assert.Equal(t, []string{"חוק ניירות ערך"}, answer.Citations)
	})

	t.Run("empty answer text is a reasoning failure", func(t *testing.T) {
		completer := &fakeCompleter{response: `{"answer_text": "  ", "confidence": "high"}`}
		s := NewExpertService(
			ExpertWithCompleter(completer),
			ExpertWithRetrieval(&fakeRetriever{}),
		)

		_, err := s.Answer(context.Background(), "שאלה?", 0)
		var failure *ReasoningFailure
		require.ErrorAs(t, err, &failure)
	})
}
