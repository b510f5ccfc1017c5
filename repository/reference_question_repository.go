package repository

import (
	"context"
	"fmt"
	"strings"

	"ethicsprep-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ReferenceQuestionRepository handles database operations for the reference
// question corpus. The pipeline only ever reads from it; inserts come from
// the ingest tooling.
type ReferenceQuestionRepository struct {
	db *pgxpool.Pool
}

// NewReferenceQuestionRepository creates a new reference question repository
func NewReferenceQuestionRepository(db *pgxpool.Pool) *ReferenceQuestionRepository {
	return &ReferenceQuestionRepository{db: db}
}

// Search returns the reference questions most similar to the query embedding,
// filtered by topic and difficulty when non-empty.
func (r *ReferenceQuestionRepository) Search(
	ctx context.Context,
	embedding []float64,
	topic string,
	difficulty string,
	limit int,
) ([]models.ReferenceQuestion, error) {
	if len(embedding) != 768 {
		return nil, fmt.Errorf("embedding must be 768 dimensions, got %d", len(embedding))
	}

	vectorStr := formatVector(embedding)

	conditions := []string{"1 = 1"}
	args := []interface{}{vectorStr}

	if topic != "" {
		args = append(args, topic)
		conditions = append(conditions, fmt.Sprintf("topic = $%d", len(args)))
	}
	if difficulty != "" {
		args = append(args, difficulty)
		conditions = append(conditions, fmt.Sprintf("difficulty = $%d", len(args)))
	}

	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT
			id,
			question_text,
			options,
			correct_answer,
			explanation,
			topic,
			difficulty,
			1 - (embedding <=> $1::vector) AS similarity
		FROM reference_questions
		WHERE %s
		ORDER BY embedding <=> $1::vector
		LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference questions: %w", err)
	}
	defer rows.Close()

	var questions []models.ReferenceQuestion
	for rows.Next() {
		var q models.ReferenceQuestion
		err := rows.Scan(
			&q.ID,
			&q.QuestionText,
			&q.Options,
			&q.CorrectAnswer,
			&q.Explanation,
			&q.Topic,
			&q.Difficulty,
			&q.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reference question: %w", err)
		}
		questions = append(questions, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reference questions: %w", err)
	}

	return questions, nil
}

// Insert adds a human-authored question to the reference corpus.
func (r *ReferenceQuestionRepository) Insert(ctx context.Context, q *models.ReferenceQuestion) error {
	query := `
		INSERT INTO reference_questions (
			question_text, options, correct_answer, explanation,
			topic, difficulty, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		RETURNING id`

	err := r.db.QueryRow(
		ctx, query,
		q.QuestionText,
		q.Options,
		q.CorrectAnswer,
		q.Explanation,
		q.Topic,
		q.Difficulty,
		formatVector(q.Embedding),
	).Scan(&q.ID)

	return err
}
