package repository

import (
	"context"
	"fmt"

	"ethicsprep-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuestionRepository handles database operations for the permanent question
// bank. The pipeline only ever inserts; it never mutates existing rows.
type QuestionRepository struct {
	db *pgxpool.Pool
}

// NewQuestionRepository creates a new question repository
func NewQuestionRepository(db *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Insert persists a single admitted question.
func (r *QuestionRepository) Insert(ctx context.Context, q *models.AdmittedQuestion) error {
	query := `
		INSERT INTO questions (
			question_text, options, correct_answer, explanation,
			topic, sub_topic, difficulty, legal_reference,
			is_active, expert_validated, expert_validation_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		q.QuestionText,
		q.Options,
		q.CorrectAnswer,
		q.Explanation,
		q.Topic,
		q.SubTopic,
		q.Difficulty,
		q.LegalReference,
		q.IsActive,
		q.ExpertValidated,
		q.ExpertValidationData,
	).Scan(&q.ID, &q.CreatedAt)

	return err
}

// InsertBatch persists admitted questions inside one transaction so a partial
// write never leaves the batch half-visible.
func (r *QuestionRepository) InsertBatch(ctx context.Context, questions []*models.AdmittedQuestion) error {
	if len(questions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO questions (
			question_text, options, correct_answer, explanation,
			topic, sub_topic, difficulty, legal_reference,
			is_active, expert_validated, expert_validation_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	for _, q := range questions {
		err := tx.QueryRow(
			ctx, query,
			q.QuestionText,
			q.Options,
			q.CorrectAnswer,
			q.Explanation,
			q.Topic,
			q.SubTopic,
			q.Difficulty,
			q.LegalReference,
			q.IsActive,
			q.ExpertValidated,
			q.ExpertValidationData,
		).Scan(&q.ID, &q.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert question: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// CountByCell returns the number of active admitted questions for a
// (topic, difficulty) cell.
func (r *QuestionRepository) CountByCell(ctx context.Context, topic, difficulty string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM questions
		WHERE topic = $1 AND difficulty = $2 AND is_active = true`

	err := r.db.QueryRow(ctx, query, topic, difficulty).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return count, nil
}

// ListByCell returns admitted questions for a (topic, difficulty) cell,
// newest first.
func (r *QuestionRepository) ListByCell(ctx context.Context, topic, difficulty string, limit int) ([]models.AdmittedQuestion, error) {
	query := `
		SELECT id, question_text, options, correct_answer, explanation,
			topic, sub_topic, difficulty, legal_reference,
			is_active, expert_validated, expert_validation_data,
			quality_score, times_shown, times_correct, times_wrong, created_at
		FROM questions
		WHERE topic = $1 AND difficulty = $2 AND is_active = true
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, topic, difficulty, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []models.AdmittedQuestion
	for rows.Next() {
		var q models.AdmittedQuestion
		err := rows.Scan(
			&q.ID,
			&q.QuestionText,
			&q.Options,
			&q.CorrectAnswer,
			&q.Explanation,
			&q.Topic,
			&q.SubTopic,
			&q.Difficulty,
			&q.LegalReference,
			&q.IsActive,
			&q.ExpertValidated,
			&q.ExpertValidationData,
			&q.QualityScore,
			&q.TimesShown,
			&q.TimesCorrect,
			&q.TimesWrong,
			&q.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}

	return questions, nil
}

// GetByID retrieves one admitted question.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AdmittedQuestion, error) {
	q := &models.AdmittedQuestion{}
	query := `
		SELECT id, question_text, options, correct_answer, explanation,
			topic, sub_topic, difficulty, legal_reference,
			is_active, expert_validated, expert_validation_data,
			quality_score, times_shown, times_correct, times_wrong, created_at
		FROM questions
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&q.ID,
		&q.QuestionText,
		&q.Options,
		&q.CorrectAnswer,
		&q.Explanation,
		&q.Topic,
		&q.SubTopic,
		&q.Difficulty,
		&q.LegalReference,
		&q.IsActive,
		&q.ExpertValidated,
		&q.ExpertValidationData,
		&q.QualityScore,
		&q.TimesShown,
		&q.TimesCorrect,
		&q.TimesWrong,
		&q.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return q, nil
}
