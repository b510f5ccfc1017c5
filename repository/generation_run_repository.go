package repository

import (
	"context"
	"time"

	"ethicsprep-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GenerationRunRepository handles database operations for generation runs
type GenerationRunRepository struct {
	db *pgxpool.Pool
}

// NewGenerationRunRepository creates a new generation run repository
func NewGenerationRunRepository(db *pgxpool.Pool) *GenerationRunRepository {
	return &GenerationRunRepository{db: db}
}

// Create creates a new generation run
func (r *GenerationRunRepository) Create(ctx context.Context, run *models.GenerationRun) error {
	query := `
		INSERT INTO generation_runs (
			topic, difficulty, target_count, status, steps
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		run.Topic,
		run.Difficulty,
		run.TargetCount,
		run.Status,
		run.Steps,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)

	return err
}

// GetByID retrieves a generation run by ID
func (r *GenerationRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRun, error) {
	run := &models.GenerationRun{}
	query := `
		SELECT id, topic, difficulty, target_count, generated, admitted,
			rejected, regen_rounds, status, steps, error_message,
			created_at, updated_at, completed_at
		FROM generation_runs
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.Topic,
		&run.Difficulty,
		&run.TargetCount,
		&run.Generated,
		&run.Admitted,
		&run.Rejected,
		&run.RegenRounds,
		&run.Status,
		&run.Steps,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)

	if err != nil {
		return nil, err
	}

	if run.Steps == nil {
		run.Steps = make(models.RunSteps, 0)
	}

	return run, nil
}

// UpdateStatus updates the status of a generation run
func (r *GenerationRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.GenerationRunStatus) error {
	query := `
		UPDATE generation_runs SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, status)
	return err
}

// UpdateProgress updates the step list of a generation run
func (r *GenerationRunRepository) UpdateProgress(ctx context.Context, id uuid.UUID, steps models.RunSteps) error {
	query := `
		UPDATE generation_runs SET
			steps = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, steps)
	return err
}

// UpdateCounts records the generated/admitted/rejected tallies and the number
// of regeneration rounds used so far.
func (r *GenerationRunRepository) UpdateCounts(ctx context.Context, id uuid.UUID, generated, admitted, rejected, regenRounds int) error {
	query := `
		UPDATE generation_runs SET
			generated = $2,
			admitted = $3,
			rejected = $4,
			regen_rounds = $5,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, generated, admitted, rejected, regenRounds)
	return err
}

// Complete marks a generation run as completed with the given final status.
func (r *GenerationRunRepository) Complete(ctx context.Context, id uuid.UUID, status models.GenerationRunStatus) error {
	now := time.Now()
	query := `
		UPDATE generation_runs SET
			status = $2,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, status, now)
	return err
}

// Fail marks a generation run as failed
func (r *GenerationRunRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE generation_runs SET
			status = $2,
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.RunStatusFailed, errorMessage)
	return err
}
