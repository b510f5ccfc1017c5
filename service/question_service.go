package service

import (
	"context"
	"errors"
	"fmt"

	"ethicsprep-backend/logger"
	"ethicsprep-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrQuestionNotFound = errors.New("question not found")
)

// QuestionReader is the read interface of the admitted question bank.
type QuestionReader interface {
	CountByCell(ctx context.Context, topic, difficulty string) (int, error)
	ListByCell(ctx context.Context, topic, difficulty string, limit int) ([]models.AdmittedQuestion, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AdmittedQuestion, error)
}

// QuestionService is the read surface over the admitted question bank. All
// writes go through the pipeline.
type QuestionService struct {
	questions QuestionReader
	log       *logger.Logger
}

// QuestionServiceOption is a functional option for QuestionService
type QuestionServiceOption func(*QuestionService)

// QuestionWithRepository sets the question repository
func QuestionWithRepository(repo QuestionReader) QuestionServiceOption {
	return func(s *QuestionService) {
		s.questions = repo
	}
}

// QuestionWithLogger sets the logger
func QuestionWithLogger(log *logger.Logger) QuestionServiceOption {
	return func(s *QuestionService) {
		s.log = log
	}
}

// NewQuestionService creates a new question service
func NewQuestionService(opts ...QuestionServiceOption) *QuestionService {
	s := &QuestionService{}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// CellCount returns how many active questions a (topic, difficulty) cell holds.
func (s *QuestionService) CellCount(ctx context.Context, topic, difficulty string) (int, error) {
	if s.questions == nil {
		return 0, errors.New("question repository not set")
	}
	return s.questions.CountByCell(ctx, topic, difficulty)
}

// ListAdmitted returns up to limit active questions in a cell, newest first.
func (s *QuestionService) ListAdmitted(ctx context.Context, topic, difficulty string, limit int) ([]models.AdmittedQuestion, error) {
	if s.questions == nil {
		return nil, errors.New("question repository not set")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.questions.ListByCell(ctx, topic, difficulty, limit)
}

// Get retrieves one question by id.
func (s *QuestionService) Get(ctx context.Context, id uuid.UUID) (*models.AdmittedQuestion, error) {
	if s.questions == nil {
		return nil, errors.New("question repository not set")
	}
	q, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}
