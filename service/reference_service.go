package service

import (
	"context"
	"errors"
	"fmt"

	"ethicsprep-backend/cache"
	"ethicsprep-backend/logger"
	"ethicsprep-backend/models"
	"ethicsprep-backend/provider"
)

// ReferenceSearcher is the read interface of the reference question corpus.
type ReferenceSearcher interface {
	Search(ctx context.Context, embedding []float64, topic, difficulty string, limit int) ([]models.ReferenceQuestion, error)
}

// ReferenceService retrieves stylistically similar reference questions for a
// topic and difficulty. References are exemplars only; their answers are
// never treated as ground truth.
type ReferenceService struct {
	references ReferenceSearcher
	embedder   provider.EmbeddingProvider
	cache      *cache.EmbeddingCache
	log        *logger.Logger
}

// ReferenceServiceOption is a functional option for ReferenceService
type ReferenceServiceOption func(*ReferenceService)

// ReferenceWithRepository sets the reference question repository
func ReferenceWithRepository(repo ReferenceSearcher) ReferenceServiceOption {
	return func(s *ReferenceService) {
		s.references = repo
	}
}

// ReferenceWithEmbedder sets the embedding provider
func ReferenceWithEmbedder(embedder provider.EmbeddingProvider) ReferenceServiceOption {
	return func(s *ReferenceService) {
		s.embedder = embedder
	}
}

// ReferenceWithCache sets an optional embedding cache
func ReferenceWithCache(c *cache.EmbeddingCache) ReferenceServiceOption {
	return func(s *ReferenceService) {
		s.cache = c
	}
}

// ReferenceWithLogger sets the logger
func ReferenceWithLogger(log *logger.Logger) ReferenceServiceOption {
	return func(s *ReferenceService) {
		s.log = log
	}
}

// NewReferenceService creates a new reference question service
func NewReferenceService(opts ...ReferenceServiceOption) *ReferenceService {
	s := &ReferenceService{}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// Exemplars returns up to k reference questions similar to the topic, filtered
// by topic and difficulty. An empty result is valid.
func (s *ReferenceService) Exemplars(ctx context.Context, topic, difficulty string, k int) ([]models.ReferenceQuestion, error) {
	if s.references == nil {
		return nil, errors.New("reference question repository not set")
	}
	if s.embedder == nil {
		return nil, errors.New("embedding provider not set")
	}
	if k <= 0 {
		return nil, nil
	}

	queryText := fmt.Sprintf("[TOPIC: %s] [DIFFICULTY: %s]", topic, difficulty)

	embedding, err := s.embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	questions, err := s.references.Search(ctx, embedding, topic, difficulty, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search reference questions: %w", err)
	}

	return questions, nil
}

func (s *ReferenceService) embed(ctx context.Context, text string) ([]float64, error) {
	if s.cache != nil {
		if embedding, ok := s.cache.Get(ctx, text); ok {
			return embedding, nil
		}
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, text, embedding)
	}
	return embedding, nil
}
