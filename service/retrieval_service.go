package service

import (
	"context"
	"errors"
	"fmt"

	"ethicsprep-backend/cache"
	"ethicsprep-backend/logger"
	"ethicsprep-backend/models"
	"ethicsprep-backend/provider"
	"ethicsprep-backend/repository"

	"github.com/google/uuid"
)

// DefaultMinSimilarity is the cosine-similarity floor below which retrieved
// chunks are dropped. Callers may override it per query.
const DefaultMinSimilarity = 0.35

// ChunkSearcher is the read interface of the chunk corpus.
type ChunkSearcher interface {
	Search(ctx context.Context, embedding []float64, limit int, opts repository.ChunkSearchOptions) ([]models.Chunk, error)
}

// RetrievalService answers similarity queries over the legal document corpus.
// It is read-only and returns an empty result, not an error, when nothing
// clears the similarity floor.
type RetrievalService struct {
	chunks   ChunkSearcher
	embedder provider.EmbeddingProvider
	cache    *cache.EmbeddingCache
	log      *logger.Logger
}

// RetrievalServiceOption is a functional option for RetrievalService
type RetrievalServiceOption func(*RetrievalService)

// RetrievalWithChunkRepository sets the chunk repository
func RetrievalWithChunkRepository(repo ChunkSearcher) RetrievalServiceOption {
	return func(s *RetrievalService) {
		s.chunks = repo
	}
}

// RetrievalWithEmbedder sets the embedding provider
func RetrievalWithEmbedder(embedder provider.EmbeddingProvider) RetrievalServiceOption {
	return func(s *RetrievalService) {
		s.embedder = embedder
	}
}

// RetrievalWithCache sets an optional embedding cache
func RetrievalWithCache(c *cache.EmbeddingCache) RetrievalServiceOption {
	return func(s *RetrievalService) {
		s.cache = c
	}
}

// RetrievalWithLogger sets the logger
func RetrievalWithLogger(log *logger.Logger) RetrievalServiceOption {
	return func(s *RetrievalService) {
		s.log = log
	}
}

// NewRetrievalService creates a new retrieval service
func NewRetrievalService(opts ...RetrievalServiceOption) *RetrievalService {
	s := &RetrievalService{}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// RetrieveOptions narrows a retrieval query.
type RetrieveOptions struct {
	// MinSimilarity overrides the default similarity floor. Negative
	// disables the floor entirely.
	MinSimilarity *float64
	// Documents restricts retrieval to the named source documents.
	Documents []string
}

// Retrieve returns the top-k most relevant chunks for the query, most-similar
// first, with duplicate ids removed. An empty result is a valid outcome.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, k int, opts RetrieveOptions) ([]models.Chunk, error) {
	if s.chunks == nil {
		return nil, errors.New("chunk repository not set")
	}
	if s.embedder == nil {
		return nil, errors.New("embedding provider not set")
	}
	if k <= 0 {
		return nil, nil
	}

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	floor := DefaultMinSimilarity
	if opts.MinSimilarity != nil {
		floor = *opts.MinSimilarity
		if floor < 0 {
			// Cosine similarity never drops below -1, so this admits
			// every neighbor.
			floor = -1
		}
	}

	chunks, err := s.chunks.Search(ctx, embedding, k, repository.ChunkSearchOptions{
		MinSimilarity: floor,
		Documents:     opts.Documents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	return dedupeChunks(chunks, k), nil
}

// embed resolves the query embedding through the cache when one is configured.
func (s *RetrievalService) embed(ctx context.Context, text string) ([]float64, error) {
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

func dedupeChunks(chunks []models.Chunk, k int) []models.Chunk {
	seen := make(map[uuid.UUID]bool, len(chunks))
	out := make([]models.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if seen[chunk.ID] {
			continue
		}
		seen[chunk.ID] = true
		out = append(out, chunk)
		if len(out) == k {
			break
		}
	}
	return out
}
