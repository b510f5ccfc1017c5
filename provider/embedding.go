package provider

import (
	"context"
	"fmt"
	"math"
	"time"

	"ethicsprep-backend/logger"

	"github.com/google/generative-ai-go/genai"
)

const (
	embeddingModel     = "text-embedding-004"
	embeddingDimension = 768
	maxRetries         = 3
	initialBackoff     = time.Second
	embedTimeout       = 30 * time.Second
)

// GeminiEmbedder implements EmbeddingProvider on top of the Gemini embedding
// API. Returned vectors are L2-normalized so cosine similarity can be
// computed as an inner product downstream.
type GeminiEmbedder struct {
	client *genai.Client
	log    *logger.Logger
}

// NewGeminiEmbedder creates a new embedder using the given Gemini client.
func NewGeminiEmbedder(client *genai.Client, log *logger.Logger) *GeminiEmbedder {
	return &GeminiEmbedder{
		client: client,
		log:    log.With("component", "gemini_embedder"),
	}
}

// Embed computes a 768-dimension embedding for the given text, retrying with
// exponential backoff on transient failures.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.client == nil {
		return nil, fmt.Errorf("gemini client not set")
	}

	model := e.client.EmbeddingModel(embeddingModel)
	model.TaskType = genai.TaskTypeRetrievalQuery

	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, embedTimeout)
		res, err := model.EmbedContent(callCtx, genai.Text(text))
		cancel()
		if err != nil {
			lastErr = err
			e.log.Warn("embedding attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
			lastErr = fmt.Errorf("embedding response is empty")
			continue
		}

		return normalize(toFloat64(res.Embedding.Values)), nil
	}

	return nil, &ProviderError{
		Message:   fmt.Sprintf("embedding failed after %d attempts: %v", maxRetries, lastErr),
		Retryable: true,
	}
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

func normalize(embedding []float64) []float64 {
	norm := 0.0
	for _, v := range embedding {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range embedding {
			embedding[i] /= norm
		}
	}
	return embedding
}
