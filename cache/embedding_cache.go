package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "ethicsprep:embedding:"
	defaultTTL = 24 * time.Hour
)

// EmbeddingCache caches text embeddings in Redis keyed by a hash of the
// source text. Topic queries repeat heavily across generation cells, so a
// hit saves a full embedding round-trip.
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates an embedding cache on the given Redis client.
func New(client *redis.Client) *EmbeddingCache {
	return &EmbeddingCache{client: client, ttl: defaultTTL}
}

// NewWithTTL creates an embedding cache with a custom entry TTL.
func NewWithTTL(client *redis.Client, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{client: client, ttl: ttl}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for text, or (nil, false) on a miss.
// Transport errors are treated as misses; the cache is best-effort.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float64, bool) {
	raw, err := c.client.Get(ctx, cacheKey(text)).Bytes()
	if err != nil {
		return nil, false
	}

	var embedding []float64
	if err := json.Unmarshal(raw, &embedding); err != nil {
		return nil, false
	}
	return embedding, true
}

// Set stores an embedding for text. Errors are ignored.
func (c *EmbeddingCache) Set(ctx context.Context, text string, embedding []float64) {
	raw, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(text), raw, c.ttl)
}
