package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*EmbeddingCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	embedding := []float64{0.1, -0.2, 0.3}
	c.Set(ctx, "מהי חובת הדיווח?", embedding)

	got, ok := c.Get(ctx, "מהי חובת הדיווח?")
	require.True(t, ok)
	assert.Equal(t, embedding, got)
}

func TestEmbeddingCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)

	got, ok := c.Get(context.Background(), "טקסט שלא נשמר")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestEmbeddingCacheKeysDifferByText(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "שאילתה א", []float64{1})
	c.Set(ctx, "שאילתה ב", []float64{2})

	a, ok := c.Get(ctx, "שאילתה א")
	require.True(t, ok)
	b, ok := c.Get(ctx, "שאילתה ב")
	require.True(t, ok)
	assert.NotEqual(t, a, b)
}

func TestEmbeddingCacheExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := NewWithTTL(client, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "שאילתה", []float64{0.5})
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, "שאילתה")
	assert.False(t, ok)
}

func TestEmbeddingCacheSurvivesUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := New(client)
	mr.Close()

	ctx := context.Background()
	c.Set(ctx, "שאילתה", []float64{1})
	_, ok := c.Get(ctx, "שאילתה")
	assert.False(t, ok)
}
