package impl

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	dimension  int
	queryCalls int
	docCalls   int
	docTexts   [][]string
}

func (p *countingProvider) ModelID() string { return "test-model" }
func (p *countingProvider) Dimension() int  { return p.dimension }

func (p *countingProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.queryCalls++
	return p.vectorFor(text), nil
}

func (p *countingProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.docCalls++
	p.docTexts = append(p.docTexts, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

func (p *countingProvider) vectorFor(text string) []float32 {
	vec := make([]float32, p.dimension)
	for i := range vec {
		vec[i] = float32(len(text)%7) + float32(i)
	}
	return vec
}

func newTestCache(t *testing.T) (*EmbeddingCache, *countingProvider) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	provider := &countingProvider{dimension: 4}
	return NewEmbeddingCache(provider, client, 3600, true), provider
}

func TestEmbeddingCache_EmbedQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("second call hits the cache", func(t *testing.T) {
		cache, provider := newTestCache(t)

		first, err := cache.EmbedQuery(ctx, "¿cuál es el plazo de entrega?")
		require.NoError(t, err)
		second, err := cache.EmbedQuery(ctx, "¿cuál es el plazo de entrega?")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, provider.queryCalls)
	})

	t.Run("whitespace variants share a cache entry", func(t *testing.T) {
		cache, provider := newTestCache(t)

		_, err := cache.EmbedQuery(ctx, "hola  mundo")
		require.NoError(t, err)
		_, err = cache.EmbedQuery(ctx, "  hola mundo ")
		require.NoError(t, err)

		assert.Equal(t, 1, provider.queryCalls)
	})

	t.Run("empty text is rejected", func(t *testing.T) {
		cache, _ := newTestCache(t)
		_, err := cache.EmbedQuery(ctx, "   ")
		assert.Error(t, err)
	})

	t.Run("disabled cache always calls the provider", func(t *testing.T) {
		provider := &countingProvider{dimension: 4}
		cache := NewEmbeddingCache(provider, nil, 3600, false)

		_, err := cache.EmbedQuery(ctx, "sin cache")
		require.NoError(t, err)
		_, err = cache.EmbedQuery(ctx, "sin cache")
		require.NoError(t, err)
		assert.Equal(t, 2, provider.queryCalls)
	})
}

func TestEmbeddingCache_EmbedDocuments(t *testing.T) {
	ctx := context.Background()

	t.Run("batch output is positionally aligned", func(t *testing.T) {
		cache, _ := newTestCache(t)

		texts := []string{"uno", "dos largos", "tres"}
		vectors, err := cache.EmbedDocuments(ctx, texts)
		require.NoError(t, err)
		require.Len(t, vectors, 3)
		for _, v := range vectors {
			assert.Len(t, v, 4)
		}
	})

	t.Run("duplicates within a batch embed once", func(t *testing.T) {
		cache, provider := newTestCache(t)

		texts := []string{"repetido", "único", "repetido"}
		vectors, err := cache.EmbedDocuments(ctx, texts)
		require.NoError(t, err)
		require.Len(t, vectors, 3)
		assert.Equal(t, vectors[0], vectors[2])

		require.Equal(t, 1, provider.docCalls)
		assert.Len(t, provider.docTexts[0], 2)
	})

	t.Run("cached entries skip the provider on the next batch", func(t *testing.T) {
		cache, provider := newTestCache(t)

		_, err := cache.EmbedDocuments(ctx, []string{"a", "b"})
		require.NoError(t, err)
		_, err = cache.EmbedDocuments(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)

		require.Equal(t, 2, provider.docCalls)
		assert.Equal(t, []string{"c"}, provider.docTexts[1])
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		cache, _ := newTestCache(t)
		_, err := cache.EmbedDocuments(ctx, nil)
		assert.Error(t, err)
	})

	t.Run("empty element is rejected", func(t *testing.T) {
		cache, _ := newTestCache(t)
		_, err := cache.EmbedDocuments(ctx, []string{"bien", " "})
		assert.Error(t, err)
	})
}
