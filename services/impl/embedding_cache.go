package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

const (
	// embeddingCacheKeyPrefix namespaces all embedding cache entries.
	embeddingCacheKeyPrefix = "emb"

	// normalizationVersion is part of every cache key; bump it whenever
	// normalizeForKey changes so stale entries cannot leak across versions.
	normalizationVersion = "v1"

	taskTypeQuery    = "retrieval_query"
	taskTypeDocument = "retrieval_document"
)

// EmbeddingCache wraps an EmbeddingProvider with cache-aside semantics.
// Cache failures never fail the call; the provider is consulted and the
// miss is logged. Keys are namespaced by model id and task type so no
// answer leaks across providers, models or query/document spaces.
type EmbeddingCache struct {
	provider services.EmbeddingProvider
	redis    *redis.Client
	ttl      time.Duration
	enabled  bool
}

func NewEmbeddingCache(provider services.EmbeddingProvider, redisClient *redis.Client, ttlSeconds int, enabled bool) *EmbeddingCache {
	return &EmbeddingCache{
		provider: provider,
		redis:    redisClient,
		ttl:      time.Duration(ttlSeconds) * time.Second,
		enabled:  enabled && redisClient != nil,
	}
}

func (c *EmbeddingCache) ModelID() string {
	return c.provider.ModelID()
}

func (c *EmbeddingCache) Dimension() int {
	return c.provider.Dimension()
}

// EmbedQuery embeds a single query string, consulting the cache first.
func (c *EmbeddingCache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.NewEmbeddingError("cannot embed empty text", nil)
	}

	key := c.cacheKey(taskTypeQuery, text)
	if cached := c.get(ctx, key); cached != nil {
		return cached, nil
	}

	vec, err := c.provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != c.provider.Dimension() {
		return nil, models.NewEmbeddingError(
			fmt.Sprintf("provider returned dimension %d, expected %d", len(vec), c.provider.Dimension()), nil)
	}

	c.set(ctx, key, vec)
	return vec, nil
}

// EmbedDocuments embeds a batch with intra-batch dedup: the provider is
// called only for unique cache misses, and every returned vector is
// replicated to each original position, preserving 1:1 ordering with the
// input.
func (c *EmbeddingCache) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, models.NewEmbeddingError("cannot embed empty batch", nil)
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, models.NewEmbeddingError(fmt.Sprintf("cannot embed empty text at position %d", i), nil)
		}
		keys[i] = c.cacheKey(taskTypeDocument, t)
	}

	out := make([][]float32, len(texts))

	// Probe cache for everything, then dedup the misses by key.
	missTexts := make([]string, 0, len(texts))
	missKeys := make([]string, 0, len(texts))
	missSeen := make(map[string]struct{})
	for i, key := range keys {
		if cached := c.get(ctx, key); cached != nil {
			out[i] = cached
			continue
		}
		if _, dup := missSeen[key]; !dup {
			missSeen[key] = struct{}{}
			missTexts = append(missTexts, texts[i])
			missKeys = append(missKeys, key)
		}
	}

	if len(missTexts) > 0 {
		vectors, err := c.provider.EmbedDocuments(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(missTexts) {
			return nil, models.NewEmbeddingError(
				fmt.Sprintf("provider returned %d vectors for %d texts", len(vectors), len(missTexts)), nil)
		}

		byKey := make(map[string][]float32, len(vectors))
		for i, vec := range vectors {
			if len(vec) != c.provider.Dimension() {
				return nil, models.NewEmbeddingError(
					fmt.Sprintf("provider returned dimension %d, expected %d", len(vec), c.provider.Dimension()), nil)
			}
			byKey[missKeys[i]] = vec
			c.set(ctx, missKeys[i], vec)
		}

		for i, key := range keys {
			if out[i] == nil {
				out[i] = byKey[key]
			}
		}
	}

	return out, nil
}

// cacheKey derives the stable key: prefix, normalization version, model,
// task type and the hash of the normalized text.
func (c *EmbeddingCache) cacheKey(taskType, text string) string {
	sum := sha256.Sum256([]byte(normalizeForKey(text)))
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		embeddingCacheKeyPrefix,
		normalizationVersion,
		c.provider.ModelID(),
		taskType,
		hex.EncodeToString(sum[:16]),
	)
}

// normalizeForKey v1: trim and collapse internal whitespace runs to one
// space.
func normalizeForKey(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func (c *EmbeddingCache) get(ctx context.Context, key string) []float32 {
	if !c.enabled {
		return nil
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("embedding cache get failed for %s: %v", key, err)
		}
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		log.Printf("embedding cache entry corrupt, dropping %s: %v", key, err)
		c.redis.Del(ctx, key)
		return nil
	}
	if len(vec) != c.provider.Dimension() {
		c.redis.Del(ctx, key)
		return nil
	}
	return vec
}

func (c *EmbeddingCache) set(ctx context.Context, key string, vec []float32) {
	if !c.enabled {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		log.Printf("embedding cache marshal failed for %s: %v", key, err)
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("embedding cache set failed for %s: %v", key, err)
	}
}
