package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/lexica/internal/model"
)

// AnswerCacheConfig configures the answer cache.
type AnswerCacheConfig struct {
	Enabled   bool
	TTL       time.Duration
	KeyPrefix string
}

// AnswerCache caches generated answers in Redis. The cache key covers the
// user, the question, the document filter and topK, so a cached answer can
// never leak across tenants or apply to a different retrieval scope.
//
// A nil client or disabled config turns every method into a no-op; Get then
// always misses.
type AnswerCache struct {
	redis  *goredis.Client
	config *AnswerCacheConfig
}

// NewAnswerCache creates an AnswerCache.
func NewAnswerCache(redis *goredis.Client, config *AnswerCacheConfig) *AnswerCache {
	if config == nil {
		config = &AnswerCacheConfig{
			Enabled:   false,
			TTL:       10 * time.Minute,
			KeyPrefix: "lexica:answer:",
		}
	}
	return &AnswerCache{redis: redis, config: config}
}

func (c *AnswerCache) enabled() bool {
	return c != nil && c.config.Enabled && c.redis != nil
}

func (c *AnswerCache) cacheKey(userID, question string, documentIDs []string, topK int) string {
	ids := append([]string(nil), documentIDs...)
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString(userID)
	sb.WriteByte('|')
	sb.WriteString(question)
	sb.WriteByte('|')
	sb.WriteString(strings.Join(ids, ","))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(topK))

	hash := sha256.Sum256([]byte(sb.String()))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:])
}

// Get returns the cached answer, or nil on a miss.
func (c *AnswerCache) Get(ctx context.Context, userID, question string, documentIDs []string, topK int) *model.AskResult {
	if !c.enabled() {
		return nil
	}

	key := c.cacheKey(userID, question, documentIDs, topK)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("failed to get cached answer", "error", err.Error(), "key", key)
		}
		return nil
	}

	var result model.AskResult
	if err := json.Unmarshal(data, &result); err != nil {
		logger.Warnw("dropping corrupt cached answer", "error", err.Error(), "key", key)
		_ = c.redis.Del(ctx, key).Err()
		return nil
	}
	return &result
}

// Set caches an answer. Cache failures are logged, never surfaced.
func (c *AnswerCache) Set(ctx context.Context, userID, question string, documentIDs []string, topK int, result *model.AskResult) {
	if !c.enabled() {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		logger.Warnw("failed to marshal answer for caching", "error", err.Error())
		return
	}

	key := c.cacheKey(userID, question, documentIDs, topK)
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to cache answer", "error", err.Error(), "key", key)
	}
}
