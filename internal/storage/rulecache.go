package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
	"roomwatch/internal/models"
)

// RuleSource is the store a cache reads through to.
type RuleSource interface {
	GetActiveRulesForSensor(ctx context.Context, sensorID string) ([]models.AlertRule, error)
}

// cacheClient is the subset of redis.Cmdable the cache uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedRuleStore serves rules from Redis and falls back to the source on a
// miss. Redis failures are logged and bypassed; only source failures surface.
type CachedRuleStore struct {
	source RuleSource
	client cacheClient
	ttl    time.Duration
}

// NewCachedRuleStore wraps source with a Redis read-through cache.
func NewCachedRuleStore(source RuleSource, client cacheClient, ttl time.Duration) *CachedRuleStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedRuleStore{source: source, client: client, ttl: ttl}
}

func ruleCacheKey(sensorID string) string {
	return "rules:sensor:" + sensorID
}

// GetActiveRulesForSensor implements alerts.RuleStore.
func (c *CachedRuleStore) GetActiveRulesForSensor(ctx context.Context, sensorID string) ([]models.AlertRule, error) {
	log := logger.WithSensor("rule_cache", sensorID)
	key := ruleCacheKey(sensorID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rules []models.AlertRule
		jerr := json.Unmarshal(raw, &rules)
		if jerr == nil {
			return rules, nil
		}
		log.Warn().Err(jerr).Msg("discarding corrupt cache entry")
	case errors.Is(err, redis.Nil):
	default:
		log.Warn().Err(err).Msg("rule cache read failed, using store")
		metrics.SinkFailures.WithLabelValues("rule_cache").Inc()
	}

	rules, err := c.source.GetActiveRulesForSensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}

	if rules == nil {
		rules = []models.AlertRule{}
	}
	payload, err := json.Marshal(rules)
	if err != nil {
		log.Warn().Err(err).Msg("encode rules for cache")
		return rules, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("rule cache write failed")
		metrics.SinkFailures.WithLabelValues("rule_cache").Inc()
	}
	return rules, nil
}
