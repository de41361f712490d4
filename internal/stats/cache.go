package stats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/AjayDigitalDreamworks/medicure/internal/models"
)

// Source computes the dashboard rollups from live data.
type Source interface {
	DoctorStats(ctx context.Context, doctor string, now time.Time) (models.DoctorStats, error)
	DepartmentSummaries(ctx context.Context) ([]models.DepartmentSummary, error)
}

// Cache memoizes rollups in Redis for a short window. The rollups are
// derived data, so a stale read is only ever TTL seconds behind; a Redis
// failure falls through to the source.
type Cache struct {
	source Source
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCache(source Source, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Cache{source: source, client: client, ttl: ttl, logger: logger}
}

func (c *Cache) DoctorStats(ctx context.Context, doctor string, now time.Time) (models.DoctorStats, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	key := "stats:doctor:" + doctor + ":" + now.Format("2006-01-02")

	var cached models.DoctorStats
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	stats, err := c.source.DoctorStats(ctx, doctor, now)
	if err != nil {
		return models.DoctorStats{}, err
	}
	c.put(ctx, key, stats)
	return stats, nil
}

func (c *Cache) DepartmentSummaries(ctx context.Context) ([]models.DepartmentSummary, error) {
	const key = "stats:departments"

	var cached []models.DepartmentSummary
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	summaries, err := c.source.DepartmentSummaries(ctx)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, summaries)
	return summaries, nil
}

// Invalidate drops the cached rollups touched by a write. Best effort: a
// failed delete just means the entry lives until its TTL.
func (c *Cache) Invalidate(ctx context.Context, doctor string) {
	keys := []string{"stats:departments"}
	if doctor != "" {
		keys = append(keys, "stats:doctor:"+doctor+":"+time.Now().UTC().Format("2006-01-02"))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Str("doctor", doctor).Msg("stats cache invalidate failed")
	}
}

func (c *Cache) lookup(ctx context.Context, key string, out any) bool {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("stats cache read failed")
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("stats cache entry corrupt")
		return false
	}
	return true
}

func (c *Cache) put(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("stats cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("stats cache write failed")
	}
}
