package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cognitriage/console/pkg/analysis"
	"github.com/cognitriage/console/pkg/common/logger"
)

// ResultCache keeps completed result documents keyed by job id so repeated
// aggregations and reconnecting consumers do not re-fetch from the analysis
// backend. Misses and cache errors are equivalent: the caller falls through
// to the remote service.
type ResultCache interface {
	Get(ctx context.Context, jobID string) (*analysis.ResultDocument, bool)
	Set(ctx context.Context, jobID string, doc *analysis.ResultDocument)
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr, password string, db int, ttl time.Duration) ResultCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.WithError(err).Warn("Result cache unreachable, caching degraded")
	} else {
		logger.Log.WithField("addr", addr).Info("Result cache connected")
	}

	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, jobID string) (*analysis.ResultDocument, bool) {
	data, err := c.client.Get(ctx, resultKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Log.WithError(err).WithField("job_id", jobID).Warn("Result cache read failed")
		return nil, false
	}

	var doc analysis.ResultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Log.WithError(err).WithField("job_id", jobID).Warn("Result cache entry corrupt")
		return nil, false
	}
	return &doc, true
}

func (c *redisCache) Set(ctx context.Context, jobID string, doc *analysis.ResultDocument) {
	data, err := json.Marshal(doc)
	if err != nil {
		logger.Log.WithError(err).WithField("job_id", jobID).Warn("Result cache encode failed")
		return
	}
	if err := c.client.Set(ctx, resultKey(jobID), data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).WithField("job_id", jobID).Warn("Result cache write failed")
	}
}

func resultKey(jobID string) string {
	return fmt.Sprintf("result:%s", jobID)
}

type noopCache struct{}

// NewNoop returns a cache that never hits, used when Redis is not configured.
func NewNoop() ResultCache {
	return noopCache{}
}

func (noopCache) Get(context.Context, string) (*analysis.ResultDocument, bool) { return nil, false }
func (noopCache) Set(context.Context, string, *analysis.ResultDocument)       {}
