/**
 * Analysis Cache - Redis-backed store for remote analyses
 *
 * Remote tiers are slow and metered; identical uploads are common when a
 * teacher re-runs a batch. Entries are JSON with a TTL. A miss is (nil, nil).
 */

package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/notes-ocr-service/internal/analysis"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// cacheEnvelope versions what is written so a format change never decodes stale entries
type cacheEnvelope struct {
	Version  int               `json:"v"`
	Analysis analysis.Analysis `json:"analysis"`
	StoredAt time.Time         `json:"stored_at"`
}

const cacheFormatVersion = 1

// AnalysisCache implements analysis.Cache on Redis
type AnalysisCache struct {
	client *redis.Client
	logger *logging.Logger
}

// AnalysisCacheConfig holds cache configuration
type AnalysisCacheConfig struct {
	RedisURL    string
	DialTimeout time.Duration
	// OpTimeout bounds every Redis round trip so a slow cache never delays analysis
	OpTimeout time.Duration
}

// NewAnalysisCache connects to Redis. The connection is verified with PING.
func NewAnalysisCache(ctx context.Context, cfg *AnalysisCacheConfig) (*AnalysisCache, error) {
	c, err := newAnalysisCache(cfg)
	if err != nil {
		return nil, err
	}

	if err := c.Ping(ctx); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.Info("Analysis cache connected", "addr", c.client.Options().Addr)
	return c, nil
}

func newAnalysisCache(cfg *AnalysisCacheConfig) (*AnalysisCache, error) {
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.OpTimeout > 0 {
		opt.ReadTimeout = cfg.OpTimeout
		opt.WriteTimeout = cfg.OpTimeout
	}

	return &AnalysisCache{
		client: redis.NewClient(opt),
		logger: logging.NewLogger("AnalysisCache"),
	}, nil
}

// Get returns the cached analysis for key, or nil on a miss
func (c *AnalysisCache) Get(ctx context.Context, key string) (*analysis.Analysis, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}

	a, err := decodeEntry(raw)
	if err != nil {
		// unreadable entries are dropped so the next Set replaces them
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("Failed to drop unreadable cache entry", "key", key, "error", delErr)
		}
		return nil, err
	}
	return a, nil
}

// Set stores the analysis under key for ttl
func (c *AnalysisCache) Set(ctx context.Context, key string, a analysis.Analysis, ttl time.Duration) error {
	raw, err := encodeEntry(a, time.Now())
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection
func (c *AnalysisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection pool
func (c *AnalysisCache) Close() error {
	return c.client.Close()
}

func encodeEntry(a analysis.Analysis, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(cacheEnvelope{Version: cacheFormatVersion, Analysis: a, StoredAt: now.UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return raw, nil
}

func decodeEntry(raw []byte) (*analysis.Analysis, error) {
	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	if env.Version != cacheFormatVersion {
		return nil, fmt.Errorf("cache entry version %d, want %d", env.Version, cacheFormatVersion)
	}
	return &env.Analysis, nil
}
