package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// Cache stores analyses by key. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*Analysis, error)
	Set(ctx context.Context, key string, a Analysis, ttl time.Duration) error
}

// CachedProvider serves repeated inputs from a cache before calling the wrapped provider.
// Cache errors are logged and never fail the attempt.
type CachedProvider struct {
	inner  Provider
	cache  Cache
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedProvider wraps a provider with a cache
func NewCachedProvider(inner Provider, cache Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logging.NewLogger("AnalysisCache"),
	}
}

// Name returns the wrapped provider's name
func (p *CachedProvider) Name() string { return p.inner.Name() }

// Tier returns the wrapped provider's tier
func (p *CachedProvider) Tier() Tier { return p.inner.Tier() }

// Attempt returns a cached analysis or delegates and stores the result
func (p *CachedProvider) Attempt(ctx context.Context, in Input) (Analysis, error) {
	key := CacheKey(p.inner.Name(), in)

	cached, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("Cache read failed", "requestId", in.RequestID, "provider", p.inner.Name(), "error", err)
	} else if cached != nil {
		p.logger.Debug("Cache hit", "requestId", in.RequestID, "provider", p.inner.Name())
		return *cached, nil
	}

	result, err := p.inner.Attempt(ctx, in)
	if err != nil {
		return Analysis{}, err
	}

	if err := p.cache.Set(ctx, key, result, p.ttl); err != nil {
		p.logger.Warn("Cache write failed", "requestId", in.RequestID, "provider", p.inner.Name(), "error", err)
	}
	return result, nil
}

// CacheKey derives a stable key from the provider, text and whether an image was sent
func CacheKey(provider string, in Input) string {
	h := sha256.New()
	h.Write([]byte(in.Text))
	h.Write([]byte{0})
	if len(in.Image) > 0 {
		sum := sha256.Sum256(in.Image)
		h.Write(sum[:])
	}
	return "notes:analysis:" + provider + ":" + hex.EncodeToString(h.Sum(nil))
}
