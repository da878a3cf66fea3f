package analysis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memoryCache struct {
	mu      sync.Mutex
	items   map[string]Analysis
	failGet bool
	failSet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string]Analysis{}}
}

func (c *memoryCache) Get(ctx context.Context, key string) (*Analysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, fmt.Errorf("redis down")
	}
	a, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, a Analysis, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return fmt.Errorf("redis down")
	}
	c.items[key] = a
	return nil
}

func TestCachedProviderServesRepeats(t *testing.T) {
	inner := &fakeProvider{name: "kana", tier: TierRemote, result: Analysis{Subject: "Physics", Difficulty: DifficultyBeginner}}
	p := NewCachedProvider(inner, newMemoryCache(), time.Hour)

	in := Input{Text: "velocity and force"}
	for i := 0; i < 3; i++ {
		got, err := p.Attempt(context.Background(), in)
		if err != nil {
			t.Fatalf("Attempt() error = %v", err)
		}
		if got.Subject != "Physics" {
			t.Errorf("Subject = %q", got.Subject)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner provider called %d times, want 1", inner.calls)
	}
	if p.Name() != "kana" || p.Tier() != TierRemote {
		t.Errorf("decorator should report the inner identity")
	}
}

func TestCachedProviderIgnoresCacheFailures(t *testing.T) {
	inner := &fakeProvider{name: "kana", tier: TierRemote, result: Analysis{Subject: "Physics", Difficulty: DifficultyBeginner}}
	cache := newMemoryCache()
	cache.failGet, cache.failSet = true, true

	if _, err := NewCachedProvider(inner, cache, time.Hour).Attempt(context.Background(), Input{Text: "force"}); err != nil {
		t.Fatalf("cache failure leaked: %v", err)
	}
}

func TestCachedProviderDoesNotCacheFailures(t *testing.T) {
	inner := &fakeProvider{name: "kana", tier: TierRemote, err: fmt.Errorf("timeout")}
	cache := newMemoryCache()
	p := NewCachedProvider(inner, cache, time.Hour)

	p.Attempt(context.Background(), Input{Text: "force"})
	p.Attempt(context.Background(), Input{Text: "force"})

	if inner.calls != 2 || len(cache.items) != 0 {
		t.Errorf("calls=%d cached=%d, want 2 and 0", inner.calls, len(cache.items))
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("kana", Input{Text: "abc"})
	if a != CacheKey("kana", Input{Text: "abc"}) {
		t.Error("key is not stable")
	}
	if a == CacheKey("gemini", Input{Text: "abc"}) {
		t.Error("key should depend on provider")
	}
	if a == CacheKey("kana", Input{Text: "abc", Image: []byte{1}}) {
		t.Error("key should depend on the image")
	}
}
