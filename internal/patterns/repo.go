package patterns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, target string, patterns []models.IncidentPattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, target string, patterns []models.IncidentPattern) error {
	return f(ctx, target, patterns)
}

// CacheStore keeps the latest mined patterns per target in a cache provider.
type CacheStore struct {
	provider cache.Provider
	prefix   string
	ttl      time.Duration
}

// NewCacheStore constructs a CacheStore. A zero ttl keeps entries until overwritten.
func NewCacheStore(provider cache.Provider, prefix string, ttl time.Duration) *CacheStore {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &CacheStore{provider: provider, prefix: prefix, ttl: ttl}
}

// StorePatterns implements Store.
func (s *CacheStore) StorePatterns(ctx context.Context, target string, patterns []models.IncidentPattern) error {
	data, err := json.Marshal(patterns)
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}
	return s.provider.Set(ctx, s.key(target), data, s.ttl)
}

// FetchPatterns returns the last stored patterns for target, or nil when none are cached.
func (s *CacheStore) FetchPatterns(ctx context.Context, target string) ([]models.IncidentPattern, error) {
	data, err := s.provider.Get(ctx, s.key(target))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	var patterns []models.IncidentPattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("decode patterns: %w", err)
	}
	return patterns, nil
}

func (s *CacheStore) key(target string) string {
	return cache.Key(s.prefix, "patterns", target)
}
