package memory

import (
	"context"
	"sync"
	"time"

	"github.com/weave-hq/weave/internal/core"
)

// IdempotencyCache holds slim action results with per-entry TTL.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	clock   core.Clock
}

type cacheEntry struct {
	value     map[string]any
	expiresAt time.Time
}

var _ core.IdempotencyCache = (*IdempotencyCache)(nil)

// NewIdempotencyCache creates an empty cache.
func NewIdempotencyCache() *IdempotencyCache {
	return &IdempotencyCache{entries: map[string]cacheEntry{}, clock: time.Now}
}

// NewIdempotencyCacheWithClock creates a cache with a replaceable clock,
// for TTL tests.
func NewIdempotencyCacheWithClock(clock core.Clock) *IdempotencyCache {
	return &IdempotencyCache{entries: map[string]cacheEntry{}, clock: clock}
}

// Get implements core.IdempotencyCache.
func (c *IdempotencyCache) Get(_ context.Context, key string) (map[string]any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.clock().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Put implements core.IdempotencyCache.
func (c *IdempotencyCache) Put(_ context.Context, key string, value map[string]any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.clock().Add(ttl)}
	return nil
}

// ArtifactStore holds large action payloads in process memory; the run
// context keeps only the returned references.
type ArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string]map[string]any
}

var _ core.ArtifactStore = (*ArtifactStore)(nil)

// NewArtifactStore creates an empty ArtifactStore.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{artifacts: map[string]map[string]any{}}
}

// Put implements core.ArtifactStore.
func (s *ArtifactStore) Put(_ context.Context, runID, nodeID string, payload map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := "mem://" + runID + "/" + nodeID
	s.artifacts[ref] = payload
	return ref, nil
}

// Get implements core.ArtifactStore.
func (s *ArtifactStore) Get(_ context.Context, ref string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.artifacts[ref]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	return payload, nil
}
