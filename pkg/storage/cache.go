package storage

import (
	"container/list"
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vjranagit/hktrend/pkg/types"
)

// Query identifies one Reader call
type Query struct {
	Op         string
	Identifier string
	Kind       SeriesKind
	Base       string
	Start      float64
	End        float64
}

// Cached query operations
const (
	OpRecords   = "records"
	OpPositions = "positions"
	OpSeries    = "series"
)

// QueryCache implements an LRU cache for query results
type QueryCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.RWMutex
	cache    map[string]*cacheEntry
	lru      *list.List
}

type cacheEntry struct {
	key       string
	result    any
	timestamp time.Time
	element   *list.Element
}

// NewQueryCache creates a new query cache
func NewQueryCache(capacity int, ttl time.Duration) *QueryCache {
	if capacity < 1 {
		capacity = 1
	}
	return &QueryCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

// Get retrieves a cached query result
func (qc *QueryCache) Get(q Query) (any, bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	key := generateKey(q)
	entry, exists := qc.cache[key]
	if !exists {
		return nil, false
	}

	if time.Since(entry.timestamp) > qc.ttl {
		qc.removeLocked(key)
		return nil, false
	}

	qc.lru.MoveToFront(entry.element)
	return entry.result, true
}

// Put stores a query result in the cache
func (qc *QueryCache) Put(q Query, result any) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	key := generateKey(q)

	if entry, exists := qc.cache[key]; exists {
		entry.result = result
		entry.timestamp = time.Now()
		qc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{
		key:       key,
		result:    result,
		timestamp: time.Now(),
	}
	entry.element = qc.lru.PushFront(entry)
	qc.cache[key] = entry

	if qc.lru.Len() > qc.capacity {
		if oldest := qc.lru.Back(); oldest != nil {
			qc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

func (qc *QueryCache) removeLocked(key string) {
	if entry, exists := qc.cache[key]; exists {
		qc.lru.Remove(entry.element)
		delete(qc.cache, key)
	}
}

// Clear clears all cache entries
func (qc *QueryCache) Clear() {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	qc.cache = make(map[string]*cacheEntry)
	qc.lru = list.New()
}

// Size returns the current cache size
func (qc *QueryCache) Size() int {
	qc.mu.RLock()
	defer qc.mu.RUnlock()
	return len(qc.cache)
}

// Stats returns cache statistics
func (qc *QueryCache) Stats() CacheStats {
	qc.mu.RLock()
	defer qc.mu.RUnlock()

	expired := 0
	for _, entry := range qc.cache {
		if time.Since(entry.timestamp) > qc.ttl {
			expired++
		}
	}

	return CacheStats{
		Size:     len(qc.cache),
		Capacity: qc.capacity,
		Expired:  expired,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
	Expired  int `json:"expired"`
}

// generateKey hashes the query. Bounds are keyed by bit pattern so open
// (infinite) windows are cacheable.
func generateKey(q Query) string {
	data := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%016x\x00%016x",
		q.Op, q.Identifier, q.Kind, q.Base, math.Float64bits(q.Start), math.Float64bits(q.End))
	return fmt.Sprintf("%x", sha256.Sum256([]byte(data)))
}

var _ Storage = (*CachedStorage)(nil)

// CachedStorage wraps a storage with query caching. Every write clears the
// cache.
type CachedStorage struct {
	storage Storage
	cache   *QueryCache
	hits    uint64
	misses  uint64
	mu      sync.RWMutex
}

// NewCachedStorage creates a cached storage wrapper
func NewCachedStorage(storage Storage, cacheCapacity int, cacheTTL time.Duration) *CachedStorage {
	return &CachedStorage{
		storage: storage,
		cache:   NewQueryCache(cacheCapacity, cacheTTL),
	}
}

// AddRecord passes through to the underlying storage
func (cs *CachedStorage) AddRecord(ctx context.Context, rec types.Record) error {
	defer cs.cache.Clear()
	return cs.storage.AddRecord(ctx, rec)
}

// AddPositionSamples passes through to the underlying storage
func (cs *CachedStorage) AddPositionSamples(ctx context.Context, samples []types.PositionSample) error {
	defer cs.cache.Clear()
	return cs.storage.AddPositionSamples(ctx, samples)
}

// Flush passes through to the underlying storage
func (cs *CachedStorage) Flush() error {
	return cs.storage.Flush()
}

// QueryRecords checks the cache before querying storage
func (cs *CachedStorage) QueryRecords(ctx context.Context, identifier string, start, end float64) ([]types.Record, error) {
	q := Query{Op: OpRecords, Identifier: identifier, Start: start, End: end}
	return cached(cs, q, func() ([]types.Record, error) {
		return cs.storage.QueryRecords(ctx, identifier, start, end)
	})
}

// QueryPositions checks the cache before querying storage
func (cs *CachedStorage) QueryPositions(ctx context.Context, identifier string, start, end float64) ([]types.PositionSample, error) {
	q := Query{Op: OpPositions, Identifier: identifier, Start: start, End: end}
	return cached(cs, q, func() ([]types.PositionSample, error) {
		return cs.storage.QueryPositions(ctx, identifier, start, end)
	})
}

// ListSeries checks the cache before querying storage
func (cs *CachedStorage) ListSeries(ctx context.Context, kind SeriesKind, base string) ([]SeriesInfo, error) {
	q := Query{Op: OpSeries, Kind: kind, Base: base}
	return cached(cs, q, func() ([]SeriesInfo, error) {
		return cs.storage.ListSeries(ctx, kind, base)
	})
}

func cached[T any](cs *CachedStorage, q Query, load func() (T, error)) (T, error) {
	if result, ok := cs.cache.Get(q); ok {
		if v, ok := result.(T); ok {
			cs.mu.Lock()
			cs.hits++
			cs.mu.Unlock()
			return v, nil
		}
	}

	cs.mu.Lock()
	cs.misses++
	cs.mu.Unlock()

	v, err := load()
	if err != nil {
		return v, err
	}
	cs.cache.Put(q, v)
	return v, nil
}

// Close closes the underlying storage
func (cs *CachedStorage) Close() error {
	return cs.storage.Close()
}

// CacheStats returns cache statistics
func (cs *CachedStorage) CacheStats() (CacheStats, uint64, uint64) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.cache.Stats(), cs.hits, cs.misses
}

// CacheHitRate returns the cache hit rate as a percentage
func (cs *CachedStorage) CacheHitRate() float64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	total := cs.hits + cs.misses
	if total == 0 {
		return 0.0
	}
	return float64(cs.hits) / float64(total) * 100.0
}
