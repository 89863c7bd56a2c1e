package storage

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/vjranagit/hktrend/pkg/types"
)

func TestQueryCache(t *testing.T) {
	cache := NewQueryCache(100, time.Minute)

	q := Query{Op: OpRecords, Identifier: "SE_ZINRSICEA", Start: math.Inf(-1), End: math.Inf(1)}
	if _, ok := cache.Get(q); ok {
		t.Error("Expected cache miss, got hit")
	}

	result := []types.Record{{Identifier: "SE_ZINRSICEA", Count: 3, Mean: 42}}
	cache.Put(q, result)

	cached, ok := cache.Get(q)
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}
	records := cached.([]types.Record)
	if len(records) != 1 || records[0].Mean != 42 {
		t.Errorf("unexpected cached result %+v", records)
	}

	// Different window, different entry
	q.End = 60300
	if _, ok := cache.Get(q); ok {
		t.Error("Expected miss for a different window")
	}
}

func TestQueryCacheTTL(t *testing.T) {
	cache := NewQueryCache(100, 50*time.Millisecond)

	q := Query{Op: OpSeries, Kind: SeriesRecord}
	cache.Put(q, []SeriesInfo{})

	if _, ok := cache.Get(q); !ok {
		t.Fatal("Expected cache hit immediately after put")
	}

	time.Sleep(100 * time.Millisecond)

	if stats := cache.Stats(); stats.Expired != 1 {
		t.Errorf("Expected 1 expired entry, got %d", stats.Expired)
	}
	if _, ok := cache.Get(q); ok {
		t.Error("Expected cache miss after TTL expiry")
	}
	if cache.Size() != 0 {
		t.Error("Expired entry not removed")
	}
}

func TestQueryCacheLRUEviction(t *testing.T) {
	cache := NewQueryCache(3, time.Minute)

	query := func(i int) Query {
		return Query{Op: OpPositions, Identifier: fmt.Sprintf("IMIR_HK_FW_POS_RATIO_%d", i)}
	}

	for i := 0; i < 3; i++ {
		cache.Put(query(i), i)
	}
	// Touch 0 so 1 becomes the oldest
	if _, ok := cache.Get(query(0)); !ok {
		t.Fatal("expected hit")
	}
	cache.Put(query(3), 3)

	if cache.Size() != 3 {
		t.Errorf("Expected size 3, got %d", cache.Size())
	}
	if _, ok := cache.Get(query(1)); ok {
		t.Error("Expected least recently used entry to be evicted")
	}
	for _, i := range []int{0, 2, 3} {
		if _, ok := cache.Get(query(i)); !ok {
			t.Errorf("Expected entry %d to remain", i)
		}
	}
}

func TestQueryCacheClear(t *testing.T) {
	cache := NewQueryCache(10, time.Minute)
	for i := 0; i < 5; i++ {
		cache.Put(Query{Op: OpRecords, Identifier: fmt.Sprint(i)}, i)
	}
	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Expected empty cache, got %d", cache.Size())
	}
}

func TestCachedStorage(t *testing.T) {
	store := openStore(t, t.TempDir(), false)
	cs := NewCachedStorage(store, 10, time.Minute)
	defer cs.Close()
	ctx := context.Background()

	if err := cs.AddRecord(ctx, iceRecords[0]); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		recs, err := cs.QueryRecords(ctx, "SE_ZIMIRICEA_HV_ON", math.Inf(-1), math.Inf(1))
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
	}

	_, hits, misses := cs.CacheStats()
	if hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %d and %d", hits, misses)
	}
	if rate := cs.CacheHitRate(); math.Abs(rate-200.0/3) > 1e-9 {
		t.Errorf("unexpected hit rate %v", rate)
	}

	// A write invalidates cached results
	if err := cs.AddRecord(ctx, iceRecords[1]); err != nil {
		t.Fatal(err)
	}
	recs, err := cs.QueryRecords(ctx, "SE_ZIMIRICEA_HV_ON", math.Inf(-1), math.Inf(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("stale cache after write: %d records", len(recs))
	}

	if err := cs.AddPositionSamples(ctx, fwSamples); err != nil {
		t.Fatal(err)
	}
	series, err := cs.ListSeries(ctx, SeriesPosition, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 {
		t.Errorf("expected 2 position series, got %d", len(series))
	}
	pos, err := cs.QueryPositions(ctx, "IMIR_HK_FW_POS_RATIO_OPAQUE", math.Inf(-1), math.Inf(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(pos) != 1 {
		t.Errorf("expected 1 sample, got %d", len(pos))
	}
}
