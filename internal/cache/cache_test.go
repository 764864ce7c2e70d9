package cache

import (
	"testing"
	"time"
)

func TestChunkKey(t *testing.T) {
	store := StoreID("/data/trajectory.zarr")
	if len(store) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", store)
	}
	if store != StoreID("/data/trajectory.zarr") {
		t.Fatalf("StoreID is not deterministic")
	}
	if store == StoreID("/data/other.zarr") {
		t.Fatalf("different stores should not share an id")
	}

	t.Run("coords", func(t *testing.T) {
		got := ChunkKey("s", "counts", []int{3, 0})
		if got != "chunk:s:counts/3.0" {
			t.Fatalf("unexpected key %q", got)
		}
	})

	t.Run("scalar", func(t *testing.T) {
		got := ChunkKey("s", "weights", nil)
		if got != "chunk:s:weights/" {
			t.Fatalf("unexpected key %q", got)
		}
	})

	t.Run("vector", func(t *testing.T) {
		if VectorKey("s", "counts", "GATA1") != "vec:s:counts:GATA1" {
			t.Fatalf("unexpected vector key")
		}
	})
}

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{ChunkCacheSizeMB: 8, ChunkTTL: time.Minute, VectorCacheSize: 2})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if _, ok := m.GetChunk("missing"); ok {
		t.Fatal("expected miss")
	}
	if err := m.SetChunk("a", []byte{1, 2, 3}); err != nil {
		t.Fatalf("SetChunk: %v", err)
	}
	if got, ok := m.GetChunk("a"); !ok || len(got) != 3 || got[2] != 3 {
		t.Fatalf("unexpected chunk %v %v", got, ok)
	}

	m.SetVector("x", []float64{1})
	m.SetVector("y", []float64{2})
	m.SetVector("z", []float64{3})
	if _, ok := m.GetVector("x"); ok {
		t.Fatal("expected x to be evicted")
	}
	if v, ok := m.GetVector("z"); !ok || v[0] != 3 {
		t.Fatalf("unexpected vector %v %v", v, ok)
	}

	stats := m.Stats()
	if stats["vector_cache_len"].(int) != 2 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
