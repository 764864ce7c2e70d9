// Package cache provides caching for decoded dataset chunks and vectors.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	ChunkCacheSizeMB int
	ChunkTTL         time.Duration
	VectorCacheSize  int
}

// Manager manages the raw chunk and decoded vector caches.
type Manager struct {
	chunkCache  *bigcache.BigCache
	vectorCache *lru.Cache[string, []float64]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ChunkTTL <= 0 {
		cfg.ChunkTTL = 10 * time.Minute
	}
	if cfg.VectorCacheSize <= 0 {
		cfg.VectorCacheSize = 1024
	}

	// Configure chunk cache
	chunkCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.ChunkTTL,
		CleanWindow:        cfg.ChunkTTL / 2,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       256 * 1024, // 256KB per decompressed chunk
		HardMaxCacheSize:   cfg.ChunkCacheSizeMB,
		Verbose:            false,
	}

	chunkCache, err := bigcache.New(context.Background(), chunkCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk cache: %w", err)
	}

	vectorCache, err := lru.New[string, []float64](cfg.VectorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector cache: %w", err)
	}

	return &Manager{
		chunkCache:  chunkCache,
		vectorCache: vectorCache,
	}, nil
}

// GetChunk retrieves decompressed chunk bytes from cache.
func (m *Manager) GetChunk(key string) ([]byte, bool) {
	data, err := m.chunkCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetChunk stores decompressed chunk bytes in cache.
func (m *Manager) SetChunk(key string, data []byte) error {
	return m.chunkCache.Set(key, data)
}

// GetVector retrieves a decoded vector. Callers must not modify it.
func (m *Manager) GetVector(key string) ([]float64, bool) {
	return m.vectorCache.Get(key)
}

// SetVector stores a decoded vector.
func (m *Manager) SetVector(key string, v []float64) {
	m.vectorCache.Add(key, v)
}

// StoreID shortens a store location to a stable key prefix.
func StoreID(location string) string {
	h := sha256.Sum256([]byte(location))
	return hex.EncodeToString(h[:])[:16]
}

// ChunkKey generates a cache key for one chunk of an array.
func ChunkKey(store, array string, coords []int) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return fmt.Sprintf("chunk:%s:%s/%s", store, array, strings.Join(parts, "."))
}

// VectorKey generates a cache key for a decoded vector, e.g. the counts of a
// gene or the weights of a lineage.
func VectorKey(store, kind, name string) string {
	return fmt.Sprintf("vec:%s:%s:%s", store, kind, name)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"chunk_cache_len":  m.chunkCache.Len(),
		"chunk_cache_cap":  m.chunkCache.Capacity(),
		"vector_cache_len": m.vectorCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.chunkCache.Close()
}
