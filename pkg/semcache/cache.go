// Package semcache is the semantic classification cache: recent results
// keyed by fingerprint so bursts of similar failures reuse one verdict.
package semcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recoverloop/redrive/pkg/models"
)

// Entry is one cached classification result.
type Entry struct {
	Category   models.Category `json:"category"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
	// ModelTag records who produced the original verdict; hits are
	// re-tagged by the Analyzer, not here.
	ModelTag string    `json:"model_tag"`
	CachedAt time.Time `json:"cached_at"`
}

// Cache reads and writes entries with a shared TTL.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a cache whose entries expire ttl after they are written.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get looks up the entry for a fingerprint. Any failure, including an
// unreadable stored value, counts as a miss: the Analyzer can always
// classify from scratch.
func (c *Cache) Get(ctx context.Context, hash string) (*Entry, bool) {
	raw, err := c.rdb.Get(ctx, entryKey(hash)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("Semantic cache read failed, treating as miss", "semantic_hash", hash, "error", err)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		slog.Warn("Semantic cache entry unreadable, treating as miss", "semantic_hash", hash, "error", err)
		return nil, false
	}
	return &entry, true
}

// Put stores an entry for a fingerprint. A zero CachedAt is stamped with
// the current time.
func (c *Cache) Put(ctx context.Context, hash string, entry Entry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, entryKey(hash), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cache entry %s: %w", hash, err)
	}
	return nil
}

func entryKey(hash string) string {
	return "semcache:" + hash
}
