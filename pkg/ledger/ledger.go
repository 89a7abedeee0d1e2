// Package ledger implements the deduplication ledger: one Redis hash per
// (message_id, queue) holding first_seen_at, last_seen_at and retry_count.
// Only the Monitor mutates it.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision tells the Monitor what to do with an observed message.
type Decision struct {
	// RetryCount is the ledger count to attach to the enriched message.
	RetryCount int
	// Drop is set once the hard cap is reached; the message must be
	// deleted from its source and skipped.
	Drop bool
}

// Ledger tracks message observations with a retention TTL.
type Ledger struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a ledger whose entries expire ttl after their last update.
func New(rdb *redis.Client, ttl time.Duration) *Ledger {
	return &Ledger{rdb: rdb, ttl: ttl}
}

// Track records one observation of (messageID, queue). A first sighting
// inserts the entry at retry count 0; a re-sighting below the cap
// increments it; at or above the cap the caller is told to drop. The
// retry count never decreases for a live entry.
func (l *Ledger) Track(ctx context.Context, messageID, queue string, hardCap int) (Decision, error) {
	key := entryKey(messageID, queue)
	now := time.Now().UnixMilli()

	current, err := l.rdb.HGet(ctx, key, "retry_count").Int()
	if err == redis.Nil {
		return l.insert(ctx, key, now)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("ledger read %s: %w", key, err)
	}

	if current >= hardCap {
		return Decision{RetryCount: current, Drop: true}, nil
	}
	return l.increment(ctx, key, now)
}

// RetryCount returns the current count for an entry, or -1 when absent.
func (l *Ledger) RetryCount(ctx context.Context, messageID, queue string) (int, error) {
	n, err := l.rdb.HGet(ctx, entryKey(messageID, queue), "retry_count").Int()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger read: %w", err)
	}
	return n, nil
}

func (l *Ledger) insert(ctx context.Context, key string, now int64) (Decision, error) {
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "first_seen_at", now, "last_seen_at", now, "retry_count", 0)
		pipe.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ledger insert %s: %w", key, err)
	}
	return Decision{RetryCount: 0}, nil
}

func (l *Ledger) increment(ctx context.Context, key string, now int64) (Decision, error) {
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "retry_count", 1)
		pipe.HSet(ctx, key, "last_seen_at", now)
		pipe.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ledger increment %s: %w", key, err)
	}
	return Decision{RetryCount: int(incr.Val())}, nil
}

func entryKey(messageID, queue string) string {
	return fmt.Sprintf("ledger:%s:%s", queue, messageID)
}
