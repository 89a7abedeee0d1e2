// Package dlq provides the queue-service client for dead-letter queues
// backed by Redis Streams.
//
// Every DLQ is one stream consumed through a consumer group: the stream
// entry ID doubles as the receipt token, unacknowledged entries become
// visible again after the visibility timeout via pending-entry reclaim,
// and deletion is XACK followed by XDEL. Delayed sends park the payload
// in a per-queue sorted set that a background promoter drains.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recoverloop/redrive/pkg/models"
)

const (
	delayedSuffix    = ":delayed"
	defaultBatchSize = 10
	promoteBatchSize = 100
)

// Client reads, deletes and (re-)enqueues queue messages.
type Client struct {
	rdb        *redis.Client
	group      string
	consumer   string
	visibility time.Duration
}

// NewClient creates a queue client. All receives go through the given
// consumer group; visibility controls when unacknowledged entries are
// reclaimed from other consumers.
func NewClient(rdb *redis.Client, group, consumer string, visibility time.Duration) *Client {
	return &Client{
		rdb:        rdb,
		group:      group,
		consumer:   consumer,
		visibility: visibility,
	}
}

// Ping verifies queue-service connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue service ping: %w", err)
	}
	return nil
}

// Discover returns the names of all streams matching the DLQ name pattern,
// sorted for deterministic poll order.
func (c *Client) Discover(ctx context.Context, pattern string) ([]string, error) {
	var (
		queues []string
		cursor uint64
	)
	for {
		keys, next, err := c.rdb.ScanType(ctx, cursor, "*"+pattern, 100, "stream").Result()
		if err != nil {
			return nil, fmt.Errorf("scan for DLQs: %w", err)
		}
		queues = append(queues, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(queues)
	return queues, nil
}

// Receive fetches up to max messages from the queue: first by reclaiming
// pending entries whose visibility window has lapsed, then by reading new
// entries, blocking up to wait when the stream is empty.
func (c *Client) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]models.DLQMessage, error) {
	if max <= 0 {
		max = defaultBatchSize
	}
	if err := c.ensureGroup(ctx, queue); err != nil {
		return nil, err
	}

	msgs, err := c.reclaimExpired(ctx, queue, max)
	if err != nil {
		return nil, err
	}

	if remaining := max - len(msgs); remaining > 0 {
		fresh, err := c.readNew(ctx, queue, remaining, wait)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, fresh...)
	}
	return msgs, nil
}

// reclaimExpired claims entries another consumer received but never deleted
// within the visibility timeout. Their delivery count carries over so the
// ledger sees genuine re-deliveries.
func (c *Client) reclaimExpired(ctx context.Context, queue string, max int) ([]models.DLQMessage, error) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: queue,
		Group:  c.group,
		Idle:   c.visibility,
		Start:  "-",
		End:    "+",
		Count:  int64(max),
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("list pending entries for %s: %w", queue, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	deliveries := make(map[string]int, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		deliveries[p.ID] = int(p.RetryCount) + 1
	}

	claimed, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   queue,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.visibility,
		Messages: ids,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claim expired entries for %s: %w", queue, err)
	}

	msgs := make([]models.DLQMessage, 0, len(claimed))
	for _, m := range claimed {
		msgs = append(msgs, parseEntry(queue, m, deliveries[m.ID]))
	}
	if len(msgs) > 0 {
		slog.Debug("Reclaimed expired pending entries", "queue", queue, "count", len(msgs))
	}
	return msgs, nil
}

func (c *Client) readNew(ctx context.Context, queue string, max int, wait time.Duration) ([]models.DLQMessage, error) {
	block := wait
	if wait <= 0 {
		block = -1
	}
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{queue, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read from %s: %w", queue, err)
	}

	var msgs []models.DLQMessage
	for _, stream := range streams {
		for _, m := range stream.Messages {
			msgs = append(msgs, parseEntry(queue, m, 1))
		}
	}
	return msgs, nil
}

// Delete acknowledges and removes a message from its queue. Safe to call
// again for an already-deleted message.
func (c *Client) Delete(ctx context.Context, queue, receiptToken string) error {
	if err := c.rdb.XAck(ctx, queue, c.group, receiptToken).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", receiptToken, queue, err)
	}
	if err := c.rdb.XDel(ctx, queue, receiptToken).Err(); err != nil {
		return fmt.Errorf("delete %s from %s: %w", receiptToken, queue, err)
	}
	return nil
}

// Send enqueues a message body with metadata attributes onto a queue.
func (c *Client) Send(ctx context.Context, queue, body string, attrs map[string]string) error {
	values := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		values[k] = v
	}
	values["body"] = body

	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: queue, ID: "*", Values: values}).Err(); err != nil {
		return fmt.Errorf("send to %s: %w", queue, err)
	}
	return nil
}

// delayedMessage is the parked payload format inside a delay set.
type delayedMessage struct {
	Body  string            `json:"body"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// SendWithDelay schedules a send to become visible after the delay. The
// member encodes the full payload, so scheduling the same replay twice
// collapses into one entry.
func (c *Client) SendWithDelay(ctx context.Context, queue, body string, attrs map[string]string, delay time.Duration) error {
	if delay <= 0 {
		return c.Send(ctx, queue, body, attrs)
	}

	member, err := json.Marshal(delayedMessage{Body: body, Attrs: attrs})
	if err != nil {
		return fmt.Errorf("encode delayed message: %w", err)
	}

	readyAt := time.Now().Add(delay).UnixMilli()
	err = c.rdb.ZAdd(ctx, queue+delayedSuffix, redis.Z{Score: float64(readyAt), Member: string(member)}).Err()
	if err != nil {
		return fmt.Errorf("schedule delayed send to %s: %w", queue, err)
	}
	return nil
}

// PromoteDelayed moves due entries from the queue's delay set onto the
// stream and returns how many were promoted.
func (c *Client) PromoteDelayed(ctx context.Context, queue string) (int, error) {
	delayKey := queue + delayedSuffix
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	members, err := c.rdb.ZRangeByScore(ctx, delayKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due delayed messages for %s: %w", queue, err)
	}

	promoted := 0
	for _, member := range members {
		var dm delayedMessage
		if err := json.Unmarshal([]byte(member), &dm); err != nil {
			slog.Warn("Dropping unparseable delayed message", "queue", queue, "error", err)
			c.rdb.ZRem(ctx, delayKey, member)
			continue
		}
		if err := c.Send(ctx, queue, dm.Body, dm.Attrs); err != nil {
			return promoted, err
		}
		if err := c.rdb.ZRem(ctx, delayKey, member).Err(); err != nil {
			return promoted, fmt.Errorf("remove promoted message from %s: %w", delayKey, err)
		}
		promoted++
	}
	return promoted, nil
}

// DelayedQueues returns the queues that currently have a delay set.
func (c *Client) DelayedQueues(ctx context.Context) ([]string, error) {
	var (
		queues []string
		cursor uint64
	)
	for {
		keys, next, err := c.rdb.ScanType(ctx, cursor, "*"+delayedSuffix, 100, "zset").Result()
		if err != nil {
			return nil, fmt.Errorf("scan for delay sets: %w", err)
		}
		for _, k := range keys {
			queues = append(queues, strings.TrimSuffix(k, delayedSuffix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(queues)
	return queues, nil
}

func (c *Client) ensureGroup(ctx context.Context, queue string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, queue, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("ensure consumer group on %s: %w", queue, err)
	}
	return nil
}

// parseEntry converts a raw stream entry into a DLQ message. Producers that
// set explicit message_id / timestamp fields win; otherwise the entry ID
// supplies both identity and timing.
func parseEntry(queue string, m redis.XMessage, receiveCount int) models.DLQMessage {
	msg := models.DLQMessage{
		MessageID:    m.ID,
		ReceiptToken: m.ID,
		SourceQueue:  queue,
		ReceiveCount: receiveCount,
	}

	ts := entryTimestamp(m.ID)
	msg.FirstSeenAt = ts
	msg.LastFailedAt = ts

	if v, ok := m.Values["message_id"].(string); ok && v != "" {
		msg.MessageID = v
	}
	if v, ok := m.Values["first_seen_at"].(string); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			msg.FirstSeenAt = n
		}
	}
	if v, ok := m.Values["last_failed_at"].(string); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			msg.LastFailedAt = n
		}
	}

	if body, ok := m.Values["body"].(string); ok {
		msg.Body = body
		return msg
	}
	// Foreign producers may not use a body field; keep the whole entry.
	raw, err := json.Marshal(m.Values)
	if err != nil {
		raw = []byte("{}")
	}
	msg.Body = string(raw)
	return msg
}

// entryTimestamp extracts the millisecond timestamp from a stream entry ID.
func entryTimestamp(id string) int64 {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
