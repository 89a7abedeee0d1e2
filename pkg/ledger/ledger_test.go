package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return New(rdb, 7*24*time.Hour), mr
}

func TestTrackFirstSighting(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	d, err := l.Track(ctx, "msg-1", "orders-dlq", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, d.RetryCount)
	assert.False(t, d.Drop)
}

func TestTrackIncrementsMonotonically(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	counts := []int{}
	for i := 0; i < 4; i++ {
		d, err := l.Track(ctx, "msg-1", "orders-dlq", 3)
		require.NoError(t, err)
		require.False(t, d.Drop)
		counts = append(counts, d.RetryCount)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, counts)
}

func TestTrackDropsAtHardCap(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d, err := l.Track(ctx, "msg-1", "orders-dlq", 3)
		require.NoError(t, err)
		require.False(t, d.Drop)
	}

	d, err := l.Track(ctx, "msg-1", "orders-dlq", 3)
	require.NoError(t, err)
	assert.True(t, d.Drop)
	assert.Equal(t, 3, d.RetryCount)

	// Dropping does not erase the entry; a redelivery still drops.
	d, err = l.Track(ctx, "msg-1", "orders-dlq", 3)
	require.NoError(t, err)
	assert.True(t, d.Drop)
}

func TestTrackKeysByMessageAndQueue(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Track(ctx, "msg-1", "orders-dlq", 3)
	require.NoError(t, err)
	_, err = l.Track(ctx, "msg-1", "orders-dlq", 3)
	require.NoError(t, err)

	// Same message id on another queue is a separate entry.
	d, err := l.Track(ctx, "msg-1", "payments-dlq", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, d.RetryCount)

	n, err := l.RetryCount(ctx, "msg-1", "orders-dlq")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEntriesExpire(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Track(ctx, "msg-1", "orders-dlq", 3)
		require.NoError(t, err)
	}

	mr.FastForward(7*24*time.Hour + time.Second)

	// After expiry the message counts as first-seen again.
	d, err := l.Track(ctx, "msg-1", "orders-dlq", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, d.RetryCount)
	assert.False(t, d.Drop)
}

func TestRetryCountAbsent(t *testing.T) {
	l, _ := newTestLedger(t)

	n, err := l.RetryCount(context.Background(), "ghost", "orders-dlq")
	require.NoError(t, err)
	assert.Equal(t, -1, n)
}

func TestTrackFailsWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := New(rdb, time.Hour)
	mr.Close()

	_, err = l.Track(context.Background(), "msg-1", "orders-dlq", 3)
	require.Error(t, err)
}
