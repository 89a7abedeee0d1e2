package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverloop/redrive/pkg/config"
)

type fakeRecordPurger struct {
	calls   atomic.Int64
	deleted int64
	err     error
}

func (f *fakeRecordPurger) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	f.calls.Add(1)
	return f.deleted, f.err
}

type fakeDeployPurger struct {
	calls      atomic.Int64
	lastCutoff atomic.Value
	err        error
}

func (f *fakeDeployPurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls.Add(1)
	f.lastCutoff.Store(cutoff)
	return 0, f.err
}

func shortConfig() *config.RetentionConfig {
	cfg := config.DefaultRetentionConfig()
	cfg.CleanupIntervalS = 1
	return cfg
}

func TestService_RunsImmediatelyOnStart(t *testing.T) {
	recs := &fakeRecordPurger{deleted: 3}
	deps := &fakeDeployPurger{}
	svc := NewService(shortConfig(), recs, deps)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return recs.calls.Load() >= 1 && deps.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_DeploymentCutoffUsesTTL(t *testing.T) {
	cfg := shortConfig()
	recs := &fakeRecordPurger{}
	deps := &fakeDeployPurger{}
	svc := NewService(cfg, recs, deps)

	svc.runAll(context.Background())

	require.Equal(t, int64(1), deps.calls.Load())
	cutoff := deps.lastCutoff.Load().(time.Time)
	assert.WithinDuration(t, time.Now().Add(-cfg.DeploymentTTL()), cutoff, 5*time.Second)
}

func TestService_PurgeErrorsDoNotStopTheLoop(t *testing.T) {
	recs := &fakeRecordPurger{err: errors.New("db down")}
	deps := &fakeDeployPurger{err: errors.New("db down")}
	svc := NewService(shortConfig(), recs, deps)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return recs.calls.Load() >= 2 && deps.calls.Load() >= 2
	}, 5*time.Second, 20*time.Millisecond, "ticker keeps running after failures")
}

func TestService_BothPurgesRunWhenOneFails(t *testing.T) {
	recs := &fakeRecordPurger{err: errors.New("db down")}
	deps := &fakeDeployPurger{}
	svc := NewService(shortConfig(), recs, deps)

	svc.runAll(context.Background())

	assert.Equal(t, int64(1), recs.calls.Load())
	assert.Equal(t, int64(1), deps.calls.Load())
}

func TestService_StopIsIdempotent(t *testing.T) {
	svc := NewService(shortConfig(), &fakeRecordPurger{}, &fakeDeployPurger{})
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}

func TestService_StartTwiceIsNoOp(t *testing.T) {
	svc := NewService(shortConfig(), &fakeRecordPurger{}, &fakeDeployPurger{})
	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()
}
