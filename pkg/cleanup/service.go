// Package cleanup enforces data retention: expired classification records
// and stale deployment markers are purged on an interval. Ledger entries
// and semantic-cache entries carry native store TTLs and need no sweeping.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/recoverloop/redrive/pkg/config"
)

// RecordPurger deletes classification records past their retention window.
type RecordPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DeploymentPurger deletes deployment markers older than a cutoff.
type DeploymentPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention policies. All operations are
// idempotent and safe to run from multiple replicas.
type Service struct {
	config  *config.RetentionConfig
	records RecordPurger
	deploys DeploymentPurger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, records RecordPurger, deploys DeploymentPurger) *Service {
	return &Service{
		config:  cfg,
		records: records,
		deploys: deploys,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"record_ttl_days", s.config.RecordTTLDays,
		"deployment_ttl_days", s.config.DeploymentTTLDays,
		"interval", s.config.CleanupInterval())
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeExpiredRecords(ctx)
	s.purgeStaleDeployments(ctx)
}

func (s *Service) purgeExpiredRecords(ctx context.Context) {
	count, err := s.records.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Retention: record purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged expired classification records", "count", count)
	}
}

func (s *Service) purgeStaleDeployments(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.DeploymentTTL())
	count, err := s.deploys.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: deployment purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged stale deployment markers", "count", count)
	}
}
