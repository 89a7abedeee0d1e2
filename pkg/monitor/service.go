// Package monitor is the pipeline's front stage: it discovers dead-letter
// queues, polls them in parallel, deduplicates and enriches every message,
// and hands the result to the bus. A source message is deleted only after
// the bus has durably accepted its enriched event.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/ledger"
	"github.com/recoverloop/redrive/pkg/metrics"
	"github.com/recoverloop/redrive/pkg/models"
)

// Queues is the queue-service surface the Monitor uses.
type Queues interface {
	Discover(ctx context.Context, pattern string) ([]string, error)
	Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]models.DLQMessage, error)
	Delete(ctx context.Context, queue, receiptToken string) error
}

// Deduper tracks message sightings and decides when a message is a
// runaway loop.
type Deduper interface {
	Track(ctx context.Context, messageID, queue string, hardCap int) (ledger.Decision, error)
}

// SimilarCounter counts recent classification records for a queue.
type SimilarCounter interface {
	CountByQueueSince(ctx context.Context, queue string, since time.Time) (int, error)
}

// DeploymentSource lists recent deployment markers.
type DeploymentSource interface {
	RecentSince(ctx context.Context, since time.Time) ([]models.Deployment, error)
}

// Publisher publishes events with delivery confirmation.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// RunStats summarizes one Monitor invocation.
type RunStats struct {
	Queues    int `json:"queues"`
	Received  int `json:"received"`
	Published int `json:"published"`
	Dropped   int `json:"dropped"`
	Failed    int `json:"failed"`
}

// Service is the Monitor stage.
type Service struct {
	cfg     *config.MonitorConfig
	queues  Queues
	ledger  Deduper
	records SimilarCounter
	deploys DeploymentSource
	bus     Publisher
}

// NewService creates the Monitor service.
func NewService(cfg *config.MonitorConfig, queues Queues, deduper Deduper, records SimilarCounter, deploys DeploymentSource, bus Publisher) *Service {
	if cfg == nil {
		panic("monitor.NewService: config must not be nil")
	}
	if queues == nil || deduper == nil || records == nil || deploys == nil || bus == nil {
		panic("monitor.NewService: all collaborators must not be nil")
	}
	return &Service{
		cfg:     cfg,
		queues:  queues,
		ledger:  deduper,
		records: records,
		deploys: deploys,
		bus:     bus,
	}
}

type counters struct {
	received  atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// RunOnce performs a single Monitor invocation: discover, poll every queue
// in parallel, process each message. Per-queue and per-message failures
// are isolated; an invocation never aborts part-way.
func (s *Service) RunOnce(ctx context.Context) RunStats {
	started := time.Now()

	queues, err := s.queues.Discover(ctx, s.cfg.DLQNamePattern)
	if err != nil {
		slog.Error("DLQ discovery failed, skipping invocation", "error", err)
		return RunStats{}
	}

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	for _, queue := range queues {
		g.Go(func() error {
			s.pollQueue(gctx, queue, &c)
			return nil
		})
	}
	_ = g.Wait()

	stats := RunStats{
		Queues:    len(queues),
		Received:  int(c.received.Load()),
		Published: int(c.published.Load()),
		Dropped:   int(c.dropped.Load()),
		Failed:    int(c.failed.Load()),
	}
	metrics.StageDuration.WithLabelValues("monitor").Observe(time.Since(started).Seconds())
	slog.Info("Monitor invocation complete",
		"queues", stats.Queues,
		"received", stats.Received,
		"published", stats.Published,
		"dropped", stats.Dropped,
		"failed", stats.Failed,
		"duration_ms", time.Since(started).Milliseconds())
	return stats
}

func (s *Service) pollQueue(ctx context.Context, queue string, c *counters) {
	msgs, err := s.queues.Receive(ctx, queue, s.cfg.MaxMessagesPerPoll, s.cfg.LongPollWait())
	if err != nil {
		slog.Error("DLQ poll failed", "queue", queue, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	c.received.Add(int64(len(msgs)))
	metrics.MessagesReceived.WithLabelValues(queue).Add(float64(len(msgs)))

	for i := range msgs {
		if err := s.processMessage(ctx, &msgs[i], c); err != nil {
			c.failed.Add(1)
			metrics.MessagesFailed.WithLabelValues(queue).Inc()
			slog.Error("Message processing failed, leaving for redelivery",
				"queue", queue, "message_id", msgs[i].MessageID, "error", err)
		}
	}
}

func (s *Service) processMessage(ctx context.Context, msg *models.DLQMessage, c *counters) error {
	decision, err := s.ledger.Track(ctx, msg.MessageID, msg.SourceQueue, s.cfg.MaxRetries)
	if err != nil {
		// Fail open: duplicate work beats message loss.
		slog.Warn("Ledger unavailable, proceeding as first sighting",
			"queue", msg.SourceQueue, "message_id", msg.MessageID, "error", err)
		decision = ledger.Decision{}
	}
	if decision.Drop {
		if err := s.queues.Delete(ctx, msg.SourceQueue, msg.ReceiptToken); err != nil {
			return fmt.Errorf("delete runaway message: %w", err)
		}
		c.dropped.Add(1)
		metrics.MessagesDropped.WithLabelValues(msg.SourceQueue).Inc()
		slog.Warn("Dropped runaway message at ledger cap",
			"queue", msg.SourceQueue, "message_id", msg.MessageID,
			"retry_count", decision.RetryCount)
		return nil
	}

	enriched := s.enrich(ctx, msg, decision.RetryCount)

	event, err := models.NewEvent(models.EventSourceMonitor, models.DetailTypeMessageEnriched, enriched)
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish enriched event: %w", err)
	}

	// Publish is confirmed; only now is the source copy redundant.
	if err := s.queues.Delete(ctx, msg.SourceQueue, msg.ReceiptToken); err != nil {
		return fmt.Errorf("delete after publish: %w", err)
	}
	c.published.Add(1)
	metrics.MessagesPublished.WithLabelValues(msg.SourceQueue).Inc()
	return nil
}

// enrich builds the EnrichedMessage for one DLQ message. Context lookups
// degrade to empty values; enrichment itself never fails.
func (s *Service) enrich(ctx context.Context, msg *models.DLQMessage, retryCount int) *models.EnrichedMessage {
	similar := 0
	if n, err := s.records.CountByQueueSince(ctx, msg.SourceQueue, time.Now().Add(-time.Hour)); err != nil {
		slog.Warn("Similar-failure count unavailable, using 0",
			"queue", msg.SourceQueue, "error", err)
	} else {
		// The count may include this message's own record from an earlier
		// delivery.
		similar = max(n-1, 0)
	}

	var deployments []models.Deployment
	if deps, err := s.deploys.RecentSince(ctx, time.Now().Add(-s.cfg.DeploymentWindow())); err != nil {
		slog.Warn("Recent deployments unavailable", "error", err)
	} else {
		deployments = deps
	}

	return &models.EnrichedMessage{
		DLQMessage:              *msg,
		RetryCount:              retryCount,
		SimilarFailuresLastHour: similar,
		RecentDeployments:       deployments,
		ErrorPattern:            ExtractErrorPattern(msg.Body, msg.SourceQueue),
	}
}
