// Package executor is the pipeline's final stage: it consumes classified
// events and performs exactly one recovery action per classification —
// replay for transient failures, archive plus alert for poison pills,
// incident escalation for systemic failures — then writes the outcome back
// onto the classification record.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/metrics"
	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/records"
	"github.com/recoverloop/redrive/pkg/redact"
	"github.com/recoverloop/redrive/pkg/slack"
)

// Requeuer re-enqueues message bodies onto their original queue.
type Requeuer interface {
	Send(ctx context.Context, queue, body string, attrs map[string]string) error
	SendWithDelay(ctx context.Context, queue, body string, attrs map[string]string, delay time.Duration) error
}

// Archiver writes poison-pill archive objects and returns their location.
type Archiver interface {
	Put(ctx context.Context, msg *models.EnrichedMessage, cls *models.Classification) (string, error)
}

// IncidentAPI opens (or deduplicates into) an incident for a systemic
// failure and returns the incident key.
type IncidentAPI interface {
	Trigger(ctx context.Context, msg *models.EnrichedMessage, cls *models.Classification) (string, error)
}

// OutcomeStore records what happened to a classification.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, messageID string, upd records.OutcomeUpdate) error
}

// Publisher publishes events with delivery confirmation.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Service is the Executor stage. One instance serves all consumer workers.
type Service struct {
	cfg      *config.ExecutorConfig
	incCfg   *config.IncidentConfig
	queues   Requeuer
	archive  Archiver
	incident IncidentAPI
	records  OutcomeStore
	bus      Publisher
	redactor *redact.Service
	notifier *slack.Service
}

// NewService creates the Executor service. The incident client may be nil
// when incident integration is disabled; the notifier is nil-safe by
// contract. Everything else is required.
func NewService(cfg *config.ExecutorConfig, incCfg *config.IncidentConfig, queues Requeuer, archiver Archiver, incident IncidentAPI, outcomes OutcomeStore, bus Publisher, redactor *redact.Service, notifier *slack.Service) *Service {
	if cfg == nil || incCfg == nil {
		panic("executor.NewService: config must not be nil")
	}
	if queues == nil || archiver == nil || outcomes == nil || bus == nil {
		panic("executor.NewService: queues, archiver, outcomes and bus must not be nil")
	}
	if redactor == nil {
		panic("executor.NewService: redactor must not be nil")
	}
	return &Service{
		cfg:      cfg,
		incCfg:   incCfg,
		queues:   queues,
		archive:  archiver,
		incident: incident,
		records:  outcomes,
		bus:      bus,
		redactor: redactor,
		notifier: notifier,
	}
}

// HandleClassified is the bus handler for MessageClassified events.
func (s *Service) HandleClassified(ctx context.Context, event *models.Event) error {
	var payload models.ClassifiedPayload
	if err := json.Unmarshal(event.Detail, &payload); err != nil {
		// A redelivery cannot fix a malformed detail.
		slog.Error("Dropping classified event with unreadable detail",
			"event_id", event.ID, "error", err)
		return nil
	}
	return s.Execute(ctx, &payload)
}

// Execute dispatches one classification to its action handler and records
// the outcome. An unknown category is an error so the bus redelivers the
// event; a corrupted category on a well-formed event deserves another look,
// not a silent drop.
func (s *Service) Execute(ctx context.Context, payload *models.ClassifiedPayload) error {
	msg := &payload.Message
	cls := &payload.Classification

	started := time.Now()
	var (
		upd records.OutcomeUpdate
		err error
	)
	switch cls.Category {
	case models.CategoryTransient:
		upd, err = s.replay(ctx, msg, cls)
	case models.CategoryPoisonPill:
		upd, err = s.archivePill(ctx, msg, cls)
	case models.CategorySystemic:
		upd, err = s.escalate(ctx, msg, cls)
	default:
		return fmt.Errorf("unknown classification category %q for message %s", cls.Category, msg.MessageID)
	}

	// Handler failures still get their FAILED outcome persisted before the
	// event goes back to the bus.
	if recErr := s.records.RecordOutcome(ctx, msg.MessageID, upd); recErr != nil {
		if err != nil {
			return fmt.Errorf("record outcome after handler failure (%v): %w", err, recErr)
		}
		return fmt.Errorf("record outcome for %s: %w", msg.MessageID, recErr)
	}

	metrics.ActionsExecuted.WithLabelValues(string(cls.Category.Action()), string(upd.Outcome)).Inc()
	metrics.StageDuration.WithLabelValues("executor").Observe(time.Since(started).Seconds())
	logFields := []any{
		"message_id", msg.MessageID,
		"source_queue", msg.SourceQueue,
		"category", cls.Category,
		"action", cls.Category.Action(),
		"outcome", upd.Outcome,
		"latency_ms", time.Since(started).Milliseconds(),
	}
	if err != nil {
		slog.Warn("Action failed, leaving event for redelivery", append(logFields, "error", err)...)
		return err
	}
	slog.Info("Action executed", logFields...)
	return nil
}

// failed builds a FAILED outcome carrying the reason.
func failed(reason string) records.OutcomeUpdate {
	return records.OutcomeUpdate{
		Outcome:       models.OutcomeFailed,
		FailureReason: &reason,
	}
}
