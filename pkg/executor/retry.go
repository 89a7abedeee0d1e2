package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/records"
)

// Replay attribute names attached to re-enqueued messages.
const (
	attrRetryCount        = "retryCount"
	attrOriginalMessageID = "originalMessageId"
	attrCategory          = "classificationCategory"
)

const reasonMaxRetries = "max retries"

// replay re-enqueues a transient failure onto its original queue after a
// backoff. The cap here is a second guard behind the Monitor's ledger cap:
// it bounds re-enqueues the way the ledger bounds re-deliveries.
func (s *Service) replay(ctx context.Context, msg *models.EnrichedMessage, cls *models.Classification) (records.OutcomeUpdate, error) {
	if !s.cfg.AutoReplayEnabled() {
		return failed("auto-replay disabled"), nil
	}
	if msg.RetryCount >= s.cfg.MaxRetries {
		// Terminal, not retryable: do not escalate and do not hand the
		// event back to the bus.
		return failed(reasonMaxRetries), nil
	}

	delay := s.replayDelay(msg.RetryCount, cls)
	attrs := map[string]string{
		attrRetryCount:        strconv.Itoa(msg.RetryCount + 1),
		attrOriginalMessageID: msg.MessageID,
		attrCategory:          string(cls.Category),
	}

	target := OriginalQueue(msg.SourceQueue)
	if err := s.queues.SendWithDelay(ctx, target, msg.Body, attrs, delay); err != nil {
		return failed("re-enqueue failed"), fmt.Errorf("re-enqueue %s to %s: %w", msg.MessageID, target, err)
	}

	// Downstream success is not directly observable; the record stays
	// PENDING until a genuine re-delivery proves otherwise.
	scheduled := time.Now().UTC().Add(delay)
	return records.OutcomeUpdate{
		Outcome:           models.OutcomePending,
		RetryScheduledFor: &scheduled,
	}, nil
}

// replayDelay prefers the Analyzer's recommendation and falls back to the
// configured backoff, never exceeding the queue-service delay maximum.
func (s *Service) replayDelay(retryCount int, cls *models.Classification) time.Duration {
	max := s.cfg.BackoffMax()
	if r := cls.RecommendedAction.RetryDelayS; r > 0 {
		delay := time.Duration(r) * time.Second
		if delay > max {
			return max
		}
		return delay
	}
	return models.BackoffDelay(retryCount, s.cfg.BackoffBase(), max)
}

// OriginalQueue maps a DLQ name back to the queue its messages came from
// ("payment-processing-dlq" replays into "payment-processing").
func OriginalQueue(dlq string) string {
	if name := strings.TrimSuffix(dlq, "-dlq"); name != dlq {
		return name
	}
	if name := strings.TrimSuffix(dlq, "_dlq"); name != dlq {
		return name
	}
	return dlq
}
