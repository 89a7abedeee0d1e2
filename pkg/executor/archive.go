package executor

import (
	"context"
	"fmt"

	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/records"
	"github.com/recoverloop/redrive/pkg/redact"
	"github.com/recoverloop/redrive/pkg/slack"
)

const excerptLen = 200

// archivePill stores a poison pill in the object store and then alerts.
// The archive write comes first: the alert references the location, and an
// alert retry overwrites the same object idempotently.
func (s *Service) archivePill(ctx context.Context, msg *models.EnrichedMessage, cls *models.Classification) (records.OutcomeUpdate, error) {
	location, err := s.archive.Put(ctx, msg, cls)
	if err != nil {
		return failed("archive write failed"), fmt.Errorf("archive poison pill %s: %w", msg.MessageID, err)
	}

	excerpt := redact.Truncate(s.redactor.Redact(msg.ErrorPattern.Message), excerptLen)
	alert := models.PoisonPillAlert{
		Subject:         "Poison Pill Detected: " + msg.SourceQueue,
		MessageID:       msg.MessageID,
		SourceQueue:     msg.SourceQueue,
		ArchiveLocation: location,
		ErrorExcerpt:    excerpt,
	}
	event, err := models.NewEvent(models.EventSourceExecutor, models.DetailTypePoisonPillAlert, alert)
	if err != nil {
		return failed("alert encode failed"), err
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		return failed("alert publish failed"), fmt.Errorf("publish poison-pill alert for %s: %w", msg.MessageID, err)
	}

	s.notifier.NotifyPoisonPill(ctx, slack.PoisonPillInput{
		MessageID:       msg.MessageID,
		SourceQueue:     msg.SourceQueue,
		ArchiveLocation: location,
		ErrorExcerpt:    excerpt,
	})

	return records.OutcomeUpdate{
		Outcome:         models.OutcomeSuccess,
		ArchiveLocation: &location,
	}, nil
}
