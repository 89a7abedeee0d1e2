package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/recoverloop/redrive/pkg/incident"
	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/records"
	"github.com/recoverloop/redrive/pkg/slack"
)

// incidentKeyDisabled is recorded when incident integration is switched
// off: the escalation intent stays on the record, nothing external is
// attempted.
const incidentKeyDisabled = "disabled"

// escalate opens an incident for a systemic failure. Repeated escalations
// for the same queue and error type collapse into one incident through the
// deterministic dedup key.
func (s *Service) escalate(ctx context.Context, msg *models.EnrichedMessage, cls *models.Classification) (records.OutcomeUpdate, error) {
	if !s.incCfg.IntegrationEnabled() || s.incident == nil {
		slog.Info("Incident integration disabled, recording escalation without incident",
			"message_id", msg.MessageID, "source_queue", msg.SourceQueue)
		key := incidentKeyDisabled
		return records.OutcomeUpdate{
			Outcome:     models.OutcomeSuccess,
			IncidentKey: &key,
		}, nil
	}

	key, err := s.incident.Trigger(ctx, msg, cls)
	if err != nil {
		return failed("incident trigger failed"), fmt.Errorf("escalate %s: %w", msg.MessageID, err)
	}

	s.notifier.NotifyEscalation(ctx, slack.EscalationInput{
		MessageID:    msg.MessageID,
		SourceQueue:  msg.SourceQueue,
		ErrorType:    msg.ErrorPattern.Type,
		Severity:     incident.SeverityFor(cls.RecommendedAction.Severity),
		IncidentKey:  key,
		SimilarCount: msg.SimilarFailuresLastHour,
		Reasoning:    cls.Reasoning,
	})

	return records.OutcomeUpdate{
		Outcome:     models.OutcomeSuccess,
		IncidentKey: &key,
	}, nil
}
