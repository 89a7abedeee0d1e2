package slack

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/recoverloop/redrive/pkg/config"
)

// PoisonPillInput contains data for a poison-pill notification.
type PoisonPillInput struct {
	MessageID       string
	SourceQueue     string
	ArchiveLocation string
	ErrorExcerpt    string
}

// EscalationInput contains data for a systemic-escalation notification.
type EscalationInput struct {
	MessageID    string
	SourceQueue  string
	ErrorType    string
	Severity     string
	IncidentKey  string
	SimilarCount int
	Reasoning    string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack notification service. Returns nil when
// notifications are disabled or the token or channel is missing; the nil
// service swallows every call.
func NewService(cfg *config.NotificationsConfig) *Service {
	if cfg == nil || !cfg.NotificationsEnabled() {
		return nil
	}

	token := os.Getenv(cfg.TokenEnv)
	if token == "" || cfg.Channel == "" {
		slog.Warn("Slack notifications enabled but token or channel missing, disabling",
			"token_env", cfg.TokenEnv,
			"channel", cfg.Channel)
		return nil
	}

	return &Service{
		client: NewClient(token, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NotifyPoisonPill announces an archived poison pill.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyPoisonPill(ctx context.Context, input PoisonPillInput) {
	if s == nil {
		return
	}

	blocks := BuildPoisonPillMessage(input)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("Failed to send poison-pill notification",
			"message_id", input.MessageID,
			"source_queue", input.SourceQueue,
			"error", err)
	}
}

// NotifyEscalation announces a triggered incident.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyEscalation(ctx context.Context, input EscalationInput) {
	if s == nil {
		return
	}

	blocks := BuildEscalationMessage(input)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("Failed to send escalation notification",
			"message_id", input.MessageID,
			"source_queue", input.SourceQueue,
			"incident_key", input.IncidentKey,
			"error", err)
	}
}
