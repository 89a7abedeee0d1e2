// Package incident turns systemic failures into incidents through a
// PagerDuty-compatible events API. Escalations for the same queue and error
// type share a deterministic dedup key, so repeated classifications collapse
// into one incident instead of paging once per message.
package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
)

const eventActionTrigger = "trigger"

// Event is the body posted to the incident events endpoint.
type Event struct {
	RoutingKey  string  `json:"routing_key"`
	EventAction string  `json:"event_action"`
	DedupKey    string  `json:"dedup_key"`
	Payload     Payload `json:"payload"`
}

// Payload carries the human-facing incident fields.
type Payload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	CustomDetails map[string]any `json:"custom_details,omitempty"`
}

type ack struct {
	Status   string `json:"status"`
	DedupKey string `json:"dedup_key"`
}

// APIError is a non-2xx reply from the incident API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("incident API returned %d: %s", e.Status, e.Body)
}

// Retryable reports whether a later attempt with the same event can succeed.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Client posts incident events with bounded retries behind a circuit breaker.
type Client struct {
	http        *http.Client
	url         string
	routingKey  string
	project     string
	timeout     time.Duration
	maxAttempts int
	breaker     *gobreaker.CircuitBreaker

	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewClient creates an incident client. The routing key is read from the
// environment variable named in the config.
func NewClient(cfg *config.IncidentConfig, project string) (*Client, error) {
	if cfg == nil {
		panic("incident config cannot be nil")
	}

	routingKey := os.Getenv(cfg.RoutingKeyEnv)
	if routingKey == "" {
		return nil, fmt.Errorf("incident routing key not set (%s)", cfg.RoutingKeyEnv)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "incident",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		http:            &http.Client{},
		url:             cfg.URL,
		routingKey:      routingKey,
		project:         project,
		timeout:         cfg.Timeout(),
		maxAttempts:     maxAttempts,
		breaker:         breaker,
		initialInterval: 250 * time.Millisecond,
		maxInterval:     2 * time.Second,
	}, nil
}

// Trigger posts an incident event for a systemic classification and returns
// the incident key acknowledged by the API.
func (c *Client) Trigger(ctx context.Context, msg *models.EnrichedMessage, cls *models.Classification) (string, error) {
	event := c.buildEvent(msg, cls)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval
	// The attempt cap bounds the loop, not wall clock.
	bo.MaxElapsedTime = 0

	var incidentKey string
	operation := func() error {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.post(ctx, event)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		incidentKey = result.(string)
		return nil
	}

	retries := uint64(c.maxAttempts - 1)
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
	if err != nil {
		return "", fmt.Errorf("trigger incident for %s: %w", msg.MessageID, err)
	}

	slog.Info("Incident triggered",
		"message_id", msg.MessageID,
		"source_queue", msg.SourceQueue,
		"incident_key", incidentKey,
		"severity", event.Payload.Severity)
	return incidentKey, nil
}

func (c *Client) post(ctx context.Context, event *Event) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode incident event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build incident request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post incident event: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var a ack
	if err := json.Unmarshal(raw, &a); err != nil || a.DedupKey == "" {
		// The API echoes the dedup key on success; fall back to ours when
		// the reply is not parseable.
		return event.DedupKey, nil
	}
	return a.DedupKey, nil
}

func (c *Client) buildEvent(msg *models.EnrichedMessage, cls *models.Classification) *Event {
	pattern := msg.ErrorPattern

	details := map[string]any{
		"message_id":         msg.MessageID,
		"source_queue":       msg.SourceQueue,
		"error_type":         pattern.Type,
		"error_message":      pattern.Message,
		"retry_count":        msg.RetryCount,
		"similar_failures":   msg.SimilarFailuresLastHour,
		"recent_deployments": msg.RecentDeployments,
		"reasoning":          cls.Reasoning,
		"recommended_action": cls.RecommendedAction,
	}
	if cls.SuspectedDeployment != "" {
		details["suspected_deployment"] = cls.SuspectedDeployment
	}

	return &Event{
		RoutingKey:  c.routingKey,
		EventAction: eventActionTrigger,
		DedupKey:    DedupKey(c.project, msg.SourceQueue, pattern.Type),
		Payload: Payload{
			Summary: fmt.Sprintf("Systemic failure in %s: %s (%d similar in the last hour)",
				msg.SourceQueue, pattern.Type, msg.SimilarFailuresLastHour),
			Severity:      SeverityFor(cls.RecommendedAction.Severity),
			Source:        fmt.Sprintf("%s-dlq-%s", c.project, msg.SourceQueue),
			CustomDetails: details,
		},
	}
}

// DedupKey returns the deterministic incident key for a queue and error type.
func DedupKey(project, sourceQueue, errorType string) string {
	return fmt.Sprintf("%s-systemic-%s-%s", project, sourceQueue, errorType)
}

// SeverityFor maps a recommended-action severity to an incident severity.
func SeverityFor(severity string) string {
	switch strings.ToUpper(strings.TrimSpace(severity)) {
	case "P1":
		return "critical"
	case "P2":
		return "error"
	case "P3":
		return "warning"
	default:
		return "error"
	}
}
