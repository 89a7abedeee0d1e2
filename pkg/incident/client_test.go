package incident

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
)

func testMessage() *models.EnrichedMessage {
	return &models.EnrichedMessage{
		DLQMessage: models.DLQMessage{
			MessageID:   "msg-001",
			SourceQueue: "orders-dlq",
		},
		RetryCount:              2,
		SimilarFailuresLastHour: 15,
		RecentDeployments: []models.Deployment{
			{ID: "dep-1", Service: "orders", Version: "v2.4.1", DeployedAt: time.Now().Add(-10 * time.Minute)},
		},
		ErrorPattern: models.ErrorPattern{
			Type:            "TimeoutError",
			Message:         "timeout after 5000ms calling billing",
			AffectedService: "Orders",
		},
	}
}

func testClassification() *models.Classification {
	return &models.Classification{
		Category:            models.CategorySystemic,
		Confidence:          0.92,
		Reasoning:           "spike correlated with recent deployment",
		SuspectedDeployment: "v2.4.1",
		RecommendedAction: models.RecommendedAction{
			Action:      models.ActionEscalate,
			Severity:    "P1",
			HumanReview: true,
		},
	}
}

func newTestClient(t *testing.T, handler http.Handler, maxAttempts int) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.DefaultIncidentConfig()
	cfg.URL = server.URL
	cfg.MaxAttempts = maxAttempts
	t.Setenv(cfg.RoutingKeyEnv, "rk-test")

	client, err := NewClient(cfg, "redrive")
	require.NoError(t, err)
	client.initialInterval = time.Millisecond
	client.maxInterval = 5 * time.Millisecond
	return client
}

func TestTriggerPostsEvent(t *testing.T) {
	captured := make(chan Event, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		_ = json.NewDecoder(r.Body).Decode(&event)
		captured <- event
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":    "success",
			"dedup_key": event.DedupKey,
		})
	})
	client := newTestClient(t, handler, 3)

	key, err := client.Trigger(context.Background(), testMessage(), testClassification())
	require.NoError(t, err)
	assert.Equal(t, "redrive-systemic-orders-dlq-TimeoutError", key)

	event := <-captured
	assert.Equal(t, "rk-test", event.RoutingKey)
	assert.Equal(t, "trigger", event.EventAction)
	assert.Equal(t, "redrive-systemic-orders-dlq-TimeoutError", event.DedupKey)
	assert.Equal(t, "critical", event.Payload.Severity)
	assert.Equal(t, "redrive-dlq-orders-dlq", event.Payload.Source)
	assert.Contains(t, event.Payload.Summary, "orders-dlq")
	assert.Contains(t, event.Payload.Summary, "TimeoutError")

	details := event.Payload.CustomDetails
	assert.Equal(t, "msg-001", details["message_id"])
	assert.Equal(t, "TimeoutError", details["error_type"])
	assert.Equal(t, float64(15), details["similar_failures"])
	assert.Equal(t, "v2.4.1", details["suspected_deployment"])
	assert.Equal(t, "spike correlated with recent deployment", details["reasoning"])
}

func TestTriggerUsesEchoedDedupKey(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":    "success",
			"dedup_key": "server-assigned-key",
		})
	})
	client := newTestClient(t, handler, 3)

	key, err := client.Trigger(context.Background(), testMessage(), testClassification())
	require.NoError(t, err)
	assert.Equal(t, "server-assigned-key", key)
}

func TestTriggerRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success", "dedup_key": "k"})
	})
	client := newTestClient(t, handler, 3)

	key, err := client.Trigger(context.Background(), testMessage(), testClassification())
	require.NoError(t, err)
	assert.Equal(t, "k", key)
	assert.Equal(t, int32(3), hits.Load())
}

func TestTriggerDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	client := newTestClient(t, handler, 3)

	_, err := client.Trigger(context.Background(), testMessage(), testClassification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), hits.Load())
}

func TestTriggerFailsAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client := newTestClient(t, handler, 2)

	_, err := client.Trigger(context.Background(), testMessage(), testClassification())
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTriggerBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client := newTestClient(t, handler, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.Trigger(ctx, testMessage(), testClassification())
		require.Error(t, err)
	}
	require.Equal(t, int32(5), hits.Load())

	_, err := client.Trigger(ctx, testMessage(), testClassification())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), hits.Load(), "open breaker fails fast without a call")
}

func TestNewClientRequiresRoutingKey(t *testing.T) {
	cfg := config.DefaultIncidentConfig()
	t.Setenv(cfg.RoutingKeyEnv, "")

	client, err := NewClient(cfg, "redrive")
	require.Error(t, err)
	assert.Nil(t, client)
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"P1", "critical"},
		{"P2", "error"},
		{"P3", "warning"},
		{"p1", "critical"},
		{" P3 ", "warning"},
		{"", "error"},
		{"P9", "error"},
	}
	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityFor(tt.severity))
		})
	}
}

func TestDedupKey(t *testing.T) {
	key := DedupKey("redrive", "orders-dlq", "TimeoutError")
	assert.Equal(t, "redrive-systemic-orders-dlq-TimeoutError", key)
}
