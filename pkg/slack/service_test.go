package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverloop/redrive/pkg/config"
)

func enabledConfig() *config.NotificationsConfig {
	enabled := true
	cfg := config.DefaultNotificationsConfig()
	cfg.Enabled = &enabled
	cfg.Channel = "C123"
	return cfg
}

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	t.Run("NotifyPoisonPill is no-op", func(_ *testing.T) {
		// Should not panic
		s.NotifyPoisonPill(context.Background(), PoisonPillInput{MessageID: "msg-1"})
	})

	t.Run("NotifyEscalation is no-op", func(_ *testing.T) {
		s.NotifyEscalation(context.Background(), EscalationInput{MessageID: "msg-1"})
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when disabled", func(t *testing.T) {
		cfg := config.DefaultNotificationsConfig()
		cfg.Channel = "C123"
		t.Setenv(cfg.TokenEnv, "xoxb-test")
		assert.Nil(t, NewService(cfg))
	})

	t.Run("returns nil when token missing", func(t *testing.T) {
		cfg := enabledConfig()
		t.Setenv(cfg.TokenEnv, "")
		assert.Nil(t, NewService(cfg))
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		cfg := enabledConfig()
		cfg.Channel = ""
		t.Setenv(cfg.TokenEnv, "xoxb-test")
		assert.Nil(t, NewService(cfg))
	})

	t.Run("returns service when configured", func(t *testing.T) {
		cfg := enabledConfig()
		t.Setenv(cfg.TokenEnv, "xoxb-test")
		assert.NotNil(t, NewService(cfg))
	})
}

func TestNotifyPoisonPillPostsMessage(t *testing.T) {
	captured := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		captured <- r.Form.Get("channel") + "|" + r.Form.Get("blocks")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1234.5678"}`))
	}))
	defer server.Close()

	svc := NewServiceWithClient(NewClientWithAPIURL("xoxb-test", "C123", server.URL+"/"))
	svc.NotifyPoisonPill(context.Background(), PoisonPillInput{
		MessageID:       "msg-001",
		SourceQueue:     "orders-dlq",
		ArchiveLocation: "s3://dlq-archive/key",
	})

	select {
	case got := <-captured:
		require.Contains(t, got, "C123|")
		assert.Contains(t, got, "Poison Pill Detected: orders-dlq")
		assert.Contains(t, got, "s3://dlq-archive/key")
	default:
		t.Fatal("no request reached the Slack API")
	}
}

func TestNotifyEscalationFailsOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewServiceWithClient(NewClientWithAPIURL("xoxb-test", "C123", server.URL+"/"))

	// Must not panic or block; failures are logged only.
	svc.NotifyEscalation(context.Background(), EscalationInput{
		MessageID:   "msg-001",
		SourceQueue: "orders-dlq",
	})
}
