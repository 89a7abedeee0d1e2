package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/redact"
)

func testMessage() *models.EnrichedMessage {
	return &models.EnrichedMessage{
		DLQMessage: models.DLQMessage{
			MessageID:   "msg-001",
			SourceQueue: "orders-dlq",
			Body:        `{"error":{"name":"TimeoutError","message":"timeout after 5000ms"}}`,
		},
		RetryCount:              1,
		SimilarFailuresLastHour: 3,
		RecentDeployments: []models.Deployment{
			{ID: "dep-1", Service: "orders", Version: "v2.4.1", DeployedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)},
		},
		ErrorPattern: models.ErrorPattern{
			Type:            "TimeoutError",
			Message:         "timeout after 5000ms calling billing for bob@example.com",
			StackTop:        []string{"at processOrder (handler.js:42)"},
			Code:            "ETIMEDOUT",
			AffectedService: "Orders",
		},
	}
}

func newTestClient(t *testing.T, handler http.Handler, timeout time.Duration) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	cfg := config.DefaultLLMConfig()
	cfg.BaseURL = srv.URL
	cfg.TimeoutMS = int(timeout.Milliseconds())

	client, err := NewClient(cfg, redact.NewService(nil))
	require.NoError(t, err)
	return client
}

func writeReply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-3-5-haiku-latest",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 210, "output_tokens": 46},
	})
}

func TestClassify(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		writeReply(w, "```json\n{\"category\": \"TRANSIENT\", \"confidence\": 0.92, \"reasoning\": \"Timeout calling a dependency, likely to succeed on replay.\"}\n```")
	}), 2*time.Second)

	result, err := client.Classify(context.Background(), testMessage())
	require.NoError(t, err)

	assert.Equal(t, models.CategoryTransient, result.Category)
	assert.Equal(t, 0.92, result.Confidence)
	assert.Contains(t, result.Reasoning, "Timeout")
	assert.Equal(t, "claude-3-5-haiku-latest", result.ModelTag)
	assert.Equal(t, 210, result.Tokens.Input)
	assert.Equal(t, 46, result.Tokens.Output)
}

type capturedRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	System      []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func TestClassifyRequestShape(t *testing.T) {
	got := make(chan capturedRequest, 1)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		got <- req
		writeReply(w, `{"category": "SYSTEMIC", "confidence": 0.88, "reasoning": "Failure spike after deployment."}`)
	}), 2*time.Second)

	_, err := client.Classify(context.Background(), testMessage())
	require.NoError(t, err)

	req := <-got
	assert.Equal(t, "claude-3-5-haiku-latest", req.Model)
	assert.Equal(t, 1024, req.MaxTokens)
	assert.LessOrEqual(t, req.Temperature, 0.2)

	require.Len(t, req.System, 1)
	assert.Contains(t, req.System[0].Text, "JSON object")

	require.Len(t, req.Messages, 1)
	require.Equal(t, "user", req.Messages[0].Role)
	require.Len(t, req.Messages[0].Content, 1)

	prompt := req.Messages[0].Content[0].Text
	assert.Contains(t, prompt, "Source queue: orders-dlq")
	assert.Contains(t, prompt, "Error type: TimeoutError")
	assert.Contains(t, prompt, "Error code: ETIMEDOUT")
	assert.Contains(t, prompt, "Retry count: 1")
	assert.Contains(t, prompt, "Similar failures in the last hour: 3")
	assert.Contains(t, prompt, "orders version v2.4.1")
	assert.Contains(t, prompt, "__REDACTED_EMAIL__")
	assert.NotContains(t, prompt, "bob@example.com")
}

func TestClassifyServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"api_error","message":"overloaded"}}`, http.StatusInternalServerError)
	}), 2*time.Second)

	result, err := client.Classify(context.Background(), testMessage())
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestClassifyInvalidVerdict(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeReply(w, "I am unable to classify this message with confidence.")
	}), 2*time.Second)

	result, err := client.Classify(context.Background(), testMessage())
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestClassifyTimeout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}), 100*time.Millisecond)

	start := time.Now()
	_, err := client.Classify(context.Background(), testMessage())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClassifyBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"type":"error","error":{"type":"api_error","message":"down"}}`, http.StatusInternalServerError)
	}), 2*time.Second)

	msg := testMessage()
	for i := 0; i < 5; i++ {
		_, err := client.Classify(context.Background(), msg)
		require.Error(t, err)
	}
	require.EqualValues(t, 5, hits.Load())

	_, err := client.Classify(context.Background(), msg)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 5, hits.Load(), "open breaker should not reach the server")
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewClient(config.DefaultLLMConfig(), redact.NewService(nil))
	require.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    *verdict
		wantErr bool
	}{
		{
			name: "plain object",
			text: `{"category":"TRANSIENT","confidence":0.92,"reasoning":"timeout"}`,
			want: &verdict{Category: models.CategoryTransient, Confidence: 0.92, Reasoning: "timeout"},
		},
		{
			name: "markdown fenced",
			text: "```json\n{\"category\":\"POISON_PILL\",\"confidence\":0.8,\"reasoning\":\"schema violation\"}\n```",
			want: &verdict{Category: models.CategoryPoisonPill, Confidence: 0.8, Reasoning: "schema violation"},
		},
		{
			name: "leading prose",
			text: `Based on the evidence: {"category":"SYSTEMIC","confidence":0.75,"reasoning":"deploy correlated"}`,
			want: &verdict{Category: models.CategorySystemic, Confidence: 0.75, Reasoning: "deploy correlated"},
		},
		{
			name: "braces inside strings",
			text: `{"category":"TRANSIENT","confidence":0.9,"reasoning":"payload contained {odd} braces"}`,
			want: &verdict{Category: models.CategoryTransient, Confidence: 0.9, Reasoning: "payload contained {odd} braces"},
		},
		{
			name:    "no object",
			text:    "cannot classify",
			wantErr: true,
		},
		{
			name:    "unterminated object",
			text:    `{"category":"TRANSIENT","confidence":0.9`,
			wantErr: true,
		},
		{
			name:    "unknown category",
			text:    `{"category":"RETRYABLE","confidence":0.9,"reasoning":"x"}`,
			wantErr: true,
		},
		{
			name:    "lowercase category is not repaired",
			text:    `{"category":"transient","confidence":0.9,"reasoning":"x"}`,
			wantErr: true,
		},
		{
			name:    "confidence above one",
			text:    `{"category":"TRANSIENT","confidence":1.2,"reasoning":"x"}`,
			wantErr: true,
		},
		{
			name:    "negative confidence",
			text:    `{"category":"TRANSIENT","confidence":-0.1,"reasoning":"x"}`,
			wantErr: true,
		},
		{
			name:    "blank reasoning",
			text:    `{"category":"TRANSIENT","confidence":0.9,"reasoning":"   "}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPromptTruncatesLongMessage(t *testing.T) {
	msg := testMessage()
	msg.ErrorPattern.Message = strings.Repeat("a", 800)

	prompt := buildPrompt(redact.NewService(nil), msg)
	assert.Contains(t, prompt, strings.Repeat("a", 500)+"...")
	assert.NotContains(t, prompt, strings.Repeat("a", 501))
}
