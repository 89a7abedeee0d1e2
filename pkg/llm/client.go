// Package llm classifies dead-letter failures through the Anthropic
// Messages API. The client enforces a hard per-call deadline and a strict
// JSON response contract; anything else surfaces as an error so the caller
// can take its conservative fallback path instead of trusting bad output.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/redact"
)

// Result is a validated classification verdict from the model.
type Result struct {
	Category   models.Category
	Confidence float64
	Reasoning  string
	ModelTag   string
	Tokens     models.TokenUsage
}

// Client wraps the Anthropic API with a circuit breaker and a hard
// per-call timeout.
type Client struct {
	api         anthropic.Client
	redactor    *redact.Service
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
}

// NewClient creates an LLM client from configuration. The API key is read
// from the environment variable named by cfg.APIKeyEnv.
func NewClient(cfg *config.LLMConfig, redactor *redact.Service) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("LLM API key not set: %s", cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		// Failed calls take the fallback path; SDK-internal retries would
		// only eat into the classification deadline.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "anthropic",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LLM circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	slog.Info("LLM client configured", "model", cfg.Model, "timeout", cfg.Timeout())

	return &Client{
		api:         anthropic.NewClient(opts...),
		redactor:    redactor,
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout(),
		breaker:     breaker,
	}, nil
}

// Classify asks the model to categorize one enriched message. Errors cover
// timeouts, transport failures, an open breaker and contract violations;
// the caller decides what a failed classification means.
func (c *Client) Classify(ctx context.Context, msg *models.EnrichedMessage) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildPrompt(c.redactor, msg)

	resp, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(c.model),
			MaxTokens:   c.maxTokens,
			Temperature: anthropic.Float(c.temperature),
			System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("classification call failed: %w", err)
	}

	message := resp.(*anthropic.Message)
	verdict, err := parseVerdict(responseText(message))
	if err != nil {
		return nil, err
	}

	return &Result{
		Category:   verdict.Category,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		ModelTag:   c.model,
		Tokens: models.TokenUsage{
			Input:  int(message.Usage.InputTokens),
			Output: int(message.Usage.OutputTokens),
		},
	}, nil
}

// responseText concatenates the text blocks of a reply.
func responseText(message *anthropic.Message) string {
	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

type verdict struct {
	Category   models.Category `json:"category"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// parseVerdict extracts and validates the JSON verdict from the model
// reply. The contract is strict: invalid output is an error, never repaired.
func parseVerdict(text string) (*verdict, error) {
	raw, err := firstJSONObject(text)
	if err != nil {
		return nil, err
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("malformed verdict JSON: %w", err)
	}
	if !v.Category.IsValid() {
		return nil, fmt.Errorf("verdict category %q is not valid", v.Category)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("verdict confidence %v out of range", v.Confidence)
	}
	if strings.TrimSpace(v.Reasoning) == "" {
		return nil, errors.New("verdict reasoning is empty")
	}
	return &v, nil
}

// firstJSONObject returns the first balanced {...} in text. Models wrap
// replies in markdown fences often enough that scanning beats stripping.
func firstJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errors.New("no JSON object in model reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", errors.New("unterminated JSON object in model reply")
}
