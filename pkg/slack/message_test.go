package slack

import (
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPoisonPillMessage(t *testing.T) {
	blocks := BuildPoisonPillMessage(PoisonPillInput{
		MessageID:       "msg-001",
		SourceQueue:     "orders-dlq",
		ArchiveLocation: "s3://dlq-archive/poison-pills/2026-03-04/orders-dlq/msg-001.json",
		ErrorExcerpt:    "Cannot read property 'length' of null",
	})

	require.Len(t, blocks, 2)

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, "Poison Pill Detected: orders-dlq")

	body := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, body.Text.Text, "msg-001")
	assert.Contains(t, body.Text.Text, "s3://dlq-archive/poison-pills/2026-03-04/orders-dlq/msg-001.json")
	assert.Contains(t, body.Text.Text, "Cannot read property 'length' of null")
}

func TestBuildPoisonPillMessage_NoExcerpt(t *testing.T) {
	blocks := BuildPoisonPillMessage(PoisonPillInput{
		MessageID:       "msg-002",
		SourceQueue:     "payments-dlq",
		ArchiveLocation: "s3://dlq-archive/key",
	})

	require.Len(t, blocks, 2)
	body := blocks[1].(*goslack.SectionBlock)
	assert.NotContains(t, body.Text.Text, "*Error:*")
}

func TestBuildEscalationMessage(t *testing.T) {
	blocks := BuildEscalationMessage(EscalationInput{
		MessageID:    "msg-003",
		SourceQueue:  "orders-dlq",
		ErrorType:    "TimeoutError",
		Severity:     "critical",
		IncidentKey:  "redrive-systemic-orders-dlq-TimeoutError",
		SimilarCount: 15,
		Reasoning:    "spike correlated with recent deployment",
	})

	require.Len(t, blocks, 2)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":rotating_light:")
	assert.Contains(t, header.Text.Text, "Systemic Failure Escalated: orders-dlq")

	body := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, body.Text.Text, "TimeoutError")
	assert.Contains(t, body.Text.Text, "redrive-systemic-orders-dlq-TimeoutError")
	assert.Contains(t, body.Text.Text, "15")
	assert.Contains(t, body.Text.Text, "spike correlated with recent deployment")
}

func TestBuildEscalationMessage_UnknownSeverity(t *testing.T) {
	blocks := BuildEscalationMessage(EscalationInput{
		SourceQueue: "orders-dlq",
		Severity:    "P9",
	})

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":x:")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.Contains(t, result, "truncated")
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		text := strings.Repeat("🔥", maxBlockTextLength+10)
		result := truncateForSlack(text)
		assert.Contains(t, result, "truncated")
		assert.True(t, utf8.ValidString(result), "result should be valid UTF-8")
		prefix := strings.Split(result, "\n\n_...")[0]
		assert.Equal(t, maxBlockTextLength, utf8.RuneCountInString(prefix))
	})
}
