package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/redact"
)

// maxPromptMessageLen caps the error message included in a prompt.
const maxPromptMessageLen = 500

const systemPrompt = `You are a dead-letter queue triage engine. Classify why the described message failed processing.

Respond with exactly one JSON object and nothing else:
{"category": "TRANSIENT" | "POISON_PILL" | "SYSTEMIC", "confidence": <number between 0.0 and 1.0>, "reasoning": "<one or two sentences>"}

TRANSIENT: a temporary condition (timeout, throttling, connection reset) likely to succeed on replay.
POISON_PILL: the message content itself can never be processed (malformed payload, schema violation, impossible values).
SYSTEMIC: an environmental or downstream fault affecting many messages (bad deployment, dependency outage, misconfiguration).`

// buildPrompt renders the classification prompt for one enriched message.
// Every free-text field is redacted before inclusion; raw bodies never
// leave the process.
func buildPrompt(r *redact.Service, msg *models.EnrichedMessage) string {
	p := msg.ErrorPattern

	var b strings.Builder
	fmt.Fprintf(&b, "Source queue: %s\n", msg.SourceQueue)
	fmt.Fprintf(&b, "Affected service: %s\n", p.AffectedService)
	fmt.Fprintf(&b, "Error type: %s\n", p.Type)
	if p.Code != "" {
		fmt.Fprintf(&b, "Error code: %s\n", p.Code)
	}
	fmt.Fprintf(&b, "Error message: %s\n", redact.Truncate(r.Redact(p.Message), maxPromptMessageLen))
	if len(p.StackTop) > 0 {
		b.WriteString("Stack top:\n")
		for _, frame := range r.RedactAll(p.StackTop) {
			fmt.Fprintf(&b, "  %s\n", frame)
		}
	}
	fmt.Fprintf(&b, "Retry count: %d\n", msg.RetryCount)
	fmt.Fprintf(&b, "Similar failures in the last hour: %d\n", msg.SimilarFailuresLastHour)
	if len(msg.RecentDeployments) > 0 {
		b.WriteString("Recent deployments:\n")
		for _, d := range msg.RecentDeployments {
			name := d.Service
			if name == "" {
				name = d.ID
			}
			line := fmt.Sprintf("%s version %s at %s", name, d.Version, d.DeployedAt.UTC().Format(time.RFC3339))
			fmt.Fprintf(&b, "  - %s\n", r.Redact(line))
		}
	}
	return b.String()
}
