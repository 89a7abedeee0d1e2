package slack

import (
	"fmt"
	"strings"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var severityEmoji = map[string]string{
	"critical": ":rotating_light:",
	"error":    ":x:",
	"warning":  ":warning:",
}

// BuildPoisonPillMessage creates Block Kit blocks for a poison-pill notice.
func BuildPoisonPillMessage(input PoisonPillInput) []goslack.Block {
	header := fmt.Sprintf(":skull_and_crossbones: *Poison Pill Detected: %s*", input.SourceQueue)

	body := fmt.Sprintf("*Message:* `%s`\n*Archived at:* `%s`", input.MessageID, input.ArchiveLocation)
	if input.ErrorExcerpt != "" {
		body += fmt.Sprintf("\n*Error:* %s", truncateForSlack(input.ErrorExcerpt))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}
}

// BuildEscalationMessage creates Block Kit blocks for a systemic escalation notice.
func BuildEscalationMessage(input EscalationInput) []goslack.Block {
	emoji := severityEmoji[strings.ToLower(input.Severity)]
	if emoji == "" {
		emoji = ":x:"
	}
	header := fmt.Sprintf("%s *Systemic Failure Escalated: %s*", emoji, input.SourceQueue)

	body := fmt.Sprintf("*Error type:* `%s`\n*Incident:* `%s`\n*Similar failures in the last hour:* %d",
		input.ErrorType, input.IncidentKey, input.SimilarCount)
	if input.Reasoning != "" {
		body += fmt.Sprintf("\n*Assessment:* %s", truncateForSlack(input.Reasoning))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated)_"
}
