package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event sources.
const (
	EventSourceMonitor  = "monitor"
	EventSourceAnalyzer = "analyzer"
	EventSourceExecutor = "executor"
)

// Event detail types. The classified types double as coarse routing hints:
// each maps to its own routing key on the bus.
const (
	DetailTypeMessageEnriched = "MessageEnriched"
	DetailTypeTransient       = "TransientFailure"
	DetailTypePoisonPill      = "PoisonPillFailure"
	DetailTypeSystemic        = "SystemicFailure"
	DetailTypePoisonPillAlert = "PoisonPillAlert"
)

// DetailTypeFor returns the classified-event detail type for a category.
func DetailTypeFor(c Category) string {
	switch c {
	case CategoryTransient:
		return DetailTypeTransient
	case CategoryPoisonPill:
		return DetailTypePoisonPill
	default:
		return DetailTypeSystemic
	}
}

// Event is the envelope for every message on the bus.
type Event struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail_type"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

// NewEvent wraps a detail payload in a bus envelope. The envelope ID is
// for log correlation only; idempotency keys live in the detail.
func NewEvent(source, detailType string, detail any) (*Event, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode %s detail: %w", detailType, err)
	}
	return &Event{
		ID:         uuid.NewString(),
		Source:     source,
		DetailType: detailType,
		Time:       time.Now().UTC(),
		Detail:     raw,
	}, nil
}

// ClassifiedPayload is the detail of a MessageClassified event.
type ClassifiedPayload struct {
	Message        EnrichedMessage `json:"message"`
	Classification Classification  `json:"classification"`
}

// PoisonPillAlert is the detail of the alert published after a poison pill
// has been archived.
type PoisonPillAlert struct {
	Subject         string `json:"subject"`
	MessageID       string `json:"message_id"`
	SourceQueue     string `json:"source_queue"`
	ArchiveLocation string `json:"archive_location"`
	// ErrorExcerpt is the extracted error message, capped at 200 characters.
	ErrorExcerpt string `json:"error_excerpt"`
}
