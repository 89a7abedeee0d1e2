package models

import "time"

// DLQMessage is a single message received from a dead-letter queue.
type DLQMessage struct {
	// MessageID is unique within the source queue and keys every
	// downstream effect (ledger entry, record, archive object).
	MessageID string `json:"message_id"`
	// ReceiptToken is the opaque handle required to delete the message
	// from its source queue.
	ReceiptToken string `json:"receipt_token"`
	SourceQueue  string `json:"source_queue"`
	// Body is the raw message payload, opaque to the pipeline.
	Body string `json:"body"`
	// ReceiveCount is how many times the queue service has delivered
	// this message, including deliveries before it reached the DLQ.
	ReceiveCount int   `json:"receive_count"`
	FirstSeenAt  int64 `json:"first_seen_at"`
	LastFailedAt int64 `json:"last_failed_at"`
}

// ErrorPattern is the error identity extracted from a message body.
type ErrorPattern struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	// StackTop holds at most the top three stack frames plus the error line.
	StackTop        []string `json:"stack_top,omitempty"`
	Code            string   `json:"code,omitempty"`
	AffectedService string   `json:"affected_service"`
}

// Deployment is a deployment marker used for systemic-failure correlation.
type Deployment struct {
	ID         string    `db:"id" json:"id"`
	Service    string    `db:"service" json:"service,omitempty"`
	Version    string    `db:"version" json:"version"`
	DeployedAt time.Time `db:"deployed_at" json:"deployed_at"`
	Author     string    `db:"author" json:"author,omitempty"`
}

// EnrichedMessage is the unit flowing from the Monitor to the Analyzer:
// a DLQ message augmented with retry history, the extracted error pattern,
// similar-failure counts and recent deployment context.
type EnrichedMessage struct {
	DLQMessage
	RetryCount              int          `json:"retry_count"`
	SimilarFailuresLastHour int          `json:"similar_failures_last_hour"`
	RecentDeployments       []Deployment `json:"recent_deployments,omitempty"`
	ErrorPattern            ErrorPattern `json:"error_pattern"`
}
