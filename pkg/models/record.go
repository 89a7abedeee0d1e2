package models

import "time"

// ClassificationRecord is the persisted audit record for one classified
// message, keyed by message_id. Records expire after the configured
// retention window.
type ClassificationRecord struct {
	MessageID           string      `db:"message_id" json:"message_id"`
	SourceQueue         string      `db:"source_queue" json:"source_queue"`
	Category            Category    `db:"category" json:"category"`
	Confidence          float64     `db:"confidence" json:"confidence"`
	Reasoning           string      `db:"reasoning" json:"reasoning"`
	ModelTag            string      `db:"model_tag" json:"model_tag"`
	TokensInput         int         `db:"tokens_input" json:"tokens_input"`
	TokensOutput        int         `db:"tokens_output" json:"tokens_output"`
	ActionTaken         ActionTaken `db:"action_taken" json:"action_taken"`
	Outcome             Outcome     `db:"outcome" json:"outcome"`
	RetryCount          int         `db:"retry_count" json:"retry_count"`
	RetryScheduledFor   *time.Time  `db:"retry_scheduled_for" json:"retry_scheduled_for,omitempty"`
	ArchiveLocation     *string     `db:"archive_location" json:"archive_location,omitempty"`
	IncidentKey         *string     `db:"incident_key" json:"incident_key,omitempty"`
	SuspectedDeployment *string     `db:"suspected_deployment" json:"suspected_deployment,omitempty"`
	SimilarFailures     int         `db:"similar_failures" json:"similar_failures"`
	SemanticHash        string      `db:"semantic_hash" json:"semantic_hash"`
	FailureReason       *string     `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	ExpiresAt           time.Time   `db:"expires_at" json:"expires_at"`
}

// RecordFilters contains filtering options for listing classification records.
type RecordFilters struct {
	Queue        string     `json:"queue,omitempty"`
	Category     Category   `json:"category,omitempty"`
	SemanticHash string     `json:"semantic_hash,omitempty"`
	Deployment   string     `json:"deployment,omitempty"`
	Since        *time.Time `json:"since,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// CategoryCount is one row of the per-category statistics query.
type CategoryCount struct {
	Category Category `db:"category" json:"category"`
	Count    int      `db:"count" json:"count"`
}
