// Package records persists classification records in PostgreSQL and serves
// the queries the pipeline components and the ops API need.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/recoverloop/redrive/pkg/models"
)

// ErrNotFound is returned when no record exists for the requested message.
var ErrNotFound = errors.New("classification record not found")

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

const recordColumns = `message_id, source_queue, category, confidence, reasoning, model_tag, ` +
	`tokens_input, tokens_output, action_taken, outcome, retry_count, ` +
	`retry_scheduled_for, archive_location, incident_key, suspected_deployment, ` +
	`similar_failures, semantic_hash, failure_reason, created_at, expires_at`

// Repository stores classification records.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a repository on top of an open database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a classification record. Re-inserting the same message_id
// overwrites the classification fields so duplicate bus deliveries converge
// on one row; created_at keeps its first value.
func (r *Repository) Insert(ctx context.Context, rec *models.ClassificationRecord) error {
	query := `INSERT INTO classification_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (message_id) DO UPDATE SET
			category = EXCLUDED.category,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			model_tag = EXCLUDED.model_tag,
			tokens_input = EXCLUDED.tokens_input,
			tokens_output = EXCLUDED.tokens_output,
			action_taken = EXCLUDED.action_taken,
			outcome = EXCLUDED.outcome,
			retry_count = EXCLUDED.retry_count,
			suspected_deployment = EXCLUDED.suspected_deployment,
			similar_failures = EXCLUDED.similar_failures,
			semantic_hash = EXCLUDED.semantic_hash,
			expires_at = EXCLUDED.expires_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.MessageID, rec.SourceQueue, rec.Category, rec.Confidence, rec.Reasoning, rec.ModelTag,
		rec.TokensInput, rec.TokensOutput, rec.ActionTaken, rec.Outcome, rec.RetryCount,
		rec.RetryScheduledFor, rec.ArchiveLocation, rec.IncidentKey, rec.SuspectedDeployment,
		rec.SimilarFailures, rec.SemanticHash, rec.FailureReason, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert classification record: %w", err)
	}
	return nil
}

// Get retrieves a single record by message ID.
func (r *Repository) Get(ctx context.Context, messageID string) (*models.ClassificationRecord, error) {
	var rec models.ClassificationRecord
	query := `SELECT ` + recordColumns + ` FROM classification_records WHERE message_id = $1`
	if err := r.db.GetContext(ctx, &rec, query, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get classification record: %w", err)
	}
	return &rec, nil
}

// List returns records matching the filters, newest first.
func (r *Repository) List(ctx context.Context, f models.RecordFilters) ([]models.ClassificationRecord, error) {
	conds := make([]string, 0, 5)
	args := make([]any, 0, 7)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if f.Queue != "" {
		add("source_queue = $%d", f.Queue)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.SemanticHash != "" {
		add("semantic_hash = $%d", f.SemanticHash)
	}
	if f.Deployment != "" {
		add("suspected_deployment = $%d", f.Deployment)
	}
	if f.Since != nil {
		add("created_at > $%d", *f.Since)
	}

	query := `SELECT ` + recordColumns + ` FROM classification_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	recs := []models.ClassificationRecord{}
	if err := r.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("list classification records: %w", err)
	}
	return recs, nil
}

// CountByQueueSince returns how many records exist for a queue newer than the
// cutoff. The Monitor uses it for similar-failure enrichment.
func (r *Repository) CountByQueueSince(ctx context.Context, queue string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM classification_records WHERE source_queue = $1 AND created_at > $2`,
		queue, since)
	if err != nil {
		return 0, fmt.Errorf("count records for queue %s: %w", queue, err)
	}
	return n, nil
}

// OutcomeUpdate is the Executor's write-back after acting on a classification.
// Only the artifact field matching the action is set; the rest stay nil.
type OutcomeUpdate struct {
	Outcome           models.Outcome
	FailureReason     *string
	RetryScheduledFor *time.Time
	ArchiveLocation   *string
	IncidentKey       *string
}

// RecordOutcome updates the record's outcome and whichever action-specific
// field the handler produced. Keyed by message_id and safe to re-run.
func (r *Repository) RecordOutcome(ctx context.Context, messageID string, upd OutcomeUpdate) error {
	query := `UPDATE classification_records SET
			outcome = $2,
			failure_reason = $3,
			retry_scheduled_for = COALESCE($4, retry_scheduled_for),
			archive_location = COALESCE($5, archive_location),
			incident_key = COALESCE($6, incident_key)
		WHERE message_id = $1`

	res, err := r.db.ExecContext(ctx, query,
		messageID, upd.Outcome, upd.FailureReason, upd.RetryScheduledFor, upd.ArchiveLocation, upd.IncidentKey)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", messageID, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// StatsSince returns per-category record counts newer than the cutoff.
func (r *Repository) StatsSince(ctx context.Context, since time.Time) ([]models.CategoryCount, error) {
	counts := []models.CategoryCount{}
	err := r.db.SelectContext(ctx, &counts,
		`SELECT category, COUNT(*) AS count FROM classification_records WHERE created_at > $1 GROUP BY category ORDER BY count DESC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("classification stats: %w", err)
	}
	return counts, nil
}

// DeleteExpired removes records whose retention window has passed and
// reports how many rows were purged.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classification_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	return res.RowsAffected()
}
