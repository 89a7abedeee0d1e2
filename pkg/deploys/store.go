// Package deploys tracks deployment markers used to correlate failure
// spikes with recent releases.
package deploys

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recoverloop/redrive/pkg/models"
)

// Store persists deployment markers in PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a deployment store on top of an open database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Record saves a deployment marker. A missing ID gets a generated one and a
// zero deployed_at defaults to now; re-recording an ID updates it in place.
func (s *Store) Record(ctx context.Context, dep models.Deployment) (models.Deployment, error) {
	if dep.ID == "" {
		dep.ID = uuid.NewString()
	}
	if dep.DeployedAt.IsZero() {
		dep.DeployedAt = time.Now().UTC()
	}

	query := `INSERT INTO deployments (id, service, version, deployed_at, author)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			service = EXCLUDED.service,
			version = EXCLUDED.version,
			deployed_at = EXCLUDED.deployed_at,
			author = EXCLUDED.author`

	if _, err := s.db.ExecContext(ctx, query, dep.ID, dep.Service, dep.Version, dep.DeployedAt, dep.Author); err != nil {
		return models.Deployment{}, fmt.Errorf("record deployment: %w", err)
	}
	return dep, nil
}

// RecentSince returns deployments newer than the cutoff, newest first. The
// Monitor attaches these to enriched messages for systemic correlation.
func (s *Store) RecentSince(ctx context.Context, since time.Time) ([]models.Deployment, error) {
	deps := []models.Deployment{}
	err := s.db.SelectContext(ctx, &deps,
		`SELECT id, service, version, deployed_at, author FROM deployments WHERE deployed_at > $1 ORDER BY deployed_at DESC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("list recent deployments: %w", err)
	}
	return deps, nil
}

// DeleteOlderThan purges deployment markers past their useful correlation
// window and reports how many rows were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE deployed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale deployments: %w", err)
	}
	return res.RowsAffected()
}
