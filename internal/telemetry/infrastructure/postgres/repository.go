package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "twin-rules/internal/telemetry/domain"
)

const defaultSampleTable = "trend_samples"

// SampleRepository is a Postgres store for trend samples.
type SampleRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*SampleRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *SampleRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewSampleRepository constructs a repository with the default table name.
func NewSampleRepository(db *sql.DB, opts ...RepositoryOption) *SampleRepository {
	repo := &SampleRepository{db: db, table: defaultSampleTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertSamples upserts samples in one transaction.
func (r *SampleRepository) InsertSamples(ctx context.Context, samples []telemetry.Sample) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(samples) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (trend_id, ts, value)
VALUES ($1, $2, $3)
ON CONFLICT (trend_id, ts)
DO UPDATE SET
	value = EXCLUDED.value,
	updated_at = NOW()`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		if err := s.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, s.TrendID, s.Timestamp.UTC(), s.Value); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// PresentValue returns the newest stored value of a trend.
func (r *SampleRepository) PresentValue(ctx context.Context, trendID string) (float64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("telemetry repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT value
FROM %s
WHERE trend_id = $1
ORDER BY ts DESC
LIMIT 1`, r.table)
	var value float64
	if err := r.db.QueryRowContext(ctx, query, trendID).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

// History returns a restartable source over [start, end) for the given trends.
func (r *SampleRepository) History(trendIDs []string, start, end time.Time) *HistorySource {
	return &HistorySource{repo: r, trendIDs: append([]string(nil), trendIDs...), start: start.UTC(), end: end.UTC()}
}
