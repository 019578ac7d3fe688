package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	rules "twin-rules/internal/rules/domain"
)

// InsightRepository stores insights. Occurrences are kept inside the JSONB
// document; the faulty flag and counters are columns for dashboards.
type InsightRepository struct {
	db *sql.DB
}

// NewInsightRepository constructs a repository.
func NewInsightRepository(db *sql.DB) *InsightRepository {
	return &InsightRepository{db: db}
}

// ListByRule returns the insights of a rule ordered by twin id.
func (r *InsightRepository) ListByRule(ctx context.Context, ruleID string) ([]rules.Insight, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT definition
FROM rule_insights
WHERE rule_id = $1
ORDER BY twin_id ASC`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.Insight
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *insight)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get loads an insight by id. It returns nil when missing.
func (r *InsightRepository) Get(ctx context.Context, id string) (*rules.Insight, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	row := r.db.QueryRowContext(ctx, `SELECT definition FROM rule_insights WHERE id = $1`, id)
	insight, err := scanInsight(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return insight, nil
}

// Save upserts an insight.
func (r *InsightRepository) Save(ctx context.Context, insight *rules.Insight) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if insight == nil {
		return rules.ErrNilInsight
	}
	raw, err := json.Marshal(insight)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rule_insights (
	id, rule_id, rule_instance_id, twin_id, is_faulty, is_valid, faulted_count,
	last_faulted_at, definition, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10
)
ON CONFLICT (id) DO UPDATE SET
	is_faulty = EXCLUDED.is_faulty,
	is_valid = EXCLUDED.is_valid,
	faulted_count = EXCLUDED.faulted_count,
	last_faulted_at = EXCLUDED.last_faulted_at,
	definition = EXCLUDED.definition,
	updated_at = EXCLUDED.updated_at`, insight.ID, insight.RuleID, insight.RuleInstanceID, insight.TwinID,
		insight.IsFaulty, insight.IsValid, insight.FaultedCount, nullTime(insight.LastFaultedDate), raw,
		insight.LastUpdated.UTC())
	return err
}

// Delete removes an insight.
func (r *InsightRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM rule_insights WHERE id = $1`, id)
	return err
}

func scanInsight(row scanner) (*rules.Insight, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	var insight rules.Insight
	if err := json.Unmarshal(raw, &insight); err != nil {
		return nil, err
	}
	return &insight, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// MetadataRepository stores per-rule counters.
type MetadataRepository struct {
	db *sql.DB
}

// NewMetadataRepository constructs a repository.
func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Get loads the counters of a rule. It returns nil when missing.
func (r *MetadataRepository) Get(ctx context.Context, ruleID string) (*rules.RuleMetadata, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	var (
		meta          rules.RuleMetadata
		lastEvaluated sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
SELECT rule_id, insights_generated, valid_instances, failed_instances, filtered_instances, last_evaluated
FROM rule_metadata
WHERE rule_id = $1`, ruleID).Scan(
		&meta.RuleID,
		&meta.InsightsGenerated,
		&meta.ValidInstances,
		&meta.FailedInstances,
		&meta.FilteredInstances,
		&lastEvaluated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastEvaluated.Valid {
		meta.LastEvaluated = lastEvaluated.Time.UTC()
	}
	return &meta, nil
}

// Save upserts the counters of a rule.
func (r *MetadataRepository) Save(ctx context.Context, meta rules.RuleMetadata) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if meta.RuleID == "" {
		return rules.ErrEmptyRuleID
	}
	var lastEvaluated sql.NullTime
	if !meta.LastEvaluated.IsZero() {
		lastEvaluated = sql.NullTime{Time: meta.LastEvaluated.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO rule_metadata (
	rule_id, insights_generated, valid_instances, failed_instances, filtered_instances, last_evaluated, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (rule_id) DO UPDATE SET
	insights_generated = EXCLUDED.insights_generated,
	valid_instances = EXCLUDED.valid_instances,
	failed_instances = EXCLUDED.failed_instances,
	filtered_instances = EXCLUDED.filtered_instances,
	last_evaluated = EXCLUDED.last_evaluated,
	updated_at = NOW()`, meta.RuleID, meta.InsightsGenerated, meta.ValidInstances, meta.FailedInstances,
		meta.FilteredInstances, lastEvaluated)
	return err
}
