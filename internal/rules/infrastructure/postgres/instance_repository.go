package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	rules "twin-rules/internal/rules/domain"
)

// InstanceRepository stores bound rule instances.
type InstanceRepository struct {
	db *sql.DB
}

// NewInstanceRepository constructs a repository.
func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// ListByRule returns the instances of a rule ordered by twin id.
func (r *InstanceRepository) ListByRule(ctx context.Context, ruleID string) ([]rules.RuleInstance, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT status, definition
FROM rule_instances
WHERE rule_id = $1
ORDER BY twin_id ASC`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.RuleInstance
	for rows.Next() {
		var (
			status string
			raw    []byte
		)
		if err := rows.Scan(&status, &raw); err != nil {
			return nil, err
		}
		var instance rules.RuleInstance
		if err := json.Unmarshal(raw, &instance); err != nil {
			return nil, err
		}
		instance.Status = rules.InstanceStatus(status)
		result = append(result, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts an instance.
func (r *InstanceRepository) Save(ctx context.Context, instance rules.RuleInstance) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	raw, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rule_instances (id, rule_id, twin_id, status, snapshot_version, rule_version, definition, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	snapshot_version = EXCLUDED.snapshot_version,
	rule_version = EXCLUDED.rule_version,
	definition = EXCLUDED.definition,
	updated_at = NOW()`, instance.ID, instance.RuleID, instance.TwinID, string(instance.Status),
		instance.SnapshotVersion, instance.RuleVersion, raw)
	return err
}

// Delete removes an instance.
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM rule_instances WHERE id = $1`, id)
	return err
}
