package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	rules "twin-rules/internal/rules/domain"
)

var errNilDB = errors.New("rules repo: nil db")

// RuleRepository stores rule definitions as JSONB documents.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// List returns every rule ordered by id.
func (r *RuleRepository) List(ctx context.Context) ([]rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT version, definition
FROM rules
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get loads a rule by id.
func (r *RuleRepository) Get(ctx context.Context, id string) (*rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	if id == "" {
		return nil, rules.ErrEmptyRuleID
	}
	row := r.db.QueryRowContext(ctx, `SELECT version, definition FROM rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rules.ErrNotFound
		}
		return nil, err
	}
	return rule, nil
}

// Save upserts a rule. Every update bumps the stored version so that running
// engines rebind the rule's instances.
func (r *RuleRepository) Save(ctx context.Context, rule rules.Rule) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rules (id, name, primary_model_id, template_id, version, definition, updated_at)
VALUES ($1, $2, $3, $4, GREATEST($5, 1), $6, NOW())
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	primary_model_id = EXCLUDED.primary_model_id,
	template_id = EXCLUDED.template_id,
	version = rules.version + 1,
	definition = EXCLUDED.definition,
	updated_at = NOW()`, rule.ID, rule.Name, rule.PrimaryModelID, string(rule.TemplateID), rule.Version, raw)
	return err
}

// Delete removes a rule. Instances and metadata are removed by cascade; insights stay.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*rules.Rule, error) {
	var (
		version int64
		raw     []byte
	)
	if err := row.Scan(&version, &raw); err != nil {
		return nil, err
	}
	var rule rules.Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return nil, err
	}
	rule.Version = version
	return &rule, nil
}

// GlobalVariableRepository stores macros as JSONB documents keyed by name.
type GlobalVariableRepository struct {
	db *sql.DB
}

// NewGlobalVariableRepository constructs a repository.
func NewGlobalVariableRepository(db *sql.DB) *GlobalVariableRepository {
	return &GlobalVariableRepository{db: db}
}

// List returns every global variable ordered by name.
func (r *GlobalVariableRepository) List(ctx context.Context) ([]rules.GlobalVariable, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT definition
FROM global_variables
ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.GlobalVariable
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var variable rules.GlobalVariable
		if err := json.Unmarshal(raw, &variable); err != nil {
			return nil, err
		}
		result = append(result, variable)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a global variable. Names are matched case-insensitively.
func (r *GlobalVariableRepository) Save(ctx context.Context, variable rules.GlobalVariable) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if err := variable.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(variable)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO global_variables (name, definition, updated_at)
VALUES (LOWER($1), $2, NOW())
ON CONFLICT (name) DO UPDATE SET
	definition = EXCLUDED.definition,
	updated_at = NOW()`, variable.Name, raw)
	return err
}
