package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	rules "twin-rules/internal/rules/domain"
)

// ActorRepository stores actor series so that evaluation resumes after a restart.
type ActorRepository struct {
	db *sql.DB
}

// NewActorRepository constructs a repository.
func NewActorRepository(db *sql.DB) *ActorRepository {
	return &ActorRepository{db: db}
}

// Get loads an actor state. It returns nil when missing.
func (r *ActorRepository) Get(ctx context.Context, id string) (*rules.ActorState, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT state FROM rule_actors WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var state rules.ActorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save upserts an actor state.
func (r *ActorRepository) Save(ctx context.Context, state *rules.ActorState) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if state == nil || state.ID == "" {
		return errors.New("actor repo: empty state")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rule_actors (id, rule_id, twin_id, last_evaluated, state, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (id) DO UPDATE SET
	last_evaluated = EXCLUDED.last_evaluated,
	state = EXCLUDED.state,
	updated_at = NOW()`, state.ID, state.RuleID, state.TwinID, state.LastEvaluated.UTC(), raw)
	return err
}

// Delete removes an actor state.
func (r *ActorRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM rule_actors WHERE id = $1`, id)
	return err
}
