package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"

	twins "twin-rules/internal/twins/domain"
)

const descendantsCTE = `
WITH RECURSIVE descendants(model_id) AS (
	SELECT $1::text
	UNION
	SELECT e.model_id FROM twin_model_extends e JOIN descendants d ON e.parent_id = d.model_id
)`

// Directory is a Postgres-backed twin directory.
type Directory struct {
	db *sql.DB
}

// NewDirectory constructs a directory.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Upsert inserts or updates a twin and bumps the directory version.
func (d *Directory) Upsert(ctx context.Context, twin twins.Twin) error {
	if d == nil || d.db == nil {
		return errors.New("twin directory: nil db")
	}
	if err := twin.Validate(); err != nil {
		return err
	}
	props, err := json.Marshal(twin.Properties)
	if err != nil {
		return err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
INSERT INTO twins (id, name, model_id, trend_id, time_zone, properties, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	model_id = EXCLUDED.model_id,
	trend_id = EXCLUDED.trend_id,
	time_zone = EXCLUDED.time_zone,
	properties = EXCLUDED.properties,
	updated_at = NOW()`, twin.ID, twin.Name, twin.ModelID, nullString(twin.TrendID), nullString(twin.TimeZone), props)
	if err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Relate links two twins.
func (d *Directory) Relate(ctx context.Context, sourceID, targetID string) error {
	if d == nil || d.db == nil {
		return errors.New("twin directory: nil db")
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO twin_relationships (source_id, target_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`, sourceID, targetID); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Extend records that model derives from parent.
func (d *Directory) Extend(ctx context.Context, model, parent string) error {
	if d == nil || d.db == nil {
		return errors.New("twin directory: nil db")
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO twin_model_extends (model_id, parent_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`, model, parent); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO twin_directory_version (id, version) VALUES (1, 1)
ON CONFLICT (id) DO UPDATE SET version = twin_directory_version.version + 1`)
	return err
}

// Get implements twins.Directory.
func (d *Directory) Get(ctx context.Context, twinID string) (*twins.Twin, error) {
	if d == nil || d.db == nil {
		return nil, errors.New("twin directory: nil db")
	}
	row := d.db.QueryRowContext(ctx, `
SELECT id, name, model_id, trend_id, time_zone, properties
FROM twins
WHERE id = $1`, twinID)
	twin, err := scanTwin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, twins.ErrNotFound
		}
		return nil, err
	}
	return twin, nil
}

// ListByModel implements twins.Directory.
func (d *Directory) ListByModel(ctx context.Context, modelID string) ([]twins.Twin, error) {
	if d == nil || d.db == nil {
		return nil, errors.New("twin directory: nil db")
	}
	rows, err := d.db.QueryContext(ctx, descendantsCTE+`
SELECT id, name, model_id, trend_id, time_zone, properties
FROM twins
WHERE model_id IN (SELECT model_id FROM descendants)
ORDER BY id`, modelID)
	if err != nil {
		return nil, err
	}
	return scanTwins(rows)
}

// FindRelated implements twins.Directory, expanding one hop per query.
func (d *Directory) FindRelated(ctx context.Context, twinID, modelID string, maxHops int) ([]twins.Twin, error) {
	if d == nil || d.db == nil {
		return nil, errors.New("twin directory: nil db")
	}
	visited := map[string]struct{}{twinID: {}}
	frontier := []string{twinID}
	var out []twins.Twin
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		neighbours, err := d.neighbours(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, id := range neighbours {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			next = append(next, id)
		}
		if len(next) == 0 {
			break
		}
		sort.Strings(next)
		rows, err := d.db.QueryContext(ctx, descendantsCTE+`
SELECT id, name, model_id, trend_id, time_zone, properties
FROM twins
WHERE id = ANY($2) AND model_id IN (SELECT model_id FROM descendants)
ORDER BY id`, modelID, next)
		if err != nil {
			return nil, err
		}
		matched, err := scanTwins(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, matched...)
		frontier = next
	}
	return out, nil
}

func (d *Directory) neighbours(ctx context.Context, ids []string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT target_id FROM twin_relationships WHERE source_id = ANY($1)
UNION
SELECT source_id FROM twin_relationships WHERE target_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ResolveCandidate implements twins.Directory.
func (d *Directory) ResolveCandidate(ctx context.Context, modelID, twinID string) (*twins.Twin, error) {
	if d == nil || d.db == nil {
		return nil, errors.New("twin directory: nil db")
	}
	row := d.db.QueryRowContext(ctx, descendantsCTE+`
SELECT id, name, model_id, trend_id, time_zone, properties
FROM twins
WHERE id = $2 AND model_id IN (SELECT model_id FROM descendants)`, modelID, twinID)
	twin, err := scanTwin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, twins.ErrNotFound
		}
		return nil, err
	}
	return twin, nil
}

// Version implements twins.Directory.
func (d *Directory) Version(ctx context.Context) (int64, error) {
	if d == nil || d.db == nil {
		return 0, errors.New("twin directory: nil db")
	}
	var version int64
	err := d.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM twin_directory_version`).Scan(&version)
	return version, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTwin(row scanner) (*twins.Twin, error) {
	var (
		twin     twins.Twin
		name     sql.NullString
		trendID  sql.NullString
		timeZone sql.NullString
		props    []byte
	)
	if err := row.Scan(&twin.ID, &name, &twin.ModelID, &trendID, &timeZone, &props); err != nil {
		return nil, err
	}
	twin.Name = name.String
	twin.TrendID = trendID.String
	twin.TimeZone = timeZone.String
	if len(props) > 0 {
		if err := json.Unmarshal(props, &twin.Properties); err != nil {
			return nil, err
		}
	}
	return &twin, nil
}

func scanTwins(rows *sql.Rows) ([]twins.Twin, error) {
	defer rows.Close()
	var out []twins.Twin
	for rows.Next() {
		twin, err := scanTwin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *twin)
	}
	return out, rows.Err()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
