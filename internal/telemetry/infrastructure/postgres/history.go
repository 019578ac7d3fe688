package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	telemetry "twin-rules/internal/telemetry/domain"
)

// HistorySource replays stored samples ordered by timestamp. The query runs
// lazily on the first Next and again after Reset.
type HistorySource struct {
	repo     *SampleRepository
	trendIDs []string
	start    time.Time
	end      time.Time

	loaded  bool
	samples []telemetry.Sample
	pos     int
}

// Next implements telemetry.Source.
func (h *HistorySource) Next(ctx context.Context) (telemetry.Sample, error) {
	if !h.loaded {
		samples, err := h.load(ctx)
		if err != nil {
			return telemetry.Sample{}, err
		}
		h.samples = samples
		h.loaded = true
	}
	if h.pos >= len(h.samples) {
		return telemetry.Sample{}, io.EOF
	}
	s := h.samples[h.pos]
	h.pos++
	return s, nil
}

// Reset implements telemetry.Restartable.
func (h *HistorySource) Reset() error {
	h.loaded = false
	h.samples = nil
	h.pos = 0
	return nil
}

func (h *HistorySource) load(ctx context.Context) ([]telemetry.Sample, error) {
	if h.repo == nil || h.repo.db == nil {
		return nil, errors.New("telemetry history: nil db")
	}
	if len(h.trendIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT trend_id, ts, value
FROM %s
WHERE trend_id = ANY($1)
	AND ts >= $2
	AND ts < $3
ORDER BY ts ASC, trend_id ASC`, h.repo.table)
	end := h.end
	if end.IsZero() {
		end = time.Now().UTC()
	}
	rows, err := h.repo.db.QueryContext(ctx, query, h.trendIDs, h.start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Sample
	for rows.Next() {
		var s telemetry.Sample
		if err := rows.Scan(&s.TrendID, &s.Timestamp, &s.Value); err != nil {
			return nil, err
		}
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
