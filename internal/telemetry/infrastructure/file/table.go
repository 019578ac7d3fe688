// Package file loads recorded telemetry from CSV and XLSX files for replay.
//
// Two layouts are accepted. The long layout has trendId, timestamp and value
// columns in any order. The wide layout has a timestamp column followed by
// one column per trend id. Empty cells are skipped.
package file

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	telemetry "twin-rules/internal/telemetry/domain"
)

// ErrEmptyTable is returned when a file has no header row.
var ErrEmptyTable = errors.New("telemetry file: empty table")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// parseTable converts rows into samples ordered by timestamp, keeping the first
// value of duplicated (trend, timestamp) pairs. Timestamps without an offset
// are read in loc.
func parseTable(rows [][]string, loc *time.Location) ([]telemetry.Sample, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmptyTable
	}
	if loc == nil {
		loc = time.UTC
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var samples []telemetry.Sample
	var err error
	if trendCol, tsCol, valueCol, ok := longLayout(header); ok {
		samples, err = parseLong(rows[1:], trendCol, tsCol, valueCol, loc)
	} else if header[0] == "timestamp" || header[0] == "time" || header[0] == "ts" {
		samples, err = parseWide(rows[0][1:], rows[1:], loc)
	} else {
		return nil, fmt.Errorf("telemetry file: unrecognised header %v", rows[0])
	}
	if err != nil {
		return nil, err
	}
	telemetry.SortStable(samples)
	return dedupe(samples), nil
}

func longLayout(header []string) (trendCol, tsCol, valueCol int, ok bool) {
	trendCol, tsCol, valueCol = -1, -1, -1
	for i, h := range header {
		switch h {
		case "trendid", "trend_id", "trend":
			trendCol = i
		case "timestamp", "time", "ts":
			tsCol = i
		case "value":
			valueCol = i
		}
	}
	return trendCol, tsCol, valueCol, trendCol >= 0 && tsCol >= 0 && valueCol >= 0
}

func parseLong(rows [][]string, trendCol, tsCol, valueCol int, loc *time.Location) ([]telemetry.Sample, error) {
	out := make([]telemetry.Sample, 0, len(rows))
	for i, row := range rows {
		trendID, rawTS, rawValue := cell(row, trendCol), cell(row, tsCol), cell(row, valueCol)
		if trendID == "" && rawTS == "" && rawValue == "" {
			continue
		}
		if rawValue == "" {
			continue
		}
		ts, err := parseTimestamp(rawTS, loc)
		if err != nil {
			return nil, fmt.Errorf("telemetry file: row %d: %w", i+2, err)
		}
		value, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return nil, fmt.Errorf("telemetry file: row %d: %w", i+2, err)
		}
		out = append(out, telemetry.Sample{TrendID: trendID, Timestamp: ts, Value: value})
	}
	return out, nil
}

func parseWide(trends []string, rows [][]string, loc *time.Location) ([]telemetry.Sample, error) {
	var out []telemetry.Sample
	for i, row := range rows {
		rawTS := cell(row, 0)
		if rawTS == "" {
			continue
		}
		ts, err := parseTimestamp(rawTS, loc)
		if err != nil {
			return nil, fmt.Errorf("telemetry file: row %d: %w", i+2, err)
		}
		for col, trend := range trends {
			trendID := strings.TrimSpace(trend)
			rawValue := cell(row, col+1)
			if trendID == "" || rawValue == "" {
				continue
			}
			value, err := strconv.ParseFloat(rawValue, 64)
			if err != nil {
				return nil, fmt.Errorf("telemetry file: row %d column %s: %w", i+2, trendID, err)
			}
			out = append(out, telemetry.Sample{TrendID: trendID, Timestamp: ts, Value: value})
		}
	}
	return out, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", raw)
}

func dedupe(samples []telemetry.Sample) []telemetry.Sample {
	type key struct {
		trend string
		at    int64
	}
	seen := make(map[key]struct{}, len(samples))
	out := samples[:0]
	for _, s := range samples {
		k := key{s.TrendID, s.Timestamp.UnixNano()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
