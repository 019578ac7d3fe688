package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const dbGaugeTimeout = 2 * time.Second

type dbGauge struct {
	name  string
	help  string
	query string
}

var dbGauges = []dbGauge{
	{"rules", "Stored rule definitions", "SELECT COUNT(*) FROM rules"},
	{"faulty_insights", "Insights with an open faulted occurrence", "SELECT COUNT(*) FROM rule_insights WHERE is_faulty"},
	{"failed_instances", "Rule instances that failed to bind", "SELECT COUNT(*) FROM rule_instances WHERE status = 'BindingFailed'"},
}

// registerDBMetrics exposes row counts that are read on every scrape.
func registerDBMetrics(db *sql.DB, logger zerolog.Logger) {
	for _, g := range dbGauges {
		g := g
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return countRows(db, logger, g.query) },
		))
	}
}

func countRows(db *sql.DB, logger zerolog.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbGaugeTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		logger.Warn().Err(err).Str("query", query).Msg("metrics gauge query failed")
		return 0
	}
	return float64(max(count, 0))
}
