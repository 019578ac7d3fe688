package notify

import (
	"context"

	"github.com/rs/zerolog"

	ruleapp "twin-rules/internal/rules/application"
)

// LogNotifier writes insight events to a logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "insight-events").Logger()}
}

// Notify implements application.InsightNotifier.
func (l *LogNotifier) Notify(_ context.Context, event ruleapp.InsightEvent) {
	if l == nil {
		return
	}
	e := l.logger.Info()
	if event.Type == ruleapp.EventInsightDeleted {
		e = l.logger.Warn()
	}
	e.Str("event", event.Type).
		Str("insight_id", event.Insight.ID).
		Str("rule_id", event.Insight.RuleID).
		Str("twin_id", event.Insight.TwinID).
		Bool("faulty", event.Insight.IsFaulty).
		Int("faulted_count", event.Insight.FaultedCount).
		Msg("insight event")
}
