package application

import (
	"context"

	rules "twin-rules/internal/rules/domain"
)

// Insight lifecycle event types.
const (
	EventInsightCreated = "insight.created"
	EventInsightUpdated = "insight.updated"
	EventInsightDeleted = "insight.deleted"
)

// InsightNotifier publishes insight lifecycle events.
type InsightNotifier interface {
	Notify(ctx context.Context, event InsightEvent)
}

// InsightEvent represents a lifecycle update.
type InsightEvent struct {
	Type    string        `json:"type"`
	Insight rules.Insight `json:"insight"`
}
