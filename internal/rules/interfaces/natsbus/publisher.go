package natsbus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	ruleapp "twin-rules/internal/rules/application"
	rules "twin-rules/internal/rules/domain"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
}

// InsightMessage is the published payload of an insight event.
type InsightMessage struct {
	Type    string        `json:"type"`
	Insight rules.Insight `json:"insight"`
}

// InsightPublisher publishes insight events with the event type as subject.
type InsightPublisher struct {
	conn   Conn
	prefix string
	logger zerolog.Logger
}

// PublisherOption configures the publisher.
type PublisherOption func(*InsightPublisher)

// WithSubjectPrefix prepends prefix and a dot to every subject.
func WithSubjectPrefix(prefix string) PublisherOption {
	return func(p *InsightPublisher) {
		p.prefix = prefix
	}
}

// WithPublisherLogger sets the logger used for publish failures.
func WithPublisherLogger(logger zerolog.Logger) PublisherOption {
	return func(p *InsightPublisher) {
		p.logger = logger
	}
}

// NewInsightPublisher constructs a publisher.
func NewInsightPublisher(conn Conn, opts ...PublisherOption) (*InsightPublisher, error) {
	if conn == nil {
		return nil, errors.New("insight publisher: nil connection")
	}
	p := &InsightPublisher{conn: conn, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Notify implements application.InsightNotifier.
func (p *InsightPublisher) Notify(_ context.Context, event ruleapp.InsightEvent) {
	if p == nil {
		return
	}
	data, err := json.Marshal(InsightMessage{Type: event.Type, Insight: event.Insight})
	if err != nil {
		p.logger.Warn().Err(err).Str("insight_id", event.Insight.ID).Msg("marshal insight event")
		return
	}
	subject := event.Type
	if p.prefix != "" {
		subject = p.prefix + "." + subject
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Str("insight_id", event.Insight.ID).Msg("publish insight event")
	}
}
