package natsbus

import (
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subject names.
const (
	SubjectRulesUpdated = "rules.updated"
	SubjectTwinsUpdated = "twins.updated"
)

// Invalidator drops cached bindings at the next batch boundary.
type Invalidator interface {
	Invalidate()
}

// ChangeEvent is the payload of a rules.updated or twins.updated message.
type ChangeEvent struct {
	RuleID string `json:"rule_id,omitempty"`
	TwinID string `json:"twin_id,omitempty"`
}

// Subscriber invalidates the engine whenever rules or twins change.
type Subscriber struct {
	conn        *nats.Conn
	invalidator Invalidator
	logger      zerolog.Logger
	subs        []*nats.Subscription
}

// NewSubscriber constructs a subscriber on an open connection.
func NewSubscriber(conn *nats.Conn, invalidator Invalidator, logger zerolog.Logger) (*Subscriber, error) {
	if conn == nil {
		return nil, errors.New("rules subscriber: nil connection")
	}
	if invalidator == nil {
		return nil, errors.New("rules subscriber: nil invalidator")
	}
	return &Subscriber{
		conn:        conn,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "rules-subscriber").Logger(),
	}, nil
}

// Start subscribes to the change subjects.
func (s *Subscriber) Start() error {
	for _, subject := range []string{SubjectRulesUpdated, SubjectTwinsUpdated} {
		sub, err := s.conn.Subscribe(subject, s.handle)
		if err != nil {
			s.Close()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Close removes the subscriptions.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var evt ChangeEvent
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			s.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("unparsable change event")
		}
	}
	s.logger.Info().
		Str("subject", msg.Subject).
		Str("rule_id", evt.RuleID).
		Str("twin_id", evt.TwinID).
		Msg("invalidating rule bindings")
	s.invalidator.Invalidate()
}
