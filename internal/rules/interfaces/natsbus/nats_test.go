package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ruleapp "twin-rules/internal/rules/application"
	rules "twin-rules/internal/rules/domain"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	messages []published
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{subject: subject, data: data})
	return nil
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }

func TestInsightPublisherUsesEventTypeAsSubject(t *testing.T) {
	conn := &fakeConn{}
	pub, err := NewInsightPublisher(conn, WithSubjectPrefix("site-a"))
	require.NoError(t, err)

	pub.Notify(context.Background(), ruleapp.InsightEvent{
		Type:    ruleapp.EventInsightCreated,
		Insight: rules.Insight{ID: "insight-1", RuleID: "sat-high", FaultedCount: 1, IsFaulty: true},
	})

	require.Len(t, conn.messages, 1)
	assert.Equal(t, "site-a.insight.created", conn.messages[0].subject)
	var msg InsightMessage
	require.NoError(t, json.Unmarshal(conn.messages[0].data, &msg))
	assert.Equal(t, ruleapp.EventInsightCreated, msg.Type)
	assert.Equal(t, "insight-1", msg.Insight.ID)
	assert.True(t, msg.Insight.IsFaulty)
}

func TestInsightPublisherSwallowsErrors(t *testing.T) {
	pub, err := NewInsightPublisher(&fakeConn{err: errors.New("disconnected")})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		pub.Notify(context.Background(), ruleapp.InsightEvent{Type: ruleapp.EventInsightDeleted})
	})
}

func TestSubscriberHandleInvalidates(t *testing.T) {
	inv := &countingInvalidator{}
	sub := &Subscriber{invalidator: inv, logger: zerolog.Nop()}

	sub.handle(&nats.Msg{Subject: SubjectRulesUpdated, Data: []byte(`{"rule_id":"sat-high"}`)})
	sub.handle(&nats.Msg{Subject: SubjectTwinsUpdated, Data: []byte(`not json`)})
	sub.handle(&nats.Msg{Subject: SubjectRulesUpdated})
	assert.Equal(t, 3, inv.n)
}

func TestNewSubscriberValidates(t *testing.T) {
	_, err := NewSubscriber(nil, &countingInvalidator{}, zerolog.Nop())
	assert.Error(t, err)
}
