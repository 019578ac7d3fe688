package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	ruleapp "twin-rules/internal/rules/application"
	rules "twin-rules/internal/rules/domain"
)

// Clock provides time for deduplication.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders insight events and sends them over a channel.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	logger       zerolog.Logger
	onlyFaulty   bool
	cooldown     time.Duration
	dedupeWindow time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown suppresses repeated events for the same insight within d.
func WithCooldown(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.cooldown = d
		}
	}
}

// WithDedupeWindow suppresses identical content for the same insight within d.
func WithDedupeWindow(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.dedupeWindow = d
		}
	}
}

// WithOnlyFaulty drops update events for insights that are not currently faulty.
func WithOnlyFaulty() Option {
	return func(n *Notifier) {
		n.onlyFaulty = true
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier constructs an insight notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("insight notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		logger:   zerolog.Nop(),
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.InsightNotifier.
func (n *Notifier) Notify(ctx context.Context, event ruleapp.InsightEvent) {
	if n == nil || n.channel == nil {
		return
	}
	if n.onlyFaulty && event.Type == ruleapp.EventInsightUpdated && !event.Insight.IsFaulty {
		return
	}
	content, err := n.template.Render(buildTemplateData(event))
	if err != nil {
		n.logger.Warn().Err(err).Str("insight_id", event.Insight.ID).Msg("render insight notification")
		return
	}
	if !n.shouldSend(event.Insight.ID, event.Type, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Warn().Err(err).Str("insight_id", event.Insight.ID).Str("event", event.Type).Msg("send insight notification")
		return
	}
	n.markSent(event.Insight.ID, event.Type, content)
}

func buildTemplateData(event ruleapp.InsightEvent) TemplateData {
	insight := event.Insight
	ruleName := insight.RuleName
	if ruleName == "" {
		ruleName = insight.RuleID
	}
	data := TemplateData{
		Rule:            ruleName,
		RuleID:          insight.RuleID,
		TwinID:          insight.TwinID,
		InsightID:       insight.ID,
		Text:            insight.Text,
		Status:          statusLabel(insight),
		FaultedCount:    insight.FaultedCount,
		Recommendations: strings.TrimSpace(insight.Recommendations),
		Event:           event.Type,
		EventLabel:      eventLabel(event.Type),
	}
	if last, ok := lastFaulted(insight); ok {
		data.Started = last.Started.UTC().Format(time.RFC3339)
	}
	return data
}

func lastFaulted(insight rules.Insight) (rules.Occurrence, bool) {
	for i := len(insight.Occurrences) - 1; i >= 0; i-- {
		if insight.Occurrences[i].IsFaulted {
			return insight.Occurrences[i], true
		}
	}
	return rules.Occurrence{}, false
}

func statusLabel(insight rules.Insight) string {
	switch {
	case !insight.IsValid:
		return "insufficient data"
	case insight.IsFaulty:
		return "faulty"
	default:
		return "ok"
	}
}

func eventLabel(event string) string {
	switch event {
	case ruleapp.EventInsightCreated:
		return "Created"
	case ruleapp.EventInsightUpdated:
		return "Updated"
	case ruleapp.EventInsightDeleted:
		return "Deleted"
	default:
		return event
	}
}

func (n *Notifier) shouldSend(insightID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(insightID, eventType)
	now := n.clock.Now().UTC()

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hashContent(content) && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(insightID, eventType, content string) {
	key := notificationKey(insightID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{at: n.clock.Now().UTC(), hash: hashContent(content)}
	n.mu.Unlock()
}

func notificationKey(insightID, eventType string) string {
	return insightID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
