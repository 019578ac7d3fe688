package notify

import (
	"context"

	ruleapp "twin-rules/internal/rules/application"
)

// MultiNotifier fans insight events out to every configured sink in order.
type MultiNotifier struct {
	sinks []ruleapp.InsightNotifier
}

// NewMultiNotifier drops nil sinks up front.
func NewMultiNotifier(sinks ...ruleapp.InsightNotifier) *MultiNotifier {
	m := &MultiNotifier{sinks: make([]ruleapp.InsightNotifier, 0, len(sinks))}
	for _, sink := range sinks {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
	return m
}

// Len reports the number of sinks.
func (m *MultiNotifier) Len() int {
	if m == nil {
		return 0
	}
	return len(m.sinks)
}

// Notify implements application.InsightNotifier.
func (m *MultiNotifier) Notify(ctx context.Context, event ruleapp.InsightEvent) {
	for _, sink := range m.sinksOrNil() {
		sink.Notify(ctx, event)
	}
}

func (m *MultiNotifier) sinksOrNil() []ruleapp.InsightNotifier {
	if m == nil {
		return nil
	}
	return m.sinks
}
