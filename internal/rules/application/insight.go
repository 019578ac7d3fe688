package application

import (
	"context"

	"github.com/rs/zerolog"

	rules "twin-rules/internal/rules/domain"
	telemetry "twin-rules/internal/telemetry/domain"
)

// InsightBuilder assembles insights from actor state.
type InsightBuilder struct {
	presentValues telemetry.PresentValueReader
	logger        zerolog.Logger
}

// InsightBuilderOption customizes the builder.
type InsightBuilderOption func(*InsightBuilder)

// WithPresentValues enriches insight points with live present values.
func WithPresentValues(reader telemetry.PresentValueReader) InsightBuilderOption {
	return func(b *InsightBuilder) {
		b.presentValues = reader
	}
}

// WithInsightLogger assigns a logger.
func WithInsightLogger(logger zerolog.Logger) InsightBuilderOption {
	return func(b *InsightBuilder) {
		b.logger = logger
	}
}

// NewInsightBuilder constructs a builder.
func NewInsightBuilder(opts ...InsightBuilderOption) *InsightBuilder {
	b := &InsightBuilder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the insight of the actor's instance. It returns nil for
// calculated points and for instances that never faulted.
func (b *InsightBuilder) Build(ctx context.Context, actor *Actor) *rules.Insight {
	bound := actor.Instance()
	rule := bound.Rule
	if rule.TemplateID == rules.TemplateCalculatedPoint {
		return nil
	}
	tracker := actor.Tracker()
	if tracker.FaultedCount() == 0 {
		return nil
	}
	state := actor.State()

	insight := &rules.Insight{
		ID:              rules.InsightID(bound.Instance.ID),
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		RuleInstanceID:  bound.Instance.ID,
		TwinID:          bound.Twin.ID,
		Occurrences:     tracker.Occurrences(),
		FaultedCount:    tracker.FaultedCount(),
		IsFaulty:        tracker.Faulted(),
		IsValid:         lastValid(state.OutputValues),
		Recommendations: rule.Recommendations,
		CommandEnabled:  rule.CommandEnabled,
		LastUpdated:     state.LastEvaluated,
	}

	faulted, at := actor.FaultedValues()
	if faulted != nil {
		insight.Text = actor.Describe(faulted)
		lastFaulted := at
		insight.LastFaultedDate = &lastFaulted
	} else {
		insight.Text = actor.Describe(actor.Values())
	}

	values := actor.Values()
	for _, p := range bound.ImpactScores {
		f, ok := values[p.FieldID].Float()
		if !ok || !values[p.FieldID].IsValid() {
			continue
		}
		if insight.ImpactScores == nil {
			insight.ImpactScores = make(map[string]float64, len(bound.ImpactScores))
		}
		insight.ImpactScores[p.FieldID] = f
	}

	for _, point := range bound.Instance.PointEntityIDs {
		insight.Points = append(insight.Points, rules.InsightPoint{
			TwinID:       point.TwinID,
			TrendID:      point.TrendID,
			PresentValue: b.presentValue(ctx, point, state),
		})
	}
	return insight
}

func (b *InsightBuilder) presentValue(ctx context.Context, point rules.PointEntity, state *rules.ActorState) *float64 {
	if b.presentValues == nil || point.TrendID == "" {
		if last, ok := state.TimedValues[point.VariableName].LastValid(); ok {
			v := last.Value
			return &v
		}
		return nil
	}
	v, err := b.presentValues.PresentValue(ctx, point.TrendID)
	if err != nil {
		b.logger.Debug().Err(err).Str("trend_id", point.TrendID).Msg("present value lookup failed")
		return nil
	}
	return &v
}

func lastValid(out rules.OutputValues) bool {
	if n := len(out.Points); n > 0 {
		return out.Points[n-1].Valid
	}
	return false
}
