package application

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twin-rules/internal/expression"
	rules "twin-rules/internal/rules/domain"
	telemetry "twin-rules/internal/telemetry/domain"
	twins "twin-rules/internal/twins/domain"
)

func runActor(t *testing.T, bound *BoundInstance, opts ActorOptions, batches ...[]telemetry.Sample) *Actor {
	t.Helper()
	actor := NewActor(bound, opts, nil, zerolog.Nop())
	for _, batch := range batches {
		actor.Process(batch)
	}
	return actor
}

func TestActorEvaluatesFaultDay(t *testing.T) {
	d := newDirectory(t)
	bound := bindOn(t, d, anyFaultRule(25, 0, 12), "ahu-1")

	actor := runActor(t, bound, ActorOptions{}, faultDay("trend-sat-1"))
	tracker := actor.Tracker()
	assert.Equal(t, 1, tracker.FaultedCount())
	assert.False(t, tracker.Faulted())

	state := actor.State()
	assert.Equal(t, at(27, 45), state.LastEvaluated)
	assert.Equal(t, 112, state.Series("sat-1").Len())
	assert.Equal(t, 112, state.Series(rules.ResultField).Len())
	assert.Len(t, state.OutputValues.Points, 112)

	values, faultedAt := actor.FaultedValues()
	require.NotNil(t, values)
	assert.Equal(t, at(19, 45), faultedAt)
	assert.Equal(t, "Supply air at 25 degC exceeds 20 degC", actor.Describe(values))
}

func TestActorIsDeterministic(t *testing.T) {
	d := newDirectory(t)
	rule := anyFaultRule(25, 50, 12)
	samples := faultDay("trend-sat-1")

	first := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{}, samples)
	second := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{}, samples[:40], samples[40:])

	assert.Equal(t, first.Tracker().Occurrences(), second.Tracker().Occurrences())
	assert.Equal(t, first.State().OutputValues, second.State().OutputValues)
	assert.Equal(t, first.State().TimedValues, second.State().TimedValues)
}

func TestActorCompressionEquivalence(t *testing.T) {
	d := newDirectory(t)
	rule := anyFaultRule(25, 50, 12)
	samples := faultDay("trend-sat-1")

	plain := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{}, samples)
	compressed := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{EnableCompression: true}, samples)
	optimized := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{EnableCompression: true, OptimizeCompression: true}, samples)

	for _, other := range []*Actor{compressed, optimized} {
		assert.Equal(t, plain.Tracker().Occurrences(), other.Tracker().Occurrences())
		assert.Equal(t, plain.Tracker().FaultedCount(), other.Tracker().FaultedCount())
	}
	assert.Less(t, compressed.State().Series("sat-1").Len(), plain.State().Series("sat-1").Len())
	assert.Len(t, compressed.State().OutputValues.Points, 3)

	stats := NewActor(bindOn(t, d, rule, "ahu-1"), ActorOptions{OptimizeCompression: true}, nil, zerolog.Nop()).Process(samples)
	assert.Equal(t, 3, stats.Evaluated, "only the first sample and value changes are evaluated")
	assert.Equal(t, 109, stats.Skipped)
}

func TestActorCompressionEquivalenceWithAccumulator(t *testing.T) {
	d := newDirectory(t)
	rule := counterRule()
	samples := faultDay("trend-sat-1")

	plain := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{}, samples)
	require.Equal(t, 1, plain.Tracker().FaultedCount())
	faulted := plain.Tracker().Occurrences()
	require.NotEmpty(t, faulted)

	optimized := NewActor(bindOn(t, d, rule, "ahu-1"), ActorOptions{EnableCompression: true, OptimizeCompression: true}, nil, zerolog.Nop())
	stats := optimized.Process(samples)
	assert.Zero(t, stats.Skipped, "an accumulator must see every sample")
	assert.Equal(t, plain.Tracker().Occurrences(), optimized.Tracker().Occurrences())
	assert.Equal(t, plain.Tracker().FaultedCount(), optimized.Tracker().FaultedCount())
}

func TestActorOptimizationDisabledForTemporalFormulas(t *testing.T) {
	d := newDirectory(t)
	rule := anyFaultRule(25, 0, 12)
	rule.Parameters[1].PointExpression = "AVERAGE(sat, 1h) > 20"

	stats := NewActor(bindOn(t, d, rule, "ahu-1"), ActorOptions{OptimizeCompression: true}, nil, zerolog.Nop()).Process(faultDay("trend-sat-1"))
	assert.Equal(t, 112, stats.Evaluated)
	assert.Zero(t, stats.Skipped)
}

func TestActorDeltaIsZeroOnFirstSample(t *testing.T) {
	d := newDirectory(t)
	rule := anyFaultRule(25, 0, 1)
	rule.TemplateID = rules.TemplateCalculatedPoint
	rule.Parameters = []rules.RuleParameter{{Name: "Change", FieldID: "change", PointExpression: "DELTA([" + satModel + "])"}}
	rule.ImpactScores = nil

	actor := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{}, []telemetry.Sample{
		{TrendID: "trend-sat-1", Timestamp: at(0, 0), Value: 10},
		{TrendID: "trend-sat-1", Timestamp: at(0, 15), Value: 13},
		{TrendID: "trend-sat-1", Timestamp: at(0, 30), Value: 12},
	})
	var got []float64
	for _, p := range actor.State().Series("change").Points {
		got = append(got, p.Value)
	}
	assert.Equal(t, []float64{0, 3, -1}, got)
	assert.Empty(t, actor.Tracker().Occurrences())
}

func TestActorSelfReferenceReadsPreviousValue(t *testing.T) {
	d := newDirectory(t)
	rule := anyFaultRule(25, 0, 1)
	rule.TemplateID = rules.TemplateCalculatedPoint
	rule.Parameters = []rules.RuleParameter{{Name: "Counter", FieldID: "counter", PointExpression: "IF([" + satModel + "] > 20, counter + 1, 0)"}}
	rule.ImpactScores = nil

	actor := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{}, []telemetry.Sample{
		{TrendID: "trend-sat-1", Timestamp: at(0, 0), Value: 25},
		{TrendID: "trend-sat-1", Timestamp: at(0, 15), Value: 25},
		{TrendID: "trend-sat-1", Timestamp: at(0, 30), Value: 25},
		{TrendID: "trend-sat-1", Timestamp: at(0, 45), Value: 10},
		{TrendID: "trend-sat-1", Timestamp: at(1, 0), Value: 25},
	})
	var got []float64
	for _, p := range actor.State().Series("counter").Points {
		got = append(got, p.Value)
	}
	assert.Equal(t, []float64{1, 2, 3, 0, 1}, got)
}

func TestActorRejectsOutOfOrderAndDuplicates(t *testing.T) {
	d := newDirectory(t)
	actor := NewActor(bindOn(t, d, anyFaultRule(25, 0, 12), "ahu-1"), ActorOptions{}, nil, zerolog.Nop())

	stats := actor.Process([]telemetry.Sample{
		{TrendID: "trend-sat-1", Timestamp: at(1, 0), Value: 12},
		{TrendID: "trend-sat-1", Timestamp: at(0, 0), Value: 10},
		{TrendID: "trend-sat-1", Timestamp: at(1, 0), Value: 99},
		{TrendID: "unrelated", Timestamp: at(0, 30), Value: 1},
	})
	assert.Equal(t, ProcessStats{Accepted: 2, Duplicates: 1, Evaluated: 2}, stats)
	last, ok := actor.State().Series("sat-1").Last()
	require.True(t, ok)
	assert.Equal(t, 12.0, last.Value, "first value of a duplicate wins")

	stats = actor.Process([]telemetry.Sample{
		{TrendID: "trend-sat-1", Timestamp: at(0, 30), Value: 11},
		{TrendID: "trend-sat-1", Timestamp: at(1, 0), Value: 11},
		{TrendID: "trend-sat-1", Timestamp: at(2, 0), Value: 11},
	})
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, 1, stats.Evaluated)
}

func TestActorStaleInputsBecomeInvalid(t *testing.T) {
	d := newDirectory(t)
	rule := anyFaultRule(25, 0, 12)
	rule.Parameters = append(rule.Parameters[:1:1],
		rules.RuleParameter{Name: "Fan", FieldID: "fan", PointExpression: "[" + fanModel + "]"},
		rules.RuleParameter{Name: "Result", FieldID: rules.ResultField, PointExpression: "sat > 20 && fan > 0"},
	)

	actor := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{MaxSampleAge: 30 * time.Minute}, []telemetry.Sample{
		{TrendID: "trend-fan-1", Timestamp: at(0, 0), Value: 50},
		{TrendID: "trend-sat-1", Timestamp: at(0, 15), Value: 25},
		{TrendID: "trend-sat-1", Timestamp: at(1, 0), Value: 25},
	})
	points := actor.State().Series(rules.ResultField).Points
	require.Len(t, points, 3)
	assert.False(t, points[0].Valid, "sat not seen yet")
	assert.True(t, points[1].Valid)
	assert.Equal(t, 1.0, points[1].Value)
	assert.False(t, points[2].Valid, "fan older than 30m")
}

func TestActorRetentionTrimsSeries(t *testing.T) {
	d := newDirectory(t)
	actor := runActor(t, bindOn(t, d, anyFaultRule(25, 0, 12), "ahu-1"), ActorOptions{Retention: 2 * time.Hour}, faultDay("trend-sat-1"))

	points := actor.State().Series("sat-1").Points
	require.NotEmpty(t, points)
	assert.Equal(t, at(25, 45), points[0].Timestamp)
	assert.Len(t, actor.Tracker().Occurrences(), 1)
}

func TestActorRebindRemapsSeriesByTrend(t *testing.T) {
	d := newDirectory(t)
	rule := anyFaultRule(25, 0, 12)
	actor := runActor(t, bindOn(t, d, rule, "ahu-1"), ActorOptions{}, faultDay("trend-sat-1")[:8])
	require.Equal(t, 8, actor.State().Series("sat-1").Len())

	// The sensor is replaced by a new twin carrying the same trend.
	d.Remove("sat-1")
	require.NoError(t, d.Upsert(twins.Twin{ID: "sat-1b", ModelID: satModel, TrendID: "trend-sat-1"}))
	d.Relate("ahu-1", "sat-1b")
	version, err := d.Version(context.Background())
	require.NoError(t, err)

	binder, err := NewBinder(d)
	require.NoError(t, err)
	twin, err := d.Get(context.Background(), "ahu-1")
	require.NoError(t, err)
	rebound, err := binder.Bind(context.Background(), rule, *twin, nil, BindVersion{Snapshot: version, Rule: rule.Version})
	require.NoError(t, err)

	actor.Rebind(rebound)
	_, old := actor.State().TimedValues["sat-1"]
	assert.False(t, old)
	assert.Equal(t, 8, actor.State().Series("sat-1b").Len())

	actor.Process([]telemetry.Sample{{TrendID: "trend-sat-1", Timestamp: at(2, 0), Value: 11}})
	assert.Equal(t, 9, actor.State().Series("sat-1b").Len())
	assert.Equal(t, expression.Number(11), actor.Values()["sat"])
}
