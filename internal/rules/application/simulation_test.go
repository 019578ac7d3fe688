package application

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "twin-rules/internal/rules/domain"
	telemetry "twin-rules/internal/telemetry/domain"
	twins "twin-rules/internal/twins/domain"
)

func TestSimulationReplaysFaultDay(t *testing.T) {
	d := newDirectory(t)
	sim, err := NewSimulator(d)
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), SimulationRequest{
		Rule:   anyFaultRule(25, 0, 12),
		TwinID: "ahu-1",
	}, telemetry.NewSliceSource(faultDay("trend-sat-1")))
	require.NoError(t, err)

	assert.Equal(t, rules.StatusValid, res.Instance.Status)
	assert.Equal(t, 112, res.Samples)
	require.NotNil(t, res.Insight)
	assert.Equal(t, rules.InsightID(res.Instance.ID), res.Insight.ID)
	assert.Equal(t, 1, res.Insight.FaultedCount)
	assert.Equal(t, 1, res.Metadata.InsightsGenerated)
	assert.Equal(t, 1, res.Metadata.ValidInstances)
	assert.Len(t, res.OutputValues.Points, 112)
	assert.Contains(t, res.TimedValues, "sat-1")
}

func TestSimulationCompressionEquivalence(t *testing.T) {
	d := newDirectory(t)
	sim, err := NewSimulator(d)
	require.NoError(t, err)
	src := telemetry.NewSliceSource(faultDay("trend-sat-1"))
	req := SimulationRequest{Rule: anyFaultRule(25, 50, 12), TwinID: "ahu-1"}

	plain, err := sim.Run(context.Background(), req, src)
	require.NoError(t, err)

	req.Options = ActorOptions{EnableCompression: true, OptimizeCompression: true}
	optimized, err := sim.Run(context.Background(), req, src)
	require.NoError(t, err)

	assert.Equal(t, plain.Samples, optimized.Samples)
	assert.Equal(t, plain.Insight.Occurrences, optimized.Insight.Occurrences)
	assert.Equal(t, plain.Insight.FaultedCount, optimized.Insight.FaultedCount)
	assert.Less(t, len(optimized.OutputValues.Points), len(plain.OutputValues.Points))
	assert.Positive(t, optimized.Stats.Skipped)
}

func TestSimulationCompressionEquivalenceWithAccumulator(t *testing.T) {
	d := newDirectory(t)
	sim, err := NewSimulator(d)
	require.NoError(t, err)
	src := telemetry.NewSliceSource(faultDay("trend-sat-1"))
	req := SimulationRequest{Rule: counterRule(), TwinID: "ahu-1"}

	plain, err := sim.Run(context.Background(), req, src)
	require.NoError(t, err)
	req.Options = ActorOptions{EnableCompression: true, OptimizeCompression: true}
	optimized, err := sim.Run(context.Background(), req, src)
	require.NoError(t, err)

	require.NotNil(t, plain.Insight)
	require.NotNil(t, optimized.Insight)
	assert.Equal(t, 1, plain.Insight.FaultedCount)
	assert.Equal(t, plain.Insight.Occurrences, optimized.Insight.Occurrences)
	assert.Equal(t, plain.Insight.FaultedCount, optimized.Insight.FaultedCount)
	assert.Zero(t, optimized.Stats.Skipped)
}

func TestSimulationRangeUsesTwinTimeZone(t *testing.T) {
	d := newDirectory(t)
	require.NoError(t, d.Upsert(twins.Twin{ID: "ahu-3", ModelID: ahuModel, TimeZone: "Australia/Brisbane"}))
	require.NoError(t, d.Upsert(twins.Twin{ID: "sat-3", ModelID: satModel, TrendID: "trend-sat-3"}))
	d.Relate("ahu-3", "sat-3")
	sim, err := NewSimulator(d)
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), SimulationRequest{
		Rule:   anyFaultRule(25, 0, 12),
		TwinID: "ahu-3",
		Start:  time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}, telemetry.NewSliceSource(faultDay("trend-sat-3")))
	require.NoError(t, err)

	assert.Equal(t, day0, res.Start)
	assert.Equal(t, day0.Add(24*time.Hour), res.End)
	assert.Equal(t, 96, res.Samples)
	assert.Equal(t, "Australia/Brisbane", res.Instance.TimeZone)
}

func TestSimulationWindowsCountInsightsGenerated(t *testing.T) {
	d := newDirectory(t)
	sim, err := NewSimulator(d)
	require.NoError(t, err)

	samples := faultDay("trend-sat-1")
	for ts := at(28, 0); ts.Before(at(32, 0)); ts = ts.Add(15 * time.Minute) {
		samples = append(samples, telemetry.Sample{TrendID: "trend-sat-1", Timestamp: ts, Value: 30})
	}
	res, err := sim.Run(context.Background(), SimulationRequest{
		Rule:   anyFaultRule(25, 0, 12),
		TwinID: "ahu-1",
		Window: 6 * time.Hour,
	}, telemetry.NewSliceSource(samples))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Insight.FaultedCount)
	assert.Equal(t, 2, res.Metadata.InsightsGenerated)
}

func TestSimulationReportsBindFailure(t *testing.T) {
	d := newDirectory(t)
	sim, err := NewSimulator(d)
	require.NoError(t, err)
	rule := anyFaultRule(25, 0, 12)
	rule.Parameters[0].PointExpression = "[dtmi:com:willowinc:Missing;1]"

	res, err := sim.Run(context.Background(), SimulationRequest{Rule: rule, TwinID: "ahu-1"}, telemetry.NewSliceSource(nil))
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	require.NotNil(t, res)
	assert.Equal(t, rules.StatusBindingFailed, res.Instance.Status)
	assert.Equal(t, 1, res.Metadata.FailedInstances)
}

func TestSplitWindows(t *testing.T) {
	samples := []telemetry.Sample{
		{Timestamp: at(0, 0)}, {Timestamp: at(5, 59)}, {Timestamp: at(6, 0)}, {Timestamp: at(19, 0)},
	}
	windows := splitWindows(samples, 6*time.Hour)
	require.Len(t, windows, 3)
	assert.Len(t, windows[0], 2)
	assert.Len(t, windows[1], 1)
	assert.Len(t, windows[2], 1)
	assert.Len(t, splitWindows(samples, 0), 1)
	assert.Nil(t, splitWindows(nil, time.Hour))
}
