package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twin-rules/internal/expression"
	rules "twin-rules/internal/rules/domain"
)

func feed(tr *Tracker, from, to time.Time, step time.Duration, value func(time.Time) expression.Value) {
	for t := from; t.Before(to); t = t.Add(step) {
		tr.Observe(t, value(t))
	}
}

func faultWindow(t time.Time) expression.Value {
	return expression.Bool(!t.Before(at(12, 0)) && t.Before(at(20, 0)))
}

func TestTrackerPercentageOfTimeAlignsToFirstFaultedSample(t *testing.T) {
	tr := NewTracker(anyFaultRule(25, 0, 12))

	feed(tr, at(0, 0), at(14, 45), 15*time.Minute, faultWindow)
	assert.False(t, tr.Faulted())
	assert.Zero(t, tr.FaultedCount())

	tr.Observe(at(15, 0), faultWindow(at(15, 0)))
	require.True(t, tr.Faulted())
	assert.Equal(t, 1, tr.FaultedCount())

	feed(tr, at(15, 15), at(28, 0), 15*time.Minute, faultWindow)
	assert.False(t, tr.Faulted())

	occ := tr.Occurrences()
	require.Len(t, occ, 3)
	assert.False(t, occ[0].IsFaulted)
	assert.Equal(t, at(0, 0), occ[0].Started)
	require.NotNil(t, occ[0].Ended)
	assert.Equal(t, at(12, 0), *occ[0].Ended)

	assert.True(t, occ[1].IsFaulted)
	assert.Equal(t, at(12, 0), occ[1].Started)
	require.NotNil(t, occ[1].Ended)
	assert.Equal(t, at(20, 0), *occ[1].Ended)

	assert.False(t, occ[2].IsFaulted)
	assert.Equal(t, at(20, 0), occ[2].Started)
	assert.True(t, occ[2].Open())
}

func TestTrackerPercentageOffReleasesAtEarliestOkRun(t *testing.T) {
	tr := NewTracker(anyFaultRule(25, 50, 12))

	feed(tr, at(0, 0), at(25, 45), 15*time.Minute, faultWindow)
	require.True(t, tr.Faulted(), "ok share below half until 02:00")

	tr.Observe(at(26, 0), faultWindow(at(26, 0)))
	require.False(t, tr.Faulted())

	occ := tr.Occurrences()
	require.Len(t, occ, 3)
	assert.Equal(t, at(12, 0), occ[1].Started)
	assert.Equal(t, at(20, 0), *occ[1].Ended)
	assert.Equal(t, at(20, 0), occ[2].Started)
}

func TestTrackerInvalidSamplesOpenDataGap(t *testing.T) {
	tr := NewTracker(anyFaultRule(25, 0, 1))
	tr.Observe(at(0, 0), expression.Bool(false))
	tr.Observe(at(0, 30), expression.Bool(false))
	tr.Observe(at(1, 0), expression.Invalid)
	tr.Observe(at(1, 30), expression.Bool(false))

	occ := tr.Occurrences()
	require.Len(t, occ, 3)
	assert.True(t, occ[0].IsValid)
	assert.False(t, occ[1].IsValid)
	assert.Equal(t, "Result has 01:00:00 of data", occ[1].Text)
	assert.Equal(t, at(1, 30), *occ[1].Ended)
	assert.True(t, occ[2].IsValid)
	assert.Zero(t, tr.FaultedCount())
}

func TestTrackerInvalidNeverTriggers(t *testing.T) {
	tr := NewTracker(anyFaultRule(0, 0, 1))
	feed(tr, at(0, 0), at(6, 0), time.Hour, func(time.Time) expression.Value { return expression.Invalid })
	assert.Zero(t, tr.FaultedCount())
}

func TestTrackerHysteresis(t *testing.T) {
	rule := anyFaultRule(0, 0, 0)
	rule.TemplateID = rules.TemplateAnyHysteresis
	rule.Elements = []rules.RuleUIElement{
		{ID: rules.ElementMinTrigger, ValueDouble: 18},
		{ID: rules.ElementMaxTrigger, ValueDouble: 24},
	}
	tr := NewTracker(rule)

	values := []float64{20, 24, 22, 19, 18, 22, 25}
	var faulted []bool
	for i, v := range values {
		faulted = append(faulted, tr.Observe(at(i, 0), expression.Number(v)))
	}
	assert.Equal(t, []bool{false, true, true, true, false, false, true}, faulted)
	assert.Equal(t, 2, tr.FaultedCount())
	assert.True(t, tr.Faulted())

	occ := faultedOnly(tr)
	require.Len(t, occ, 2)
	assert.Equal(t, at(1, 0), occ[0].Started)
	assert.Equal(t, at(4, 0), *occ[0].Ended)
	assert.Equal(t, at(6, 0), occ[1].Started)
}

func TestTrackerUnchangingStartsAtRunStart(t *testing.T) {
	rule := anyFaultRule(0, 0, 2)
	rule.TemplateID = rules.TemplateUnchanging
	tr := NewTracker(rule)

	tr.Observe(at(0, 0), expression.Number(1))
	tr.Observe(at(1, 0), expression.Number(5))
	tr.Observe(at(2, 0), expression.Number(5))
	assert.False(t, tr.Faulted())
	tr.Observe(at(3, 0), expression.Number(5))
	require.True(t, tr.Faulted())
	tr.Observe(at(4, 0), expression.Number(6))
	require.False(t, tr.Faulted())

	occ := faultedOnly(tr)
	require.Len(t, occ, 1)
	assert.Equal(t, at(1, 0), occ[0].Started)
	assert.Equal(t, at(4, 0), *occ[0].Ended)
}

func TestTrackerCalculatedPointHasNoOccurrences(t *testing.T) {
	rule := anyFaultRule(0, 0, 1)
	rule.TemplateID = rules.TemplateCalculatedPoint
	tr := NewTracker(rule)
	feed(tr, at(0, 0), at(3, 0), time.Hour, func(time.Time) expression.Value { return expression.Bool(true) })
	assert.Empty(t, tr.Occurrences())
	assert.Zero(t, tr.FaultedCount())
}

func TestTrackerTrimKeepsRemainingOccurrencesIntact(t *testing.T) {
	tr := NewTracker(anyFaultRule(25, 0, 12))
	feed(tr, at(0, 0), at(28, 0), 15*time.Minute, faultWindow)
	before := tr.Occurrences()
	require.Len(t, before, 3)

	tr.Trim(at(13, 0))
	after := tr.Occurrences()
	require.Len(t, after, 2)
	assert.Equal(t, before[1:], after)

	tr.Trim(at(40, 0))
	assert.Len(t, tr.Occurrences(), 1, "the newest occurrence is always kept")
}

func TestTrackerRestoreContinuesOpenOccurrence(t *testing.T) {
	tr := NewTracker(anyFaultRule(25, 0, 12))
	feed(tr, at(0, 0), at(16, 0), 15*time.Minute, faultWindow)
	require.True(t, tr.Faulted())

	restored := NewTracker(anyFaultRule(25, 0, 12))
	restored.Restore(&rules.Insight{Occurrences: tr.Occurrences(), FaultedCount: tr.FaultedCount()})
	assert.True(t, restored.Faulted())
	restored.Observe(at(20, 0), expression.Bool(false))
	assert.False(t, restored.Faulted())
	assert.Equal(t, 1, restored.FaultedCount())
}

func faultedOnly(tr *Tracker) []rules.Occurrence {
	return rules.Insight{Occurrences: tr.Occurrences()}.FaultedOccurrences()
}
