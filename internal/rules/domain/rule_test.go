package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() Rule {
	return Rule{
		ID:             "high-temp",
		Name:           "High temperature",
		PrimaryModelID: "dtmi:com:willowinc:AirHandlingUnit;1",
		TemplateID:     TemplateAnyFault,
		Parameters: []RuleParameter{
			{Name: "Temperature", FieldID: "temp", PointExpression: "[dtmi:com:willowinc:AirTemperatureSensor;1]"},
			{Name: "Result", FieldID: "result", PointExpression: "temp > 30"},
		},
		Elements: []RuleUIElement{
			{ID: ElementPercentageOfTime, ValueDouble: 25},
			{ID: ElementOverHowManyHours, ValueInt: 12},
		},
	}
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, validRule().Validate())

	cases := map[string]struct {
		mutate func(*Rule)
		want   error
	}{
		"empty id":       {func(r *Rule) { r.ID = "" }, ErrEmptyRuleID},
		"empty model":    {func(r *Rule) { r.PrimaryModelID = "" }, ErrEmptyModelID},
		"bad template":   {func(r *Rule) { r.TemplateID = "Sometimes" }, ErrUnknownTemplate},
		"no parameters":  {func(r *Rule) { r.Parameters = nil }, ErrNoParameters},
		"missing result": {func(r *Rule) { r.Parameters = r.Parameters[:1] }, ErrMissingResult},
		"duplicate field": {func(r *Rule) {
			r.ImpactScores = []RuleParameter{{Name: "Cost", FieldID: "TEMP", PointExpression: "1"}}
		}, ErrDuplicateField},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := validRule()
			tc.mutate(&r)
			assert.ErrorIs(t, r.Validate(), tc.want)
		})
	}
}

func TestCalculatedPointUsesLastParameter(t *testing.T) {
	r := validRule()
	r.TemplateID = TemplateCalculatedPoint
	r.Parameters = r.Parameters[:1]
	require.NoError(t, r.Validate())

	p, ok := r.ResultParameter()
	require.True(t, ok)
	assert.Equal(t, "temp", p.FieldID)
}

func TestRuleElements(t *testing.T) {
	r := validRule()
	assert.InDelta(t, 0.25, r.Fraction(ElementPercentageOfTime, 0), 1e-9)
	assert.InDelta(t, 12, r.ElementFloat("overhowmanyhours", 0), 1e-9)
	assert.InDelta(t, 0.5, r.Fraction(ElementPercentageOfTimeOff, 0.5), 1e-9)
}

func TestInsightIDIsDeterministic(t *testing.T) {
	a := InsightID(InstanceID("high-temp", "ahu-1"))
	b := InsightID("high-temp_ahu-1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, InsightID("high-temp_ahu-2"))
}
