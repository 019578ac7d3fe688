package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rules "twin-rules/internal/rules/domain"
	telemetry "twin-rules/internal/telemetry/domain"
	twins "twin-rules/internal/twins/domain"
	twinsmem "twin-rules/internal/twins/infrastructure/memory"
)

const (
	ahuModel    = "dtmi:com:willowinc:AirHandlingUnit;1"
	sensorModel = "dtmi:com:willowinc:Sensor;1"
	satModel    = "dtmi:com:willowinc:SupplyAirTemperatureSensor;1"
	fanModel    = "dtmi:com:willowinc:FanSpeedSensor;1"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// newDirectory seeds two AHUs, each with a supply air temperature sensor.
func newDirectory(t *testing.T) *twinsmem.Directory {
	t.Helper()
	d := twinsmem.NewDirectory()
	d.Extend(satModel, sensorModel)
	d.Extend(fanModel, sensorModel)
	for _, twin := range []twins.Twin{
		{ID: "ahu-1", Name: "AHU 1", ModelID: ahuModel, Properties: map[string]any{"zone": "north", "capacity": 120.0}},
		{ID: "ahu-2", Name: "AHU 2", ModelID: ahuModel, Properties: map[string]any{"zone": "south", "capacity": 80.0}},
		{ID: "sat-1", ModelID: satModel, TrendID: "trend-sat-1"},
		{ID: "sat-2", ModelID: satModel, TrendID: "trend-sat-2"},
		{ID: "fan-1", ModelID: fanModel, TrendID: "trend-fan-1"},
	} {
		require.NoError(t, d.Upsert(twin))
	}
	d.Relate("ahu-1", "sat-1")
	d.Relate("ahu-1", "fan-1")
	d.Relate("ahu-2", "sat-2")
	return d
}

func anyFaultRule(on, off, hours float64) rules.Rule {
	return rules.Rule{
		ID:             "sat-high",
		Name:           "Supply air temperature high",
		PrimaryModelID: ahuModel,
		TemplateID:     rules.TemplateAnyFault,
		Parameters: []rules.RuleParameter{
			{Name: "Supply Air", FieldID: "sat", PointExpression: "[" + satModel + "]", Units: "degC"},
			{Name: "Result", FieldID: rules.ResultField, PointExpression: "sat > 20"},
		},
		ImpactScores: []rules.RuleParameter{
			{Name: "Excess", FieldID: "excess", PointExpression: "MAX(sat - 20, 0)"},
		},
		Elements: []rules.RuleUIElement{
			{ID: rules.ElementPercentageOfTime, ValueDouble: on},
			{ID: rules.ElementPercentageOfTimeOff, ValueDouble: off},
			{ID: rules.ElementOverHowManyHours, ValueDouble: hours},
		},
		Description: "Supply air at {sat} degC exceeds 20 degC",
		Version:     1,
	}
}

// faultDay returns 15 minute samples of trendID: 10 until 12:00, 25 from 12:00
// to 20:00, 10 afterwards, ending at 04:00 the next day.
func faultDay(trendID string) []telemetry.Sample {
	var out []telemetry.Sample
	for at := day0; at.Before(day0.Add(28 * time.Hour)); at = at.Add(15 * time.Minute) {
		value := 10.0
		if !at.Before(day0.Add(12*time.Hour)) && at.Before(day0.Add(20*time.Hour)) {
			value = 25
		}
		out = append(out, telemetry.Sample{TrendID: trendID, Timestamp: at, Value: value})
	}
	return out
}

func bindOn(t *testing.T, d twins.Directory, rule rules.Rule, twinID string, macros ...rules.GlobalVariable) *BoundInstance {
	t.Helper()
	binder, err := NewBinder(d)
	require.NoError(t, err)
	twin, err := d.Get(context.Background(), twinID)
	require.NoError(t, err)
	bound, err := binder.Bind(context.Background(), rule, *twin, macros, BindVersion{Rule: rule.Version})
	require.NoError(t, err)
	return bound
}

func at(hours, minutes int) time.Time {
	return day0.Add(time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute)
}

// counterRule faults once the supply air has been above 20 degC for four
// consecutive samples.
func counterRule() rules.Rule {
	rule := anyFaultRule(25, 0, 12)
	rule.Parameters = []rules.RuleParameter{
		{Name: "Supply Air", FieldID: "sat", PointExpression: "[" + satModel + "]", Units: "degC"},
		{Name: "Counter", FieldID: "counter", PointExpression: "IF(sat > 20, counter + 1, 0)"},
		{Name: "Result", FieldID: rules.ResultField, PointExpression: "counter >= 4"},
	}
	rule.ImpactScores = nil
	return rule
}
