package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ruleapp "twin-rules/internal/rules/application"
	rules "twin-rules/internal/rules/domain"
	rulerepo "twin-rules/internal/rules/infrastructure/postgres"
	telemetry "twin-rules/internal/telemetry/domain"
	telemetryrepo "twin-rules/internal/telemetry/infrastructure/postgres"
	twins "twin-rules/internal/twins/domain"
	twinrepo "twin-rules/internal/twins/infrastructure/postgres"
)

const (
	ahuModel = "dtmi:it:AirHandlingUnit;1"
	satModel = "dtmi:it:SupplyAirTemperatureSensor;1"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{
		"twins", "twin_relationships", "twin_model_extends", "twin_directory_version",
		"rules", "global_variables", "rule_instances", "rule_insights", "rule_metadata",
		"rule_actors", "trend_samples",
	} {
		if !tableExists(db, table) {
			t.Skip("missing tables; run migrations")
		}
	}
	return db
}

func seed(t *testing.T, db *sql.DB) *twinrepo.Directory {
	t.Helper()
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM rule_actors WHERE rule_id = 'it-sat-high'")
	_, _ = db.ExecContext(ctx, "DELETE FROM rule_insights WHERE rule_id = 'it-sat-high'")
	_, _ = db.ExecContext(ctx, "DELETE FROM rules WHERE id = 'it-sat-high'")
	_, _ = db.ExecContext(ctx, "DELETE FROM trend_samples WHERE trend_id = 'it-trend-sat-1'")
	_, _ = db.ExecContext(ctx, "DELETE FROM twins WHERE id IN ('it-ahu-1', 'it-sat-1')")

	dir := twinrepo.NewDirectory(db)
	require.NoError(t, dir.Upsert(ctx, twins.Twin{ID: "it-ahu-1", ModelID: ahuModel, TimeZone: "UTC",
		Properties: map[string]any{"zone": "north"}}))
	require.NoError(t, dir.Upsert(ctx, twins.Twin{ID: "it-sat-1", ModelID: satModel, TrendID: "it-trend-sat-1"}))
	require.NoError(t, dir.Relate(ctx, "it-ahu-1", "it-sat-1"))
	return dir
}

func satRule() rules.Rule {
	return rules.Rule{
		ID:             "it-sat-high",
		Name:           "Supply air temperature high",
		PrimaryModelID: ahuModel,
		TemplateID:     rules.TemplateAnyFault,
		Parameters: []rules.RuleParameter{
			{Name: "Supply Air", FieldID: "sat", PointExpression: "[" + satModel + "]"},
			{Name: "Result", FieldID: rules.ResultField, PointExpression: "sat > 20"},
		},
		Elements: []rules.RuleUIElement{
			{ID: rules.ElementPercentageOfTime, ValueDouble: 25},
			{ID: rules.ElementOverHowManyHours, ValueDouble: 12},
		},
		Description: "Supply air at {sat}",
		Version:     1,
	}
}

func faultDay(start time.Time) []telemetry.Sample {
	var out []telemetry.Sample
	for ts := start; ts.Before(start.Add(28 * time.Hour)); ts = ts.Add(15 * time.Minute) {
		value := 10.0
		if h := ts.Sub(start).Hours(); h >= 12 && h < 20 {
			value = 25
		}
		out = append(out, telemetry.Sample{TrendID: "it-trend-sat-1", Timestamp: ts, Value: value})
	}
	return out
}

func TestEngineClosedLoop_Postgres(t *testing.T) {
	db := openDB(t)
	dir := seed(t, db)
	ctx := context.Background()

	ruleRepo := rulerepo.NewRuleRepository(db)
	require.NoError(t, ruleRepo.Save(ctx, satRule()))
	stored, err := ruleRepo.Get(ctx, "it-sat-high")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	samples := faultDay(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	sampleRepo := telemetryrepo.NewSampleRepository(db)
	require.NoError(t, sampleRepo.InsertSamples(ctx, samples))

	insights := rulerepo.NewInsightRepository(db)
	metadata := rulerepo.NewMetadataRepository(db)
	actors := rulerepo.NewActorRepository(db)
	builder := ruleapp.NewInsightBuilder(ruleapp.WithPresentValues(sampleRepo))
	engine, err := ruleapp.NewEngine(ruleRepo, rulerepo.NewGlobalVariableRepository(db), insights, metadata, dir,
		ruleapp.WithInstanceRepository(rulerepo.NewInstanceRepository(db)),
		ruleapp.WithActorRepository(actors),
		ruleapp.WithInsightBuilder(builder),
	)
	require.NoError(t, err)

	res, err := engine.Process(ctx, samples)
	require.NoError(t, err)
	assert.Equal(t, 112, res.Accepted)
	assert.Equal(t, 1, res.InsightsCreated)

	insight, err := insights.Get(ctx, rules.InsightID("it-sat-high_it-ahu-1"))
	require.NoError(t, err)
	require.NotNil(t, insight)
	assert.Equal(t, 1, insight.FaultedCount)
	assert.Equal(t, "Supply air at 25", insight.Text)
	require.Len(t, insight.Points, 1)
	require.NotNil(t, insight.Points[0].PresentValue)
	assert.Equal(t, 10.0, *insight.Points[0].PresentValue)

	meta, err := metadata.Get(ctx, "it-sat-high")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta.InsightsGenerated)
	assert.Equal(t, 1, meta.ValidInstances)

	state, err := actors.Get(ctx, "it-sat-high_it-ahu-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, samples[len(samples)-1].Timestamp, state.LastEvaluated.UTC())

	require.NoError(t, ruleRepo.Save(ctx, satRule()))
	stored, err = ruleRepo.Get(ctx, "it-sat-high")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version, "every save bumps the version")
}

func TestSimulationFromHistory_Postgres(t *testing.T) {
	db := openDB(t)
	dir := seed(t, db)
	ctx := context.Background()

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	sampleRepo := telemetryrepo.NewSampleRepository(db)
	require.NoError(t, sampleRepo.InsertSamples(ctx, faultDay(start)))

	sim, err := ruleapp.NewSimulator(dir)
	require.NoError(t, err)
	src := sampleRepo.History([]string{"it-trend-sat-1"}, start, start.Add(24*time.Hour))
	res, err := sim.Run(ctx, ruleapp.SimulationRequest{Rule: satRule(), TwinID: "it-ahu-1"}, src)
	require.NoError(t, err)
	assert.Equal(t, 96, res.Samples)
	require.NotNil(t, res.Insight)
	assert.Equal(t, 1, res.Insight.FaultedCount)
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
