package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ruleapp "twin-rules/internal/rules/application"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RULES_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, ruleapp.ActorOptions{}, cfg.ActorOptions())
	assert.Nil(t, cfg.RuleOverrides())
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
engine:
  workers: 8
  default_time_zone: Australia/Brisbane
defaults:
  enable_compression: true
  optimize_compression: true
  retention: 168h
rules:
  sat-high:
    optimize_compression: false
    max_sample_age: 30m
kafka:
  brokers: [kafka-1:9092]
`), 0o600))
	t.Setenv("RULES_CONFIG", path)
	t.Setenv("ENGINE_WORKERS", "2")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Australia/Brisbane", loc.String())

	assert.Equal(t, ruleapp.ActorOptions{EnableCompression: true, OptimizeCompression: true, Retention: 168 * time.Hour}, cfg.ActorOptions())
	assert.Equal(t, map[string]ruleapp.ActorOptions{
		"sat-high": {EnableCompression: true, Retention: 168 * time.Hour, MaxSampleAge: 30 * time.Minute},
	}, cfg.RuleOverrides())
}

func TestLoadRejectsUnknownTimeZone(t *testing.T) {
	t.Setenv("RULES_CONFIG", "")
	t.Setenv("DEFAULT_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}
