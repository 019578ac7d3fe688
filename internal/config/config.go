package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ruleapp "twin-rules/internal/rules/application"
)

// RuleOptions tunes actors of one rule. Nil and zero fields inherit the defaults.
type RuleOptions struct {
	EnableCompression   *bool         `yaml:"enable_compression"`
	OptimizeCompression *bool         `yaml:"optimize_compression"`
	Retention           time.Duration `yaml:"retention"`
	MaxSampleAge        time.Duration `yaml:"max_sample_age"`
}

// EngineConfig configures the evaluation engine.
type EngineConfig struct {
	Workers         int           `yaml:"workers"`
	BatchSize       int           `yaml:"batch_size"`
	FlushEvery      time.Duration `yaml:"flush_every"`
	DefaultTimeZone string        `yaml:"default_time_zone"`
	MaxHops         int           `yaml:"max_hops"`
}

// KafkaConfig configures the live telemetry consumer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// NotifyConfig configures insight event delivery.
type NotifyConfig struct {
	WebhookURL    string        `yaml:"webhook_url"`
	Template      string        `yaml:"template"`
	Cooldown      time.Duration `yaml:"cooldown"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
	OnlyFaulty    bool          `yaml:"only_faulty"`
	SubjectPrefix string        `yaml:"subject_prefix"`
}

// Config is the service configuration.
type Config struct {
	DatabaseURL string                 `yaml:"database_url"`
	HTTPAddr    string                 `yaml:"http_addr"`
	NATSURL     string                 `yaml:"nats_url"`
	LogLevel    string                 `yaml:"log_level"`
	LogFormat   string                 `yaml:"log_format"`
	Kafka       KafkaConfig            `yaml:"kafka"`
	Engine      EngineConfig           `yaml:"engine"`
	Notify      NotifyConfig           `yaml:"notify"`
	Defaults    RuleOptions            `yaml:"defaults"`
	Rules       map[string]RuleOptions `yaml:"rules"`
}

// Load reads the optional YAML file named by RULES_CONFIG, then applies
// environment overrides.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:  ":8080",
		LogLevel:  "info",
		LogFormat: "json",
		Engine: EngineConfig{
			Workers:         4,
			BatchSize:       500,
			FlushEvery:      5 * time.Second,
			DefaultTimeZone: "UTC",
			MaxHops:         3,
		},
		Kafka: KafkaConfig{Topic: "telemetry", GroupID: "twin-rules"},
	}

	if path := os.Getenv("RULES_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.NATSURL = getenvDefault("NATS_URL", cfg.NATSURL)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)
	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.Topic = getenvDefault("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getenvDefault("KAFKA_GROUP", cfg.Kafka.GroupID)
	cfg.Engine.Workers = getenvIntDefault("ENGINE_WORKERS", cfg.Engine.Workers)
	cfg.Engine.BatchSize = getenvIntDefault("ENGINE_BATCH_SIZE", cfg.Engine.BatchSize)
	cfg.Engine.FlushEvery = getenvDuration("ENGINE_FLUSH_EVERY", cfg.Engine.FlushEvery)
	cfg.Engine.DefaultTimeZone = getenvDefault("DEFAULT_TIMEZONE", cfg.Engine.DefaultTimeZone)
	cfg.Defaults.Retention = getenvDuration("ENGINE_RETENTION", cfg.Defaults.Retention)
	cfg.Defaults.MaxSampleAge = getenvDuration("ENGINE_MAX_SAMPLE_AGE", cfg.Defaults.MaxSampleAge)
	if v, ok := getenvBool("ENGINE_COMPRESSION"); ok {
		cfg.Defaults.EnableCompression = &v
		cfg.Defaults.OptimizeCompression = &v
	}
	cfg.Notify.WebhookURL = getenvDefault("INSIGHT_WEBHOOK_URL", cfg.Notify.WebhookURL)

	if cfg.Engine.Workers <= 0 {
		return cfg, errors.New("config: engine workers must be positive")
	}
	if _, err := cfg.Location(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Location resolves the default time zone.
func (c Config) Location() (*time.Location, error) {
	if c.Engine.DefaultTimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Engine.DefaultTimeZone)
}

// ActorOptions returns the default actor options.
func (c Config) ActorOptions() ruleapp.ActorOptions {
	return toActorOptions(c.Defaults)
}

// RuleOverrides returns per-rule actor options merged over the defaults.
func (c Config) RuleOverrides() map[string]ruleapp.ActorOptions {
	if len(c.Rules) == 0 {
		return nil
	}
	out := make(map[string]ruleapp.ActorOptions, len(c.Rules))
	for ruleID, override := range c.Rules {
		out[ruleID] = toActorOptions(mergeRuleOptions(c.Defaults, override))
	}
	return out
}

func mergeRuleOptions(base, override RuleOptions) RuleOptions {
	if override.EnableCompression != nil {
		base.EnableCompression = override.EnableCompression
	}
	if override.OptimizeCompression != nil {
		base.OptimizeCompression = override.OptimizeCompression
	}
	if override.Retention != 0 {
		base.Retention = override.Retention
	}
	if override.MaxSampleAge != 0 {
		base.MaxSampleAge = override.MaxSampleAge
	}
	return base
}

func toActorOptions(o RuleOptions) ruleapp.ActorOptions {
	return ruleapp.ActorOptions{
		EnableCompression:   o.EnableCompression != nil && *o.EnableCompression,
		OptimizeCompression: o.OptimizeCompression != nil && *o.OptimizeCompression,
		Retention:           o.Retention,
		MaxSampleAge:        o.MaxSampleAge,
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return parsed, true
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
