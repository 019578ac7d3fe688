package rules

import "context"

// RuleRepository persists rules.
type RuleRepository interface {
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id string) (*Rule, error)
	Save(ctx context.Context, rule Rule) error
}

// GlobalVariableRepository persists macros.
type GlobalVariableRepository interface {
	List(ctx context.Context) ([]GlobalVariable, error)
	Save(ctx context.Context, variable GlobalVariable) error
}

// InstanceRepository persists bound rule instances.
type InstanceRepository interface {
	ListByRule(ctx context.Context, ruleID string) ([]RuleInstance, error)
	Save(ctx context.Context, instance RuleInstance) error
	Delete(ctx context.Context, id string) error
}

// InsightRepository persists insights. Get returns nil when missing.
type InsightRepository interface {
	ListByRule(ctx context.Context, ruleID string) ([]Insight, error)
	Get(ctx context.Context, id string) (*Insight, error)
	Save(ctx context.Context, insight *Insight) error
	Delete(ctx context.Context, id string) error
}

// MetadataRepository persists rule counters. Get returns nil when missing.
type MetadataRepository interface {
	Get(ctx context.Context, ruleID string) (*RuleMetadata, error)
	Save(ctx context.Context, metadata RuleMetadata) error
}

// ActorRepository persists actor series between runs. Get returns nil when missing.
type ActorRepository interface {
	Get(ctx context.Context, id string) (*ActorState, error)
	Save(ctx context.Context, state *ActorState) error
	Delete(ctx context.Context, id string) error
}
