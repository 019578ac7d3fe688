package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	rules "twin-rules/internal/rules/domain"
)

// RuleRepository is an in-memory rule store for replay and testing.
type RuleRepository struct {
	mu   sync.RWMutex
	data map[string]rules.Rule
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(initial ...rules.Rule) *RuleRepository {
	r := &RuleRepository{data: make(map[string]rules.Rule)}
	for _, rule := range initial {
		r.data[rule.ID] = rule
	}
	return r
}

// List returns rules ordered by id.
func (r *RuleRepository) List(ctx context.Context) ([]rules.Rule, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rules.Rule, 0, len(r.data))
	for _, rule := range r.data {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get loads a rule by id.
func (r *RuleRepository) Get(ctx context.Context, id string) (*rules.Rule, error) {
	_ = ctx
	if id == "" {
		return nil, rules.ErrEmptyRuleID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.data[id]
	if !ok {
		return nil, rules.ErrNotFound
	}
	return &rule, nil
}

// Save stores a rule.
func (r *RuleRepository) Save(ctx context.Context, rule rules.Rule) error {
	_ = ctx
	if rule.ID == "" {
		return rules.ErrEmptyRuleID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[rule.ID] = rule
	return nil
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

// GlobalVariableRepository is an in-memory macro store.
type GlobalVariableRepository struct {
	mu   sync.RWMutex
	data map[string]rules.GlobalVariable
}

// NewGlobalVariableRepository constructs a repository.
func NewGlobalVariableRepository(initial ...rules.GlobalVariable) *GlobalVariableRepository {
	r := &GlobalVariableRepository{data: make(map[string]rules.GlobalVariable)}
	for _, v := range initial {
		r.data[v.Name] = v
	}
	return r
}

// List returns macros ordered by name.
func (r *GlobalVariableRepository) List(ctx context.Context) ([]rules.GlobalVariable, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rules.GlobalVariable, 0, len(r.data))
	for _, v := range r.data {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save stores a macro.
func (r *GlobalVariableRepository) Save(ctx context.Context, variable rules.GlobalVariable) error {
	_ = ctx
	if err := variable.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[variable.Name] = variable
	return nil
}

// InstanceRepository is an in-memory rule instance store.
type InstanceRepository struct {
	mu   sync.RWMutex
	data map[string]rules.RuleInstance
}

// NewInstanceRepository constructs a repository.
func NewInstanceRepository() *InstanceRepository {
	return &InstanceRepository{data: make(map[string]rules.RuleInstance)}
}

// ListByRule returns the instances of a rule ordered by id.
func (r *InstanceRepository) ListByRule(ctx context.Context, ruleID string) ([]rules.RuleInstance, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rules.RuleInstance
	for _, inst := range r.data {
		if inst.RuleID == ruleID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save stores an instance.
func (r *InstanceRepository) Save(ctx context.Context, instance rules.RuleInstance) error {
	_ = ctx
	if instance.ID == "" {
		return errors.New("memory instance repo: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[instance.ID] = instance
	return nil
}

// Delete removes an instance.
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

// InsightRepository is an in-memory insight store.
type InsightRepository struct {
	mu   sync.RWMutex
	data map[string]rules.Insight
}

// NewInsightRepository constructs a repository.
func NewInsightRepository() *InsightRepository {
	return &InsightRepository{data: make(map[string]rules.Insight)}
}

// ListByRule returns the insights of a rule ordered by twin.
func (r *InsightRepository) ListByRule(ctx context.Context, ruleID string) ([]rules.Insight, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rules.Insight
	for _, insight := range r.data {
		if insight.RuleID == ruleID {
			out = append(out, insight)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TwinID < out[j].TwinID })
	return out, nil
}

// Get returns the insight or nil when missing.
func (r *InsightRepository) Get(ctx context.Context, id string) (*rules.Insight, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	insight, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	return &insight, nil
}

// Save stores a copy of the insight.
func (r *InsightRepository) Save(ctx context.Context, insight *rules.Insight) error {
	_ = ctx
	if insight == nil {
		return rules.ErrNilInsight
	}
	stored := *insight
	stored.Occurrences = append([]rules.Occurrence(nil), insight.Occurrences...)
	stored.Points = append([]rules.InsightPoint(nil), insight.Points...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[insight.ID] = stored
	return nil
}

// Delete removes an insight.
func (r *InsightRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

// Len returns the number of stored insights.
func (r *InsightRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// MetadataRepository is an in-memory rule metadata store.
type MetadataRepository struct {
	mu   sync.RWMutex
	data map[string]rules.RuleMetadata
}

// NewMetadataRepository constructs a repository.
func NewMetadataRepository() *MetadataRepository {
	return &MetadataRepository{data: make(map[string]rules.RuleMetadata)}
}

// Get returns the metadata or nil when missing.
func (r *MetadataRepository) Get(ctx context.Context, ruleID string) (*rules.RuleMetadata, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.data[ruleID]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

// Save stores metadata.
func (r *MetadataRepository) Save(ctx context.Context, metadata rules.RuleMetadata) error {
	_ = ctx
	if metadata.RuleID == "" {
		return rules.ErrEmptyRuleID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[metadata.RuleID] = metadata
	return nil
}

// ActorRepository keeps actor series as JSON snapshots so stored state never
// aliases a live actor.
type ActorRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewActorRepository constructs a repository.
func NewActorRepository() *ActorRepository {
	return &ActorRepository{data: make(map[string][]byte)}
}

// Get returns the state or nil when missing.
func (r *ActorRepository) Get(ctx context.Context, id string) (*rules.ActorState, error) {
	_ = ctx
	r.mu.RLock()
	raw, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var state rules.ActorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save stores a snapshot of state.
func (r *ActorRepository) Save(ctx context.Context, state *rules.ActorState) error {
	_ = ctx
	if state == nil || state.ID == "" {
		return errors.New("memory actor repo: empty state")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[state.ID] = raw
	return nil
}

// Delete removes a state.
func (r *ActorRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}
