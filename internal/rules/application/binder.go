package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"twin-rules/internal/expression"
	rules "twin-rules/internal/rules/domain"
	twins "twin-rules/internal/twins/domain"
)

const defaultMaxHops = 3

// BindVersion identifies the inputs a binding was computed from. A cached
// binding is reused only while all three parts are unchanged.
type BindVersion struct {
	Snapshot int64
	Rule     int64
	Epoch    int64
}

// BoundParameter is a compiled parameter of a bound instance.
type BoundParameter struct {
	Name    string
	FieldID string
	Units   string
	Program *expression.Program
	// Stateful is set when the value depends on earlier timestamps: temporal
	// calls, the clock, its own previous value or another stateful parameter.
	Stateful bool
}

// BoundInstance is a rule instance ready for evaluation.
type BoundInstance struct {
	Instance     rules.RuleInstance
	Rule         rules.Rule
	Twin         twins.Twin
	Parameters   []BoundParameter
	ImpactScores []BoundParameter
	Location     *time.Location
	Version      BindVersion
	// Result is the index of the result parameter.
	Result int

	dependsOnTime bool
	inputs        map[string]string
}

// Inputs maps trend ids to the variable names they feed.
func (b *BoundInstance) Inputs() map[string]string {
	out := make(map[string]string, len(b.inputs))
	for k, v := range b.inputs {
		out[k] = v
	}
	return out
}

// DependsOnTime reports whether any formula keeps history, reads the calendar
// or accumulates over its own previous value.
func (b *BoundInstance) DependsOnTime() bool { return b.dependsOnTime }

// Lookback is the longest temporal window of the instance.
func (b *BoundInstance) Lookback() time.Duration {
	var longest time.Duration
	for _, list := range [][]BoundParameter{b.Parameters, b.ImpactScores} {
		for _, p := range list {
			if l := p.Program.Lookback(); l > longest {
				longest = l
			}
		}
	}
	return longest
}

// Binder resolves rules against concrete twins.
type Binder struct {
	directory       twins.Directory
	logger          zerolog.Logger
	maxHops         int
	defaultLocation *time.Location

	mu    sync.Mutex
	cache map[bindKey]bindEntry
}

type bindKey struct {
	ruleID string
	twinID string
}

type bindEntry struct {
	version BindVersion
	bound   *BoundInstance
	err     error
}

// BinderOption customizes the binder.
type BinderOption func(*Binder)

// WithMaxHops bounds the relationship search for sensor references.
func WithMaxHops(hops int) BinderOption {
	return func(b *Binder) {
		if hops > 0 {
			b.maxHops = hops
		}
	}
}

// WithDefaultLocation sets the time zone for twins without one.
func WithDefaultLocation(loc *time.Location) BinderOption {
	return func(b *Binder) {
		if loc != nil {
			b.defaultLocation = loc
		}
	}
}

// WithBinderLogger assigns a logger.
func WithBinderLogger(logger zerolog.Logger) BinderOption {
	return func(b *Binder) {
		b.logger = logger
	}
}

// NewBinder constructs a binder.
func NewBinder(directory twins.Directory, opts ...BinderOption) (*Binder, error) {
	if directory == nil {
		return nil, errors.New("rules binder: nil directory")
	}
	b := &Binder{
		directory:       directory,
		logger:          zerolog.Nop(),
		maxHops:         defaultMaxHops,
		defaultLocation: time.UTC,
		cache:           make(map[bindKey]bindEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Bind resolves rule on twin. The returned instance always carries a status;
// the error is a *BindError for binding failures, ErrFilterMismatch when the
// twin is filtered out, or a directory error.
func (b *Binder) Bind(ctx context.Context, rule rules.Rule, twin twins.Twin, macros []rules.GlobalVariable, version BindVersion) (*BoundInstance, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	key := bindKey{ruleID: rule.ID, twinID: twin.ID}
	b.mu.Lock()
	entry, ok := b.cache[key]
	b.mu.Unlock()
	if ok && entry.version == version {
		return entry.bound, entry.err
	}

	bound, err := b.bind(ctx, rule, twin, newMacroSet(macros), version)
	if bound == nil {
		return nil, err
	}
	b.mu.Lock()
	b.cache[key] = bindEntry{version: version, bound: bound, err: err}
	b.mu.Unlock()
	return bound, err
}

// Forget drops cached bindings of a rule.
func (b *Binder) Forget(ruleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.cache {
		if key.ruleID == ruleID {
			delete(b.cache, key)
		}
	}
}

func (b *Binder) bind(ctx context.Context, rule rules.Rule, twin twins.Twin, macros macroSet, version BindVersion) (*BoundInstance, error) {
	r := &resolver{
		ctx:     ctx,
		binder:  b,
		rule:    rule,
		twin:    twin,
		macros:  macros,
		known:    make(map[string]string),
		stateful: make(map[string]bool),
		sensors:  make(map[string]*twins.Twin),
	}
	bound := &BoundInstance{
		Rule:     rule,
		Twin:     twin,
		Location: twin.Location(b.defaultLocation),
		Version:  version,
		inputs:   make(map[string]string),
	}
	bound.Instance = rules.RuleInstance{
		ID:              rules.InstanceID(rule.ID, twin.ID),
		RuleID:          rule.ID,
		TwinID:          twin.ID,
		PrimaryModelID:  rule.PrimaryModelID,
		TimeZone:        bound.Location.String(),
		SnapshotVersion: version.Snapshot,
		RuleVersion:     rule.Version,
		Status:          rules.StatusValid,
	}

	matched, err := r.filters()
	if r.fatal != nil {
		return nil, r.fatal
	}
	if !matched {
		bound.Instance.Status = rules.StatusFilterMismatch
		bound.Instance.Failures = []string{err.Error()}
		return bound, fmt.Errorf("%w: rule %s twin %s", ErrFilterMismatch, rule.ID, twin.ID)
	}

	resultParam, _ := rule.ResultParameter()
	for _, p := range rule.Parameters {
		param, ok := r.compile(p)
		if r.fatal != nil {
			return nil, r.fatal
		}
		if ok {
			if strings.EqualFold(p.FieldID, resultParam.FieldID) {
				bound.Result = len(bound.Parameters)
			}
			bound.Parameters = append(bound.Parameters, param)
		}
		r.declare(p)
	}
	for _, p := range rule.ImpactScores {
		param, ok := r.compile(p)
		if r.fatal != nil {
			return nil, r.fatal
		}
		if ok {
			bound.ImpactScores = append(bound.ImpactScores, param)
		}
		r.declare(p)
	}

	bound.Instance.PointEntityIDs = r.points
	for _, point := range r.points {
		if point.TrendID != "" {
			bound.inputs[point.TrendID] = point.VariableName
		} else {
			b.logger.Warn().Str("rule_id", rule.ID).Str("twin_id", twin.ID).Str("sensor_id", point.TwinID).Msg("sensor has no trend id")
		}
	}
	for _, list := range [][]BoundParameter{bound.Parameters, bound.ImpactScores} {
		for _, p := range list {
			if p.Stateful {
				bound.dependsOnTime = true
			}
		}
	}
	bound.Instance.Parameters = describeParameters(bound.Parameters)
	bound.Instance.ImpactScores = describeParameters(bound.ImpactScores)

	if len(r.failures) > 0 {
		bound.Instance.Status = rules.StatusBindingFailed
		bound.Instance.Failures = r.failures
		return bound, &BindError{RuleID: rule.ID, TwinID: twin.ID, Failures: r.failures, Causes: r.causes}
	}
	return bound, nil
}

func describeParameters(params []BoundParameter) []rules.BoundParameter {
	out := make([]rules.BoundParameter, 0, len(params))
	for _, p := range params {
		out = append(out, rules.BoundParameter{Name: p.Name, FieldID: p.FieldID, Expression: p.Program.String(), Units: p.Units})
	}
	return out
}

// resolver carries the state of one bind.
type resolver struct {
	ctx    context.Context
	binder *Binder
	rule   rules.Rule
	twin   twins.Twin
	macros macroSet

	known    map[string]string
	stateful map[string]bool
	sensors  map[string]*twins.Twin
	points   []rules.PointEntity
	failures []string
	causes   []error
	fatal    error
}

// binding accumulates the outcome of binding one subtree so OPTION can try
// candidates without committing failed ones.
type binding struct {
	points   []rules.PointEntity
	failures []string
	causes   []error
	stateful bool
}

func (a *binding) fail(msg string, cause error) {
	a.failures = append(a.failures, msg)
	a.causes = append(a.causes, cause)
}

func (a *binding) merge(other binding) {
	a.points = append(a.points, other.points...)
	a.failures = append(a.failures, other.failures...)
	a.causes = append(a.causes, other.causes...)
	a.stateful = a.stateful || other.stateful
}

func (r *resolver) commit(acc binding) {
	for _, p := range acc.points {
		dup := false
		for _, existing := range r.points {
			if existing.TwinID == p.TwinID {
				dup = true
				break
			}
		}
		if !dup {
			r.points = append(r.points, p)
		}
	}
	r.failures = append(r.failures, acc.failures...)
	r.causes = append(r.causes, acc.causes...)
}

func (r *resolver) declare(p rules.RuleParameter) {
	r.known[strings.ToLower(p.FieldID)] = p.FieldID
	if name := strings.ReplaceAll(p.Name, " ", ""); name != "" {
		if _, taken := r.known[strings.ToLower(name)]; !taken {
			r.known[strings.ToLower(name)] = p.FieldID
		}
	}
}

// filters evaluates every filter against the twin properties.
func (r *resolver) filters() (bool, error) {
	for _, f := range r.rule.Filters {
		parsed, err := r.macros.parse(f.PointExpression)
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", f.Name, err)
		}
		expanded, err := r.macros.expand(parsed, 0)
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", f.Name, err)
		}
		var acc binding
		bound := r.bind(expanded, "", &acc)
		if r.fatal != nil {
			return false, r.fatal
		}
		if len(acc.failures) > 0 {
			return false, fmt.Errorf("filter %s: %s", f.Name, strings.Join(acc.failures, "; "))
		}
		v, err := expression.Evaluate(bound, expression.Env{Location: r.twin.Location(r.binder.defaultLocation)})
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", f.Name, err)
		}
		if !v.Truthy() {
			return false, fmt.Errorf("filter %s evaluated to %s", f.Name, v)
		}
	}
	return true, nil
}

func (r *resolver) compile(p rules.RuleParameter) (BoundParameter, bool) {
	parsed, err := r.macros.parse(p.PointExpression)
	if err != nil {
		r.failures = append(r.failures, fmt.Sprintf("%s: %v", p.FieldID, err))
		r.causes = append(r.causes, err)
		return BoundParameter{}, false
	}
	expanded, err := r.macros.expand(parsed, 0)
	if err != nil {
		r.failures = append(r.failures, fmt.Sprintf("%s: %v", p.FieldID, err))
		r.causes = append(r.causes, err)
		return BoundParameter{}, false
	}
	var acc binding
	bound := r.bind(expanded, p.FieldID, &acc)
	r.commit(acc)
	if len(acc.failures) > 0 {
		return BoundParameter{}, false
	}
	program, err := expression.Compile(bound)
	if err != nil {
		r.failures = append(r.failures, fmt.Sprintf("%s: %v", p.FieldID, err))
		r.causes = append(r.causes, err)
		return BoundParameter{}, false
	}
	stateful := acc.stateful || program.DependsOnTime()
	if stateful {
		r.stateful[p.FieldID] = true
	}
	return BoundParameter{Name: p.Name, FieldID: p.FieldID, Units: p.Units, Program: program, Stateful: stateful}, true
}

// bind replaces sensor references, options, twin properties, elements and
// parameter names with evaluable nodes.
func (r *resolver) bind(n expression.Node, self string, acc *binding) expression.Node {
	switch v := n.(type) {
	case expression.SensorRef:
		sensor, err := r.sensor(v.ModelID)
		if err != nil {
			acc.fail(fmt.Sprintf("unresolved [%s]", v.ModelID), fmt.Errorf("%w: [%s]", ErrUnresolved, v.ModelID))
			return v
		}
		acc.points = append(acc.points, rules.PointEntity{
			TwinID:       sensor.ID,
			ModelID:      sensor.ModelID,
			TrendID:      sensor.TrendID,
			VariableName: sensor.ID,
		})
		return expression.Variable{Name: sensor.ID}
	case expression.Option:
		var last binding
		for _, candidate := range v.Candidates {
			var trial binding
			bound := r.bind(candidate, self, &trial)
			if len(trial.failures) == 0 {
				acc.merge(trial)
				return bound
			}
			last = trial
		}
		acc.fail(fmt.Sprintf("no candidate of %s resolved", v), fmt.Errorf("%w: %s (%s)", ErrUnresolved, v, strings.Join(last.failures, ", ")))
		return v
	case expression.Variable:
		return r.variable(v, self, acc)
	case expression.MacroCall:
		acc.fail(fmt.Sprintf("unexpanded macro %s", v.Name), fmt.Errorf("%w: macro %s", ErrUnresolved, v.Name))
		return v
	case expression.Unary:
		v.Operand = r.bind(v.Operand, self, acc)
		return v
	case expression.Binary:
		v.Left = r.bind(v.Left, self, acc)
		v.Right = r.bind(v.Right, self, acc)
		return v
	case expression.If:
		v.Cond = r.bind(v.Cond, self, acc)
		v.Then = r.bind(v.Then, self, acc)
		v.Else = r.bind(v.Else, self, acc)
		return v
	case expression.Call:
		args := make([]expression.Node, len(v.Args))
		for i, arg := range v.Args {
			args[i] = r.bind(arg, self, acc)
		}
		v.Args = args
		return v
	default:
		return n
	}
}

func (r *resolver) variable(v expression.Variable, self string, acc *binding) expression.Node {
	name := v.Name
	lower := strings.ToLower(name)
	if name == "TIME" {
		return v
	}
	if strings.HasPrefix(lower, "this.") {
		value, ok := r.twin.Property(name[len("this."):])
		if !ok {
			acc.fail(fmt.Sprintf("unknown twin property %s", name), fmt.Errorf("%w: %s", ErrUnresolved, name))
			return v
		}
		return expression.Constant{Value: toValue(value)}
	}
	if field, ok := r.known[lower]; ok {
		if r.stateful[field] {
			acc.stateful = true
		}
		return expression.Variable{Name: field}
	}
	if self != "" && lower == strings.ToLower(self) {
		acc.stateful = true
		return expression.Variable{Name: self}
	}
	if e, ok := r.rule.Element(name); ok {
		return expression.Constant{Value: expression.Number(e.Float())}
	}
	acc.fail(fmt.Sprintf("unknown variable %s", name), fmt.Errorf("%w: %s", ErrUnresolved, name))
	return v
}

// sensor resolves a model reference: the twin itself when it matches, else the
// nearest related twin.
func (r *resolver) sensor(modelID string) (*twins.Twin, error) {
	if cached, ok := r.sensors[modelID]; ok {
		if cached == nil {
			return nil, twins.ErrNotFound
		}
		return cached, nil
	}
	dir := r.binder.directory
	twin, err := dir.ResolveCandidate(r.ctx, modelID, r.twin.ID)
	if err == nil {
		r.sensors[modelID] = twin
		return twin, nil
	}
	if !errors.Is(err, twins.ErrNotFound) {
		r.fatal = err
		return nil, err
	}
	related, err := dir.FindRelated(r.ctx, r.twin.ID, modelID, r.binder.maxHops)
	if err != nil && !errors.Is(err, twins.ErrNotFound) {
		r.fatal = err
		return nil, err
	}
	if len(related) == 0 {
		r.sensors[modelID] = nil
		return nil, twins.ErrNotFound
	}
	twin = &related[0]
	r.sensors[modelID] = twin
	return twin, nil
}

func toValue(v any) expression.Value {
	switch x := v.(type) {
	case nil:
		return expression.Invalid
	case string:
		return expression.Text(x)
	case bool:
		return expression.Bool(x)
	case float64:
		return expression.Number(x)
	case float32:
		return expression.Number(float64(x))
	case int:
		return expression.Number(float64(x))
	case int64:
		return expression.Number(float64(x))
	case int32:
		return expression.Number(float64(x))
	default:
		return expression.Text(fmt.Sprint(x))
	}
}
