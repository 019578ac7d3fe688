package application

import (
	"time"

	"github.com/rs/zerolog"

	"twin-rules/internal/expression"
	rules "twin-rules/internal/rules/domain"
	telemetry "twin-rules/internal/telemetry/domain"
)

// ActorOptions tunes evaluation and storage of one actor.
type ActorOptions struct {
	// EnableCompression stores runs of equal values once.
	EnableCompression bool
	// OptimizeCompression skips evaluation when no input changed and no
	// formula depends on time.
	OptimizeCompression bool
	// Retention trims stored values and closed occurrences older than the
	// newest sample minus Retention. Zero keeps everything.
	Retention time.Duration
	// MaxSampleAge invalidates inputs older than this at evaluation time.
	MaxSampleAge time.Duration
}

// ProcessStats summarizes one batch.
type ProcessStats struct {
	Accepted   int
	Duplicates int
	Rejected   int
	Evaluated  int
	Skipped    int
}

type heldInput struct {
	value expression.Value
	at    time.Time
}

// Actor owns the series and temporal state of one rule instance. It is not
// safe for concurrent use.
type Actor struct {
	bound  *BoundInstance
	opts   ActorOptions
	logger zerolog.Logger

	state   *rules.ActorState
	temps   []*expression.State
	inputs  map[string]heldInput
	tracker *Tracker

	values      map[string]expression.Value
	faulted     map[string]expression.Value
	lastFaulted time.Time
	hasResults  bool
	describe    *DescriptionTemplate
}

// NewActor builds an actor. state may be nil or a previously persisted state.
func NewActor(bound *BoundInstance, opts ActorOptions, state *rules.ActorState, logger zerolog.Logger) *Actor {
	if state == nil {
		state = &rules.ActorState{}
	}
	state.ID = bound.Instance.ID
	state.RuleID = bound.Rule.ID
	state.TwinID = bound.Twin.ID
	a := &Actor{
		opts:    opts,
		logger:  logger.With().Str("rule_id", bound.Rule.ID).Str("twin_id", bound.Twin.ID).Logger(),
		state:   state,
		inputs:  make(map[string]heldInput),
		values:  make(map[string]expression.Value),
		tracker: NewTracker(bound.Rule),
	}
	a.install(bound)
	a.tracker.SetDescriber(a.describeFaulted)
	return a
}

func (a *Actor) install(bound *BoundInstance) {
	a.bound = bound
	a.temps = make([]*expression.State, 0, len(bound.Parameters)+len(bound.ImpactScores))
	for _, list := range [][]BoundParameter{bound.Parameters, bound.ImpactScores} {
		for _, p := range list {
			a.temps = append(a.temps, p.Program.NewState())
		}
	}
	tpl, err := NewDescriptionTemplate(bound.Rule)
	if err != nil {
		a.logger.Warn().Err(err).Msg("description template")
		tpl = nil
	}
	a.describe = tpl
	a.hasResults = false
}

// Instance returns the bound instance.
func (a *Actor) Instance() *BoundInstance { return a.bound }

// Tracker returns the occurrence tracker.
func (a *Actor) Tracker() *Tracker { return a.tracker }

// State returns the actor series.
func (a *Actor) State() *rules.ActorState { return a.state }

// Rebind switches the actor to a new binding. Series of sensors whose trend
// moved to another twin are renamed. Temporal buffers restart unless the
// formulas are unchanged.
func (a *Actor) Rebind(bound *BoundInstance) {
	old := a.bound.Inputs()
	next := bound.Inputs()
	for trendID, oldName := range old {
		newName, ok := next[trendID]
		if !ok || newName == oldName {
			continue
		}
		if a.state.Rename(oldName, newName) {
			a.logger.Info().Str("trend_id", trendID).Str("from", oldName).Str("to", newName).Msg("series remapped")
		}
		if held, ok := a.inputs[oldName]; ok {
			a.inputs[newName] = held
			delete(a.inputs, oldName)
		}
	}
	a.tracker.Configure(bound.Rule)
	if sameFormulas(a.bound, bound) {
		a.bound = bound
		return
	}
	a.install(bound)
}

// sameFormulas reports whether two bindings evaluate the same programs over
// the same inputs, so temporal buffers can be kept.
func sameFormulas(a, b *BoundInstance) bool {
	if a.Location.String() != b.Location.String() || len(a.inputs) != len(b.inputs) {
		return false
	}
	for trendID, name := range a.inputs {
		if b.inputs[trendID] != name {
			return false
		}
	}
	same := func(x, y []BoundParameter) bool {
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i].FieldID != y[i].FieldID || x[i].Program.String() != y[i].Program.String() {
				return false
			}
		}
		return true
	}
	return a.Rule.Description == b.Rule.Description &&
		same(a.Parameters, b.Parameters) &&
		same(a.ImpactScores, b.ImpactScores)
}

// Process ingests a batch. Samples are stably sorted, duplicates of
// (trend, timestamp) keep the first value, and samples not newer than the last
// evaluated timestamp are rejected.
func (a *Actor) Process(samples []telemetry.Sample) ProcessStats {
	var stats ProcessStats
	inputs := a.bound.inputs
	relevant := make([]telemetry.Sample, 0, len(samples))
	for _, s := range samples {
		if _, ok := inputs[s.TrendID]; ok {
			relevant = append(relevant, s)
		}
	}
	telemetry.SortStable(relevant)

	type sampleKey struct {
		trend string
		at    int64
	}
	seen := make(map[sampleKey]struct{}, len(relevant))
	last := a.state.LastEvaluated
	i := 0
	for i < len(relevant) {
		at := relevant[i].Timestamp
		changed := false
		accepted := false
		for ; i < len(relevant) && relevant[i].Timestamp.Equal(at); i++ {
			s := relevant[i]
			key := sampleKey{trend: s.TrendID, at: s.Timestamp.UnixNano()}
			if _, dup := seen[key]; dup {
				stats.Duplicates++
				continue
			}
			seen[key] = struct{}{}
			if !last.IsZero() && !s.Timestamp.After(last) {
				stats.Rejected++
				continue
			}
			stats.Accepted++
			accepted = true
			if a.hold(inputs[s.TrendID], s) {
				changed = true
			}
		}
		if !accepted {
			continue
		}
		if a.step(at.UTC(), changed) {
			stats.Evaluated++
		} else {
			stats.Skipped++
		}
	}
	if stats.Rejected > 0 {
		a.logger.Warn().Int("rejected", stats.Rejected).Time("last_evaluated", last).Msg("out of order samples rejected")
	}
	return stats
}

func (a *Actor) hold(name string, s telemetry.Sample) bool {
	value := expression.Number(s.Value)
	prev, had := a.inputs[name]
	a.inputs[name] = heldInput{value: value, at: s.Timestamp}
	a.state.Series(name).Append(rules.TimedValue{Timestamp: s.Timestamp.UTC(), Value: s.Value, Valid: value.IsValid()}, a.opts.EnableCompression)
	return !had || !prev.value.Same(value)
}

// step evaluates one timestamp; it returns false when evaluation was skipped.
func (a *Actor) step(at time.Time, changed bool) bool {
	if a.state.FirstSample.IsZero() {
		a.state.FirstSample = at
	}
	skip := a.opts.OptimizeCompression &&
		a.opts.MaxSampleAge == 0 &&
		a.hasResults &&
		!changed &&
		!a.bound.dependsOnTime
	if !skip {
		a.evaluate(at)
	}
	compress := a.opts.EnableCompression

	all := append(append([]BoundParameter(nil), a.bound.Parameters...), a.bound.ImpactScores...)
	for _, p := range all {
		v := a.values[p.FieldID]
		f, ok := v.Float()
		a.state.Series(p.FieldID).Append(rules.TimedValue{Timestamp: at, Value: f, Valid: v.IsValid() && ok}, compress)
	}

	var result expression.Value
	if len(a.bound.Parameters) > 0 {
		result = a.values[a.bound.Parameters[a.bound.Result].FieldID]
	}
	sampleFaulted := a.tracker.Observe(at, result)
	a.state.OutputValues.Append(at, sampleFaulted, result.IsValid(), compress)
	if sampleFaulted {
		a.lastFaulted = at
		a.faulted = make(map[string]expression.Value, len(a.values))
		for k, v := range a.values {
			a.faulted[k] = v
		}
	}
	a.state.LastEvaluated = at

	if a.opts.Retention > 0 {
		cutoff := at.Add(-a.opts.Retention)
		for _, series := range a.state.TimedValues {
			series.TrimBefore(cutoff)
		}
		a.state.OutputValues.TrimBefore(cutoff)
		a.tracker.Trim(cutoff)
	}
	return !skip
}

func (a *Actor) evaluate(at time.Time) {
	frame := make(expression.MapFrame, len(a.inputs)+len(a.values))
	for name, in := range a.inputs {
		v := in.value
		if a.opts.MaxSampleAge > 0 && at.Sub(in.at) > a.opts.MaxSampleAge {
			v = expression.Invalid
		}
		frame[name] = v
	}
	env := expression.Env{
		Time:     at,
		Location: a.bound.Location,
		Frame:    frame,
		Elapsed:  at.Sub(a.state.FirstSample).Seconds(),
	}
	idx := 0
	for _, list := range [][]BoundParameter{a.bound.Parameters, a.bound.ImpactScores} {
		for _, p := range list {
			frame[p.FieldID] = a.previous(p.FieldID)
			v := p.Program.Eval(env, a.temps[idx])
			frame[p.FieldID] = v
			a.values[p.FieldID] = v
			idx++
		}
	}
	a.hasResults = true
}

// previous is the self-reference value: the last valid stored value, or 0.
func (a *Actor) previous(field string) expression.Value {
	if last, ok := a.state.TimedValues[field].LastValid(); ok {
		return expression.Number(last.Value)
	}
	return expression.Number(0)
}

// Values returns the latest value of every parameter and impact score.
func (a *Actor) Values() map[string]expression.Value {
	out := make(map[string]expression.Value, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// FaultedValues returns the values captured at the last faulted sample.
func (a *Actor) FaultedValues() (map[string]expression.Value, time.Time) {
	if a.faulted == nil {
		return nil, time.Time{}
	}
	out := make(map[string]expression.Value, len(a.faulted))
	for k, v := range a.faulted {
		out[k] = v
	}
	return out, a.lastFaulted
}

// Describe renders the rule description from the given values.
func (a *Actor) Describe(values map[string]expression.Value) string {
	if a.describe == nil {
		return a.bound.Rule.Description
	}
	data := DescriptionData{Values: make(map[string]string, len(values))}
	for k, v := range values {
		data.Values[k] = formatValue(v)
	}
	text, err := a.describe.Render(data)
	if err != nil {
		a.logger.Debug().Err(err).Msg("render description")
		return a.bound.Rule.Description
	}
	return text
}

func (a *Actor) describeFaulted() string {
	values, _ := a.FaultedValues()
	if values == nil {
		values = a.values
	}
	return a.Describe(values)
}
