package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	rules "twin-rules/internal/rules/domain"
	telemetry "twin-rules/internal/telemetry/domain"
	twins "twin-rules/internal/twins/domain"
)

// SimulationRequest describes one replay of a rule on one twin.
type SimulationRequest struct {
	Rule   rules.Rule
	Macros []rules.GlobalVariable
	TwinID string
	// Start and End are wall-clock times in the twin's time zone; samples in
	// [Start, End) are replayed. Zero values leave the range open.
	Start time.Time
	End   time.Time
	// Window splits the replay into evaluation windows for the
	// InsightsGenerated counter. Zero replays everything as one window.
	Window  time.Duration
	Options ActorOptions
}

// SimulationResult is the outcome of a replay.
type SimulationResult struct {
	Instance     rules.RuleInstance
	Insight      *rules.Insight
	OutputValues rules.OutputValues
	TimedValues  map[string]*rules.TimeSeries
	Metadata     rules.RuleMetadata
	Stats        ProcessStats
	Samples      int
	Start        time.Time
	End          time.Time
}

// Simulator replays recorded samples through bind, actor and tracker.
type Simulator struct {
	directory twins.Directory
	binder    *Binder
	builder   *InsightBuilder
	location  *time.Location
	logger    zerolog.Logger
}

// SimulatorOption customizes the simulator.
type SimulatorOption func(*Simulator)

// WithSimulatorLogger assigns a logger.
func WithSimulatorLogger(logger zerolog.Logger) SimulatorOption {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// WithSimulatorBuilder replaces the default insight builder.
func WithSimulatorBuilder(builder *InsightBuilder) SimulatorOption {
	return func(s *Simulator) {
		if builder != nil {
			s.builder = builder
		}
	}
}

// WithSimulatorLocation sets the time zone used for twins without one.
func WithSimulatorLocation(loc *time.Location) SimulatorOption {
	return func(s *Simulator) {
		s.location = loc
	}
}

// NewSimulator constructs a simulator.
func NewSimulator(directory twins.Directory, opts ...SimulatorOption) (*Simulator, error) {
	if directory == nil {
		return nil, errors.New("rules simulator: nil directory")
	}
	s := &Simulator{directory: directory, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	binder, err := NewBinder(directory, WithBinderLogger(s.logger), WithDefaultLocation(s.location))
	if err != nil {
		return nil, err
	}
	s.binder = binder
	if s.builder == nil {
		s.builder = NewInsightBuilder(WithInsightLogger(s.logger))
	}
	return s, nil
}

// Run replays source. When binding fails the result carries the instance with
// its failures alongside the error.
func (s *Simulator) Run(ctx context.Context, req SimulationRequest, source telemetry.Source) (*SimulationResult, error) {
	if source == nil {
		return nil, errors.New("rules simulator: nil source")
	}
	twin, err := s.directory.Get(ctx, req.TwinID)
	if err != nil {
		return nil, fmt.Errorf("rules simulator: twin %s: %w", req.TwinID, err)
	}
	snapshot, err := s.directory.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("rules simulator: directory version: %w", err)
	}
	bound, err := s.binder.Bind(ctx, req.Rule, *twin, req.Macros, BindVersion{Snapshot: snapshot, Rule: req.Rule.Version})
	if bound == nil {
		return nil, err
	}
	result := &SimulationResult{
		Instance: bound.Instance,
		Metadata: rules.RuleMetadata{RuleID: req.Rule.ID},
	}
	if err != nil {
		if errors.Is(err, ErrFilterMismatch) {
			result.Metadata.FilteredInstances = 1
		} else {
			result.Metadata.FailedInstances = 1
		}
		return result, err
	}
	result.Metadata.ValidInstances = 1

	result.Start = wallClockUTC(req.Start, bound.Location)
	result.End = wallClockUTC(req.End, bound.Location)

	if r, ok := source.(telemetry.Restartable); ok {
		if err := r.Reset(); err != nil {
			return result, fmt.Errorf("rules simulator: reset source: %w", err)
		}
	}
	all, err := telemetry.Drain(ctx, source)
	if err != nil {
		return result, fmt.Errorf("rules simulator: read source: %w", err)
	}
	samples := make([]telemetry.Sample, 0, len(all))
	for _, sample := range all {
		if !result.Start.IsZero() && sample.Timestamp.Before(result.Start) {
			continue
		}
		if !result.End.IsZero() && !sample.Timestamp.Before(result.End) {
			continue
		}
		samples = append(samples, sample)
	}
	telemetry.SortStable(samples)
	result.Samples = len(samples)

	actor := NewActor(bound, req.Options, nil, s.logger)
	for _, window := range splitWindows(samples, req.Window) {
		faultyAtStart := actor.Tracker().Faulted()
		countAtStart := actor.Tracker().FaultedCount()
		stats := actor.Process(window)
		result.Stats.Accepted += stats.Accepted
		result.Stats.Duplicates += stats.Duplicates
		result.Stats.Rejected += stats.Rejected
		result.Stats.Evaluated += stats.Evaluated
		result.Stats.Skipped += stats.Skipped
		if !faultyAtStart && actor.Tracker().FaultedCount() > countAtStart {
			result.Metadata.InsightsGenerated++
		}
	}

	state := actor.State()
	result.Metadata.LastEvaluated = state.LastEvaluated
	result.OutputValues = state.OutputValues
	result.TimedValues = state.TimedValues
	result.Insight = s.builder.Build(ctx, actor)
	s.logger.Info().
		Str("rule_id", req.Rule.ID).
		Str("twin_id", req.TwinID).
		Int("samples", result.Samples).
		Int("evaluated", result.Stats.Evaluated).
		Int("faulted_count", actor.Tracker().FaultedCount()).
		Msg("simulation finished")
	return result, nil
}

// wallClockUTC reinterprets the wall-clock fields of t in loc.
func wallClockUTC(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
}

// splitWindows cuts sorted samples into consecutive windows of the given length.
func splitWindows(samples []telemetry.Sample, window time.Duration) [][]telemetry.Sample {
	if len(samples) == 0 {
		return nil
	}
	if window <= 0 {
		return [][]telemetry.Sample{samples}
	}
	var out [][]telemetry.Sample
	begin := 0
	boundary := samples[0].Timestamp.Truncate(window).Add(window)
	for i, sample := range samples {
		if !sample.Timestamp.Before(boundary) {
			out = append(out, samples[begin:i])
			begin = i
			for !sample.Timestamp.Before(boundary) {
				boundary = boundary.Add(window)
			}
		}
	}
	return append(out, samples[begin:])
}
