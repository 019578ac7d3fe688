package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"twin-rules/internal/observability/metrics"
	rules "twin-rules/internal/rules/domain"
	telemetry "twin-rules/internal/telemetry/domain"
	twins "twin-rules/internal/twins/domain"
)

const defaultWorkers = 4

// Handle indexes an actor slot in the engine arena. Handles are stable until
// the next preparation.
type Handle int

type actorSlot struct {
	mu    sync.Mutex
	actor *Actor

	faultyAtStart bool
	countAtStart  int
	stats         ProcessStats
	touched       bool
}

// BatchResult summarizes one Process call.
type BatchResult struct {
	Samples         int
	Accepted        int
	Duplicates      int
	Rejected        int
	Evaluated       int
	Skipped         int
	Instances       int
	InsightsCreated int
	InsightsUpdated int
	InsightsDeleted int
}

// Engine evaluates every bound rule instance against incoming samples.
type Engine struct {
	rules     rules.RuleRepository
	macros    rules.GlobalVariableRepository
	insights  rules.InsightRepository
	metadata  rules.MetadataRepository
	instances rules.InstanceRepository
	actors    rules.ActorRepository
	directory twins.Directory
	binder    *Binder
	builder   *InsightBuilder
	notifier  InsightNotifier
	logger    zerolog.Logger
	workers   int
	defaults  ActorOptions
	overrides map[string]ActorOptions

	epoch atomic.Int64

	mu         sync.Mutex
	prepared   bool
	preparedAt BindVersion
	slots      []*actorSlot
	byInstance map[string]Handle
	byTrend    map[string][]Handle
	meta       map[string]*rules.RuleMetadata
	deleted    int
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithWorkers bounds the number of actors evaluated in parallel.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithActorOptions sets the default actor options.
func WithActorOptions(opts ActorOptions) EngineOption {
	return func(e *Engine) {
		e.defaults = opts
	}
}

// WithRuleOptions overrides actor options per rule id.
func WithRuleOptions(overrides map[string]ActorOptions) EngineOption {
	return func(e *Engine) {
		for id, opts := range overrides {
			e.overrides[id] = opts
		}
	}
}

// WithInsightNotifier assigns the insight event notifier.
func WithInsightNotifier(notifier InsightNotifier) EngineOption {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithInstanceRepository persists bound instances.
func WithInstanceRepository(repo rules.InstanceRepository) EngineOption {
	return func(e *Engine) {
		e.instances = repo
	}
}

// WithActorRepository persists actor series across restarts.
func WithActorRepository(repo rules.ActorRepository) EngineOption {
	return func(e *Engine) {
		e.actors = repo
	}
}

// WithBinder replaces the default binder.
func WithBinder(binder *Binder) EngineOption {
	return func(e *Engine) {
		if binder != nil {
			e.binder = binder
		}
	}
}

// WithInsightBuilder replaces the default insight builder.
func WithInsightBuilder(builder *InsightBuilder) EngineOption {
	return func(e *Engine) {
		if builder != nil {
			e.builder = builder
		}
	}
}

// WithEngineLogger assigns a logger.
func WithEngineLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine constructs an engine.
func NewEngine(
	ruleRepo rules.RuleRepository,
	macroRepo rules.GlobalVariableRepository,
	insightRepo rules.InsightRepository,
	metadataRepo rules.MetadataRepository,
	directory twins.Directory,
	opts ...EngineOption,
) (*Engine, error) {
	if ruleRepo == nil {
		return nil, errors.New("rules engine: nil rule repository")
	}
	if macroRepo == nil {
		return nil, errors.New("rules engine: nil global variable repository")
	}
	if insightRepo == nil {
		return nil, errors.New("rules engine: nil insight repository")
	}
	if metadataRepo == nil {
		return nil, errors.New("rules engine: nil metadata repository")
	}
	if directory == nil {
		return nil, errors.New("rules engine: nil directory")
	}
	e := &Engine{
		rules:      ruleRepo,
		macros:     macroRepo,
		insights:   insightRepo,
		metadata:   metadataRepo,
		directory:  directory,
		logger:     zerolog.Nop(),
		workers:    defaultWorkers,
		overrides:  make(map[string]ActorOptions),
		byInstance: make(map[string]Handle),
		byTrend:    make(map[string][]Handle),
		meta:       make(map[string]*rules.RuleMetadata),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "rules-engine").Logger()
	if e.binder == nil {
		binder, err := NewBinder(directory, WithBinderLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.binder = binder
	}
	if e.builder == nil {
		e.builder = NewInsightBuilder(WithInsightLogger(e.logger))
	}
	return e, nil
}

// Invalidate marks rules and global variables as changed. The next batch
// rebinds every instance.
func (e *Engine) Invalidate() {
	e.epoch.Add(1)
}

// Actor returns the actor of a rule instance.
func (e *Engine) Actor(instanceID string) (*Actor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.byInstance[instanceID]
	if !ok {
		return nil, false
	}
	return e.slots[h].actor, true
}

// Len returns the number of actors.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.slots)
}

func (e *Engine) optionsFor(ruleID string) ActorOptions {
	if opts, ok := e.overrides[ruleID]; ok {
		return opts
	}
	return e.defaults
}

// Prepare binds every rule to every twin of its primary model when rules, global
// variables or the directory changed since the last preparation.
func (e *Engine) Prepare(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prepare(ctx)
}

func (e *Engine) prepare(ctx context.Context) error {
	snapshot, err := e.directory.Version(ctx)
	if err != nil {
		return fmt.Errorf("rules engine: directory version: %w", err)
	}
	epoch := e.epoch.Load()
	if e.prepared && e.preparedAt.Snapshot == snapshot && e.preparedAt.Epoch == epoch {
		return nil
	}

	ruleList, err := e.rules.List(ctx)
	if err != nil {
		return fmt.Errorf("rules engine: list rules: %w", err)
	}
	macros, err := e.macros.List(ctx)
	if err != nil {
		return fmt.Errorf("rules engine: list global variables: %w", err)
	}

	keep := make(map[string]*Actor)
	for _, rule := range ruleList {
		if err := rule.Validate(); err != nil {
			e.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("invalid rule skipped")
			continue
		}
		if e.preparedAt.Epoch != epoch {
			e.binder.Forget(rule.ID)
		}
		if err := e.prepareRule(ctx, rule, macros, BindVersion{Snapshot: snapshot, Rule: rule.Version, Epoch: epoch}, keep); err != nil {
			return err
		}
	}

	// Actors whose rule or twin disappeared are dropped; their insights stay.
	for id := range e.byInstance {
		if _, ok := keep[id]; !ok {
			e.logger.Info().Str("instance_id", id).Msg("actor released")
		}
	}
	e.rebuildArena(keep)
	e.prepared = true
	e.preparedAt = BindVersion{Snapshot: snapshot, Epoch: epoch}
	metrics.SetActiveActors(len(e.slots))
	return nil
}

func (e *Engine) prepareRule(ctx context.Context, rule rules.Rule, macros []rules.GlobalVariable, version BindVersion, keep map[string]*Actor) error {
	logger := e.logger.With().Str("rule_id", rule.ID).Logger()
	candidates, err := e.directory.ListByModel(ctx, rule.PrimaryModelID)
	if err != nil && !errors.Is(err, twins.ErrNotFound) {
		return fmt.Errorf("rules engine: list twins of %s: %w", rule.PrimaryModelID, err)
	}
	meta, err := e.ruleMetadata(ctx, rule.ID)
	if err != nil {
		return err
	}
	meta.ValidInstances, meta.FailedInstances, meta.FilteredInstances = 0, 0, 0

	for _, twin := range candidates {
		bound, err := e.binder.Bind(ctx, rule, twin, macros, version)
		if bound == nil {
			return fmt.Errorf("rules engine: bind %s on %s: %w", rule.ID, twin.ID, err)
		}
		metrics.IncBind(string(bound.Instance.Status))
		instanceID := bound.Instance.ID

		var bindErr *BindError
		switch {
		case err == nil:
			meta.ValidInstances++
			actor, err := e.ensureActor(ctx, bound)
			if err != nil {
				return err
			}
			keep[instanceID] = actor
		case errors.Is(err, ErrFilterMismatch):
			meta.FilteredInstances++
			if err := e.removeInstance(ctx, instanceID); err != nil {
				return err
			}
		case errors.As(err, &bindErr):
			meta.FailedInstances++
			logger.Warn().Err(err).Str("twin_id", twin.ID).Msg("rule instance skipped")
		default:
			return err
		}

		if e.instances != nil {
			if err := e.instances.Save(ctx, bound.Instance); err != nil {
				return fmt.Errorf("rules engine: save instance %s: %w", instanceID, err)
			}
		}
	}

	if err := e.metadata.Save(ctx, *meta); err != nil {
		return fmt.Errorf("rules engine: save metadata %s: %w", rule.ID, err)
	}
	logger.Debug().Int("valid", meta.ValidInstances).Int("failed", meta.FailedInstances).Int("filtered", meta.FilteredInstances).Msg("rule prepared")
	return nil
}

func (e *Engine) ensureActor(ctx context.Context, bound *BoundInstance) (*Actor, error) {
	if h, ok := e.byInstance[bound.Instance.ID]; ok {
		actor := e.slots[h].actor
		if actor.Instance() != bound {
			actor.Rebind(bound)
		}
		return actor, nil
	}
	var state *rules.ActorState
	if e.actors != nil {
		stored, err := e.actors.Get(ctx, bound.Instance.ID)
		if err != nil {
			return nil, fmt.Errorf("rules engine: load actor %s: %w", bound.Instance.ID, err)
		}
		state = stored
	}
	actor := NewActor(bound, e.optionsFor(bound.Rule.ID), state, e.logger)
	insight, err := e.insights.Get(ctx, rules.InsightID(bound.Instance.ID))
	if err != nil {
		return nil, fmt.Errorf("rules engine: load insight %s: %w", bound.Instance.ID, err)
	}
	actor.Tracker().Restore(insight)
	return actor, nil
}

// removeInstance deletes the insight and actor of a twin that no longer
// matches the rule filters.
func (e *Engine) removeInstance(ctx context.Context, instanceID string) error {
	insightID := rules.InsightID(instanceID)
	existing, err := e.insights.Get(ctx, insightID)
	if err != nil {
		return fmt.Errorf("rules engine: load insight %s: %w", instanceID, err)
	}
	if existing != nil {
		if err := e.insights.Delete(ctx, insightID); err != nil {
			return fmt.Errorf("rules engine: delete insight %s: %w", instanceID, err)
		}
		e.notify(ctx, EventInsightDeleted, *existing)
		e.deleted++
	}
	if e.actors != nil {
		if err := e.actors.Delete(ctx, instanceID); err != nil {
			return fmt.Errorf("rules engine: delete actor %s: %w", instanceID, err)
		}
	}
	if e.instances != nil {
		if err := e.instances.Delete(ctx, instanceID); err != nil {
			return fmt.Errorf("rules engine: delete instance %s: %w", instanceID, err)
		}
	}
	return nil
}

func (e *Engine) rebuildArena(keep map[string]*Actor) {
	ids := make([]string, 0, len(keep))
	for id := range keep {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	e.slots = make([]*actorSlot, 0, len(ids))
	e.byInstance = make(map[string]Handle, len(ids))
	e.byTrend = make(map[string][]Handle)
	for _, id := range ids {
		h := Handle(len(e.slots))
		actor := keep[id]
		e.slots = append(e.slots, &actorSlot{actor: actor})
		e.byInstance[id] = h
		for trendID := range actor.Instance().inputs {
			e.byTrend[trendID] = append(e.byTrend[trendID], h)
		}
	}
}

func (e *Engine) ruleMetadata(ctx context.Context, ruleID string) (*rules.RuleMetadata, error) {
	if meta, ok := e.meta[ruleID]; ok {
		return meta, nil
	}
	stored, err := e.metadata.Get(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rules engine: load metadata %s: %w", ruleID, err)
	}
	if stored == nil {
		stored = &rules.RuleMetadata{RuleID: ruleID}
	}
	e.meta[ruleID] = stored
	return stored, nil
}

// Process evaluates one batch of samples. Each batch is one evaluation window
// for the InsightsGenerated counter.
func (e *Engine) Process(ctx context.Context, samples []telemetry.Sample) (BatchResult, error) {
	start := time.Now()
	result, err := e.process(ctx, samples)
	outcome := metrics.ResultSuccess
	if err != nil {
		outcome = metrics.ResultError
	}
	metrics.ObserveBatch(outcome, time.Since(start))
	return result, err
}

// ProcessSamples is Process without the batch summary.
func (e *Engine) ProcessSamples(ctx context.Context, samples []telemetry.Sample) error {
	_, err := e.Process(ctx, samples)
	return err
}

func (e *Engine) process(ctx context.Context, samples []telemetry.Sample) (BatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := BatchResult{Samples: len(samples)}
	if err := e.prepare(ctx); err != nil {
		return result, err
	}
	result.InsightsDeleted, e.deleted = e.deleted, 0

	routed := make(map[Handle][]telemetry.Sample)
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			e.logger.Debug().Err(err).Str("trend_id", s.TrendID).Msg("sample dropped")
			continue
		}
		for _, h := range e.byTrend[s.TrendID] {
			routed[h] = append(routed[h], s)
		}
	}
	handles := make([]Handle, 0, len(routed))
	for h := range routed {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, h := range handles {
		slot := e.slots[h]
		batch := routed[h]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slot.mu.Lock()
			defer slot.mu.Unlock()
			tracker := slot.actor.Tracker()
			slot.faultyAtStart = tracker.Faulted()
			slot.countAtStart = tracker.FaultedCount()
			slot.stats = slot.actor.Process(batch)
			slot.touched = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	touchedRules := make(map[string]struct{})
	for _, h := range handles {
		slot := e.slots[h]
		if !slot.touched {
			continue
		}
		slot.touched = false
		result.Instances++
		result.Accepted += slot.stats.Accepted
		result.Duplicates += slot.stats.Duplicates
		result.Rejected += slot.stats.Rejected
		result.Evaluated += slot.stats.Evaluated
		result.Skipped += slot.stats.Skipped
		if err := e.write(ctx, slot, &result); err != nil {
			return result, err
		}
		touchedRules[slot.actor.Instance().Rule.ID] = struct{}{}
	}
	for ruleID := range touchedRules {
		if err := e.metadata.Save(ctx, *e.meta[ruleID]); err != nil {
			return result, fmt.Errorf("rules engine: save metadata %s: %w", ruleID, err)
		}
	}

	metrics.AddSamples(metrics.SamplesAccepted, result.Accepted)
	metrics.AddSamples(metrics.SamplesDuplicate, result.Duplicates)
	metrics.AddSamples(metrics.SamplesRejected, result.Rejected)
	metrics.AddEvaluations(metrics.EvaluationsRun, result.Evaluated)
	metrics.AddEvaluations(metrics.EvaluationsSkipped, result.Skipped)
	return result, nil
}

func (e *Engine) write(ctx context.Context, slot *actorSlot, result *BatchResult) error {
	actor := slot.actor
	bound := actor.Instance()
	meta, err := e.ruleMetadata(ctx, bound.Rule.ID)
	if err != nil {
		return err
	}
	if last := actor.State().LastEvaluated; last.After(meta.LastEvaluated) {
		meta.LastEvaluated = last
	}

	tracker := actor.Tracker()
	if !slot.faultyAtStart && tracker.FaultedCount() > slot.countAtStart {
		meta.InsightsGenerated++
	}

	if insight := e.builder.Build(ctx, actor); insight != nil {
		if err := e.insights.Save(ctx, insight); err != nil {
			return fmt.Errorf("rules engine: save insight %s: %w", bound.Instance.ID, err)
		}
		switch {
		case slot.countAtStart == 0:
			result.InsightsCreated++
			e.notify(ctx, EventInsightCreated, *insight)
		case tracker.FaultedCount() != slot.countAtStart || tracker.Faulted() != slot.faultyAtStart:
			result.InsightsUpdated++
			e.notify(ctx, EventInsightUpdated, *insight)
		}
	}

	if e.actors != nil {
		if err := e.actors.Save(ctx, actor.State()); err != nil {
			return fmt.Errorf("rules engine: save actor %s: %w", bound.Instance.ID, err)
		}
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, eventType string, insight rules.Insight) {
	metrics.IncInsightEvent(eventType)
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, InsightEvent{Type: eventType, Insight: insight})
}

// Run feeds samples from source into the engine. A batch is processed when it
// holds batchSize samples or flushEvery has elapsed, and when the source ends.
func (e *Engine) Run(ctx context.Context, source telemetry.Source, batchSize int, flushEvery time.Duration) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type next struct {
		sample telemetry.Sample
		err    error
	}
	feed := make(chan next, batchSize)
	go func() {
		defer close(feed)
		for {
			sample, err := source.Next(ctx)
			select {
			case feed <- next{sample: sample, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	committer, _ := source.(telemetry.Committer)
	processed := 0
	batch := make([]telemetry.Sample, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := e.Process(ctx, batch)
		if err != nil {
			return err
		}
		e.logger.Debug().Int("samples", res.Samples).Int("evaluated", res.Evaluated).Msg("batch processed")
		processed += len(batch)
		batch = batch[:0]
		if committer != nil {
			if err := committer.Commit(ctx, processed); err != nil {
				e.logger.Warn().Err(err).Int("processed", processed).Msg("commit source offsets")
			}
		}
		return nil
	}

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case n, ok := <-feed:
			if !ok {
				return flush()
			}
			if errors.Is(n.err, io.EOF) {
				return flush()
			}
			if n.err != nil {
				if err := flush(); err != nil {
					return err
				}
				return n.err
			}
			batch = append(batch, n.sample)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}
