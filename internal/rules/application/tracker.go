package application

import (
	"fmt"
	"time"

	"twin-rules/internal/expression"
	rules "twin-rules/internal/rules/domain"
)

type sampleState uint8

const (
	stateInvalid sampleState = iota
	stateOK
	stateFaulted
)

// stateRun is a run of samples sharing a state. A run lasts until the next run starts.
type stateRun struct {
	start time.Time
	state sampleState
}

// Tracker turns the per-sample result stream into occurrences. It is Idle
// while no faulted occurrence is open and Faulted otherwise.
type Tracker struct {
	template   rules.TemplateID
	window     time.Duration
	on         float64
	off        float64
	minTrigger float64
	maxTrigger float64

	runs         []stateRun
	occurrences  []rules.Occurrence
	faulted      bool
	faultedCount int
	latched      bool

	lastValue      expression.Value
	hasLast        bool
	unchangedSince time.Time

	describe func() string
}

// NewTracker configures a tracker from the rule template and elements.
func NewTracker(rule rules.Rule) *Tracker {
	t := &Tracker{}
	t.Configure(rule)
	return t
}

// Configure applies rule settings, keeping recorded occurrences.
func (t *Tracker) Configure(rule rules.Rule) {
	t.template = rule.TemplateID
	hours := rule.ElementFloat(rules.ElementOverHowManyHours, 0)
	t.window = time.Duration(hours * float64(time.Hour))
	t.on = rule.Fraction(rules.ElementPercentageOfTime, 0)
	t.off = rule.Fraction(rules.ElementPercentageOfTimeOff, 0)
	t.minTrigger = rule.ElementFloat(rules.ElementMinTrigger, 0)
	t.maxTrigger = rule.ElementFloat(rules.ElementMaxTrigger, 0)
}

// SetDescriber sets the text source for faulted occurrences.
func (t *Tracker) SetDescriber(fn func() string) {
	t.describe = fn
}

// Restore seeds the tracker from a persisted insight.
func (t *Tracker) Restore(insight *rules.Insight) {
	if insight == nil {
		return
	}
	t.occurrences = append([]rules.Occurrence(nil), insight.Occurrences...)
	t.faultedCount = insight.FaultedCount
	if n := len(t.occurrences); n > 0 {
		last := t.occurrences[n-1]
		t.faulted = last.IsFaulted && last.Open()
		t.latched = t.faulted
	}
}

// Faulted reports whether a faulted occurrence is open.
func (t *Tracker) Faulted() bool { return t.faulted }

// FaultedCount is the number of Idle to Faulted transitions.
func (t *Tracker) FaultedCount() int { return t.faultedCount }

// Occurrences returns a copy of the occurrences. The open faulted occurrence
// carries a freshly rendered text.
func (t *Tracker) Occurrences() []rules.Occurrence {
	out := append([]rules.Occurrence(nil), t.occurrences...)
	if n := len(out); n > 0 && out[n-1].IsFaulted && out[n-1].Open() {
		out[n-1].Text = t.text()
	}
	return out
}

// Observe feeds the result of one timestamp and returns whether the sample
// itself is faulted.
func (t *Tracker) Observe(at time.Time, result expression.Value) bool {
	if t.template == rules.TemplateCalculatedPoint {
		return false
	}
	sampleFaulted, state := t.classify(at, result)
	t.pushRun(at, state)

	switch {
	case !t.faulted && state == stateFaulted && t.shouldTrigger(at):
		t.trigger(at)
	case t.faulted && state == stateOK && t.shouldRelease(at):
		t.release(at)
	case !t.faulted:
		t.segment(at, state)
	}
	t.pruneRuns(at)
	return sampleFaulted
}

func (t *Tracker) classify(at time.Time, result expression.Value) (bool, sampleState) {
	switch t.template {
	case rules.TemplateAnyHysteresis:
		f, ok := result.Float()
		if !result.IsValid() || !ok {
			return t.latched, stateInvalid
		}
		if !t.latched && f >= t.maxTrigger {
			t.latched = true
		} else if t.latched && f <= t.minTrigger {
			t.latched = false
		}
		if t.latched {
			return true, stateFaulted
		}
		return false, stateOK
	case rules.TemplateUnchanging:
		if !result.IsValid() {
			return false, stateInvalid
		}
		if !t.hasLast || !result.Same(t.lastValue) {
			t.unchangedSince = at
			t.lastValue = result
			t.hasLast = true
		}
		if t.window > 0 && at.Sub(t.unchangedSince) >= t.window {
			return true, stateFaulted
		}
		return false, stateOK
	default:
		if !result.IsValid() {
			return false, stateInvalid
		}
		if result.Truthy() {
			return true, stateFaulted
		}
		return false, stateOK
	}
}

func (t *Tracker) shouldTrigger(at time.Time) bool {
	if t.template != rules.TemplateAnyFault {
		return true
	}
	return t.fraction(at, stateFaulted) >= t.on
}

func (t *Tracker) shouldRelease(at time.Time) bool {
	if t.template != rules.TemplateAnyFault || t.off == 0 {
		return true
	}
	return t.fraction(at, stateOK) >= t.off
}

// fraction is the time-weighted share of target among valid samples in
// [at-window, at]. With no valid duration the current sample decides.
func (t *Tracker) fraction(at time.Time, target sampleState) float64 {
	from := at.Add(-t.window)
	var valid, hit time.Duration
	for i, run := range t.runs {
		end := at
		if i+1 < len(t.runs) {
			end = t.runs[i+1].start
		}
		start := run.start
		if start.Before(from) {
			start = from
		}
		if !end.After(start) || run.state == stateInvalid {
			continue
		}
		d := end.Sub(start)
		valid += d
		if run.state == target {
			hit += d
		}
	}
	if valid == 0 {
		return 1
	}
	return float64(hit) / float64(valid)
}

// validDuration is the valid data time in [at-window, at].
func (t *Tracker) validDuration(at time.Time) time.Duration {
	from := at.Add(-t.window)
	var valid time.Duration
	for i, run := range t.runs {
		end := at
		if i+1 < len(t.runs) {
			end = t.runs[i+1].start
		}
		start := run.start
		if start.Before(from) {
			start = from
		}
		if end.After(start) && run.state != stateInvalid {
			valid += end.Sub(start)
		}
	}
	return valid
}

// earliestRun returns the start of the first target run overlapping the window
// that starts after the given time.
func (t *Tracker) earliestRun(at time.Time, target sampleState, after time.Time) (time.Time, bool) {
	from := at.Add(-t.window)
	for i, run := range t.runs {
		end := at
		if i+1 < len(t.runs) {
			end = t.runs[i+1].start
		}
		if run.state != target || !run.start.After(after) {
			continue
		}
		if end.Before(from) {
			continue
		}
		return run.start, true
	}
	return time.Time{}, false
}

func (t *Tracker) trigger(at time.Time) {
	floor := t.lastFaultedEnd()
	started := at
	switch t.template {
	case rules.TemplateAnyFault:
		if s, ok := t.earliestRun(at, stateFaulted, floor.Add(-time.Nanosecond)); ok {
			started = s
		}
	case rules.TemplateUnchanging:
		started = t.unchangedSince
	}
	if started.Before(floor) {
		started = floor
	}
	if started.After(at) {
		started = at
	}

	// Non-faulted occurrences after the transition are folded into the new one.
	for len(t.occurrences) > 0 {
		last := &t.occurrences[len(t.occurrences)-1]
		if last.IsFaulted {
			break
		}
		if !last.Started.Before(started) {
			t.occurrences = t.occurrences[:len(t.occurrences)-1]
			continue
		}
		if last.Ended == nil || last.Ended.After(started) {
			end := started
			last.Ended = &end
		}
		break
	}
	t.occurrences = append(t.occurrences, rules.Occurrence{Started: started, IsFaulted: true, IsValid: true})
	t.faulted = true
	t.faultedCount++
}

func (t *Tracker) release(at time.Time) {
	n := len(t.occurrences)
	if n == 0 {
		t.faulted = false
		return
	}
	open := &t.occurrences[n-1]
	ended := at
	if t.template == rules.TemplateAnyFault && t.off > 0 {
		if s, ok := t.earliestRun(at, stateOK, open.Started); ok {
			ended = s
		}
	}
	open.Ended = &ended
	open.Text = t.text()
	t.occurrences = append(t.occurrences, rules.Occurrence{Started: ended, IsValid: true})
	t.faulted = false
}

// segment keeps ok and invalid intervals while idle.
func (t *Tracker) segment(at time.Time, state sampleState) {
	valid := state != stateInvalid
	if n := len(t.occurrences); n > 0 {
		last := &t.occurrences[n-1]
		if last.Open() && !last.IsFaulted {
			if last.IsValid == valid {
				return
			}
			end := at
			last.Ended = &end
		}
	}
	occ := rules.Occurrence{Started: at, IsValid: valid}
	if !valid {
		occ.Text = gapText(t.validDuration(at))
	}
	t.occurrences = append(t.occurrences, occ)
}

func (t *Tracker) lastFaultedEnd() time.Time {
	for i := len(t.occurrences) - 1; i >= 0; i-- {
		o := t.occurrences[i]
		if o.IsFaulted && o.Ended != nil {
			return *o.Ended
		}
	}
	return time.Time{}
}

func (t *Tracker) pushRun(at time.Time, state sampleState) {
	if n := len(t.runs); n > 0 && t.runs[n-1].state == state {
		return
	}
	t.runs = append(t.runs, stateRun{start: at, state: state})
}

// pruneRuns drops runs that ended before the window.
func (t *Tracker) pruneRuns(at time.Time) {
	from := at.Add(-t.window)
	i := 0
	for i+1 < len(t.runs) && !t.runs[i+1].start.After(from) {
		i++
	}
	if i > 0 {
		t.runs = append(t.runs[:0], t.runs[i:]...)
	}
}

// Trim drops closed occurrences that ended before cutoff, keeping the newest.
// Remaining occurrences are never modified.
func (t *Tracker) Trim(cutoff time.Time) {
	i := 0
	for i < len(t.occurrences)-1 {
		o := t.occurrences[i]
		if o.Ended == nil || !o.Ended.Before(cutoff) {
			break
		}
		i++
	}
	if i > 0 {
		t.occurrences = append(t.occurrences[:0], t.occurrences[i:]...)
	}
}

func (t *Tracker) text() string {
	if t.describe == nil {
		return ""
	}
	return t.describe()
}

func gapText(valid time.Duration) string {
	total := int64(valid / time.Second)
	return fmt.Sprintf("Result has %02d:%02d:%02d of data", total/3600, (total/60)%60, total%60)
}
