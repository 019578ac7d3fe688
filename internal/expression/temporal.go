package expression

import "time"

// State holds the temporal buffers of one program for one actor.
// It is not safe for concurrent use; each actor evaluates sequentially.
type State struct {
	slots []slotState
}

type slotState interface {
	observe(env Env, input Value) Value
}

type deltaState struct {
	prev    float64
	hasPrev bool
}

// observe returns input(t) - input(tPrev); the first valid sample yields 0.
func (s *deltaState) observe(_ Env, input Value) Value {
	current, ok := input.Float()
	if !input.IsValid() || !ok {
		return Invalid
	}
	if !s.hasPrev {
		s.prev = current
		s.hasPrev = true
		return Number(0)
	}
	delta := current - s.prev
	s.prev = current
	return Number(delta)
}

type timedPoint struct {
	at    time.Time
	value float64
}

type windowState struct {
	spec   slotSpec
	points []timedPoint
	anchor time.Time
	held   Value
	primed bool
}

func (s *windowState) observe(env Env, input Value) Value {
	if s.spec.anchored {
		return s.observeAnchored(env, input)
	}
	return s.observeRolling(env, input)
}

// observeRolling aggregates over [t-window, t].
func (s *windowState) observeRolling(env Env, input Value) Value {
	s.append(env.Time, input)
	s.prune(env.Time.Add(-s.spec.window))
	return aggregate(s.spec.fn, s.values(time.Time{}, time.Time{}))
}

// observeAnchored aggregates over the completed period [A-window, A) where A is
// the latest anchor boundary at or before t. The value is recomputed only when
// t crosses into a new anchor period and held otherwise.
func (s *windowState) observeAnchored(env Env, input Value) Value {
	anchor := anchorBoundary(env.Time, s.spec.window, s.spec.offset, env.Location)
	if !s.primed || !anchor.Equal(s.anchor) {
		start := anchor.Add(-s.spec.window)
		s.prune(start)
		s.anchor = anchor
		s.held = aggregate(s.spec.fn, s.values(start, anchor))
		s.primed = true
	}
	s.append(env.Time, input)
	return s.held
}

func (s *windowState) append(at time.Time, input Value) {
	v, ok := input.Float()
	if !input.IsValid() || !ok {
		return
	}
	s.points = append(s.points, timedPoint{at: at, value: v})
}

// prune drops points strictly before from; a point exactly at from is kept.
func (s *windowState) prune(from time.Time) {
	i := 0
	for i < len(s.points) && s.points[i].at.Before(from) {
		i++
	}
	if i > 0 {
		s.points = append(s.points[:0], s.points[i:]...)
	}
}

// values returns points in [from, to). Zero bounds are open.
func (s *windowState) values(from, to time.Time) []float64 {
	out := make([]float64, 0, len(s.points))
	for _, p := range s.points {
		if !from.IsZero() && p.at.Before(from) {
			continue
		}
		if !to.IsZero() && !p.at.Before(to) {
			continue
		}
		out = append(out, p.value)
	}
	return out
}

const week = 7 * 24 * time.Hour

// anchorGranularity is the spacing of anchor boundaries for a window length.
func anchorGranularity(window time.Duration) time.Duration {
	switch {
	case window >= week && window%week == 0:
		return week
	case window >= 24*time.Hour:
		return 24 * time.Hour
	case window >= time.Hour:
		return time.Hour
	default:
		return window
	}
}

// anchorBoundary returns the latest anchor boundary at or before t. Boundaries
// follow the local calendar of loc (Monday weeks, midnight days, whole hours)
// and are shifted by offset.
func anchorBoundary(t time.Time, window, offset time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	shifted := t.Add(-offset).In(loc)
	var boundary time.Time
	switch anchorGranularity(window) {
	case week:
		day := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, loc)
		daysSinceMonday := (int(day.Weekday()) + 6) % 7
		boundary = day.AddDate(0, 0, -daysSinceMonday)
	case 24 * time.Hour:
		boundary = time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, loc)
	case time.Hour:
		boundary = time.Date(shifted.Year(), shifted.Month(), shifted.Day(), shifted.Hour(), 0, 0, 0, loc)
	default:
		boundary = shifted.Truncate(window)
	}
	return boundary.Add(offset).UTC()
}
