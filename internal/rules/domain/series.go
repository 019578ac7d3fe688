package rules

import "time"

// TimedValue is one evaluated point. Invalid points are kept so gaps stay visible.
type TimedValue struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Valid     bool      `json:"valid"`
}

// TimeSeries is an ordered, time-deduplicated series.
type TimeSeries struct {
	Points []TimedValue `json:"points"`
}

// Append adds v when it is newer than the last point. With compress set, a
// point equal to its predecessor is not stored.
func (s *TimeSeries) Append(v TimedValue, compress bool) bool {
	if n := len(s.Points); n > 0 {
		last := s.Points[n-1]
		if !v.Timestamp.After(last.Timestamp) {
			return false
		}
		if compress && last.Valid == v.Valid && last.Value == v.Value {
			return false
		}
	}
	s.Points = append(s.Points, v)
	return true
}

// Last returns the newest point.
func (s *TimeSeries) Last() (TimedValue, bool) {
	if s == nil || len(s.Points) == 0 {
		return TimedValue{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// LastValid returns the newest valid point.
func (s *TimeSeries) LastValid() (TimedValue, bool) {
	if s == nil {
		return TimedValue{}, false
	}
	for i := len(s.Points) - 1; i >= 0; i-- {
		if s.Points[i].Valid {
			return s.Points[i], true
		}
	}
	return TimedValue{}, false
}

// TrimBefore drops points strictly older than cutoff, always keeping the newest point.
func (s *TimeSeries) TrimBefore(cutoff time.Time) {
	if s == nil || len(s.Points) < 2 {
		return
	}
	i := 0
	for i < len(s.Points)-1 && s.Points[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.Points = append(s.Points[:0], s.Points[i:]...)
	}
}

// Len returns the number of stored points.
func (s *TimeSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}

// OutputValue is a run of equal result points. Without compression every run
// covers a single timestamp.
type OutputValue struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Faulted bool      `json:"faulted"`
	Valid   bool      `json:"valid"`
}

// OutputValues is the result series of an actor.
type OutputValues struct {
	Points []OutputValue `json:"points"`
}

// Append records the result at t.
func (o *OutputValues) Append(at time.Time, faulted, valid bool, compress bool) {
	if n := len(o.Points); n > 0 {
		last := &o.Points[n-1]
		if !at.After(last.End) {
			return
		}
		if compress && last.Faulted == faulted && last.Valid == valid {
			last.End = at
			return
		}
	}
	o.Points = append(o.Points, OutputValue{Start: at, End: at, Faulted: faulted, Valid: valid})
}

// TrimBefore drops runs that ended before cutoff, keeping the newest run.
func (o *OutputValues) TrimBefore(cutoff time.Time) {
	if len(o.Points) < 2 {
		return
	}
	i := 0
	for i < len(o.Points)-1 && o.Points[i].End.Before(cutoff) {
		i++
	}
	if i > 0 {
		o.Points = append(o.Points[:0], o.Points[i:]...)
	}
}

// Faulted reports whether the latest result is faulted.
func (o *OutputValues) Faulted() bool {
	if len(o.Points) == 0 {
		return false
	}
	return o.Points[len(o.Points)-1].Faulted
}
