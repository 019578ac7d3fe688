package rules

import "time"

// ActorState is the persisted series of one actor. Temporal function buffers
// are not part of it; they are rebuilt on load.
type ActorState struct {
	ID            string                 `json:"id"`
	RuleID        string                 `json:"ruleId"`
	TwinID        string                 `json:"twinId"`
	TimedValues   map[string]*TimeSeries `json:"timedValues"`
	OutputValues  OutputValues           `json:"outputValues"`
	FirstSample   time.Time              `json:"firstSample"`
	LastEvaluated time.Time              `json:"lastEvaluated"`
}

// Series returns the named series, creating it when missing.
func (a *ActorState) Series(name string) *TimeSeries {
	if a.TimedValues == nil {
		a.TimedValues = make(map[string]*TimeSeries)
	}
	s, ok := a.TimedValues[name]
	if !ok {
		s = &TimeSeries{}
		a.TimedValues[name] = s
	}
	return s
}

// Rename moves a series to a new key. An existing series under the new key is replaced.
func (a *ActorState) Rename(from, to string) bool {
	if from == to || a.TimedValues == nil {
		return false
	}
	s, ok := a.TimedValues[from]
	if !ok {
		return false
	}
	a.TimedValues[to] = s
	delete(a.TimedValues, from)
	return true
}
