package rules

import (
	"time"

	"github.com/google/uuid"
)

var insightNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("twin-rules/insight"))

// InsightID returns the deterministic insight id for a rule instance.
func InsightID(instanceID string) string {
	return uuid.NewSHA1(insightNamespace, []byte(instanceID)).String()
}

// Occurrence is one contiguous faulted, ok or data-gap interval.
type Occurrence struct {
	Started   time.Time  `json:"started"`
	Ended     *time.Time `json:"ended,omitempty"`
	IsFaulted bool       `json:"isFaulted"`
	IsValid   bool       `json:"isValid"`
	Text      string     `json:"text"`
}

// Open reports whether the occurrence has not ended.
func (o Occurrence) Open() bool { return o.Ended == nil }

// Duration returns the occurrence length, measured to now when still open.
func (o Occurrence) Duration(now time.Time) time.Duration {
	end := now
	if o.Ended != nil {
		end = *o.Ended
	}
	if end.Before(o.Started) {
		return 0
	}
	return end.Sub(o.Started)
}

// InsightPoint is a sensor that contributed to an insight.
type InsightPoint struct {
	TwinID       string   `json:"twinId"`
	TrendID      string   `json:"trendId,omitempty"`
	PresentValue *float64 `json:"presentValue,omitempty"`
}

// Insight is the fault history of one rule instance.
type Insight struct {
	ID              string             `json:"id"`
	RuleID          string             `json:"ruleId"`
	RuleName        string             `json:"ruleName"`
	RuleInstanceID  string             `json:"ruleInstanceId"`
	TwinID          string             `json:"twinId"`
	Occurrences     []Occurrence       `json:"occurrences"`
	FaultedCount    int                `json:"faultedCount"`
	IsFaulty        bool               `json:"isFaulty"`
	IsValid         bool               `json:"isValid"`
	Text            string             `json:"text"`
	Recommendations string             `json:"recommendations,omitempty"`
	ImpactScores    map[string]float64 `json:"impactScores,omitempty"`
	Points          []InsightPoint     `json:"points,omitempty"`
	CommandEnabled  bool               `json:"commandEnabled,omitempty"`
	LastFaultedDate *time.Time         `json:"lastFaultedDate,omitempty"`
	LastUpdated     time.Time          `json:"lastUpdated"`
}

// FaultedOccurrences returns the faulted occurrences in order.
func (i Insight) FaultedOccurrences() []Occurrence {
	out := make([]Occurrence, 0, len(i.Occurrences))
	for _, o := range i.Occurrences {
		if o.IsFaulted {
			out = append(out, o)
		}
	}
	return out
}
