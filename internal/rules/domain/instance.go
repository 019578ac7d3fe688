package rules

// InstanceStatus records the bind outcome of a rule instance.
type InstanceStatus string

const (
	StatusValid          InstanceStatus = "Valid"
	StatusBindingFailed  InstanceStatus = "BindingFailed"
	StatusFilterMismatch InstanceStatus = "FilterMismatch"
)

// PointEntity is one resolved sensor binding of a rule instance.
type PointEntity struct {
	TwinID       string `json:"twinId"`
	ModelID      string `json:"modelId"`
	TrendID      string `json:"trendId,omitempty"`
	VariableName string `json:"variableName"`
}

// BoundParameter is a rule parameter after macro inlining and sensor binding.
type BoundParameter struct {
	Name       string `json:"name"`
	FieldID    string `json:"fieldId"`
	Expression string `json:"expression"`
	Units      string `json:"units,omitempty"`
}

// RuleInstance is a rule bound to one concrete twin.
type RuleInstance struct {
	ID              string           `json:"id"`
	RuleID          string           `json:"ruleId"`
	TwinID          string           `json:"twinId"`
	PrimaryModelID  string           `json:"primaryModelId"`
	TimeZone        string           `json:"timeZone,omitempty"`
	PointEntityIDs  []PointEntity    `json:"pointEntityIds,omitempty"`
	Parameters      []BoundParameter `json:"parameters,omitempty"`
	ImpactScores    []BoundParameter `json:"impactScores,omitempty"`
	SnapshotVersion int64            `json:"snapshotVersion"`
	RuleVersion     int64            `json:"ruleVersion"`
	Status          InstanceStatus   `json:"status"`
	Failures        []string         `json:"failures,omitempty"`
}

// InstanceID returns the stable id of the instance of ruleID on twinID.
func InstanceID(ruleID, twinID string) string {
	return ruleID + "_" + twinID
}

// Valid reports whether the instance can be evaluated.
func (i RuleInstance) Valid() bool {
	return i.Status == StatusValid
}

// TrendIDs maps sensor variable names to trend ids.
func (i RuleInstance) TrendIDs() map[string]string {
	out := make(map[string]string, len(i.PointEntityIDs))
	for _, p := range i.PointEntityIDs {
		if p.TrendID != "" {
			out[p.VariableName] = p.TrendID
		}
	}
	return out
}
