package rules

import "time"

// RuleMetadata holds per-rule counters.
type RuleMetadata struct {
	RuleID            string    `json:"ruleId"`
	InsightsGenerated int       `json:"insightsGenerated"`
	ValidInstances    int       `json:"validInstances"`
	FailedInstances   int       `json:"failedInstances"`
	FilteredInstances int       `json:"filteredInstances"`
	LastEvaluated     time.Time `json:"lastEvaluated"`
}
