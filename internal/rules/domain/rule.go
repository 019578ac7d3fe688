package rules

import (
	"fmt"
	"strings"
)

// TemplateID selects the fault-detection strategy of a rule.
type TemplateID string

const (
	TemplateAnyFault        TemplateID = "AnyFault"
	TemplateAnyHysteresis   TemplateID = "AnyHysteresis"
	TemplateUnchanging      TemplateID = "Unchanging"
	TemplateCalculatedPoint TemplateID = "CalculatedPoint"
)

// Valid returns true when the template is supported.
func (t TemplateID) Valid() bool {
	switch t {
	case TemplateAnyFault, TemplateAnyHysteresis, TemplateUnchanging, TemplateCalculatedPoint:
		return true
	default:
		return false
	}
}

// ResultField is the field id of the parameter that drives occurrences.
const ResultField = "result"

// Well-known element ids.
const (
	ElementPercentageOfTime    = "PercentageOfTime"
	ElementPercentageOfTimeOff = "PercentageOfTimeOff"
	ElementOverHowManyHours    = "OverHowManyHours"
	ElementMinTrigger          = "MinTrigger"
	ElementMaxTrigger          = "MaxTrigger"
)

// RuleParameter is one named formula of a rule.
type RuleParameter struct {
	Name            string `json:"name" yaml:"name"`
	FieldID         string `json:"fieldId" yaml:"fieldId"`
	PointExpression string `json:"pointExpression" yaml:"pointExpression"`
	Units           string `json:"units,omitempty" yaml:"units,omitempty"`
}

// RuleUIElement is a configured numeric or text setting of a rule.
type RuleUIElement struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name,omitempty" yaml:"name,omitempty"`
	ValueDouble float64 `json:"valueDouble,omitempty" yaml:"valueDouble,omitempty"`
	ValueInt    int     `json:"valueInt,omitempty" yaml:"valueInt,omitempty"`
	ValueString string  `json:"valueString,omitempty" yaml:"valueString,omitempty"`
}

// Float returns the numeric value, preferring ValueDouble.
func (e RuleUIElement) Float() float64 {
	if e.ValueDouble != 0 {
		return e.ValueDouble
	}
	return float64(e.ValueInt)
}

// Rule is an analytic rule authored against a twin model.
type Rule struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name"`
	PrimaryModelID  string          `json:"primaryModelId" yaml:"primaryModelId"`
	TemplateID      TemplateID      `json:"templateId" yaml:"templateId"`
	Parameters      []RuleParameter `json:"parameters" yaml:"parameters"`
	ImpactScores    []RuleParameter `json:"impactScores,omitempty" yaml:"impactScores,omitempty"`
	Filters         []RuleParameter `json:"filters,omitempty" yaml:"filters,omitempty"`
	Elements        []RuleUIElement `json:"elements,omitempty" yaml:"elements,omitempty"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	Recommendations string          `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	CommandEnabled  bool            `json:"commandEnabled,omitempty" yaml:"commandEnabled,omitempty"`
	Version         int64           `json:"version" yaml:"version"`
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if r.ID == "" {
		return ErrEmptyRuleID
	}
	if r.PrimaryModelID == "" {
		return fmt.Errorf("%w: rule %s", ErrEmptyModelID, r.ID)
	}
	if !r.TemplateID.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, r.TemplateID)
	}
	if len(r.Parameters) == 0 {
		return fmt.Errorf("%w: rule %s", ErrNoParameters, r.ID)
	}
	seen := make(map[string]struct{}, len(r.Parameters)+len(r.ImpactScores))
	for _, list := range [][]RuleParameter{r.Parameters, r.ImpactScores} {
		for _, p := range list {
			key := strings.ToLower(p.FieldID)
			if key == "" {
				return fmt.Errorf("rules: rule %s parameter %q has empty field id", r.ID, p.Name)
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateField, p.FieldID)
			}
			seen[key] = struct{}{}
		}
	}
	if r.TemplateID != TemplateCalculatedPoint {
		if _, ok := r.ResultParameter(); !ok {
			return fmt.Errorf("%w: rule %s", ErrMissingResult, r.ID)
		}
	}
	return nil
}

// ResultParameter returns the parameter producing the rule output. Calculated
// points use their last parameter when none is named result.
func (r Rule) ResultParameter() (RuleParameter, bool) {
	for _, p := range r.Parameters {
		if strings.EqualFold(p.FieldID, ResultField) {
			return p, true
		}
	}
	if r.TemplateID == TemplateCalculatedPoint && len(r.Parameters) > 0 {
		return r.Parameters[len(r.Parameters)-1], true
	}
	return RuleParameter{}, false
}

// Element looks up a UI element by id, case-insensitively.
func (r Rule) Element(id string) (RuleUIElement, bool) {
	for _, e := range r.Elements {
		if strings.EqualFold(e.ID, id) {
			return e, true
		}
	}
	return RuleUIElement{}, false
}

// ElementFloat returns the numeric element value or fallback.
func (r Rule) ElementFloat(id string, fallback float64) float64 {
	e, ok := r.Element(id)
	if !ok {
		return fallback
	}
	return e.Float()
}

// Fraction reads a percentage element as a fraction in [0, 1]. Values above 1
// are treated as percentages.
func (r Rule) Fraction(id string, fallback float64) float64 {
	v := r.ElementFloat(id, fallback)
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	return v
}
