package rules

import "errors"

var (
	// ErrNotFound indicates a missing rule, insight or metadata record.
	ErrNotFound = errors.New("rules: not found")
	// ErrEmptyRuleID is returned when a rule id is empty.
	ErrEmptyRuleID = errors.New("rules: empty rule id")
	// ErrEmptyModelID is returned when a rule has no primary model.
	ErrEmptyModelID = errors.New("rules: empty primary model id")
	// ErrNoParameters is returned when a rule has no parameters.
	ErrNoParameters = errors.New("rules: no parameters")
	// ErrMissingResult is returned when no parameter produces the result field.
	ErrMissingResult = errors.New("rules: missing result parameter")
	// ErrDuplicateField is returned when two parameters share a field id.
	ErrDuplicateField = errors.New("rules: duplicate field id")
	// ErrUnknownTemplate is returned for unsupported template ids.
	ErrUnknownTemplate = errors.New("rules: unknown template")
	// ErrEmptyMacroName is returned when a global variable has no name.
	ErrEmptyMacroName = errors.New("rules: empty global variable name")
	// ErrNilInsight is returned when saving a nil insight.
	ErrNilInsight = errors.New("rules: nil insight")
)
