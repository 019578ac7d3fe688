package application

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnresolved is wrapped by BindError for references the directory cannot satisfy.
	ErrUnresolved = errors.New("rules: unresolved reference")
	// ErrMacroArity is returned when a global variable is called with the wrong argument count.
	ErrMacroArity = errors.New("rules: macro arity mismatch")
	// ErrMacroDepth is returned when macro expansion does not terminate.
	ErrMacroDepth = errors.New("rules: macro expansion too deep")
	// ErrFilterMismatch is returned when a twin does not satisfy the rule filters.
	ErrFilterMismatch = errors.New("rules: twin does not match rule filters")
	// ErrNotEvaluable is returned when a rule instance cannot run.
	ErrNotEvaluable = errors.New("rules: instance cannot be evaluated")
)

// BindError lists every reference that failed while binding one rule to one twin.
type BindError struct {
	RuleID   string
	TwinID   string
	Failures []string
	Causes   []error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("rules: bind %s on %s failed: %s", e.RuleID, e.TwinID, strings.Join(e.Failures, "; "))
}

// Unwrap exposes the individual causes to errors.Is and errors.As.
func (e *BindError) Unwrap() []error {
	return e.Causes
}
