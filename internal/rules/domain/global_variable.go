package rules

// FunctionParameter is a formal parameter of a global variable.
type FunctionParameter struct {
	Name string `json:"name" yaml:"name"`
}

// GlobalVariable is a reusable macro. Its last expression is the macro value;
// earlier expressions are local bindings visible to the ones after them.
type GlobalVariable struct {
	Name       string              `json:"name" yaml:"name"`
	Parameters []FunctionParameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Expression []RuleParameter     `json:"expression" yaml:"expression"`
}

// Validate checks macro invariants.
func (g GlobalVariable) Validate() error {
	if g.Name == "" {
		return ErrEmptyMacroName
	}
	if len(g.Expression) == 0 {
		return ErrNoParameters
	}
	return nil
}
