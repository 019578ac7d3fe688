package application

import (
	"fmt"
	"strings"

	"twin-rules/internal/expression"
	rules "twin-rules/internal/rules/domain"
)

const maxMacroDepth = 8

// macroSet indexes global variables by upper-cased name.
type macroSet struct {
	byName map[string]rules.GlobalVariable
	names  []string
}

func newMacroSet(vars []rules.GlobalVariable) macroSet {
	set := macroSet{byName: make(map[string]rules.GlobalVariable, len(vars))}
	for _, v := range vars {
		if v.Validate() != nil {
			continue
		}
		key := strings.ToUpper(v.Name)
		if _, dup := set.byName[key]; dup {
			continue
		}
		set.byName[key] = v
		set.names = append(set.names, v.Name)
	}
	return set
}

func (m macroSet) parse(text string) (expression.Node, error) {
	return expression.Parse(text, expression.WithMacros(m.names...))
}

// expand inlines every macro call in n. Formal parameters and the macro's local
// bindings are substituted by name; the macro value is its last expression.
func (m macroSet) expand(n expression.Node, depth int) (expression.Node, error) {
	return rewriteDeep(n, func(node expression.Node) (expression.Node, error) {
		call, ok := node.(expression.MacroCall)
		if !ok {
			return node, nil
		}
		if depth >= maxMacroDepth {
			return nil, fmt.Errorf("%w: %s", ErrMacroDepth, call.Name)
		}
		macro, ok := m.byName[call.Name]
		if !ok {
			return nil, fmt.Errorf("%w: macro %s", ErrUnresolved, call.Name)
		}
		if len(call.Args) != len(macro.Parameters) {
			return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrMacroArity, macro.Name, len(macro.Parameters), len(call.Args))
		}

		env := make(map[string]expression.Node, len(macro.Parameters)+len(macro.Expression))
		for i, p := range macro.Parameters {
			env[strings.ToLower(p.Name)] = call.Args[i]
		}
		var body expression.Node
		for _, local := range macro.Expression {
			parsed, err := m.parse(local.PointExpression)
			if err != nil {
				return nil, fmt.Errorf("macro %s: %w", macro.Name, err)
			}
			substituted, err := substitute(parsed, env)
			if err != nil {
				return nil, err
			}
			expanded, err := m.expand(substituted, depth+1)
			if err != nil {
				return nil, err
			}
			body = expanded
			if local.FieldID != "" {
				env[strings.ToLower(local.FieldID)] = expanded
			}
			if local.Name != "" {
				env[strings.ToLower(local.Name)] = expanded
			}
		}
		return body, nil
	})
}

func substitute(n expression.Node, env map[string]expression.Node) (expression.Node, error) {
	return rewriteDeep(n, func(node expression.Node) (expression.Node, error) {
		if v, ok := node.(expression.Variable); ok {
			if replacement, found := env[strings.ToLower(v.Name)]; found {
				return replacement, nil
			}
		}
		return node, nil
	})
}

// rewriteDeep is expression.Rewrite that also descends into OPTION candidates.
func rewriteDeep(n expression.Node, fn func(expression.Node) (expression.Node, error)) (expression.Node, error) {
	return expression.Rewrite(n, func(node expression.Node) (expression.Node, error) {
		if opt, ok := node.(expression.Option); ok {
			candidates := make([]expression.Node, len(opt.Candidates))
			for i, c := range opt.Candidates {
				rewritten, err := rewriteDeep(c, fn)
				if err != nil {
					return nil, err
				}
				candidates[i] = rewritten
			}
			node = expression.Option{Candidates: candidates}
		}
		return fn(node)
	})
}
