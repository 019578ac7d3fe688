package expression

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/conf"
	"github.com/expr-lang/expr/parser"
)

// ParseOption customizes parsing.
type ParseOption func(*parseConfig)

type parseConfig struct {
	macros map[string]struct{}
}

// WithMacros declares global variable names; calls to them become MacroCall nodes.
func WithMacros(names ...string) ParseOption {
	return func(c *parseConfig) {
		for _, name := range names {
			c.macros[strings.ToUpper(name)] = struct{}{}
		}
	}
}

// Parse converts formula text into an expression tree.
func Parse(text string, opts ...ParseOption) (Node, error) {
	cfg := parseConfig{macros: make(map[string]struct{})}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty formula", ErrSyntax)
	}

	norm, err := normalize(text)
	if err != nil {
		return nil, err
	}
	tree, err := parser.ParseWithConfig(norm.source, conf.CreateNew())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	c := converter{refs: norm.refs, macros: cfg.macros}
	return c.convert(tree.Node)
}

// MustParse is Parse for fixtures and constants; it panics on error.
func MustParse(text string, opts ...ParseOption) Node {
	n, err := Parse(text, opts...)
	if err != nil {
		panic(err)
	}
	return n
}

type converter struct {
	refs   []string
	macros map[string]struct{}
}

func (c converter) convert(n ast.Node) (Node, error) {
	switch v := n.(type) {
	case *ast.IntegerNode:
		return Constant{Value: Number(float64(v.Value))}, nil
	case *ast.FloatNode:
		return Constant{Value: Number(v.Value)}, nil
	case *ast.BoolNode:
		return Constant{Value: Bool(v.Value)}, nil
	case *ast.StringNode:
		return Constant{Value: Text(v.Value)}, nil
	case *ast.NilNode:
		return Constant{Value: Invalid}, nil
	case *ast.IdentifierNode:
		return c.identifier(v.Value)
	case *ast.MemberNode:
		return c.member(v)
	case *ast.ChainNode:
		return c.convert(v.Node)
	case *ast.UnaryNode:
		return c.unary(v)
	case *ast.BinaryNode:
		return c.binary(v)
	case *ast.ConditionalNode:
		cond, err := c.convert(v.Cond)
		if err != nil {
			return nil, err
		}
		then, err := c.convert(v.Exp1)
		if err != nil {
			return nil, err
		}
		otherwise, err := c.convert(v.Exp2)
		if err != nil {
			return nil, err
		}
		return If{Cond: cond, Then: then, Else: otherwise}, nil
	case *ast.CallNode:
		ident, ok := v.Callee.(*ast.IdentifierNode)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported call target", ErrSyntax)
		}
		return c.call(strings.ToUpper(ident.Value), v.Arguments)
	case *ast.BuiltinNode:
		return c.call(strings.ToUpper(v.Name), v.Arguments)
	default:
		return nil, fmt.Errorf("%w: unsupported syntax %T", ErrSyntax, n)
	}
}

func (c converter) identifier(name string) (Node, error) {
	if strings.HasPrefix(name, refPrefix) {
		idx, err := strconv.Atoi(strings.TrimPrefix(name, refPrefix))
		if err != nil || idx < 0 || idx >= len(c.refs) {
			return nil, fmt.Errorf("%w: bad reference %q", ErrSyntax, name)
		}
		return SensorRef{ModelID: c.refs[idx]}, nil
	}
	return Variable{Name: name}, nil
}

func (c converter) member(v *ast.MemberNode) (Node, error) {
	base, err := c.convert(v.Node)
	if err != nil {
		return nil, err
	}
	variable, ok := base.(Variable)
	if !ok {
		return nil, fmt.Errorf("%w: member access on %s", ErrSyntax, base)
	}
	prop, ok := v.Property.(*ast.StringNode)
	if !ok {
		return nil, fmt.Errorf("%w: computed member access", ErrSyntax)
	}
	return Variable{Name: variable.Name + "." + prop.Value}, nil
}

func (c converter) unary(v *ast.UnaryNode) (Node, error) {
	operand, err := c.convert(v.Node)
	if err != nil {
		return nil, err
	}
	switch v.Operator {
	case "+":
		return operand, nil
	case "-":
		switch o := operand.(type) {
		case Duration:
			return Duration{D: -o.D}, nil
		case Constant:
			if f, ok := o.Value.Float(); ok && o.Value.Kind() == KindNumber {
				return Constant{Value: Number(-f)}, nil
			}
		}
		return Unary{Op: "-", Operand: operand}, nil
	case "!", "not":
		return Unary{Op: "!", Operand: operand}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported operator %q", ErrSyntax, v.Operator)
	}
}

var binaryOperators = map[string]string{
	"+": "+", "-": "-", "*": "*", "/": "/", "%": "%",
	"^": "^", "**": "^",
	"==": "==", "!=": "!=", "<": "<", ">": ">", "<=": "<=", ">=": ">=",
	"&&": "&&", "and": "&&",
	"||": "||", "or": "||",
}

func (c converter) binary(v *ast.BinaryNode) (Node, error) {
	op, ok := binaryOperators[v.Operator]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported operator %q", ErrSyntax, v.Operator)
	}
	left, err := c.convert(v.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.convert(v.Right)
	if err != nil {
		return nil, err
	}
	return Binary{Op: op, Left: left, Right: right}, nil
}

func (c converter) call(name string, rawArgs []ast.Node) (Node, error) {
	args := make([]Node, 0, len(rawArgs))
	for _, raw := range rawArgs {
		arg, err := c.convert(raw)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	if _, ok := c.macros[name]; ok {
		return MacroCall{Name: name, Args: args}, nil
	}

	switch name {
	case durationCall:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: %s", ErrArity, name)
		}
		constant, ok := args[0].(Constant)
		seconds, isNum := constant.Value.Float()
		if !ok || !isNum {
			return nil, fmt.Errorf("%w: duration must be a literal", ErrSyntax)
		}
		return Duration{D: time.Duration(math.Round(seconds * float64(time.Second)))}, nil
	case "IF":
		if len(args) != 3 {
			return nil, fmt.Errorf("%w: IF takes 3 arguments, got %d", ErrArity, len(args))
		}
		return If{Cond: args[0], Then: args[1], Else: args[2]}, nil
	case "OPTION":
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: OPTION needs candidates", ErrArity)
		}
		return Option{Candidates: args}, nil
	case timeVariable:
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: TIME takes no arguments", ErrArity)
		}
		return Variable{Name: timeVariable}, nil
	}

	if err := checkArity(name, len(args)); err != nil {
		if errors.Is(err, ErrUnknownFunction) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
		}
		return nil, fmt.Errorf("%w: %s(%d)", err, name, len(args))
	}
	call := Call{Name: name, Args: args}
	if name == "COUNT" && !isTemporalCall(call) {
		return nil, fmt.Errorf("%w: COUNT requires a duration window", ErrSyntax)
	}
	return call, nil
}
