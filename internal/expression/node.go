package expression

import (
	"strconv"
	"strings"
	"time"
)

// Node is one element of a parsed formula. Trees are immutable after parsing;
// rewrites (macro inlining, sensor binding) build new trees.
type Node interface {
	node()
	String() string
}

// Constant is a literal value.
type Constant struct {
	Value Value
}

// Duration is a time-span literal such as 15m or -1d.
type Duration struct {
	D time.Duration
}

// Variable references a parameter, element, bound sensor or twin property (this.X).
type Variable struct {
	Name string
}

// SensorRef is a [modelId] reference resolved to a concrete twin at bind time.
type SensorRef struct {
	ModelID string
}

// Unary applies a prefix operator.
type Unary struct {
	Op      string
	Operand Node
}

// Binary applies an infix operator.
type Binary struct {
	Op    string
	Left  Node
	Right Node
}

// Call is a built-in function invocation. Names are upper-cased.
type Call struct {
	Name string
	Args []Node
}

// Option lists alternative candidates; the binder keeps the first that resolves.
type Option struct {
	Candidates []Node
}

// If is a conditional.
type If struct {
	Cond Node
	Then Node
	Else Node
}

// MacroCall invokes a global variable with positional arguments.
type MacroCall struct {
	Name string
	Args []Node
}

func (Constant) node()  {}
func (Duration) node()  {}
func (Variable) node()  {}
func (SensorRef) node() {}
func (Unary) node()     {}
func (Binary) node()    {}
func (Call) node()      {}
func (Option) node()    {}
func (If) node()        {}
func (MacroCall) node() {}

func (n Constant) String() string {
	if n.Value.Kind() == KindText {
		return strconv.Quote(n.Value.String())
	}
	return n.Value.String()
}

func (n Duration) String() string { return n.D.String() }

func (n Variable) String() string { return n.Name }

func (n SensorRef) String() string { return "[" + n.ModelID + "]" }

func (n Unary) String() string { return n.Op + "(" + n.Operand.String() + ")" }

func (n Binary) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

func (n Call) String() string { return n.Name + "(" + joinNodes(n.Args) + ")" }

func (n Option) String() string { return "OPTION(" + joinNodes(n.Candidates) + ")" }

func (n If) String() string {
	return "IF(" + n.Cond.String() + ", " + n.Then.String() + ", " + n.Else.String() + ")"
}

func (n MacroCall) String() string { return n.Name + "(" + joinNodes(n.Args) + ")" }

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}

// Children returns the direct sub-nodes in evaluation order.
func Children(n Node) []Node {
	switch v := n.(type) {
	case Unary:
		return []Node{v.Operand}
	case Binary:
		return []Node{v.Left, v.Right}
	case Call:
		return v.Args
	case Option:
		return v.Candidates
	case If:
		return []Node{v.Cond, v.Then, v.Else}
	case MacroCall:
		return v.Args
	default:
		return nil
	}
}

// Walk visits n and its descendants depth-first, pre-order. Returning false skips children.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for _, child := range Children(n) {
		Walk(child, visit)
	}
}

// Rewrite rebuilds the tree bottom-up. fn receives a node whose children were
// already rewritten and returns its replacement.
func Rewrite(n Node, fn func(Node) (Node, error)) (Node, error) {
	if n == nil {
		return nil, nil
	}
	var err error
	switch v := n.(type) {
	case Unary:
		if v.Operand, err = Rewrite(v.Operand, fn); err != nil {
			return nil, err
		}
		n = v
	case Binary:
		if v.Left, err = Rewrite(v.Left, fn); err != nil {
			return nil, err
		}
		if v.Right, err = Rewrite(v.Right, fn); err != nil {
			return nil, err
		}
		n = v
	case Call:
		if v.Args, err = rewriteAll(v.Args, fn); err != nil {
			return nil, err
		}
		n = v
	case MacroCall:
		if v.Args, err = rewriteAll(v.Args, fn); err != nil {
			return nil, err
		}
		n = v
	case If:
		if v.Cond, err = Rewrite(v.Cond, fn); err != nil {
			return nil, err
		}
		if v.Then, err = Rewrite(v.Then, fn); err != nil {
			return nil, err
		}
		if v.Else, err = Rewrite(v.Else, fn); err != nil {
			return nil, err
		}
		n = v
	case Option:
		// candidates are left untouched; the binder decides which one survives
	}
	return fn(n)
}

func rewriteAll(nodes []Node, fn func(Node) (Node, error)) ([]Node, error) {
	out := make([]Node, len(nodes))
	for i, child := range nodes {
		rewritten, err := Rewrite(child, fn)
		if err != nil {
			return nil, err
		}
		out[i] = rewritten
	}
	return out, nil
}

// Variables returns the distinct variable names referenced by n, in first-seen order.
func Variables(n Node) []string {
	seen := make(map[string]struct{})
	var names []string
	Walk(n, func(child Node) bool {
		if v, ok := child.(Variable); ok {
			if _, dup := seen[v.Name]; !dup {
				seen[v.Name] = struct{}{}
				names = append(names, v.Name)
			}
		}
		return true
	})
	return names
}

// SensorRefs returns the model ids referenced outside OPTION candidates, in order.
func SensorRefs(n Node) []string {
	var refs []string
	Walk(n, func(child Node) bool {
		switch v := child.(type) {
		case SensorRef:
			refs = append(refs, v.ModelID)
		case Option:
			return false
		}
		return true
	})
	return refs
}

// IsStateful reports whether evaluating n reads or writes temporal state.
func IsStateful(n Node) bool {
	stateful := false
	Walk(n, func(child Node) bool {
		switch v := child.(type) {
		case Call:
			if isTemporalCall(v) {
				stateful = true
			}
		case Variable:
			if strings.EqualFold(v.Name, timeVariable) {
				stateful = true
			}
		}
		return !stateful
	})
	return stateful
}
