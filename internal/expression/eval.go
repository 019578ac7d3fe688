package expression

import (
	"fmt"
	"math"
	"time"
)

// Frame resolves variable values for the timestamp being evaluated.
type Frame interface {
	Lookup(name string) (Value, bool)
}

// MapFrame is a Frame backed by a map.
type MapFrame map[string]Value

// Lookup implements Frame.
func (f MapFrame) Lookup(name string) (Value, bool) {
	v, ok := f[name]
	return v, ok
}

// Env is the per-sample evaluation input.
type Env struct {
	Time     time.Time
	Location *time.Location
	Frame    Frame
	// Elapsed is the TIME value: seconds since the owning actor first evaluated.
	Elapsed float64
}

// Program is a bound, compiled expression. Temporal call sites are numbered so
// their state survives between samples.
type Program struct {
	root     Node
	slots    []slotSpec
	lookback time.Duration
	stateful bool
	clock    bool
}

// slotCall replaces a temporal Call after compilation.
type slotCall struct {
	Slot int
	Call Call
}

func (slotCall) node()            {}
func (s slotCall) String() string { return s.Call.String() }

type slotSpec struct {
	fn       string
	window   time.Duration
	offset   time.Duration
	anchored bool
}

// Compile numbers temporal call sites and rejects unbound nodes.
func Compile(root Node) (*Program, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil expression", ErrSyntax)
	}
	p := &Program{}
	compiled, err := Rewrite(root, func(n Node) (Node, error) {
		switch v := n.(type) {
		case Option, MacroCall, SensorRef:
			return nil, fmt.Errorf("%w: %s", ErrUnbound, v)
		case Variable:
			if v.Name == timeVariable {
				p.stateful = true
			}
		case Call:
			if v.Name == "HOUR" || v.Name == "DAYOFWEEK" {
				p.clock = true
			}
			if !isTemporalCall(v) {
				return v, nil
			}
			spec := slotSpec{fn: v.Name}
			if v.Name != "DELTA" {
				window := v.Args[1].(Duration).D
				if window < 0 {
					window = -window
				}
				if window == 0 {
					return nil, fmt.Errorf("%w: %s window must be non-zero", ErrSyntax, v.Name)
				}
				spec.window = window
				lookback := window
				if len(v.Args) == 3 {
					offset, err := offsetArg(v.Args[2])
					if err != nil {
						return nil, fmt.Errorf("%w: %s", err, v.Name)
					}
					spec.anchored = true
					spec.offset = offset
					lookback += absDuration(offset) + anchorGranularity(window)
				}
				if lookback > p.lookback {
					p.lookback = lookback
				}
			}
			p.stateful = true
			p.slots = append(p.slots, spec)
			return slotCall{Slot: len(p.slots) - 1, Call: v}, nil
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	p.root = compiled
	return p, nil
}

// Stateful reports whether the program depends on history (temporal calls or TIME).
func (p *Program) Stateful() bool { return p.stateful }

// DependsOnTime reports whether two samples with equal inputs can evaluate
// differently, either through history or calendar functions.
func (p *Program) DependsOnTime() bool { return p.stateful || p.clock }

// Lookback is the longest history any temporal call site needs.
func (p *Program) Lookback() time.Duration { return p.lookback }

// String returns the bound formula.
func (p *Program) String() string { return p.root.String() }

// NewState allocates temporal state for one actor.
func (p *Program) NewState() *State {
	s := &State{slots: make([]slotState, len(p.slots))}
	for i, spec := range p.slots {
		if spec.fn == "DELTA" {
			s.slots[i] = &deltaState{}
		} else {
			s.slots[i] = &windowState{spec: spec}
		}
	}
	return s
}

// Eval evaluates the program for one sample, advancing temporal state.
func (p *Program) Eval(env Env, state *State) Value {
	if env.Location == nil {
		env.Location = time.UTC
	}
	if env.Frame == nil {
		env.Frame = MapFrame{}
	}
	e := evaluator{env: env, state: state}
	return e.eval(p.root)
}

type evaluator struct {
	env   Env
	state *State
}

func (e evaluator) eval(n Node) Value {
	switch v := n.(type) {
	case Constant:
		return v.Value
	case Duration:
		return Number(v.D.Seconds())
	case Variable:
		if v.Name == timeVariable {
			return Number(e.env.Elapsed)
		}
		value, ok := e.env.Frame.Lookup(v.Name)
		if !ok {
			return Invalid
		}
		return value
	case Unary:
		return unary(v.Op, e.eval(v.Operand))
	case Binary:
		return binary(v.Op, e.eval(v.Left), e.eval(v.Right))
	case If:
		cond := e.eval(v.Cond)
		then := e.eval(v.Then)
		otherwise := e.eval(v.Else)
		if !cond.IsValid() {
			return Invalid
		}
		if cond.Truthy() {
			return then
		}
		return otherwise
	case Call:
		args := make([]Value, len(v.Args))
		for i, arg := range v.Args {
			args[i] = e.eval(arg)
		}
		return callStateless(v.Name, args, e.env.Time, e.env.Location)
	case slotCall:
		input := e.eval(v.Call.Args[0])
		if e.state == nil || v.Slot >= len(e.state.slots) {
			return Invalid
		}
		return e.state.slots[v.Slot].observe(e.env, input)
	default:
		return Invalid
	}
}

func unary(op string, v Value) Value {
	if !v.IsValid() {
		return Invalid
	}
	switch op {
	case "-":
		f, ok := v.Float()
		if !ok {
			return Invalid
		}
		return Number(-f)
	case "!":
		return Bool(!v.Truthy())
	default:
		return Invalid
	}
}

func binary(op string, left, right Value) Value {
	switch op {
	case "&&":
		if (left.IsValid() && !left.Truthy()) || (right.IsValid() && !right.Truthy()) {
			return Bool(false)
		}
		if !left.IsValid() || !right.IsValid() {
			return Invalid
		}
		return Bool(true)
	case "||":
		if (left.IsValid() && left.Truthy()) || (right.IsValid() && right.Truthy()) {
			return Bool(true)
		}
		if !left.IsValid() || !right.IsValid() {
			return Invalid
		}
		return Bool(false)
	}

	if !left.IsValid() || !right.IsValid() {
		return Invalid
	}
	switch op {
	case "==":
		return Bool(left.Equal(right))
	case "!=":
		return Bool(!left.Equal(right))
	}

	a, okA := left.Float()
	b, okB := right.Float()
	if !okA || !okB {
		return Invalid
	}
	switch op {
	case "+":
		return Number(a + b)
	case "-":
		return Number(a - b)
	case "*":
		return Number(a * b)
	case "/":
		if b == 0 {
			return Invalid
		}
		return Number(a / b)
	case "%":
		if b == 0 {
			return Invalid
		}
		return Number(math.Mod(a, b))
	case "^":
		return Number(math.Pow(a, b))
	case "<":
		return Bool(a < b)
	case ">":
		return Bool(a > b)
	case "<=":
		return Bool(a <= b)
	case ">=":
		return Bool(a >= b)
	default:
		return Invalid
	}
}

// Evaluate is a convenience for stateless expressions such as filters.
func Evaluate(root Node, env Env) (Value, error) {
	p, err := Compile(root)
	if err != nil {
		return Invalid, err
	}
	return p.Eval(env, p.NewState()), nil
}

// offsetArg accepts a duration literal or a numeric literal in hours.
func offsetArg(n Node) (time.Duration, error) {
	switch v := n.(type) {
	case Duration:
		return v.D, nil
	case Constant:
		hours, ok := v.Value.Float()
		if ok && v.Value.Kind() == KindNumber {
			return time.Duration(hours * float64(time.Hour)), nil
		}
	}
	return 0, fmt.Errorf("%w: anchor offset must be a literal duration", ErrSyntax)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
