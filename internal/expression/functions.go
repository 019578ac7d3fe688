package expression

import (
	"math"
	"time"
)

type funcSpec struct {
	minArgs int
	maxArgs int // -1 for variadic
}

var builtins = map[string]funcSpec{
	"ABS":       {1, 1},
	"ROUND":     {1, 2},
	"FLOOR":     {1, 1},
	"CEILING":   {1, 1},
	"SQRT":      {1, 1},
	"POW":       {2, 2},
	"MIN":       {1, -1},
	"MAX":       {1, -1},
	"AVERAGE":   {1, -1},
	"SUM":       {1, -1},
	"COUNT":     {2, 3},
	"DELTA":     {1, 1},
	"HOUR":      {0, 0},
	"DAYOFWEEK": {0, 0},
	"ISVALID":   {1, 1},
	"NOT":       {1, 1},
}

var windowFunctions = map[string]struct{}{
	"MAX":     {},
	"MIN":     {},
	"AVERAGE": {},
	"SUM":     {},
	"COUNT":   {},
}

// isTemporalCall reports whether c keeps history between samples.
func isTemporalCall(c Call) bool {
	if c.Name == "DELTA" {
		return true
	}
	if _, ok := windowFunctions[c.Name]; !ok {
		return false
	}
	if len(c.Args) < 2 || len(c.Args) > 3 {
		return false
	}
	_, ok := c.Args[1].(Duration)
	return ok
}

func checkArity(name string, args int) error {
	spec, ok := builtins[name]
	if !ok {
		return ErrUnknownFunction
	}
	if args < spec.minArgs || (spec.maxArgs >= 0 && args > spec.maxArgs) {
		return ErrArity
	}
	return nil
}

func callStateless(name string, args []Value, at time.Time, loc *time.Location) Value {
	switch name {
	case "ISVALID":
		return Bool(args[0].IsValid())
	case "HOUR":
		return Number(float64(at.In(loc).Hour()))
	case "DAYOFWEEK":
		return Number(float64(at.In(loc).Weekday()))
	case "NOT":
		if !args[0].IsValid() {
			return Invalid
		}
		return Bool(!args[0].Truthy())
	}

	nums, ok := floats(args)
	if !ok {
		return Invalid
	}
	switch name {
	case "ABS":
		return Number(math.Abs(nums[0]))
	case "FLOOR":
		return Number(math.Floor(nums[0]))
	case "CEILING":
		return Number(math.Ceil(nums[0]))
	case "SQRT":
		if nums[0] < 0 {
			return Invalid
		}
		return Number(math.Sqrt(nums[0]))
	case "POW":
		return Number(math.Pow(nums[0], nums[1]))
	case "ROUND":
		if len(nums) == 1 {
			return Number(math.Round(nums[0]))
		}
		scale := math.Pow(10, math.Round(nums[1]))
		return Number(math.Round(nums[0]*scale) / scale)
	case "MIN", "MAX", "AVERAGE", "SUM":
		return aggregate(name, nums)
	default:
		return Invalid
	}
}

func floats(args []Value) ([]float64, bool) {
	out := make([]float64, len(args))
	for i, arg := range args {
		f, ok := arg.Float()
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// aggregate reduces values with a window function. Empty input is invalid except COUNT.
func aggregate(name string, values []float64) Value {
	if name == "COUNT" {
		return Number(float64(len(values)))
	}
	if len(values) == 0 {
		return Invalid
	}
	switch name {
	case "MAX":
		best := values[0]
		for _, v := range values[1:] {
			if v > best {
				best = v
			}
		}
		return Number(best)
	case "MIN":
		best := values[0]
		for _, v := range values[1:] {
			if v < best {
				best = v
			}
		}
		return Number(best)
	case "SUM", "AVERAGE":
		total := 0.0
		for _, v := range values {
			total += v
		}
		if name == "AVERAGE" {
			return Number(total / float64(len(values)))
		}
		return Number(total)
	default:
		return Invalid
	}
}
