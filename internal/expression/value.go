package expression

import (
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNumber
	KindBool
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	default:
		return "invalid"
	}
}

// Value is the result of evaluating an expression for one timestamp.
// The zero value is Invalid.
type Value struct {
	kind Kind
	num  float64
	text string
}

// Invalid is the value produced when an input is missing or invalid.
var Invalid = Value{}

// Number wraps a float. NaN and infinities are treated as invalid.
func Number(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Invalid
	}
	return Value{kind: KindNumber, num: v}
}

// Bool wraps a boolean.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool, num: 0}
}

// Text wraps a string. Text values only appear in filters and comparisons.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Kind returns the variant.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value carries data.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Float returns the numeric form: booleans are 1/0, text parses when numeric.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber, KindBool:
		return v.num, true
	case KindText:
		parsed, err := strconv.ParseFloat(v.text, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Truthy reports whether the value triggers: non-zero numbers and true booleans.
// Invalid values never trigger.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNumber, KindBool:
		return v.num != 0
	case KindText:
		return v.text != ""
	default:
		return false
	}
}

// String returns the text form used in diagnostics and comparisons.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindText:
		return v.text
	default:
		return "invalid"
	}
}

// Equal compares two values by kind-aware semantics.
func (v Value) Equal(other Value) bool {
	if !v.IsValid() || !other.IsValid() {
		return false
	}
	if v.kind == KindText || other.kind == KindText {
		if v.kind == KindText && other.kind == KindText {
			return v.text == other.text
		}
		a, okA := v.Float()
		b, okB := other.Float()
		return okA && okB && a == b
	}
	return v.num == other.num
}

// Same reports identity including invalidity, used to detect unchanged outputs.
func (v Value) Same(other Value) bool {
	return v.kind == other.kind && v.num == other.num && v.text == other.text
}
