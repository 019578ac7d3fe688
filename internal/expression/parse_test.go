package expression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSensorComparison(t *testing.T) {
	n, err := Parse("[dtmi:com:willowinc:Sensor;1] == 1")
	require.NoError(t, err)

	bin, ok := n.(Binary)
	require.True(t, ok, "expected binary node, got %T", n)
	assert.Equal(t, "==", bin.Op)
	assert.Equal(t, SensorRef{ModelID: "dtmi:com:willowinc:Sensor;1"}, bin.Left)
	assert.Equal(t, Constant{Value: Number(1)}, bin.Right)
}

func TestParseDialect(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{name: "single equals", text: "this.Id = 'equipment'", want: `(this.Id == "equipment")`},
		{name: "ampersand", text: "a > 1 & b < 2", want: "((a > 1) && (b < 2))"},
		{name: "pipe", text: "a | b", want: "(a || b)"},
		{name: "upper keywords", text: "a AND NOT b", want: "(a && !(b))"},
		{name: "not equal", text: "a <> 2", want: "(a != 2)"},
		{name: "lower call", text: "if(a, 1, 0)", want: "IF(a, 1, 0)"},
		{name: "power", text: "a ^ 2", want: "(a ^ 2)"},
		{name: "time variable", text: "time + 1", want: "(TIME + 1)"},
		{name: "string with bracket", text: "this.Name == '[x]'", want: `(this.Name == "[x]")`},
		{name: "booleans", text: "TRUE || False", want: "(true || false)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := Parse(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, n.String())
		})
	}
}

func TestParseDurationsAndTemporalCalls(t *testing.T) {
	n, err := Parse("MAX([temp;1], 1d, -6h)")
	require.NoError(t, err)

	call, ok := n.(Call)
	require.True(t, ok)
	assert.Equal(t, "MAX", call.Name)
	require.Len(t, call.Args, 3)
	assert.Equal(t, Duration{D: 24 * time.Hour}, call.Args[1])
	assert.Equal(t, Duration{D: -6 * time.Hour}, call.Args[2])
	assert.True(t, isTemporalCall(call))

	stateless, err := Parse("max(a, b, 3)")
	require.NoError(t, err)
	assert.False(t, IsStateful(stateless))

	minutes, err := Parse("AVERAGE(x, 15m)")
	require.NoError(t, err)
	assert.Equal(t, Duration{D: 15 * time.Minute}, minutes.(Call).Args[1])
}

func TestParseOptionAndIf(t *testing.T) {
	n, err := Parse("IF(OPTION([a;1], [b;1]) > 3, 1, 0)")
	require.NoError(t, err)

	cond, ok := n.(If)
	require.True(t, ok)
	cmp := cond.Cond.(Binary)
	opt, ok := cmp.Left.(Option)
	require.True(t, ok)
	assert.Equal(t, []Node{SensorRef{ModelID: "a;1"}, SensorRef{ModelID: "b;1"}}, opt.Candidates)

	// refs inside OPTION are resolved by the binder, not listed directly
	assert.Empty(t, SensorRefs(n))
}

func TestParseTernary(t *testing.T) {
	n, err := Parse("a > 1 ? 2 : 3")
	require.NoError(t, err)
	assert.Equal(t, "IF((a > 1), 2, 3)", n.String())
}

func TestParseMacroCall(t *testing.T) {
	n, err := Parse("deadband([temp;1], 2) > 0", WithMacros("DeadBand"))
	require.NoError(t, err)

	bin := n.(Binary)
	macro, ok := bin.Left.(MacroCall)
	require.True(t, ok)
	assert.Equal(t, "DEADBAND", macro.Name)
	assert.Len(t, macro.Args, 2)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]error{
		"":                 ErrSyntax,
		"[unterminated":    ErrSyntax,
		"a == 'open":       ErrSyntax,
		"FOO(1)":           ErrUnknownFunction,
		"ABS(1, 2)":        ErrArity,
		"IF(a, b)":         ErrArity,
		"COUNT(a, 3)":      ErrSyntax,
		"a in [1, 2]":      ErrSyntax,
		"[]":               ErrSyntax,
		"DELTA()":          ErrArity,
		"TIME(3)":          ErrArity,
		"OPTION()":         ErrArity,
		"a +":              ErrSyntax,
		"deadband(1, 2)":   ErrUnknownFunction,
		"MAX(a, 1h, 'x')":  nil,
		"MAX(a, 1h, 2)":    nil,
		"MIN(a, -15m)":     nil,
		"SUM(a, 1w, 0)":    nil,
		"ROUND(a / 3, 2)":  nil,
		"HOUR() >= 8":      nil,
		"DAYOFWEEK() == 1": nil,
	}
	for text, want := range cases {
		_, err := Parse(text)
		if want == nil {
			assert.NoError(t, err, text)
			continue
		}
		assert.ErrorIs(t, err, want, text)
	}
}

func TestCompileRejectsUnboundNodes(t *testing.T) {
	for _, text := range []string{"[a;1] > 1", "OPTION(a, b)"} {
		n := MustParse(text)
		_, err := Compile(n)
		assert.ErrorIs(t, err, ErrUnbound, text)
	}

	_, err := Compile(MustParse("MAX(a, 1h, 'x')"))
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestVariablesAndRewrite(t *testing.T) {
	n := MustParse("IF(a > b, a + c, 0)")
	assert.Equal(t, []string{"a", "b", "c"}, Variables(n))

	renamed, err := Rewrite(n, func(node Node) (Node, error) {
		if v, ok := node.(Variable); ok && v.Name == "a" {
			return Variable{Name: "z"}, nil
		}
		return node, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "IF((z > b), (z + c), 0)", renamed.String())
	// original tree is unchanged
	assert.Equal(t, "IF((a > b), (a + c), 0)", n.String())
}
