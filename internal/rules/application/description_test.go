package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twin-rules/internal/expression"
	rules "twin-rules/internal/rules/domain"
)

func TestDescriptionTemplate(t *testing.T) {
	rule := anyFaultRule(25, 0, 12)
	rule.Description = "{Supply Air} vs {SAT} ({excess}) {unknown} {{literal}}"

	tpl, err := NewDescriptionTemplate(rule)
	require.NoError(t, err)
	text, err := tpl.Render(DescriptionData{Values: map[string]string{"sat": "21.35", "excess": "-"}})
	require.NoError(t, err)
	assert.Equal(t, "21.35 vs 21.35 (-) {unknown} {{literal}}", text)
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in   expression.Value
		want string
	}{
		{expression.Number(21.3456), "21.35"},
		{expression.Number(3), "3"},
		{expression.Invalid, "-"},
		{expression.Bool(true), "true"},
		{expression.Text("on"), "on"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatValue(tc.in))
	}
}

func TestDescriptionWithoutPlaceholders(t *testing.T) {
	tpl, err := NewDescriptionTemplate(rules.Rule{Description: "Check the damper"})
	require.NoError(t, err)
	text, err := tpl.Render(DescriptionData{})
	require.NoError(t, err)
	assert.Equal(t, "Check the damper", text)
}
