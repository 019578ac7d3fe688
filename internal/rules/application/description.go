package application

import (
	"bytes"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"twin-rules/internal/expression"
	rules "twin-rules/internal/rules/domain"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_ ]*)\}`)

// DescriptionData provides the values interpolated into a rule description.
type DescriptionData struct {
	Values map[string]string
}

// DescriptionTemplate renders rule descriptions. Placeholders are written as
// {fieldId} or {Parameter Name}; unknown placeholders are kept verbatim.
type DescriptionTemplate struct {
	tpl *template.Template
}

// NewDescriptionTemplate compiles the description of rule.
func NewDescriptionTemplate(rule rules.Rule) (*DescriptionTemplate, error) {
	fields := make(map[string]string)
	for _, list := range [][]rules.RuleParameter{rule.Parameters, rule.ImpactScores} {
		for _, p := range list {
			fields[strings.ToLower(p.FieldID)] = p.FieldID
			if p.Name != "" {
				fields[strings.ToLower(p.Name)] = p.FieldID
			}
		}
	}

	text := strings.ReplaceAll(rule.Description, "{{", "\x00")
	text = placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(match[1 : len(match)-1])
		field, ok := fields[strings.ToLower(name)]
		if !ok {
			return match
		}
		return `{{index .Values ` + strconv.Quote(field) + `}}`
	})
	text = strings.ReplaceAll(text, "\x00", `{{"{{"}}`)

	parsed, err := template.New("rule-description").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, err
	}
	return &DescriptionTemplate{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *DescriptionTemplate) Render(data DescriptionData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("description template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatValue renders a value for descriptions: numbers with at most two decimals.
func formatValue(v expression.Value) string {
	switch v.Kind() {
	case expression.KindNumber:
		f, _ := v.Float()
		return strconv.FormatFloat(roundTo(f, 2), 'f', -1, 64)
	case expression.KindInvalid:
		return "-"
	default:
		return v.String()
	}
}

func roundTo(f float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(f*scale) / scale
}
