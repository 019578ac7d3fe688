package notify

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
)

var errNilTemplate = errors.New("insight template: nil")

const DefaultTemplate = `[Insight {{.EventLabel}}]
Rule: {{.Rule}}
Twin: {{.TwinID}}
{{ if .Text }}Detail: {{.Text}}
{{ end }}Status: {{.Status}}
Faulted Count: {{.FaultedCount}}
{{ if .Started }}Started: {{.Started}}
{{ end }}{{ if .Recommendations }}Recommendations: {{.Recommendations}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Rule            string
	RuleID          string
	TwinID          string
	InsightID       string
	Text            string
	Status          string
	FaultedCount    int
	Started         string
	Recommendations string
	Event           string
	EventLabel      string
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"truncate": func(n int, s string) string {
		r := []rune(s)
		if n <= 0 || len(r) <= n {
			return s
		}
		return string(r[:n]) + "..."
	},
}

// Template renders notification content. Besides the TemplateData fields it
// offers the upper and truncate functions.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses tpl, or DefaultTemplate when tpl is empty.
func NewTemplate(tpl string) (*Template, error) {
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("insight").Funcs(templateFuncs).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return nil, fmt.Errorf("insight template: %w", err)
	}
	return &Template{tpl: parsed}, nil
}

// Render executes the template and trims trailing blank lines.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errNilTemplate
	}
	var out strings.Builder
	if err := t.tpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("insight template: %w", err)
	}
	return strings.TrimRight(out.String(), "\n") + "\n", nil
}
