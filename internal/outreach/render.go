package outreach

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"accounthealth/internal/domain"
	"accounthealth/internal/templatefmt"
)

// TemplateData is the render context exposed to outreach template bodies.
// Params: organization, score, and alert fields referenced from catalog templates.
// Returns: data model passed to text/template execution.
type TemplateData struct {
	OrganizationID   string
	Tier             string
	HealthStatus     string
	Score            float64
	AlertTitle       string
	AlertDescription string
	Recommendation   string
	Severity         string
	MetricID         string
}

// compiledMessage holds parsed subject/content templates for one catalog entry.
// Params: compiled subject (optional) and content bodies.
// Returns: template pair for renderer execution.
type compiledMessage struct {
	subject *template.Template
	content *template.Template
}

// Renderer renders catalog templates into deliverable messages.
// Params: precompiled template lookup and parse errors by template id.
// Returns: render helper for the evaluation pipeline.
type Renderer struct {
	templates map[string]compiledMessage
	parseErrs map[string]error
}

// NewRenderer compiles the outreach template catalog.
// Params: template catalog from policy config.
// Returns: renderer with per-template compile results.
func NewRenderer(catalog []domain.OutreachTemplate) *Renderer {
	compiled := make(map[string]compiledMessage, len(catalog))
	parseErrs := make(map[string]error)
	for _, entry := range catalog {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			continue
		}
		var pair compiledMessage
		var err error
		pair.content, err = templatefmt.ParseOutreachTemplate("policy.template."+id+".content", entry.Content)
		if err != nil {
			parseErrs[id] = err
			compiled[id] = pair
			continue
		}
		if strings.TrimSpace(entry.Subject) != "" {
			pair.subject, err = templatefmt.ParseOutreachTemplate("policy.template."+id+".subject", entry.Subject)
			if err != nil {
				parseErrs[id] = err
			}
		}
		compiled[id] = pair
	}
	return &Renderer{templates: compiled, parseErrs: parseErrs}
}

// Render produces subject and body for one catalog template.
// Params: template id and render context.
// Returns: rendered subject/body or compile/execute error.
func (r *Renderer) Render(templateID string, data TemplateData) (string, string, error) {
	id := strings.TrimSpace(templateID)
	if id == "" {
		return "", "", errors.New("outreach template id is required")
	}
	if err, ok := r.parseErrs[id]; ok && err != nil {
		return "", "", fmt.Errorf("outreach template %q is invalid: %w", id, err)
	}
	pair, ok := r.templates[id]
	if !ok || pair.content == nil {
		return "", "", fmt.Errorf("outreach template %q is not configured", id)
	}

	body, err := executeTemplate(pair.content, data)
	if err != nil {
		return "", "", fmt.Errorf("render outreach template %q content: %w", id, err)
	}
	var subject string
	if pair.subject != nil {
		subject, err = executeTemplate(pair.subject, data)
		if err != nil {
			return "", "", fmt.Errorf("render outreach template %q subject: %w", id, err)
		}
	}
	return subject, body, nil
}

// executeTemplate renders one compiled template into string.
// Params: compiled template and data context.
// Returns: rendered string.
func executeTemplate(tmpl *template.Template, data TemplateData) (string, error) {
	var builder strings.Builder
	if err := tmpl.Execute(&builder, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}
