// Package prompts holds the completion prompts used by the pipeline.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

const (
	Metadata             = "metadata"
	AnalysisRisks        = "analysis_risks"
	AnalysisIssues       = "analysis_issues"
	AnalysisRequirements = "analysis_requirements"
	EstimateDraft        = "estimate_draft"
)

//go:embed prompts.yaml
var defaultCatalog []byte

type entry struct {
	Temperature float64 `yaml:"temperature"`
	Query       string  `yaml:"query"`
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
}

type prompt struct {
	entry
	user *template.Template
}

type Catalog struct {
	prompts map[string]prompt
}

func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

func Parse(raw []byte) (*Catalog, error) {
	var entries map[string]entry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}

	funcs := template.FuncMap{"join": strings.Join}
	out := make(map[string]prompt, len(entries))
	for name, e := range entries {
		if strings.TrimSpace(e.User) == "" {
			return nil, fmt.Errorf("prompt %q: user template is empty", name)
		}
		tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(e.User)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", name, err)
		}
		out[name] = prompt{entry: e, user: tmpl}
	}
	return &Catalog{prompts: out}, nil
}

// Render builds a completion request for name. Structured prompts always
// request JSON output.
func (c *Catalog) Render(name string, data any) (domain.CompletionRequest, error) {
	p, ok := c.prompts[name]
	if !ok {
		return domain.CompletionRequest{}, fmt.Errorf("unknown prompt %q", name)
	}
	var b strings.Builder
	if err := p.user.Execute(&b, data); err != nil {
		return domain.CompletionRequest{}, fmt.Errorf("render prompt %q: %w", name, err)
	}
	return domain.CompletionRequest{
		System:      strings.TrimSpace(p.System),
		User:        strings.TrimSpace(b.String()),
		Temperature: p.Temperature,
		JSON:        true,
	}, nil
}

// Query returns the retrieval query attached to a prompt, if any.
func (c *Catalog) Query(name string) string {
	return strings.TrimSpace(c.prompts[name].Query)
}
