// Package analysis holds the per-module operations of the pipeline: business
// logic extraction, complexity measurement, diagram generation and the final
// report. Each operation asks the external inference tool for JSON, treats
// whatever comes back as untrusted text, and degrades to empty fields instead
// of failing.
package analysis

import (
	"context"

	"repoanalyzer/internal/sandbox"
)

// Facet names used in ModuleResult.Degraded.
const (
	FacetLogic      = "logic"
	FacetComplexity = "complexity"
	FacetDiagrams   = "diagrams"
)

// Logic is the business-logic facet of a module.
type Logic struct {
	Module      string   `json:"module,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Entities    []string `json:"entities"`
	Services    []string `json:"services"`
	Controllers []string `json:"controllers"`
	Workflows   []string `json:"workflows"`
}

func emptyLogic(module string) *Logic {
	return &Logic{
		Module:      module,
		Entities:    []string{},
		Services:    []string{},
		Controllers: []string{},
		Workflows:   []string{},
	}
}

// HasComponents reports whether any entity, service or controller is known.
func (l *Logic) HasComponents() bool {
	return l != nil && (len(l.Entities) > 0 || len(l.Services) > 0 || len(l.Controllers) > 0)
}

// Complexity is the measurement facet of a module. Absent numbers stay nil.
type Complexity struct {
	ModuleName           string   `json:"moduleName,omitempty"`
	LinesOfCode          *int     `json:"linesOfCode,omitempty"`
	Classes              *int     `json:"classes,omitempty"`
	Functions            *int     `json:"functions,omitempty"`
	CyclomaticComplexity *float64 `json:"cyclomaticComplexity,omitempty"`
}

// Measured reports whether at least one number is present.
func (c *Complexity) Measured() bool {
	return c != nil && (c.LinesOfCode != nil || c.Classes != nil || c.Functions != nil || c.CyclomaticComplexity != nil)
}

// Diagram is one Mermaid chart describing a module.
type Diagram struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Chart       string `json:"chart"`
}

// ModuleResult is everything the pipeline learned about one module.
type ModuleResult struct {
	ModulePath string      `json:"modulePath"`
	Logic      *Logic      `json:"logic,omitempty"`
	Complexity *Complexity `json:"complexity,omitempty"`
	Diagrams   []Diagram   `json:"diagrams,omitempty"`
	// Degraded lists facets that fell back to empty values.
	Degraded []string `json:"degraded,omitempty"`
}

// Summary aggregates a run.
type Summary struct {
	TotalModules      int      `json:"totalModules"`
	AnalyzedModules   int      `json:"analyzedModules"`
	DegradedModules   int      `json:"degradedModules"`
	TopComplexModules []string `json:"topComplexModules"`
}

// Report is the payload of the terminal result event.
type Report struct {
	Results []ModuleResult `json:"results"`
	Summary *Summary       `json:"summary,omitempty"`
}

// Progress receives user-facing progress messages.
type Progress func(message string)

func (p Progress) send(message string) {
	if p != nil {
		p(message)
	}
}

// Invoker runs the external inference tool inside env with workdir as working
// directory and returns its raw text output.
type Invoker interface {
	Invoke(ctx context.Context, env sandbox.Environment, workdir, prompt string) (string, error)
}
