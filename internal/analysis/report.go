package analysis

import (
	"context"
	"sort"

	"repoanalyzer/internal/sandbox"
)

const topComplexLimit = 5

// Summarize builds the report summary. Modules without a cyclomatic
// complexity measurement are left out of the ranking; ties sort by path.
func Summarize(results []ModuleResult) Summary {
	s := Summary{
		TotalModules:      len(results),
		AnalyzedModules:   len(results),
		TopComplexModules: []string{},
	}

	type ranked struct {
		path  string
		score float64
	}
	var measured []ranked
	for _, r := range results {
		if len(r.Degraded) > 0 {
			s.DegradedModules++
		}
		if r.Complexity != nil && r.Complexity.CyclomaticComplexity != nil {
			measured = append(measured, ranked{r.ModulePath, *r.Complexity.CyclomaticComplexity})
		}
	}
	sort.Slice(measured, func(i, j int) bool {
		if measured[i].score != measured[j].score {
			return measured[i].score > measured[j].score
		}
		return measured[i].path < measured[j].path
	})
	for i := 0; i < len(measured) && i < topComplexLimit; i++ {
		s.TopComplexModules = append(s.TopComplexModules, measured[i].path)
	}
	return s
}

// BuildReport wraps results and their summary. Results is never nil.
func BuildReport(results []ModuleResult) *Report {
	if results == nil {
		results = []ModuleResult{}
	}
	summary := Summarize(results)
	return &Report{Results: results, Summary: &summary}
}

// AnalyzeModule runs logic, complexity and diagrams for one module. Any
// facet may degrade; the others still run.
func (a *Analyzer) AnalyzeModule(ctx context.Context, env sandbox.Environment, root, module string, progress Progress) ModuleResult {
	res := ModuleResult{ModulePath: module}

	logic, ok := a.ExtractLogic(ctx, env, root, module, progress)
	res.Logic = logic
	if !ok {
		res.Degraded = append(res.Degraded, FacetLogic)
	}

	complexity, ok := a.MeasureComplexity(ctx, env, root, module, progress)
	res.Complexity = complexity
	if !ok {
		res.Degraded = append(res.Degraded, FacetComplexity)
	}

	diagrams, ok := a.GenerateDiagrams(ctx, env, root, module, logic, progress)
	res.Diagrams = diagrams
	if !ok {
		res.Degraded = append(res.Degraded, FacetDiagrams)
	}
	return res
}
