package analysis

import (
	"context"
	"fmt"
	"strings"

	"repoanalyzer/internal/jsonextract"
	"repoanalyzer/internal/sandbox"
)

func complexityPrompt(module string) string {
	return strings.Join([]string{
		"Analyze the code under: " + module + ".",
		"Respond ONLY with compact JSON using keys:",
		`{ "moduleName", "classes", "functions", "linesOfCode", "cyclomaticComplexity" }.`,
		"No prose, no backticks.",
	}, " ")
}

// MeasureComplexity asks the tool for the complexity facet of module. Numbers
// that are missing, zero or not numeric stay unset. ok is false when no
// structured output could be read.
func (a *Analyzer) MeasureComplexity(ctx context.Context, env sandbox.Environment, root, module string, progress Progress) (*Complexity, bool) {
	out, ok := a.ask(ctx, env, root, complexityPrompt(module), "complexity", progress)
	if !ok {
		return &Complexity{ModuleName: module}, false
	}
	obj, ok := jsonextract.DecodeObject(out)
	if !ok {
		progress.send("Claude: non-JSON complexity output returned")
		return &Complexity{ModuleName: module}, false
	}

	c := &Complexity{ModuleName: jsonextract.StringOr(obj["moduleName"], module)}
	c.Classes = intField(obj["classes"])
	c.Functions = intField(obj["functions"])
	c.LinesOfCode = intField(obj["linesOfCode"])
	if v, ok := jsonextract.PositiveNumber(obj["cyclomaticComplexity"]); ok {
		c.CyclomaticComplexity = &v
	}
	progress.send(fmt.Sprintf("Claude: parsed JSON (classes=%s, functions=%s, loc=%s)",
		intOrUnknown(c.Classes), intOrUnknown(c.Functions), intOrUnknown(c.LinesOfCode)))
	return c, true
}

func intField(v any) *int {
	n, ok := jsonextract.PositiveInt(v)
	if !ok {
		return nil
	}
	return &n
}

func intOrUnknown(v *int) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprint(*v)
}
