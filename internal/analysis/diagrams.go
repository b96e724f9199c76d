package analysis

import (
	"context"
	"fmt"
	"strings"

	"repoanalyzer/internal/jsonextract"
	"repoanalyzer/internal/sandbox"
)

func diagramPrompt(module string, logic *Logic) string {
	summary := "Analyze this module"
	var components []string
	if logic != nil {
		if logic.Summary != "" {
			summary = logic.Summary
		}
		components = appendGroup(components, "Entities", logic.Entities)
		components = appendGroup(components, "Services", logic.Services)
		components = appendGroup(components, "Controllers", logic.Controllers)
		components = appendGroup(components, "Workflows", logic.Workflows)
	}

	parts := []string{
		"Analyze the code in " + module + ".",
		"Module purpose: " + summary + ".",
	}
	if len(components) > 0 {
		parts = append(parts, "Components: "+strings.Join(components, ". ")+".")
	}
	parts = append(parts,
		"Generate 2-3 Mermaid diagrams that explain HOW this module works and its key workflows.",
		"Return ONLY a JSON array of diagram objects.",
		`Each object must have: {"id": "unique-id", "title": "Diagram Title", "description": "What this shows", "chart": "mermaid syntax"}.`,
		"Make diagrams SPECIFIC to this module's actual functionality, not generic structures.",
		"Focus on: actual business workflows, state transitions, data flows, decision paths, or use cases.",
		"Use appropriate Mermaid diagram types: flowchart, sequenceDiagram, stateDiagram-v2, graph.",
		`Make the chart field contain ONLY the mermaid syntax (no backticks, no "mermaid" tag).`,
		"Return ONLY the JSON array, no other text.",
	)
	return strings.Join(parts, " ")
}

func appendGroup(dst []string, label string, items []string) []string {
	if len(items) == 0 {
		return dst
	}
	return append(dst, label+": "+strings.Join(items, ", "))
}

// GenerateDiagrams asks the tool for module diagrams and falls back to
// structural diagrams built from logic. ok is false when the tool produced no
// usable diagram.
func (a *Analyzer) GenerateDiagrams(ctx context.Context, env sandbox.Environment, root, module string, logic *Logic, progress Progress) ([]Diagram, bool) {
	progress.send("Claude: generating context-aware diagrams for " + module + "...")
	if out, ok := a.ask(ctx, env, root, diagramPrompt(module, logic), "diagrams", progress); ok {
		if diagrams := parseDiagrams(out); len(diagrams) > 0 {
			progress.send(fmt.Sprintf("Claude: generated %d context-aware diagrams", len(diagrams)))
			return diagrams, true
		}
		progress.send("Claude: failed to parse diagram response")
	}

	progress.send("Generating generic diagrams for " + module + "...")
	return GenericDiagrams(logic), false
}

// parseDiagrams keeps the array entries that carry string id, title and a
// non-blank chart.
func parseDiagrams(out string) []Diagram {
	items, ok := jsonextract.DecodeArray(out)
	if !ok {
		return nil
	}
	var diagrams []Diagram
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, okID := jsonextract.String(obj["id"])
		title, okTitle := jsonextract.String(obj["title"])
		chart, okChart := jsonextract.String(obj["chart"])
		chart = strings.TrimSpace(chart)
		if !okID || !okTitle || !okChart || chart == "" {
			continue
		}
		d := Diagram{ID: id, Title: title, Chart: chart}
		if desc, ok := jsonextract.String(obj["description"]); ok {
			d.Description = desc
		}
		diagrams = append(diagrams, d)
	}
	return diagrams
}
