package analysis

import (
	"context"
	"strings"

	"repoanalyzer/internal/jsonextract"
	"repoanalyzer/internal/sandbox"
)

func logicPrompt(module string) string {
	return strings.Join([]string{
		"Analyze the code under: " + module + ".",
		"Return ONLY compact JSON with exact keys:",
		`{ "module", "entities", "services", "controllers", "workflows", "summary" }.`,
		"Each of entities/services/controllers/workflows must be an array of strings.",
		`The "summary" must be a single plain-English sentence describing what the module does for the business/user.`,
		"No prose outside JSON, no backticks.",
	}, " ")
}

// ExtractLogic asks the tool for the business-logic facet of module. ok is
// false when the facet degraded to empty lists.
func (a *Analyzer) ExtractLogic(ctx context.Context, env sandbox.Environment, root, module string, progress Progress) (*Logic, bool) {
	progress.send("Claude: extracting business logic for " + module + "...")
	out, ok := a.ask(ctx, env, root, logicPrompt(module), "extraction", progress)
	if !ok {
		return emptyLogic(module), false
	}
	obj, ok := jsonextract.DecodeObject(out)
	if !ok {
		progress.send("Claude: non-JSON extraction output; falling back to empty lists")
		return emptyLogic(module), false
	}
	logic := &Logic{
		Module:      jsonextract.StringOr(obj["module"], module),
		Entities:    jsonextract.Strings(obj["entities"]),
		Services:    jsonextract.Strings(obj["services"]),
		Controllers: jsonextract.Strings(obj["controllers"]),
		Workflows:   jsonextract.Strings(obj["workflows"]),
	}
	if s, ok := jsonextract.String(obj["summary"]); ok {
		logic.Summary = s
	}
	return logic, true
}
