package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoanalyzer/internal/sandbox/sandboxtest"
	"repoanalyzer/internal/tool"
)

const (
	logicMatch      = "exact keys"
	complexityMatch = "cyclomaticComplexity"
	diagramMatch    = "Mermaid diagrams"
)

type recorder struct{ msgs []string }

func (r *recorder) progress() Progress { return func(m string) { r.msgs = append(r.msgs, m) } }

func (r *recorder) contains(sub string) bool {
	for _, m := range r.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func newAnalyzer() *Analyzer {
	return New(tool.NewInvoker(tool.Config{}, nil), nil)
}

func TestExtractLogicFromNoisyOutput(t *testing.T) {
	env := sandboxtest.New("s").Healthy().On(logicMatch, "Sure! Here it is:\n```json\n"+
		`{"module":"Acme_Sales","entities":["Order"],"services":["OrderService"],"controllers":[],"workflows":"not-a-list","summary":"Handles orders."}`+
		"\n```\nAnything else?")
	rec := &recorder{}

	logic, ok := newAnalyzer().ExtractLogic(context.Background(), env, "/workspace/shop", "app/code/Acme/Sales", rec.progress())
	require.True(t, ok)

	want := &Logic{
		Module:      "Acme_Sales",
		Summary:     "Handles orders.",
		Entities:    []string{"Order"},
		Services:    []string{"OrderService"},
		Controllers: []string{},
		Workflows:   []string{},
	}
	if diff := cmp.Diff(want, logic); diff != "" {
		t.Fatalf("logic mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, rec.contains("preview: Sure! Here it is:"))
	assert.True(t, env.Ran("cd /workspace/shop && claude -p"))
}

func TestExtractLogicDegradesOnProse(t *testing.T) {
	env := sandboxtest.New("s").Healthy().On(logicMatch, "I could not find any code.")
	rec := &recorder{}

	logic, ok := newAnalyzer().ExtractLogic(context.Background(), env, "", "mod", rec.progress())
	assert.False(t, ok)
	assert.Equal(t, emptyLogic("mod"), logic)
	assert.True(t, rec.contains("non-JSON extraction output"))
}

func TestUnhealthyToolDegradesEveryFacet(t *testing.T) {
	env := sandboxtest.New("s").On("command -v", "ok").On("env | grep", "creds_missing")
	rec := &recorder{}

	res := newAnalyzer().AnalyzeModule(context.Background(), env, "/workspace/shop", "mod", rec.progress())

	assert.Equal(t, []string{FacetLogic, FacetComplexity, FacetDiagrams}, res.Degraded)
	assert.Equal(t, emptyLogic("mod"), res.Logic)
	assert.Equal(t, &Complexity{ModuleName: "mod"}, res.Complexity)
	assert.Empty(t, res.Diagrams)
	assert.True(t, rec.contains("unhealthy for extraction (cli: ok, creds: missing)"))
	assert.False(t, env.Ran("claude -p"))
}

func TestMeasureComplexityCoercesNumbers(t *testing.T) {
	env := sandboxtest.New("s").Healthy().On(complexityMatch,
		`{"moduleName":"","classes":"12","functions":0,"linesOfCode":1500.4,"cyclomaticComplexity":7.5}`)
	rec := &recorder{}

	c, ok := newAnalyzer().MeasureComplexity(context.Background(), env, "", "mod", rec.progress())
	require.True(t, ok)
	assert.Equal(t, "mod", c.ModuleName)
	require.NotNil(t, c.Classes)
	assert.Equal(t, 12, *c.Classes)
	assert.Nil(t, c.Functions)
	require.NotNil(t, c.LinesOfCode)
	assert.Equal(t, 1500, *c.LinesOfCode)
	require.NotNil(t, c.CyclomaticComplexity)
	assert.InDelta(t, 7.5, *c.CyclomaticComplexity, 1e-9)
	assert.True(t, rec.contains("classes=12, functions=?, loc=1500"))
}

func TestGenerateDiagramsKeepsValidEntries(t *testing.T) {
	env := sandboxtest.New("s").Healthy().On(diagramMatch, `[
		{"id":"flow","title":"Order flow","chart":"  flowchart TD\n A-->B  "},
		{"id":"bad","title":"Missing chart"},
		{"id":"blank","title":"Blank","chart":"   "},
		"noise"
	]`)
	rec := &recorder{}

	diagrams, ok := newAnalyzer().GenerateDiagrams(context.Background(), env, "", "mod", &Logic{Summary: "Orders"}, rec.progress())
	require.True(t, ok)
	assert.Equal(t, []Diagram{{ID: "flow", Title: "Order flow", Chart: "flowchart TD\n A-->B"}}, diagrams)
	assert.True(t, rec.contains("generated 1 context-aware diagrams"))
}

func TestGenerateDiagramsFallsBackToGeneric(t *testing.T) {
	env := sandboxtest.New("s").Healthy().On(diagramMatch, "no diagrams today")
	logic := &Logic{Controllers: []string{"Index"}, Workflows: []string{"checkout"}}

	diagrams, ok := newAnalyzer().GenerateDiagrams(context.Background(), env, "", "mod", logic, nil)
	assert.False(t, ok)
	ids := make([]string, 0, len(diagrams))
	for _, d := range diagrams {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"sequence", "architecture", "workflow"}, ids)
}

func TestPlanIsEmpty(t *testing.T) {
	p := newAnalyzer().Plan(context.Background(), "/workspace/repo")
	assert.Empty(t, p.Modules)
	assert.NotNil(t, p.Modules)
}

func TestPreviewCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", preview("  a\n\n b\t c  "))
	long := strings.Repeat("x", 300)
	assert.Len(t, preview(long), previewLimit)
}
