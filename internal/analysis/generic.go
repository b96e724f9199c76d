package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

const maxGroupItems = 5

var nonIdent = regexp.MustCompile(`[^a-zA-Z0-9]`)

func ident(s string) string { return nonIdent.ReplaceAllString(s, "") }

// GenericDiagrams builds structural diagrams from the logic facet alone.
// Returns nil when logic names nothing.
func GenericDiagrams(logic *Logic) []Diagram {
	if logic == nil {
		return nil
	}
	var diagrams []Diagram
	if logic.HasComponents() {
		diagrams = append(diagrams,
			Diagram{
				ID:          "sequence",
				Title:       "Sequence Diagram",
				Description: "Shows the interaction flow between components during a request",
				Chart:       sequenceChart(logic),
			},
			Diagram{
				ID:          "architecture",
				Title:       "Architecture",
				Description: "Visualizes the overall module structure and component relationships",
				Chart:       architectureChart(logic),
			},
		)
	}
	if len(logic.Workflows) > 0 {
		diagrams = append(diagrams, Diagram{
			ID:          "workflow",
			Title:       "Workflow Process",
			Description: "Displays the business workflow process flow",
			Chart:       workflowChart(logic.Workflows),
		})
	}
	return diagrams
}

func first(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return ident(items[0])
}

func sequenceChart(l *Logic) string {
	ctrl, svc, ent := first(l.Controllers), first(l.Services), first(l.Entities)

	var b strings.Builder
	b.WriteString("sequenceDiagram\n    participant Client\n")
	if ctrl != "" {
		fmt.Fprintf(&b, "    participant %s as Controller\n", ctrl)
	}
	if svc != "" {
		fmt.Fprintf(&b, "    participant %s as Service\n", svc)
	}
	if ent != "" {
		fmt.Fprintf(&b, "    participant %s as Entity\n", ent)
	}
	b.WriteString("    participant Database\n\n")

	switch {
	case ctrl != "":
		fmt.Fprintf(&b, "    Client->>+%s: HTTP Request\n", ctrl)
		if svc != "" {
			fmt.Fprintf(&b, "    %s->>+%s: Process Request\n", ctrl, svc)
			if ent != "" {
				fmt.Fprintf(&b, "    %s->>+%s: Create/Update/Query\n", svc, ent)
				fmt.Fprintf(&b, "    %s->>+Database: Persist Data\n", ent)
				fmt.Fprintf(&b, "    Database-->>-%s: Result\n", ent)
				fmt.Fprintf(&b, "    %s-->>-%s: Entity Data\n", ent, svc)
			} else {
				fmt.Fprintf(&b, "    %s->>+Database: Query Data\n", svc)
				fmt.Fprintf(&b, "    Database-->>-%s: Result\n", svc)
			}
			fmt.Fprintf(&b, "    %s-->>-%s: Response Data\n", svc, ctrl)
		}
		fmt.Fprintf(&b, "    %s-->>-Client: HTTP Response\n", ctrl)
	case svc != "":
		fmt.Fprintf(&b, "    Client->>+%s: Service Call\n", svc)
		if ent != "" {
			fmt.Fprintf(&b, "    %s->>+%s: Use Entity\n", svc, ent)
			fmt.Fprintf(&b, "    %s->>+Database: Database Operation\n", ent)
			fmt.Fprintf(&b, "    Database-->>-%s: Result\n", ent)
			fmt.Fprintf(&b, "    %s-->>-%s: Data\n", ent, svc)
		}
		fmt.Fprintf(&b, "    %s-->>-Client: Response\n", svc)
	}
	return b.String()
}

func writeGroup(b *strings.Builder, name, prefix string, items []string) {
	fmt.Fprintf(b, "    subgraph %s\n", name)
	for i, item := range items {
		if i == maxGroupItems {
			fmt.Fprintf(b, "        %sMore[\"... %d more\"]\n", prefix, len(items)-maxGroupItems)
			break
		}
		fmt.Fprintf(b, "        %s%d[\"%s\"]\n", prefix, i, item)
	}
	b.WriteString("    end\n\n")
}

func architectureChart(l *Logic) string {
	var b strings.Builder
	b.WriteString("graph TD\n    Client[Client/UI]\n")
	if len(l.Controllers) > 0 {
		b.WriteString("    Client --> Controllers\n")
		writeGroup(&b, "Controllers", "C", l.Controllers)
	}
	if len(l.Services) > 0 {
		if len(l.Controllers) > 0 {
			b.WriteString("    Controllers --> Services\n")
		} else {
			b.WriteString("    Client --> Services\n")
		}
		writeGroup(&b, "Services", "S", l.Services)
	}
	if len(l.Entities) > 0 {
		if len(l.Services) > 0 {
			b.WriteString("    Services --> Entities\n")
		} else if len(l.Controllers) > 0 {
			b.WriteString("    Controllers --> Entities\n")
		}
		writeGroup(&b, "Entities", "E", l.Entities)
		b.WriteString("    Entities --> Database[(Database)]\n")
	}
	if len(l.Workflows) > 0 {
		b.WriteString("    Services --> Workflows\n")
		writeGroup(&b, "Workflows", "W", l.Workflows)
	}
	b.WriteString(`
    style Client fill:#e1f5ff,stroke:#01579b,stroke-width:2px
    style Controllers fill:#fff3e0,stroke:#e65100,stroke-width:2px
    style Services fill:#f3e5f5,stroke:#4a148c,stroke-width:2px
    style Entities fill:#e8f5e9,stroke:#1b5e20,stroke-width:2px
    style Database fill:#fce4ec,stroke:#880e4f,stroke-width:2px`)
	if len(l.Workflows) > 0 {
		b.WriteString("\n    style Workflows fill:#fff9c4,stroke:#f57f17,stroke-width:2px")
	}
	return b.String()
}

func workflowChart(workflows []string) string {
	var b strings.Builder
	b.WriteString("graph LR\n    Start([Start])\n")
	for i, wf := range workflows {
		from := "Start"
		if i > 0 {
			from = fmt.Sprintf("W%d", i-1)
		}
		fmt.Fprintf(&b, "    %s --> W%d[\"%s\"]\n", from, i, wf)
	}
	fmt.Fprintf(&b, "    W%d --> End([End])\n\n", len(workflows)-1)
	b.WriteString("    style Start fill:#e1f5ff,stroke:#01579b,stroke-width:2px\n")
	b.WriteString("    style End fill:#e8f5e9,stroke:#1b5e20,stroke-width:2px\n")
	return b.String()
}
