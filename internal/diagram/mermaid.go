package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Containers become subgraphs with one node per originating org unit.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	dir := "TD"
	if model.Direction == "LR" {
		dir = "LR"
	}
	b.WriteString("graph " + dir + "\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		if node.Kind != NodeKindContainer {
			b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
			continue
		}
		b.WriteString(fmt.Sprintf("    subgraph %s[%q]\n", mermaidSafeID(node.ID), mermaidEscapeLabel(containerTitle(node))))
		for _, g := range node.Groups {
			lines := append([]string{g.Label}, g.Roles...)
			b.WriteString(fmt.Sprintf("        %s[%q]\n",
				mermaidSafeID(node.ID+"__"+g.ID), mermaidEscapeLabel(strings.Join(lines, "<br/>"))))
		}
		b.WriteString("    end\n")
	}

	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %s --> %s\n", mermaidSafeID(edge.From), mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef highlighted fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef container fill:#eef3f8,stroke:#1a5276,stroke-dasharray:5 5\n")
	for _, node := range model.Nodes {
		if node.Kind == NodeKindContainer {
			b.WriteString(fmt.Sprintf("    class %s container\n", mermaidSafeID(node.ID)))
		}
		if node.Highlighted {
			b.WriteString(fmt.Sprintf("    class %s highlighted\n", mermaidSafeID(node.ID)))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid box for an org node.
func mermaidNodeDef(node *Node) string {
	lines := []string{node.Label}
	if node.Metrics != "" {
		lines = append(lines, node.Metrics)
	}
	lines = append(lines, node.Roles...)
	return fmt.Sprintf("%s[%q]", mermaidSafeID(node.ID), mermaidEscapeLabel(strings.Join(lines, "<br/>")))
}

func containerTitle(node *Node) string {
	if node.Metrics == "" {
		return node.Label
	}
	return node.Label + " (" + node.Metrics + ")"
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", "(", "_", ")", "_", "[", "_", "]", "_")
	return "n_" + r.Replace(id)
}

// mermaidEscapeLabel replaces characters that break quoted Mermaid labels.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
