package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxASCIIRoles caps the role lines drawn in a single box.
const maxASCIIRoles = 8

// RenderASCII renders a DiagramModel as rows of boxes, one row per level.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := model.node(nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- reporting lines ---\n")
		for _, e := range model.Edges {
			b.WriteString(fmt.Sprintf("  %s ─→ %s\n", label(model, e.From), label(model, e.To)))
		}
	}

	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	title := node.Label
	if node.Highlighted {
		title = "* " + title
	}
	content := []string{title}
	if node.Metrics != "" {
		content = append(content, node.Metrics)
	}

	var roleLines []string
	if node.Kind == NodeKindContainer {
		for _, g := range node.Groups {
			roleLines = append(roleLines, "["+g.Label+"]")
			for _, r := range g.Roles {
				roleLines = append(roleLines, "  "+r)
			}
		}
	} else {
		for _, r := range node.Roles {
			roleLines = append(roleLines, "- "+r)
		}
	}
	if len(roleLines) > maxASCIIRoles {
		hidden := len(roleLines) - maxASCIIRoles
		roleLines = append(roleLines[:maxASCIIRoles], fmt.Sprintf("(+%d more)", hidden))
	}
	content = append(content, roleLines...)

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4

	edge := "─"
	if node.Kind == NodeKindContainer {
		edge = "┄"
	}
	lines := []string{"┌" + strings.Repeat(edge, width-2) + "┐"}
	for i, c := range content {
		padded := c + strings.Repeat(" ", maxLen-utf8.RuneCountInString(c))
		lines = append(lines, "│ "+padded+" │")
		if i == 0 && len(content) > 1 {
			lines = append(lines, "├"+strings.Repeat(edge, width-2)+"┤")
		}
	}
	lines = append(lines, "└"+strings.Repeat(edge, width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

func label(model *DiagramModel, id string) string {
	if n := model.node(id); n != nil {
		return n.Label
	}
	return id
}
