package diagram

import (
	"fmt"
	"strings"

	"github.com/regygeorge/nx-workflow/internal/process"
)

// statusTag returns a short ASCII indicator for an overlay.
func statusTag(st *StatusOverlay) string {
	if st == nil {
		return ""
	}
	switch st.Status {
	case StatusActive:
		if st.Tokens > 1 {
			return fmt.Sprintf("[TOKEN x%d]", st.Tokens)
		}
		return "[TOKEN]"
	case StatusWaiting:
		return "[WAIT]"
	case StatusVisited:
		return fmt.Sprintf("[SEEN %d]", st.Visits)
	default:
		return ""
	}
}

// kindTag marks the node kind inside its box.
func kindTag(k process.Kind) string {
	switch k {
	case process.KindStart:
		return "(start)"
	case process.KindEnd:
		return "(end)"
	case process.KindUserTask:
		return "<user>"
	case process.KindServiceTask:
		return "<service>"
	case process.KindExclusiveGateway:
		return "<X>"
	case process.KindParallelGateway:
		return "<+>"
	default:
		return ""
	}
}

// RenderASCII renders a Model as a text diagram: one row of boxes per level,
// followed by the list of flows that carry conditions or leave a branching node.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := model.Node(nodeID)
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

	out := make(map[string]int)
	for _, e := range model.Edges {
		out[e.From]++
	}
	var branches []Edge
	for _, e := range model.Edges {
		if e.Label != "" || out[e.From] > 1 {
			branches = append(branches, e)
		}
	}
	if len(branches) > 0 {
		b.WriteString("\n--- flows ---\n")
		for _, e := range branches {
			cond := e.Label
			if cond == "" {
				cond = "always"
			}
			fmt.Fprintf(&b, "  %s ─→ %s  [%s]\n", e.From, e.To, cond)
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	contentLines := []string{strings.TrimSpace(kindTag(node.Kind) + " " + node.Label)}
	if node.Detail != "" {
		contentLines = append(contentLines, node.Detail)
	}
	if tag := statusTag(node.Status); tag != "" {
		contentLines = append(contentLines, tag)
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := len([]rune(line)); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len([]rune(content)))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}
	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
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
