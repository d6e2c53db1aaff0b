package diagram

import (
	"fmt"
	"strings"
)

// RenderOutline lists every node with its outgoing flows, one line each.
func RenderOutline(model *Model) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Process %s (%s)\n", model.ID, model.Title)

	outgoing := make(map[string][]Edge, len(model.Nodes))
	for _, e := range model.Edges {
		outgoing[e.From] = append(outgoing[e.From], e)
	}
	for _, n := range model.Nodes {
		fmt.Fprintf(&b, "• %s %s [%s]", n.Kind, n.ID, n.Label)
		if n.Detail != "" {
			fmt.Fprintf(&b, " %s", n.Detail)
		}
		if tag := statusTag(n.Status); tag != "" {
			fmt.Fprintf(&b, " %s", tag)
		}
		b.WriteByte('\n')
		for _, e := range outgoing[n.ID] {
			cond := e.Label
			if cond == "" {
				cond = "always"
			}
			fmt.Fprintf(&b, "    └─(%s)─▶ %s  [flow=%s]\n", cond, e.To, e.ID)
		}
	}
	return b.String()
}
