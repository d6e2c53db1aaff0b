package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// validateGraph reports nodes that cannot be reached from the start node, nodes
// from which no end node can be reached, and busy cycles: loops made only of
// unconditional flows with no user task to wait on, which spin until the pass
// limit. All findings are warnings; loops themselves are legal.
func validateGraph(doc *schema.ProcessDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	kinds := make(map[string]schema.NodeType, len(doc.Nodes))
	var start string
	for _, n := range doc.Nodes {
		kinds[n.ID] = n.Type
		if n.Type == schema.NodeTypeStart {
			start = n.ID
		}
	}

	forward := make(map[string][]string, len(doc.Nodes))
	reverse := make(map[string][]string, len(doc.Nodes))
	for _, f := range doc.Flows {
		forward[f.From] = append(forward[f.From], f.To)
		reverse[f.To] = append(reverse[f.To], f.From)
	}

	fromStart := bfs([]string{start}, forward)
	var ends []string
	for id, k := range kinds {
		if k == schema.NodeTypeEnd {
			ends = append(ends, id)
		}
	}
	toEnd := bfs(ends, reverse)

	for i, n := range doc.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if !fromStart[n.ID] {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from the start node", n.ID))
			continue
		}
		if len(ends) > 0 && !toEnd[n.ID] && n.Type != schema.NodeTypeEnd {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("no end node can be reached from node %q", n.ID))
		}
	}

	if busy := busyCycle(doc, kinds); len(busy) > 0 {
		result.AddWarning("flows", schema.ErrCodeValidation,
			fmt.Sprintf("nodes %s form a loop with no condition or user task", strings.Join(busy, ", ")))
	}
	return result
}

func bfs(roots []string, edges map[string][]string) map[string]bool {
	seen := make(map[string]bool)
	queue := make([]string, 0, len(roots))
	for _, r := range roots {
		if r != "" && !seen[r] {
			seen[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range edges[node] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// busyCycle runs Kahn's algorithm over the unconditional flows that leave
// non-user-task nodes, then prunes what is left from the other side so only
// nodes on a loop remain.
func busyCycle(doc *schema.ProcessDocument, kinds map[string]schema.NodeType) []string {
	inDegree := make(map[string]int, len(kinds))
	edges := make(map[string][]string, len(kinds))
	for id := range kinds {
		inDegree[id] = 0
	}
	for _, f := range doc.Flows {
		if strings.TrimSpace(f.Condition) != "" || kinds[f.From] == schema.NodeTypeUserTask {
			continue
		}
		if _, ok := kinds[f.To]; !ok {
			continue
		}
		edges[f.From] = append(edges[f.From], f.To)
		inDegree[f.To]++
	}

	queue := make([]string, 0, len(kinds))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range edges[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
		delete(inDegree, node)
	}

	outDegree := make(map[string]int, len(inDegree))
	reverse := make(map[string][]string, len(inDegree))
	for id := range inDegree {
		for _, next := range edges[id] {
			if _, ok := inDegree[next]; ok {
				outDegree[id]++
				reverse[next] = append(reverse[next], id)
			}
		}
	}
	for id := range inDegree {
		if outDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, prev := range reverse[node] {
			outDegree[prev]--
			if outDegree[prev] == 0 {
				queue = append(queue, prev)
			}
		}
		delete(inDegree, node)
	}

	var left []string
	for id := range inDegree {
		left = append(left, id)
	}
	sort.Strings(left)
	return left
}
