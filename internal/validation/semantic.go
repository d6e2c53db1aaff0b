package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot: unique ids, exactly one
// start node, flow endpoints, per-kind flow counts and node properties.
func validateSemantic(doc *schema.ProcessDocument, lookup HandlerLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	kinds := make(map[string]schema.NodeType, len(doc.Nodes))
	var starts, ends []string
	for i, n := range doc.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if _, dup := kinds[n.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		kinds[n.ID] = n.Type
		switch n.Type {
		case schema.NodeTypeStart:
			starts = append(starts, n.ID)
		case schema.NodeTypeEnd:
			ends = append(ends, n.ID)
		}
	}

	switch len(starts) {
	case 0:
		result.AddError("nodes", schema.ErrCodeValidation, "process has no start node")
	case 1:
	default:
		result.AddError("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("process has %d start nodes (%s); exactly one is allowed", len(starts), strings.Join(starts, ", ")))
	}
	if len(ends) == 0 {
		result.AddWarning("nodes", schema.ErrCodeValidation, "process has no end node; instances can only finish in a user task")
	}

	incoming := make(map[string]int, len(doc.Nodes))
	outgoing := make(map[string]int, len(doc.Nodes))
	unconditional := make(map[string]int, len(doc.Nodes))
	flowIDs := make(map[string]bool, len(doc.Flows))
	for i, f := range doc.Flows {
		path := fmt.Sprintf("flows[%d]", i)
		if f.ID != "" {
			if flowIDs[f.ID] {
				result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate flow id %q", f.ID))
			}
			flowIDs[f.ID] = true
		}
		_, fromOK := kinds[f.From]
		_, toOK := kinds[f.To]
		if !fromOK {
			result.AddError(path+".from", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", f.From))
		}
		if !toOK {
			result.AddError(path+".to", schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", f.To))
		}
		if !fromOK || !toOK {
			continue
		}
		outgoing[f.From]++
		incoming[f.To]++
		if strings.TrimSpace(f.Condition) == "" {
			unconditional[f.From]++
		}
	}

	for i, n := range doc.Nodes {
		validateNode(n, fmt.Sprintf("nodes[%d]", i), incoming[n.ID], outgoing[n.ID], unconditional[n.ID], lookup, result)
	}
	return result
}

func validateNode(n schema.NodeDocument, path string, in, out, uncond int, lookup HandlerLookup, result *schema.ValidationResult) {
	switch n.Type {
	case schema.NodeTypeStart:
		if out != 1 {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("start node %q must have exactly one outgoing flow, has %d", n.ID, out))
		}
		if in > 0 {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("start node %q cannot have incoming flows", n.ID))
		}
	case schema.NodeTypeEnd:
		if out > 0 {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("end node %q cannot have outgoing flows", n.ID))
		}
	default:
		if out == 0 {
			result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("node %q has no outgoing flow", n.ID))
		}
	}

	switch n.Type {
	case schema.NodeTypeExclusiveGateway, schema.NodeTypeServiceTask:
		if uncond > 1 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has %d unconditional flows; only the first can be taken", n.ID, uncond))
		}
	case schema.NodeTypeParallelGateway:
		if !(out > 1 && in <= 1) && !(in > 1 && out == 1) {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("parallel gateway %q is neither a fork nor a join; it routes like an exclusive gateway", n.ID))
		}
	case schema.NodeTypeUserTask:
		if uncond > 1 {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("user task %q has %d unconditional flows; completing it starts a token on each", n.ID, uncond))
		}
	}

	if n.Type == schema.NodeTypeServiceTask {
		validateServiceProperties(n, path, lookup, result)
	} else if n.TaskType != "" {
		result.AddWarning(path+".taskType", schema.ErrCodeValidation,
			fmt.Sprintf("taskType is ignored on %s nodes", n.Type))
	}
}

func validateServiceProperties(n schema.NodeDocument, path string, lookup HandlerLookup, result *schema.ValidationResult) {
	props := n.Properties
	if ts := strings.TrimSpace(props[schema.PropHTTPTimeout]); ts != "" {
		if d, err := time.ParseDuration(ts); err != nil || d <= 0 {
			result.AddError(path+".properties."+schema.PropHTTPTimeout, schema.ErrCodeValidation,
				fmt.Sprintf("invalid duration %q", ts))
		}
	}
	if m := strings.TrimSpace(props[schema.PropHTTPMethod]); m != "" && !validMethod(m) {
		result.AddError(path+".properties."+schema.PropHTTPMethod, schema.ErrCodeValidation,
			fmt.Sprintf("unsupported HTTP method %q", m))
	}
	if strings.EqualFold(strings.TrimSpace(props[schema.PropType]), "http") && strings.TrimSpace(props[schema.PropHTTPURL]) == "" {
		result.AddWarning(path+".properties", schema.ErrCodeValidation,
			fmt.Sprintf("service task %q has type=http but no %s; it will do nothing", n.ID, schema.PropHTTPURL))
	}
	if key, name := schema.DelegateProperty(props); name != "" && lookup != nil && !lookup.Has(name) {
		result.AddError(path+".properties."+key, schema.ErrCodeUnknownHandler,
			fmt.Sprintf("delegate %q is not registered", name))
	}
}

func validMethod(m string) bool {
	switch strings.ToUpper(m) {
	case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS":
		return true
	}
	return false
}
