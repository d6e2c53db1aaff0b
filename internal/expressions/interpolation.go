package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// Interpolate replaces every ${{ path }} reference in text with the value found at
// path in vars. Paths are dot-delimited; a key containing dots is matched whole
// before traversal. Strings are inlined raw, other values as JSON, so a body
// template like {"amount": ${{amount}}, "who": "${{user.name}}"} stays valid JSON.
func Interpolate(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "${{") {
		return text, nil
	}

	var out strings.Builder
	out.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "${{")
		if idx == -1 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i : i+idx])
		start := i + idx + 3

		end := strings.Index(text[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ reference")
		}
		end += start

		path := strings.TrimSpace(text[start:end])
		if path == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{ }}")
		}
		if strings.Contains(path, "${{") {
			return "", schema.NewError(schema.ErrCodeInterpolation, "nested ${{ references are not allowed")
		}

		val, err := lookupPath(vars, path)
		if err != nil {
			return "", err
		}
		out.WriteString(inline(val))
		i = end + 2
	}
	return out.String(), nil
}

// HasReferences reports whether text contains a ${{ reference.
func HasReferences(text string) bool {
	return strings.Contains(text, "${{")
}

func lookupPath(vars map[string]any, path string) (any, error) {
	if v, ok := vars[path]; ok {
		return v, nil
	}

	var current any = vars
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in %q at position %d", path, i)
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into %T at %q in %q", current, seg, path)
		}
		val, ok := m[seg]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"variable %q not found in %q; available: [%s]", seg, path, strings.Join(sortedKeys(m), ", ")).
				WithDetails(map[string]any{"reference": path})
		}
		current = val
	}
	return current, nil
}

func inline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
