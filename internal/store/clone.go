package store

import (
	"encoding/json"
	"time"
)

// deepCopyMap recursively copies a variable map so stored state never aliases
// caller-owned maps or slices.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (i *Instance) clone() *Instance {
	c := *i
	c.Variables = deepCopyMap(i.Variables)
	c.CompletedAt = copyTime(i.CompletedAt)
	return &c
}

func (t *Task) clone() *Task {
	c := *t
	c.CandidateUsers = append([]string(nil), t.CandidateUsers...)
	c.CandidateGroups = append([]string(nil), t.CandidateGroups...)
	c.DueAt = copyTime(t.DueAt)
	c.CompletedAt = copyTime(t.CompletedAt)
	return &c
}
