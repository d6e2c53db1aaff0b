package engine

import "github.com/regygeorge/nx-workflow/internal/process"

// SelectOne returns the first flow whose condition holds. A flow without a
// condition always holds, so it wins whenever no guarded flow before it does.
// Service tasks, exclusive gateways and irregular parallel gateways route this way.
func SelectOne(flows []*process.SequenceFlow, vars map[string]any) (*process.SequenceFlow, bool) {
	for _, f := range flows {
		if f.Holds(vars) {
			return f, true
		}
	}
	return nil, false
}

// SelectAll returns every flow whose condition holds, in declaration order.
// Completing a user task routes this way: each match gets its own token.
func SelectAll(flows []*process.SequenceFlow, vars map[string]any) []*process.SequenceFlow {
	var out []*process.SequenceFlow
	for _, f := range flows {
		if f.Holds(vars) {
			out = append(out, f)
		}
	}
	return out
}
