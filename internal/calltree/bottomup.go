package calltree

import (
	"github.com/getsentry/heapview/internal/location"
	"github.com/getsentry/heapview/internal/tracestore"
)

// BuildBottomUp merges the allocations into a forest keyed by allocation
// site. Each allocation is walked from its leaf frame toward its callers,
// adding its cost at every level, until a stop frame or the end of the
// chain is reached. A trace or instruction pointer that can't be resolved
// ends the walk as if the root was reached.
func BuildBottomUp(allocations []tracestore.Allocation, frames Frames, resolver *location.Resolver) []*Node {
	var roots []*Node
	for _, a := range allocations {
		traceIndex := a.Trace
		nodes := &roots
		for depth := 0; traceIndex != 0 && depth < MaxStackDepth; depth++ {
			trace, ok := frames.Trace(traceIndex)
			if !ok {
				break
			}
			ip, ok := frames.InstructionPointer(trace.IP)
			if !ok {
				break
			}
			n := insert(nodes, resolver.Location(ip))
			n.Add(a.Cost)
			if frames.IsStopIndex(ip.Function) {
				break
			}
			traceIndex = trace.Parent
			nodes = &n.Children
		}
	}
	// parents can only be set now, the data is constant from here on
	SetParents(roots, nil)
	return roots
}
