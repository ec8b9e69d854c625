package calltree

import "github.com/getsentry/heapview/internal/tracestore"

// BuildTopDown re-roots a bottom-up forest from the outermost callers down
// to the allocation sites. The bottom-up forest must have its parents set.
//
// Every bottom-up leaf climbs its parent chain and adds its own cost at each
// level of the top-down forest. Using the leaf cost rather than the cost of
// each ancestor is what keeps shared callers from being counted once per
// allocation site.
func BuildTopDown(bottomUp []*Node) []*Node {
	var roots []*Node
	buildTopDown(bottomUp, &roots)
	SetParents(roots, nil)
	return roots
}

func buildTopDown(nodes []*Node, roots *[]*Node) {
	for _, n := range nodes {
		if len(n.Children) == 0 {
			climb(n, n.Cost, roots)
			continue
		}
		buildTopDown(n.Children, roots)
		// walks cut short by a truncated chain end on an inner node
		if self := n.SelfCost(); !self.IsZero() {
			climb(n, self, roots)
		}
	}
}

func climb(from *Node, cost tracestore.Cost, roots *[]*Node) {
	nodes := roots
	for node := from; node != nil; node = node.parent {
		n := insert(nodes, node.Location)
		n.Add(cost)
		nodes = &n.Children
	}
}
