package calltree

import (
	"sort"

	"github.com/getsentry/heapview/internal/location"
	"github.com/getsentry/heapview/internal/tracestore"
)

// MaxStackDepth bounds how many frames of a single trace are walked, so a
// corrupt caller chain looping onto itself can't stall the aggregation.
const MaxStackDepth = 16384

type (
	// Node is one row of a bottom-up or top-down call tree. Siblings are
	// kept sorted by location and never share the same location.
	Node struct {
		location.Location
		tracestore.Cost
		Children []*Node `json:"children,omitempty"`

		parent *Node
	}

	// Frames resolves trace chains into instruction pointers.
	Frames interface {
		Trace(i tracestore.TraceIndex) (tracestore.Trace, bool)
		InstructionPointer(i tracestore.IPIndex) (tracestore.InstructionPointer, bool)
		IsStopIndex(i tracestore.StringIndex) bool
	}
)

// Parent returns the node this node is a child of, or nil for a root. It is
// only valid once the tree is complete and SetParents ran over it.
func (n *Node) Parent() *Node {
	return n.parent
}

// SelfCost returns the part of the node cost not accounted for by any of
// its children.
func (n *Node) SelfCost() tracestore.Cost {
	var children tracestore.Cost
	for _, c := range n.Children {
		children.Add(c.Cost)
	}
	return n.Cost.Sub(children)
}

// Path returns the locations from n up to the root of its tree.
func (n *Node) Path() []location.Location {
	var p []location.Location
	for node := n; node != nil; node = node.parent {
		p = append(p, node.Location)
	}
	return p
}

// insert returns the node with location l among nodes, inserting a new one
// at its sorted position when there is none.
func insert(nodes *[]*Node, l location.Location) *Node {
	s := *nodes
	i := sort.Search(len(s), func(i int) bool {
		return !s[i].Location.Less(l)
	})
	if i < len(s) && s[i].Location == l {
		return s[i]
	}
	n := &Node{Location: l}
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = n
	*nodes = s
	return n
}

// SetParents assigns the parent back-reference of every node in the
// forest. It must run once the shape of the forest is final.
func SetParents(nodes []*Node, parent *Node) {
	for _, n := range nodes {
		n.parent = parent
		SetParents(n.Children, n)
	}
}

// Walk calls fn for every node of the forest, depth first, parents before
// their children.
func Walk(nodes []*Node, fn func(n *Node, depth int)) {
	walk(nodes, 0, fn)
}

func walk(nodes []*Node, depth int, fn func(n *Node, depth int)) {
	for _, n := range nodes {
		fn(n, depth)
		walk(n.Children, depth+1, fn)
	}
}

// Totals sums the cost of the root nodes of the forest.
func Totals(nodes []*Node) tracestore.Cost {
	var c tracestore.Cost
	for _, n := range nodes {
		c.Add(n.Cost)
	}
	return c
}
