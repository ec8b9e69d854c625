package pprofutil

import (
	"fmt"

	"github.com/google/pprof/profile"

	"github.com/getsentry/heapview/internal/analysis"
	"github.com/getsentry/heapview/internal/calltree"
	"github.com/getsentry/heapview/internal/location"
	"github.com/getsentry/heapview/internal/tracestore"
)

// SampleTypes returns the types of the values of every sample, in order.
func SampleTypes() []*profile.ValueType {
	return []*profile.ValueType{
		{Type: "alloc_objects", Unit: "count"},
		{Type: "alloc_space", Unit: "bytes"},
		{Type: "inuse_space", Unit: "bytes"},
		{Type: "peak_space", Unit: "bytes"},
	}
}

type functionKey struct {
	name string
	file string
}

type builder struct {
	profile   *profile.Profile
	mappings  map[string]*profile.Mapping
	functions map[functionKey]*profile.Function
	locations map[location.Location]*profile.Location
}

// FromBottomUp converts a bottom-up forest into a pprof heap profile. Each
// node where allocation stacks end gets one sample, its locations going
// from the allocation site to the outermost caller.
func FromBottomUp(bottomUp []*calltree.Node, summary analysis.Summary) (*profile.Profile, error) {
	b := &builder{
		profile: &profile.Profile{
			SampleType:        SampleTypes(),
			DefaultSampleType: "inuse_space",
			PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
			// heap traces are timed in milliseconds
			DurationNanos: int64(summary.TotalTime) * 1e6,
		},
		mappings:  make(map[string]*profile.Mapping),
		functions: make(map[functionKey]*profile.Function),
		locations: make(map[location.Location]*profile.Location),
	}
	if summary.Debuggee != "" {
		b.profile.Comments = append(b.profile.Comments, "debuggee: "+summary.Debuggee)
	}
	for _, n := range bottomUp {
		stack := make([]*profile.Location, 0, 64)
		b.visit(n, stack)
	}
	if err := b.profile.CheckValid(); err != nil {
		return nil, fmt.Errorf("pprofutil: %w", err)
	}
	return b.profile, nil
}

func (b *builder) visit(n *calltree.Node, stack []*profile.Location) {
	stack = append(stack, b.location(n.Location))
	for _, c := range n.Children {
		b.visit(c, stack)
	}
	if self := n.SelfCost(); !self.IsZero() {
		locations := make([]*profile.Location, len(stack))
		copy(locations, stack)
		b.profile.Sample = append(b.profile.Sample, &profile.Sample{
			Location: locations,
			Value:    values(self),
		})
	}
}

func values(c tracestore.Cost) []int64 {
	return []int64{
		int64(c.Allocations),
		int64(c.Allocated),
		int64(c.Leaked),
		int64(c.Peak),
	}
}

func (b *builder) location(l location.Location) *profile.Location {
	if loc, ok := b.locations[l]; ok {
		return loc
	}
	loc := &profile.Location{
		ID:      uint64(len(b.profile.Location) + 1),
		Mapping: b.mapping(l.Module),
		Line: []profile.Line{
			{Function: b.function(l), Line: int64(l.Line)},
		},
	}
	b.locations[l] = loc
	b.profile.Location = append(b.profile.Location, loc)
	return loc
}

func (b *builder) function(l location.Location) *profile.Function {
	key := functionKey{name: l.Function, file: l.File}
	if f, ok := b.functions[key]; ok {
		return f
	}
	f := &profile.Function{
		ID:         uint64(len(b.profile.Function) + 1),
		Name:       l.Function,
		SystemName: l.Function,
		Filename:   l.File,
	}
	b.functions[key] = f
	b.profile.Function = append(b.profile.Function, f)
	return f
}

func (b *builder) mapping(module string) *profile.Mapping {
	if module == "" {
		return nil
	}
	if m, ok := b.mappings[module]; ok {
		return m
	}
	m := &profile.Mapping{
		ID:             uint64(len(b.profile.Mapping) + 1),
		File:           module,
		HasFunctions:   true,
		HasFilenames:   true,
		HasLineNumbers: true,
	}
	b.mappings[module] = m
	b.profile.Mapping = append(b.profile.Mapping, m)
	return m
}
