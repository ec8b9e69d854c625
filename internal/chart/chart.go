package chart

import (
	"sort"

	"github.com/getsentry/heapview/internal/location"
	"github.com/getsentry/heapview/internal/tracestore"
)

const (
	// MaxContributors is the number of functions ranked per row, on top of
	// the total.
	MaxContributors = 10

	TotalLabelID = 0
	TotalLabel   = "total"
)

type (
	// Row holds the cost of the top contributors at a timestamp, keyed by
	// label id. The total is always stored at TotalLabelID.
	Row struct {
		TimeStamp uint64         `json:"timestamp"`
		Cost      map[int]uint64 `json:"cost"`
	}

	Data struct {
		Rows []Row `json:"rows"`
		// Labels maps label ids back to function names. It is only set
		// once the final timestamp was processed.
		Labels map[int]string `json:"labels,omitempty"`
	}

	// Series accumulates the rows of one metric and the label ids of every
	// function that ever made it into one of them.
	Series struct {
		data     Data
		labelIDs map[string]int
	}

	// Frames resolves the leaf frame of an allocation.
	Frames interface {
		Trace(i tracestore.TraceIndex) (tracestore.Trace, bool)
		InstructionPointer(i tracestore.IPIndex) (tracestore.InstructionPointer, bool)
	}

	// Aggregator ranks the functions allocating the most memory at every
	// timestamp boundary, for live bytes, allocated bytes and number of
	// allocations.
	Aggregator struct {
		Consumed    Series
		Allocated   Series
		Allocations Series

		frames   Frames
		resolver *location.Resolver

		maxConsumedSinceLastTimeStamp uint64
	}

	functionCost struct {
		function    string
		consumed    uint64
		allocated   uint64
		allocations uint64
	}
)

func NewSeries() Series {
	return Series{
		labelIDs: make(map[string]int),
	}
}

// Data returns the rows emitted so far and, once finalized, the labels.
func (s *Series) Data() Data {
	return s.data
}

func (s *Series) labelID(function string) int {
	id, ok := s.labelIDs[function]
	if !ok {
		id = len(s.labelIDs) + 1
		s.labelIDs[function] = id
	}
	return id
}

func (s *Series) addRow(timeStamp, total uint64, costs []functionCost, value func(functionCost) uint64) {
	ranked := make([]functionCost, len(costs))
	copy(ranked, costs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return value(ranked[i]) > value(ranked[j])
	})
	row := Row{
		TimeStamp: timeStamp,
		Cost:      map[int]uint64{TotalLabelID: total},
	}
	for i := 0; i < len(ranked) && i < MaxContributors; i++ {
		v := value(ranked[i])
		if v == 0 {
			break
		}
		row.Cost[s.labelID(ranked[i].function)] = v
	}
	s.data.Rows = append(s.data.Rows, row)
}

func (s *Series) finalize() {
	labels := make(map[int]string, len(s.labelIDs)+1)
	labels[TotalLabelID] = TotalLabel
	for function, id := range s.labelIDs {
		labels[id] = function
	}
	s.data.Labels = labels
}

func NewAggregator(frames Frames, resolver *location.Resolver) *Aggregator {
	return &Aggregator{
		Consumed:    NewSeries(),
		Allocated:   NewSeries(),
		Allocations: NewSeries(),
		frames:      frames,
		resolver:    resolver,
	}
}

func (a *Aggregator) HandleStrings(strings []string) {
	a.resolver.Update(strings)
}

func (a *Aggregator) HandleAllocation(leaked uint64) {
	if leaked > a.maxConsumedSinceLastTimeStamp {
		a.maxConsumedSinceLastTimeStamp = leaked
	}
}

func (a *Aggregator) HandleTimestamp(ev tracestore.TimestampEvent) {
	a.HandleAllocation(ev.Leaked)

	costs := a.mergeByFunction(ev.Allocations)
	a.Consumed.addRow(ev.TimeStamp, a.maxConsumedSinceLastTimeStamp, costs, func(c functionCost) uint64 {
		return c.consumed
	})
	a.Allocated.addRow(ev.TimeStamp, ev.TotalAllocated, costs, func(c functionCost) uint64 {
		return c.allocated
	})
	a.Allocations.addRow(ev.TimeStamp, ev.TotalAllocations, costs, func(c functionCost) uint64 {
		return c.allocations
	})
	if ev.Final {
		a.Consumed.finalize()
		a.Allocated.finalize()
		a.Allocations.finalize()
	}
	a.maxConsumedSinceLastTimeStamp = 0
}

// mergeByFunction sums the allocations by the function of their leaf frame,
// sorted by function name.
func (a *Aggregator) mergeByFunction(allocations []tracestore.Allocation) []functionCost {
	var costs []functionCost
	for _, alloc := range allocations {
		trace, ok := a.frames.Trace(alloc.Trace)
		if !ok {
			continue
		}
		ip, ok := a.frames.InstructionPointer(trace.IP)
		if !ok {
			continue
		}
		function := a.resolver.Function(ip)
		i := sort.Search(len(costs), func(i int) bool {
			return costs[i].function >= function
		})
		if i == len(costs) || costs[i].function != function {
			costs = append(costs, functionCost{})
			copy(costs[i+1:], costs[i:])
			costs[i] = functionCost{function: function}
		}
		costs[i].consumed += alloc.Leaked
		costs[i].allocated += alloc.Allocated
		costs[i].allocations += alloc.Allocations
	}
	return costs
}
