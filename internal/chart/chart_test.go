package chart

import (
	"fmt"
	"testing"

	"github.com/getsentry/heapview/internal/location"
	"github.com/getsentry/heapview/internal/testutil"
	"github.com/getsentry/heapview/internal/tracestore"
)

// snapshotOf returns a snapshot where trace i allocates directly in the
// function at index i of functions.
func snapshotOf(functions []string, events ...tracestore.Event) *tracestore.Snapshot {
	s := &tracestore.Snapshot{Strings: functions, Events: events}
	for i := range functions {
		s.InstructionPointers = append(s.InstructionPointers, tracestore.InstructionPointer{
			Address:  uint64(0x100 + i),
			Function: tracestore.StringIndex(i + 1),
		})
		s.Traces = append(s.Traces, tracestore.Trace{IP: tracestore.IPIndex(i + 1)})
	}
	return s
}

func alloc(trace tracestore.TraceIndex, size uint64) tracestore.Event {
	return tracestore.Event{Kind: tracestore.EventAllocation, Trace: trace, Size: size}
}

func free(trace tracestore.TraceIndex, size uint64) tracestore.Event {
	return tracestore.Event{Kind: tracestore.EventDeallocation, Trace: trace, Size: size}
}

func stamp(ts uint64) tracestore.Event {
	return tracestore.Event{Kind: tracestore.EventTimeStamp, TimeStamp: ts}
}

func replay(s *tracestore.Snapshot) *Aggregator {
	store := tracestore.NewStore(s)
	a := NewAggregator(store, location.NewResolver())
	store.Replay(a)
	return a
}

func TestAggregator(t *testing.T) {
	a := replay(snapshotOf(
		[]string{"f1", "f2"},
		alloc(1, 100),
		alloc(2, 50),
		stamp(1),
		free(1, 100),
		alloc(2, 10),
		stamp(2),
	))
	labels := map[int]string{0: "total", 1: "f1", 2: "f2"}

	tests := []struct {
		name   string
		series *Series
		want   Data
	}{
		{
			name:   "consumed",
			series: &a.Consumed,
			want: Data{
				Rows: []Row{
					{TimeStamp: 1, Cost: map[int]uint64{0: 150, 1: 100, 2: 50}},
					{TimeStamp: 2, Cost: map[int]uint64{0: 60, 2: 60}},
					{TimeStamp: 3, Cost: map[int]uint64{0: 60, 2: 60}},
				},
				Labels: labels,
			},
		},
		{
			name:   "allocated",
			series: &a.Allocated,
			want: Data{
				Rows: []Row{
					{TimeStamp: 1, Cost: map[int]uint64{0: 150, 1: 100, 2: 50}},
					{TimeStamp: 2, Cost: map[int]uint64{0: 160, 1: 100, 2: 60}},
					{TimeStamp: 3, Cost: map[int]uint64{0: 160, 1: 100, 2: 60}},
				},
				Labels: labels,
			},
		},
		{
			name:   "allocations",
			series: &a.Allocations,
			want: Data{
				Rows: []Row{
					{TimeStamp: 1, Cost: map[int]uint64{0: 2, 1: 1, 2: 1}},
					{TimeStamp: 2, Cost: map[int]uint64{0: 3, 1: 1, 2: 2}},
					{TimeStamp: 3, Cost: map[int]uint64{0: 3, 1: 1, 2: 2}},
				},
				Labels: labels,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if diff := testutil.Diff(tt.series.Data(), tt.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestConsumedTotalIsPeakSinceLastTimestamp(t *testing.T) {
	a := replay(snapshotOf(
		[]string{"f"},
		alloc(1, 100),
		free(1, 100),
		alloc(1, 20),
		stamp(5),
	))
	rows := a.Consumed.Data().Rows
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if got := rows[0].Cost[TotalLabelID]; got != 100 {
		t.Fatalf("expected the peak of 100 bytes, got %d", got)
	}
	// no allocation since the boundary, only the live bytes remain
	if got := rows[1].Cost[TotalLabelID]; got != 20 {
		t.Fatalf("expected 20 live bytes, got %d", got)
	}
}

func TestRowsAreBounded(t *testing.T) {
	var functions []string
	var events []tracestore.Event
	for i := 0; i < 2*MaxContributors; i++ {
		functions = append(functions, fmt.Sprintf("f%02d", i))
		events = append(events, alloc(tracestore.TraceIndex(i+1), uint64(i+1)))
	}
	events = append(events, stamp(1))
	a := replay(snapshotOf(functions, events...))

	for _, s := range []*Series{&a.Consumed, &a.Allocated, &a.Allocations} {
		for _, r := range s.Data().Rows {
			if len(r.Cost) > MaxContributors+1 {
				t.Fatalf("row at %d has %d entries", r.TimeStamp, len(r.Cost))
			}
			if _, ok := r.Cost[TotalLabelID]; !ok {
				t.Fatalf("row at %d has no total", r.TimeStamp)
			}
		}
	}

	// the largest allocations win
	row := a.Allocated.Data().Rows[0]
	labels := a.Allocated.Data().Labels
	for id, v := range row.Cost {
		if id == TotalLabelID {
			continue
		}
		if v <= MaxContributors {
			t.Fatalf("function %q with %d bytes should not be ranked", labels[id], v)
		}
	}
	if got, want := row.Cost[TotalLabelID], uint64(2*MaxContributors*(2*MaxContributors+1)/2); got != want {
		t.Fatalf("expected total %d, got %d", want, got)
	}
}

func TestRowsAreOrdered(t *testing.T) {
	a := replay(snapshotOf(
		[]string{"f"},
		alloc(1, 1),
		stamp(3),
		stamp(3),
		stamp(2),
		alloc(1, 1),
		stamp(10),
	))
	var got []uint64
	for _, r := range a.Allocations.Data().Rows {
		got = append(got, r.TimeStamp)
	}
	if diff := testutil.Diff(got, []uint64{3, 10, 11}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestLabelsOnlyOnFinalTimestamp(t *testing.T) {
	store := tracestore.NewStore(snapshotOf([]string{"f"}))
	a := NewAggregator(store, location.NewResolver())
	a.HandleStrings(store.Strings())

	allocations := []tracestore.Allocation{
		{Trace: 1, Cost: tracestore.Cost{Allocations: 1, Peak: 8, Leaked: 8, Allocated: 8}},
	}
	a.HandleTimestamp(tracestore.TimestampEvent{TimeStamp: 1, Leaked: 8, TotalAllocated: 8, TotalAllocations: 1, Allocations: allocations})
	if a.Allocated.Data().Labels != nil {
		t.Fatal("labels should not be set before the final timestamp")
	}

	a.HandleTimestamp(tracestore.TimestampEvent{TimeStamp: 2, Leaked: 8, TotalAllocated: 8, TotalAllocations: 1, Allocations: allocations, Final: true})
	want := map[int]string{0: "total", 1: "f"}
	if diff := testutil.Diff(a.Allocated.Data().Labels, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestLabelIDsAreStable(t *testing.T) {
	a := replay(snapshotOf(
		[]string{"total", "b", "a"},
		alloc(2, 10),
		stamp(1),
		alloc(1, 20),
		alloc(3, 30),
		stamp(2),
	))
	want := map[int]string{0: "total", 1: "b", 2: "a", 3: "total"}
	if diff := testutil.Diff(a.Allocated.Data().Labels, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	first := a.Allocated.Data().Rows[0]
	if diff := testutil.Diff(first.Cost, map[int]uint64{0: 10, 1: 10}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestUnknownFunctionUsesAddress(t *testing.T) {
	s := snapshotOf([]string{"f"}, alloc(1, 4))
	s.InstructionPointers[0].Function = 0
	a := replay(s)
	want := map[int]string{0: "total", 1: "0x100"}
	if diff := testutil.Diff(a.Allocations.Data().Labels, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestEmptyTrace(t *testing.T) {
	a := replay(&tracestore.Snapshot{})
	want := Data{
		Rows:   []Row{{TimeStamp: 1, Cost: map[int]uint64{0: 0}}},
		Labels: map[int]string{0: "total"},
	}
	if diff := testutil.Diff(a.Consumed.Data(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}
