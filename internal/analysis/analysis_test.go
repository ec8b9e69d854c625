package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/getsentry/heapview/internal/calltree"
	"github.com/getsentry/heapview/internal/location"
	"github.com/getsentry/heapview/internal/testutil"
	"github.com/getsentry/heapview/internal/tracestore"
)

// testSnapshot records two allocations in B, called by A, called by main.
func testSnapshot() *tracestore.Snapshot {
	return &tracestore.Snapshot{
		Debuggee: "./app",
		Strings:  []string{"main", "A", "B", "app.c"},
		InstructionPointers: []tracestore.InstructionPointer{
			{Address: 0x10, Function: 1, File: 4, Line: 3},
			{Address: 0x20, Function: 2, File: 4, Line: 10},
			{Address: 0x30, Function: 3, File: 4, Line: 20},
			{Address: 0x40, Function: 3, File: 4, Line: 20},
		},
		Traces: []tracestore.Trace{
			{IP: 1},
			{IP: 2, Parent: 1},
			{IP: 3, Parent: 2},
			{IP: 4, Parent: 2},
		},
		Events: []tracestore.Event{
			{Kind: tracestore.EventAllocation, Trace: 3, Size: 100},
			{Kind: tracestore.EventTimeStamp, TimeStamp: 1},
			{Kind: tracestore.EventAllocation, Trace: 4, Size: 50},
			{Kind: tracestore.EventDeallocation, Trace: 4, Size: 50},
			{Kind: tracestore.EventTimeStamp, TimeStamp: 2},
		},
	}
}

func TestAnalyze(t *testing.T) {
	result, err := Analyze(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantSummary := Summary{
		Debuggee:         "./app",
		TotalTime:        3,
		TotalAllocated:   150,
		TotalAllocations: 2,
		Peak:             150,
		Leaked:           100,
	}
	if diff := testutil.Diff(result.Summary, wantSummary); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	total := tracestore.Cost{Allocations: 2, Peak: 150, Leaked: 100, Allocated: 150}
	entry := location.Location{Function: "main", File: "app.c", Line: 3}
	a := location.Location{Function: "A", File: "app.c", Line: 10}
	b := location.Location{Function: "B", File: "app.c", Line: 20}
	wantBottomUp := []*calltree.Node{
		{Location: b, Cost: total, Children: []*calltree.Node{
			{Location: a, Cost: total, Children: []*calltree.Node{
				{Location: entry, Cost: total},
			}},
		}},
	}
	wantTopDown := []*calltree.Node{
		{Location: entry, Cost: total, Children: []*calltree.Node{
			{Location: a, Cost: total, Children: []*calltree.Node{
				{Location: b, Cost: total},
			}},
		}},
	}
	ignoreParents := cmpopts.IgnoreUnexported(calltree.Node{})
	if diff := testutil.Diff(result.BottomUp, wantBottomUp, ignoreParents); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if diff := testutil.Diff(result.TopDown, wantTopDown, ignoreParents); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	if got := calltree.Totals(result.BottomUp); got != calltree.Totals(result.TopDown) {
		t.Fatalf("totals differ: %+v and %+v", got, calltree.Totals(result.TopDown))
	}

	for _, d := range []struct {
		name   string
		rows   int
		labels map[int]string
	}{
		{"consumed", len(result.Consumed.Rows), result.Consumed.Labels},
		{"allocated", len(result.Allocated.Rows), result.Allocated.Labels},
		{"allocations", len(result.Allocations.Rows), result.Allocations.Labels},
	} {
		if d.rows != 3 {
			t.Fatalf("%s: expected 3 rows, got %d", d.name, d.rows)
		}
		if diff := testutil.Diff(d.labels, map[int]string{0: "total", 1: "B"}); diff != "" {
			t.Fatalf("%s: Result mismatch: got - want +\n%s", d.name, diff)
		}
	}
	if got := result.Consumed.Rows[1].Cost[0]; got != 150 {
		t.Fatalf("expected the peak of 150 bytes in the second row, got %d", got)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	first, err := Analyze(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Analyze(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := testutil.Diff(first, second, cmpopts.IgnoreUnexported(calltree.Node{})); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestAnalyzeEmptySnapshot(t *testing.T) {
	result, err := Analyze(context.Background(), &tracestore.Snapshot{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.BottomUp) != 0 || len(result.TopDown) != 0 {
		t.Fatal("expected empty call trees")
	}
	if result.Summary.TotalTime != 1 {
		t.Fatalf("expected a total time of 1, got %d", result.Summary.TotalTime)
	}
}

func TestAnalyzeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Analyze(ctx, testSnapshot())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
