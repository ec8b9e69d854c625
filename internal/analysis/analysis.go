package analysis

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/heapview/internal/calltree"
	"github.com/getsentry/heapview/internal/chart"
	"github.com/getsentry/heapview/internal/location"
	"github.com/getsentry/heapview/internal/tracestore"
)

type (
	Summary struct {
		Debuggee         string `json:"debuggee"`
		TotalTime        uint64 `json:"total_time"`
		TotalAllocated   uint64 `json:"total_allocated"`
		TotalAllocations uint64 `json:"total_allocations"`
		Peak             uint64 `json:"peak"`
		Leaked           uint64 `json:"leaked"`
	}

	// Result holds every view computed from a heap trace. It is read-only
	// once returned.
	Result struct {
		Summary     Summary          `json:"summary"`
		BottomUp    []*calltree.Node `json:"bottom_up"`
		TopDown     []*calltree.Node `json:"top_down"`
		Consumed    chart.Data       `json:"consumed"`
		Allocated   chart.Data       `json:"allocated"`
		Allocations chart.Data       `json:"allocations"`
	}
)

// Analyze replays the events of the snapshot and builds the call trees and
// charts out of them. The snapshot is expected to be validated already.
// When ctx is done before all views are built, only the error is returned.
func Analyze(ctx context.Context, snap *tracestore.Snapshot) (Result, error) {
	store := tracestore.NewStore(snap)
	resolver := location.NewResolver()
	aggregator := chart.NewAggregator(store, resolver)

	s := sentry.StartSpan(ctx, "processing")
	s.Description = "Replay events"
	store.Replay(aggregator)
	s.Finish()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	totals := store.Totals()
	log.Debug().
		Int("events", len(snap.Events)).
		Int("allocations", len(store.Allocations())).
		Uint64("total_time", totals.TotalTime).
		Msg("analysis: events replayed")

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Build bottom-up tree"
	bottomUp := calltree.BuildBottomUp(store.Allocations(), store, resolver)
	s.Finish()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Build top-down tree"
	topDown := calltree.BuildTopDown(bottomUp)
	s.Finish()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	log.Debug().
		Int("bottom_up_roots", len(bottomUp)).
		Int("top_down_roots", len(topDown)).
		Msg("analysis: call trees built")

	return Result{
		Summary: Summary{
			Debuggee:         store.Debuggee,
			TotalTime:        totals.TotalTime,
			TotalAllocated:   totals.TotalAllocated,
			TotalAllocations: totals.TotalAllocations,
			Peak:             totals.Peak,
			Leaked:           totals.Leaked,
		},
		BottomUp:    bottomUp,
		TopDown:     topDown,
		Consumed:    aggregator.Consumed.Data(),
		Allocated:   aggregator.Allocated.Data(),
		Allocations: aggregator.Allocations.Data(),
	}, nil
}
