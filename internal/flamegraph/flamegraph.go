package flamegraph

import (
	"fmt"

	"github.com/getsentry/heapview/internal/calltree"
	"github.com/getsentry/heapview/internal/location"
	"github.com/getsentry/heapview/internal/speedscope"
	"github.com/getsentry/heapview/internal/tracestore"
)

const (
	MetricAllocations Metric = "allocations"
	MetricPeak        Metric = "peak"
	MetricLeaked      Metric = "leaked"
	MetricAllocated   Metric = "allocated"
)

// Metric selects which cost of a call tree node weighs its samples.
type Metric string

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricAllocations, MetricPeak, MetricLeaked, MetricAllocated:
		return m, nil
	}
	return "", fmt.Errorf("flamegraph: unknown metric %q", s)
}

func (m Metric) value(c tracestore.Cost) uint64 {
	switch m {
	case MetricAllocations:
		return c.Allocations
	case MetricPeak:
		return c.Peak
	case MetricLeaked:
		return c.Leaked
	default:
		return c.Allocated
	}
}

func (m Metric) unit() speedscope.ValueUnit {
	if m == MetricAllocations {
		return speedscope.ValueUnitNone
	}
	return speedscope.ValueUnitBytes
}

type flamegraph struct {
	metric      Metric
	samples     [][]int
	weights     []uint64
	frames      []speedscope.Frame
	framesIndex map[location.Location]int
	endValue    uint64
}

// ToSpeedscope converts a top-down forest into a sampled speedscope
// profile. Every node with a non-zero self cost in the chosen metric
// becomes one sample, with its stack going from the root to the node.
func ToSpeedscope(topDown []*calltree.Node, metric Metric, name string) speedscope.Output {
	fd := &flamegraph{
		metric:      metric,
		samples:     make([][]int, 0),
		weights:     make([]uint64, 0),
		frames:      make([]speedscope.Frame, 0),
		framesIndex: make(map[location.Location]int),
	}
	for _, tree := range topDown {
		stack := make([]int, 0, 128)
		fd.visitCalltree(tree, &stack)
	}

	profiles := make([]interface{}, 1)
	profiles[0] = speedscope.SampledProfile{
		Name:     fmt.Sprintf("%s (%s)", name, metric),
		Samples:  fd.samples,
		Weights:  fd.weights,
		Type:     speedscope.ProfileTypeSampled,
		Unit:     metric.unit(),
		EndValue: fd.endValue,
	}

	return speedscope.Output{
		Schema:   speedscope.Schema,
		Exporter: "heapview",
		Name:     name,
		Shared: speedscope.SharedData{
			Frames: fd.frames,
		},
		Profiles: profiles,
	}
}

func (f *flamegraph) visitCalltree(node *calltree.Node, currentStack *[]int) {
	if i, exists := f.framesIndex[node.Location]; exists {
		*currentStack = append(*currentStack, i)
	} else {
		f.framesIndex[node.Location] = len(f.frames)
		*currentStack = append(*currentStack, len(f.frames))
		f.frames = append(f.frames, speedscope.Frame{
			Name:  node.Function,
			File:  node.File,
			Line:  node.Line,
			Image: node.ModuleBaseName(),
			Path:  node.Module,
		})
	}

	for _, child := range node.Children {
		f.visitCalltree(child, currentStack)
	}
	// the self cost covers allocations ending at this node, leaves included
	if v := f.metric.value(node.SelfCost()); v > 0 {
		f.addSample(currentStack, v)
	}

	// pop last element before returning
	*currentStack = (*currentStack)[:len(*currentStack)-1]
}

func (f *flamegraph) addSample(stack *[]int, weight uint64) {
	cp := make([]int, len(*stack))
	copy(cp, *stack)
	f.samples = append(f.samples, cp)
	f.weights = append(f.weights, weight)
	f.endValue += weight
}
