package tracestore

import (
	"fmt"
	"sort"

	"github.com/getsentry/heapview/internal/errorutil"
)

const (
	EventAllocation   EventKind = "+"
	EventDeallocation EventKind = "-"
	EventTimeStamp    EventKind = "c"
	EventString       EventKind = "s"
)

type (
	EventKind string

	Event struct {
		Kind      EventKind  `json:"kind"`
		Trace     TraceIndex `json:"trace,omitempty"`
		Size      uint64     `json:"size,omitempty"`
		TimeStamp uint64     `json:"timestamp,omitempty"`
		Value     string     `json:"value,omitempty"`
	}

	// Snapshot is the serialized form of a recorded heap trace, as produced
	// by the ingestion layer.
	Snapshot struct {
		Debuggee            string               `json:"debuggee"`
		Strings             []string             `json:"strings"`
		InstructionPointers []InstructionPointer `json:"instruction_pointers"`
		Traces              []Trace              `json:"traces"`
		StopFunctions       []string             `json:"stop_functions,omitempty"`
		Events              []Event              `json:"events"`
	}
)

// DefaultStopFunctions are the frames at which call stacks are cut when a
// snapshot doesn't list its own.
var DefaultStopFunctions = []string{
	"main",
	"__libc_start_main",
	"__static_initialization_and_destruction_0",
	"start_thread",
	"__clone",
}

func dataIntegrityError(format string, args ...interface{}) error {
	return fmt.Errorf("tracestore: %w: %s", errorutil.ErrDataIntegrity, fmt.Sprintf(format, args...))
}

// Validate checks that every reference in the snapshot points into its
// tables and that timestamps never go backwards.
func (s *Snapshot) Validate() error {
	numStrings := len(s.Strings)
	for _, e := range s.Events {
		if e.Kind == EventString {
			numStrings++
		}
	}
	checkString := func(i StringIndex) bool {
		return int(i) <= numStrings
	}
	for i, ip := range s.InstructionPointers {
		if !checkString(ip.Module) || !checkString(ip.Function) || !checkString(ip.File) {
			return dataIntegrityError("instruction pointer %d references an unknown string", i+1)
		}
	}
	for i, t := range s.Traces {
		if t.IP == 0 || int(t.IP) > len(s.InstructionPointers) {
			return dataIntegrityError("trace %d references unknown instruction pointer %d", i+1, t.IP)
		}
		if int(t.Parent) > len(s.Traces) {
			return dataIntegrityError("trace %d references unknown parent %d", i+1, t.Parent)
		}
	}
	var lastTimeStamp uint64
	for i, e := range s.Events {
		switch e.Kind {
		case EventAllocation, EventDeallocation:
			if e.Trace == 0 || int(e.Trace) > len(s.Traces) {
				return dataIntegrityError("event %d references unknown trace %d", i, e.Trace)
			}
		case EventTimeStamp:
			if e.TimeStamp <= lastTimeStamp {
				return dataIntegrityError("event %d has timestamp %d, not after %d", i, e.TimeStamp, lastTimeStamp)
			}
			lastTimeStamp = e.TimeStamp
		case EventString:
		default:
			return dataIntegrityError("event %d has unknown kind %q", i, e.Kind)
		}
	}
	return nil
}

// Store holds the read-only trace tables of a snapshot together with the
// allocation records accumulated while replaying its events. The string
// table only ever grows.
type Store struct {
	Debuggee string

	strings       []string
	ips           []InstructionPointer
	traces        []Trace
	stopFunctions map[string]struct{}
	stopIndices   map[StringIndex]struct{}

	allocations []Allocation
	totals      Totals
	events      []Event
}

func NewStore(s *Snapshot) *Store {
	stopFunctions := s.StopFunctions
	if len(stopFunctions) == 0 {
		stopFunctions = DefaultStopFunctions
	}
	st := &Store{
		Debuggee:      s.Debuggee,
		strings:       make([]string, 0, len(s.Strings)),
		ips:           s.InstructionPointers,
		traces:        s.Traces,
		stopFunctions: make(map[string]struct{}, len(stopFunctions)),
		stopIndices:   make(map[StringIndex]struct{}),
		events:        s.Events,
	}
	for _, f := range stopFunctions {
		st.stopFunctions[f] = struct{}{}
	}
	for _, str := range s.Strings {
		st.appendString(str)
	}
	return st
}

func (s *Store) appendString(str string) {
	s.strings = append(s.strings, str)
	if _, ok := s.stopFunctions[str]; ok {
		s.stopIndices[StringIndex(len(s.strings))] = struct{}{}
	}
}

// Strings returns the string table known so far.
func (s *Store) Strings() []string {
	return s.strings
}

func (s *Store) Trace(i TraceIndex) (Trace, bool) {
	if i == 0 || int(i) > len(s.traces) {
		return Trace{}, false
	}
	return s.traces[i-1], true
}

func (s *Store) InstructionPointer(i IPIndex) (InstructionPointer, bool) {
	if i == 0 || int(i) > len(s.ips) {
		return InstructionPointer{}, false
	}
	return s.ips[i-1], true
}

// IsStopIndex reports whether the function name at i is a frame where
// call stacks should be cut.
func (s *Store) IsStopIndex(i StringIndex) bool {
	_, ok := s.stopIndices[i]
	return ok
}

// Allocations returns the allocation records sorted by trace index.
func (s *Store) Allocations() []Allocation {
	return s.allocations
}

func (s *Store) Totals() Totals {
	return s.totals
}

// findAllocation returns the allocation record for trace t, inserting an
// empty one if needed.
func (s *Store) findAllocation(t TraceIndex) *Allocation {
	i := sort.Search(len(s.allocations), func(i int) bool {
		return s.allocations[i].Trace >= t
	})
	if i == len(s.allocations) || s.allocations[i].Trace != t {
		s.allocations = append(s.allocations, Allocation{})
		copy(s.allocations[i+1:], s.allocations[i:])
		s.allocations[i] = Allocation{Trace: t}
	}
	return &s.allocations[i]
}
