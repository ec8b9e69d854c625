package tracestore

type (
	// Handler receives callbacks while a store replays its events.
	Handler interface {
		// HandleAllocation is called after every allocation with the number
		// of bytes live at that point.
		HandleAllocation(leaked uint64)
		// HandleTimestamp is called on every timestamp boundary, in
		// increasing timestamp order, and once more at the end of the trace
		// with Final set.
		HandleTimestamp(ev TimestampEvent)
		// HandleStrings is called whenever the string table grew.
		HandleStrings(strings []string)
	}

	Totals struct {
		TotalAllocated   uint64 `json:"total_allocated"`
		TotalAllocations uint64 `json:"total_allocations"`
		Peak             uint64 `json:"peak"`
		Leaked           uint64 `json:"leaked"`
		TotalTime        uint64 `json:"total_time"`
	}
)

// Replay accumulates the snapshot events into allocation records and
// running totals. Events referencing unknown traces and timestamps that
// don't move forward are skipped. Replay must only be called once.
func (s *Store) Replay(h Handler) {
	h.HandleStrings(s.strings)

	var timeStamp uint64
	for _, e := range s.events {
		switch e.Kind {
		case EventString:
			s.appendString(e.Value)
			h.HandleStrings(s.strings)
		case EventAllocation:
			if _, ok := s.Trace(e.Trace); !ok {
				continue
			}
			a := s.findAllocation(e.Trace)
			a.Leaked += e.Size
			a.Allocated += e.Size
			a.Allocations++
			if a.Leaked > a.Peak {
				a.Peak = a.Leaked
			}
			s.totals.TotalAllocated += e.Size
			s.totals.TotalAllocations++
			s.totals.Leaked += e.Size
			if s.totals.Leaked > s.totals.Peak {
				s.totals.Peak = s.totals.Leaked
			}
			h.HandleAllocation(s.totals.Leaked)
		case EventDeallocation:
			if _, ok := s.Trace(e.Trace); !ok {
				continue
			}
			a := s.findAllocation(e.Trace)
			a.Leaked = subFloor(a.Leaked, e.Size)
			s.totals.Leaked = subFloor(s.totals.Leaked, e.Size)
		case EventTimeStamp:
			if e.TimeStamp <= timeStamp {
				continue
			}
			h.HandleTimestamp(s.timestampEvent(timeStamp, e.TimeStamp, false))
			timeStamp = e.TimeStamp
		}
	}

	s.totals.TotalTime = timeStamp + 1
	h.HandleTimestamp(s.timestampEvent(timeStamp, s.totals.TotalTime, true))
}

func (s *Store) timestampEvent(oldStamp, newStamp uint64, final bool) TimestampEvent {
	return TimestampEvent{
		OldTimeStamp:     oldStamp,
		TimeStamp:        newStamp,
		Leaked:           s.totals.Leaked,
		TotalAllocated:   s.totals.TotalAllocated,
		TotalAllocations: s.totals.TotalAllocations,
		Final:            final,
		Allocations:      s.allocations,
	}
}
