package tracestore

type (
	// StringIndex, IPIndex and TraceIndex are 1-based references into the
	// string, instruction pointer and trace tables. The zero value never
	// refers to an entry.
	StringIndex uint64
	IPIndex     uint64
	TraceIndex  uint64

	InstructionPointer struct {
		Address  uint64      `json:"address"`
		Module   StringIndex `json:"module,omitempty"`
		Function StringIndex `json:"function,omitempty"`
		File     StringIndex `json:"file,omitempty"`
		Line     uint32      `json:"line,omitempty"`
	}

	// Trace is one frame of a caller chain. A zero Parent means the frame
	// has no caller.
	Trace struct {
		IP     IPIndex    `json:"ip"`
		Parent TraceIndex `json:"parent,omitempty"`
	}

	Cost struct {
		Allocations uint64 `json:"allocations"`
		Peak        uint64 `json:"peak"`
		Leaked      uint64 `json:"leaked"`
		Allocated   uint64 `json:"allocated"`
	}

	// Allocation aggregates every allocation recorded with the same leaf
	// trace.
	Allocation struct {
		Trace TraceIndex `json:"trace"`
		Cost
	}

	// TimestampEvent marks a timestamp boundary in the recorded trace.
	TimestampEvent struct {
		OldTimeStamp     uint64
		TimeStamp        uint64
		Leaked           uint64
		TotalAllocated   uint64
		TotalAllocations uint64
		// Final is set on the boundary at the total trace duration.
		Final bool
		// Allocations is the allocation table as of this boundary. It must
		// not be retained or modified by handlers.
		Allocations []Allocation
	}
)

// Add adds o to c, field by field.
func (c *Cost) Add(o Cost) {
	c.Allocations += o.Allocations
	c.Peak += o.Peak
	c.Leaked += o.Leaked
	c.Allocated += o.Allocated
}

// Sub returns c - o, field by field. Fields of o larger than the ones in c
// yield zero.
func (c Cost) Sub(o Cost) Cost {
	return Cost{
		Allocations: subFloor(c.Allocations, o.Allocations),
		Peak:        subFloor(c.Peak, o.Peak),
		Leaked:      subFloor(c.Leaked, o.Leaked),
		Allocated:   subFloor(c.Allocated, o.Allocated),
	}
}

func (c Cost) IsZero() bool {
	return c == Cost{}
}

func subFloor(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
