package location

import (
	"path"
	"strconv"

	"github.com/getsentry/heapview/internal/tracestore"
)

// Location is the resolved symbolic identity of a call stack frame.
type Location struct {
	Function string `json:"function"`
	File     string `json:"file,omitempty"`
	Module   string `json:"module,omitempty"`
	Line     uint32 `json:"line,omitempty"`
}

// Compare orders locations by function, file, module and line.
func (l Location) Compare(o Location) int {
	if c := compareStrings(l.Function, o.Function); c != 0 {
		return c
	}
	if c := compareStrings(l.File, o.File); c != 0 {
		return c
	}
	if c := compareStrings(l.Module, o.Module); c != 0 {
		return c
	}
	switch {
	case l.Line < o.Line:
		return -1
	case l.Line > o.Line:
		return 1
	}
	return 0
}

func (l Location) Less(o Location) bool {
	return l.Compare(o) < 0
}

// ModuleBaseName returns the basename of the module, if module is a path.
func (l Location) ModuleBaseName() string {
	if l.Module == "" {
		return ""
	}
	return path.Base(l.Module)
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Resolver turns instruction pointers into locations. It mirrors an
// append-only string table: Update only copies the entries it hasn't seen
// yet, so locations resolved earlier are never invalidated.
type Resolver struct {
	strings     []string
	ipAddresses map[uint64]string
}

func NewResolver() *Resolver {
	return &Resolver{
		ipAddresses: make(map[uint64]string, 16384),
	}
}

// Update extends the cached string table with the entries of strings past
// the ones already known.
func (r *Resolver) Update(strings []string) {
	if len(strings) <= len(r.strings) {
		return
	}
	r.strings = append(r.strings, strings[len(r.strings):]...)
}

// Stringify returns the string at index i, or an empty string when i is
// zero or not known yet.
func (r *Resolver) Stringify(i tracestore.StringIndex) string {
	if i == 0 || int(i) > len(r.strings) {
		return ""
	}
	return r.strings[i-1]
}

// Function returns the function name of ip, or its address in hexadecimal
// form when the function is unknown.
func (r *Resolver) Function(ip tracestore.InstructionPointer) string {
	if ip.Function != 0 {
		return r.Stringify(ip.Function)
	}
	if s, ok := r.ipAddresses[ip.Address]; ok {
		return s
	}
	s := "0x" + strconv.FormatUint(ip.Address, 16)
	r.ipAddresses[ip.Address] = s
	return s
}

func (r *Resolver) File(ip tracestore.InstructionPointer) string {
	return r.Stringify(ip.File)
}

func (r *Resolver) Module(ip tracestore.InstructionPointer) string {
	return r.Stringify(ip.Module)
}

func (r *Resolver) Location(ip tracestore.InstructionPointer) Location {
	return Location{
		Function: r.Function(ip),
		File:     r.File(ip),
		Module:   r.Module(ip),
		Line:     ip.Line,
	}
}
