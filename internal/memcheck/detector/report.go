package detector

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/stackdepot"
)

// ErrorKind classifies a report.
type ErrorKind int

const (
	// KindAddress is a load or store touching unaddressable memory.
	KindAddress ErrorKind = iota
	// KindValue is the use of a value with undefined bits.
	KindValue
	// KindCond is a conditional jump on undefined bits.
	KindCond
	// KindUser is a failed client check request.
	KindUser

	numKinds
)

// String returns the short name of the kind, as used in deduplication keys.
func (k ErrorKind) String() string {
	switch k {
	case KindAddress:
		return "addr"
	case KindValue:
		return "value"
	case KindCond:
		return "cond"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// maxStackDepth bounds the raw capture before internal frames are dropped.
const maxStackDepth = 32

// Report describes one error found in the target.
type Report struct {
	Kind ErrorKind

	// Addr is the faulting address. Zero for value and condition errors.
	Addr uintptr

	// Size is the access size in bytes. Zero for condition and user errors.
	Size uintptr

	// IsWrite is set for address errors raised by stores.
	IsWrite bool

	// IsAddrErr distinguishes unaddressable from undefined bytes in user
	// errors.
	IsAddrErr bool

	// Origin is the origin of the undefined value, or otag.None.
	Origin otag.Otag

	// Where is the context that detected the error.
	Where otag.ECU

	// DeduplicationKey identifies the error location: kind, address, size
	// and detecting context.
	DeduplicationKey string
}

func newReport(kind ErrorKind, addr, size uintptr, where otag.ECU) *Report {
	r := &Report{Kind: kind, Addr: addr, Size: size, Where: where}
	r.DeduplicationKey = fmt.Sprintf("%s:0x%x:%d:%d", kind, addr, size, uint32(where))
	return r
}

// headline returns the first line of the report.
func (r *Report) headline() string {
	switch r.Kind {
	case KindAddress:
		if r.IsWrite {
			return fmt.Sprintf("Invalid write of size %d", r.Size)
		}
		return fmt.Sprintf("Invalid read of size %d", r.Size)
	case KindValue:
		return fmt.Sprintf("Use of uninitialised value of size %d", r.Size)
	case KindCond:
		return "Conditional jump or move depends on uninitialised value(s)"
	case KindUser:
		if r.IsAddrErr {
			return "Unaddressable byte(s) found during client check request"
		}
		return "Uninitialised byte(s) found during client check request"
	default:
		return "Unknown error"
	}
}

// originLine describes how the value behind an origin was created.
func originLine(o otag.Otag) string {
	switch o.Kind() {
	case otag.KindHeap:
		return "Uninitialised value was created by a heap allocation"
	case otag.KindStack:
		return "Uninitialised value was created by a stack allocation"
	case otag.KindUser:
		return "Uninitialised value was created by a client request"
	default:
		return "Uninitialised value was created"
	}
}

// Format writes the report to w in a framed block:
//
//	==================
//	Invalid read of size 4
//	  main.parse()
//	      /src/main.go:42
//	 Address 0x0000000000040000 is not addressable
//	==================
//
// Stacks are resolved through depot. A nil depot prints no stacks.
//
//nolint:errcheck // Output formatting, the writer is stderr or a buffer.
func (r *Report) Format(w io.Writer, depot *stackdepot.Depot) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "%s\n", r.headline())
	fmt.Fprint(w, formatECU(depot, r.Where))

	switch {
	case r.Kind == KindAddress:
		fmt.Fprintf(w, " Address 0x%016x is not addressable\n", r.Addr)
	case r.Kind == KindUser:
		fmt.Fprintf(w, " Address 0x%016x\n", r.Addr)
	}

	if r.Origin != otag.None {
		fmt.Fprintf(w, " %s\n", originLine(r.Origin))
		fmt.Fprint(w, formatECU(depot, r.Origin.ECU()))
	}
	fmt.Fprintf(w, "==================\n")
}

// String returns the formatted report without stacks.
func (r *Report) String() string {
	var buf strings.Builder
	r.Format(&buf, nil)
	return buf.String()
}

func formatECU(depot *stackdepot.Depot, ecu otag.ECU) string {
	if depot == nil {
		return ""
	}
	return depot.Lookup(ecu).FormatStack()
}

// captureStack interns the caller's stack, dropping runtime frames and
// frames inside the engine so the depot's bounded traces show the target.
func captureStack(depot *stackdepot.Depot, skip int) otag.ECU {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	pcs = pcs[:n]

	kept := pcs[:0]
	for _, pc := range pcs {
		fn := runtime.FuncForPC(pc - 1)
		if fn != nil && isInternalFrame(fn.Name()) {
			continue
		}
		kept = append(kept, pc)
	}
	if len(kept) == 0 {
		kept = pcs
	}
	return depot.Intern(kept)
}

// internalPackages are the packages whose frames never appear in reports.
var internalPackages = []string{
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem.",
	"github.com/kolkov/memcheck/internal/memcheck/detector.",
	"github.com/kolkov/memcheck/internal/memcheck/api.",
	"github.com/kolkov/memcheck.",
}

func isInternalFrame(function string) bool {
	if strings.HasPrefix(function, "runtime.") {
		return true
	}
	for _, p := range internalPackages {
		name, ok := strings.CutPrefix(function, p)
		if !ok {
			continue
		}
		// Tests living inside these packages are target code.
		return !strings.HasPrefix(name, "Test") &&
			!strings.HasPrefix(name, "Benchmark") &&
			!strings.HasPrefix(name, "Example")
	}
	return false
}
