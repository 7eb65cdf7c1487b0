// Package stackdepot stores execution contexts and names them with ECUs.
//
// Origin tags cannot hold a stack trace, so every distinct stack is stored
// once in a depot and referred to by its execution-context unique (ECU): a
// small nonzero multiple of 4 that fits in the upper 30 bits of an origin
// tag. The depot deduplicates identical stacks, so the same allocation site
// always yields the same ECU.
//
// Design:
//   - Fixed-size stack traces (8 frames)
//   - FNV-1a hash buckets with full comparison on collision
//   - ECUs are minted densely: 4, 8, 12, ...
//
// Usage:
//
//	d := stackdepot.New()
//	ecu := d.Capture(0)
//	fmt.Print(d.Lookup(ecu).FormatStack())
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"

	"github.com/kolkov/memcheck/internal/memcheck/otag"
)

// MaxFrames is the maximum number of stack frames kept per context.
const MaxFrames = 8

// maxContexts is the number of ECUs that fit in an origin tag.
const maxContexts = 1<<30 - 1

// StackTrace is one stored execution context.
type StackTrace struct {
	PC [MaxFrames]uintptr // Program counters, innermost first, zero padded.
}

// Depot is a deduplicating store of execution contexts.
//
// Thread Safety: safe for concurrent use.
type Depot struct {
	mu      sync.Mutex
	buckets map[uint64][]otag.ECU
	stacks  []*StackTrace // stacks[ecu/4-1]
}

// New creates an empty depot.
func New() *Depot {
	return &Depot{buckets: make(map[uint64][]otag.ECU)}
}

// Capture records the calling goroutine's stack and returns its ECU.
// skip is the number of additional frames to omit above Capture's caller.
func (d *Depot) Capture(skip int) otag.ECU {
	var pcs [MaxFrames]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	return d.Intern(pcs[:n])
}

// Intern returns the ECU of the context made of pcs, minting one if the
// context is new. Frames beyond MaxFrames are dropped.
func (d *Depot) Intern(pcs []uintptr) otag.ECU {
	var st StackTrace
	copy(st.PC[:], pcs)
	h := hashStack(&st)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ecu := range d.buckets[h] {
		if d.stacks[ecu/4-1].PC == st.PC {
			return ecu
		}
	}
	if len(d.stacks) >= maxContexts {
		panic("stackdepot: execution context space exhausted")
	}
	d.stacks = append(d.stacks, &st)
	//nolint:gosec // G115: bounded by maxContexts.
	ecu := otag.ECU(len(d.stacks) * 4)
	d.buckets[h] = append(d.buckets[h], ecu)
	return ecu
}

// Lookup returns the context named by ecu, or nil if the depot never
// minted it.
func (d *Depot) Lookup(ecu otag.ECU) *StackTrace {
	if !ecu.Plausible() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	i := int(ecu/4) - 1
	if i >= len(d.stacks) {
		return nil
	}
	return d.stacks[i]
}

// Len returns the number of distinct contexts stored.
func (d *Depot) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stacks)
}

func hashStack(st *StackTrace) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range st.PC {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		_, _ = h.Write(buf[:]) // hash.Hash never fails.
	}
	return h.Sum64()
}

// FormatStack formats a context for error reports:
//
//	main.worker()
//	    /path/to/file.go:45
//
// Runtime frames are omitted. Program counters that do not belong to this
// binary, such as addresses taken from a replayed trace, are printed raw.
func (st *StackTrace) FormatStack() string {
	if st == nil {
		return "  <unknown>\n"
	}

	var buf strings.Builder
	for _, pc := range st.PC {
		if pc == 0 {
			break
		}
		if runtime.FuncForPC(pc) == nil {
			fmt.Fprintf(&buf, "  %#x\n", pc)
			continue
		}
		frames := runtime.CallersFrames([]uintptr{pc})
		for {
			frame, more := frames.Next()
			if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
				fmt.Fprintf(&buf, "  %s()\n", frame.Function)
				fmt.Fprintf(&buf, "      %s:%d\n", frame.File, frame.Line)
			}
			if !more {
				break
			}
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}
