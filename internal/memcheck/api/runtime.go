// Package api is the process-wide memcheck runtime.
//
// Instrumented code calls the functions in this package around every
// memory access, allocation and stack adjustment. They all drive one
// shadow memory owned by a detector.
//
// The engine is single-threaded. Every entry point here takes one global
// lock, so instrumented programs may call in from any goroutine.
//
// Until Init succeeds, and after Fini, every entry point is a no-op that
// reports memory as addressable and defined.
package api

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kolkov/memcheck/internal/memcheck/config"
	"github.com/kolkov/memcheck/internal/memcheck/detector"
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem"
)

var (
	// enabled gates every entry point with a single atomic load.
	enabled atomic.Bool

	// mu serialises all access to det.
	mu sync.Mutex

	// det is the global detector. Replaced by every Init.
	det *detector.Detector

	// out receives reports and the final summary.
	out io.Writer = os.Stderr

	// logger receives diagnostics.
	logger = slog.New(slog.DiscardHandler)

	// fill writes the --malloc-fill and --free-fill bytes. It survives Init.
	fill func(a, n uintptr, b byte)
)

// Init starts the runtime with options read from MEMCHECK_OPTIONS and
// args. Reports go to stderr.
//
// Calling Init again discards all shadow state and starts over.
func Init(args []string) error {
	opts, err := config.Load(args)
	if err != nil {
		return err
	}
	return InitWith(opts, os.Stderr)
}

// InitWith starts the runtime with explicit options, writing reports and
// logs to w.
func InitWith(opts *config.Options, w io.Writer) error {
	enabled.Store(false)

	mu.Lock()
	defer mu.Unlock()

	l := opts.Logger(w)
	dopts := opts.DetectorOptions(l, w)
	dopts.Fill = fill
	d, err := detector.New(dopts)
	if err != nil {
		return fmt.Errorf("memcheck init: %w", err)
	}
	det, out, logger = d, w, l
	logger.Debug("memcheck started", "level", d.Shadow().Level().String())

	enabled.Store(true)
	return nil
}

// SetFill installs the callback that writes the --malloc-fill and
// --free-fill bytes into target memory. Without one both options do
// nothing, since the runtime never touches target memory itself. It may
// be called before or after Init; nil removes the callback.
func SetFill(f func(a, n uintptr, b byte)) {
	mu.Lock()
	defer mu.Unlock()

	fill = f
	if det != nil {
		det.SetFill(f)
	}
}

// Fini stops the runtime, prints the error summary and logs engine
// statistics. Later calls do nothing.
func Fini() {
	if !enabled.Swap(false) {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	det.Summary(out)
	logger.Info("memcheck stats", "stats", det.Shadow().Stats())
}

// Enable resumes checking after Disable. It has no effect before Init.
func Enable() {
	mu.Lock()
	defer mu.Unlock()
	if det != nil {
		enabled.Store(true)
	}
}

// Disable turns every entry point into a no-op until Enable.
func Disable() {
	enabled.Store(false)
}

// Enabled reports whether checking is active.
func Enabled() bool {
	return enabled.Load()
}

// ErrorCount returns the number of distinct errors reported so far.
func ErrorCount() int {
	mu.Lock()
	defer mu.Unlock()
	if det == nil {
		return 0
	}
	return det.Counts().Total()
}

// Counts returns the per-kind error counts.
func Counts() detector.Counts {
	mu.Lock()
	defer mu.Unlock()
	if det == nil {
		return detector.Counts{}
	}
	return det.Counts()
}

// Stats returns a snapshot of engine statistics.
func Stats() shadowmem.Stats {
	mu.Lock()
	defer mu.Unlock()
	if det == nil {
		return shadowmem.Stats{}
	}
	return det.Shadow().Stats()
}

// enter locks the runtime and returns the detector, or nil when checking
// is off. A non-nil result must be paired with leave.
func enter() *detector.Detector {
	if !enabled.Load() {
		return nil
	}
	mu.Lock()
	if det == nil {
		mu.Unlock()
		return nil
	}
	return det
}

// leave runs due sanity checks and unlocks. A failed check is an internal
// error and panics.
func leave(d *detector.Detector) {
	err := d.Tick()
	mu.Unlock()
	if err != nil {
		panic(fmt.Errorf("%w: %w", shadowmem.ErrInternal, err))
	}
}

// contextECU captures the caller's context when origins are tracked.
func contextECU(d *detector.Detector) otag.ECU {
	if d.Shadow().Level() != shadowmem.LevelOrigins {
		return 0
	}
	return d.Context(2)
}
