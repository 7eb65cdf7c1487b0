package detector

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem"
)

// Options configures a Detector.
type Options struct {
	// Shadow configures the shadow memory. Its Observer is replaced by
	// the Detector.
	Shadow shadowmem.Config

	// Output receives formatted reports. Nil selects os.Stderr.
	Output io.Writer

	// MallocFill and FreeFill, when in 0..255, are passed to Fill for
	// every allocated or freed block. -1 disables filling.
	MallocFill int
	FreeFill   int

	// Fill writes b over the n target bytes at a. The shadow state is not
	// affected by filling.
	Fill func(a, n uintptr, b byte)

	// SanityLevel and SanityInterval configure periodic checks run by
	// Tick.
	SanityLevel    SanityLevel
	SanityInterval uint64
}

// Counts holds the number of distinct errors per kind and the number of
// reports dropped as duplicates.
type Counts struct {
	Address    int
	Value      int
	Cond       int
	User       int
	Duplicates int
}

// Total returns the number of distinct errors.
func (c Counts) Total() int {
	return c.Address + c.Value + c.Cond + c.User
}

// Detector is the error subsystem of a shadow memory.
//
// It implements shadowmem.Observer: every report is deduplicated by
// location, counted and printed. It also carries the allocator hooks and
// the periodic sanity scheduler.
//
// Thread Safety: Observer methods and Counts are safe for concurrent
// calls. The heap hooks and Tick drive the shadow memory, which is
// single-threaded; callers serialise them.
type Detector struct {
	sm    *shadowmem.ShadowMemory
	out   io.Writer
	log   *slog.Logger
	sched *SanityScheduler

	mallocFill int
	freeFill   int
	fill       func(a, n uintptr, b byte)

	// reported holds the deduplication keys of printed reports.
	reported sync.Map

	// mu protects counts and serialises output.
	mu     sync.Mutex
	counts [numKinds]int
	dups   int
}

// New creates a Detector together with the shadow memory it observes.
//
// Example:
//
//	d, err := detector.New(detector.Options{MallocFill: -1, FreeFill: -1})
//	if err != nil {
//	    return err
//	}
//	d.Malloc(0x10000, 64, false)
func New(opts Options) (*Detector, error) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Shadow.Logger == nil {
		opts.Shadow.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.MallocFill > 0xFF || opts.FreeFill > 0xFF {
		return nil, fmt.Errorf("%w: fill value out of range 0x00-0xff", shadowmem.ErrInvalidConfig)
	}

	d := &Detector{
		out:        opts.Output,
		log:        opts.Shadow.Logger,
		sched:      NewSanityScheduler(opts.SanityLevel, opts.SanityInterval),
		mallocFill: opts.MallocFill,
		freeFill:   opts.FreeFill,
		fill:       opts.Fill,
	}
	opts.Shadow.Observer = d

	sm, err := shadowmem.NewShadowMemory(opts.Shadow)
	if err != nil {
		return nil, fmt.Errorf("create shadow memory: %w", err)
	}
	d.sm = sm
	return d, nil
}

// Shadow returns the observed shadow memory.
func (d *Detector) Shadow() *shadowmem.ShadowMemory {
	return d.sm
}

// Scheduler returns the sanity scheduler.
func (d *Detector) Scheduler() *SanityScheduler {
	return d.sched
}

// AddressError implements shadowmem.Observer.
func (d *Detector) AddressError(a, size uintptr, isWrite bool) {
	r := newReport(KindAddress, a, size, captureStack(d.sm.Depot(), 1))
	r.IsWrite = isWrite
	d.emit(r)
}

// ValueError implements shadowmem.Observer.
func (d *Detector) ValueError(size uintptr, origin otag.Otag) {
	r := newReport(KindValue, 0, size, captureStack(d.sm.Depot(), 1))
	r.Origin = origin
	d.emit(r)
}

// CondError implements shadowmem.Observer.
func (d *Detector) CondError(origin otag.Otag) {
	r := newReport(KindCond, 0, 0, captureStack(d.sm.Depot(), 1))
	r.Origin = origin
	d.emit(r)
}

// UserError implements shadowmem.Observer.
func (d *Detector) UserError(a uintptr, isAddrErr bool, origin otag.Otag) {
	r := newReport(KindUser, a, 0, captureStack(d.sm.Depot(), 1))
	r.IsAddrErr = isAddrErr
	r.Origin = origin
	d.emit(r)
}

// emit prints r unless an error with the same key was already printed.
func (d *Detector) emit(r *Report) {
	_, dup := d.reported.LoadOrStore(r.DeduplicationKey, struct{}{})

	d.mu.Lock()
	defer d.mu.Unlock()

	if dup {
		d.dups++
		return
	}
	d.counts[r.Kind]++
	r.Format(d.out, d.sm.Depot())
}

// Counts returns the error counts so far.
func (d *Detector) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Counts{
		Address:    d.counts[KindAddress],
		Value:      d.counts[KindValue],
		Cond:       d.counts[KindCond],
		User:       d.counts[KindUser],
		Duplicates: d.dups,
	}
}

// Summary writes the closing error summary.
//
//nolint:errcheck // Output formatting.
func (d *Detector) Summary(w io.Writer) {
	c := d.Counts()
	fmt.Fprintf(w, "ERROR SUMMARY: %d errors from %d contexts (suppressed duplicates: %d)\n",
		c.Total()+c.Duplicates, c.Total(), c.Duplicates)
}

// Tick records one event and runs the sanity checks that are due.
func (d *Detector) Tick() error {
	level := d.sched.Due()
	var err error
	switch level {
	case SanityCheap:
		err = d.sm.CheapSanityCheck()
	case SanityExpensive:
		if err = d.sm.CheapSanityCheck(); err == nil {
			err = d.sm.ExpensiveSanityCheck()
		}
	}
	if err != nil {
		d.log.Error("sanity check failed", "level", int(level), "err", err)
	}
	return err
}

var _ shadowmem.Observer = (*Detector)(nil)

// Context interns the calling context, skipping skip frames above the
// caller. Engine frames are dropped as in reports.
func (d *Detector) Context(skip int) otag.ECU {
	return captureStack(d.sm.Depot(), skip+1)
}
