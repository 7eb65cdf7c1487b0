// replay.go implements the 'memcheck replay' command.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/memcheck/cmd/memcheck/trace"
	"github.com/kolkov/memcheck/internal/memcheck/config"
	"github.com/kolkov/memcheck/internal/memcheck/detector"
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem"
)

// replayConfig holds the parsed arguments of a replay.
type replayConfig struct {
	opts  *config.Options
	jobs  int
	files []string
}

// result is the outcome of replaying one trace.
type result struct {
	name   string
	events int
	counts detector.Counts
	stats  shadowmem.Stats
	report bytes.Buffer // Error reports, logs and the error summary.
}

// replayCommand implements the 'memcheck replay' command.
//
// Every trace is parsed and replayed against its own detector, up to
// --jobs at a time. Output is printed per trace, in argument order, once
// all traces are done.
//
// Example:
//
//	memcheck replay --track-origins=yes a.trace b.trace
func replayCommand(args []string) {
	cfg, err := parseReplayArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	results, err := replayAll(context.Background(), cfg)
	errorsFound := printResults(os.Stderr, results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if errorsFound {
		os.Exit(1)
	}
}

// parseReplayArgs separates trace files from options. Options other than
// --jobs are memcheck options and are parsed after MEMCHECK_OPTIONS.
func parseReplayArgs(args []string) (*replayConfig, error) {
	cfg := &replayConfig{jobs: runtime.GOMAXPROCS(0)}

	var optArgs []string
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--jobs="):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--jobs="))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("--jobs wants a positive integer, got %q", arg)
			}
			cfg.jobs = n
		case strings.HasPrefix(arg, "-"):
			optArgs = append(optArgs, arg)
		default:
			cfg.files = append(cfg.files, arg)
		}
	}
	if len(cfg.files) == 0 {
		return nil, errors.New("no trace files specified")
	}

	opts, err := config.Load(optArgs)
	if err != nil {
		return nil, err
	}
	cfg.opts = opts
	return cfg, nil
}

// replayAll replays every trace in cfg. The first failure cancels the
// traces not yet finished; results of the others are still returned.
func replayAll(ctx context.Context, cfg *replayConfig) ([]*result, error) {
	results := make([]*result, len(cfg.files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.jobs)
	for i, path := range cfg.files {
		g.Go(func() error {
			tr, err := trace.ParseFile(path)
			if err != nil {
				return err
			}
			r, err := replayTrace(ctx, tr, cfg.opts)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// replayTrace runs tr through a fresh detector. Engine panics become
// errors naming the trace.
func replayTrace(ctx context.Context, tr *trace.Trace, opts *config.Options) (res *result, err error) {
	r := &result{name: tr.Name, events: len(tr.Events)}

	l := opts.Logger(&r.report)
	dopts := opts.DetectorOptions(l, &r.report)
	dopts.Fill = func(a, n uintptr, b byte) {
		l.Debug("fill", "addr", fmt.Sprintf("%#x", a), "size", n, "byte", fmt.Sprintf("%#02x", b))
	}
	d, err := detector.New(dopts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tr.Name, err)
	}

	line := 0
	defer func() {
		if p := recover(); p != nil {
			res = nil
			if e, ok := p.(error); ok {
				err = fmt.Errorf("%s:%d: engine failure: %w", tr.Name, line, e)
			} else {
				err = fmt.Errorf("%s:%d: engine failure: %v", tr.Name, line, p)
			}
		}
	}()

	for i, ev := range tr.Events {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line = ev.Line
		apply(d, ev)
		if err := d.Tick(); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", tr.Name, ev.Line, err)
		}
	}

	d.Summary(&r.report)
	r.counts = d.Counts()
	r.stats = d.Shadow().Stats()
	return r, nil
}

// apply performs one trace event.
func apply(d *detector.Detector, ev trace.Event) {
	sm := d.Shadow()
	switch ev.Op {
	case trace.OpMalloc:
		d.Malloc(ev.Addr, ev.Size, ev.Zeroed)
	case trace.OpFree:
		d.Free(ev.Addr, ev.Size)
	case trace.OpStore:
		// The source origin is read before the store, which may overwrite it.
		o := otag.None
		if ev.HasFrom {
			o = sm.Origin(ev.From, ev.Size)
		}
		sm.StoreVN(ev.Addr, int(ev.Size*8), ev.VBits, ev.BigEndian)
		if ev.VBits != 0 {
			sm.StoreOrigin(ev.Addr, ev.Size, o)
		}
	case trace.OpLoad:
		sm.LoadVN(ev.Addr, int(ev.Size*8), ev.BigEndian)
	case trace.OpCheck:
		v := sm.LoadVN(ev.Addr, int(ev.Size*8), false)
		if ev.Size < 8 {
			v &= 1<<(ev.Size*8) - 1
		}
		if v != 0 {
			sm.ValueCheckFail(ev.Size, sm.Origin(ev.Addr, ev.Size))
		}
	case trace.OpNoAccess:
		sm.MakeNoAccess(ev.Addr, ev.Size)
	case trace.OpUndefined:
		if sm.Level() == shadowmem.LevelOrigins {
			sm.MakeUndefinedWithECU(ev.Addr, ev.Size, d.Context(0), otag.KindUser)
			break
		}
		sm.MakeUndefined(ev.Addr, ev.Size)
	case trace.OpDefined:
		sm.MakeDefined(ev.Addr, ev.Size)
	case trace.OpStackPush:
		var ecu otag.ECU
		if sm.Level() == shadowmem.LevelOrigins {
			ecu = d.Context(0)
		}
		sm.NewStackN(ev.Addr, ev.Size, ecu)
	case trace.OpStackPop:
		sm.DieStackN(ev.Addr, ev.Size)
	}
}

// printResults writes each trace's report and a one-line summary. It
// reports whether any trace found memory errors.
//
//nolint:errcheck // Output formatting.
func printResults(w io.Writer, results []*result) bool {
	found := false
	for _, r := range results {
		if r == nil {
			continue
		}
		fmt.Fprintf(w, "==> %s\n", r.name)
		w.Write(r.report.Bytes())
		c := r.counts
		fmt.Fprintf(w, "%s: %d events, %d errors (address %d, value %d, cond %d, user %d), %d secondary maps issued\n",
			r.name, r.events, c.Total(), c.Address, c.Value, c.Cond, c.User, r.stats.SecMaps.Issued)
		if c.Total() > 0 {
			found = true
		}
	}
	return found
}
