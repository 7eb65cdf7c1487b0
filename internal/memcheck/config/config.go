// Package config parses memcheck options.
//
// Options are given as command-line style flags, either to Parse directly
// or through the MEMCHECK_OPTIONS environment variable:
//
//	MEMCHECK_OPTIONS="--track-origins=yes --ignore-ranges=0x1000-0x2000"
//
// Boolean options take yes or no. Later occurrences override earlier ones,
// and command-line arguments override the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/kolkov/memcheck/internal/memcheck/detector"
	"github.com/kolkov/memcheck/internal/memcheck/ocache"
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem"
)

// EnvVar is the environment variable read by Load.
const EnvVar = "MEMCHECK_OPTIONS"

// ErrBadOption is wrapped by every option error.
var ErrBadOption = errors.New("bad memcheck option")

// Options are the user-facing settings of a memcheck run.
type Options struct {
	UndefValueErrors bool
	TrackOrigins     bool
	PartialLoadsOK   bool
	IgnoreRanges     []shadowmem.Range

	// MallocFill and FreeFill are fill bytes, or -1 for none.
	MallocFill int
	FreeFill   int

	SanityLevel    detector.SanityLevel
	SanityInterval uint64

	// Verbosity selects the log level: 0 warnings, 1 info, 2 and up debug.
	Verbosity int

	OcacheSetBits int
}

// Default returns the options used when nothing is set.
func Default() Options {
	return Options{
		UndefValueErrors: true,
		MallocFill:       -1,
		FreeFill:         -1,
		SanityInterval:   detector.DefaultSanityInterval,
		Verbosity:        1,
		OcacheSetBits:    ocache.DefaultSetBits,
	}
}

// Load parses the options in MEMCHECK_OPTIONS followed by args.
func Load(args []string) (*Options, error) {
	all := strings.Fields(os.Getenv(EnvVar))
	all = append(all, args...)
	return Parse(all)
}

// Parse parses args on top of Default. Arguments that are not options are
// rejected.
func Parse(args []string) (*Options, error) {
	o := Default()

	fs := flag.NewFlagSet("memcheck", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var((*yesNo)(&o.UndefValueErrors), "undef-value-errors", "check for undefined value errors")
	fs.Var((*yesNo)(&o.TrackOrigins), "track-origins", "show origins of undefined values")
	fs.Var((*yesNo)(&o.PartialLoadsOK), "partial-loads-ok", "allow word loads that partly touch unaddressable memory")
	fs.Var((*rangeList)(&o.IgnoreRanges), "ignore-ranges", "assume the given address ranges are OK")
	fs.Var((*fillByte)(&o.MallocFill), "malloc-fill", "fill allocated blocks with the given byte")
	fs.Var((*fillByte)(&o.FreeFill), "free-fill", "fill freed blocks with the given byte")
	sanity := fs.Int("sanity-level", 0, "periodic sanity checks: 0 off, 1 cheap, 2 expensive")
	fs.Uint64Var(&o.SanityInterval, "sanity-interval", o.SanityInterval, "events between sanity checks")
	fs.IntVar(&o.Verbosity, "verbosity", o.Verbosity, "log verbosity")
	fs.IntVar(&o.OcacheSetBits, "ocache-set-bits", o.OcacheSetBits, "log2 of the number of origin cache sets")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadOption, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected argument %q", ErrBadOption, fs.Arg(0))
	}

	if *sanity < int(detector.SanityOff) || *sanity > int(detector.SanityExpensive) {
		return nil, fmt.Errorf("%w: --sanity-level=%d out of range 0-2", ErrBadOption, *sanity)
	}
	o.SanityLevel = detector.SanityLevel(*sanity)

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

// Validate checks combinations the individual flags cannot.
func (o *Options) Validate() error {
	if o.TrackOrigins && !o.UndefValueErrors {
		return fmt.Errorf("%w: --track-origins=yes has no effect when --undef-value-errors=no", ErrBadOption)
	}
	if o.OcacheSetBits < 1 || o.OcacheSetBits > ocache.MaxSetBits {
		return fmt.Errorf("%w: --ocache-set-bits=%d out of range 1-%d", ErrBadOption, o.OcacheSetBits, ocache.MaxSetBits)
	}
	if len(o.IgnoreRanges) > shadowmem.MaxIgnoreRanges {
		return fmt.Errorf("%w: --ignore-ranges: at most %d ranges", ErrBadOption, shadowmem.MaxIgnoreRanges)
	}
	for _, r := range o.IgnoreRanges {
		if r.End <= r.Start {
			return fmt.Errorf("%w: --ignore-ranges: end <= start in range %s", ErrBadOption, r)
		}
		if r.End-r.Start > shadowmem.MaxIgnoreRangeSize {
			return fmt.Errorf("%w: --ignore-ranges: suspiciously large range %s (size %d)",
				ErrBadOption, r, r.End-r.Start)
		}
	}
	return nil
}

// Level returns the operating level the options select.
func (o *Options) Level() shadowmem.Level {
	switch {
	case !o.UndefValueErrors:
		return shadowmem.LevelAddrOnly
	case o.TrackOrigins:
		return shadowmem.LevelOrigins
	default:
		return shadowmem.LevelUndef
	}
}

// Logger returns a text logger writing to w at the level Verbosity selects.
func (o *Options) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case o.Verbosity >= 2:
		level = slog.LevelDebug
	case o.Verbosity == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ShadowConfig returns the shadow memory configuration.
func (o *Options) ShadowConfig(logger *slog.Logger) shadowmem.Config {
	return shadowmem.Config{
		Level:          o.Level(),
		PartialLoadsOK: o.PartialLoadsOK,
		OcacheSetBits:  o.OcacheSetBits,
		IgnoreRanges:   append([]shadowmem.Range(nil), o.IgnoreRanges...),
		Logger:         logger,
	}
}

// DetectorOptions returns the detector configuration, writing reports to
// out.
func (o *Options) DetectorOptions(logger *slog.Logger, out io.Writer) detector.Options {
	return detector.Options{
		Shadow:         o.ShadowConfig(logger),
		Output:         out,
		MallocFill:     o.MallocFill,
		FreeFill:       o.FreeFill,
		SanityLevel:    o.SanityLevel,
		SanityInterval: o.SanityInterval,
	}
}

// yesNo is a boolean flag spelled yes or no.
type yesNo bool

func (b *yesNo) String() string {
	if b != nil && *b {
		return "yes"
	}
	return "no"
}

func (b *yesNo) Set(s string) error {
	switch s {
	case "yes":
		*b = true
	case "no":
		*b = false
	default:
		return fmt.Errorf("want yes or no, got %q", s)
	}
	return nil
}

// fillByte is a hex byte, or -1 when unset.
type fillByte int

func (f *fillByte) String() string {
	if f == nil || *f < 0 {
		return ""
	}
	return fmt.Sprintf("0x%02x", int(*f))
}

func (f *fillByte) Set(s string) error {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return fmt.Errorf("want a hex byte 0x00-0xff, got %q", s)
	}
	*f = fillByte(v)
	return nil
}

// rangeList is a comma separated list of 0xSTART-0xEND ranges.
type rangeList []shadowmem.Range

func (l *rangeList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, r := range *l {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

func (l *rangeList) Set(s string) error {
	var ranges []shadowmem.Range
	for _, part := range strings.Split(s, ",") {
		r, err := parseRange(part)
		if err != nil {
			return err
		}
		ranges = append(ranges, r)
	}
	*l = ranges
	return nil
}

func parseRange(s string) (shadowmem.Range, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return shadowmem.Range{}, fmt.Errorf("range %q: want 0xSTART-0xEND", s)
	}
	start, err := parseHexAddr(lo)
	if err != nil {
		return shadowmem.Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	end, err := parseHexAddr(hi)
	if err != nil {
		return shadowmem.Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	return shadowmem.Range{Start: start, End: end}, nil
}

func parseHexAddr(s string) (uintptr, error) {
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return 0, fmt.Errorf("address %q lacks 0x prefix", s)
	}
	v, err := strconv.ParseUint(digits, 16, strconv.IntSize)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, err)
	}
	return uintptr(v), nil
}
