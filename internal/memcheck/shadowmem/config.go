package shadowmem

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kolkov/memcheck/internal/memcheck/stackdepot"
)

// Level is the operating level of the engine.
type Level int

const (
	// LevelAddrOnly tracks addressability only.
	LevelAddrOnly Level = 1
	// LevelUndef tracks addressability and definedness.
	LevelUndef Level = 2
	// LevelOrigins additionally tracks the origins of undefined values.
	LevelOrigins Level = 3
)

// String returns the name of the level.
func (l Level) String() string {
	switch l {
	case LevelAddrOnly:
		return "addr-only"
	case LevelUndef:
		return "undef"
	case LevelOrigins:
		return "origins"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

const (
	// MaxIgnoreRanges is the number of ignore ranges accepted.
	MaxIgnoreRanges = 4

	// MaxIgnoreRangeSize is the largest accepted ignore range.
	MaxIgnoreRangeSize = 0x4000000

	// largeRange is the size above which range updates are logged.
	largeRange = 256 << 20
)

// Range is the half-open address range [Start, End).
type Range struct {
	Start, End uintptr
}

// Contains reports whether a lies in r.
func (r Range) Contains(a uintptr) bool {
	return a >= r.Start && a < r.End
}

// String formats r the way ignore ranges are written on the command line.
func (r Range) String() string {
	return fmt.Sprintf("%#x-%#x", r.Start, r.End)
}

// Config configures a ShadowMemory.
type Config struct {
	// Level is the operating level. Zero selects LevelUndef.
	Level Level

	// PartialLoadsOK suppresses address errors for word-sized, word-aligned
	// loads that have at least one addressable byte. The unaddressable
	// bytes still read as defined.
	PartialLoadsOK bool

	// PrimaryBits is the number of dense primary map index bits. Zero
	// selects the host default.
	PrimaryBits int

	// OcacheSetBits is log2 of the number of origin cache sets. Zero
	// selects the default.
	OcacheSetBits int

	// StackRedzone is subtracted from every stack pointer passed to the
	// stack hooks.
	StackRedzone uintptr

	// IgnoreRanges lists ranges in which address errors are not reported
	// and which the leak queries treat as invalid.
	IgnoreRanges []Range

	// Observer receives error reports. Nil discards them.
	Observer Observer

	// Depot resolves execution contexts. Nil creates a private depot.
	Depot *stackdepot.Depot

	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger
}

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid shadow memory configuration")

func (c *Config) validate() error {
	if c.Level == 0 {
		c.Level = LevelUndef
	}
	if c.Level < LevelAddrOnly || c.Level > LevelOrigins {
		return fmt.Errorf("%w: level %d out of range", ErrInvalidConfig, c.Level)
	}
	if len(c.IgnoreRanges) > MaxIgnoreRanges {
		return fmt.Errorf("%w: %d ignore ranges, at most %d allowed",
			ErrInvalidConfig, len(c.IgnoreRanges), MaxIgnoreRanges)
	}
	for _, r := range c.IgnoreRanges {
		if r.End <= r.Start {
			return fmt.Errorf("%w: ignore range %s is empty", ErrInvalidConfig, r)
		}
		if r.End-r.Start > MaxIgnoreRangeSize {
			return fmt.Errorf("%w: ignore range %s exceeds %#x bytes",
				ErrInvalidConfig, r, MaxIgnoreRangeSize)
		}
	}
	return nil
}

// ErrInternal is wrapped by the value of every panic raised on a broken
// internal invariant.
var ErrInternal = errors.New("memcheck: internal error")

type internalError struct {
	msg string
}

func (e *internalError) Error() string {
	return ErrInternal.Error() + ": " + e.msg
}

func (e *internalError) Unwrap() error {
	return ErrInternal
}

// abort panics with an internal error.
func abort(format string, args ...any) {
	panic(&internalError{msg: fmt.Sprintf(format, args...)})
}

func wrapConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
