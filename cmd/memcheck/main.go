// Package main implements the memcheck CLI tool.
//
// The memcheck tool replays recorded memory-event traces through the
// shadow memory engine and reports the memory errors they contain:
//
//	memcheck replay run.trace                      # replay one trace
//	memcheck replay --track-origins=yes a.trace b.trace
//
// Traces are replayed concurrently, each against its own shadow memory.
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/memcheck"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "replay":
		replayCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("memcheck version %s\n", memcheck.Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`memcheck - Pure-Go memory checker

USAGE:
    memcheck <command> [arguments]

COMMANDS:
    replay     Replay memory-event traces through the checker
    version    Show version information
    help       Show this help message

REPLAY:
    memcheck replay [options] TRACE...

    Options are also read from MEMCHECK_OPTIONS:
    --undef-value-errors=yes|no  track definedness (default yes)
    --track-origins=yes|no       report where undefined values came from
    --partial-loads-ok=yes|no    accept aligned word loads that overhang
    --ignore-ranges=0xA-0xB,...  never report address errors in a range
    --malloc-fill=0xNN           fill byte for new heap blocks
    --free-fill=0xNN             fill byte for freed heap blocks
    --sanity-level=0|1|2         periodic engine self checks
    --sanity-interval=N          events between self checks
    --verbosity=N                0 warnings, 1 info, 2 debug
    --jobs=N                     traces replayed at once (default GOMAXPROCS)

    A trace has no target memory, so fills are only logged at
    --verbosity=2.

    The exit status is 1 if any trace fails to parse or replay, or
    reports a memory error.

EXAMPLES:
    # Replay a trace
    memcheck replay run.trace

    # Replay several traces with origin tracking
    memcheck replay --track-origins=yes traces/*.trace

TRACE FORMAT:
    memcheck-trace v1.0.0
    malloc 0x10000 16 [zeroed]
    free 0x10000 16
    store ADDR SIZE le|be VBITS
    load ADDR SIZE le|be
    check ADDR SIZE
    noaccess|undefined|defined ADDR LEN
    stack-push SP LEN
    stack-pop SP LEN

`)
}
