// Package detector is the error subsystem that sits on top of the shadow
// memory engine.
//
// # Overview
//
// The engine in package shadowmem finds problems but never prints them: it
// calls a shadowmem.Observer. Detector is that observer. For each report it
// captures the detecting stack, deduplicates by kind, address, size and
// stack, counts it and prints a framed block:
//
//	==================
//	Use of uninitialised value of size 8
//	  main.checksum()
//	      /src/sum.go:17
//	 Uninitialised value was created by a heap allocation
//	  main.newBuffer()
//	      /src/buf.go:9
//	==================
//
// # Allocator Hooks
//
// Malloc, Free and Realloc translate heap events into shadow state. At
// LevelOrigins new blocks carry a heap origin naming the allocating
// context, which later value errors print.
//
// # Sanity Checks
//
// SanityScheduler runs the engine's consistency checks every N events.
// Tick is called once per entry point; a failure is returned as an error.
//
// # Usage
//
//	d, err := detector.New(detector.Options{
//	    Shadow:     shadowmem.Config{Level: shadowmem.LevelOrigins},
//	    MallocFill: -1,
//	    FreeFill:   -1,
//	})
//	if err != nil {
//	    return err
//	}
//	d.Malloc(p, 64, false)
//	d.Shadow().LoadV64(p, false)
//	d.Summary(os.Stderr)
package detector
