// Package memcheck provides a pure-Go memory checker runtime.
//
// memcheck tracks, for every byte of the address space, whether it may be
// accessed (its A bit) and whether each of its bits holds a defined value
// (its V bits). Instrumented code reports every load, store, allocation
// and stack adjustment, and memcheck reports:
//   - reads and writes of unaddressable memory
//   - undefined values used as addresses or system call arguments
//   - branches that depend on undefined values
//   - failed client checks
//
// # Quick Start
//
//	package main
//
//	import (
//		"log"
//		"unsafe"
//
//		"github.com/kolkov/memcheck"
//	)
//
//	func main() {
//		if err := memcheck.Init("--track-origins=yes"); err != nil {
//			log.Fatal(err)
//		}
//		defer memcheck.Fini()
//
//		buf := make([]byte, 64)
//		p := uintptr(unsafe.Pointer(&buf[0]))
//		memcheck.Malloc(p, 64, false)
//
//		if memcheck.LoadV64(p, false) != 0 {
//			memcheck.CondCheckFail(memcheck.Origin(p, 8))
//		}
//	}
//
// # Options
//
// Options are read from MEMCHECK_OPTIONS and then from the arguments to
// [Init]:
//
//	--undef-value-errors=yes|no  track definedness (default yes)
//	--track-origins=yes|no       record where undefined values came from
//	--partial-loads-ok=yes|no    accept aligned word loads that overhang
//	--ignore-ranges=0xA-0xB,...  never report address errors in a range
//	--malloc-fill=0xNN           fill byte for new heap blocks
//	--free-fill=0xNN             fill byte for freed heap blocks
//	--sanity-level=0|1|2         periodic self checks
//	--sanity-interval=N          events between self checks
//	--verbosity=N                0 warnings, 1 info, 2 debug
//
// The fill options take effect once [SetFill] installs a function that
// can write target memory.
//
// # Reports
//
// Each distinct error is printed once, framed and with the stack of the
// access:
//
//	==================
//	Invalid read of size 4
//	  main.main()
//	      /src/main.go:42
//	 Address 0x000000c000012340 is not addressable
//	==================
//
// [Fini] prints the error summary.
//
// # Concurrency
//
// All entry points are safe for concurrent use. The checker serialises them
// internally.
package memcheck
