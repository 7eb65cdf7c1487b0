// Package shadowmem implements the shadow memory of a memory checker.
//
// For every byte of a target address space, shadow memory records whether
// the byte is addressable and which of its 8 value bits are defined.
// Optionally it also records an origin tag saying where an undefined value
// was created. The engine never dereferences target memory; it only keeps
// metadata about it.
//
// # Overview
//
// Every byte is summarised by a 2-bit code (see package vabits):
//
//	NoAccess     not addressable
//	Undefined    addressable, all bits undefined
//	Defined      addressable, all bits defined
//	PartDefined  addressable, exact V bits in the side table
//
// # Components
//
// primary.Map: maps an address to the secondary map of its 64 KiB chunk.
// Low addresses use a dense array; high ones an auxiliary map.
//
// secmap.SecMap: the codes of one chunk. Uniform chunks share one of three
// distinguished maps and are copied on first write.
//
// secvbits.Table: exact V bits of partially defined bytes, garbage
// collected.
//
// ocache.Cache: origin tags, kept only at LevelOrigins.
//
// ShadowMemory: ties the above together and exposes the operations called
// by instrumented code and by the allocator and stack integration.
//
// # Usage
//
// Create an instance:
//
//	sm, err := shadowmem.NewShadowMemory(shadowmem.Config{Level: shadowmem.LevelOrigins})
//
// On malloc of n bytes at p:
//
//	sm.MakeUndefinedWithECU(p, n, ecu, otag.KindHeap)
//
// On a 4-byte little-endian load at a:
//
//	vbits := sm.LoadV32(a, false)
//	if vbits != 0 {
//	    sm.ValueCheckFail(4, sm.Origin(a, 4))
//	}
//
// # Operating Levels
//
//   - LevelAddrOnly: addressability only; V bits written are always defined
//   - LevelUndef: addressability and definedness (default)
//   - LevelOrigins: as LevelUndef, plus origin tracking
//
// # Error Reporting
//
// Problems found in target behaviour are passed to an Observer. Broken
// internal invariants panic with an error wrapping ErrInternal.
//
// # Thread Safety
//
// A ShadowMemory is NOT safe for concurrent use. Callers serialise access,
// for example with the single runtime lock in package api.
package shadowmem
