package shadowmem

import (
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/secmap"
	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

// setAddressRangePerms gives every byte of [a, a+n) the uniform state
// encoded by vabits16, whose distinguished map is kind.
//
// The range is handled in three parts: the tail of the first chunk, whole
// chunks, and the head of the last chunk. Whole chunks are pointed at the
// distinguished map, releasing any private map they owned. Partial chunks
// that already refer to the right distinguished map are skipped; others
// are copied on write and updated in 8-byte strides where alignment
// allows.
func (sm *ShadowMemory) setAddressRangePerms(a, n uintptr, vabits16 uint16, kind secmap.Kind) {
	if n == 0 {
		return
	}
	if n > largeRange {
		sm.log.Warn("set address range perms: large range",
			"start", a, "len", n, "state", kind.String())
	}

	v := vabits.VABits2(vabits16 & 0x3)
	counts := sm.pm.Counts()

	var lenA, lenB uintptr
	next := secmap.StartOf(a) + secmap.Size
	toNext := next - a
	switch {
	case secmap.IsStart(a) && n >= secmap.Size:
		lenB = n
	case n <= toNext:
		lenA = n
	default:
		lenA = toNext
		lenB = n - lenA
	}

	// Part 1: the first, partial chunk.
	if lenA > 0 {
		slot := sm.pm.Slot(a)
		if slot.Kind() == kind {
			a = next
		} else {
			m := slot.Writable(counts)
			for ; a&7 != 0 && lenA >= 1; a, lenA = a+1, lenA-1 {
				m.Set2(a, v)
			}
			for ; lenA >= 8; a, lenA = a+8, lenA-8 {
				m.Set16(a, vabits16)
			}
			for ; lenA >= 1; a, lenA = a+1, lenA-1 {
				m.Set2(a, v)
			}
		}
		if lenB == 0 {
			return
		}
	}

	// Part 2: whole chunks.
	for ; lenB >= secmap.Size; a, lenB = a+secmap.Size, lenB-secmap.Size {
		sm.pm.Slot(a).Replace(kind, counts)
	}
	if lenB == 0 {
		return
	}

	// Part 3: the last, partial chunk.
	slot := sm.pm.Slot(a)
	if slot.Kind() == kind {
		return
	}
	m := slot.Writable(counts)
	for ; lenB >= 8; a, lenB = a+8, lenB-8 {
		m.Set16(a, vabits16)
	}
	for ; lenB >= 1; a, lenB = a+1, lenB-1 {
		m.Set2(a, v)
	}
}

// MakeNoAccess marks [a, a+n) unaddressable and drops its origins.
//
// Called for freed heap blocks, popped stack frames and unmapped memory.
// Whole 64 KiB chunks go back to the NoAccess distinguished map and their
// private maps are released.
//
// Parameters:
//   - a: first byte of the range, any alignment
//   - n: length in bytes; 0 does nothing
//
// Performance: O(n/8) for partial chunks, O(1) per whole chunk.
func (sm *ShadowMemory) MakeNoAccess(a, n uintptr) {
	sm.setAddressRangePerms(a, n, vabits.Bits16NoAccess, secmap.NoAccess)
	sm.clearOrigins(a, n)
}

// MakeUndefined marks [a, a+n) addressable and undefined. Origins are left
// untouched.
func (sm *ShadowMemory) MakeUndefined(a, n uintptr) {
	sm.setAddressRangePerms(a, n, vabits.Bits16Undefined, secmap.Undefined)
}

// MakeUndefinedWithOtag marks [a, a+n) undefined and, at LevelOrigins,
// tags it with o.
//
// Parameters:
//   - a, n: the range, as for MakeNoAccess
//   - o: origin stamped on every 4-byte group of the range; otag.None
//     clears them instead
//
// Only one tag is kept per aligned 4-byte group, so the groups at either
// end of the range lose the tags of their bytes outside it.
func (sm *ShadowMemory) MakeUndefinedWithOtag(a, n uintptr, o otag.Otag) {
	sm.MakeUndefined(a, n)
	sm.setOrigins(a, n, o)
}

// MakeUndefinedWithECU marks [a, a+n) undefined with an origin built from
// ecu and kind.
//
// Panics if ecu was not minted by a depot.
func (sm *ShadowMemory) MakeUndefinedWithECU(a, n uintptr, ecu otag.ECU, kind otag.Kind) {
	if !ecu.Plausible() {
		abort("implausible ECU %#x", uint32(ecu))
	}
	sm.MakeUndefinedWithOtag(a, n, otag.New(ecu, kind))
}

// MakeDefined marks [a, a+n) addressable and defined and drops its origins.
//
// Used for zeroed allocations and client requests.
func (sm *ShadowMemory) MakeDefined(a, n uintptr) {
	sm.setAddressRangePerms(a, n, vabits.Bits16Defined, secmap.Defined)
	sm.clearOrigins(a, n)
}

// MakeDefinedIfAddressable marks the addressable bytes of [a, a+n)
// defined, leaving unaddressable ones alone.
func (sm *ShadowMemory) MakeDefinedIfAddressable(a, n uintptr) {
	for i := uintptr(0); i < n; i++ {
		if sm.State(a+i) == vabits.NoAccess {
			continue
		}
		sm.set2(a+i, vabits.Defined)
		if sm.oc != nil {
			sm.oc.Store1(a+i, otag.None)
		}
	}
}

// CopyRangeState copies the shadow state of [src, src+n) to [dst, dst+n),
// including exact V bits of partially defined bytes. Overlapping ranges
// are handled like memmove. Origins are not copied.
//
// Parameters:
//   - src, dst: start of the source and destination ranges
//   - n: number of bytes
//
// Performance: byte at a time, O(n). Partially defined bytes add a side
// table insertion each.
func (sm *ShadowMemory) CopyRangeState(src, dst, n uintptr) {
	if n == 0 || src == dst {
		return
	}

	aligned := src&3 == 0 && dst&3 == 0
	disjoint := src+n <= dst || dst+n <= src

	if aligned && disjoint {
		i := uintptr(0)
		for ; n >= 4; i, n = i+4, n-4 {
			v8 := sm.get8(src + i)
			sm.set8(dst+i, v8)
			if v8 == vabits.Bits8Defined || v8 == vabits.Bits8Undefined || v8 == vabits.Bits8NoAccess {
				continue
			}
			for j := uintptr(0); j < 4; j++ {
				if vabits.Extract2(src+i+j, v8) == vabits.PartDefined {
					sm.sec.Set(dst+i+j, sm.sec.Get(src+i+j))
				}
			}
		}
		for ; n >= 1; i, n = i+1, n-1 {
			sm.copyByteState(src+i, dst+i)
		}
		return
	}

	if src < dst {
		for j := n; j > 0; j-- {
			sm.copyByteState(src+j-1, dst+j-1)
		}
		return
	}
	for i := uintptr(0); i < n; i++ {
		sm.copyByteState(src+i, dst+i)
	}
}

func (sm *ShadowMemory) copyByteState(src, dst uintptr) {
	v := sm.State(src)
	sm.set2(dst, v)
	if v == vabits.PartDefined {
		sm.sec.Set(dst, sm.sec.Get(src))
	}
}
