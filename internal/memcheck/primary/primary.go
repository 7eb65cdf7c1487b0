// Package primary maps target addresses to secondary maps.
//
// The low part of the address space, [0, MaxAddress], is covered by a dense
// array holding one secmap.Ref per 64 KiB chunk. Every slot starts out
// referring to the NoAccess distinguished map, so the array never contains
// a missing entry. Chunks above MaxAddress live in the auxiliary map: a
// small self-organising front cache (L1) in front of an ordered B-tree (L2).
//
// Address coverage of the dense array:
//   - 32-bit hosts: 16 index bits, the whole 4 GiB space (L2 stays empty)
//   - 64-bit hosts: 19 index bits, the first 32 GiB
//
// Thread Safety: NOT safe for concurrent use. The owning engine serialises
// all calls.
package primary

import (
	"fmt"

	"github.com/google/btree"

	"github.com/kolkov/memcheck/internal/memcheck/secmap"
)

// Bits is the default number of primary index bits for this host.
const Bits = 16 + 3*int(^uintptr(0)>>63)

const (
	// L1Size is the number of entries in the auxiliary front cache.
	L1Size = 24

	// L1InsertIndex is where entries found in L2 enter the front cache.
	L1InsertIndex = 12

	// btreeDegree is the fan-out of the L2 tree.
	btreeDegree = 32
)

// Mode selects how SecMapFor treats distinguished maps.
type Mode uint8

const (
	// Reading may return a distinguished map and never allocates.
	Reading Mode = iota
	// Writing always returns a private map, copying on first write.
	Writing
)

// auxEnt is one auxiliary map entry. It lives in the L2 tree; the L1 cache
// holds pointers to the same entries.
type auxEnt struct {
	base uintptr
	ref  secmap.Ref
}

type l1Entry struct {
	base uintptr
	ent  *auxEnt
}

// Stats describes auxiliary map activity.
type Stats struct {
	L1Searches uint64 // Searches that missed the first two L1 slots.
	L1Cmps     uint64 // Base comparisons spent in those searches.
	L2Searches uint64 // Searches handed to the L2 tree.
	L2Nodes    uint64 // Entries ever inserted into L2.
}

// Map is the primary map of one shadow memory instance.
type Map struct {
	bits    int
	maxAddr uintptr
	primary []secmap.Ref

	l1 [L1Size]l1Entry
	l2 *btree.BTreeG[*auxEnt]

	counts secmap.Counts
	stats  Stats
}

// New creates a primary map with the given number of index bits.
//
// bits <= 0 selects Bits. Values above Bits are rejected because the dense
// array would then describe addresses the host cannot express.
func New(bits int) *Map {
	if bits <= 0 {
		bits = Bits
	}
	if bits > Bits {
		panic(fmt.Sprintf("primary: %d index bits exceeds host limit %d", bits, Bits))
	}
	n := 1 << bits
	return &Map{
		bits:    bits,
		maxAddr: uintptr(secmap.Size)<<bits - 1,
		primary: make([]secmap.Ref, n),
		l2: btree.NewG[*auxEnt](btreeDegree, func(a, b *auxEnt) bool {
			return a.base < b.base
		}),
		counts: secmap.NewCounts(n),
	}
}

// MaxAddress returns the highest address covered by the dense array.
//
//go:nosplit
func (m *Map) MaxAddress() uintptr {
	return m.maxAddr
}

// IndexBits returns the number of index bits of the dense array.
func (m *Map) IndexBits() int {
	return m.bits
}

// Counts returns the secondary map ownership counters.
func (m *Map) Counts() *secmap.Counts {
	return &m.counts
}

// Stats returns a snapshot of auxiliary map statistics.
func (m *Map) Stats() Stats {
	return m.stats
}

// AuxLen returns the number of entries in the auxiliary map.
func (m *Map) AuxLen() int {
	return m.l2.Len()
}

// ForReading returns the secondary map of a without allocating.
// Chunks that were never touched read as the NoAccess distinguished map.
//
// This is the lookup behind every fast-path load and store.
//
// Parameters:
//   - a: any address; the low 16 bits are ignored
//
// Returns:
//   - secmap.Ref: the chunk's map, private or distinguished
//
// Performance: one array index for a <= MaxAddress. Higher addresses cost
// an L1 scan, and a B-tree lookup on an L1 miss. Never allocates.
//
//go:nosplit
func (m *Map) ForReading(a uintptr) secmap.Ref {
	if a <= m.maxAddr {
		return m.primary[a>>16]
	}
	if ent := m.maybeFind(a); ent != nil {
		return ent.ref
	}
	return secmap.Distinguished(secmap.NoAccess)
}

// ForWriting returns a private secondary map for a, installing a copy of
// the distinguished map if the chunk does not own one yet.
//
// The copy is counted in Counts as issued. High chunks get an auxiliary
// entry on first use.
//
// Performance: allocates one 16 KiB map on the first write to a shared
// chunk, then behaves like ForReading.
func (m *Map) ForWriting(a uintptr) *secmap.SecMap {
	return m.Slot(a).Writable(&m.counts)
}

// SecMapFor returns the secondary map of a in the requested mode.
func (m *Map) SecMapFor(a uintptr, mode Mode) secmap.Ref {
	if mode == Reading {
		return m.ForReading(a)
	}
	slot := m.Slot(a)
	slot.Writable(&m.counts)
	return *slot
}

// Slot returns the reference slot of the chunk containing a, creating an
// auxiliary entry if necessary. Callers that replace the reference must
// keep Counts in step via secmap.Ref.Writable or secmap.Ref.Replace.
//
// Returns:
//   - *secmap.Ref: pointer into the dense array or an auxiliary entry;
//     auxiliary entries are never removed, so the pointer stays valid
//
// Thread Safety: NOT safe for concurrent use, like every Map method.
func (m *Map) Slot(a uintptr) *secmap.Ref {
	if a <= m.maxAddr {
		return &m.primary[a>>16]
	}
	return &m.findOrAlloc(a).ref
}

// MaybeGet returns the secondary map of a if one is known. High chunks the
// auxiliary map has never seen report false.
func (m *Map) MaybeGet(a uintptr) (secmap.Ref, bool) {
	if a <= m.maxAddr {
		return m.primary[a>>16], true
	}
	if ent := m.maybeFind(a); ent != nil {
		return ent.ref, true
	}
	return secmap.Ref{}, false
}

// Each calls fn for every chunk known to the map, dense array first and
// then the auxiliary entries in address order. Iteration stops when fn
// returns false.
func (m *Map) Each(fn func(base uintptr, r secmap.Ref) bool) {
	for i, r := range m.primary {
		if !fn(uintptr(i)<<16, r) {
			return
		}
	}
	m.l2.Ascend(func(e *auxEnt) bool {
		return fn(e.base, e.ref)
	})
}

// maybeFind looks a high address up in L1 and then L2, promoting hits.
func (m *Map) maybeFind(a uintptr) *auxEnt {
	a &^= secmap.Size - 1

	if m.l1[0].base == a {
		return m.l1[0].ent
	}
	if m.l1[1].base == a {
		m.l1[0], m.l1[1] = m.l1[1], m.l1[0]
		return m.l1[0].ent
	}

	m.stats.L1Searches++

	i := 0
	for ; i < L1Size; i++ {
		if m.l1[i].base == a {
			break
		}
	}
	m.stats.L1Cmps += uint64(i + 1)

	if i < L1Size {
		if i > 0 {
			m.l1[i-1], m.l1[i] = m.l1[i], m.l1[i-1]
			i--
		}
		return m.l1[i].ent
	}

	m.stats.L2Searches++

	ent, ok := m.l2.Get(&auxEnt{base: a})
	if !ok {
		return nil
	}
	m.insertL1(L1InsertIndex, ent)
	return ent
}

// findOrAlloc returns the auxiliary entry of a, creating one that refers
// to the NoAccess distinguished map if none exists.
func (m *Map) findOrAlloc(a uintptr) *auxEnt {
	if ent := m.maybeFind(a); ent != nil {
		return ent
	}

	ent := &auxEnt{base: a &^ (secmap.Size - 1)}
	m.l2.ReplaceOrInsert(ent)
	m.insertL1(L1InsertIndex, ent)
	m.stats.L2Nodes++
	m.counts.Add(secmap.NoAccess)
	return ent
}

// insertL1 shifts entries at and after rank down by one, dropping the
// last, and stores ent at rank.
func (m *Map) insertL1(rank int, ent *auxEnt) {
	copy(m.l1[rank+1:], m.l1[rank:L1Size-1])
	m.l1[rank] = l1Entry{base: ent.base, ent: ent}
}

// Check verifies the representation invariants of the primary and
// auxiliary maps and returns the number of private secondary maps
// reachable from them.
func (m *Map) Check() (owned int, err error) {
	for i, r := range m.primary {
		if !r.Valid() {
			return 0, fmt.Errorf("primary: invalid reference in slot %d", i)
		}
		if !r.IsDistinguished() {
			owned++
		}
	}

	if m.maxAddr == ^uintptr(0) {
		if m.l2.Len() != 0 {
			return 0, fmt.Errorf("primary: auxiliary map is non-empty on a fully covered address space")
		}
		for _, e := range m.l1 {
			if e.base != 0 || e.ent != nil {
				return 0, fmt.Errorf("primary: auxiliary front cache is non-empty on a fully covered address space")
			}
		}
		return owned, nil
	}

	var seen uint64
	m.l2.Ascend(func(e *auxEnt) bool {
		seen++
		switch {
		case e.base&(secmap.Size-1) != 0:
			err = fmt.Errorf("primary: unaligned base %#x in auxiliary map", e.base)
		case e.base <= m.maxAddr:
			err = fmt.Errorf("primary: base %#x in auxiliary map is covered by the dense array", e.base)
		case !e.ref.Valid():
			err = fmt.Errorf("primary: invalid reference for base %#x", e.base)
		}
		if err != nil {
			return false
		}
		if !e.ref.IsDistinguished() {
			owned++
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if seen != m.stats.L2Nodes {
		return 0, fmt.Errorf("primary: auxiliary map holds %d entries, %d were inserted", seen, m.stats.L2Nodes)
	}

	for i, e := range m.l1 {
		if e.base == 0 && e.ent == nil {
			continue
		}
		switch {
		case e.base&(secmap.Size-1) != 0:
			return 0, fmt.Errorf("primary: unaligned base %#x in front cache", e.base)
		case e.base <= m.maxAddr:
			return 0, fmt.Errorf("primary: base %#x in front cache is covered by the dense array", e.base)
		case e.ent == nil:
			return 0, fmt.Errorf("primary: front cache slot %d has no entry", i)
		case e.ent.base != e.base:
			return 0, fmt.Errorf("primary: front cache slot %d disagrees with its entry", i)
		}
		inL2, ok := m.l2.Get(&auxEnt{base: e.base})
		if !ok {
			return 0, fmt.Errorf("primary: front cache base %#x missing from auxiliary map", e.base)
		}
		if inL2 != e.ent {
			return 0, fmt.Errorf("primary: front cache entry for %#x is not the auxiliary map entry", e.base)
		}
		for j := i + 1; j < L1Size; j++ {
			if m.l1[j].base != 0 && m.l1[j].base == e.base {
				return 0, fmt.Errorf("primary: duplicate front cache base %#x", e.base)
			}
		}
	}

	return owned, nil
}
