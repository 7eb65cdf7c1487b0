// Package secmap implements secondary maps: the compact shadow state of one
// 64 KiB chunk of target address space.
//
// A secondary map holds 16384 vabits8 bytes, one per aligned 4-byte group.
// Most chunks of a large address space are uniformly inaccessible, uniformly
// undefined or uniformly defined, so those chunks share one of three
// immutable distinguished maps. A chunk gets its own private (owned) map the
// first time a write would make it non-uniform; this is the copy-on-write
// step performed by Ref.Writable.
//
// Design:
//   - Ref is a sum type: Distinguished(kind) or Owned(*SecMap)
//   - Distinguished refs expose read accessors only; mutation requires Writable
//   - The zero Ref is the NoAccess distinguished map, so a freshly allocated
//     table of refs describes an entirely inaccessible address space
//   - Counts mirrors every ownership transition for statistics and for the
//     leak check performed by the expensive sanity pass
package secmap

import (
	"fmt"

	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

const (
	// Size is the number of target bytes covered by one secondary map.
	Size = 65536

	// Chunks is the number of vabits8 bytes in one secondary map.
	Chunks = Size / 4
)

// Off returns the vabits8 index of address a within its secondary map.
//
//go:nosplit
func Off(a uintptr) uintptr {
	return (a & 0xffff) >> 2
}

// Off16 returns the vabits16 index of address a within its secondary map.
//
//go:nosplit
func Off16(a uintptr) uintptr {
	return (a & 0xffff) >> 3
}

// StartOf returns the first address covered by the secondary map of a.
//
//go:nosplit
func StartOf(a uintptr) uintptr {
	return a &^ (Size - 1)
}

// IsStart reports whether a is the first address of a secondary map.
//
//go:nosplit
func IsStart(a uintptr) bool {
	return a&(Size-1) == 0
}

// SecMap is the shadow state of one 64 KiB chunk.
type SecMap struct {
	vabits8 [Chunks]uint8
}

// Kind identifies a distinguished map, or Owned for a private one.
type Kind uint8

const (
	// NoAccess is the distinguished map of an entirely inaccessible chunk.
	NoAccess Kind = iota
	// Undefined is the distinguished map of an entirely undefined chunk.
	Undefined
	// Defined is the distinguished map of an entirely defined chunk.
	Defined
	// Owned marks a private, mutable map.
	Owned
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case NoAccess:
		return "noaccess"
	case Undefined:
		return "undefined"
	case Defined:
		return "defined"
	case Owned:
		return "owned"
	default:
		return "invalid"
	}
}

// Fill returns the vabits8 value every byte of the distinguished map holds.
func (k Kind) Fill() uint8 {
	switch k {
	case Undefined:
		return vabits.Bits8Undefined
	case Defined:
		return vabits.Bits8Defined
	default:
		return vabits.Bits8NoAccess
	}
}

// KindFor returns the distinguished kind matching a uniform vabits16 value.
func KindFor(vabits16 uint16) (Kind, bool) {
	switch vabits16 {
	case vabits.Bits16NoAccess:
		return NoAccess, true
	case vabits.Bits16Undefined:
		return Undefined, true
	case vabits.Bits16Defined:
		return Defined, true
	default:
		return Owned, false
	}
}

// templates holds the three distinguished maps. They are written once in
// init and are read-only afterwards.
var templates [Owned]SecMap

func init() {
	for k := NoAccess; k < Owned; k++ {
		fill := k.Fill()
		for i := range templates[k].vabits8 {
			templates[k].vabits8[i] = fill
		}
	}
}

// VerifyTemplates checks that no distinguished map has been modified.
func VerifyTemplates() error {
	for k := NoAccess; k < Owned; k++ {
		fill := k.Fill()
		for i, b := range templates[k].vabits8 {
			if b != fill {
				return fmt.Errorf("distinguished %s map changed at chunk %d: %#02x", k, i, b)
			}
		}
	}
	return nil
}

// Get8 returns the vabits8 byte covering address a.
//
//go:nosplit
func (sm *SecMap) Get8(a uintptr) uint8 {
	return sm.vabits8[Off(a)]
}

// Set8 overwrites the vabits8 byte covering the 4-aligned group of a.
//
//go:nosplit
func (sm *SecMap) Set8(a uintptr, v uint8) {
	sm.vabits8[Off(a)] = v
}

// Get16 returns the vabits16 value covering the 8-aligned word of a.
//
//go:nosplit
func (sm *SecMap) Get16(a uintptr) uint16 {
	i := Off16(a) << 1
	return uint16(sm.vabits8[i]) | uint16(sm.vabits8[i+1])<<8
}

// Set16 overwrites the vabits16 value covering the 8-aligned word of a.
//
//go:nosplit
func (sm *SecMap) Set16(a uintptr, v uint16) {
	i := Off16(a) << 1
	sm.vabits8[i] = uint8(v)
	sm.vabits8[i+1] = uint8(v >> 8)
}

// Get2 returns the 2-bit code of address a.
//
//go:nosplit
func (sm *SecMap) Get2(a uintptr) vabits.VABits2 {
	return vabits.Extract2(a, sm.vabits8[Off(a)])
}

// Set2 overwrites the 2-bit code of address a.
//
//go:nosplit
func (sm *SecMap) Set2(a uintptr, v vabits.VABits2) {
	off := Off(a)
	sm.vabits8[off] = vabits.Insert2(a, v, sm.vabits8[off])
}

// Set4 overwrites the 4-bit pair of codes of the 2-aligned address a.
//
//go:nosplit
func (sm *SecMap) Set4(a uintptr, v uint8) {
	off := Off(a)
	sm.vabits8[off] = vabits.Insert4(a, v, sm.vabits8[off])
}

// Ref refers to the secondary map of one chunk.
//
// The zero value is the NoAccess distinguished map.
type Ref struct {
	kind Kind
	sm   *SecMap
}

// Distinguished returns a reference to one of the three shared maps.
func Distinguished(k Kind) Ref {
	if k >= Owned {
		panic(fmt.Sprintf("secmap: %s is not a distinguished kind", k))
	}
	return Ref{kind: k}
}

// Own wraps a private map.
func Own(sm *SecMap) Ref {
	return Ref{kind: Owned, sm: sm}
}

// Kind returns the distinguished kind of the map, or Owned.
func (r Ref) Kind() Kind {
	return r.kind
}

// IsDistinguished reports whether r refers to a shared map.
//
//go:nosplit
func (r Ref) IsDistinguished() bool {
	return r.kind != Owned
}

// Owned returns the private map, if r refers to one.
func (r Ref) Owned() (*SecMap, bool) {
	if r.kind != Owned {
		return nil, false
	}
	return r.sm, true
}

// Valid reports whether r is a well-formed reference.
func (r Ref) Valid() bool {
	if r.kind == Owned {
		return r.sm != nil
	}
	return r.kind < Owned && r.sm == nil
}

// view returns the storage to read from.
//
//go:nosplit
func (r Ref) view() *SecMap {
	if r.kind == Owned {
		return r.sm
	}
	return &templates[r.kind]
}

// Get8 returns the vabits8 byte covering address a.
//
//go:nosplit
func (r Ref) Get8(a uintptr) uint8 {
	return r.view().Get8(a)
}

// Get16 returns the vabits16 value covering the 8-aligned word of a.
//
//go:nosplit
func (r Ref) Get16(a uintptr) uint16 {
	return r.view().Get16(a)
}

// Get2 returns the 2-bit code of address a.
//
//go:nosplit
func (r Ref) Get2(a uintptr) vabits.VABits2 {
	return r.view().Get2(a)
}

// Writable returns a private map for the chunk, copying the distinguished
// map it currently refers to if necessary. The copy is installed in r.
func (r *Ref) Writable(c *Counts) *SecMap {
	if r.kind == Owned {
		return r.sm
	}
	sm := new(SecMap)
	sm.vabits8 = templates[r.kind].vabits8
	c.Transition(r.kind, Owned)
	*r = Own(sm)
	return sm
}

// Replace points r at a distinguished map, releasing any private map.
func (r *Ref) Replace(k Kind, c *Counts) {
	c.Transition(r.kind, k)
	*r = Distinguished(k)
}
