package detector

import (
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem"
)

// Allocator hooks.
//
// A fresh block is undefined unless the allocator zeroed it. At
// LevelOrigins its bytes carry a heap origin naming the allocating
// context. Freed blocks become unaddressable.

// heapOrigin returns the origin for a block allocated by the caller of the
// hook, or otag.None below LevelOrigins.
func (d *Detector) heapOrigin() otag.Otag {
	if d.sm.Level() != shadowmem.LevelOrigins {
		return otag.None
	}
	return otag.New(captureStack(d.sm.Depot(), 2), otag.KindHeap)
}

// SetFill replaces the callback that writes the malloc and free fill bytes.
// Nil disables filling.
func (d *Detector) SetFill(fill func(a, n uintptr, b byte)) {
	d.fill = fill
}

// Malloc marks the size bytes at p as a new heap block.
func (d *Detector) Malloc(p, size uintptr, zeroed bool) {
	if zeroed {
		d.sm.MakeDefined(p, size)
	} else {
		d.sm.MakeUndefinedWithOtag(p, size, d.heapOrigin())
	}
	if d.mallocFill >= 0 && !zeroed && d.fill != nil {
		d.fill(p, size, byte(d.mallocFill))
	}
}

// Free marks the size bytes at p unaddressable.
func (d *Detector) Free(p, size uintptr) {
	if d.freeFill >= 0 && d.fill != nil {
		d.fill(p, size, byte(d.freeFill))
	}
	d.sm.MakeNoAccess(p, size)
}

// Realloc moves a block of oldSize bytes at oldP to newSize bytes at newP.
// The shadow state of the preserved prefix moves with it, the growth is
// undefined, and the old block is freed unless it is resized in place.
func (d *Detector) Realloc(oldP, oldSize, newP, newSize uintptr) {
	if newP == oldP {
		if newSize <= oldSize {
			d.sm.MakeNoAccess(oldP+newSize, oldSize-newSize)
			return
		}
		d.sm.MakeUndefinedWithOtag(oldP+oldSize, newSize-oldSize, d.heapOrigin())
		return
	}

	d.sm.MakeUndefinedWithOtag(newP, newSize, d.heapOrigin())
	d.sm.CopyRangeState(oldP, newP, min(oldSize, newSize))
	d.Free(oldP, oldSize)
}
