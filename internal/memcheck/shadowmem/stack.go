package shadowmem

import (
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/secmap"
	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

// Stack hooks.
//
// Growing the stack exposes undefined memory; shrinking it makes memory
// unaddressable. All addresses passed in are stack pointer values; the
// configured redzone is subtracted before painting.

// SpecialisedStackSizes lists the frame sizes with word-painting paths.
var SpecialisedStackSizes = [...]uintptr{4, 8, 12, 16, 32, 112, 128, 144, 160}

// NewStack marks n bytes at a undefined. At LevelOrigins they are tagged
// as stack memory allocated by ecu.
func (sm *ShadowMemory) NewStack(a, n uintptr, ecu otag.ECU) {
	a -= sm.redzone
	if sm.level == LevelOrigins {
		sm.MakeUndefinedWithOtag(a, n, otag.New(ecu, otag.KindStack))
		return
	}
	sm.MakeUndefined(a, n)
}

// DieStack marks n bytes at a unaddressable.
func (sm *ShadowMemory) DieStack(a, n uintptr) {
	sm.MakeNoAccess(a-sm.redzone, n)
}

// NewStackN handles the stack pointer moving down by n bytes to sp.
//
// Frames whose size is a multiple of 4 are painted a word at a time when
// the new region is 4- or 8-aligned; others use the range setter.
func (sm *ShadowMemory) NewStackN(sp, n uintptr, ecu otag.ECU) {
	o := otag.None
	if sm.level == LevelOrigins {
		o = otag.New(ecu, otag.KindStack)
	}
	sm.paintStack(sp-sm.redzone, n,
		func(a uintptr) { sm.word32Undefined(a, o) },
		func(a uintptr) { sm.word64Undefined(a, o) },
		func(a, n uintptr) {
			sm.MakeUndefined(a, n)
			if o != otag.None {
				sm.setOrigins(a, n, o)
			}
		})
}

// DieStackN handles the stack pointer moving up by n bytes to sp.
func (sm *ShadowMemory) DieStackN(sp, n uintptr) {
	sm.paintStack(sp-sm.redzone-n, n,
		sm.word32NoAccess,
		sm.word64NoAccess,
		sm.MakeNoAccess)
}

// paintStack covers [s, s+n) with aligned words when it can.
func (sm *ShadowMemory) paintStack(s, n uintptr, word32, word64 func(a uintptr), generic func(a, n uintptr)) {
	if n&3 != 0 || s&3 != 0 {
		generic(s, n)
		return
	}
	if s&7 != 0 {
		word32(s)
		s, n = s+4, n-4
	}
	for ; n >= 8; s, n = s+8, n-8 {
		word64(s)
	}
	if n == 4 {
		word32(s)
	}
}

func (sm *ShadowMemory) word32Undefined(a uintptr, o otag.Otag) {
	if a > sm.pm.MaxAddress() {
		sm.MakeUndefined(a, 4)
	} else {
		sm.pm.ForWriting(a).Set8(a, vabits.Bits8Undefined)
	}
	if o != otag.None && sm.oc != nil {
		sm.oc.Store4(a, o)
	}
}

func (sm *ShadowMemory) word64Undefined(a uintptr, o otag.Otag) {
	if a > sm.pm.MaxAddress() {
		sm.MakeUndefined(a, 8)
	} else {
		sm.pm.ForWriting(a).Set16(a, vabits.Bits16Undefined)
	}
	if o != otag.None && sm.oc != nil {
		sm.oc.Store8(a, o)
	}
}

func (sm *ShadowMemory) word32NoAccess(a uintptr) {
	if a > sm.pm.MaxAddress() {
		sm.MakeNoAccess(a, 4)
		return
	}
	sm.pm.ForWriting(a).Set8(a, vabits.Bits8NoAccess)
	if sm.oc != nil {
		sm.oc.Store4(a, otag.None)
	}
}

func (sm *ShadowMemory) word64NoAccess(a uintptr) {
	if a > sm.pm.MaxAddress() {
		sm.MakeNoAccess(a, 8)
		return
	}
	sm.pm.ForWriting(a).Set16(a, vabits.Bits16NoAccess)
	if sm.oc != nil {
		sm.oc.Store8(a, otag.None)
	}
}

// MakeStackUninit marks the n bytes at base, an ABI redzone below the
// stack pointer, undefined. At LevelOrigins the origin is a stack origin
// whose context is the single frame nia.
func (sm *ShadowMemory) MakeStackUninit(base, n, nia uintptr) {
	o := otag.None
	if sm.nia != nil {
		o = otag.New(sm.nia.Lookup(nia), otag.KindStack)
	}

	// 128 and 288 bytes are the redzones of the common ABIs. When such a
	// region is 8-aligned and inside one low chunk, paint it directly.
	if (n == 128 || n == 288) && base&7 == 0 {
		hi := base + n - 1
		if base < hi && hi <= sm.pm.MaxAddress() && secmap.StartOf(base) == secmap.StartOf(hi) {
			m := sm.pm.ForWriting(base)
			for a := base; a < base+n; a += 8 {
				m.Set16(a, vabits.Bits16Undefined)
				if o != otag.None {
					sm.oc.Store8(a, o)
				}
			}
			return
		}
	}

	sm.MakeUndefined(base, n)
	if o != otag.None {
		sm.setOrigins(base, n, o)
	}
}
