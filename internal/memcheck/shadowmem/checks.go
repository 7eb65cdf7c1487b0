package shadowmem

import (
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/secmap"
	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

// ReadResult classifies a range checked by IsMemDefined.
type ReadResult int

const (
	// ReadOK means every byte is addressable and defined.
	ReadOK ReadResult = 5
	// ReadAddrErr means a byte is unaddressable.
	ReadAddrErr ReadResult = 6
	// ReadValueErr means a byte is addressable but not fully defined.
	ReadValueErr ReadResult = 7
)

// String returns the name of the result.
func (r ReadResult) String() string {
	switch r {
	case ReadOK:
		return "ok"
	case ReadAddrErr:
		return "addr-err"
	case ReadValueErr:
		return "value-err"
	default:
		return "invalid"
	}
}

// Results of GetVBits and SetVBits.
const (
	VBitsOK      = 1
	VBitsAddrErr = 3
)

// CheckMemIsNoAccess reports whether every byte of [a, a+n) is
// unaddressable. Otherwise it returns the first addressable byte.
func (sm *ShadowMemory) CheckMemIsNoAccess(a, n uintptr) (bad uintptr, ok bool) {
	for i := uintptr(0); i < n; i++ {
		if sm.State(a+i) != vabits.NoAccess {
			return a + i, false
		}
	}
	return 0, true
}

// IsMemAddressable reports whether every byte of [a, a+n) is addressable.
// Otherwise it returns the first unaddressable byte.
func (sm *ShadowMemory) IsMemAddressable(a, n uintptr) (bad uintptr, ok bool) {
	for i := uintptr(0); i < n; i++ {
		if sm.State(a+i) == vabits.NoAccess {
			return a + i, false
		}
	}
	return 0, true
}

// IsMemDefined checks that every byte of [a, a+n) is addressable and
// defined. On failure it returns the offending byte and, for value errors
// at LevelOrigins, that byte's origin.
//
// At LevelAddrOnly undefined bytes are accepted.
func (sm *ShadowMemory) IsMemDefined(a, n uintptr) (res ReadResult, bad uintptr, origin otag.Otag) {
	for i := uintptr(0); i < n; i++ {
		ai := a + i
		v := sm.State(ai)
		if v == vabits.Defined {
			continue
		}
		bad = ai
		if v == vabits.NoAccess {
			return ReadAddrErr, bad, otag.None
		}
		if sm.level >= LevelUndef {
			if sm.oc != nil {
				origin = sm.oc.Load1(ai)
			}
			return ReadValueErr, bad, origin
		}
	}
	return ReadOK, bad, otag.None
}

// CheckMemIsAddressable is the client check for addressability. A failure
// is reported to the Observer as a user error.
func (sm *ShadowMemory) CheckMemIsAddressable(a, n uintptr) (bad uintptr, ok bool) {
	bad, ok = sm.IsMemAddressable(a, n)
	if !ok {
		sm.obs.UserError(bad, true, otag.None)
	}
	return bad, ok
}

// CheckMemIsDefined is the client check for definedness. A failure is
// reported to the Observer as a user error.
func (sm *ShadowMemory) CheckMemIsDefined(a, n uintptr) (bad uintptr, ok bool) {
	res, bad, origin := sm.IsMemDefined(a, n)
	switch res {
	case ReadAddrErr:
		sm.obs.UserError(bad, true, otag.None)
	case ReadValueErr:
		sm.obs.UserError(bad, false, origin)
	default:
		return 0, true
	}
	return bad, false
}

// IsWithinValidSecondary is a cheap, approximate leak detector query: it
// reports false for addresses that certainly hold no pointers-to-be
// because their whole chunk is unaddressable, unknown or ignored.
func (sm *ShadowMemory) IsWithinValidSecondary(a uintptr) bool {
	ref, ok := sm.pm.MaybeGet(a)
	if !ok || ref.Kind() == secmap.NoAccess || sm.InIgnoredRange(a) {
		return false
	}
	return true
}

// IsValidAlignedWord reports whether the host word at a is addressable,
// fully defined and not ignored.
//
// Panics if a is not word aligned.
func (sm *ShadowMemory) IsValidAlignedWord(a uintptr) bool {
	if a&(wordSize-1) != 0 {
		abort("unaligned word address %#x", a)
	}
	for off := uintptr(0); off < wordSize; off += 4 {
		if sm.get8(a+off) != vabits.Bits8Defined {
			return false
		}
	}
	return !sm.InIgnoredRange(a)
}

// GetVBits copies the V bits of len(dst) bytes at a into dst. The bytes at
// buf, the client's copy of dst in target memory, are then marked defined.
//
// Returns VBitsAddrErr without touching anything if either range has an
// unaddressable byte.
func (sm *ShadowMemory) GetVBits(a, buf uintptr, dst []uint8) int {
	n := uintptr(len(dst))
	if !sm.vbitsRangesOK(a, buf, n) {
		return VBitsAddrErr
	}
	for i := range dst {
		v, ok := sm.getVBits8(a + uintptr(i))
		if !ok {
			abort("byte %#x became unaddressable during GetVBits", a+uintptr(i))
		}
		dst[i] = v
	}
	sm.MakeDefined(buf, n)
	return VBitsOK
}

// SetVBits sets the V bits of len(src) bytes at a from src. buf is the
// client's copy of src in target memory and must be addressable.
//
// Returns VBitsAddrErr without touching anything if either range has an
// unaddressable byte.
func (sm *ShadowMemory) SetVBits(a, buf uintptr, src []uint8) int {
	n := uintptr(len(src))
	if !sm.vbitsRangesOK(a, buf, n) {
		return VBitsAddrErr
	}
	for i, v := range src {
		if !sm.setVBits8(a+uintptr(i), uint8(sm.storedBits(uint64(v)))) {
			abort("byte %#x became unaddressable during SetVBits", a+uintptr(i))
		}
	}
	return VBitsOK
}

func (sm *ShadowMemory) vbitsRangesOK(a, buf, n uintptr) bool {
	for i := uintptr(0); i < n; i++ {
		if sm.State(a+i) == vabits.NoAccess || sm.State(buf+i) == vabits.NoAccess {
			return false
		}
	}
	return true
}
