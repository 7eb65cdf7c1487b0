package shadowmem

import (
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

// Load and store handlers.
//
// Each width has a fast path for aligned accesses below MaxPrimaryAddress
// whose bytes are uniformly defined or undefined; everything else goes
// through the byte-at-a-time slow path. Stores additionally need a private
// secondary map on the fast path, since distinguished maps are read-only.
//
// V bits are returned in register form: 1 bits are undefined.
//
// At LevelOrigins a store whose bits are all defined also clears the
// origins of the bytes written. Stores of undefined bits leave origins to
// StoreOrigin, which the caller issues with the tag of the stored value.

// fastPath reports whether an access of size bytes at a is aligned and
// served by the dense primary array.
//
//go:nosplit
func (sm *ShadowMemory) fastPath(a, size uintptr) bool {
	return a&(size-1) == 0 && a <= sm.pm.MaxAddress()
}

// LoadV64 returns the V bits of the 8 bytes at a.
//
// Called before every 8-byte load of instrumented code. Unaddressable
// bytes raise an address error through the Observer and read as defined.
//
// Parameters:
//   - a: address of the load, any alignment
//   - bigEndian: byte order of the loaded value
//
// Returns:
//   - uint64: V bits in register form, 0 when every bit is defined
//
// Performance: an aligned load of a uniform 8-byte group below
// MaxPrimaryAddress is one array index and one shadow byte read.
// Everything else takes the byte-at-a-time slow path.
//
// Thread Safety: NOT safe for concurrent use; see the package comment.
func (sm *ShadowMemory) LoadV64(a uintptr, bigEndian bool) uint64 {
	if !sm.fastPath(a, 8) {
		return sm.loadVNSlow(a, 8, bigEndian)
	}
	switch sm.pm.ForReading(a).Get16(a) {
	case vabits.Bits16Defined:
		return vabits.VBits64Defined
	case vabits.Bits16Undefined:
		return vabits.VBits64Undefined
	default:
		return sm.loadVNSlow(a, 8, bigEndian)
	}
}

// LoadV32 returns the V bits of the 4 bytes at a.
func (sm *ShadowMemory) LoadV32(a uintptr, bigEndian bool) uint32 {
	if !sm.fastPath(a, 4) {
		return uint32(sm.loadVNSlow(a, 4, bigEndian))
	}
	switch sm.pm.ForReading(a).Get8(a) {
	case vabits.Bits8Defined:
		return uint32(vabits.VBits32Defined)
	case vabits.Bits8Undefined:
		return uint32(vabits.VBits32Undefined)
	default:
		return uint32(sm.loadVNSlow(a, 4, bigEndian))
	}
}

// LoadV16 returns the V bits of the 2 bytes at a.
func (sm *ShadowMemory) LoadV16(a uintptr, bigEndian bool) uint16 {
	if !sm.fastPath(a, 2) {
		return uint16(sm.loadVNSlow(a, 2, bigEndian))
	}
	v8 := sm.pm.ForReading(a).Get8(a)
	switch v8 {
	case vabits.Bits8Defined:
		return uint16(vabits.VBits16Defined)
	case vabits.Bits8Undefined:
		return uint16(vabits.VBits16Undefined)
	}
	// The group is mixed; look at just the two bytes.
	switch vabits.Extract4(a, v8) {
	case vabits.Bits4Defined:
		return uint16(vabits.VBits16Defined)
	case vabits.Bits4Undefined:
		return uint16(vabits.VBits16Undefined)
	default:
		return uint16(sm.loadVNSlow(a, 2, bigEndian))
	}
}

// LoadV8 returns the V bits of the byte at a.
func (sm *ShadowMemory) LoadV8(a uintptr) uint8 {
	if a > sm.pm.MaxAddress() {
		return uint8(sm.loadVNSlow(a, 1, false))
	}
	v8 := sm.pm.ForReading(a).Get8(a)
	switch v8 {
	case vabits.Bits8Defined:
		return vabits.VBits8Defined
	case vabits.Bits8Undefined:
		return vabits.VBits8Undefined
	}
	switch vabits.Extract2(a, v8) {
	case vabits.Defined:
		return vabits.VBits8Defined
	case vabits.Undefined:
		return vabits.VBits8Undefined
	default:
		return uint8(sm.loadVNSlow(a, 1, false))
	}
}

// LoadVN returns the V bits of the nBits/8 bytes at a, without any fast
// path. Bits above the loaded width are set (undefined). nBits must be 8,
// 16, 32 or 64; any other width panics with ErrInternal.
//
// Used where the width is only known at run time, such as trace replay.
func (sm *ShadowMemory) LoadVN(a uintptr, nBits int, bigEndian bool) uint64 {
	return sm.loadVNSlow(a, sizeOf(nBits), bigEndian)
}

func sizeOf(nBits int) uintptr {
	switch nBits {
	case 8, 16, 32, 64:
		return uintptr(nBits / 8)
	default:
		abort("unsupported access width %d bits", nBits)
		return 0
	}
}

// loadVNSlow assembles the V bits of size bytes at a one byte at a time,
// most significant byte first. Unaddressable bytes contribute defined bits
// and cause an address error, unless the partial load exemption applies.
func (sm *ShadowMemory) loadVNSlow(a, size uintptr, bigEndian bool) uint64 {
	sm.counters.slowLoads++

	// Semi-fast cases for aligned accesses above MaxPrimaryAddress.
	switch {
	case size == 8 && a&7 == 0:
		switch sm.pm.ForReading(a).Get16(a) {
		case vabits.Bits16Defined:
			return vabits.VBits64Defined
		case vabits.Bits16Undefined:
			return vabits.VBits64Undefined
		}
	case size == 4 && a&3 == 0:
		switch sm.pm.ForReading(a).Get8(a) {
		case vabits.Bits8Defined:
			return 0xFFFFFFFF_00000000 | vabits.VBits32Defined
		case vabits.Bits8Undefined:
			return 0xFFFFFFFF_00000000 | vabits.VBits32Undefined
		}
	}

	vbits64 := vabits.VBits64Undefined
	var bad uintptr
	for i := size; i > 0; i-- {
		ai := a + vabits.ByteOffset(size, bigEndian, i-1)
		vbits8, ok := sm.getVBits8(ai)
		vbits64 = vbits64<<8 | uint64(vbits8)
		if !ok {
			bad++
		}
	}

	if bad == 0 {
		return vbits64
	}

	// Word-sized, word-aligned loads that touch at least one addressable
	// byte may be exempt. Only the address error is suppressed; the
	// unaddressable bytes still read as defined.
	if sm.partialLoadsOK && size == wordSize && a&(wordSize-1) == 0 && bad < wordSize {
		return vbits64
	}

	sm.reportAddressError(a, size, false)
	return vbits64
}

// StoreV64 stores the V bits of the 8 bytes at a.
//
// Stores to unaddressable bytes are dropped and raise an address error.
// At LevelOrigins a fully defined value also clears the origins of the
// bytes; StoreOrigin records the origin of an undefined one.
//
// Parameters:
//   - a: address of the store, any alignment
//   - vbits64: V bits of the stored value, 1 bits undefined
//   - bigEndian: byte order of the stored value
//
// Performance: the fast path needs an aligned address below
// MaxPrimaryAddress, a private secondary map and a uniform value. A
// store into a distinguished map copies it first in the slow path.
func (sm *ShadowMemory) StoreV64(a uintptr, vbits64 uint64, bigEndian bool) {
	vbits64 = sm.storedBits(vbits64)
	sm.clearDefinedOrigin(a, 8, vbits64)
	if sm.fastPath(a, 8) {
		if m, ok := sm.pm.ForReading(a).Owned(); ok {
			v16 := m.Get16(a)
			if v16 == vabits.Bits16Defined || v16 == vabits.Bits16Undefined {
				switch vbits64 {
				case vabits.VBits64Defined:
					m.Set16(a, vabits.Bits16Defined)
					return
				case vabits.VBits64Undefined:
					m.Set16(a, vabits.Bits16Undefined)
					return
				}
			}
		}
	}
	sm.storeVNSlow(a, 8, vbits64, bigEndian)
}

// StoreV32 stores the V bits of the 4 bytes at a.
//
// Storing the state the group already has writes nothing, which keeps
// uniform chunks on their distinguished maps.
func (sm *ShadowMemory) StoreV32(a uintptr, vbits32 uint32, bigEndian bool) {
	vbits := sm.storedBits(uint64(vbits32))
	sm.clearDefinedOrigin(a, 4, vbits)
	if sm.fastPath(a, 4) {
		ref := sm.pm.ForReading(a)
		v8 := ref.Get8(a)
		m, owned := ref.Owned()
		switch vbits {
		case vabits.VBits32Defined:
			if v8 == vabits.Bits8Defined {
				return
			}
			if owned && v8 == vabits.Bits8Undefined {
				m.Set8(a, vabits.Bits8Defined)
				return
			}
		case vabits.VBits32Undefined:
			if v8 == vabits.Bits8Undefined {
				return
			}
			if owned && v8 == vabits.Bits8Defined {
				m.Set8(a, vabits.Bits8Undefined)
				return
			}
		}
	}
	sm.storeVNSlow(a, 4, vbits, bigEndian)
}

// StoreV16 stores the V bits of the 2 bytes at a.
func (sm *ShadowMemory) StoreV16(a uintptr, vbits16 uint16, bigEndian bool) {
	vbits := sm.storedBits(uint64(vbits16))
	sm.clearDefinedOrigin(a, 2, vbits)
	if sm.fastPath(a, 2) {
		if m, ok := sm.pm.ForReading(a).Owned(); ok {
			v8 := m.Get8(a)
			if v8 == vabits.Bits8Defined || v8 == vabits.Bits8Undefined {
				switch vbits {
				case vabits.VBits16Defined:
					m.Set4(a, vabits.Bits4Defined)
					return
				case vabits.VBits16Undefined:
					m.Set4(a, vabits.Bits4Undefined)
					return
				}
			}
		}
	}
	sm.storeVNSlow(a, 2, vbits, bigEndian)
}

// StoreV8 stores the V bits of the byte at a.
func (sm *ShadowMemory) StoreV8(a uintptr, vbits8 uint8) {
	vbits := sm.storedBits(uint64(vbits8))
	sm.clearDefinedOrigin(a, 1, vbits)
	if a <= sm.pm.MaxAddress() {
		if m, ok := sm.pm.ForReading(a).Owned(); ok {
			v8 := m.Get8(a)
			uniform := v8 == vabits.Bits8Defined || v8 == vabits.Bits8Undefined
			if uniform || vabits.Extract2(a, v8) != vabits.NoAccess {
				switch vbits {
				case uint64(vabits.VBits8Defined):
					m.Set2(a, vabits.Defined)
					return
				case uint64(vabits.VBits8Undefined):
					m.Set2(a, vabits.Undefined)
					return
				}
			}
		}
	}
	sm.storeVNSlow(a, 1, vbits, false)
}

// StoreVN stores the V bits of the nBits/8 bytes at a, without any fast
// path. nBits must be 8, 16, 32 or 64.
func (sm *ShadowMemory) StoreVN(a uintptr, nBits int, vbits uint64, bigEndian bool) {
	size := sizeOf(nBits)
	vbits = sm.storedBits(vbits)
	sm.clearDefinedOrigin(a, size, vbits)
	sm.storeVNSlow(a, size, vbits, bigEndian)
}

// clearDefinedOrigin drops the origins of size bytes at a when every bit of
// the stored value is defined. Bits above the store width are ignored.
func (sm *ShadowMemory) clearDefinedOrigin(a, size uintptr, vbits uint64) {
	if sm.oc == nil {
		return
	}
	if size < 8 {
		vbits &= 1<<(size*8) - 1
	}
	if vbits == 0 {
		sm.StoreOrigin(a, size, otag.None)
	}
}

// storedBits forces V bits to defined at LevelAddrOnly, where definedness
// is not tracked.
//
//go:nosplit
func (sm *ShadowMemory) storedBits(vbits uint64) uint64 {
	if sm.level == LevelAddrOnly {
		return 0
	}
	return vbits
}

// storeVNSlow stores V bits one byte at a time, least significant byte
// first. Bytes that are not addressable are skipped and cause an address
// error.
func (sm *ShadowMemory) storeVNSlow(a, size uintptr, vbits uint64, bigEndian bool) {
	sm.counters.slowStores++

	// Semi-fast cases for aligned accesses above MaxPrimaryAddress.
	switch {
	case size == 8 && a&7 == 0:
		if m, ok := sm.pm.ForReading(a).Owned(); ok {
			v16 := m.Get16(a)
			if v16 == vabits.Bits16Defined || v16 == vabits.Bits16Undefined {
				switch vbits {
				case vabits.VBits64Defined:
					m.Set16(a, vabits.Bits16Defined)
					return
				case vabits.VBits64Undefined:
					m.Set16(a, vabits.Bits16Undefined)
					return
				}
			}
		}
	case size == 4 && a&3 == 0:
		if m, ok := sm.pm.ForReading(a).Owned(); ok {
			v8 := m.Get8(a)
			if v8 == vabits.Bits8Defined || v8 == vabits.Bits8Undefined {
				switch vbits & 0xFFFFFFFF {
				case vabits.VBits32Defined:
					m.Set8(a, vabits.Bits8Defined)
					return
				case vabits.VBits32Undefined:
					m.Set8(a, vabits.Bits8Undefined)
					return
				}
			}
		}
	}

	var bad uintptr
	for i := uintptr(0); i < size; i++ {
		ai := a + vabits.ByteOffset(size, bigEndian, i)
		if !sm.setVBits8(ai, uint8(vbits)) {
			bad++
		}
		vbits >>= 8
	}
	if bad > 0 {
		sm.reportAddressError(a, size, true)
	}
}
