package api

import (
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem"
	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

// Load and store hooks.
//
// A load returns the V bits of the value read, 0 meaning every bit is
// defined. A store records the V bits of the value written. When checking
// is off, loads return fully defined bits and stores do nothing.

// LoadV64 is called before an 8-byte load from a.
func LoadV64(a uintptr, bigEndian bool) uint64 {
	d := enter()
	if d == nil {
		return vabits.VBits64Defined
	}
	defer leave(d)
	return d.Shadow().LoadV64(a, bigEndian)
}

// LoadV32 is called before a 4-byte load from a.
func LoadV32(a uintptr, bigEndian bool) uint32 {
	d := enter()
	if d == nil {
		return 0
	}
	defer leave(d)
	return d.Shadow().LoadV32(a, bigEndian)
}

// LoadV16 is called before a 2-byte load from a.
func LoadV16(a uintptr, bigEndian bool) uint16 {
	d := enter()
	if d == nil {
		return 0
	}
	defer leave(d)
	return d.Shadow().LoadV16(a, bigEndian)
}

// LoadV8 is called before a 1-byte load from a.
func LoadV8(a uintptr) uint8 {
	d := enter()
	if d == nil {
		return 0
	}
	defer leave(d)
	return d.Shadow().LoadV8(a)
}

// StoreV64 is called before an 8-byte store to a.
func StoreV64(a uintptr, vbits uint64, bigEndian bool) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().StoreV64(a, vbits, bigEndian)
	}
}

// StoreV32 is called before a 4-byte store to a.
func StoreV32(a uintptr, vbits uint32, bigEndian bool) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().StoreV32(a, vbits, bigEndian)
	}
}

// StoreV16 is called before a 2-byte store to a.
func StoreV16(a uintptr, vbits uint16, bigEndian bool) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().StoreV16(a, vbits, bigEndian)
	}
}

// StoreV8 is called before a 1-byte store to a.
func StoreV8(a uintptr, vbits uint8) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().StoreV8(a, vbits)
	}
}

// StoreOrigin is called after a store of n bytes to a, for n of 1, 2, 4,
// 8 or 16, with the origin of the stored value. Stores of fully defined
// values clear origins by themselves and need no call.
func StoreOrigin(a, n uintptr, o otag.Otag) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().StoreOrigin(a, n, o)
	}
}

// ValueCheckFail reports that an undefined value of size bytes was used
// where definedness matters, such as an address or a system call argument.
func ValueCheckFail(size uintptr, origin otag.Otag) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().ValueCheckFail(size, origin)
	}
}

// CondCheckFail reports a branch on an undefined condition.
func CondCheckFail(origin otag.Otag) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().CondCheckFail(origin)
	}
}

// Origin returns the origin of the n bytes at a, for n of 1, 2, 4 or 8.
func Origin(a, n uintptr) otag.Otag {
	d := enter()
	if d == nil {
		return otag.None
	}
	defer leave(d)
	return d.Shadow().Origin(a, n)
}

// Stack hooks. sp values are stack pointers; the engine applies the
// redzone.

// NewStack is called when n bytes at a become part of a live frame.
func NewStack(a, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().NewStack(a, n, contextECU(d))
	}
}

// DieStack is called when n bytes at a leave the stack.
func DieStack(a, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().DieStack(a, n)
	}
}

// NewStackN is called after the stack pointer moves down n bytes to sp.
func NewStackN(sp, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().NewStackN(sp, n, contextECU(d))
	}
}

// DieStackN is called after the stack pointer moves up n bytes to sp.
func DieStackN(sp, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().DieStackN(sp, n)
	}
}

// MakeStackUninit marks an ABI redzone of n bytes at base undefined. nia
// is the address of the instruction that created it.
func MakeStackUninit(base, n, nia uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().MakeStackUninit(base, n, nia)
	}
}

// Heap hooks.

// Malloc is called after the allocator returns a block of size bytes at p.
func Malloc(p, size uintptr, zeroed bool) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Malloc(p, size, zeroed)
	}
}

// Free is called before the block of size bytes at p is released.
func Free(p, size uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Free(p, size)
	}
}

// Realloc is called after a block is resized, possibly moving it.
func Realloc(oldP, oldSize, newP, newSize uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Realloc(oldP, oldSize, newP, newSize)
	}
}

// Client requests.

// MakeNoAccess marks n bytes at a unaddressable.
func MakeNoAccess(a, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().MakeNoAccess(a, n)
	}
}

// MakeUndefined marks n bytes at a undefined. At the origin-tracking level
// the caller is recorded as a client-request origin.
func MakeUndefined(a, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		if d.Shadow().Level() == shadowmem.LevelOrigins {
			d.Shadow().MakeUndefinedWithECU(a, n, contextECU(d), otag.KindUser)
			return
		}
		d.Shadow().MakeUndefined(a, n)
	}
}

// MakeDefined marks n bytes at a defined.
func MakeDefined(a, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().MakeDefined(a, n)
	}
}

// MakeDefinedIfAddressable marks the addressable bytes among the n at a
// defined.
func MakeDefinedIfAddressable(a, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().MakeDefinedIfAddressable(a, n)
	}
}

// CheckMemIsAddressable reports a client error at the first unaddressable
// byte among the n at a. It returns that byte and false, or 0 and true.
func CheckMemIsAddressable(a, n uintptr) (uintptr, bool) {
	d := enter()
	if d == nil {
		return 0, true
	}
	defer leave(d)
	return d.Shadow().CheckMemIsAddressable(a, n)
}

// CheckMemIsDefined is CheckMemIsAddressable that also requires the bytes
// to be defined.
func CheckMemIsDefined(a, n uintptr) (uintptr, bool) {
	d := enter()
	if d == nil {
		return 0, true
	}
	defer leave(d)
	return d.Shadow().CheckMemIsDefined(a, n)
}

// GetVBits copies the V bits of len(dst) bytes at a into dst. buf is the
// address of dst as the target sees it. The result is shadowmem.VBitsOK or
// shadowmem.VBitsAddrErr.
func GetVBits(a, buf uintptr, dst []uint8) int {
	d := enter()
	if d == nil {
		clear(dst)
		return shadowmem.VBitsOK
	}
	defer leave(d)
	return d.Shadow().GetVBits(a, buf, dst)
}

// SetVBits sets the V bits of len(src) bytes at a from src, with results
// as for GetVBits.
func SetVBits(a, buf uintptr, src []uint8) int {
	d := enter()
	if d == nil {
		return shadowmem.VBitsOK
	}
	defer leave(d)
	return d.Shadow().SetVBits(a, buf, src)
}

// CopyRangeState copies the A and V bits of n bytes from src to dst.
func CopyRangeState(src, dst, n uintptr) {
	if d := enter(); d != nil {
		defer leave(d)
		d.Shadow().CopyRangeState(src, dst, n)
	}
}
