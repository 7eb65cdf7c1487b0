// Package memcheck is the public API of the pure-Go memory checker.
//
// See doc.go for an overview and examples.
package memcheck

import (
	internal "github.com/kolkov/memcheck/internal/memcheck/api"
	"github.com/kolkov/memcheck/internal/memcheck/otag"
)

// Otag is an origin tag: the kind of allocation an undefined value came
// from and the context that made it.
type Otag = otag.Otag

// NoOrigin is the tag of values with no known origin.
const NoOrigin = otag.None

// Init starts the checker. Options are read from the MEMCHECK_OPTIONS
// environment variable, then from args:
//
//	func main() {
//		if err := memcheck.Init(); err != nil {
//			log.Fatal(err)
//		}
//		defer memcheck.Fini()
//		// ... rest of program
//	}
//
// Calling Init again discards all shadow state.
func Init(args ...string) error {
	return internal.Init(args)
}

// Fini stops the checker and prints the error summary to stderr.
func Fini() {
	internal.Fini()
}

// Enable resumes checking after Disable.
func Enable() { internal.Enable() }

// Disable suspends checking. While suspended, memory reads as addressable
// and defined.
func Disable() { internal.Disable() }

// ErrorCount returns the number of distinct errors reported so far.
func ErrorCount() int {
	return internal.ErrorCount()
}

// LoadV64 returns the V bits of the 8 bytes at a. A set bit is undefined.
//
// Instrumentation calls the load hooks before every memory read; the
// result travels with the loaded value.
func LoadV64(a uintptr, bigEndian bool) uint64 { return internal.LoadV64(a, bigEndian) }

// LoadV32 returns the V bits of the 4 bytes at a.
func LoadV32(a uintptr, bigEndian bool) uint32 { return internal.LoadV32(a, bigEndian) }

// LoadV16 returns the V bits of the 2 bytes at a.
func LoadV16(a uintptr, bigEndian bool) uint16 { return internal.LoadV16(a, bigEndian) }

// LoadV8 returns the V bits of the byte at a.
func LoadV8(a uintptr) uint8 { return internal.LoadV8(a) }

// StoreV64 records the V bits of an 8-byte value written to a.
func StoreV64(a uintptr, vbits uint64, bigEndian bool) { internal.StoreV64(a, vbits, bigEndian) }

// StoreV32 records the V bits of a 4-byte value written to a.
func StoreV32(a uintptr, vbits uint32, bigEndian bool) { internal.StoreV32(a, vbits, bigEndian) }

// StoreV16 records the V bits of a 2-byte value written to a.
func StoreV16(a uintptr, vbits uint16, bigEndian bool) { internal.StoreV16(a, vbits, bigEndian) }

// StoreV8 records the V bits of a byte written to a.
func StoreV8(a uintptr, vbits uint8) { internal.StoreV8(a, vbits) }

// SetFill installs the function that writes the --malloc-fill and
// --free-fill bytes over n bytes of target memory at a.
func SetFill(f func(a, n uintptr, b byte)) { internal.SetFill(f) }

// StoreOrigin records the origin of an undefined n-byte value written to
// a, usually the tag Origin returned for the bytes it was loaded from.
func StoreOrigin(a, n uintptr, o Otag) { internal.StoreOrigin(a, n, o) }

// ValueCheckFail reports use of an undefined value of size bytes.
func ValueCheckFail(size uintptr, origin Otag) { internal.ValueCheckFail(size, origin) }

// CondCheckFail reports a branch on an undefined condition.
func CondCheckFail(origin Otag) { internal.CondCheckFail(origin) }

// Origin returns the origin of the n bytes at a, for n of 1, 2, 4 or 8.
func Origin(a, n uintptr) Otag { return internal.Origin(a, n) }

// NewStackN is called after the stack pointer moves down n bytes to sp.
func NewStackN(sp, n uintptr) { internal.NewStackN(sp, n) }

// DieStackN is called after the stack pointer moves up n bytes to sp.
func DieStackN(sp, n uintptr) { internal.DieStackN(sp, n) }

// Malloc marks a fresh heap block of size bytes at p. Unless zeroed, its
// contents are undefined.
func Malloc(p, size uintptr, zeroed bool) { internal.Malloc(p, size, zeroed) }

// Free marks the heap block of size bytes at p unaddressable.
func Free(p, size uintptr) { internal.Free(p, size) }

// Realloc records a heap block being resized from oldSize bytes at oldP to
// newSize bytes at newP.
func Realloc(oldP, oldSize, newP, newSize uintptr) {
	internal.Realloc(oldP, oldSize, newP, newSize)
}

// MakeNoAccess marks n bytes at a unaddressable.
func MakeNoAccess(a, n uintptr) { internal.MakeNoAccess(a, n) }

// MakeUndefined marks n bytes at a addressable but undefined.
func MakeUndefined(a, n uintptr) { internal.MakeUndefined(a, n) }

// MakeDefined marks n bytes at a addressable and defined.
func MakeDefined(a, n uintptr) { internal.MakeDefined(a, n) }

// CheckMemIsAddressable reports an error at the first unaddressable byte
// among the n at a, and returns it. ok is true when there is none.
func CheckMemIsAddressable(a, n uintptr) (bad uintptr, ok bool) {
	return internal.CheckMemIsAddressable(a, n)
}

// CheckMemIsDefined reports an error at the first unaddressable or
// undefined byte among the n at a, and returns it.
func CheckMemIsDefined(a, n uintptr) (bad uintptr, ok bool) {
	return internal.CheckMemIsDefined(a, n)
}
