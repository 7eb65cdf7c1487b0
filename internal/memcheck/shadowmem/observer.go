package shadowmem

import "github.com/kolkov/memcheck/internal/memcheck/otag"

// Observer receives the problems shadow memory finds in target behaviour.
//
// Implementations record, deduplicate and print reports. They are called
// synchronously from engine operations and must not call back into the
// ShadowMemory that reports to them.
type Observer interface {
	// AddressError reports a load or store of size bytes at a that touched
	// unaddressable memory.
	AddressError(a, size uintptr, isWrite bool)

	// ValueError reports that a size-byte value with undefined bits was
	// used. origin is otag.None unless origins are tracked.
	ValueError(size uintptr, origin otag.Otag)

	// CondError reports a conditional jump on undefined bits.
	CondError(origin otag.Otag)

	// UserError reports a failed client check at a. isAddrErr tells
	// unaddressable memory apart from undefined memory.
	UserError(a uintptr, isAddrErr bool, origin otag.Otag)
}

// NopObserver discards all reports.
type NopObserver struct{}

// AddressError implements Observer.
func (NopObserver) AddressError(uintptr, uintptr, bool) {}

// ValueError implements Observer.
func (NopObserver) ValueError(uintptr, otag.Otag) {}

// CondError implements Observer.
func (NopObserver) CondError(otag.Otag) {}

// UserError implements Observer.
func (NopObserver) UserError(uintptr, bool, otag.Otag) {}

var _ Observer = NopObserver{}
