// Package otag implements 32-bit origin tags for undefined values.
//
// An origin tag records where an undefined value came from as a compact
// 32-bit value:
//   - Top 30 bits: execution-context unique (ECU), always a multiple of 4
//   - Bottom 2 bits: origin kind (unknown, heap, stack, user request)
//
// The zero tag means "no origin known". Real ECUs are nonzero, so a real
// tag is always nonzero regardless of its kind.
package otag

// Otag is a 32-bit origin tag encoding an ECU and an origin kind.
// Layout: [ECU:30][Kind:2]
//
// Example: 0x00000105 represents ECU=0x104, Kind=Heap.
type Otag uint32

// Kind identifies how an undefined value came into existence.
type Kind uint8

const (
	// KindUnknown is used for undefined memory with no better description.
	KindUnknown Kind = 0
	// KindHeap marks memory returned by an allocator.
	KindHeap Kind = 1
	// KindStack marks memory exposed by stack pointer movement.
	KindStack Kind = 2
	// KindUser marks memory made undefined by an explicit client request.
	KindUser Kind = 3
)

const (
	// KindBits is the number of low bits used for the kind.
	KindBits = 2

	// KindMask extracts the kind (0x3).
	KindMask = (1 << KindBits) - 1
)

// None is the tag carried by bytes with no known origin.
const None Otag = 0

// ECU is an execution-context unique: a nonzero multiple of 4 naming a
// recorded call stack.
type ECU uint32

// Plausible reports whether e could have been minted by a stack depot.
//
//go:nosplit
func (e ECU) Plausible() bool {
	return e != 0 && e&KindMask == 0
}

// New builds a tag from an ECU and a kind.
//
// The low bits of ecu are discarded so the result always decodes back to
// the requested kind.
//
//go:nosplit
func New(ecu ECU, kind Kind) Otag {
	return Otag(uint32(ecu)&^KindMask | uint32(kind)&KindMask)
}

// Decode splits the tag into its ECU and kind.
//
//go:nosplit
func (o Otag) Decode() (ecu ECU, kind Kind) {
	ecu = ECU(uint32(o) &^ KindMask)
	//nolint:gosec // G115: kind is masked to 2 bits.
	kind = Kind(uint32(o) & KindMask)
	return
}

// ECU returns the execution-context unique of the tag.
//
//go:nosplit
func (o Otag) ECU() ECU {
	return ECU(uint32(o) &^ KindMask)
}

// Kind returns the origin kind of the tag.
//
//go:nosplit
func (o Otag) Kind() Kind {
	return Kind(uint32(o) & KindMask)
}

// Merge combines the origins of two values that were mixed together.
//
// The result is whichever tag compares greater. It is deterministic and
// never invents a tag that was not one of the inputs, and merging with
// None returns the other tag.
//
//go:nosplit
func Merge(a, b Otag) Otag {
	if a > b {
		return a
	}
	return b
}

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindHeap:
		return "heap"
	case KindStack:
		return "stack"
	case KindUser:
		return "user"
	default:
		return "invalid"
	}
}

// String returns a human-readable representation of the tag.
//
// Format: "kind@ecu" (e.g. "heap@260"), or "none" for the zero tag.
// Only used for reports and debugging.
func (o Otag) String() string {
	if o == None {
		return "none"
	}
	ecu, kind := o.Decode()
	return kind.String() + "@" + itoa(uint32(ecu))
}

// itoa converts an integer to string without fmt import.
func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}

	tmp := n
	digits := 0
	for tmp > 0 {
		digits++
		tmp /= 10
	}

	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	return string(buf)
}
