// Package vabits defines the compact per-byte shadow encoding used by memcheck.
//
// Every byte of the target address space is summarised by a 2-bit code
// (VABits2) describing its addressability and definedness:
//
//	00 NoAccess     byte is not addressable
//	01 Undefined    byte is addressable, all 8 value bits undefined
//	10 Defined      byte is addressable, all 8 value bits defined
//	11 PartDefined  byte is addressable, exact V bits live in a side table
//
// Four codes are packed into one byte ("vabits8"), byte a+i occupying bits
// [2i+1:2i]. Two vabits8 bytes describe an aligned 8-byte word ("vabits16").
//
// V bits in register form use 1 for undefined and 0 for defined, so an
// 8-bit value that is fully defined is 0x00 and fully undefined is 0xFF.
package vabits

// VABits2 is the 2-bit shadow code of one byte.
type VABits2 uint8

const (
	// NoAccess marks a byte that must not be read or written.
	NoAccess VABits2 = 0x0
	// Undefined marks an addressable byte whose value is uninitialised.
	Undefined VABits2 = 0x1
	// Defined marks an addressable byte whose value is initialised.
	Defined VABits2 = 0x2
	// PartDefined marks a byte with a mix of defined and undefined bits.
	PartDefined VABits2 = 0x3
)

// Packed forms of the three uniform states.
const (
	Bits4NoAccess  uint8 = 0x0 // 00_00b
	Bits4Undefined uint8 = 0x5 // 01_01b
	Bits4Defined   uint8 = 0xa // 10_10b

	Bits8NoAccess  uint8 = 0x00 // 00_00_00_00b
	Bits8Undefined uint8 = 0x55 // 01_01_01_01b
	Bits8Defined   uint8 = 0xaa // 10_10_10_10b

	Bits16NoAccess  uint16 = 0x0000
	Bits16Undefined uint16 = 0x5555
	Bits16Defined   uint16 = 0xaaaa
)

// V bits in register form.
const (
	VBits8Defined    uint8  = 0x00
	VBits8Undefined  uint8  = 0xFF
	VBits16Defined   uint64 = 0x0000
	VBits16Undefined uint64 = 0xFFFF
	VBits32Defined   uint64 = 0x00000000
	VBits32Undefined uint64 = 0xFFFFFFFF
	VBits64Defined   uint64 = 0x0000000000000000
	VBits64Undefined uint64 = 0xFFFFFFFFFFFFFFFF
)

// String returns the short name of the code.
func (v VABits2) String() string {
	switch v & 0x3 {
	case NoAccess:
		return "noaccess"
	case Undefined:
		return "undefined"
	case Defined:
		return "defined"
	default:
		return "partdefined"
	}
}

// Insert2 stores the 2-bit code for address a into vabits8.
//
//go:nosplit
func Insert2(a uintptr, v VABits2, vabits8 uint8) uint8 {
	shift := (a & 3) << 1
	vabits8 &^= 0x3 << shift
	vabits8 |= uint8(v) << shift
	return vabits8
}

// Extract2 returns the 2-bit code for address a from vabits8.
//
//go:nosplit
func Extract2(a uintptr, vabits8 uint8) VABits2 {
	shift := (a & 3) << 1
	return VABits2((vabits8 >> shift) & 0x3)
}

// Insert4 stores a 4-bit pair of codes for the 2-aligned address a.
//
//go:nosplit
func Insert4(a uintptr, vabits4 uint8, vabits8 uint8) uint8 {
	shift := (a & 2) << 1
	vabits8 &^= 0xf << shift
	vabits8 |= vabits4 << shift
	return vabits8
}

// Extract4 returns the 4-bit pair of codes for the 2-aligned address a.
//
//go:nosplit
func Extract4(a uintptr, vabits8 uint8) uint8 {
	shift := (a & 2) << 1
	return (vabits8 >> shift) & 0xf
}

// Bits8 replicates a 2-bit code across all four positions of a vabits8 byte.
func Bits8(v VABits2) uint8 {
	b := uint8(v) & 0x3
	return b | b<<2 | b<<4 | b<<6
}

// Bits16 replicates a 2-bit code across a whole 8-byte word.
func Bits16(v VABits2) uint16 {
	b := uint16(Bits8(v))
	return b | b<<8
}

// ByteOffset returns the memory offset of the byteno-th least significant
// byte of a size-byte value stored with the given endianness.
//
//go:nosplit
func ByteOffset(size uintptr, bigEndian bool, byteno uintptr) uintptr {
	if bigEndian {
		return size - 1 - byteno
	}
	return byteno
}
