package vabits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertExtract2_AllPositions(t *testing.T) {
	codes := []VABits2{NoAccess, Undefined, Defined, PartDefined}
	for a := uintptr(0); a < 4; a++ {
		for _, c := range codes {
			b := Insert2(a, c, Bits8Defined)
			require.Equal(t, c, Extract2(a, b), "addr %d code %v", a, c)
			// Neighbours keep their defined code.
			for o := uintptr(0); o < 4; o++ {
				if o != a {
					assert.Equal(t, Defined, Extract2(o, b))
				}
			}
		}
	}
}

func TestInsertExtract4(t *testing.T) {
	b := Insert4(2, Bits4Undefined, Bits8Defined)
	assert.Equal(t, uint8(0x5a), b)
	assert.Equal(t, Bits4Undefined, Extract4(2, b))
	assert.Equal(t, Bits4Defined, Extract4(0, b))
}

func TestBitsReplication(t *testing.T) {
	assert.Equal(t, Bits8NoAccess, Bits8(NoAccess))
	assert.Equal(t, Bits8Undefined, Bits8(Undefined))
	assert.Equal(t, Bits8Defined, Bits8(Defined))
	assert.Equal(t, Bits16Undefined, Bits16(Undefined))
	assert.Equal(t, Bits16Defined, Bits16(Defined))
}

func TestByteOffset(t *testing.T) {
	assert.Equal(t, uintptr(0), ByteOffset(4, false, 0))
	assert.Equal(t, uintptr(3), ByteOffset(4, false, 3))
	assert.Equal(t, uintptr(3), ByteOffset(4, true, 0))
	assert.Equal(t, uintptr(0), ByteOffset(4, true, 3))
	assert.Equal(t, uintptr(7), ByteOffset(8, true, 0))
}

func TestVABits2String(t *testing.T) {
	assert.Equal(t, "noaccess", NoAccess.String())
	assert.Equal(t, "partdefined", PartDefined.String())
}
