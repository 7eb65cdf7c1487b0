package ocache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/memcheck/internal/memcheck/otag"
)

// With 2 set bits, addresses 0x000, 0x080 and 0x100 share set 0.
const (
	lineA uintptr = 0x000
	lineB uintptr = 0x080
	lineC uintptr = 0x100
)

var (
	heap  = otag.New(0x100, otag.KindHeap)
	stack = otag.New(0x200, otag.KindStack)
)

func newSmall(t *testing.T) *Cache {
	t.Helper()
	c := New(2)
	require.Equal(t, 4, c.Sets())
	return c
}

func TestCache_EmptyLoadsNone(t *testing.T) {
	c := newSmall(t)
	assert.Equal(t, otag.None, c.Load1(0x1234))
	assert.Equal(t, otag.None, c.Load16(0x5000))
	require.NoError(t, c.Check())
}

func TestCache_ByteGranularity(t *testing.T) {
	c := newSmall(t)

	c.Store4(0x40, heap)
	for a := uintptr(0x40); a < 0x44; a++ {
		assert.Equal(t, heap, c.Load1(a))
	}

	// Clearing one byte keeps the tag for its neighbours.
	c.Store1(0x41, otag.None)
	assert.Equal(t, otag.None, c.Load1(0x41))
	assert.Equal(t, heap, c.Load1(0x40))
	assert.Equal(t, heap, c.Load2(0x42))
	assert.Equal(t, heap, c.Load4(0x40))

	c.Store2(0x42, otag.None)
	c.Store1(0x40, otag.None)
	assert.Equal(t, otag.None, c.Load4(0x40))
}

func TestCache_MisalignedLoadsMerge(t *testing.T) {
	c := newSmall(t)

	c.Store1(0x23, heap)
	c.Store1(0x24, stack)
	got := c.Load2(0x23)
	assert.Equal(t, otag.Merge(heap, stack), got)
	assert.Equal(t, stack, got)

	assert.Equal(t, stack, c.Load4(0x22))
	assert.Equal(t, heap, c.Load4(0x20))
}

func TestCache_Load8HalfDescribed(t *testing.T) {
	c := newSmall(t)

	c.Store4(0x64, heap)
	assert.Equal(t, heap, c.Load8(0x60))

	c.Store8(0x60, stack)
	assert.Equal(t, stack, c.Load8(0x60))
	assert.Equal(t, stack, c.Load1(0x67))

	c.Store8(0x60, otag.None)
	assert.Equal(t, otag.None, c.Load8(0x60))
}

func TestCache_Store16SpansLines(t *testing.T) {
	c := newSmall(t)

	c.Store16(0x18, heap)
	assert.Equal(t, heap, c.Load1(0x18))
	assert.Equal(t, heap, c.Load1(0x27))
	assert.Equal(t, otag.None, c.Load1(0x28))
	assert.Equal(t, heap, c.Load16(0x18))
}

func TestCache_SetOriginsUnalignedRange(t *testing.T) {
	c := newSmall(t)

	c.SetOrigins(0x41, 9, stack)
	assert.Equal(t, otag.None, c.Load1(0x40))
	for a := uintptr(0x41); a < 0x4a; a++ {
		assert.Equal(t, stack, c.Load1(a), "byte %#x", a)
	}
	assert.Equal(t, otag.None, c.Load1(0x4a))

	c.ClearOrigins(0x43, 4)
	assert.Equal(t, stack, c.Load1(0x42))
	assert.Equal(t, otag.None, c.Load1(0x46))
	assert.Equal(t, stack, c.Load1(0x47))
}

func TestCache_EvictionWritesBackNonZeroLines(t *testing.T) {
	c := newSmall(t)

	c.Store4(lineA, heap)
	c.Load4(lineB)
	c.Load4(lineC) // evicts lineA

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Lossage)
	assert.Equal(t, 1, s.L2Nodes)

	// lineA comes back from L2.
	assert.Equal(t, heap, c.Load4(lineA))
	require.NoError(t, c.Check())
}

func TestCache_EvictingZeroLineDropsL2Copy(t *testing.T) {
	c := newSmall(t)

	c.Store4(lineA, heap)
	c.Load4(lineB)
	c.Load4(lineC)
	require.Equal(t, heap, c.Load4(lineA))
	require.Equal(t, 1, c.Stats().L2Nodes)

	c.ClearOrigins(lineA, 4)
	c.Load4(lineB)
	c.Load4(lineC) // evicts the now empty lineA

	assert.Equal(t, 0, c.Stats().L2Nodes)
	assert.Equal(t, otag.None, c.Load4(lineA))
}

func TestCache_PeriodicMoveForward(t *testing.T) {
	c := newSmall(t)

	c.Load1(lineA)
	c.Load1(lineB) // way 0 = B, way 1 = A

	// The first slow hit promotes.
	c.Load1(lineA)
	assert.Equal(t, lineA, c.sets[0][0].tag)

	// The next one does not.
	c.Load1(lineB)
	assert.Equal(t, lineA, c.sets[0][0].tag)
	assert.Equal(t, lineB, c.sets[0][1].tag)

	s := c.Stats()
	assert.Equal(t, uint64(2), s.FoundAt1)
	assert.Equal(t, uint64(1), s.MoveForwards)
	assert.Equal(t, uint64(2), s.Misses)
	assert.Equal(t, uint64(4), s.Finds)
}

func TestClassify(t *testing.T) {
	l := &line{tag: invalidTag}
	assert.Equal(t, classEmpty, classify(l))

	l.zeroise(0x40)
	assert.Equal(t, classZero, classify(l))

	// A tag without descriptor bits is not useful.
	l.w32[3] = heap
	assert.Equal(t, classZero, classify(l))

	l.descr[3] = 0x1
	assert.Equal(t, classNonZero, classify(l))
}

func TestCache_CheckDetectsBadDescriptor(t *testing.T) {
	c := newSmall(t)
	c.Store4(0x40, heap)
	c.sets[2][0].descr[0] = 0x1f

	assert.Error(t, c.Check())
}

func TestNew_RejectsHugeCache(t *testing.T) {
	assert.Panics(t, func() { New(MaxSetBits + 1) })
}
