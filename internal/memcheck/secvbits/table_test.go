package secvbits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(part map[uintptr]bool) *Table {
	return New(func(a uintptr) bool { return part[a] }, nil)
}

func TestTable_SetGet(t *testing.T) {
	tbl := newTable(nil)

	tbl.Set(0x1003, 0x0f)
	assert.Equal(t, uint8(0x0f), tbl.Get(0x1003))
	assert.True(t, tbl.Has(0x100f))
	assert.False(t, tbl.Has(0x1010))
	assert.Equal(t, 1, tbl.Len())

	// Same node, different byte.
	tbl.Set(0x100a, 0x80)
	assert.Equal(t, uint8(0x80), tbl.Get(0x100a))
	assert.Equal(t, uint8(0x0f), tbl.Get(0x1003))
	assert.Equal(t, 1, tbl.Len())

	s := tbl.Stats()
	assert.Equal(t, uint64(1), s.NewNodes)
	assert.Equal(t, uint64(1), s.Updates)
	assert.Equal(t, 1, s.MaxNodes)
	assert.Equal(t, InitialLimit, s.Limit)
}

func TestTable_GetPanicsWithoutNode(t *testing.T) {
	tbl := newTable(nil)
	assert.Panics(t, func() { tbl.Get(0x2000) })
}

func TestTable_GetPanicsOnUntouchedByte(t *testing.T) {
	tbl := newTable(nil)
	tbl.Set(0x2000, 0x01)

	// Neighbours in a new node read as fully undefined, which is never a
	// legal partially defined value.
	assert.Panics(t, func() { tbl.Get(0x2001) })
}

func TestTable_SetRejectsUniformValues(t *testing.T) {
	tbl := newTable(nil)
	assert.Panics(t, func() { tbl.Set(0x10, 0x00) })
	assert.Panics(t, func() { tbl.Set(0x10, 0xff) })
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_CollectKeepsFreshNodes(t *testing.T) {
	tbl := newTable(nil)
	for i := 0; i < InitialLimit; i++ {
		tbl.Set(uintptr(i)*BytesPerNode, 0x0f)
	}
	require.Equal(t, InitialLimit, tbl.Len())
	require.Equal(t, uint32(0), tbl.Generation())

	// Reaching the limit triggers a collection before the insert. All
	// nodes are fresh, so everything survives and the limit doubles.
	tbl.Set(0x100000, 0xf0)

	assert.Equal(t, uint32(1), tbl.Generation())
	assert.Equal(t, InitialLimit+1, tbl.Len())
	assert.Equal(t, InitialLimit*GrowthFactor, tbl.Limit())
	assert.Equal(t, uint8(0xf0), tbl.Get(0x100000))
}

func TestTable_CollectEvictsStaleNodes(t *testing.T) {
	part := map[uintptr]bool{0x47: true}
	tbl := newTable(part)

	for _, a := range []uintptr{0x10, 0x20, 0x30, 0x40} {
		tbl.Set(a, 0x3c)
	}

	// Nodes survive MaxStaleAge collections on age alone.
	for i := 0; i < MaxStaleAge; i++ {
		tbl.Collect()
	}
	assert.Equal(t, 4, tbl.Len())

	tbl.Collect()
	assert.Equal(t, 1, tbl.Len())
	assert.True(t, tbl.Has(0x40), "node with a live partially defined byte must survive")
	assert.Equal(t, InitialLimit, tbl.Limit())
}

func TestTable_UpdateRefreshesNode(t *testing.T) {
	tbl := newTable(nil)
	tbl.Set(0x50, 0x01)

	tbl.Collect()
	tbl.Collect()
	tbl.Set(0x51, 0x02)
	tbl.Collect()
	tbl.Collect()

	assert.True(t, tbl.Has(0x50))

	tbl.Collect()
	assert.False(t, tbl.Has(0x50))
}

func TestPolicy(t *testing.T) {
	assert.False(t, ShouldCollect(1023, 1024))
	assert.True(t, ShouldCollect(1024, 1024))

	assert.True(t, Fresh(5, 3))
	assert.False(t, Fresh(5, 2))
	// Unsigned age survives wrap-around.
	assert.True(t, Fresh(1, ^uint32(0)))

	assert.Equal(t, 1024, NextLimit(1024, 512))
	assert.Equal(t, 2048, NextLimit(1024, 513))
}

func TestGenerationClock(t *testing.T) {
	var c GenerationClock
	assert.Equal(t, uint32(0), c.Now())
	assert.Equal(t, uint32(1), c.Tick())
	assert.Equal(t, uint32(1), c.Now())
}
