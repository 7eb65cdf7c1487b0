package shadowmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/memcheck/internal/memcheck/secmap"
)

func TestSanityChecks_HealthyEngine(t *testing.T) {
	for _, level := range []Level{LevelAddrOnly, LevelUndef, LevelOrigins} {
		t.Run(level.String(), func(t *testing.T) {
			sm, _ := newTestSM(t, Config{Level: level})
			sm.MakeDefined(lowAddr, 0x30000)
			sm.MakeUndefined(highAddr+8, 32)
			sm.StoreV8(highAddr+9, 0x42)
			sm.NewStackN(lowAddr+0x100, 32, 0)
			sm.MakeNoAccess(lowAddr+0x10000, 0x10000)

			require.NoError(t, sm.CheapSanityCheck())
			require.NoError(t, sm.ExpensiveSanityCheck())
			assert.NotPanics(t, sm.MustBeSane)

			st := sm.Stats()
			assert.Equal(t, uint64(2), st.SanityCheap)
			assert.Equal(t, uint64(2), st.SanityExpensive)
		})
	}
}

func TestExpensiveSanityCheck_SharedSecondary(t *testing.T) {
	sm, _ := newTestSM(t, Config{})
	sm.MakeDefined(lowAddr, 8)
	m, ok := sm.pm.ForReading(lowAddr).Owned()
	require.True(t, ok)

	*sm.pm.Slot(lowAddr + secmap.Size) = secmap.Own(m)

	err := sm.ExpensiveSanityCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share a secondary map")
}

func TestExpensiveSanityCheck_SideTableAtAddrOnly(t *testing.T) {
	sm, _ := newTestSM(t, Config{Level: LevelAddrOnly})
	sm.MakeDefined(lowAddr, 8)
	sm.sec.Set(lowAddr, 0x0F)

	err := sm.ExpensiveSanityCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "side table")
}

func TestCheapSanityCheck_BadLevel(t *testing.T) {
	sm, _ := newTestSM(t, Config{})
	sm.level = 7

	assert.Error(t, sm.CheapSanityCheck())
	assert.Error(t, sm.ExpensiveSanityCheck())
}
