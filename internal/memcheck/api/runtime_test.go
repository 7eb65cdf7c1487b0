package api

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/memcheck/internal/memcheck/config"
	"github.com/kolkov/memcheck/internal/memcheck/detector"
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem"
	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

const base = 0x100000

// start initialises the runtime with the given options and stops it when
// the test ends.
func start(t *testing.T, args ...string) *bytes.Buffer {
	t.Helper()
	opts, err := config.Parse(append([]string{"--verbosity=0"}, args...))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, InitWith(opts, &out))
	t.Cleanup(Fini)
	return &out
}

func TestInit_BadOptions(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	err := Init([]string{"--track-origins=maybe"})
	assert.ErrorIs(t, err, config.ErrBadOption)
}

func TestDisabled_IsNoOp(t *testing.T) {
	start(t)
	Malloc(base, 16, false)

	Disable()
	assert.False(t, Enabled())
	assert.Equal(t, vabits.VBits64Defined, LoadV64(base, false))
	assert.Equal(t, uint8(0), LoadV8(base+0x10000))
	_, ok := CheckMemIsDefined(base, 16)
	assert.True(t, ok)
	dst := []uint8{0xFF}
	assert.Equal(t, shadowmem.VBitsOK, GetVBits(base, base, dst))
	assert.Equal(t, []uint8{0}, dst)

	Enable()
	assert.Equal(t, vabits.VBits64Undefined, LoadV64(base, false))
	assert.Zero(t, ErrorCount())
}

func TestHeapLifecycle(t *testing.T) {
	out := start(t)

	Malloc(base, 16, false)
	StoreV64(base, 0, false)
	assert.Equal(t, uint64(0), LoadV64(base, false))
	assert.Equal(t, uint32(0xFFFFFFFF), LoadV32(base+8, false))
	assert.Equal(t, uint16(0xFFFF), LoadV16(base+12, true))

	Realloc(base, 16, base+0x100, 32)
	Free(base+0x100, 32)

	LoadV32(base+0x100, false)
	assert.Equal(t, 1, ErrorCount())
	assert.Equal(t, detector.Counts{Address: 1}, Counts())
	assert.Contains(t, out.String(), "Invalid read of size 4")

	Fini()
	assert.Contains(t, out.String(), "ERROR SUMMARY: 1 errors from 1 contexts")
	assert.False(t, Enabled())

	n := out.Len()
	Fini()
	assert.Equal(t, n, out.Len(), "second Fini must not print")
}

func TestStores_AllWidths(t *testing.T) {
	start(t)
	MakeUndefined(base, 16)

	StoreV8(base, 0x0F)
	StoreV16(base+2, 0, false)
	StoreV32(base+4, 0xFF00FF00, true)
	StoreV64(base+8, 0, true)

	assert.Equal(t, uint8(0x0F), LoadV8(base))
	assert.Equal(t, uint16(0), LoadV16(base+2, false))
	assert.Equal(t, uint32(0xFF00FF00), LoadV32(base+4, true))
	assert.Equal(t, uint64(0), LoadV64(base+8, false))
	assert.Zero(t, ErrorCount())
}

func TestClientRequests(t *testing.T) {
	out := start(t)

	MakeDefined(base, 32)
	MakeNoAccess(base+8, 8)
	bad, ok := CheckMemIsAddressable(base, 32)
	assert.False(t, ok)
	assert.Equal(t, uintptr(base+8), bad)

	MakeDefinedIfAddressable(base, 32)
	_, ok = CheckMemIsAddressable(base+8, 1)
	assert.False(t, ok)

	MakeUndefined(base+16, 4)
	bad, ok = CheckMemIsDefined(base+16, 8)
	assert.False(t, ok)
	assert.Equal(t, uintptr(base+16), bad)
	assert.Equal(t, 3, Counts().User)
	assert.Contains(t, out.String(), "Uninitialised byte(s) found during client check request")

	assert.Equal(t, shadowmem.VBitsOK, SetVBits(base+24, base+4, []uint8{0xF0}))
	dst := make([]uint8, 1)
	assert.Equal(t, shadowmem.VBitsOK, GetVBits(base+24, base+4, dst))
	assert.Equal(t, []uint8{0xF0}, dst)

	CopyRangeState(base+24, base+28, 1)
	assert.Equal(t, uint8(0xF0), LoadV8(base+28))
}

func TestValueAndCondErrors_Origins(t *testing.T) {
	out := start(t, "--track-origins=yes")

	MakeUndefined(base, 8)
	o := Origin(base, 8)
	require.Equal(t, otag.KindUser, o.Kind())

	ValueCheckFail(8, o)
	CondCheckFail(o)

	assert.Equal(t, detector.Counts{Value: 1, Cond: 1}, Counts())
	assert.Contains(t, out.String(), "created by a client request")
}

func TestStoreOrigin_FollowsCopiedValue(t *testing.T) {
	out := start(t, "--track-origins=yes")

	Malloc(base, 16, false)
	Malloc(base+32, 16, true)
	src := Origin(base, 8)
	require.Equal(t, otag.KindHeap, src.Kind())
	require.Equal(t, otag.None, Origin(base+32, 8))

	// Copy the undefined word into the zeroed block.
	v := LoadV64(base, false)
	StoreV64(base+32, v, false)
	StoreOrigin(base+32, 8, Origin(base, 8))
	assert.Equal(t, src, Origin(base+32, 8))

	if LoadV64(base+32, false) != 0 {
		CondCheckFail(Origin(base+32, 8))
	}
	assert.Contains(t, out.String(), "created by a heap allocation")

	// Overwriting with a defined value drops the stale origin.
	StoreV64(base, 0, false)
	assert.Equal(t, otag.None, Origin(base, 8))

	Disable()
	StoreOrigin(base, 8, src)
	Enable()
	assert.Equal(t, otag.None, Origin(base, 8))
}

func TestSetFill(t *testing.T) {
	type fillCall struct {
		a, n uintptr
		b    byte
	}
	var calls []fillCall
	SetFill(func(a, n uintptr, b byte) { calls = append(calls, fillCall{a, n, b}) })
	t.Cleanup(func() { SetFill(nil) })

	start(t, "--malloc-fill=0xab", "--free-fill=0xcd")
	Malloc(base, 16, false)
	Malloc(base+32, 16, true)
	Free(base, 16)

	assert.Equal(t, []fillCall{{base, 16, 0xab}, {base, 16, 0xcd}}, calls)

	// Filling never changes the shadow state.
	assert.Equal(t, vabits.VBits64Defined, LoadV64(base+32, false))

	SetFill(nil)
	Malloc(base, 16, false)
	assert.Len(t, calls, 2)
}

func TestStackHooks(t *testing.T) {
	start(t, "--track-origins=yes")
	sp := uintptr(base + 0x1000)

	NewStackN(sp, 32)
	assert.Equal(t, vabits.VBits64Undefined, LoadV64(sp, false))
	assert.Equal(t, otag.KindStack, Origin(sp, 8).Kind())

	DieStackN(sp+32, 32)
	_, ok := CheckMemIsAddressable(sp, 32)
	assert.False(t, ok)

	NewStack(sp, 16)
	DieStack(sp, 16)
	MakeStackUninit(sp, 128, 0x4000)
	assert.Equal(t, otag.KindStack, Origin(sp+64, 4).Kind())
}

func TestSanityChecksRunOnEveryCall(t *testing.T) {
	start(t, "--sanity-level=2", "--sanity-interval=1")

	for i := uintptr(0); i < 8; i++ {
		Malloc(base+i*0x10000, 0x100, i%2 == 0)
	}
	assert.NotPanics(t, func() { MakeNoAccess(base, 8*0x10000) })
	assert.Positive(t, Stats().SanityExpensive)
	assert.Zero(t, ErrorCount())
}

func TestConcurrentCallers(t *testing.T) {
	start(t)
	MakeUndefined(base, 8*64)

	var wg sync.WaitGroup
	for g := uintptr(0); g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := uintptr(0); i < 64; i++ {
				StoreV8(base+g*64+i, 0)
			}
		}()
	}
	wg.Wait()

	_, ok := CheckMemIsDefined(base, 8*64)
	assert.True(t, ok)
	assert.Zero(t, ErrorCount())
}
