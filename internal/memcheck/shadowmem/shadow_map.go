package shadowmem

import (
	"log/slog"

	"github.com/kolkov/memcheck/internal/memcheck/ocache"
	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/primary"
	"github.com/kolkov/memcheck/internal/memcheck/secvbits"
	"github.com/kolkov/memcheck/internal/memcheck/stackdepot"
	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

// wordSize is the host word size in bytes.
const wordSize = 4 << (^uintptr(0) >> 63)

// ShadowMemory is the shadow state of one target address space.
//
// The primary map, side table and origin cache are owned exclusively by
// the instance; nothing outside this package reaches into them.
type ShadowMemory struct {
	level          Level
	partialLoadsOK bool
	redzone        uintptr
	ignore         []Range

	pm    *primary.Map
	sec   *secvbits.Table
	oc    *ocache.Cache // nil below LevelOrigins
	depot *stackdepot.Depot
	nia   *stackdepot.NIACache

	obs Observer
	log *slog.Logger

	counters counters
}

type counters struct {
	slowLoads       uint64
	slowStores      uint64
	sanityCheap     uint64
	sanityExpensive uint64
}

// NewShadowMemory creates a shadow memory in which the whole address space
// is inaccessible.
//
// Example:
//
//	sm, err := NewShadowMemory(Config{})
//	if err != nil {
//	    return err
//	}
//	sm.MakeDefined(0x10000, 64)
func NewShadowMemory(cfg Config) (*ShadowMemory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Depot == nil {
		cfg.Depot = stackdepot.New()
	}
	if cfg.PrimaryBits > primary.Bits {
		return nil, wrapConfig("primary bits %d exceed host limit %d", cfg.PrimaryBits, primary.Bits)
	}
	if cfg.OcacheSetBits > ocache.MaxSetBits {
		return nil, wrapConfig("origin cache set bits %d exceed limit %d", cfg.OcacheSetBits, ocache.MaxSetBits)
	}

	sm := &ShadowMemory{
		level:          cfg.Level,
		partialLoadsOK: cfg.PartialLoadsOK,
		redzone:        cfg.StackRedzone,
		ignore:         append([]Range(nil), cfg.IgnoreRanges...),
		pm:             primary.New(cfg.PrimaryBits),
		depot:          cfg.Depot,
		obs:            cfg.Observer,
		log:            cfg.Logger,
	}
	sm.sec = secvbits.New(sm.isPartDefined, cfg.Logger)
	if sm.level == LevelOrigins {
		sm.oc = ocache.New(cfg.OcacheSetBits)
		sm.nia = stackdepot.NewNIACache(sm.depot)
	}

	for _, r := range sm.ignore {
		sm.log.Info("ignoring address range", "range", r.String())
	}
	return sm, nil
}

// Level returns the operating level.
func (sm *ShadowMemory) Level() Level {
	return sm.level
}

// Depot returns the execution context store used for origins.
func (sm *ShadowMemory) Depot() *stackdepot.Depot {
	return sm.depot
}

// MaxPrimaryAddress returns the highest address served by the dense
// primary array. Accesses above it always take the slow path.
func (sm *ShadowMemory) MaxPrimaryAddress() uintptr {
	return sm.pm.MaxAddress()
}

// State returns the 2-bit code of the byte at a.
func (sm *ShadowMemory) State(a uintptr) vabits.VABits2 {
	return sm.pm.ForReading(a).Get2(a)
}

func (sm *ShadowMemory) isPartDefined(a uintptr) bool {
	return sm.State(a) == vabits.PartDefined
}

func (sm *ShadowMemory) set2(a uintptr, v vabits.VABits2) {
	sm.pm.ForWriting(a).Set2(a, v)
}

func (sm *ShadowMemory) get8(a uintptr) uint8 {
	return sm.pm.ForReading(a).Get8(a)
}

func (sm *ShadowMemory) set8(a uintptr, v uint8) {
	sm.pm.ForWriting(a).Set8(a, v)
}

// setVBits8 stores the V bits of the byte at a. Stores to unaddressable
// bytes are dropped and reported as false.
func (sm *ShadowMemory) setVBits8(a uintptr, vbits8 uint8) bool {
	if sm.State(a) == vabits.NoAccess {
		return false
	}
	var v vabits.VABits2
	switch vbits8 {
	case vabits.VBits8Defined:
		v = vabits.Defined
	case vabits.VBits8Undefined:
		v = vabits.Undefined
	default:
		v = vabits.PartDefined
		sm.sec.Set(a, vbits8)
	}
	sm.set2(a, v)
	return true
}

// getVBits8 returns the V bits of the byte at a. Unaddressable bytes read
// as defined and are reported as false.
func (sm *ShadowMemory) getVBits8(a uintptr) (uint8, bool) {
	switch sm.State(a) {
	case vabits.Defined:
		return vabits.VBits8Defined, true
	case vabits.Undefined:
		return vabits.VBits8Undefined, true
	case vabits.NoAccess:
		return vabits.VBits8Defined, false
	default:
		return sm.sec.Get(a), true
	}
}

// InIgnoredRange reports whether a lies in a configured ignore range.
func (sm *ShadowMemory) InIgnoredRange(a uintptr) bool {
	for _, r := range sm.ignore {
		if r.Contains(a) {
			return true
		}
	}
	return false
}

func (sm *ShadowMemory) reportAddressError(a, size uintptr, isWrite bool) {
	if sm.InIgnoredRange(a) {
		return
	}
	sm.obs.AddressError(a, size, isWrite)
}

// ValueCheckFail reports that instrumented code used a size-byte value
// with undefined bits. Ignored at LevelAddrOnly.
func (sm *ShadowMemory) ValueCheckFail(size uintptr, origin otag.Otag) {
	if sm.level < LevelUndef {
		return
	}
	sm.obs.ValueError(size, origin)
}

// CondCheckFail reports a conditional jump on undefined bits. Ignored at
// LevelAddrOnly.
func (sm *ShadowMemory) CondCheckFail(origin otag.Otag) {
	if sm.level < LevelUndef {
		return
	}
	sm.obs.CondError(origin)
}

// Origin returns the merged origin of the n bytes at a, or otag.None below
// LevelOrigins. n must be 1, 2, 4, 8 or 16.
func (sm *ShadowMemory) Origin(a, n uintptr) otag.Otag {
	if sm.oc == nil {
		return otag.None
	}
	switch n {
	case 1:
		return sm.oc.Load1(a)
	case 2:
		return sm.oc.Load2(a)
	case 4:
		return sm.oc.Load4(a)
	case 8:
		return sm.oc.Load8(a)
	case 16:
		return sm.oc.Load16(a)
	default:
		abort("origin load of %d bytes", n)
		return otag.None
	}
}

// StoreOrigin sets the origin of the n bytes at a to o, the tag of the
// value just stored there. otag.None clears it. Ignored below LevelOrigins.
//
// Parameters:
//   - a: first byte written
//   - n: store width, 1, 2, 4, 8 or 16
//   - o: origin of the stored value
//
// Only one tag is kept per aligned 4-byte group, so a narrow store
// replaces the tag of its neighbours as well.
func (sm *ShadowMemory) StoreOrigin(a, n uintptr, o otag.Otag) {
	if sm.oc == nil {
		return
	}
	switch n {
	case 1:
		sm.oc.Store1(a, o)
	case 2:
		sm.oc.Store2(a, o)
	case 4:
		sm.oc.Store4(a, o)
	case 8:
		sm.oc.Store8(a, o)
	case 16:
		sm.oc.Store16(a, o)
	default:
		abort("origin store of %d bytes", n)
	}
}

// setOrigins tags [a, a+n) with o at LevelOrigins.
func (sm *ShadowMemory) setOrigins(a, n uintptr, o otag.Otag) {
	if sm.oc != nil {
		sm.oc.SetOrigins(a, n, o)
	}
}

func (sm *ShadowMemory) clearOrigins(a, n uintptr) {
	if sm.oc != nil {
		sm.oc.ClearOrigins(a, n)
	}
}
