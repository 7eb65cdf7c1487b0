package shadowmem

import (
	"fmt"

	"github.com/kolkov/memcheck/internal/memcheck/secmap"
)

// CheapSanityCheck performs the checks that are cheap enough to run often.
func (sm *ShadowMemory) CheapSanityCheck() error {
	sm.counters.sanityCheap++
	if sm.level < LevelAddrOnly || sm.level > LevelOrigins {
		return fmt.Errorf("memcheck sanity: operating level %d out of range", sm.level)
	}
	return nil
}

// ExpensiveSanityCheck verifies the representation invariants of every
// structure: distinguished maps unchanged, an empty side table when
// definedness is not tracked, auxiliary map consistency, and no leaked or
// shared private secondary maps.
func (sm *ShadowMemory) ExpensiveSanityCheck() error {
	sm.counters.sanityExpensive++

	if sm.level < LevelAddrOnly || sm.level > LevelOrigins {
		return fmt.Errorf("memcheck expensive sanity: operating level %d out of range", sm.level)
	}
	if err := secmap.VerifyTemplates(); err != nil {
		return fmt.Errorf("memcheck expensive sanity: %w", err)
	}
	if sm.level == LevelAddrOnly && sm.sec.Len() != 0 {
		return fmt.Errorf("memcheck expensive sanity: %d side table nodes at level %s",
			sm.sec.Len(), sm.level)
	}

	found, err := sm.pm.Check()
	if err != nil {
		return fmt.Errorf("memcheck expensive sanity, auxmaps: %w", err)
	}

	seen := make(map[*secmap.SecMap]uintptr, found)
	var shared error
	sm.pm.Each(func(base uintptr, r secmap.Ref) bool {
		m, ok := r.Owned()
		if !ok {
			return true
		}
		if prev, dup := seen[m]; dup {
			shared = fmt.Errorf("memcheck expensive sanity: chunks %#x and %#x share a secondary map", prev, base)
			return false
		}
		seen[m] = base
		return true
	})
	if shared != nil {
		return shared
	}

	if live := sm.pm.Counts().Live(); found != live {
		return fmt.Errorf("memcheck expensive sanity: apparent secmap leakage: %d reachable, %d issued",
			found, live)
	}

	if sm.oc != nil {
		if err := sm.oc.Check(); err != nil {
			return fmt.Errorf("memcheck expensive sanity: %w", err)
		}
	}
	return nil
}

// MustBeSane runs both sanity checks and panics on failure.
func (sm *ShadowMemory) MustBeSane() {
	if err := sm.CheapSanityCheck(); err != nil {
		abort("%v", err)
	}
	if err := sm.ExpensiveSanityCheck(); err != nil {
		abort("%v", err)
	}
}
