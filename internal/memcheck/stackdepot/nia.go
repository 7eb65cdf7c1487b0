package stackdepot

import "github.com/kolkov/memcheck/internal/memcheck/otag"

// NIASets is the number of sets in a NIACache.
const NIASets = 511

type niaEntry struct {
	nia uintptr
	ecu otag.ECU
}

// NIACache maps next-instruction addresses to the ECU of a depth-1
// context, so painting a stack redzone does not hit the depot each time.
// Each set holds two entries; a hit in the second swaps them.
//
// Thread Safety: NOT safe for concurrent use.
type NIACache struct {
	depot  *Depot
	sets   [NIASets][2]niaEntry
	Hits   uint64
	Misses uint64
}

// NewNIACache creates a cache backed by d. Every entry starts out mapping
// address 0 to its depth-1 context.
func NewNIACache(d *Depot) *NIACache {
	c := &NIACache{depot: d}
	zero := niaEntry{nia: 0, ecu: d.Intern([]uintptr{0})}
	for i := range c.sets {
		c.sets[i] = [2]niaEntry{zero, zero}
	}
	return c
}

// Lookup returns the ECU for nia.
func (c *NIACache) Lookup(nia uintptr) otag.ECU {
	s := &c.sets[nia%NIASets]
	if s[0].nia == nia {
		c.Hits++
		return s[0].ecu
	}
	if s[1].nia == nia {
		c.Hits++
		s[0], s[1] = s[1], s[0]
		return s[0].ecu
	}

	c.Misses++
	ecu := c.depot.Intern([]uintptr{nia})
	s[1] = s[0]
	s[0] = niaEntry{nia: nia, ecu: ecu}
	return ecu
}
