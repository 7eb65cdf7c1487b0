// Package ocache stores origin tags for shadow memory.
//
// Every aligned 4-byte group of target memory may carry one 32-bit origin
// tag, together with a 4-bit descriptor saying which of its bytes the tag
// applies to. Groups are held in 32-byte lines: 8 tags plus 8 descriptors.
//
// Lines live in a set-associative first level (2 lines per set) backed by
// an ordered second level. Lines evicted from the first level are written
// back only if they hold something useful; a line that is all zero is
// instead removed from the second level.
//
// Design:
//   - The first way of each set is the fast path; find only compares one tag
//   - Every 128th hit in a later way moves that line one way forwards
//   - A miss always evicts the last way and installs the refilled line in
//     front of it
//
// Thread Safety: NOT safe for concurrent use.
package ocache

import (
	"fmt"

	"github.com/google/btree"

	"github.com/kolkov/memcheck/internal/memcheck/otag"
)

const (
	// LineBits is log2 of the number of target bytes covered by a line.
	LineBits = 5

	// LineSize is the number of target bytes covered by a line.
	LineSize = 1 << LineBits

	// Words is the number of 4-byte groups per line.
	Words = LineSize / 4

	// Ways is the number of lines per set.
	Ways = 2

	// DefaultSetBits selects 65536 sets (4 MiB of target coverage in L1).
	DefaultSetBits = 16

	// MaxSetBits bounds the first level to 2^24 sets.
	MaxSetBits = 24

	// moveForwardMask makes every 128th slow hit promote its line.
	moveForwardMask = 1<<7 - 1

	// invalidTag marks an unoccupied line. Real tags are 32-aligned.
	invalidTag uintptr = 1

	btreeDegree = 32
)

// line covers LineSize target bytes.
type line struct {
	tag   uintptr
	w32   [Words]otag.Otag
	descr [Words]uint8
}

func (l *line) zeroise(tag uintptr) {
	*l = line{tag: tag}
}

type set [Ways]line

// Stats describes origin cache activity.
type Stats struct {
	Finds        uint64 // Lookups.
	FoundAt1     uint64 // Slow lookups satisfied by way 1.
	FoundAtN     uint64 // Slow lookups satisfied by a later way.
	Misses       uint64 // Lookups that evicted a line.
	Lossage      uint64 // Evicted lines written back to L2.
	MoveForwards uint64 // Periodic promotions.
	L2Refs       uint64 // L2 lookups and deletions.
	L2Misses     uint64 // L2 lookups that found nothing.
	L2Nodes      int    // Current L2 population.
	L2MaxNodes   int    // Highest L2 population seen.
}

// Cache is the origin store of one shadow memory instance.
type Cache struct {
	sets    []set
	setMask uintptr
	l2      *btree.BTreeG[*line]
	ctr     uint32
	stats   Stats
}

// New creates an empty cache with 2^setBits sets. setBits <= 0 selects
// DefaultSetBits.
func New(setBits int) *Cache {
	if setBits <= 0 {
		setBits = DefaultSetBits
	}
	if setBits > MaxSetBits {
		panic(fmt.Sprintf("ocache: %d set bits exceeds limit %d", setBits, MaxSetBits))
	}
	c := &Cache{
		sets:    make([]set, 1<<setBits),
		setMask: 1<<setBits - 1,
		l2: btree.NewG[*line](btreeDegree, func(a, b *line) bool {
			return a.tag < b.tag
		}),
	}
	for i := range c.sets {
		for w := range c.sets[i] {
			c.sets[i][w].tag = invalidTag
		}
	}
	return c
}

// Sets returns the number of first level sets.
func (c *Cache) Sets() int {
	return len(c.sets)
}

//go:nosplit
func lineOffset(a uintptr) uintptr {
	return (a >> 2) & (Words - 1)
}

//go:nosplit
func tagOf(a uintptr) uintptr {
	return a &^ (LineSize - 1)
}

// find returns the line holding a, loading it into the first way of its
// set if necessary.
func (c *Cache) find(a uintptr) *line {
	setno := (a >> LineBits) & c.setMask
	tag := tagOf(a)
	c.stats.Finds++
	s := &c.sets[setno]
	if s[0].tag == tag {
		return &s[0]
	}
	return c.findSlow(s, tag)
}

func (c *Cache) findSlow(s *set, tag uintptr) *line {
	for w := 1; w < Ways; w++ {
		if s[w].tag != tag {
			continue
		}
		if w == 1 {
			c.stats.FoundAt1++
		} else {
			c.stats.FoundAtN++
		}
		if c.ctr&moveForwardMask == 0 {
			c.stats.MoveForwards++
			c.promote(s, w)
			w--
		}
		c.ctr++
		return &s[w]
	}

	c.stats.Misses++
	c.insertEvicting(s, tag)
	c.promote(s, Ways-1)
	return &s[Ways-2]
}

// insertEvicting replaces the last way of s with the line for tag, taken
// from L2 or zeroised.
func (c *Cache) insertEvicting(s *set, tag uintptr) {
	victim := &s[Ways-1]
	switch classify(victim) {
	case classEmpty:
	case classZero:
		c.l2Delete(victim.tag)
	case classNonZero:
		c.stats.Lossage++
		c.l2Add(victim)
	}

	if in, ok := c.l2Find(tag); ok {
		*victim = *in
	} else {
		victim.zeroise(tag)
	}
}

// promote swaps way w with the way in front of it.
func (c *Cache) promote(s *set, w int) {
	if w == 0 {
		return
	}
	s[w-1], s[w] = s[w], s[w-1]
}

type class uint8

const (
	classEmpty class = iota
	classZero
	classNonZero
)

// classify reports whether a line is unoccupied, carries no origin, or
// carries at least one origin worth keeping.
func classify(l *line) class {
	if l.tag == invalidTag {
		return classEmpty
	}
	for i := range l.w32 {
		if l.w32[i] != otag.None && l.descr[i] != 0 {
			return classNonZero
		}
	}
	return classZero
}

func (c *Cache) l2Find(tag uintptr) (*line, bool) {
	c.stats.L2Refs++
	l, ok := c.l2.Get(&line{tag: tag})
	if !ok {
		c.stats.L2Misses++
	}
	return l, ok
}

func (c *Cache) l2Delete(tag uintptr) {
	c.stats.L2Refs++
	c.l2.Delete(&line{tag: tag})
}

func (c *Cache) l2Add(l *line) {
	cp := *l
	c.l2.ReplaceOrInsert(&cp)
	c.stats.L2MaxNodes = max(c.stats.L2MaxNodes, c.l2.Len())
}

// Load1 returns the origin of the byte at a.
func (c *Cache) Load1(a uintptr) otag.Otag {
	l := c.find(a)
	off := lineOffset(a)
	if l.descr[off]&(1<<(a&3)) == 0 {
		return otag.None
	}
	return l.w32[off]
}

// Load2 returns the merged origin of the 2 bytes at a.
func (c *Cache) Load2(a uintptr) otag.Otag {
	if a&1 != 0 {
		return otag.Merge(c.Load1(a), c.Load1(a+1))
	}
	l := c.find(a)
	off := lineOffset(a)
	if l.descr[off]&(3<<(a&3)) == 0 {
		return otag.None
	}
	return l.w32[off]
}

// Load4 returns the merged origin of the 4 bytes at a.
func (c *Cache) Load4(a uintptr) otag.Otag {
	if a&3 != 0 {
		return otag.Merge(c.Load2(a), c.Load2(a+2))
	}
	l := c.find(a)
	off := lineOffset(a)
	if l.descr[off] == 0 {
		return otag.None
	}
	return l.w32[off]
}

// Load8 returns the merged origin of the 8 bytes at a.
func (c *Cache) Load8(a uintptr) otag.Otag {
	if a&7 != 0 {
		return otag.Merge(c.Load4(a), c.Load4(a+4))
	}
	l := c.find(a)
	off := lineOffset(a)
	lo, hi := l.descr[off], l.descr[off+1]
	if lo|hi == 0 {
		return otag.None
	}
	var oLo, oHi otag.Otag
	if lo != 0 {
		oLo = l.w32[off]
	}
	if hi != 0 {
		oHi = l.w32[off+1]
	}
	return otag.Merge(oLo, oHi)
}

// Load16 returns the merged origin of the 16 bytes at a.
func (c *Cache) Load16(a uintptr) otag.Otag {
	return otag.Merge(c.Load8(a), c.Load8(a+8))
}

// Store1 sets the origin of the byte at a. Storing None clears the byte's
// descriptor bit and leaves the group's tag in place.
func (c *Cache) Store1(a uintptr, o otag.Otag) {
	l := c.find(a)
	off := lineOffset(a)
	bit := uint8(1) << (a & 3)
	if o == otag.None {
		l.descr[off] &^= bit
		return
	}
	l.descr[off] |= bit
	l.w32[off] = o
}

// Store2 sets the origin of the 2 bytes at a.
func (c *Cache) Store2(a uintptr, o otag.Otag) {
	if a&1 != 0 {
		c.Store1(a, o)
		c.Store1(a+1, o)
		return
	}
	l := c.find(a)
	off := lineOffset(a)
	bits := uint8(3) << (a & 3)
	if o == otag.None {
		l.descr[off] &^= bits
		return
	}
	l.descr[off] |= bits
	l.w32[off] = o
}

// Store4 sets the origin of the 4 bytes at a.
func (c *Cache) Store4(a uintptr, o otag.Otag) {
	if a&3 != 0 {
		c.Store2(a, o)
		c.Store2(a+2, o)
		return
	}
	l := c.find(a)
	off := lineOffset(a)
	if o == otag.None {
		l.descr[off] = 0
		return
	}
	l.descr[off] = 0xf
	l.w32[off] = o
}

// Store8 sets the origin of the 8 bytes at a.
func (c *Cache) Store8(a uintptr, o otag.Otag) {
	if a&7 != 0 {
		c.Store4(a, o)
		c.Store4(a+4, o)
		return
	}
	l := c.find(a)
	off := lineOffset(a)
	if o == otag.None {
		l.descr[off] = 0
		l.descr[off+1] = 0
		return
	}
	l.descr[off] = 0xf
	l.descr[off+1] = 0xf
	l.w32[off] = o
	l.w32[off+1] = o
}

// Store16 sets the origin of the 16 bytes at a.
func (c *Cache) Store16(a uintptr, o otag.Otag) {
	c.Store8(a, o)
	c.Store8(a+8, o)
}

// SetOrigins tags every byte of [a, a+n) with o.
func (c *Cache) SetOrigins(a, n uintptr, o otag.Otag) {
	if a&1 != 0 && n >= 1 {
		c.Store1(a, o)
		a++
		n--
	}
	if a&2 != 0 && n >= 2 {
		c.Store2(a, o)
		a += 2
		n -= 2
	}
	for ; n >= 4; a, n = a+4, n-4 {
		c.Store4(a, o)
	}
	if n >= 2 {
		c.Store2(a, o)
		a += 2
		n -= 2
	}
	if n >= 1 {
		c.Store1(a, o)
	}
}

// ClearOrigins removes the origin of every byte of [a, a+n).
func (c *Cache) ClearOrigins(a, n uintptr) {
	c.SetOrigins(a, n, otag.None)
}

// Check verifies the representation invariants of both levels.
func (c *Cache) Check() error {
	for i := range c.sets {
		for w := range c.sets[i] {
			l := &c.sets[i][w]
			if l.tag == invalidTag {
				continue
			}
			if err := checkLine(l); err != nil {
				return fmt.Errorf("ocache: set %d way %d: %w", i, w, err)
			}
			if (l.tag>>LineBits)&c.setMask != uintptr(i) {
				return fmt.Errorf("ocache: line %#x cached in wrong set %d", l.tag, i)
			}
		}
	}
	var err error
	c.l2.Ascend(func(l *line) bool {
		if err = checkLine(l); err != nil {
			err = fmt.Errorf("ocache: L2: %w", err)
			return false
		}
		return true
	})
	return err
}

func checkLine(l *line) error {
	if l.tag&(LineSize-1) != 0 {
		return fmt.Errorf("unaligned tag %#x", l.tag)
	}
	for i, d := range l.descr {
		if d&^0xf != 0 {
			return fmt.Errorf("line %#x descriptor %d is %#x", l.tag, i, d)
		}
	}
	return nil
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.L2Nodes = c.l2.Len()
	return s
}
