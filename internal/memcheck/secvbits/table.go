// Package secvbits stores exact V bits for partially defined bytes.
//
// The compact shadow encoding can only say that a byte is "partially
// defined". The actual 8 V bits of such a byte are kept here, in nodes
// covering 16 aligned bytes each, ordered by address in a B-tree.
//
// Nodes are not removed when the bytes they describe are overwritten with
// fully defined or fully undefined values; doing so would slow down every
// store. Instead the table is garbage collected whenever its population
// reaches a limit. A node survives a collection if it was touched within
// the last MaxStaleAge collections, or if any of its bytes is still
// partially defined in the compact encoding. If more than half the limit
// survives, the limit doubles.
//
// Thread Safety: NOT safe for concurrent use.
package secvbits

import (
	"fmt"
	"log/slog"

	"github.com/google/btree"

	"github.com/kolkov/memcheck/internal/memcheck/vabits"
)

// BytesPerNode is the number of target bytes described by one node.
const BytesPerNode = 16

const btreeDegree = 32

type node struct {
	a           uintptr
	vbits8      [BytesPerNode]uint8
	lastTouched uint32
}

// PartQuery reports whether the compact encoding currently marks address a
// as partially defined.
type PartQuery func(a uintptr) bool

// Stats describes side table activity.
type Stats struct {
	NewNodes uint64 // Nodes created.
	Updates  uint64 // Writes into existing nodes.
	GCs      uint32 // Collections run.
	Nodes    int    // Current population.
	MaxNodes int    // Highest population seen.
	Limit    int    // Population that triggers the next collection.
}

// Table is the side table of one shadow memory instance.
type Table struct {
	tree   *btree.BTreeG[*node]
	limit  int
	clock  GenerationClock
	isPart PartQuery
	log    *slog.Logger
	stats  Stats
}

// New creates an empty table. isPart is consulted during collections to
// decide whether stale nodes still describe live bytes.
func New(isPart PartQuery, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Table{
		tree:   newTree(),
		limit:  InitialLimit,
		isPart: isPart,
		log:    logger,
	}
}

func newTree() *btree.BTreeG[*node] {
	return btree.NewG[*node](btreeDegree, func(a, b *node) bool {
		return a.a < b.a
	})
}

func alignDown(a uintptr) uintptr {
	return a &^ (BytesPerNode - 1)
}

// Get returns the V bits of the partially defined byte at a.
//
// Panics if no node covers a or if the stored value is fully defined or
// fully undefined; either means the compact encoding and the table have
// diverged.
func (t *Table) Get(a uintptr) uint8 {
	n, ok := t.tree.Get(&node{a: alignDown(a)})
	if !ok {
		panic(fmt.Sprintf("secvbits: no node for address %#x (%#x)", alignDown(a), a))
	}
	v := n.vbits8[a%BytesPerNode]
	if v == vabits.VBits8Defined || v == vabits.VBits8Undefined {
		panic(fmt.Sprintf("secvbits: byte %#x holds uniform V bits %#02x", a, v))
	}
	return v
}

// Set records the V bits of a partially defined byte.
//
// Panics if vbits8 is fully defined or fully undefined; such bytes belong
// in the compact encoding only.
func (t *Table) Set(a uintptr, vbits8 uint8) {
	if vbits8 == vabits.VBits8Defined || vbits8 == vabits.VBits8Undefined {
		panic(fmt.Sprintf("secvbits: refusing uniform V bits %#02x for %#x", vbits8, a))
	}

	aligned := alignDown(a)
	if n, ok := t.tree.Get(&node{a: aligned}); ok {
		n.vbits8[a%BytesPerNode] = vbits8
		n.lastTouched = t.clock.Now()
		t.stats.Updates++
		return
	}

	// Other bytes of a new node are never read while they are not
	// partially defined; fill them with undefined.
	n := &node{a: aligned, lastTouched: t.clock.Now()}
	for i := range n.vbits8 {
		n.vbits8[i] = vabits.VBits8Undefined
	}
	n.vbits8[a%BytesPerNode] = vbits8

	// Collect before inserting so the new node cannot be evicted.
	if ShouldCollect(t.tree.Len(), t.limit) {
		t.Collect()
	}

	t.tree.ReplaceOrInsert(n)
	t.stats.NewNodes++
	t.stats.MaxNodes = max(t.stats.MaxNodes, t.tree.Len())
}

// Has reports whether a node covers address a.
func (t *Table) Has(a uintptr) bool {
	return t.tree.Has(&node{a: alignDown(a)})
}

// Len returns the number of nodes.
func (t *Table) Len() int {
	return t.tree.Len()
}

// Limit returns the population that triggers the next collection.
func (t *Table) Limit() int {
	return t.limit
}

// Generation returns the number of collections run so far.
func (t *Table) Generation() uint32 {
	return t.clock.Now()
}

// Collect evicts every node that is both old and no longer describes a
// partially defined byte, then adjusts the limit.
func (t *Table) Collect() {
	now := t.clock.Tick()

	before := t.tree.Len()
	var evict []*node
	t.tree.Ascend(func(n *node) bool {
		if !t.keep(n, now) {
			evict = append(evict, n)
		}
		return true
	})
	for _, n := range evict {
		t.tree.Delete(n)
	}
	survivors := t.tree.Len()

	t.log.Debug("sec-vbits gc",
		"generation", now,
		"nodes", before,
		"survivors", survivors)

	if next := NextLimit(t.limit, survivors); next != t.limit {
		t.limit = next
		t.log.Debug("sec-vbits table grown", "limit", next)
	}
}

func (t *Table) keep(n *node, now uint32) bool {
	if Fresh(now, n.lastTouched) {
		return true
	}
	for i := uintptr(0); i < BytesPerNode; i++ {
		if t.isPart(n.a + i) {
			return true
		}
	}
	return false
}

// Stats returns a snapshot of table statistics.
func (t *Table) Stats() Stats {
	s := t.stats
	s.GCs = t.clock.Now()
	s.Nodes = t.tree.Len()
	s.Limit = t.limit
	return s
}
