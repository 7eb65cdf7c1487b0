package secmap

// Counts tracks how many chunks refer to each kind of secondary map.
//
// Every change of a chunk's reference must be reported through Transition
// so that Issued-Deissued always equals the number of reachable private
// maps.
type Counts struct {
	NoAccess  int
	Undefined int
	Defined   int
	Owned     int

	MaxNoAccess  int
	MaxUndefined int
	MaxDefined   int
	MaxOwned     int

	// Issued and Deissued count private maps created and released.
	Issued   int
	Deissued int
}

// NewCounts returns counts for n chunks that all start out inaccessible.
func NewCounts(n int) Counts {
	return Counts{NoAccess: n, MaxNoAccess: n}
}

// Add records a new chunk referring to kind k.
func (c *Counts) Add(k Kind) {
	*c.slot(k)++
	c.updateMax()
}

// Transition records a chunk moving from one kind to another.
func (c *Counts) Transition(from, to Kind) {
	*c.slot(from)--
	if from == Owned {
		c.Deissued++
	}
	*c.slot(to)++
	if to == Owned {
		c.Issued++
	}
	c.updateMax()
}

// Live returns the number of private maps that should be reachable.
func (c *Counts) Live() int {
	return c.Issued - c.Deissued
}

func (c *Counts) slot(k Kind) *int {
	switch k {
	case NoAccess:
		return &c.NoAccess
	case Undefined:
		return &c.Undefined
	case Defined:
		return &c.Defined
	default:
		return &c.Owned
	}
}

func (c *Counts) updateMax() {
	c.MaxNoAccess = max(c.MaxNoAccess, c.NoAccess)
	c.MaxUndefined = max(c.MaxUndefined, c.Undefined)
	c.MaxDefined = max(c.MaxDefined, c.Defined)
	c.MaxOwned = max(c.MaxOwned, c.Owned)
}
