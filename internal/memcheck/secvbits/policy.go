package secvbits

// Collection policy. These are pure functions of the table state so they
// can be tested without building a table.
const (
	// MaxSurvivorProportion is the share of the limit that may survive a
	// collection before the limit grows.
	MaxSurvivorProportion = 0.5

	// GrowthFactor multiplies the limit when too many nodes survive.
	GrowthFactor = 2

	// MaxStaleAge is the number of collections a node is kept after its
	// last update, whether or not it is still needed.
	MaxStaleAge = 2

	// InitialLimit is the population that triggers the first collection.
	InitialLimit = 1024
)

// GenerationClock counts completed collections. Wrapping is harmless:
// ages are computed with unsigned subtraction.
type GenerationClock struct {
	gcs uint32
}

// Now returns the current generation.
func (c GenerationClock) Now() uint32 {
	return c.gcs
}

// Tick starts a new generation and returns it.
func (c *GenerationClock) Tick() uint32 {
	c.gcs++
	return c.gcs
}

// ShouldCollect reports whether inserting one more node into a table of
// the given population requires a collection first.
func ShouldCollect(population, limit int) bool {
	return population >= limit
}

// Fresh reports whether a node last touched in generation lastTouched is
// young enough to survive regardless of its contents.
func Fresh(now, lastTouched uint32) bool {
	return now-lastTouched <= MaxStaleAge
}

// NextLimit returns the limit to use after a collection that left
// survivors nodes alive.
func NextLimit(limit, survivors int) int {
	if float64(survivors) > float64(limit)*MaxSurvivorProportion {
		return limit * GrowthFactor
	}
	return limit
}
