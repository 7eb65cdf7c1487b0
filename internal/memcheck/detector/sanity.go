package detector

import (
	"sync/atomic"
)

// SanityLevel selects which consistency checks the scheduler runs.
type SanityLevel int

const (
	// SanityOff runs no periodic checks.
	SanityOff SanityLevel = iota
	// SanityCheap runs the cheap check at every interval.
	SanityCheap
	// SanityExpensive runs the cheap and the expensive check at every
	// interval.
	SanityExpensive
)

// DefaultSanityInterval is the number of events between checks.
const DefaultSanityInterval = 1000

// SanityScheduler decides when periodic sanity checks are due.
//
// It counts events with an atomic counter and fires on every interval-th
// one, so it can sit on paths that are not otherwise synchronised.
//
// Thread Safety: All methods are safe for concurrent calls.
type SanityScheduler struct {
	level    SanityLevel
	interval uint64

	pos   uint64
	stats SchedulerStats
}

// SchedulerStats counts scheduler decisions.
type SchedulerStats struct {
	Events uint64
	Cheap  uint64
	Full   uint64
}

// NewSanityScheduler creates a scheduler. An interval of 0 selects
// DefaultSanityInterval.
func NewSanityScheduler(level SanityLevel, interval uint64) *SanityScheduler {
	if interval == 0 {
		interval = DefaultSanityInterval
	}
	return &SanityScheduler{level: level, interval: interval}
}

// Due records one event and returns the level of checking to run for it:
// SanityOff when nothing is due.
//
//go:nosplit
func (s *SanityScheduler) Due() SanityLevel {
	if s.level == SanityOff {
		return SanityOff
	}
	pos := atomic.AddUint64(&s.pos, 1)
	atomic.AddUint64(&s.stats.Events, 1)
	if pos%s.interval != 0 {
		return SanityOff
	}
	if s.level == SanityExpensive {
		atomic.AddUint64(&s.stats.Full, 1)
	} else {
		atomic.AddUint64(&s.stats.Cheap, 1)
	}
	return s.level
}

// Level returns the configured level.
func (s *SanityScheduler) Level() SanityLevel {
	return s.level
}

// Interval returns the number of events between checks.
func (s *SanityScheduler) Interval() uint64 {
	return s.interval
}

// Stats returns a copy of the scheduler statistics.
func (s *SanityScheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Events: atomic.LoadUint64(&s.stats.Events),
		Cheap:  atomic.LoadUint64(&s.stats.Cheap),
		Full:   atomic.LoadUint64(&s.stats.Full),
	}
}
