package shadowmem

import (
	"log/slog"

	"github.com/kolkov/memcheck/internal/memcheck/ocache"
	"github.com/kolkov/memcheck/internal/memcheck/primary"
	"github.com/kolkov/memcheck/internal/memcheck/secmap"
	"github.com/kolkov/memcheck/internal/memcheck/secvbits"
)

// Stats is a snapshot of engine statistics.
type Stats struct {
	Level           Level
	SecMaps         secmap.Counts
	Aux             primary.Stats
	AuxEntries      int
	SecVBits        secvbits.Stats
	Ocache          ocache.Stats // Zero below LevelOrigins.
	NIAHits         uint64
	NIAMisses       uint64
	SlowLoads       uint64
	SlowStores      uint64
	SanityCheap     uint64
	SanityExpensive uint64
}

// Stats returns a snapshot of engine statistics.
func (sm *ShadowMemory) Stats() Stats {
	s := Stats{
		Level:           sm.level,
		SecMaps:         *sm.pm.Counts(),
		Aux:             sm.pm.Stats(),
		AuxEntries:      sm.pm.AuxLen(),
		SecVBits:        sm.sec.Stats(),
		SlowLoads:       sm.counters.slowLoads,
		SlowStores:      sm.counters.slowStores,
		SanityCheap:     sm.counters.sanityCheap,
		SanityExpensive: sm.counters.sanityExpensive,
	}
	if sm.oc != nil {
		s.Ocache = sm.oc.Stats()
		s.NIAHits, s.NIAMisses = sm.nia.Hits, sm.nia.Misses
	}
	return s
}

// LogValue implements slog.LogValuer.
func (s Stats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("level", s.Level.String()),
		slog.Group("secmaps",
			slog.Int("noaccess", s.SecMaps.NoAccess),
			slog.Int("undefined", s.SecMaps.Undefined),
			slog.Int("defined", s.SecMaps.Defined),
			slog.Int("owned", s.SecMaps.Owned),
			slog.Int("max_owned", s.SecMaps.MaxOwned),
			slog.Int("issued", s.SecMaps.Issued),
			slog.Int("deissued", s.SecMaps.Deissued),
		),
		slog.Group("auxmap",
			slog.Int("entries", s.AuxEntries),
			slog.Uint64("l1_searches", s.Aux.L1Searches),
			slog.Uint64("l1_cmps", s.Aux.L1Cmps),
			slog.Uint64("l2_searches", s.Aux.L2Searches),
		),
		slog.Group("sec_vbits",
			slog.Int("nodes", s.SecVBits.Nodes),
			slog.Int("max_nodes", s.SecVBits.MaxNodes),
			slog.Int("limit", s.SecVBits.Limit),
			slog.Uint64("new_nodes", s.SecVBits.NewNodes),
			slog.Uint64("updates", s.SecVBits.Updates),
			slog.Uint64("gcs", uint64(s.SecVBits.GCs)),
		),
		slog.Uint64("slow_loads", s.SlowLoads),
		slog.Uint64("slow_stores", s.SlowStores),
		slog.Uint64("sanity_cheap", s.SanityCheap),
		slog.Uint64("sanity_expensive", s.SanityExpensive),
	}
	if s.Level == LevelOrigins {
		attrs = append(attrs,
			slog.Group("ocache",
				slog.Uint64("finds", s.Ocache.Finds),
				slog.Uint64("found_at_1", s.Ocache.FoundAt1),
				slog.Uint64("found_at_n", s.Ocache.FoundAtN),
				slog.Uint64("misses", s.Ocache.Misses),
				slog.Uint64("lossage", s.Ocache.Lossage),
				slog.Uint64("move_forwards", s.Ocache.MoveForwards),
				slog.Uint64("l2_refs", s.Ocache.L2Refs),
				slog.Uint64("l2_misses", s.Ocache.L2Misses),
				slog.Int("l2_nodes", s.Ocache.L2Nodes),
				slog.Int("l2_max_nodes", s.Ocache.L2MaxNodes),
			),
			slog.Group("nia_cache",
				slog.Uint64("hits", s.NIAHits),
				slog.Uint64("misses", s.NIAMisses),
			),
		)
	}
	return slog.GroupValue(attrs...)
}
