package pipecache

import "fmt"

// Stats is a read-only aggregation of the cache state.
type Stats struct {
	Lines     int
	Important int // lines currently in the important band
	Holding   int // lines currently holding data
	UsedBytes int64
	Limit     int64
	Queries   uint64
	Misses    uint64
}

func (c *Cache) Stats() Stats {
	return Stats{
		Lines:     len(c.lines),
		Important: c.importantLines(),
		Holding:   c.usedLines(),
		UsedBytes: c.usedBytes,
		Limit:     c.MemoryLimit,
		Queries:   c.queries,
		Misses:    c.misses,
	}
}

func (s Stats) HitRate() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.Queries-s.Misses) / float64(s.Queries)
}

func (s Stats) String() string {
	return fmt.Sprintf("%d lines (important=%d, used=%d). Used %dMB, limit=%dMB. Hitrate=%.2f",
		s.Lines, s.Important, s.Holding, toMB(s.UsedBytes), toMB(s.Limit), s.HitRate())
}

// Report logs and returns the diagnostics line for this pipeline's cache.
func (p *Pipeline) Report() string {
	s := p.Cache.Stats()
	log.Info("cache report",
		"lines", s.Lines, "important", s.Important, "holding", s.Holding,
		"used_mb", toMB(s.UsedBytes), "limit_mb", toMB(s.Limit),
		"hit_rate", s.HitRate())
	return s.String()
}
