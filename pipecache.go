// Package pipecache implements the intermediate-result cache of a raster
// processing pipeline. Each pipeline instance owns one Cache holding a fixed
// number of lines; a line stores one aligned buffer tagged with the history
// hash that produced it. Lookups either return cached pixels or hand the
// caller a fresh buffer to fill, while an age-weighted eviction policy keeps
// the whole arena under an optional byte budget.
//
// The cache is not internally synchronized. Stages of one pipeline evaluate
// sequentially; concurrent pipelines each own an independent Cache.
package pipecache

import "fmt"

// Cache owns the line arena of one pipeline instance.
type Cache struct {
	config
	lines     []line
	usedBytes int64
	queries   uint64
	misses    uint64
}

func toMB(b int64) int64 {
	return (b + 0x80000) / (1 << 20)
}

// New creates a cache with the given number of lines. Two-line caches behave
// as a fixed ping-pong buffer pair and bypass all aging logic; larger caches
// grow lines on demand unless WithPreallocSize is set.
//
// A preallocation failure leaves the cache valid but empty and returns
// ErrAllocFailed: the pipeline keeps running, it merely re-renders more.
func New(entries int, opts ...Option) (*Cache, error) {
	if entries < 2 {
		return nil, fmt.Errorf("pipecache: need at least 2 lines, got %d", entries)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	c := &Cache{config: cfg, lines: make([]line, entries)}
	for k := range c.lines {
		c.lines[k].basicHash = invalidHash
		c.lines[k].fullHash = invalidHash
		c.lines[k].age = 1
	}
	if cfg.PreallocSize == 0 {
		return c, nil
	}

	// Fixed-size pipelines preallocate every line up front.
	for k := range c.lines {
		buf, err := allocAligned(cfg.PreallocSize)
		if err != nil {
			for j := range c.lines {
				c.freeLine(j)
			}
			log.Error("cache preallocation failed",
				"lines", entries, "line_size", cfg.PreallocSize, "error", err)
			return c, fmt.Errorf("preallocating %d lines of %d bytes: %w",
				entries, cfg.PreallocSize, ErrAllocFailed)
		}
		c.lines[k].buf = buf
		c.lines[k].size = cfg.PreallocSize
		c.usedBytes += cfg.PreallocSize
	}
	return c, nil
}

// Cleanup releases every owned buffer. The cache must not be used afterwards.
func (c *Cache) Cleanup() {
	for k := range c.lines {
		if c.lines[k].buf != nil {
			c.lines[k].buf.free()
		}
	}
	c.lines = nil
	c.usedBytes = 0
}

// IsAvailable reports whether some line currently holds exactly this
// (hash, size) pair. Pure probe: no aging, no counters.
func (c *Cache) IsAvailable(fullHash uint64, size int64) bool {
	for k := range c.lines {
		if c.lines[k].fullHash == fullHash && c.lines[k].size == size {
			return true
		}
	}
	return false
}

// ageFloor protects recently touched lines from eviction even when they are
// not marked important. Tunable heuristic, not an invariant.
func (c *Cache) ageFloor() int32 {
	return max(2, int32(len(c.lines)/8))
}

// oldestLine returns the line with the highest age above 1, so the line
// produced this very query (age <= 0, or freshly bumped to 1) is never
// chosen. Falls back to line 0.
func (c *Cache) oldestLine() int {
	weight := int32(1)
	id := 0
	for k := range c.lines {
		if c.lines[k].age > weight {
			weight = c.lines[k].age
			id = k
		}
	}
	return id
}

// oldestUsedLine returns the allocated line with the highest age above the
// given floor, or -1.
func (c *Cache) oldestUsedLine(floor int32) int {
	weight := floor
	id := -1
	for k := range c.lines {
		if c.lines[k].holdsData() && c.lines[k].age > weight {
			weight = c.lines[k].age
			id = k
		}
	}
	return id
}

// oldestFreeLine returns the unallocated line with the highest age above 1,
// or -1. Reusing an empty slot always beats evicting live data.
func (c *Cache) oldestFreeLine() int {
	weight := int32(1)
	id := -1
	for k := range c.lines {
		if !c.lines[k].holdsData() && c.lines[k].age > weight {
			weight = c.lines[k].age
			id = k
		}
	}
	return id
}

// oldestImportantLine returns the allocated line from the important band
// closest to losing its protection (least negative age), or -1. Hit-error
// lines sit below -len(lines) and are handled by the sweep that precedes
// this selector in CheckMem.
func (c *Cache) oldestImportantLine() int {
	weight := int32(-len(c.lines)) - 1
	id := -1
	for k := range c.lines {
		if c.lines[k].holdsData() && c.lines[k].age < 0 && c.lines[k].age > weight {
			weight = c.lines[k].age
			id = k
		}
	}
	return id
}

// selectLine picks the line a miss will (re)use.
func (c *Cache) selectLine() int {
	// Ping-pong pipelines toggle strictly by query parity.
	if len(c.lines) == 2 {
		return int(c.queries & 1)
	}

	if k := c.oldestFreeLine(); k >= 0 {
		return k
	}
	if k := c.oldestUsedLine(c.ageFloor()); k >= 0 {
		return k
	}
	return c.oldestLine()
}

// lookup scans for a full-hash match. A match with the wrong size is a hit
// error: the hash was too weak or stale, and reusing the data would corrupt
// the render. The line keeps its buffer (in-flight work may still read it)
// but is marked for unconditional destruction and excluded from hits.
func (c *Cache) lookup(fullHash uint64, size int64, name string) (*Buffer, *BufferDesc, bool) {
	for k := range c.lines {
		l := &c.lines[k]
		if l.fullHash != fullHash {
			continue
		}
		if l.size != size {
			log.Warn("cache hit error",
				"line", k, "age", l.age, "stage", name,
				"have_mb", toMB(l.size), "want_mb", toMB(size))
			l.basicHash = invalidHash
			l.fullHash = invalidHash
			l.age = ageHitError
			continue
		}

		log.Debug("cache hit",
			"line", k, "age", l.age, "important", l.age < 0,
			"stage", name, "hash", l.fullHash, "basic", l.basicHash)

		// A hit always keeps its line protected until the next full sweep.
		l.age = -int32(len(c.lines))
		return l.buf, &l.dsc, true
	}
	return nil, nil, false
}

// Get serves one stage request. It returns needsFill=false with the cached
// buffer and descriptor on a hit, or needsFill=true with a buffer of exactly
// the requested size (nil if allocation failed) that the caller must fill.
// The descriptor pointer aims at the line's private copy either way.
//
// The returned buffer is borrowed: it stays valid only until the next Get,
// Flush, or CheckMem that could evict or reallocate the same line.
func (p *Pipeline) Get(basicHash, fullHash uint64, size int64, dsc BufferDesc,
	name string, important bool) (needsFill bool, buf *Buffer, out *BufferDesc) {
	c := p.Cache
	if size <= 0 {
		return false, nil, nil
	}

	c.queries++
	for k := range c.lines {
		c.lines[k].age++ // age all entries
	}

	// Ping-pong caches keep no history, so skip the hash scan entirely.
	if len(c.lines) > 2 {
		if buf, d, ok := c.lookup(fullHash, size, name); ok {
			return false, buf, d
		}
	}

	cline := c.selectLine()
	l := &c.lines[cline]

	// Ping-pong lines are preallocated and only grow; general lines must
	// match the request exactly.
	needAlloc := (len(c.lines) == 2 && l.size < size) ||
		(len(c.lines) > 2 && l.size != size)
	if needAlloc {
		if l.buf != nil {
			l.buf.free()
		}
		c.usedBytes -= l.size
		l.buf = nil
		l.size = 0
		fresh, err := allocAligned(size)
		if err != nil {
			// Non-fatal: the stage sees a nil buffer and degrades.
			log.Error("cache line allocation failed",
				"line", cline, "size_mb", toMB(size), "stage", name, "error", err)
		} else {
			l.buf = fresh
			l.size = size
			c.usedBytes += size
		}
	}

	l.dsc = dsc
	l.basicHash = basicHash
	l.fullHash = fullHash
	l.label = name
	switch {
	case p.avoidsCaching():
		// Never let disposable preview output pollute the cache.
		l.age = ageDropSoon
	case important:
		l.age = -int32(len(c.lines))
	default:
		l.age = 0
	}
	c.misses++

	log.Debug("cache miss",
		"line", cline, "new", needAlloc, "important", important,
		"stage", name, "hash", fullHash, "basic", basicHash)

	return true, l.buf, &l.dsc
}

// Flush invalidates every line without freeing buffers, so a topology change
// can reuse the allocations instead of thrashing the allocator. The query
// counter keeps its low bit so ping-pong parity survives the flush.
func (c *Cache) Flush() {
	c.queries &= 1
	c.misses = c.queries
	for k := range c.lines {
		c.lines[k].markStale()
	}
}

// FlushAllBut invalidates every line except those produced by the chain
// identified by basicHash, which is known to still be valid upstream.
func (c *Cache) FlushAllBut(basicHash uint64) {
	for k := range c.lines {
		if c.lines[k].basicHash == basicHash {
			continue
		}
		c.lines[k].markStale()
	}
}

// Invalidate drops the cache identity of the line owning buf. Callers use it
// after mutating a buffer in place, when the hash no longer describes the
// bytes.
func (c *Cache) Invalidate(buf *Buffer) {
	if buf == nil {
		return
	}
	for k := range c.lines {
		if c.lines[k].buf == buf {
			c.lines[k].markStale()
		}
	}
}

// Reweight pins the line owning buf as maximally important. Used when the
// driver discovers post-hoc that a buffer must survive, e.g. a later
// non-adjacent stage re-reads it. No-op in passthrough/display modes:
// scratch preview data is never worth protecting.
func (p *Pipeline) Reweight(buf *Buffer, size int64) {
	if p.avoidsCaching() || buf == nil {
		return
	}
	c := p.Cache
	for k := range c.lines {
		l := &c.lines[k]
		if l.buf == buf && l.size == size {
			l.age = -int32(len(c.lines))
			log.Debug("cache reweight",
				"line", k, "stage", l.label, "hash", l.fullHash, "basic", l.basicHash)
		}
	}
}

// freeLine releases a line's buffer and resets its identity. This is the
// only path besides reallocation in Get that moves usedBytes downward.
func (c *Cache) freeLine(k int) int64 {
	l := &c.lines[k]
	removed := l.size
	if l.buf != nil {
		log.Debug("free cache line",
			"line", k, "age", l.age, "stage", l.label, "size_mb", toMB(removed))
		l.buf.free()
	}
	l.buf = nil
	l.size = 0
	l.basicHash = invalidHash
	l.fullHash = invalidHash
	l.label = ""
	l.age = ageDropSoon
	c.usedBytes -= removed
	return removed
}

// CheckMem reclaims lines down to the configured byte budget. Three passes:
// hit-error lines go unconditionally, then stale low-importance lines, then
// the important band starting with the line closest to losing protection.
// Ping-pong caches never reclaim.
func (p *Pipeline) CheckMem() {
	c := p.Cache
	if len(c.lines) == 2 {
		return
	}

	var freed int64
	var badGrp, lowGrp, highGrp int

	for k := range c.lines {
		if c.lines[k].age < -int32(len(c.lines)) {
			freed += c.freeLine(k)
			badGrp++
		}
	}

	if c.MemoryLimit != 0 {
		floor := c.ageFloor()
		for c.usedBytes > c.MemoryLimit {
			oldest := c.oldestUsedLine(floor)
			if oldest < 0 {
				break
			}
			freed += c.freeLine(oldest)
			lowGrp++
		}
		for c.usedBytes > c.MemoryLimit {
			oldest := c.oldestImportantLine()
			if oldest < 0 {
				break
			}
			freed += c.freeLine(oldest)
			highGrp++
		}
	}

	log.Info("cache reclaim",
		"lines", len(c.lines), "important", c.importantLines(), "holding", c.usedLines(),
		"freed_mb", toMB(freed), "bad", badGrp, "low", lowGrp, "high", highGrp,
		"used_mb", toMB(c.usedBytes), "limit_mb", toMB(c.MemoryLimit))
}

func (c *Cache) importantLines() int {
	important := 0
	for k := range c.lines {
		if c.lines[k].age < 0 {
			important++
		}
	}
	return important
}

func (c *Cache) usedLines() int {
	inUse := 0
	for k := range c.lines {
		if c.lines[k].holdsData() {
			inUse++
		}
	}
	return inUse
}
