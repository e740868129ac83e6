package pipecache

// Line ages are a single signed scalar with banded meaning:
//
//	age < -N          hit-error marker, destroyed unconditionally on the next sweep
//	-N <= age < 0     important band, more negative = better protected
//	age == 0          produced this query, not yet aged
//	age > 0           ordinary aging counter, bumped on every query that misses the line
//
// ageDropSoon sits far above any counter a real pipeline can reach, so
// flushed or scratch lines lose every eviction tie-break immediately.
const (
	ageDropSoon = int32(1000)
	ageHitError = int32(-1000000)
)

// line is one slot of the cache arena. Slots are addressed by index and
// mutated only through Cache/Pipeline operations.
type line struct {
	buf       *Buffer
	size      int64
	basicHash uint64
	fullHash  uint64
	age       int32
	label     string // producing stage's display name, diagnostics only
	dsc       BufferDesc
}

func (l *line) holdsData() bool { return l.buf != nil }

// markStale invalidates the line's identity without freeing its buffer, so
// the allocation can be reused by a later request of the same size.
func (l *line) markStale() {
	l.basicHash = invalidHash
	l.fullHash = invalidHash
	l.age = ageDropSoon
}
