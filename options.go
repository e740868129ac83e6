package pipecache

import "errors"

// config holds internal configuration
type config struct {
	PreallocSize int64 // 0 = lines grow on demand; >0 = every line preallocated to this size
	MemoryLimit  int64 // Byte budget enforced by CheckMem; 0 = unlimited
}

// Option configures a Cache
type Option interface {
	apply(*config)
}

// funcOpt wraps a function as an Option
type funcOpt func(*config)

func (f funcOpt) apply(c *config) {
	f(c)
}

// WithPreallocSize preallocates every line to the given byte size at
// construction time. This is used by fixed-size double-buffered pipelines
// (export, thumbnail) that only ever ping-pong between two lines.
func WithPreallocSize(size int64) Option {
	return funcOpt(func(c *config) {
		c.PreallocSize = size
	})
}

// WithMemoryLimit sets the byte budget CheckMem reclaims down to (0 = unlimited)
func WithMemoryLimit(limit int64) Option {
	return funcOpt(func(c *config) {
		c.MemoryLimit = limit
	})
}

// Common errors
var (
	// ErrAllocFailed indicates a buffer could not be mapped. The cache
	// stays usable; the affected lines simply hold no data.
	ErrAllocFailed = errors.New("buffer allocation failed")
)

// defaultConfig returns sensible defaults
func defaultConfig() config {
	return config{
		PreallocSize: 0, // Grow on demand
		MemoryLimit:  0, // Unlimited until the driver sets a budget
	}
}
