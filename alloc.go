package pipecache

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// bufferAlign is the alignment the pixel kernels require. Mmap returns
// page-aligned regions, which is strictly stronger.
const bufferAlign = 64

// Buffer is one owned allocation backing a cache line. Callers receive it as
// a borrowed handle from Get; it stays valid only until the next mutating
// cache call that could evict or reallocate the same line.
type Buffer struct {
	raw     []byte
	size    int64
	cleanup runtime.Cleanup
}

// Bytes returns the writable pixel region, clipped to the requested size.
func (b *Buffer) Bytes() []byte {
	return b.raw[:b.size]
}

func (b *Buffer) Size() int64 { return b.size }

func roundToPage(size int64) int64 {
	const pageSize = 4096
	return (size + pageSize - 1) &^ (pageSize - 1)
}

// allocAligned mmaps the requested size, rounded up to the page boundary.
// Unlike a slab pool it returns an error rather than panicking: an
// allocation failure must degrade a single stage, not kill the pipeline.
func allocAligned(size int64) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("allocAligned: invalid size %d", size)
	}
	data, err := unix.Mmap(-1, 0, int(roundToPage(size)),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("allocAligned: mmap %d bytes: %w", size, err)
	}
	b := &Buffer{raw: data, size: size}
	// Backstop for handles that escape the cache's ownership (leaked by a
	// caller that retained a borrowed buffer past a flush).
	b.cleanup = runtime.AddCleanup(b, func(d []byte) { _ = unix.Munmap(d) }, data)
	return b, nil
}

// free unmaps the region immediately. The cache calls this on eviction so
// reclaim is prompt rather than GC-paced.
func (b *Buffer) free() {
	if b.raw == nil {
		return
	}
	b.cleanup.Stop()
	_ = unix.Munmap(b.raw)
	b.raw = nil
	b.size = 0
}
