package pipecache

import (
	"encoding/binary"
	"math"
)

// ROI describes the region of interest a stage renders: the output window in
// pipeline coordinates plus the zoom scale. It enters the full hash byte for
// byte, so two requests over different regions never alias.
type ROI struct {
	X, Y          int32
	Width, Height int32
	Scale         float32
}

func (r ROI) appendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(r.X))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Y))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Width))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Height))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(r.Scale))
	return b
}

// PixelFormat is the element type of a buffer.
type PixelFormat int32

const (
	FormatFloat32 PixelFormat = iota
	FormatUint16
	FormatUint8
)

// BufferDesc describes the pixel layout of a cached buffer. The cache stores
// a private copy per line and hands out a pointer into that copy, so callers
// must not retain descriptor pointers across cache teardown.
type BufferDesc struct {
	Width    int32
	Height   int32
	Channels int32
	Format   PixelFormat
	Filters  uint32 // mosaic pattern for raw data, 0 for plain raster
}
