package pipecache

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAllocAligned_Alignment(t *testing.T) {
	for _, size := range []int64{1, 64, 1000, 4096, 1 << 20} {
		buf, err := allocAligned(size)
		require.NoError(t, err)
		require.EqualValues(t, size, buf.Size())
		require.Len(t, buf.Bytes(), int(size))

		addr := uintptr(unsafe.Pointer(&buf.Bytes()[0]))
		require.Zero(t, addr%bufferAlign, "buffer for size %d not %d-byte aligned", size, bufferAlign)
		buf.free()
	}
}

func TestAllocAligned_InvalidSize(t *testing.T) {
	for _, size := range []int64{0, -1, -4096} {
		_, err := allocAligned(size)
		require.Error(t, err)
	}
}

func TestBuffer_WritableFullRange(t *testing.T) {
	buf, err := allocAligned(12345)
	require.NoError(t, err)
	defer buf.free()

	b := buf.Bytes()
	b[0] = 0xA5
	b[len(b)-1] = 0x5A
	require.Equal(t, byte(0xA5), buf.Bytes()[0])
	require.Equal(t, byte(0x5A), buf.Bytes()[len(b)-1])
}

func TestBuffer_FreeIdempotent(t *testing.T) {
	buf, err := allocAligned(512)
	require.NoError(t, err)
	buf.free()
	buf.free() // second free must be a no-op
	require.Zero(t, buf.Size())
}
