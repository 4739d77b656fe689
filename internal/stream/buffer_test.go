package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferReservations(t *testing.T) {
	pool := NewHeapPool(64)
	f, err := pool.ReqFrame(64, false)
	require.NoError(t, err)
	b := f.BufferAt(0)

	require.Equal(t, uint32(64), b.RawSize())
	require.Equal(t, uint32(64), b.Size())

	require.NoError(t, b.AdjustHeader(8))
	require.Equal(t, uint32(8), b.HeadRoom())
	require.Equal(t, uint32(56), b.Size())

	require.NoError(t, b.AdjustTail(4))
	require.Equal(t, uint32(52), b.Size())

	err = b.AdjustHeader(-100)
	require.Error(t, err)
	require.True(t, IsBoundary(err))
}

func TestBufferPayload(t *testing.T) {
	pool := NewHeapPool(32)
	f, err := pool.ReqFrame(32, false)
	require.NoError(t, err)
	b := f.BufferAt(0)

	require.NoError(t, b.SetPayload(10))
	require.Equal(t, uint32(10), b.Payload())
	require.Equal(t, uint32(22), b.Available())

	require.NoError(t, b.MinPayload(5))
	require.Equal(t, uint32(10), b.Payload(), "MinPayload must not shrink")

	require.NoError(t, b.MinPayload(20))
	require.Equal(t, uint32(20), b.Payload())

	require.NoError(t, b.AdjustPayload(-15))
	require.Equal(t, uint32(5), b.Payload())

	require.Error(t, b.SetPayload(1000))
}

func TestBufferReleaseIsIdempotent(t *testing.T) {
	pool := NewHeapPool(16)
	f, err := pool.ReqFrame(16, false)
	require.NoError(t, err)
	b := f.BufferAt(0)

	b.Release()
	require.True(t, b.meta&(1<<30) != 0)

	// second release must not panic or double-count against the pool.
	b.Release()
}

func TestBufferBytesWindow(t *testing.T) {
	pool := NewHeapPool(16)
	f, err := pool.ReqFrame(16, false)
	require.NoError(t, err)
	b := f.BufferAt(0)

	require.NoError(t, b.AdjustHeader(2))
	require.NoError(t, b.SetPayload(4))
	copy(b.Bytes(), []byte{1, 2, 3, 4})

	require.Equal(t, []byte{1, 2, 3, 4}, b.Bytes())
	require.Equal(t, byte(0), b.Raw()[0])
	require.Equal(t, byte(1), b.Raw()[2])
}
