package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameToFromFrame(t *testing.T) {
	pool := NewHeapPool(8) // small buffers to force multi-buffer spans
	f, err := pool.ReqFrame(24, false)
	require.NoError(t, err)

	src := []byte("0123456789ABCDEF") // 16 bytes, spans 2+ buffers of 8
	n := FromFrame(f, 0, len(src), src)
	require.Equal(t, len(src), n)

	dst := make([]byte, len(src))
	n = ToFrame(f, 0, len(dst), dst)
	require.Equal(t, len(src), n)
	require.Equal(t, src, dst)
}

func TestFrameToFromFrameOffset(t *testing.T) {
	pool := NewHeapPool(8)
	f, err := pool.ReqFrame(24, false)
	require.NoError(t, err)

	full := []byte("abcdefghijklmnopqrstuvwx") // 24 bytes
	require.Equal(t, 24, FromFrame(f, 0, len(full), full))

	dst := make([]byte, 5)
	n := ToFrame(f, 10, len(dst), dst)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("klmno"), dst)
}

func TestFrameAppendFrame(t *testing.T) {
	pool := NewHeapPool(8)
	a, err := pool.ReqFrame(8, false)
	require.NoError(t, err)
	bFrame, err := pool.ReqFrame(8, false)
	require.NoError(t, err)

	a.AppendFrame(bFrame)
	require.Equal(t, 2, a.BufferCount())
	require.Equal(t, 0, bFrame.BufferCount())
}

func TestFrameSetPayloadNoShrink(t *testing.T) {
	pool := NewHeapPool(8)
	f, err := pool.ReqFrame(16, false)
	require.NoError(t, err)
	require.NoError(t, f.BufferAt(0).SetPayload(8))
	require.NoError(t, f.BufferAt(1).SetPayload(8))

	// shrink=false must not truncate payload already above the target.
	require.NoError(t, f.SetPayload(4, false))
	require.Equal(t, uint32(16), f.PayloadSize())
}

func TestFrameSetPayloadShrink(t *testing.T) {
	pool := NewHeapPool(8)
	f, err := pool.ReqFrame(16, false)
	require.NoError(t, err)

	require.NoError(t, f.SetPayload(12, true))
	require.Equal(t, uint32(12), f.PayloadSize())
	require.Equal(t, uint32(8), f.BufferAt(0).Payload())
	require.Equal(t, uint32(4), f.BufferAt(1).Payload())
}

func TestFrameFlagsErrChannel(t *testing.T) {
	f := NewFrame()
	f.SetFlags(0xA)
	require.Equal(t, uint32(0xA), f.Flags())

	f.SetChannel(7)
	require.Equal(t, uint8(7), f.Channel())

	require.Nil(t, f.Err())
	sentinel := boundaryErr("test")
	f.SetErr(sentinel)
	require.Equal(t, sentinel, f.Err())
}

func TestFrameRelease(t *testing.T) {
	pool := NewHeapPool(8)
	f, err := pool.ReqFrame(16, false)
	require.NoError(t, err)
	require.Equal(t, 2, f.BufferCount())

	f.Release()
	require.Equal(t, 0, f.BufferCount())
}
