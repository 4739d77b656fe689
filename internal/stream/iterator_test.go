package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFilledFrame(t *testing.T, bufSize uint32, data []byte) *Frame {
	t.Helper()
	pool := NewHeapPool(bufSize)
	f, err := pool.ReqFrame(uint32(len(data)), false)
	require.NoError(t, err)
	n := FromFrame(f, 0, len(data), data)
	require.Equal(t, len(data), n)
	return f
}

func TestIteratorDerefAcrossBuffers(t *testing.T) {
	data := []byte("ABCDEFGHIJ") // 10 bytes, bufSize 4 -> 3 buffers
	f := buildFilledFrame(t, 4, data)

	it := f.Begin()
	for i := 0; i < len(data); i++ {
		require.Equal(t, data[i], it.Deref(), "index %d", i)
		it.Inc()
	}
	require.True(t, it.Eq(f.End()))
}

func TestIteratorAdvanceAndDiff(t *testing.T) {
	data := []byte("0123456789")
	f := buildFilledFrame(t, 3, data)

	it := f.Begin()
	it2 := it.Plus(7)
	require.Equal(t, byte('7'), it2.Deref())
	require.Equal(t, int64(7), it2.Diff(it))
	require.Equal(t, int64(-7), it.Diff(it2))

	it2.Advance(-7)
	require.True(t, it2.Eq(it))
}

func TestIteratorRelationalOps(t *testing.T) {
	data := []byte("abcdefgh")
	f := buildFilledFrame(t, 3, data)

	a := f.Begin()
	b := a.Plus(3)

	require.True(t, a.Lt(b))
	require.True(t, a.Le(b))
	require.True(t, b.Gt(a))
	require.True(t, b.Ge(a))
	require.False(t, a.Eq(b))
	require.True(t, a.Le(a))
	require.True(t, a.Ge(a))
}

func TestIteratorDecPastStart(t *testing.T) {
	data := []byte("xyz")
	f := buildFilledFrame(t, 8, data)

	it := f.Begin()
	it.Dec() // already at 0; must clamp, not go negative
	require.Equal(t, byte('x'), it.Deref())
}

func TestIteratorSetDeref(t *testing.T) {
	data := []byte("hello")
	f := buildFilledFrame(t, 2, data)

	it := f.Begin().Plus(1)
	it.SetDeref('E')

	dst := make([]byte, len(data))
	ToFrame(f, 0, len(dst), dst)
	require.Equal(t, []byte("hEllo"), dst)
}
