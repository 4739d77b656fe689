package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSlave struct {
	BaseSlave
	received []*Frame
}

func (s *recordingSlave) AcceptFrame(f *Frame) error {
	s.received = append(s.received, f)
	return nil
}

func TestBaseMasterFanOut(t *testing.T) {
	m := &BaseMaster{}
	s1 := &recordingSlave{}
	s2 := &recordingSlave{}
	m.AddSlave(s1)
	m.AddSlave(s2)

	f := NewFrame()
	require.NoError(t, m.SendFrame(f))

	require.Len(t, s1.received, 1)
	require.Len(t, s2.received, 1)
	require.Same(t, f, s1.received[0])
}

func TestBaseMasterReqFrameDelegatesToSlave(t *testing.T) {
	m := &BaseMaster{}
	s := &recordingSlave{}
	s.SetPool(NewHeapPool(32))
	m.AddSlave(s)

	f, err := m.ReqFrame(32, false)
	require.NoError(t, err)
	require.Equal(t, 1, f.BufferCount())
}

func TestBaseMasterReqFrameFallsBackWithoutSlave(t *testing.T) {
	m := &BaseMaster{}
	f, err := m.ReqFrame(16, false)
	require.NoError(t, err)
	require.Equal(t, 1, f.BufferCount())
}
