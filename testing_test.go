package rogue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/memory"
	"github.com/slac-rogue/rogue/internal/stream"
)

func TestMockStreamSlaveRecordsFrames(t *testing.T) {
	master := &stream.BaseMaster{}
	sink := NewMockStreamSlave()
	master.AddSlave(sink)

	frame, err := master.ReqFrame(8, true)
	require.NoError(t, err)
	require.NoError(t, master.SendFrame(frame))

	require.Equal(t, 1, sink.AcceptCount())
	require.Len(t, sink.Frames(), 1)

	sink.Reset()
	require.Equal(t, 0, sink.AcceptCount())
	require.Empty(t, sink.Frames())
}

func TestMockMemorySlaveWriteThenRead(t *testing.T) {
	master := memory.NewBaseMaster()
	slave := NewMockMemorySlave(4, 4096)
	master.SetSlave(slave)

	id := master.ReqTransaction(0x100, 4, []byte{1, 2, 3, 4}, memory.TypeWrite)
	require.Equal(t, uint32(0), master.WaitTransaction(id))

	data := make([]byte, 4)
	id = master.ReqTransaction(0x100, 4, data, memory.TypeRead)
	require.Equal(t, uint32(0), master.WaitTransaction(id))
	require.Equal(t, []byte{1, 2, 3, 4}, data)
	require.Equal(t, 2, slave.CallCount())

	stored, ok := slave.Peek(0x100)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4}, stored)
}

func TestMockMemorySlaveFailAt(t *testing.T) {
	master := memory.NewBaseMaster()
	slave := NewMockMemorySlave(4, 4096)
	slave.FailAt(0x200, memory.ErrAxiTimeout)
	master.SetSlave(slave)

	id := master.ReqTransaction(0x200, 4, make([]byte, 4), memory.TypeRead)
	require.Equal(t, memory.ErrAxiTimeout, master.WaitTransaction(id))
}
