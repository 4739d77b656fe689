package srp

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/constants"
	"github.com/slac-rogue/rogue/internal/memory"
	"github.com/slac-rogue/rogue/internal/stream"
)

type capturingTransport struct {
	stream.BaseSlave
	frames []*stream.Frame
}

func (s *capturingTransport) AcceptFrame(f *stream.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

func buildResponseFrame(t *testing.T, header [constants.SRPHeaderWords]uint32, frameLen uint32, data []byte, tail uint32) *stream.Frame {
	t.Helper()
	frame, err := stream.NewHeapPool(frameLen).ReqFrame(frameLen, false)
	require.NoError(t, err)
	require.NoError(t, frame.SetPayload(frameLen, true))

	putHeader(frame, header)
	if len(data) > 0 {
		stream.FromFrame(frame, constants.SRPHeaderLen, len(data), data)
	}
	tailBuf := make([]byte, constants.SRPTailLen)
	binary.LittleEndian.PutUint32(tailBuf, tail)
	stream.FromFrame(frame, frameLen-constants.SRPTailLen, len(tailBuf), tailBuf)
	return frame
}

func TestDoTransactionBuildsWriteFrame(t *testing.T) {
	b := NewBridge()
	transport := &capturingTransport{}
	b.AddSlave(transport)

	data := []byte{1, 2, 3, 4}
	tran := memory.NewTransaction(0x100, 4, data, memory.TypeWrite, time.Second)
	b.DoTransaction(tran)

	require.Len(t, transport.frames, 1)
	frame := transport.frames[0]

	header := getHeader(frame)
	require.NotZero(t, header[0]&0x100, "write type bit must be set")
	require.Equal(t, uint32(constants.SRPStaticHeaderBits)|0x100|constants.SRPVersion, header[0])
	require.Equal(t, tran.ID(), header[1])
	require.Equal(t, uint32(0x100), header[2])
	require.Equal(t, uint32(0), header[3])
	require.Equal(t, uint32(3), header[4]) // size-1

	out := make([]byte, 4)
	stream.ToFrame(frame, constants.SRPHeaderLen, len(out), out)
	require.Equal(t, data, out)

	require.NotNil(t, b.GetTransaction(tran.ID()))
}

func TestDoTransactionPostCompletesImmediately(t *testing.T) {
	b := NewBridge()
	transport := &capturingTransport{}
	b.AddSlave(transport)

	tran := memory.NewTransaction(0x200, 4, []byte{9, 9, 9, 9}, memory.TypePost, time.Second)
	b.DoTransaction(tran)

	require.Equal(t, uint32(0), tran.Wait())
	require.Nil(t, b.GetTransaction(tran.ID()))
}

func TestAcceptFrameCompletesReadTransaction(t *testing.T) {
	b := NewBridge()
	transport := &capturingTransport{}
	b.AddSlave(transport)

	readBack := make([]byte, 4)
	tran := memory.NewTransaction(0x300, 4, readBack, memory.TypeRead, time.Second)
	b.DoTransaction(tran)
	require.Len(t, transport.frames, 1)

	expHeader, _, expLen := setupHeader(tran, false)
	respData := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	resp := buildResponseFrame(t, expHeader, expLen, respData, 0)

	require.NoError(t, b.AcceptFrame(resp))
	require.Equal(t, uint32(0), tran.Wait())
	require.Equal(t, respData, readBack)
	require.Nil(t, b.GetTransaction(tran.ID()))
}

func TestAcceptFrameReportsAxiFail(t *testing.T) {
	b := NewBridge()
	transport := &capturingTransport{}
	b.AddSlave(transport)

	tran := memory.NewTransaction(0x400, 4, make([]byte, 4), memory.TypeRead, time.Second)
	b.DoTransaction(tran)

	expHeader, _, expLen := setupHeader(tran, false)
	resp := buildResponseFrame(t, expHeader, expLen, make([]byte, 4), 0x02)

	require.NoError(t, b.AcceptFrame(resp))
	require.Equal(t, uint32(memory.ErrAxiFail|0x02), tran.Wait())
}

func TestDoTransactionRejectsBadAlignment(t *testing.T) {
	b := NewBridge()
	tran := memory.NewTransaction(0x401, 3, make([]byte, 3), memory.TypeRead, time.Second)
	b.DoTransaction(tran)
	require.Equal(t, uint32(memory.ErrAddressError), tran.Wait())
}
