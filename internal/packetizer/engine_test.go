package packetizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/stream"
)

type capturingSlave struct {
	stream.BaseSlave

	mu       sync.Mutex
	segments []*stream.Frame
}

func (s *capturingSlave) AcceptFrame(f *stream.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, f)
	return nil
}

func (s *capturingSlave) snapshot() []*stream.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*stream.Frame, len(s.segments))
	copy(out, s.segments)
	return out
}

type finalSlave struct {
	stream.BaseSlave
	got *stream.Frame
}

func (s *finalSlave) AcceptFrame(f *stream.Frame) error {
	s.got = f
	return nil
}

func TestApplicationTxTransportRxRoundTrip(t *testing.T) {
	e := NewEngine(true, true, 32) // small segments (16 bytes payload each) to force multiple of them

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	defer func() {
		cancel()
		e.Stop()
	}()

	capture := &capturingSlave{}
	e.AddSlave(capture)

	final := &finalSlave{}
	e.SetApplication(0x05, final)

	appFrame, err := e.ReqFrame(40)
	require.NoError(t, err)
	require.NoError(t, appFrame.SetPayload(40, true))

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	n := stream.FromFrame(appFrame, 0, len(payload), payload)
	require.Equal(t, len(payload), n)

	appFrame.SetFlags(0xAB) // fUser in low byte

	require.NoError(t, e.ApplicationTx(appFrame, 0x05, 0x07))

	var segments []*stream.Frame
	require.Eventually(t, func() bool {
		segments = capture.snapshot()
		return len(segments) > 0
	}, time.Second, time.Millisecond)

	for _, seg := range segments {
		e.TransportRx(seg)
	}

	require.NotNil(t, final.got)
	require.Equal(t, uint32(len(payload)), final.got.PayloadSize())

	out := make([]byte, len(payload))
	stream.ToFrame(final.got, 0, len(out), out)
	require.Equal(t, payload, out)

	require.Equal(t, uint8(0xAB), uint8(final.got.Flags()&0xFF))     // fUser
	require.Equal(t, uint8(0x07), uint8((final.got.Flags()>>16)&0xFF)) // tId
	require.Equal(t, uint8(0x05), uint8((final.got.Flags()>>24)&0xFF)) // dest
}

func TestTransportRxDropsShortFrame(t *testing.T) {
	e := NewEngine(false, false, 16)
	pool := stream.NewHeapPool(16)
	f, err := pool.ReqFrame(16, false)
	require.NoError(t, err)
	require.NoError(t, f.BufferAt(0).SetPayload(16)) // below the 24-byte minimum

	e.TransportRx(f)
	require.Equal(t, uint64(1), e.Metrics().DropCount.Load())
}

func TestTransportRxDropsBadVersion(t *testing.T) {
	e := NewEngine(false, false, 32)
	pool := stream.NewHeapPool(32)
	f, err := pool.ReqFrame(32, false)
	require.NoError(t, err)
	require.NoError(t, f.BufferAt(0).SetPayload(32))
	f.BufferAt(0).Raw()[0] = 0x3 // wrong version nibble

	e.TransportRx(f)
	require.Equal(t, uint64(1), e.Metrics().DropCount.Load())
}
