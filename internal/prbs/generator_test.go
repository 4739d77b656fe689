package prbs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/stream"
)

type capturingSlave struct {
	stream.BaseSlave
	mu  sync.Mutex
	got []*stream.Frame
}

func (s *capturingSlave) AcceptFrame(f *stream.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, f)
	return nil
}

func (s *capturingSlave) frames() []*stream.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*stream.Frame(nil), s.got...)
}

func TestGeneratorGenFrameSelfChecks(t *testing.T) {
	gen := New()
	sink := &capturingSlave{}
	gen.AddSlave(sink)

	require.NoError(t, gen.GenFrame(32))
	require.Len(t, sink.got, 1)
	require.Equal(t, uint32(32), sink.got[0].PayloadSize())

	checker := New()
	require.NoError(t, checker.AcceptFrame(sink.got[0]))
	require.Equal(t, uint64(1), checker.RxCount())
	require.Equal(t, uint64(0), checker.RxErrors())
}

func TestGeneratorDetectsCorruptedPayload(t *testing.T) {
	gen := New()
	sink := &capturingSlave{}
	gen.AddSlave(sink)
	require.NoError(t, gen.GenFrame(32))

	frame := sink.got[0]
	buf := frame.BufferAt(0)
	raw := buf.Raw()
	raw[buf.HeadRoom()+16] ^= 0xFF

	checker := New()
	require.NoError(t, checker.AcceptFrame(frame))
	require.Equal(t, uint64(0), checker.RxCount())
	require.Equal(t, uint64(1), checker.RxErrors())
}

func TestGeneratorRejectsBadSize(t *testing.T) {
	gen := New()
	require.Error(t, gen.GenFrame(13))
}

func TestGeneratorSequenceTracking(t *testing.T) {
	gen := New()
	sink := &capturingSlave{}
	gen.AddSlave(sink)
	checker := New()

	for i := 0; i < 3; i++ {
		require.NoError(t, gen.GenFrame(32))
	}
	for _, f := range sink.got {
		require.NoError(t, checker.AcceptFrame(f))
	}
	require.Equal(t, uint64(3), checker.RxCount())
	require.Equal(t, uint64(0), checker.RxErrors())
}

func TestGeneratorWidth64RoundTrip(t *testing.T) {
	gen := New()
	require.NoError(t, gen.SetWidth(Width64))
	sink := &capturingSlave{}
	gen.AddSlave(sink)
	require.NoError(t, gen.GenFrame(64))

	checker := New()
	require.NoError(t, checker.SetWidth(Width64))
	require.NoError(t, checker.AcceptFrame(sink.got[0]))
	require.Equal(t, uint64(1), checker.RxCount())
}

func TestGeneratorSendCountMode(t *testing.T) {
	gen := New()
	gen.SendCount(true)
	gen.CheckPayload(false)
	sink := &capturingSlave{}
	gen.AddSlave(sink)
	require.NoError(t, gen.GenFrame(32))

	checker := New()
	checker.CheckPayload(false)
	require.NoError(t, checker.AcceptFrame(sink.got[0]))
	require.Equal(t, uint64(0), checker.RxErrors())
}

func TestGeneratorEnableDisable(t *testing.T) {
	gen := New()
	sink := &capturingSlave{}
	gen.AddSlave(sink)

	require.NoError(t, gen.Enable(32))
	require.Eventually(t, func() bool { return len(sink.frames()) >= 2 }, time.Second, time.Millisecond)
	gen.Disable()
	require.GreaterOrEqual(t, len(sink.frames()), 2)
}
