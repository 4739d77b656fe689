package dma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/stream"
)

type capturingSlave struct {
	stream.BaseSlave
	got chan *stream.Frame
}

func newCapturingSlave() *capturingSlave {
	return &capturingSlave{got: make(chan *stream.Frame, 8)}
}

func (s *capturingSlave) AcceptFrame(f *stream.Frame) error {
	s.got <- f
	return nil
}

func TestEngineDeliversFilledBuffer(t *testing.T) {
	dev := newFakeDevice(32, 4)
	e, err := NewEngine(dev)
	require.NoError(t, err)

	sink := newCapturingSlave()
	e.AddSlave(sink)

	payload := []byte("hello dma engine")
	dev.fill(2, payload)

	e.Start()
	defer e.Stop()

	select {
	case frame := <-sink.got:
		buf := frame.BufferAt(0)
		out := make([]byte, len(payload))
		stream.ToFrame(frame, 0, len(out), out)
		require.Equal(t, payload, out)
		require.NotZero(t, buf.Payload())
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not deliver a frame in time")
	}
}
