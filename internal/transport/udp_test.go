package transport

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

func TestUDPClientServerRoundTrip(t *testing.T) {
	server, err := NewUDPServer(0, 1024)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewUDPClient("127.0.0.1", server.Port(), 1024)
	require.NoError(t, err)
	defer client.Close()

	serverSink := newCapturingSlave()
	server.AddSlave(serverSink)
	clientSink := newCapturingSlave()
	client.AddSlave(clientSink)

	payload := []byte("hello udp transport")
	frame, err := client.AcceptReq(uint32(len(payload)), false)
	require.NoError(t, err)
	stream.FromFrame(frame, 0, len(payload), payload)
	require.NoError(t, frame.SetPayload(uint32(len(payload)), true))
	require.NoError(t, client.AcceptFrame(frame))

	select {
	case got := <-serverSink.got:
		out := make([]byte, len(payload))
		stream.ToFrame(got, 0, len(out), out)
		require.Equal(t, payload, out)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame in time")
	}

	reply := []byte("ack")
	rframe, err := server.AcceptReq(uint32(len(reply)), false)
	require.NoError(t, err)
	stream.FromFrame(rframe, 0, len(reply), reply)
	require.NoError(t, rframe.SetPayload(uint32(len(reply)), true))
	require.NoError(t, server.AcceptFrame(rframe))

	select {
	case got := <-clientSink.got:
		out := make([]byte, len(reply))
		stream.ToFrame(got, 0, len(out), out)
		require.Equal(t, reply, out)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive reply in time")
	}
}

func TestUDPClientSetTimeoutClampsZero(t *testing.T) {
	server, err := NewUDPServer(0, 1024)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewUDPClient("127.0.0.1", server.Port(), 1024)
	require.NoError(t, err)
	defer client.Close()

	client.SetTimeout(0)
	client.mu.Lock()
	defer client.mu.Unlock()
	require.Equal(t, time.Nanosecond, client.timeout)
}
