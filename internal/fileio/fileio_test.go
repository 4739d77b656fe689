package fileio

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/stream"
)

type capturingSlave struct {
	stream.BaseSlave
	got []*stream.Frame
}

func (s *capturingSlave) AcceptFrame(f *stream.Frame) error {
	s.got = append(s.got, f)
	return nil
}

func writeFrame(t *testing.T, w *Writer, payload []byte, channel uint8) {
	t.Helper()
	frame, err := w.AcceptReq(uint32(len(payload)), true)
	require.NoError(t, err)
	stream.FromFrame(frame, 0, len(payload), payload)
	require.NoError(t, frame.SetPayload(uint32(len(payload)), true))
	frame.SetChannel(channel)
	require.NoError(t, w.AcceptFrame(frame))
}

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.rogue")

	w := NewWriter()
	require.NoError(t, w.Open(path))

	writeFrame(t, w, []byte("first record"), 1)
	writeFrame(t, w, []byte("second record, a bit longer"), 2)
	require.Equal(t, uint64(2), w.BankCount())
	require.NoError(t, w.Close())

	r := NewReader()
	sink := &capturingSlave{}
	r.AddSlave(sink)
	require.NoError(t, r.Open(path))
	require.NoError(t, r.CloseWait())

	require.Len(t, sink.got, 2)

	out0 := make([]byte, sink.got[0].PayloadSize())
	stream.ToFrame(sink.got[0], 0, len(out0), out0)
	require.Equal(t, "first record", string(out0))
	require.Equal(t, uint8(1), sink.got[0].Channel())

	out1 := make([]byte, sink.got[1].PayloadSize())
	stream.ToFrame(sink.got[1], 0, len(out1), out1)
	require.Equal(t, "second record, a bit longer", string(out1))
	require.Equal(t, uint8(2), sink.got[1].Channel())
}

func TestWriterRolloverChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolled.rogue")

	w := NewWriter()
	w.SetMaxSize(40)
	require.NoError(t, w.Open(path))

	for i := 0; i < 5; i++ {
		writeFrame(t, w, []byte("0123456789012345"), uint8(i))
	}
	require.NoError(t, w.Close())

	r := NewReader()
	sink := &capturingSlave{}
	r.AddSlave(sink)
	require.NoError(t, r.Open(path+".1"))
	require.NoError(t, r.CloseWait())

	require.Len(t, sink.got, 5)
	for i, f := range sink.got {
		require.Equal(t, uint8(i), f.Channel())
	}
}

func TestReaderIsActiveUntilDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.rogue")
	w := NewWriter()
	require.NoError(t, w.Open(path))
	writeFrame(t, w, []byte("payload"), 0)
	require.NoError(t, w.Close())

	r := NewReader()
	r.AddSlave(&capturingSlave{})
	require.NoError(t, r.Open(path))
	require.Eventually(t, func() bool { return !r.IsActive() }, time.Second, time.Millisecond)
}
