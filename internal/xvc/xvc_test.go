package xvc

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/logging"
)

func startTestServer(t *testing.T) net.Conn {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", NewLoopbackDriver(), 0, logging.New(&logging.Config{Level: logging.LevelError}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	go func() { _ = srv.Serve() }()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGetInfoReturnsMaxVectorLength(t *testing.T) {
	conn := startTestServer(t)

	_, err := conn.Write([]byte("getinfo:"))
	require.NoError(t, err)

	resp := make([]byte, len("xvcServer_v1.0:32768\n"))
	_, err = readFull(conn, resp)
	require.NoError(t, err)
	require.Equal(t, "xvcServer_v1.0:32768\n", string(resp))
}

func TestSetTckRoundTrip(t *testing.T) {
	conn := startTestServer(t)

	req := make([]byte, 11)
	copy(req, "settck:")
	binary.LittleEndian.PutUint32(req[7:], 1000)
	_, err := conn.Write(req)
	require.NoError(t, err)

	resp := make([]byte, 4)
	_, err = readFull(conn, resp)
	require.NoError(t, err)
	require.Equal(t, uint32(1000), binary.LittleEndian.Uint32(resp))

	// Requesting 0 merely retrieves the period already in effect.
	req2 := make([]byte, 11)
	copy(req2, "settck:")
	_, err = conn.Write(req2)
	require.NoError(t, err)
	resp2 := make([]byte, 4)
	_, err = readFull(conn, resp2)
	require.NoError(t, err)
	require.Equal(t, uint32(1000), binary.LittleEndian.Uint32(resp2))
}

func TestShiftLoopsTdiBackToTdo(t *testing.T) {
	conn := startTestServer(t)

	numBits := uint32(32)
	req := make([]byte, 10)
	copy(req, "shift:")
	binary.LittleEndian.PutUint32(req[6:], numBits)

	tms := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	tdi := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	_, err := conn.Write(req)
	require.NoError(t, err)
	_, err = conn.Write(tms)
	require.NoError(t, err)
	_, err = conn.Write(tdi)
	require.NoError(t, err)

	tdo := make([]byte, 4)
	_, err = readFull(conn, tdo)
	require.NoError(t, err)
	require.Equal(t, tdi, tdo)
}

func TestShiftRejectsOversizeVector(t *testing.T) {
	d := NewLoopbackDriver()
	c := &Connection{drv: d, maxVecLen: 4, rxb: make([]byte, 64), txb: make([]byte, 64)}
	binary.LittleEndian.PutUint32(c.rxb[6:], 1000) // 125 bytes, over the 4-byte cap
	copy(c.rxb, "shift:")
	c.rl = 10

	err := c.handleShift()
	require.Error(t, err)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return io.ReadFull(conn, buf)
}
