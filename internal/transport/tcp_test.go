package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/memory"
)

// echoRegisterSlave is a minimal memory.Slave standing in for hardware on
// the server side of the bridge: it stores bytes at an address and
// completes reads/writes directly, like internal/dma.RegisterSlave but
// without a real device.
type echoRegisterSlave struct {
	*memory.BaseSlave
	store map[uint64][]byte
}

func newEchoRegisterSlave() *echoRegisterSlave {
	return &echoRegisterSlave{
		BaseSlave: memory.NewBaseSlave(4, 4096),
		store:     make(map[uint64][]byte),
	}
}

func (e *echoRegisterSlave) DoTransaction(tran *memory.Transaction) {
	switch tran.Type {
	case memory.TypeWrite, memory.TypePost:
		buf := make([]byte, len(tran.Data))
		copy(buf, tran.Data)
		e.store[tran.Address] = buf
		tran.Done(0)
	case memory.TypeRead, memory.TypeVerify:
		buf, ok := e.store[tran.Address]
		if !ok || uint32(len(buf)) != tran.Size {
			tran.Done(memory.ErrAddressError)
			return
		}
		copy(tran.Data, buf)
		tran.Done(0)
	default:
		tran.Done(memory.ErrUnsupported)
	}
}

func TestTCPBridgeClientServerWriteThenRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCh := make(chan *TCPBridgeServer, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(serverCh)
			return
		}
		s := newTCPBridgeServer(conn)
		s.SetSlave(newEchoRegisterSlave())
		serverCh <- s
	}()

	client, err := DialTCPBridgeClient(ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	server := <-serverCh
	require.NotNil(t, server)
	defer server.Close()

	writeData := make([]byte, 4)
	binary.LittleEndian.PutUint32(writeData, 0xDEADBEEF)
	wTran := memory.NewTransaction(0x100, 4, writeData, memory.TypeWrite, 2*time.Second)
	client.DoTransaction(wTran)
	require.Equal(t, uint32(0), wTran.Wait())

	readData := make([]byte, 4)
	rTran := memory.NewTransaction(0x100, 4, readData, memory.TypeRead, 2*time.Second)
	client.DoTransaction(rTran)
	require.Equal(t, uint32(0), rTran.Wait())
	require.Equal(t, uint32(0xDEADBEEF), binary.LittleEndian.Uint32(readData))
}
