package dma

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slac-rogue/rogue/internal/memory"
)

func TestRegisterSlaveWriteThenRead(t *testing.T) {
	dev := newFakeDevice(64, 1)
	s := NewRegisterSlave(dev)

	writeData := make([]byte, 4)
	binary.LittleEndian.PutUint32(writeData, 0xCAFEBABE)
	wTran := memory.NewTransaction(0x10, 4, writeData, memory.TypeWrite, time.Second)
	s.DoTransaction(wTran)
	require.Equal(t, uint32(0), wTran.Wait())

	readData := make([]byte, 4)
	rTran := memory.NewTransaction(0x10, 4, readData, memory.TypeRead, time.Second)
	s.DoTransaction(rTran)
	require.Equal(t, uint32(0), rTran.Wait())
	require.Equal(t, uint32(0xCAFEBABE), binary.LittleEndian.Uint32(readData))
}

func TestRegisterSlaveRejectsBadSize(t *testing.T) {
	dev := newFakeDevice(64, 1)
	s := NewRegisterSlave(dev)

	tran := memory.NewTransaction(0x10, 3, make([]byte, 3), memory.TypeRead, time.Second)
	s.DoTransaction(tran)
	require.Equal(t, uint32(memory.ErrSizeError), tran.Wait())
}

func TestRegisterSlave64BitWidth(t *testing.T) {
	dev := newFakeDevice(64, 1)
	s := NewRegisterSlave(dev)

	writeData := make([]byte, 8)
	binary.LittleEndian.PutUint64(writeData, 0x1122334455667788)
	wTran := memory.NewTransaction(0x20, 8, writeData, memory.TypeWrite, time.Second)
	s.DoTransaction(wTran)
	require.Equal(t, uint32(0), wTran.Wait())

	readData := make([]byte, 8)
	rTran := memory.NewTransaction(0x20, 8, readData, memory.TypeRead, time.Second)
	s.DoTransaction(rTran)
	require.Equal(t, uint32(0), rTran.Wait())
	require.Equal(t, uint64(0x1122334455667788), binary.LittleEndian.Uint64(readData))
}
