package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type echoSlave struct {
	*BaseSlave
}

func newEchoSlave() *echoSlave {
	return &echoSlave{BaseSlave: NewBaseSlave(1, 4)}
}

func (s *echoSlave) DoTransaction(t *Transaction) {
	if t.Type == TypeRead {
		for i := range t.Data {
			t.Data[i] = 0xAB
		}
	}
	t.Done(0)
}

func TestMasterReqWaitTransaction(t *testing.T) {
	m := NewBaseMaster()
	s := newEchoSlave()
	m.SetSlave(s)

	data := make([]byte, 4)
	id := m.ReqTransaction(0x1000, 4, data, TypeRead)
	require.NotZero(t, id)

	errCode := m.WaitTransaction(id)
	require.Zero(t, errCode)
	require.Equal(t, []byte{0xAB, 0xAB, 0xAB, 0xAB}, data)
}

type selectiveFailSlave struct {
	*BaseSlave
	failAddress uint64
	failCode    uint32
}

func (s *selectiveFailSlave) DoTransaction(t *Transaction) {
	if t.Address == s.failAddress {
		t.Done(s.failCode)
		return
	}
	t.Done(0)
}

func TestWaitTransactionZeroDrainsAllAndReturnsFirstError(t *testing.T) {
	m := NewBaseMaster()
	s := &selectiveFailSlave{BaseSlave: NewBaseSlave(1, 4), failAddress: 0x20, failCode: ErrAxiTimeout}
	m.SetSlave(s)

	idA := m.ReqTransaction(0x10, 4, make([]byte, 4), TypeWrite)
	idB := m.ReqTransaction(0x20, 4, make([]byte, 4), TypeWrite)
	idC := m.ReqTransaction(0x30, 4, make([]byte, 4), TypeWrite)

	errCode := m.WaitTransaction(0)
	require.Equal(t, uint32(ErrAxiTimeout), errCode)
	require.Equal(t, uint32(ErrAxiTimeout), m.LastError())

	// All three must have been popped from the in-flight map by the single
	// WaitTransaction(0) call; a later wait on any of their ids finds
	// nothing left to wait on.
	require.Zero(t, m.WaitTransaction(idA))
	require.Zero(t, m.WaitTransaction(idB))
	require.Zero(t, m.WaitTransaction(idC))
}

func TestMasterNoSlaveIsUnsupported(t *testing.T) {
	m := NewBaseMaster()
	id := m.ReqTransaction(0, 4, make([]byte, 4), TypeWrite)
	errCode := m.WaitTransaction(id)
	require.Equal(t, uint32(ErrUnsupported), errCode)
}

func TestTransactionTimeout(t *testing.T) {
	tran := NewTransaction(0, 4, make([]byte, 4), TypeRead, 5*time.Millisecond)
	errCode := tran.Wait()
	require.Equal(t, uint32(ErrTimeout), errCode)
}

func TestBaseSlaveInFlightTable(t *testing.T) {
	s := NewBaseSlave(1, 4)
	tran := NewTransaction(0, 4, make([]byte, 4), TypeRead, 0)

	s.AddTransaction(tran)
	require.Same(t, tran, s.GetTransaction(tran.ID()))

	s.DelTransaction(tran.ID())
	require.Nil(t, s.GetTransaction(tran.ID()))
}

func TestDefaultSlaveUnsupported(t *testing.T) {
	s := NewBaseSlave(1, 4)
	tran := NewTransaction(0, 4, make([]byte, 4), TypeRead, 0)
	s.DoTransaction(tran)
	require.Equal(t, uint32(ErrUnsupported), tran.Wait())
}

func TestCopyBitsSetBitsAnyBits(t *testing.T) {
	src := []byte{0b1010_0000}
	dst := make([]byte, 1)

	CopyBits(dst, 0, src, 5, 3)
	require.Equal(t, byte(0b0000_0101), dst[0])

	require.True(t, AnyBits(src, 5, 3))
	require.False(t, AnyBits(src, 0, 5))

	SetBits(dst, 0, 8)
	require.Equal(t, byte(0xFF), dst[0])
}
