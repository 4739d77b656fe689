package dma

import (
	"encoding/binary"

	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/memory"
)

// RegisterSlave services memory.Transactions directly against the DMA
// device's register window (spec.md §6: "offsets beyond expose a register
// window"), bypassing the packetizer/RSSI/SRP stack entirely for the local
// registers the DMA shim itself owns (version, debug level, destination
// mask). Min/Max of 4/8 bytes matches ReadRegister/WriteRegister's
// Is32-selected width.
type RegisterSlave struct {
	*memory.BaseSlave

	dev Device
	log *logging.Logger
}

// NewRegisterSlave builds a RegisterSlave over dev.
func NewRegisterSlave(dev Device) *RegisterSlave {
	return &RegisterSlave{
		BaseSlave: memory.NewBaseSlave(4, 8),
		dev:       dev,
		log:       logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[dma] "}),
	}
}

// DoTransaction implements memory.Slave. Unlike the SRP bridge, register
// ioctls complete synchronously, so Transactions never enter the in-flight
// table — the result is known before DoTransaction returns.
func (s *RegisterSlave) DoTransaction(tran *memory.Transaction) {
	if tran.Size != 4 && tran.Size != 8 {
		tran.Done(memory.ErrSizeError)
		return
	}
	is32 := tran.Size == 4
	addr := uint32(tran.Address)

	switch tran.Type {
	case memory.TypeWrite, memory.TypePost:
		var value uint64
		if is32 {
			value = uint64(binary.LittleEndian.Uint32(tran.Data))
		} else {
			value = binary.LittleEndian.Uint64(tran.Data)
		}
		if err := s.dev.WriteRegister(addr, value, is32); err != nil {
			s.log.Debugf("write register 0x%x failed: %v", addr, err)
			tran.Done(memory.ErrAxiFail)
			return
		}
		tran.Done(0)

	case memory.TypeRead, memory.TypeVerify:
		value, err := s.dev.ReadRegister(addr, is32)
		if err != nil {
			s.log.Debugf("read register 0x%x failed: %v", addr, err)
			tran.Done(memory.ErrAxiFail)
			return
		}
		if is32 {
			binary.LittleEndian.PutUint32(tran.Data, uint32(value))
		} else {
			binary.LittleEndian.PutUint64(tran.Data, value)
		}
		tran.Done(0)

	default:
		tran.Done(memory.ErrUnsupported)
	}
}
