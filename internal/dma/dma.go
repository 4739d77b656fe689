// Package dma implements Rogue's external DMA driver collaborator: the
// ioctl/mmap interface to a FPGA-attached DMA character device described by
// spec.md §6. Opcodes and the read/write request layout are kept bit-exact
// for wire compatibility with legacy kernel drivers; Device abstracts the
// actual ioctl transport so internal/dma can be exercised against a fake in
// tests without a real character device attached.
package dma

import (
	"github.com/slac-rogue/rogue/internal/constants"
)

// ReadWriteReq mirrors the kernel driver's read/write request structure
// (spec.md §6): a 64-bit userspace data pointer, destination, flags, buffer
// index, byte size, a 32-bit width flag, and out-parameters for error and
// return value. Register reads/writes and buffer index handoffs all use
// this one struct, distinguished by opcode.
type ReadWriteReq struct {
	Data  uint64 // userspace buffer address
	Dest  uint32 // destination / register address
	Flags uint32
	Index uint32 // hardware buffer index
	Size  uint32 // transfer size in bytes
	Is32  uint32 // non-zero selects 32-bit register access
	Error uint32 // error bitmask on return (FIFO/LEN/MAX/BUS/EOFE)
	Ret   uint32 // return value
}

// DecodeError translates a ReadWriteReq.Error bitmask into the individual
// condition flags it carries, for logging.
func DecodeError(bits uint32) (fifo, length, max, bus, eofe bool) {
	return bits&constants.DmaErrFIFO != 0,
		bits&constants.DmaErrLEN != 0,
		bits&constants.DmaErrMAX != 0,
		bits&constants.DmaErrBUS != 0,
		bits&constants.DmaErrEOFE != 0
}

// Device is the narrow ioctl/mmap surface internal/dma needs from the DMA
// character device, separated from the real unix-backed implementation so
// pool.go and the completion loop can be exercised against a fake in tests —
// the same shape as the teacher's interfaces.Backend split.
type Device interface {
	// BuffCount returns the hardware's configured DMA buffer count
	// (GetBuffCount).
	BuffCount() (uint32, error)

	// BuffSize returns the hardware's configured per-buffer size
	// (GetBuffSize).
	BuffSize() (uint32, error)

	// Version returns the driver's reported version (GetVersion); callers
	// must check it against constants.DmaExpectedVersion.
	Version() (uint32, error)

	// SetDebug toggles the driver's debug verbosity (SetDebug).
	SetDebug(level uint32) error

	// SetMask configures which destinations are enabled via a 32-bit mask
	// (SetMask).
	SetMask(mask uint32) error

	// SetMaskBytes configures which destinations are enabled via a
	// 512-byte, one-bit-per-destination bitmap (SetMaskBytes).
	SetMaskBytes(mask []byte) error

	// GetIndex blocks until a filled receive buffer is available and
	// returns its hardware index (GetIndex).
	GetIndex() (uint32, error)

	// RetIndex returns one or more drained buffer indices to the driver's
	// free list (RetIndex, count packed in the upper half of the command
	// word per spec.md §6).
	RetIndex(indices []uint32) error

	// ReadReady reports whether a received buffer is currently available
	// without blocking (ReadReady).
	ReadReady() (bool, error)

	// ReadRegister performs a register read (ReadRegister); is32 selects
	// 32-bit vs 64-bit width.
	ReadRegister(addr uint32, is32 bool) (uint64, error)

	// WriteRegister performs a register write (WriteRegister).
	WriteRegister(addr uint32, value uint64, is32 bool) error

	// Buffer returns the mmap'd slice backing hardware buffer index, sized
	// to BuffSize().
	Buffer(index uint32) []byte

	// Close releases the device's file descriptor and mmap'd regions.
	Close() error
}
