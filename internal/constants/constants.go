// Package constants collects wire-format and default-tuning constants
// shared across Rogue's protocol engines.
package constants

import "time"

// Buffer/Pool defaults.
const (
	// DefaultPoolBufferSize is the per-buffer capacity used when a caller
	// does not size its own heap pool.
	DefaultPoolBufferSize = 4096

	// DefaultPoolDepth is the default number of buffers held by a heap pool.
	DefaultPoolDepth = 64

	// MetaHwOwnedBit marks a Buffer as backed by hardware DMA memory.
	MetaHwOwnedBit = uint32(1) << 31

	// MetaReturnedBit marks a Buffer as already returned to its owner,
	// guarding against double-return.
	MetaReturnedBit = uint32(1) << 30

	// MetaIndexMask extracts the hardware buffer index from Buffer.Meta.
	MetaIndexMask = uint32(0x3FFFFFFF)
)

// Packetizer v2 wire layout.
const (
	PacketizerVersion    = 2
	PacketizerHeaderSize = 8
	PacketizerTailSize   = 8
	PacketizerSegAlign   = 8
	PacketizerMinSegment = PacketizerHeaderSize + PacketizerTailSize + PacketizerSegAlign

	PacketizerCRCPoly    = 0x04C11DB7
	PacketizerCRCInit    = 0xFFFFFFFF
	PacketizerCRCXorOut  = 0xFFFFFFFF
	PacketizerDestCount  = 256
	PacketizerCRCEnabled = 0x20 // bit 5 of header byte 0
	PacketizerSOFBit     = 0x80 // bit 7 of header byte 7
	PacketizerEOFBit     = 0x01 // bit 0 of tail byte 1

	// PacketizerTxQueueDepth bounds the transmit queue segments wait on
	// between ApplicationTx and the transport drain stage (spec.md §4.E/
	// §4.H).
	PacketizerTxQueueDepth = 64
)

// PacketizerTxTimeout is the default deadline ApplicationTx waits for
// space on the transmit queue before reporting back-pressure, overridable
// per Engine.
const PacketizerTxTimeout = 5 * time.Second

// RSSI tuning defaults and wire layout, mirroring
// rogue::protocols::rssi::Controller's compile-time defaults.
const (
	RSSIVersion     = 1
	RSSITimeoutUnit = 3 // timeouts are in units of 10^RSSITimeoutUnit microseconds (ms)

	RSSIHeaderSize = 8
	RSSISynSize    = 24 // 8-byte header + 16-byte SYN extension

	RSSITryPeriod     = 10   // ms, connection retry interval
	RSSILocMaxBuffers = 32   // local receive-window size (segments)
	RSSIReqRetranTout = 20   // ms
	RSSIReqCumAckTout = 5    // ms
	RSSIReqNullTout   = 3000 // ms
	RSSIReqMaxRetran  = 15
	RSSIReqMaxCumAck  = 2

	RSSILocConnID = 0x12345678
)

// RSSITimeoutUnitScale converts a timeout expressed in RSSI time units
// (10^RSSITimeoutUnit microseconds) into a time.Duration.
func RSSITimeoutUnitScale(units uint16) time.Duration {
	return time.Duration(units) * time.Millisecond
}

// SRP v3 wire layout.
const (
	SRPVersion     = 3
	SRPHeaderWords = 5
	SRPHeaderLen   = SRPHeaderWords * 4
	SRPTailLen     = 4

	SRPStaticHeaderBits = 0x0A000000
	SRPHeaderCheckMask  = 0xFFFFC3FF

	SRPTypeRead  = 0x0
	SRPTypeWrite = 0x1
	SRPTypePost  = 0x2
	SRPTypeVerify = 0x3
)

// Memory transaction types, matching rogue::interfaces::memory's Constants.h.
const (
	TranRead   = 0x1
	TranWrite  = 0x2
	TranPost   = 0x3
	TranVerify = 0x4
)

// DMA shim ioctl opcodes (spec.md §6), kept bit-exact for wire compatibility.
const (
	DmaGetBuffCount  = 0x1001
	DmaGetBuffSize   = 0x1002
	DmaSetDebug      = 0x1003
	DmaSetMask       = 0x1004
	DmaRetIndex      = 0x1005
	DmaGetIndex      = 0x1006
	DmaReadReady     = 0x1007
	DmaSetMaskBytes  = 0x1008
	DmaGetVersion    = 0x1009
	DmaWriteRegister = 0x100A
	DmaReadRegister  = 0x100B

	DmaExpectedVersion = 0x06
	DmaMaskBytesLen    = 512
)

// DMA shim error bits (spec.md §6).
const (
	DmaErrFIFO = 0x01
	DmaErrLEN  = 0x02
	DmaErrMAX  = 0x04
	DmaErrBUS  = 0x08
	DmaErrEOFE = 0x10
)

// UDP transport defaults.
const (
	DefaultUDPPayload = 1500
)
