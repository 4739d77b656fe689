// Package xvc implements the Xilinx Virtual Cable TCP protocol that lets
// tools like Vivado's hardware manager drive a remote JTAG chain, grounded
// on original_source's rogue::protocols::xilinx::{XvcConnection,XvcServer}
// and the JtagDriver abstraction they call through.
package xvc

// Driver is the abstraction XvcConnection drives JTAG vectors through,
// grounded on JtagDriver.h. A real driver would forward vectors to target
// hardware (AXI-Stream, UDP, ...); LoopbackDriver below stands in for
// testing without a target attached.
type Driver interface {
	// Query returns the max vector length in bytes the target itself can
	// absorb (its on-chip memory depth), or 0 if the target can stream
	// without limit over a reliable transport.
	Query() uint64

	// MaxVectorSize returns the largest single vector this driver can
	// handle, or 0 to defer to whatever Query reports.
	MaxVectorSize() uint64

	// SetPeriodNs requests a new TCK period; passing 0 only retrieves the
	// current period. Returns the period actually in effect.
	SetPeriodNs(requested uint32) uint32

	// SendVectors shifts numBits through the chain: tms and tdi each hold
	// ceil(numBits/8) bytes, bit 0 first; the same number of bytes are
	// written to tdo.
	SendVectors(numBits uint32, tms, tdi, tdo []byte) error

	// IsDone reports whether the driver considers the session finished,
	// letting XvcConnection.Run exit its command loop.
	IsDone() bool
}
