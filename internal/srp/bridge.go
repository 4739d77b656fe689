// Package srp implements Rogue's SLAC Register Protocol bridge, version 3:
// it turns memory.Transactions into request Frames sent down an attached
// stream transport, and completes the originating Transaction from the
// matching response Frame. Grounded on original_source's
// rogue::protocols::srp::SrpV3.
package srp

import (
	"encoding/binary"

	"github.com/slac-rogue/rogue/internal/constants"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/memory"
	"github.com/slac-rogue/rogue/internal/stream"
)

// Bridge is both a memory.Slave (servicing register Transactions from the
// application) and a stream.Master/stream.Slave pair (sending request
// Frames to, and receiving response Frames from, whatever transport is
// attached below it — typically an rssi.Controller or packetizer.Engine).
type Bridge struct {
	stream.BaseMaster
	*memory.BaseSlave

	log *logging.Logger
}

// NewBridge builds an SRP v3 bridge accepting 4-to-4096-byte transactions,
// matching original_source's rim::Slave(4,4096) constructor argument.
func NewBridge() *Bridge {
	return &Bridge{
		BaseSlave: memory.NewBaseSlave(4, 4096),
		log:       logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[srp] "}),
	}
}

// AcceptReq implements stream.Slave for the rare case something below asks
// this Bridge for a buffer; SrpV3 has no primary pool of its own, so it
// falls back to a heap allocation sized to the request.
func (b *Bridge) AcceptReq(totalBytes uint32, zeroCopyOK bool) (*stream.Frame, error) {
	return stream.NewHeapPool(totalBytes).ReqFrame(totalBytes, zeroCopyOK)
}

// setupHeader builds the 5-word SRP v3 header for tran, returning whether
// the transaction carries write data and the total Frame length it
// requires. forTx selects between the outbound-request layout and the
// expected inbound-response layout, mirroring SrpV3::setupHeader's tx flag.
func setupHeader(tran *memory.Transaction, forTx bool) (header [constants.SRPHeaderWords]uint32, doWrite bool, frameLen uint32) {
	header[0] = constants.SRPVersion

	switch tran.Type {
	case memory.TypeWrite:
		header[0] |= 0x100
		doWrite = true
	case memory.TypePost:
		header[0] |= 0x200
		doWrite = true
	default: // read or verify
		doWrite = false
	}

	header[0] |= constants.SRPStaticHeaderBits

	header[1] = tran.ID()
	header[2] = uint32(tran.Address & 0xFFFFFFFF)
	header[3] = uint32((tran.Address >> 32) & 0xFFFFFFFF)
	header[4] = tran.Size - 1

	frameLen = constants.SRPHeaderLen
	if forTx && doWrite {
		frameLen += tran.Size
	} else if !forTx {
		frameLen += tran.Size + constants.SRPTailLen
	}
	return header, doWrite, frameLen
}

func putHeader(frame *stream.Frame, header [constants.SRPHeaderWords]uint32) {
	buf := make([]byte, constants.SRPHeaderLen)
	for i, w := range header {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	stream.FromFrame(frame, 0, len(buf), buf)
}

func getHeader(frame *stream.Frame) [constants.SRPHeaderWords]uint32 {
	buf := make([]byte, constants.SRPHeaderLen)
	stream.ToFrame(frame, 0, len(buf), buf)
	var header [constants.SRPHeaderWords]uint32
	for i := range header {
		header[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return header
}

// DoTransaction posts tran as a request Frame to the attached transport,
// matching SrpV3::doTransaction.
func (b *Bridge) DoTransaction(tran *memory.Transaction) {
	if tran.Address%uint64(b.Min()) != 0 {
		tran.Done(memory.ErrAddressError)
		return
	}
	if tran.Size%b.Min() != 0 || tran.Size < b.Min() || tran.Size > b.Max() {
		tran.Done(memory.ErrSizeError)
		return
	}

	header, doWrite, frameLen := setupHeader(tran, true)

	frame, err := b.ReqFrame(frameLen, true)
	if err != nil {
		tran.Done(memory.ErrGeneralError)
		return
	}
	if err := frame.SetPayload(frameLen, true); err != nil {
		tran.Done(memory.ErrGeneralError)
		return
	}

	putHeader(frame, header)
	if doWrite {
		stream.FromFrame(frame, constants.SRPHeaderLen, len(tran.Data), tran.Data)
	}

	if tran.Type == memory.TypePost {
		tran.Done(0)
	} else {
		b.AddTransaction(tran)
	}

	b.log.Debugf("send frame for id=0x%08x addr=0x%x size=%d type=%d", tran.ID(), tran.Address, tran.Size, tran.Type)
	_ = b.SendFrame(frame)
}

// AcceptFrame handles one response Frame pushed up from the transport,
// matching SrpV3::acceptFrame.
func (b *Bridge) AcceptFrame(frame *stream.Frame) error {
	fSize := frame.PayloadSize()
	if fSize < constants.SRPHeaderLen {
		b.log.Infof("got undersize frame size=%d", fSize)
		return nil
	}

	header := getHeader(frame)
	id := header[1]

	tran := b.GetTransaction(id)
	if tran == nil {
		b.log.Debugf("invalid id frame for id=0x%08x", id)
		return nil
	}

	expHeader, doWrite, expFrameLen := setupHeader(tran, false)

	if fSize != expFrameLen || header[4]+1 != tran.Size {
		b.DelTransaction(id)
		b.log.Debugf("size mismatch id=0x%08x", id)
		return nil
	}

	if header[0]&constants.SRPHeaderCheckMask != expHeader[0] ||
		header[1] != expHeader[1] || header[2] != expHeader[2] ||
		header[3] != expHeader[3] || header[4] != expHeader[4] {
		b.log.Debugf("bad header for id=0x%08x", id)
		return nil
	}

	tailBuf := make([]byte, constants.SRPTailLen)
	stream.ToFrame(frame, fSize-constants.SRPTailLen, len(tailBuf), tailBuf)
	tail := binary.LittleEndian.Uint32(tailBuf)
	if tail != 0 {
		b.DelTransaction(id)
		switch {
		case tail&0xFF != 0:
			tran.Done(memory.ErrAxiFail | (tail & 0xFF))
		case tail&0x100 != 0:
			tran.Done(memory.ErrAxiTimeout)
		default:
			tran.Done(tail)
		}
		b.log.Debugf("error detected id=0x%08x tail=0x%x", id, tail)
		return nil
	}

	if !doWrite {
		stream.ToFrame(frame, constants.SRPHeaderLen, int(tran.Size), tran.Data)
	}

	b.DelTransaction(id)
	tran.Done(0)
	return nil
}
