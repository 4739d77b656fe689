// Package packetizer implements Rogue's Packetizer v2 protocol: framing
// arbitrarily large application Frames into fixed-layout segments for a
// lossy or MTU-bound transport, and reassembling them on the way back
// (spec.md §4.E). Grounded on original_source's
// rogue::protocols::packetizer::ControllerV2.
package packetizer

import (
	"context"
	"hash/crc32"
	"sync"
	"time"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/constants"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/queue"
	"github.com/slac-rogue/rogue/internal/stream"
)

// Engine is the Packetizer v2 controller: one instance serves up to 256
// destinations over a single shared transport. It is a stream.Master
// toward the transport (segments go out through SendFrame/attached
// Slaves) and holds one stream.Slave per destination toward the
// application side.
type Engine struct {
	stream.BaseMaster

	EnInboundCRC  bool
	EnOutboundCRC bool

	segmentSize uint32

	log     *logging.Logger
	metrics *rogue.Metrics

	mu sync.Mutex

	apps [constants.PacketizerDestCount]stream.Slave

	tranMu    sync.Mutex
	tranFrame [constants.PacketizerDestCount]*stream.Frame
	tranCount [constants.PacketizerDestCount]uint32
	transSof  [constants.PacketizerDestCount]bool
	crcState  [constants.PacketizerDestCount]uint32

	appIndex uint32

	// txQueue is the bounded MPSC transmit queue segments wait on between
	// ApplicationTx and the transport drain stage (spec.md §4.E/§4.H);
	// txTimeout is the default deadline PushBack waits for room before
	// reporting back-pressure.
	txQueue   *queue.BoundedFrameQueue
	txTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds a Packetizer v2 engine whose inbound and outbound CRC
// checks are enabled by enIbCRC and enObCRC, matching the wiring of
// ControllerV2::create(enIbCrc, enObCrc, ...).
// segmentSize is the per-segment transport buffer size requested from the
// attached transport Pool by ReqFrame.
func NewEngine(enIbCRC, enObCRC bool, segmentSize uint32) *Engine {
	if segmentSize == 0 {
		segmentSize = constants.DefaultPoolBufferSize
	}
	e := &Engine{
		EnInboundCRC:  enIbCRC,
		EnOutboundCRC: enObCRC,
		segmentSize:   segmentSize,
		log:           logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[packetizer] "}),
		metrics:       &rogue.Metrics{},
		txQueue:       queue.NewBoundedFrameQueue(constants.PacketizerTxQueueDepth),
		txTimeout:     constants.PacketizerTxTimeout,
	}
	for i := range e.transSof {
		e.transSof[i] = true
	}
	return e
}

// Metrics exposes the engine's counters for Prometheus registration.
func (e *Engine) Metrics() *rogue.Metrics { return e.metrics }

// SetTxTimeout overrides the default deadline ApplicationTx waits for room
// on the transmit queue before reporting back-pressure (spec.md §4.H's
// "configurable timeout (default caller-supplied)").
func (e *Engine) SetTxTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txTimeout = d
}

// Start launches the transport drain stage: a single goroutine popping
// segments off the transmit queue and forwarding them via SendFrame,
// matching spec.md §5's "one transmit drain thread per transport" and
// rssi.Controller's background-loop shape.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.drain(ctx)
}

// Stop cancels the drain goroutine and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

func (e *Engine) drain(ctx context.Context) {
	defer close(e.done)
	for ctx.Err() == nil {
		frame, ok := e.txQueue.PopFront(time.Now().Add(100 * time.Millisecond))
		if !ok {
			continue
		}
		if err := e.BaseMaster.SendFrame(frame); err != nil {
			e.log.Warnf("transport drain send failed: %v", err)
		}
	}
}

// ReqFrame builds an application-side Frame whose Buffers are drawn from
// the attached transport (segmentSize bytes each) with 8 bytes of header
// and 8 bytes of tail already reserved, so ApplicationTx can write the
// Packetizer v2 header/tail in place without reallocating. Mirrors
// rogue::protocols::packetizer::Controller::reqFrame.
func (e *Engine) ReqFrame(size uint32) (*stream.Frame, error) {
	lFrame := stream.NewFrame()
	for lFrame.AvailableSize() < size {
		rFrame, err := e.BaseMaster.ReqFrame(e.segmentSize, false)
		if err != nil {
			return nil, rogue.WrapError("packetizer.ReqFrame", rogue.CodeAllocation, err)
		}
		buff := rFrame.BufferAt(0)
		if buff.Available() < constants.PacketizerHeaderSize+constants.PacketizerTailSize {
			return nil, rogue.NewError("packetizer.ReqFrame", rogue.CodeBoundary, "segment buffer too small for header/tail reservation")
		}
		if err := buff.AdjustHeader(8); err != nil {
			return nil, rogue.WrapError("packetizer.ReqFrame", rogue.CodeBoundary, err)
		}
		if err := buff.AdjustTail(8); err != nil {
			return nil, rogue.WrapError("packetizer.ReqFrame", rogue.CodeBoundary, err)
		}
		lFrame.AppendBuffer(buff)
	}
	return lFrame, nil
}

// SetApplication attaches the Slave that receives reassembled Frames for
// the given destination.
func (e *Engine) SetApplication(dest uint8, s stream.Slave) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apps[dest] = s
}

// TransportRx processes one incoming segment Frame from the transport.
// It validates the segment, strips the header/tail, and either buffers it
// into the in-progress reassembly for its destination or, on EOF,
// forwards the completed Frame to that destination's Application.
func (e *Engine) TransportRx(frame *stream.Frame) {
	if frame.BufferCount() == 0 {
		e.log.Warn("bad incoming transportRx frame, size=0")
		return
	}

	e.tranMu.Lock()
	defer e.tranMu.Unlock()

	buff := frame.BufferAt(0)
	data := buff.Raw()
	size := buff.Payload()

	if frame.Err() != nil || size < 24 || size&0x7 != 0 || data[0]&0xF != constants.PacketizerVersion {
		e.log.Warnf("dropping frame due to contents: error=%v, payload=%d, version=0x%x", frame.Err(), size, data[0])
		e.metrics.DropCount.Add(1)
		return
	}

	fuser := data[1]
	dest := data[2]
	id := data[3]

	count := uint32(data[4]) | uint32(data[5])<<8
	sof := data[7]&constants.PacketizerSOFBit != 0

	luser := data[size-8]
	eof := data[size-7]&constants.PacketizerEOFBit != 0
	last := uint32(data[size-6])

	var crcErr bool
	if e.EnInboundCRC {
		tmpCrc := uint32(data[size-1]) | uint32(data[size-2])<<8 | uint32(data[size-3])<<16 | uint32(data[size-4])<<24
		crc := crc32.Update(e.crcState[dest], crc32.IEEETable, data[:size-4])
		e.crcState[dest] = crc
		crcErr = tmpCrc != crc
	}

	// Reserve the header room: AdjustHeader implicitly shrinks the visible
	// payload by 8 bytes. Then trim off the trailing tail bytes and any
	// padding waste in a partial final word, landing on just the content
	// bytes. Finally reserve the tail room those bytes came from (tail
	// reservation does not itself move the payload window).
	_ = buff.AdjustHeader(8)
	_ = buff.AdjustPayload(int32(last) - 16)
	_ = buff.AdjustTail(8)

	resetDest := func() {
		e.transSof[dest] = true
		e.tranCount[dest] = 0
		e.crcState[dest] = 0
		e.tranFrame[dest] = nil
	}

	if e.transSof[dest] != sof || crcErr || count != e.tranCount[dest] {
		e.log.Warnf("dropping frame: dest=%d sof=%v crcErr=%v expCount=%d gotCount=%d", dest, sof, crcErr, e.tranCount[dest], count)
		e.metrics.DropCount.Add(1)
		resetDest()
		return
	}

	if e.transSof[dest] {
		e.transSof[dest] = false
		if e.tranCount[dest] != 0 || !sof || crcErr {
			e.metrics.DropCount.Add(1)
			resetDest()
			return
		}

		e.tranFrame[dest] = stream.NewFrame()
		e.tranCount[dest] = 0

		flags := uint32(fuser)
		if eof {
			flags |= uint32(luser) << 8
		}
		flags += uint32(id) << 16
		flags += uint32(dest) << 24
		e.tranFrame[dest].SetFlags(flags)
	}

	e.tranFrame[dest].AppendBuffer(buff)
	frame.Clear()

	if eof {
		flags := e.tranFrame[dest].Flags()&0xFFFF00FF | uint32(luser)<<8
		e.tranFrame[dest].SetFlags(flags)

		e.transSof[dest] = true
		e.tranCount[dest] = 0

		e.metrics.RxFrames.Add(1)
		e.metrics.RxBytes.Add(uint64(e.tranFrame[dest].PayloadSize()))

		e.mu.Lock()
		app := e.apps[dest]
		e.mu.Unlock()
		if app != nil {
			_ = app.AcceptFrame(e.tranFrame[dest])
		}
		e.crcState[dest] = 0
		e.tranFrame[dest] = nil
	} else {
		e.tranCount[dest] = (e.tranCount[dest] + 1) & 0xFFFF
	}
}

// ApplicationTx segments frame into Packetizer v2 segments addressed to
// tDest, sending each segment out through the engine's attached
// transport Slave(s) (BaseMaster.SendFrame). tId is the transaction id
// carried in every segment's header, letting the far end correlate
// reassembled Frames back to a request.
func (e *Engine) ApplicationTx(frame *stream.Frame, tDest, tId uint8) error {
	if frame.BufferCount() == 0 {
		return rogue.NewError("packetizer.ApplicationTx", rogue.CodeSizeError, "frame must not be empty")
	}

	fUser := uint8(frame.Flags() & 0xFF)
	lUser := uint8((frame.Flags() >> 8) & 0xFF)

	var crcState uint32

	for segment := 0; segment < frame.BufferCount(); segment++ {
		buff := frame.BufferAt(segment)

		last := buff.Payload() % 8
		if last == 0 {
			last = 8
		}
		_ = buff.AdjustPayload(int32(8 - last))

		// AdjustHeader(-8) implicitly reclaims the freed header bytes into
		// the visible payload; the freed tail bytes do not shift the
		// payload window the same way, so reclaim those explicitly.
		_ = buff.AdjustHeader(-8)
		_ = buff.AdjustTail(-8)
		_ = buff.AdjustPayload(8)

		data := buff.Raw()
		size := buff.Payload()

		data[0] = constants.PacketizerVersion
		if e.EnOutboundCRC {
			data[0] |= constants.PacketizerCRCEnabled
		}
		data[1] = fUser
		data[2] = tDest
		data[3] = tId

		data[4] = byte(segment & 0xFF)
		data[5] = byte((segment >> 8) & 0xFF)
		data[6] = 0
		if segment == 0 {
			data[7] = constants.PacketizerSOFBit
		} else {
			data[7] = 0
		}

		isLastSegment := segment == frame.BufferCount()-1
		data[size-8] = lUser
		if isLastSegment {
			data[size-7] = constants.PacketizerEOFBit
		} else {
			data[size-7] = 0
		}
		data[size-6] = byte(last)
		data[size-5] = 0

		if e.EnOutboundCRC {
			crc := crc32.Update(crcState, crc32.IEEETable, data[:size-4])
			crcState = crc
			data[size-1] = byte(crc)
			data[size-2] = byte(crc >> 8)
			data[size-3] = byte(crc >> 16)
			data[size-4] = byte(crc >> 24)
		} else {
			data[size-1], data[size-2], data[size-3], data[size-4] = 0, 0, 0, 0
		}

		segFrame := stream.NewFrame()
		segFrame.AppendBuffer(buff)
		e.metrics.TxFrames.Add(1)
		e.metrics.TxBytes.Add(uint64(size))

		// Enqueue each segment on the transport queue in order (spec.md
		// §4.E step 3): a bounded MPSC drained by the transport stage
		// started via Start. The application path blocks here while the
		// queue is busy, up to txTimeout (spec.md §5).
		e.mu.Lock()
		timeout := e.txTimeout
		e.mu.Unlock()

		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if res := e.txQueue.PushBack(segFrame, deadline); res != queue.Enqueued {
			return rogue.NewError("packetizer.ApplicationTx", rogue.CodeNetwork, "transmit queue busy")
		}
	}

	e.mu.Lock()
	e.appIndex++
	e.mu.Unlock()
	frame.Clear()
	return nil
}
