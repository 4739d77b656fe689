package rssi

import (
	"context"
	"sync"
	"time"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/constants"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/stream"
)

type connState int

const (
	stateClosed connState = iota
	stateWaitSyn
	stateSendSeqAck
	stateOpen
	stateError
)

// txEntry is one outstanding, unacknowledged segment, tracking its own
// send time and retransmit count the way original_source keeps each
// txList_ slot's Header alive until acknowledged.
type txEntry struct {
	head  *Header
	sent  time.Time
	count uint32
}

// Params negotiates the SYN exchange, mirroring Controller's compile-time
// defaults (ReqRetranTout, ReqMaxBuffers, ...).
type Params struct {
	LocMaxBuffers   uint8
	RetranTimeout   uint16
	CumAckTimeout   uint16
	NullTimeout     uint16
	MaxRetran       uint8
	MaxCumAck       uint8
	ConnectionID    uint32
	TryPeriod       time.Duration
}

// DefaultParams returns the negotiated defaults used when dialing, taken
// directly from original_source's Controller constructor.
func DefaultParams() Params {
	return Params{
		LocMaxBuffers: constants.RSSILocMaxBuffers,
		RetranTimeout: constants.RSSIReqRetranTout,
		CumAckTimeout: constants.RSSIReqCumAckTout,
		NullTimeout:   constants.RSSIReqNullTout,
		MaxRetran:     constants.RSSIReqMaxRetran,
		MaxCumAck:     constants.RSSIReqMaxCumAck,
		ConnectionID:  constants.RSSILocConnID,
		TryPeriod:     constants.RSSITryPeriod * time.Millisecond,
	}
}

// Controller is the RSSI state machine: a stream.Master toward the
// transport (segments go out via SendFrame to the attached transport
// Slave) and the deliverer of reassembled application payloads to an
// attached application Slave. Grounded on original_source's
// rogue::protocols::rssi::Controller.
type Controller struct {
	stream.BaseMaster

	app         stream.Slave
	segmentSize uint32
	params      Params

	log     *logging.Logger
	metrics *rogue.Metrics

	mu   sync.Mutex
	cond *sync.Cond

	state connState

	locSequence uint8
	remSequence uint8
	locConnID   uint32
	remConnID   uint32

	remMaxBuffers uint8
	remMaxSegment uint16
	retranTout    uint16
	cumAckTout    uint16
	nullTout      uint16
	maxRetran     uint8
	maxCumAck     uint8

	ackTxPend uint32
	lastAckRx uint8
	prevAckRx uint8
	tranBusy  bool

	txList      [256]*txEntry
	txListCount int

	appQueue []*Header

	downCount   uint64
	dropCount   uint64
	retranCount uint64

	stTime time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController builds an RSSI controller negotiating with segSize-sized
// transport segments. Call Start to launch its background state-machine
// loop and Stop to tear it down, sending a reset on the way out.
func NewController(segSize uint32, params Params) *Controller {
	c := &Controller{
		segmentSize: segSize,
		params:      params,
		locConnID:   params.ConnectionID,
		retranTout:  params.RetranTimeout,
		cumAckTout:  params.CumAckTimeout,
		nullTout:    params.NullTimeout,
		maxRetran:   params.MaxRetran,
		maxCumAck:   params.MaxCumAck,
		locSequence: 100,
		state:       stateClosed,
		stTime:      time.Now(),
		log:         logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[rssi] "}),
		metrics:     &rogue.Metrics{},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Metrics exposes the controller's counters for Prometheus registration.
func (c *Controller) Metrics() *rogue.Metrics { return c.metrics }

// SetApplication attaches the Slave that receives reassembled payload
// Frames once the connection is open.
func (c *Controller) SetApplication(s stream.Slave) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.app = s
}

// Open reports whether the connection has completed its SYN handshake.
func (c *Controller) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

func (c *Controller) DownCount() uint64   { return loadU64(&c.mu, &c.downCount) }
func (c *Controller) DropCount() uint64   { return loadU64(&c.mu, &c.dropCount) }
func (c *Controller) RetranCount() uint64 { return loadU64(&c.mu, &c.retranCount) }

func loadU64(mu *sync.Mutex, v *uint64) uint64 {
	mu.Lock()
	defer mu.Unlock()
	return *v
}

// Start launches the background timer/retransmit loop in its own
// goroutine, mirroring original_source's boost::thread runThread.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop cancels the background loop and blocks until it has sent a final
// reset frame and exited.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	wait := time.Duration(0)
	for {
		timer := time.NewTimer(maxDuration(wait, time.Microsecond))
		select {
		case <-ctx.Done():
			timer.Stop()
			c.mu.Lock()
			frame := c.stateError()
			c.mu.Unlock()
			if frame != nil {
				_ = c.SendFrame(frame)
			}
			return
		case <-timer.C:
		}

		c.mu.Lock()
		var frame *stream.Frame
		switch c.state {
		case stateClosed, stateWaitSyn:
			frame, wait = c.stateClosedWait()
		case stateSendSeqAck:
			frame, wait = c.stateSendSeqAck()
		case stateOpen:
			frame, wait = c.stateOpen()
		case stateError:
			frame, wait = c.stateErrorWithWait()
		}
		c.mu.Unlock()

		if frame != nil {
			_ = c.SendFrame(frame)
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// reqHeaderFrame allocates a Frame sized to carry an RSSI header (plain or
// SYN) from the attached transport, mirroring tran_->reqFrame calls
// throughout original_source.
func (c *Controller) reqHeaderFrame(syn bool) (*Header, error) {
	n := uint32(constants.RSSIHeaderSize)
	if syn {
		n = constants.RSSISynSize
	}
	frame, err := c.BaseMaster.ReqFrame(n, false)
	if err != nil {
		return nil, err
	}
	return NewHeader(frame), nil
}

func (c *Controller) stateClosedWait() (*stream.Frame, time.Duration) {
	var frame *stream.Frame
	if time.Since(c.stTime) > c.params.TryPeriod {
		head, err := c.reqHeaderFrame(true)
		if err == nil {
			head.Init(true, true)
			head.SetSequence(c.locSequence)
			head.SetVersion(constants.RSSIVersion)
			head.SetChk(true)
			head.SetMaxOutstandingSegments(c.params.LocMaxBuffers)
			head.SetMaxSegmentSize(uint16(c.segmentSize))
			head.SetRetransmissionTimeout(c.retranTout)
			head.SetCumulativeAckTimeout(c.cumAckTout)
			head.SetNullTimeout(c.nullTout)
			head.SetMaxRetransmissions(c.maxRetran)
			head.SetMaxCumulativeAck(c.maxCumAck)
			head.SetTimeoutUnit(constants.RSSITimeoutUnit)
			head.SetConnectionID(c.locConnID)
			head.Update()

			frame = head.Frame()
			c.state = stateWaitSyn
			c.stTime = time.Now()
		}
	}
	return frame, c.params.TryPeriod / 4
}

func (c *Controller) stateSendSeqAck() (*stream.Frame, time.Duration) {
	head, err := c.reqHeaderFrame(false)
	if err != nil {
		return nil, c.params.TryPeriod / 4
	}
	head.Init(false, true)
	head.SetAck(true)
	head.SetNul(false)
	head.SetSequence(c.locSequence)
	head.SetAcknowledge(c.remSequence)
	head.Update()

	c.state = stateOpen
	c.stTime = time.Now()
	return head.Frame(), constants.RSSITimeoutUnitScale(c.nullTout) / 10
}

func (c *Controller) stateOpen() (*stream.Frame, time.Duration) {
	wait := constants.RSSITimeoutUnitScale(c.cumAckTout) / 4
	var frame *stream.Frame

	for c.lastAckRx != c.prevAckRx {
		c.prevAckRx++
		c.txList[c.prevAckRx] = nil
		c.txListCount--
		c.cond.Broadcast()
	}

	if c.lastAckRx != c.locSequence {
		for idx := c.lastAckRx + 1; idx != c.locSequence+1; idx++ {
			entry := c.txList[idx]
			if entry == nil {
				continue
			}
			if time.Since(entry.sent) > constants.RSSITimeoutUnitScale(c.retranTout) {
				if entry.count >= uint32(c.maxRetran) {
					c.state = stateError
				} else {
					entry.head.SetAck(true)
					entry.head.SetAcknowledge(c.remSequence)
					entry.head.SetBusy(uint8(len(c.appQueue)) >= c.params.LocMaxBuffers)
					entry.head.Update()
					entry.sent = time.Now()
					entry.count++
					c.ackTxPend = 0
					c.retranCount++
					frame = entry.head.Frame()
				}
				c.stTime = time.Now()
				wait = 0
				break
			}
		}
	}

	doNull := time.Since(c.stTime) > constants.RSSITimeoutUnitScale(c.nullTout)/3
	if frame == nil && (doNull || c.ackTxPend >= uint32(c.maxCumAck) ||
		(c.ackTxPend > 0 && time.Since(c.stTime) > constants.RSSITimeoutUnitScale(c.cumAckTout))) {

		head, err := c.reqHeaderFrame(false)
		if err == nil {
			head.Init(false, true)
			head.SetAck(true)
			if doNull {
				c.locSequence++
				head.SetNul(true)
				c.txList[c.locSequence] = &txEntry{head: head, sent: time.Now()}
				c.txListCount++
			}
			head.SetSequence(c.locSequence)
			head.SetAcknowledge(c.remSequence)
			head.Update()
			c.ackTxPend = 0
			c.stTime = time.Now()
			frame = head.Frame()
		}
	}
	return frame, wait
}

// stateError builds and returns the reset frame sent when tearing a
// connection down, without re-arming the retry timer (used on Stop).
func (c *Controller) stateError() *stream.Frame {
	frame, _ := c.stateErrorWithWait()
	return frame
}

func (c *Controller) stateErrorWithWait() (*stream.Frame, time.Duration) {
	head, err := c.reqHeaderFrame(false)
	if err != nil {
		c.resetConnState()
		return nil, c.params.TryPeriod / 4
	}
	c.locSequence++
	head.Init(false, true)
	head.SetRst(true)
	head.SetSequence(c.locSequence)
	head.Update()

	c.resetConnState()
	return head.Frame(), c.params.TryPeriod / 4
}

func (c *Controller) resetConnState() {
	c.downCount++
	c.state = stateClosed
	c.stTime = time.Now()
	for i := range c.txList {
		c.txList[i] = nil
	}
	c.txListCount = 0
	c.appQueue = nil
	c.tranBusy = false
	c.ackTxPend = 0
	c.cond.Broadcast()
}

// TransportRx handles one Frame pushed up from the transport, matching
// original_source's Controller::transportRx.
func (c *Controller) TransportRx(frame *stream.Frame) {
	if frame.BufferCount() == 0 {
		return
	}
	head := NewHeader(frame)

	c.mu.Lock()

	if head.Verify() && head.Syn() {
		if c.state == stateWaitSyn && head.Ack() && head.Acknowledge() == c.locSequence {
			c.remSequence = head.Sequence()
			c.remMaxBuffers = head.MaxOutstandingSegments()
			c.remMaxSegment = head.MaxSegmentSize()
			c.retranTout = head.RetransmissionTimeout()
			c.cumAckTout = head.CumulativeAckTimeout()
			c.nullTout = head.NullTimeout()
			c.maxRetran = head.MaxRetransmissions()
			c.maxCumAck = head.MaxCumulativeAck()
			c.lastAckRx = head.Acknowledge()
			c.prevAckRx = c.lastAckRx

			c.state = stateSendSeqAck
			c.stTime = time.Now()
		} else if c.state == stateOpen {
			c.state = stateError
			c.stTime = time.Now()
		}
	} else if c.state == stateOpen && head.Verify() {
		if head.Rst() {
			c.state = stateError
			c.stTime = time.Now()
		} else {
			if head.Ack() {
				c.lastAckRx = head.Acknowledge()
			}
			c.tranBusy = head.Busy()
			if head.Nul() || frame.PayloadSize() > constants.RSSIHeaderSize {
				c.appQueue = append(c.appQueue, head)
				c.metrics.RxFrames.Add(1)
			}
		}
	} else {
		c.metrics.DropCount.Add(1)
		c.dropCount++
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	c.deliverQueued()
}

// deliverQueued drains appQueue, handing in-sequence payload Frames to the
// attached application Slave and dropping out-of-order ones, mirroring
// original_source's applicationTx consumer thread. Called from TransportRx
// on every inbound segment so delivery runs inline with the transport's
// receive path rather than needing a dedicated consumer thread.
func (c *Controller) deliverQueued() {
	c.mu.Lock()
	var toDeliver []*Header
	for len(c.appQueue) > 0 {
		head := c.appQueue[0]
		c.appQueue = c.appQueue[1:]

		if head.Sequence() == c.remSequence+1 {
			c.remSequence = head.Sequence()
			c.ackTxPend++
			if !head.Nul() && head.Frame().PayloadSize() > constants.RSSIHeaderSize {
				toDeliver = append(toDeliver, head)
			}
		} else {
			c.dropCount++
			c.metrics.DropCount.Add(1)
		}
	}
	app := c.app
	c.mu.Unlock()

	if app == nil {
		return
	}
	for _, head := range toDeliver {
		buf := head.Frame().BufferAt(0)
		_ = buf.AdjustHeader(int32(constants.RSSIHeaderSize))
		_ = app.AcceptFrame(head.Frame())
		c.metrics.RxBytes.Add(uint64(head.Frame().PayloadSize()))
	}
}

// ApplicationRx segments and reliably transmits an outbound application
// Frame, blocking while the send window (remMaxBuffers) is full. Mirrors
// original_source's Controller::applicationRx.
func (c *Controller) ApplicationRx(frame *stream.Frame) error {
	if frame.BufferCount() == 0 {
		return rogue.NewError("rssi.ApplicationRx", rogue.CodeSizeError, "frame must not be empty")
	}

	buf := frame.BufferAt(0)
	if buf.HeadRoom() < constants.RSSIHeaderSize {
		return rogue.NewError("rssi.ApplicationRx", rogue.CodeBoundary, "insufficient header room reserved for RSSI header")
	}
	_ = buf.AdjustHeader(-int32(constants.RSSIHeaderSize))

	head := NewHeader(frame)
	head.Init(false, false)

	c.mu.Lock()
	for c.txListCount >= int(c.remMaxBuffers) {
		c.cond.Wait()
		if c.state != stateOpen {
			c.mu.Unlock()
			return rogue.NewError("rssi.ApplicationRx", rogue.CodeNetwork, "connection not open")
		}
	}

	c.locSequence++
	head.SetAck(true)
	head.SetSequence(c.locSequence)
	head.SetAcknowledge(c.remSequence)
	head.SetBusy(uint8(len(c.appQueue)) >= c.params.LocMaxBuffers)
	head.Update()

	c.txList[c.locSequence] = &txEntry{head: head, sent: time.Now()}
	c.txListCount++
	c.ackTxPend = 0
	c.stTime = time.Now()
	c.mu.Unlock()

	c.metrics.TxFrames.Add(1)
	c.metrics.TxBytes.Add(uint64(frame.PayloadSize()))
	return c.SendFrame(frame)
}

// ReqFrame builds an application-side Frame with RSSI header room
// pre-reserved, analogous to packetizer.Engine.ReqFrame and
// original_source's Controller::reqFrame.
func (c *Controller) ReqFrame(size uint32) (*stream.Frame, error) {
	bSize := c.segmentSize
	if c.remMaxSegment != 0 && uint32(c.remMaxSegment) < bSize {
		bSize = uint32(c.remMaxSegment)
	}
	frame, err := c.BaseMaster.ReqFrame(size+constants.RSSIHeaderSize, false)
	if err != nil {
		return nil, err
	}
	_ = bSize // retained for parity with original's maxBuffSize negotiation; segment Buffers are already sized by the Pool
	buf := frame.BufferAt(0)
	if buf.Available() < constants.RSSIHeaderSize {
		return nil, rogue.NewError("rssi.ReqFrame", rogue.CodeBoundary, "segment buffer too small for header reservation")
	}
	if err := buf.AdjustHeader(constants.RSSIHeaderSize); err != nil {
		return nil, rogue.WrapError("rssi.ReqFrame", rogue.CodeBoundary, err)
	}
	return frame, nil
}
