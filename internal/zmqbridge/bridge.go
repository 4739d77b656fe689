// Package zmqbridge carries stream Frames across a process boundary over a
// pair of ZeroMQ PUSH/PULL sockets, grounded on original_source's
// rogue::interfaces::stream::TcpCore (its "Tcp" name is a legacy from
// before the transport moved to ZMQ; the wire protocol underneath has
// always been the 4-part ZMQ message documented below).
package zmqbridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/stream"
)

// recvTimeoutMillis mirrors TcpCore's ZMQ_RCVTIMEO of 100ms, letting the
// receive loop notice a Close without blocking forever.
const recvTimeoutMillis = 100

// Bridge is both a stream.Master (frames pulled off the wire are forwarded
// to its attached Slaves) and a stream.Slave (frames accepted from an
// upstream Master are pushed onto the wire), matching TcpCore's dual
// Master/Slave role.
type Bridge struct {
	stream.BaseMaster
	stream.BaseSlave

	push zmq4.Socket
	pull zmq4.Socket

	pushAddr string
	pullAddr string

	log *logging.Logger

	wmu    sync.Mutex
	cancel context.CancelFunc
	stop   chan struct{}
	done   sync.WaitGroup
}

// NewServer binds a PULL socket on port and a PUSH socket on port+1,
// matching TcpCore's server constructor (server binds pull on the base
// port, push on port+1).
func NewServer(addr string, port uint16) (*Bridge, error) {
	return newBridge(addr, port, true)
}

// NewClient connects a PULL socket to port+1 and a PUSH socket to port,
// matching TcpCore's client constructor (the peer roles are swapped
// relative to the server).
func NewClient(addr string, port uint16) (*Bridge, error) {
	return newBridge(addr, port, false)
}

func newBridge(addr string, port uint16, server bool) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())

	role := "Client"
	if server {
		role = "Server"
	}
	b := &Bridge{
		log:    logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: fmt.Sprintf("[zmqbridge.%s.%s.%d] ", addr, role, port)}),
		cancel: cancel,
		stop:   make(chan struct{}),
	}

	b.pull = zmq4.NewPull(ctx)
	b.push = zmq4.NewPush(ctx)

	if server {
		b.pullAddr = fmt.Sprintf("tcp://%s:%d", addr, port)
		b.pushAddr = fmt.Sprintf("tcp://%s:%d", addr, port+1)

		if err := b.pull.Listen(b.pullAddr); err != nil {
			cancel()
			return nil, rogue.WrapError("zmqbridge.NewServer", rogue.CodeNetwork, err)
		}
		if err := b.push.Listen(b.pushAddr); err != nil {
			cancel()
			return nil, rogue.WrapError("zmqbridge.NewServer", rogue.CodeNetwork, err)
		}
	} else {
		b.pullAddr = fmt.Sprintf("tcp://%s:%d", addr, port+1)
		b.pushAddr = fmt.Sprintf("tcp://%s:%d", addr, port)

		if err := b.pull.Dial(b.pullAddr); err != nil {
			cancel()
			return nil, rogue.WrapError("zmqbridge.NewClient", rogue.CodeNetwork, err)
		}
		if err := b.push.Dial(b.pushAddr); err != nil {
			cancel()
			return nil, rogue.WrapError("zmqbridge.NewClient", rogue.CodeNetwork, err)
		}
	}

	b.done.Add(1)
	go b.runThread()
	return b, nil
}

// AcceptFrame pushes frame as a 4-part ZMQ message: flags(2), channel(1),
// err(1), data, matching TcpCore::acceptFrame.
func (b *Bridge) AcceptFrame(frame *stream.Frame) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	flags := make([]byte, 2)
	binary.LittleEndian.PutUint16(flags, uint16(frame.Flags()))

	size := frame.PayloadSize()
	data := make([]byte, size)
	stream.ToFrame(frame, 0, int(size), data)

	msg := zmq4.NewMsgFrom(flags, []byte{frame.Channel()}, []byte{errByte(frame.Err())}, data)
	if err := b.push.Send(msg); err != nil {
		b.log.Warnf("failed to push frame with size %d on %s: %v", size, b.pushAddr, err)
		return rogue.WrapError("zmqbridge.AcceptFrame", rogue.CodeNetwork, err)
	}
	b.log.Debugf("pushed frame with size %d on %s", size, b.pushAddr)
	return nil
}

// runThread pulls 4-part messages off the wire, rebuilds a Frame, and
// forwards it to attached Slaves, matching TcpCore::runThread.
func (b *Bridge) runThread() {
	defer b.done.Done()
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		msg, err := b.pull.Recv()
		if err != nil {
			continue
		}
		if len(msg.Frames) != 4 {
			b.log.Warnf("bad message part count: %d", len(msg.Frames))
			continue
		}
		if len(msg.Frames[0]) != 2 || len(msg.Frames[1]) != 1 || len(msg.Frames[2]) != 1 {
			b.log.Warnf("bad message part sizes")
			continue
		}

		flags := binary.LittleEndian.Uint16(msg.Frames[0])
		chan_ := msg.Frames[1][0]
		errCode := msg.Frames[2][0]
		data := msg.Frames[3]

		frame, err := b.ReqFrame(uint32(len(data)), false)
		if err != nil {
			b.log.Warnf("failed to allocate frame: %v", err)
			continue
		}
		stream.FromFrame(frame, 0, len(data), data)
		if err := frame.SetPayload(uint32(len(data)), true); err != nil {
			b.log.Warnf("failed to set payload: %v", err)
			continue
		}
		frame.SetFlags(uint32(flags))
		frame.SetChannel(chan_)
		if errCode != 0 {
			frame.SetErr(rogue.NewError("zmqbridge.runThread", rogue.CodeProtocolError, "peer reported frame error"))
		}

		b.log.Debugf("pulled frame with size %d", len(data))
		if err := b.SendFrame(frame); err != nil {
			b.log.Warnf("failed to forward pulled frame: %v", err)
		}
	}
}

// Close stops the receive loop and tears down both sockets.
func (b *Bridge) Close() error {
	close(b.stop)
	b.cancel()
	b.done.Wait()
	pushErr := b.push.Close()
	pullErr := b.pull.Close()
	if pushErr != nil {
		return rogue.WrapError("zmqbridge.Close", rogue.CodeNetwork, pushErr)
	}
	return pullErr
}

func errByte(err error) byte {
	if err != nil {
		return 1
	}
	return 0
}
