package transport

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/simeonmiteff/go-tcpinfo/pkg/tcpinfo"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/logging"
	"github.com/slac-rogue/rogue/internal/memory"
)

// reqMsgHeader is the fixed-size prefix of a request message: a 4-byte
// frame length followed by the id/address/size/type fields
// original_source's TcpClient carries as separate zmq_msg_t parts. A raw
// TCP stream has no message boundaries of its own, so this bridge
// prefixes each message with its length where the original relies on
// ZMQ's framing — the one deliberate divergence from original_source,
// made so the exchange can run over a plain net.Conn and carry TCP_INFO
// statistics via go-tcpinfo, which only applies to a real TCP socket.
const reqMsgHeader = 4 + 4 + 8 + 4 + 4 // len + id + addr + size + type

// respMsgHeader is the fixed-size prefix of a response message: the same
// fields plus the terminal result code.
const respMsgHeader = reqMsgHeader + 4

// connStats wraps the TCP_INFO lookup shared by TCPBridgeClient and
// TCPBridgeServer, supplementing original_source's bridges with
// per-connection statistics via go-tcpinfo.
type connStats struct {
	conn net.Conn
}

// Stats reports the connection's current TCP_INFO snapshot.
func (c connStats) Stats() (*tcpinfo.Info, error) {
	tcpConn, ok := c.conn.(*net.TCPConn)
	if !ok {
		return nil, rogue.NewError("transport.Stats", rogue.CodeGeneral, "not a TCP connection")
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return nil, rogue.WrapError("transport.Stats", rogue.CodeNetwork, err)
	}
	var sysInfo *tcpinfo.SysInfo
	var ctlErr error
	if err := raw.Control(func(fd uintptr) {
		sysInfo, ctlErr = tcpinfo.GetTCPInfo(fd)
	}); err != nil {
		return nil, rogue.WrapError("transport.Stats", rogue.CodeNetwork, err)
	}
	if ctlErr != nil {
		return nil, rogue.WrapError("transport.Stats", rogue.CodeNetwork, ctlErr)
	}
	return sysInfo.ToInfo(), nil
}

// TCPBridgeClient is the local-side memory.Slave that forwards the
// application's Transactions to a TCPBridgeServer over a TCP connection
// and completes them from the server's response, grounded on
// original_source's rogue::interfaces::memory::TcpClient (which in the
// original actually runs over ZMQ; this is SPEC_FULL.md's genuine-TCP
// supplement carrying TCP_INFO stats).
type TCPBridgeClient struct {
	*memory.BaseSlave
	connStats

	rd  *bufio.Reader
	log *logging.Logger
	wmu sync.Mutex
}

// DialTCPBridgeClient connects to addr and starts the response-reader
// loop, mirroring TcpClient's connect-then-runThread sequence.
func DialTCPBridgeClient(addr string) (*TCPBridgeClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, rogue.WrapError("transport.DialTCPBridgeClient", rogue.CodeNetwork, err)
	}
	c := &TCPBridgeClient{
		BaseSlave: memory.NewBaseSlave(4, 0xFFFFFFFF),
		connStats: connStats{conn: conn},
		rd:        bufio.NewReader(conn),
		log:       logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[transport.tcp.client] "}),
	}
	go c.rxLoop()
	return c, nil
}

// DoTransaction sends tran's request across the connection and, unless it
// is a post, leaves it in the in-flight table for rxLoop to complete,
// matching TcpClient::doTransaction.
func (c *TCPBridgeClient) DoTransaction(tran *memory.Transaction) {
	msg := make([]byte, reqMsgHeader, reqMsgHeader+int(tran.Size))
	binary.LittleEndian.PutUint32(msg[4:8], tran.ID())
	binary.LittleEndian.PutUint64(msg[8:16], tran.Address)
	binary.LittleEndian.PutUint32(msg[16:20], tran.Size)
	binary.LittleEndian.PutUint32(msg[20:24], tran.Type)

	if tran.Type == memory.TypeWrite || tran.Type == memory.TypePost {
		msg = append(msg, tran.Data...)
	}
	binary.LittleEndian.PutUint32(msg[0:4], uint32(len(msg)-4))

	if tran.Type == memory.TypePost {
		tran.Done(0)
	} else {
		c.AddTransaction(tran)
	}

	c.wmu.Lock()
	_, err := c.conn.Write(msg)
	c.wmu.Unlock()
	if err != nil {
		c.log.Warnf("failed to send transaction %d: %v", tran.ID(), err)
	}
}

// rxLoop reads response messages (id, addr, size, type, result[, data])
// and completes the matching in-flight Transaction, matching
// TcpClient::runThread.
func (c *TCPBridgeClient) rxLoop() {
	for {
		hdr := make([]byte, respMsgHeader)
		if _, err := io.ReadFull(c.rd, hdr); err != nil {
			return
		}
		frameLen := binary.LittleEndian.Uint32(hdr[0:4])
		id := binary.LittleEndian.Uint32(hdr[4:8])
		addr := binary.LittleEndian.Uint64(hdr[8:16])
		size := binary.LittleEndian.Uint32(hdr[16:20])
		typ := binary.LittleEndian.Uint32(hdr[20:24])
		result := binary.LittleEndian.Uint32(hdr[24:28])

		dataLen := int(frameLen) - (respMsgHeader - 4)
		var data []byte
		if dataLen > 0 {
			data = make([]byte, dataLen)
			if _, err := io.ReadFull(c.rd, data); err != nil {
				return
			}
		}

		tran := c.GetTransaction(id)
		if tran == nil {
			c.log.Warnf("failed to find transaction id=%d", id)
			continue
		}
		c.DelTransaction(id)

		if addr != tran.Address || size != tran.Size || typ != tran.Type {
			c.log.Warnf("transaction data mismatch id=%d", id)
			tran.Done(memory.ErrProtocolError)
			continue
		}
		if typ != memory.TypeWrite && len(data) == int(size) {
			copy(tran.Data, data)
		}
		tran.Done(result)
	}
}

// Close closes the underlying connection.
func (c *TCPBridgeClient) Close() error { return c.conn.Close() }

// SetDeadline forwards to the underlying connection, used by callers that
// want bounded request latency beyond the Transaction's own timeout.
func (c *TCPBridgeClient) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// TCPBridgeServer is the remote-side memory.Master: it receives request
// messages from a TCPBridgeClient, re-issues them as local Transactions
// against its attached Slave, and writes back the result, grounded on
// original_source's rogue::interfaces::memory::TcpServer.
type TCPBridgeServer struct {
	*memory.BaseMaster
	connStats

	rd  *bufio.Reader
	log *logging.Logger
	wmu sync.Mutex

	stop chan struct{}
	done sync.WaitGroup
}

// ListenTCPBridgeServer accepts a single inbound connection on addr and
// returns a TCPBridgeServer servicing it. Call SetSlave before (or soon
// after) to attach the local register Slave requests will be dispatched
// to, mirroring TcpServer's bind-accept sequence.
func ListenTCPBridgeServer(addr string) (*TCPBridgeServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, rogue.WrapError("transport.ListenTCPBridgeServer", rogue.CodeNetwork, err)
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, rogue.WrapError("transport.ListenTCPBridgeServer", rogue.CodeNetwork, err)
	}
	return newTCPBridgeServer(conn), nil
}

func newTCPBridgeServer(conn net.Conn) *TCPBridgeServer {
	s := &TCPBridgeServer{
		BaseMaster: memory.NewBaseMaster(),
		connStats:  connStats{conn: conn},
		rd:         bufio.NewReader(conn),
		log:        logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[transport.tcp.server] "}),
		stop:       make(chan struct{}),
	}
	s.done.Add(1)
	go s.rxLoop()
	return s
}

// rxLoop reads request messages, executes them against the attached
// Slave, and writes back a response message, matching
// TcpServer::runThread.
func (s *TCPBridgeServer) rxLoop() {
	defer s.done.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		hdr := make([]byte, reqMsgHeader)
		if _, err := io.ReadFull(s.rd, hdr); err != nil {
			return
		}
		frameLen := binary.LittleEndian.Uint32(hdr[0:4])
		id := binary.LittleEndian.Uint32(hdr[4:8])
		addr := binary.LittleEndian.Uint64(hdr[8:16])
		size := binary.LittleEndian.Uint32(hdr[16:20])
		typ := binary.LittleEndian.Uint32(hdr[20:24])

		dataLen := int(frameLen) - (reqMsgHeader - 4)
		data := make([]byte, size)
		if dataLen > 0 {
			if _, err := io.ReadFull(s.rd, data[:dataLen]); err != nil {
				return
			}
		}

		s.log.Debugf("starting transaction id=%d addr=0x%x size=%d type=%d", id, addr, size, typ)
		tid := s.ReqTransaction(addr, size, data, typ)
		result := s.WaitTransaction(tid)
		s.log.Debugf("done transaction id=%d addr=0x%x size=%d type=%d result=%d", id, addr, size, typ, result)

		resp := make([]byte, respMsgHeader, respMsgHeader+int(size))
		binary.LittleEndian.PutUint32(resp[4:8], id)
		binary.LittleEndian.PutUint64(resp[8:16], addr)
		binary.LittleEndian.PutUint32(resp[16:20], size)
		binary.LittleEndian.PutUint32(resp[20:24], typ)
		binary.LittleEndian.PutUint32(resp[24:28], result)
		if typ != memory.TypeWrite {
			resp = append(resp, data...)
		}
		binary.LittleEndian.PutUint32(resp[0:4], uint32(len(resp)-4))

		s.wmu.Lock()
		_, err := s.conn.Write(resp)
		s.wmu.Unlock()
		if err != nil {
			s.log.Warnf("failed to send response %d: %v", id, err)
			return
		}
	}
}

// Close stops the receive loop and closes the underlying connection.
func (s *TCPBridgeServer) Close() error {
	close(s.stop)
	err := s.conn.Close()
	s.done.Wait()
	return err
}
