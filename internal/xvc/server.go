package xvc

import (
	"net"

	"github.com/slac-rogue/rogue"
	"github.com/slac-rogue/rogue/internal/logging"
)

const defaultMaxVecLen = 32768

// Server accepts XVC clients and runs one Connection per socket, grounded
// on rogue::protocols::xilinx::XvcServer. Unlike the original (which
// serves connections one at a time, looping accept() between them), each
// accepted connection here runs in its own goroutine, since nothing in
// the protocol requires serializing unrelated clients.
type Server struct {
	ln        net.Listener
	drv       Driver
	maxVecLen uint64
	log       *logging.Logger
}

// Listen binds addr (e.g. ":2542") and returns a Server ready to accept
// connections that will be driven through drv.
func Listen(addr string, drv Driver, maxVecLen uint64, log *logging.Logger) (*Server, error) {
	if maxVecLen == 0 {
		maxVecLen = defaultMaxVecLen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, rogue.WrapError("xvc.Listen", rogue.CodeNetwork, err)
	}
	if log == nil {
		log = logging.New(&logging.Config{Level: logging.LevelInfo, Prefix: "[xvc.server] "})
	}
	return &Server{ln: ln, drv: drv, maxVecLen: maxVecLen, log: log}, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until the listener is closed, running each
// one's command loop in its own goroutine, matching XvcServer::run's
// per-connection dispatch to XvcConnection::run but without its
// single-client-at-a-time restriction.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return rogue.WrapError("xvc.Server.Serve", rogue.CodeNetwork, err)
		}
		c := newConnection(conn, s.drv, s.maxVecLen)
		go func() {
			if err := c.Run(); err != nil {
				s.log.Warnf("connection closed: %v", err)
			}
		}()
	}
}
