package uds

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// HandlerFunc serves one protocol op.
type HandlerFunc func(req *Request) *Response

// Server accepts control connections on a unix socket, one request/response
// pair per connection. Register all handlers before Start; the handler map
// is not mutated afterwards.
type Server struct {
	socketPath  string
	listener    net.Listener
	handlers    map[string]HandlerFunc
	connTimeout time.Duration
	wg          sync.WaitGroup
}

func NewServer(socketPath string) *Server {
	return &Server{
		socketPath:  socketPath,
		handlers:    make(map[string]HandlerFunc),
		connTimeout: 30 * time.Second,
	}
}

func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

// Handle registers the handler for op. Later registrations replace earlier
// ones.
func (s *Server) Handle(op string, handler HandlerFunc) {
	s.handlers[op] = handler
}

func (s *Server) Start() error {
	// A stale socket from an unclean shutdown blocks the listen call.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	// Only the owning user talks to the daemon.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) Stop() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			log.Printf("uds accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		log.Printf("uds read request: %v", err)
		return
	}
	if err := WriteFrame(conn, s.serve(&req)); err != nil {
		log.Printf("uds write response: %v", err)
	}
}

// serve routes one request. A panicking handler yields an internal-error
// response rather than a dropped connection.
func (s *Server) serve(req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("uds handler panic on op %q: %v\n%s", req.Op, r, debug.Stack())
			resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("internal error serving %q", req.Op))
		}
	}()

	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version %d, daemon speaks %d", req.ProtocolVersion, ProtocolVersion))
	}
	handler, ok := s.handlers[req.Op]
	if !ok {
		return ErrorResponse(ErrCodeUnknownOp, fmt.Sprintf("unknown op: %q", req.Op))
	}
	return handler(req)
}
