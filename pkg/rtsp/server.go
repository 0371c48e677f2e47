// Package rtsp implements a small RTSP/1.0 server used as the AirPlay
// control transport. One request is in flight per connection at a time,
// requests and responses go through fixed-size buffers, and the
// consumer drives the outcome of each request from three callbacks.
package rtsp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"airwave/pkg/log"
)

const (
	// A header block that does not fit is rejected, request bodies
	// above this size are streamed in buffer-sized chunks.
	defaultBufferSize = 8192

	defaultMaxConnections = 5
	defaultWriteTimeout   = 10 * time.Second
)

// Handler receives the per-request callbacks of a Server. OnRequest is
// invoked once per parsed request header block; the request headers and
// URL are only readable for the duration of the call, and the response
// is staged through the Conn response builder. OnBody is invoked zero
// or more times while a request body streams in. OnClose is invoked
// exactly once when a connection is being torn down.
type Handler interface {
	OnRequest(conn *Conn, method Method, url string)
	OnBody(conn *Conn, chunk []byte, final bool)
	OnClose(conn *Conn)
}

// Errors.
var (
	ErrServerMissingAddress = errors.New("address not provided")
	ErrServerMissingHandler = errors.New("handler not provided")
)

// Server accepts RTSP connections and owns them for their lifetime. The
// connection set is confined to the run goroutine, created at Start();
// several servers can run side by side.
type Server struct {
	address        string
	maxConnections int
	bufferSize     int
	writeTimeout   time.Duration

	handler Handler
	logger  *log.Logger

	// Initializes the TCP listener, defaults to net.Listen.
	listen func(network, address string) (net.Listener, error)

	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
	listener  net.Listener
	conns     map[*Conn]struct{}

	connClose chan *Conn
	connCount chan chan int

	started bool
	mu      sync.Mutex
}

// NewServer creates a server listening on address once started.
// maxConnections limits concurrent clients, zero means the default of 5.
func NewServer(handler Handler, logger *log.Logger, address string, maxConnections int) *Server {
	return &Server{
		address:        address,
		maxConnections: maxConnections,
		handler:        handler,
		logger:         logger,
	}
}

// Start binds the listening socket and spawns the accept loop. The
// server is left stopped if any step fails.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if s.handler == nil {
		return ErrServerMissingHandler
	}
	if s.address == "" {
		return ErrServerMissingAddress
	}
	if s.maxConnections == 0 {
		s.maxConnections = defaultMaxConnections
	}
	if s.bufferSize == 0 {
		s.bufferSize = defaultBufferSize
	}
	if s.writeTimeout == 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	if s.listen == nil {
		s.listen = net.Listen
	}

	var err error
	s.listener, err = s.listen("tcp4", s.address)
	if err != nil {
		return err
	}

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())
	s.connClose = make(chan *Conn)
	s.connCount = make(chan chan int)

	s.wg.Add(1)
	go s.run()

	s.started = true
	return nil
}

// Stop closes the listening socket and disconnects every live
// connection, waiting for their teardown. Stopping an already stopped
// server is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.ctxCancel()
	s.wg.Wait()
	s.started = false
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns the current number of live connections.
func (s *Server) Connections() int {
	if s.ctx == nil {
		return 0
	}
	res := make(chan int)
	select {
	case s.connCount <- res:
		return <-res
	case <-s.ctx.Done():
		return 0
	}
}

func (s *Server) run() {
	defer s.wg.Done()

	s.conns = make(map[*Conn]struct{})

	connNew := make(chan net.Conn)
	acceptErr := make(chan error)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := func() error {
			for {
				nconn, err := s.listener.Accept()
				if err != nil {
					return err
				}
				if tcpConn, ok := nconn.(*net.TCPConn); ok {
					tcpConn.SetKeepAlive(true) //nolint:errcheck
				}

				select {
				case connNew <- nconn:
				case <-s.ctx.Done():
					nconn.Close()
				}
			}
		}()

		select {
		case acceptErr <- err:
		case <-s.ctx.Done():
		}
	}()

	func() {
		for {
			select {
			case err := <-acceptErr:
				if s.logger != nil {
					s.logger.Error().Src("rtsp").Msgf("accept: %v", err)
				}
				return

			case nconn := <-connNew:
				if len(s.conns) >= s.maxConnections {
					s.reject(nconn)
					continue
				}
				conn := newConn(s, nconn)
				s.conns[conn] = struct{}{}

			case conn := <-s.connClose:
				delete(s.conns, conn)

			case res := <-s.connCount:
				res <- len(s.conns)

			case <-s.ctx.Done():
				return
			}
		}
	}()

	s.ctxCancel()
	s.listener.Close()

	// Abort live connections, their goroutines run the close path.
	for conn := range s.conns {
		conn.Close() //nolint:errcheck
	}
}

// reject answers a connection above the limit with a minimal 503 status
// line, no connection object is created.
func (s *Server) reject(nconn net.Conn) {
	if s.logger != nil {
		s.logger.Warn().Src("rtsp").
			Msgf("rejecting %v: connection limit reached", nconn.RemoteAddr())
	}
	nconn.SetWriteDeadline(time.Now().Add(s.writeTimeout)) //nolint:errcheck
	nconn.Write(serverBusyResponse)                        //nolint:errcheck
	nconn.Close()
}
