package rtsp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// State is the phase of the per-connection request/response cycle.
// Transitions form a loop:
//
//	WaitHeader -> WaitBody -> SendHeader -> SendBody -> WaitHeader
//
// with teardown reachable from every state.
type State int

// States.
const (
	StateWaitHeader State = iota
	StateWaitBody
	StateSendHeader
	StateSendBody
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateWaitHeader:
		return "WaitHeader"
	case StateWaitBody:
		return "WaitBody"
	case StateSendHeader:
		return "SendHeader"
	case StateSendBody:
		return "SendBody"
	}
	return "unknown"
}

var (
	errTeardown        = errors.New("teardown")
	errBadRequest      = errors.New("bad request")
	errNeedData        = errors.New("need more data")
	badRequestResponse = []byte("RTSP/1.0 400 Bad request\r\n\r\n")
	serverBusyResponse = []byte("RTSP/1.0 503 Server too busy\r\n\r\n")
)

// packet is an externally-owned response body. The release function is
// invoked exactly once, either after the last byte has been sent or
// during connection teardown.
type packet struct {
	data    []byte
	release func()
}

func (p *packet) free() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
	p.data = nil
}

// Conn is one accepted client connection. It is owned by the Server for
// its whole lifetime and driven by a single goroutine, so no locking is
// needed around the request state.
type Conn struct {
	srv   *Server
	nconn net.Conn

	ctx       context.Context
	ctxCancel func()

	state  State
	buf    []byte // input buffer, fixed capacity
	bufLen int
	out    []byte // output buffer, fixed capacity
	outLen int

	req       *request
	method    Method
	remaining int // body bytes still owed by the client
	bodySize  int
	pkt       *packet

	localIP   net.IP
	localPort int
	peerIP    net.IP
	peerPort  int

	hostnameMu sync.Mutex
	hostname   string

	userData interface{}
	nonce    string
}

func newConn(srv *Server, nconn net.Conn) *Conn {
	ctx, ctxCancel := context.WithCancel(srv.ctx)
	c := &Conn{
		srv:       srv,
		nconn:     nconn,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		state:     StateWaitHeader,
		buf:       make([]byte, srv.bufferSize),
		out:       make([]byte, srv.bufferSize),
	}

	if addr, ok := nconn.LocalAddr().(*net.TCPAddr); ok {
		c.localIP = addr.IP.To4()
		c.localPort = addr.Port
	}
	if addr, ok := nconn.RemoteAddr().(*net.TCPAddr); ok {
		c.peerIP = addr.IP.To4()
		c.peerPort = addr.Port
	}

	// The reverse lookup must never delay the accept path.
	go c.resolveHostname()

	srv.wg.Add(1)
	go c.run()

	return c
}

// resolveHostname resolves the peer address, best-effort.
func (c *Conn) resolveHostname() {
	if c.peerIP == nil {
		return
	}
	names, err := net.DefaultResolver.LookupAddr(c.ctx, c.peerIP.String())
	if err != nil || len(names) == 0 {
		return
	}
	c.hostnameMu.Lock()
	c.hostname = names[0]
	c.hostnameMu.Unlock()
}

func (c *Conn) run() {
	defer c.srv.wg.Done()

	err := c.serve()
	if errors.Is(err, errBadRequest) {
		// Answer malformed input synchronously before closing.
		c.nconn.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout)) //nolint:errcheck
		c.nconn.Write(badRequestResponse)                            //nolint:errcheck
	}
	c.teardown()
}

// serve drives the state machine until the connection dies. Exactly one
// I/O direction is active per state: WaitHeader and WaitBody only read,
// SendHeader and SendBody only write.
func (c *Conn) serve() error {
	for {
		select {
		case <-c.ctx.Done():
			return errTeardown
		default:
		}

		var err error
		switch c.state {
		case StateWaitHeader:
			err = c.waitHeader()
		case StateWaitBody:
			err = c.waitBody()
		case StateSendHeader:
			err = c.sendHeader()
		case StateSendBody:
			err = c.sendBody()
		}

		if errors.Is(err, errNeedData) {
			if err := c.fill(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
}

// fill appends newly received bytes to the input buffer.
func (c *Conn) fill() error {
	if c.bufLen == len(c.buf) {
		// Full buffer with nothing consumable is a protocol error.
		return errBadRequest
	}
	n, err := c.nconn.Read(c.buf[c.bufLen:])
	if err != nil || n == 0 {
		return errTeardown
	}
	c.bufLen += n
	return nil
}

// waitHeader looks for the header/body separator in the accumulated
// input and dispatches the request once it is complete.
func (c *Conn) waitHeader() error {
	i := bytes.Index(c.buf[:c.bufLen], headerTerm)
	if i < 0 {
		return errNeedData
	}

	req, err := parseRequest(c.buf[:i])
	if err != nil {
		return errBadRequest
	}

	c.req = req
	c.method = req.method
	c.remaining = req.contentLength
	c.bodySize = req.contentLength

	c.srv.handler.OnRequest(c, req.method, req.url)

	// Request details are only valid during the callback.
	c.req = nil

	c.consume(i + len(headerTerm))
	c.state = StateWaitBody
	return nil
}

// waitBody streams the request body to the consumer. A body larger than
// the input buffer is delivered in buffer-sized chunks.
func (c *Conn) waitBody() error {
	if c.remaining > 0 {
		switch {
		case c.remaining <= c.bufLen:
			c.srv.handler.OnBody(c, c.buf[:c.remaining], true)
			c.consume(c.remaining)
			c.remaining = 0

		case c.bufLen == len(c.buf):
			c.srv.handler.OnBody(c, c.buf[:c.bufLen], false)
			c.remaining -= c.bufLen
			c.bufLen = 0
			return errNeedData

		default:
			return errNeedData
		}
	}

	// Nothing was staged during the request callback.
	if c.outLen == 0 {
		c.InitResponse(StatusNotFound, "Not found") //nolint:errcheck
	}

	c.state = StateSendHeader
	return nil
}

func (c *Conn) sendHeader() error {
	if err := c.send(c.out[:c.outLen]); err != nil {
		return err
	}
	c.outLen = 0
	c.state = StateSendBody
	return nil
}

func (c *Conn) sendBody() error {
	if c.pkt != nil {
		if err := c.send(c.pkt.data); err != nil {
			return err
		}
		c.pkt.free()
		c.pkt = nil
	}
	c.state = StateWaitHeader
	if c.bufLen == 0 {
		return errNeedData
	}
	return nil
}

func (c *Conn) send(data []byte) error {
	c.nconn.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout)) //nolint:errcheck
	if _, err := c.nconn.Write(data); err != nil {
		return errTeardown
	}
	return nil
}

// consume drops n processed bytes from the front of the input buffer.
func (c *Conn) consume(n int) {
	copy(c.buf, c.buf[n:c.bufLen])
	c.bufLen -= n
}

// teardown closes the socket and releases every per-connection
// resource. The close callback runs before the packet is released so
// the consumer can still inspect its user data.
func (c *Conn) teardown() {
	c.ctxCancel()
	c.nconn.Close()

	c.srv.handler.OnClose(c)

	if c.pkt != nil {
		c.pkt.free()
		c.pkt = nil
	}
	c.userData = nil
	c.nonce = ""

	select {
	case c.srv.connClose <- c:
	case <-c.srv.ctx.Done():
	}
}

// Close immediately aborts the connection. The close callback is
// invoked exactly once from the connection goroutine.
func (c *Conn) Close() error {
	c.ctxCancel()
	return c.nconn.Close()
}

// NetConn returns the underlying net.Conn.
func (c *Conn) NetConn() net.Conn {
	return c.nconn
}

// Method returns the method of the current request.
func (c *Conn) Method() Method {
	return c.method
}

// MethodName returns the raw method token of the current request. It is
// only valid inside the request callback.
func (c *Conn) MethodName() string {
	if c.req == nil {
		return ""
	}
	return c.req.methodName
}

// URL returns the URL of the current request. It is only valid inside
// the request callback.
func (c *Conn) URL() string {
	if c.req == nil {
		return ""
	}
	return c.req.url
}

// Header returns the value of a request header. Lookups are only valid
// inside the request callback.
func (c *Conn) Header(name string) string {
	if c.req == nil {
		return ""
	}
	return c.req.header[name]
}

// ContentLength returns the body size of the current request.
func (c *Conn) ContentLength() int {
	return c.bodySize
}

// LocalIP returns the server-side IPv4 address of the connection.
func (c *Conn) LocalIP() net.IP {
	return c.localIP
}

// LocalPort returns the server-side port of the connection.
func (c *Conn) LocalPort() int {
	return c.localPort
}

// PeerIP returns the client IPv4 address.
func (c *Conn) PeerIP() net.IP {
	return c.peerIP
}

// PeerPort returns the client port.
func (c *Conn) PeerPort() int {
	return c.peerPort
}

// PeerHostname returns the reverse-resolved client hostname. The lookup
// is asynchronous and best-effort, an empty string means it has not
// completed or failed.
func (c *Conn) PeerHostname() string {
	c.hostnameMu.Lock()
	defer c.hostnameMu.Unlock()
	return c.hostname
}

// SetUserData stashes consumer session state on the connection. It is
// kept until teardown.
func (c *Conn) SetUserData(v interface{}) {
	c.userData = v
}

// UserData returns the value set with SetUserData.
func (c *Conn) UserData() interface{} {
	return c.userData
}
