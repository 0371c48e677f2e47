package rtsp

import (
	"errors"
	"fmt"
)

// Common status codes.
const (
	StatusOK           = 200
	StatusBadRequest   = 400
	StatusUnauthorized = 401
	StatusNotFound     = 404
	StatusInternal     = 500
	StatusBusy         = 503
)

// Errors.
var (
	ErrResponseNotInitialized = errors.New("response not initialized")
	ErrResponseTooLarge       = errors.New("response exceeds output buffer")
)

// InitResponse resets the output buffer and writes the status line of
// the response to the current request. It must be called before
// AddHeader or SetPacket.
func (c *Conn) InitResponse(code int, reason string) error {
	line := fmt.Sprintf("RTSP/1.0 %d %s\r\n\r\n", code, reason)
	if len(line) > len(c.out) {
		c.outLen = 0
		return ErrResponseTooLarge
	}
	c.outLen = copy(c.out, line)
	return nil
}

// AddHeader appends a header line to the staged response, keeping the
// terminating blank line in place.
func (c *Conn) AddHeader(name, value string) error {
	if c.outLen == 0 {
		return ErrResponseNotInitialized
	}
	line := name + ": " + value + "\r\n"
	if c.outLen+len(line) > len(c.out) {
		return ErrResponseTooLarge
	}
	// Overwrite the blank line, re-terminate after the new header.
	n := c.outLen - 2
	n += copy(c.out[n:], line)
	n += copy(c.out[n:], crlf)
	c.outLen = n
	return nil
}

// SetResponse stages a complete pre-formatted response, replacing
// anything built so far. Not to be combined with InitResponse and
// AddHeader.
func (c *Conn) SetResponse(response string) error {
	if len(response) > len(c.out) {
		return ErrResponseTooLarge
	}
	c.outLen = copy(c.out, response)
	return nil
}

// SetPacket attaches an externally-owned body to be streamed after the
// response headers. Ownership of buf transfers to the connection:
// release, when non-nil, is invoked exactly once, after the bytes have
// been fully sent or during teardown, whichever comes first.
func (c *Conn) SetPacket(buf []byte, release func()) error {
	if err := c.AddHeader("Content-Length", fmt.Sprintf("%d", len(buf))); err != nil {
		if release != nil {
			release()
		}
		return err
	}
	if c.pkt != nil {
		// A previously attached body is superseded, release it now.
		c.pkt.free()
	}
	c.pkt = &packet{data: buf, release: release}
	return nil
}
