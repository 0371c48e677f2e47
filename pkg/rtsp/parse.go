package rtsp

import (
	"bytes"
	"errors"
	"strconv"
)

// Errors.
var (
	ErrParseRequestLine  = errors.New("malformed request line")
	ErrParseHeaderLine   = errors.New("malformed header line")
	ErrParseHeaderTooBig = errors.New("header block exceeds buffer capacity")
)

var (
	crlf            = []byte("\r\n")
	headerSeparator = []byte(": ")
	headerTerm      = []byte("\r\n\r\n")
)

// request is the outcome of parsing one request header block. The
// header values are owned copies, they do not alias the connection
// input buffer. A request is only handed to the consumer for the
// duration of the request callback.
type request struct {
	method        Method
	methodName    string
	url           string
	header        map[string]string
	contentLength int
}

// parseRequest parses a header block, excluding the terminating blank
// line. The block is a pure function of the accumulated input buffer,
// so delivery chunking has no influence on the result.
func parseRequest(block []byte) (*request, error) {
	line, rest, ok := cutLine(block)
	if !ok {
		return nil, ErrParseRequestLine
	}

	// "METHOD SP URL SP RTSP/1.0"
	methodName, line, ok := cutToken(line)
	if !ok {
		return nil, ErrParseRequestLine
	}
	url, line, ok := cutToken(line)
	if !ok || len(line) == 0 {
		return nil, ErrParseRequestLine
	}

	req := &request{
		method:     methodByName(string(methodName)),
		methodName: string(methodName),
		url:        string(url),
		header:     make(map[string]string),
	}

	for len(rest) > 0 {
		line, rest, _ = cutLine(rest)

		i := bytes.Index(line, headerSeparator)
		if i < 0 {
			return nil, ErrParseHeaderLine
		}
		req.header[string(line[:i])] = string(line[i+len(headerSeparator):])
	}

	// A missing Content-Length means a zero-length body.
	if v, ok := req.header["Content-Length"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, ErrParseHeaderLine
		}
		req.contentLength = n
	}

	return req, nil
}

// cutLine splits buf around the first CRLF. The last line may be
// unterminated.
func cutLine(buf []byte) (line, rest []byte, ok bool) {
	if len(buf) == 0 {
		return nil, nil, false
	}
	i := bytes.Index(buf, crlf)
	if i < 0 {
		return buf, nil, true
	}
	return buf[:i], buf[i+len(crlf):], true
}

func cutToken(buf []byte) (token, rest []byte, ok bool) {
	i := bytes.IndexByte(buf, ' ')
	if i <= 0 {
		return nil, nil, false
	}
	return buf[:i], buf[i+1:], true
}
