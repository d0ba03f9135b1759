package http

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"

	"github.com/searchktools/fast-server/core/arena"
)

// MaxLineLen bounds the request line and every header line, CRLF included.
const MaxLineLen = 1024

var (
	ErrInvalidRequest = errors.New("invalid HTTP request")
	ErrLineTooLong    = errors.New("request line too long")
	ErrMethod         = errors.New("invalid request method")
	ErrTarget         = errors.New("invalid request target")
	ErrVersion        = errors.New("unsupported HTTP version")
	ErrHeader         = errors.New("invalid header line")
)

// ReadRequest parses a request line and its headers from br. Field and value
// bytes are copied into a, so the request stays valid after br is reused but
// must be released before a is reset.
//
// The reader should be sized to MaxLineLen; longer lines fail with
// ErrLineTooLong either way.
func ReadRequest(br *bufio.Reader, a *arena.Arena) (*Request, error) {
	req := AcquireRequest()
	if err := readRequest(br, a, req); err != nil {
		req.Release()
		return nil, err
	}
	return req, nil
}

func readRequest(br *bufio.Reader, a *arena.Arena, req *Request) error {
	line, err := readLine(br)
	if err != nil {
		return err
	}
	if err := parseRequestLine(line, a, req); err != nil {
		return err
	}

	for {
		line, err := readLine(br)
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
		if err := parseHeader(line, a, req); err != nil {
			return err
		}
	}
}

// readLine returns the next line without its CRLF. A bare LF is rejected.
func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, ErrLineTooLong
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if len(line) > MaxLineLen {
		return nil, ErrLineTooLong
	}

	n := len(line) - 1
	if n == 0 || line[n-1] != '\r' {
		return nil, fmt.Errorf("%w: line not terminated by CRLF", ErrInvalidRequest)
	}
	return line[:n-1], nil
}

// parseRequestLine handles METHOD SP TARGET SP VERSION.
func parseRequestLine(line []byte, a *arena.Arena, req *Request) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrMethod
	}
	rest := line[sp1+1:]

	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return ErrTarget
	}

	method := line[:sp1]
	target := rest[:sp2]
	version := rest[sp2+1:]

	switch string(version) {
	case "HTTP/1.1":
		req.Proto = Proto11
	case "HTTP/1.0":
		req.Proto = Proto10
	default:
		return ErrVersion
	}

	var err error
	req.Method = ParseMethod(method)
	if req.MethodName, err = a.String(method); err != nil {
		return err
	}
	if req.Target, err = a.String(target); err != nil {
		return err
	}
	return nil
}

// parseHeader handles FIELD ':' [ \t]* VALUE, trimming the value on both sides.
func parseHeader(line []byte, a *arena.Arena, req *Request) error {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrHeader
	}

	field := line[:colon]
	value := bytes.Trim(line[colon+1:], " \t")

	h := &Header{}
	var err error
	if h.Field, err = a.String(field); err != nil {
		return err
	}
	if h.Value, err = a.String(value); err != nil {
		return err
	}

	if !req.addHeader(h) {
		return fmt.Errorf("%w: duplicate field %q", ErrHeader, field)
	}
	return nil
}
