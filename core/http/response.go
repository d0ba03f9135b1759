package http

import (
	"errors"
)

// ServerName is sent in the Server header of every response
const ServerName = "httpd"

// Fixed 404 response parts
const (
	NotFoundBody        = "404 NOT FOUND"
	NotFoundContentType = "text/html"
)

// ErrStatus is returned for any status code other than 200 and 404.
var ErrStatus = errors.New("unsupported response status")

// AppendHeader appends a status line and the fixed header block to dst.
// On error dst is returned unchanged.
func AppendHeader(dst []byte, proto Proto, code int, contentType string, length int64) ([]byte, error) {
	reason := statusText(code)
	if reason == "" {
		return dst, ErrStatus
	}

	dst = append(dst, proto.String()...)
	dst = append(dst, ' ')
	dst = appendInt(dst, int64(code))
	dst = append(dst, ' ')
	dst = append(dst, reason...)
	dst = append(dst, "\r\nServer: "...)
	dst = append(dst, ServerName...)
	dst = append(dst, "\r\nContent-Type: "...)
	dst = append(dst, contentType...)
	dst = append(dst, "\r\nContent-Length: "...)
	dst = appendInt(dst, length)
	dst = append(dst, "\r\n\r\n"...)
	return dst, nil
}

// AppendNotFound appends the complete fixed 404 response, body included.
func AppendNotFound(dst []byte, proto Proto) []byte {
	dst, _ = AppendHeader(dst, proto, 404, NotFoundContentType, int64(len(NotFoundBody)))
	return append(dst, NotFoundBody...)
}

// NotFound returns the complete fixed 404 response.
func NotFound(proto Proto) []byte {
	return AppendNotFound(make([]byte, 0, 128), proto)
}

// appendInt appends an integer to a byte slice
func appendInt(b []byte, i int64) []byte {
	if i == 0 {
		return append(b, '0')
	}

	if i < 0 {
		b = append(b, '-')
		i = -i
	}

	// Calculate number of digits
	digits := 0
	tmp := i
	for tmp > 0 {
		digits++
		tmp /= 10
	}

	// Pre-allocate space
	start := len(b)
	for j := 0; j < digits; j++ {
		b = append(b, '0')
	}

	// Fill digits from right to left
	for j := digits - 1; j >= 0; j-- {
		b[start+j] = byte('0' + i%10)
		i /= 10
	}

	return b
}

// statusText returns the reason phrase, empty for codes never produced
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 404:
		return "NOT FOUND"
	default:
		return ""
	}
}
