package http

import (
	"sync"

	"github.com/searchktools/fast-server/core/index"
)

// Method is a request method
type Method uint8

// Recognized methods. Any other token parses as MethodExtension.
const (
	MethodGet Method = iota
	MethodPut
	MethodHead
	MethodPost
	MethodTrace
	MethodDelete
	MethodOptions
	MethodConnect
	MethodExtension
)

var methodNames = [...]string{
	MethodGet:       "GET",
	MethodPut:       "PUT",
	MethodHead:      "HEAD",
	MethodPost:      "POST",
	MethodTrace:     "TRACE",
	MethodDelete:    "DELETE",
	MethodOptions:   "OPTIONS",
	MethodConnect:   "CONNECT",
	MethodExtension: "EXTENSION",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return "EXTENSION"
}

// ParseMethod matches token exactly and case-sensitively.
func ParseMethod(token []byte) Method {
	for m := MethodGet; m < MethodExtension; m++ {
		if string(token) == methodNames[m] {
			return m
		}
	}
	return MethodExtension
}

// Proto is the protocol version of a request
type Proto uint8

const (
	Proto11 Proto = iota
	Proto10
)

func (p Proto) String() string {
	if p == Proto10 {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

// Header is one request header. Field and Value are owned copies, not
// views into the read buffer.
type Header struct {
	Field string
	Value string
}

func compareHeader(a, b *Header) int {
	return compareFold(a.Field, b.Field)
}

// compareFold orders ASCII strings ignoring case.
func compareFold(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ca, cb := lower(a[i]), lower(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// Request is a parsed request line plus its headers
type Request struct {
	Method Method
	// MethodName is the method token as sent, useful for extension methods.
	MethodName string
	Target     string
	Proto      Proto

	headers *index.Index[*Header]
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{headers: index.New(compareHeader)}
	},
}

func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// Reset resets the request for reuse
func (r *Request) Reset() {
	r.Method = MethodGet
	r.MethodName = ""
	r.Target = ""
	r.Proto = Proto11
	r.headers.Clear()
}

// Release resets the request and returns it to the pool. The request must
// be released before the arena its strings were copied into is reset.
func (r *Request) Release() {
	r.Reset()
	requestPool.Put(r)
}

// Header returns the value of field, matched case-insensitively.
func (r *Request) Header(field string) (string, bool) {
	h, ok := r.headers.Find(&Header{Field: field})
	if !ok {
		return "", false
	}
	return h.Value, true
}

// Headers calls fn for every header in case-insensitive field order until
// fn returns false.
func (r *Request) Headers(fn func(h *Header) bool) {
	r.headers.Visit(fn)
}

// NumHeaders returns the number of headers
func (r *Request) NumHeaders() int {
	return r.headers.Len()
}

// addHeader stores h, failing on a duplicate field.
func (r *Request) addHeader(h *Header) bool {
	return r.headers.Insert(h)
}
