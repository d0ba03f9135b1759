package http

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/searchktools/fast-server/core/arena"
)

func parse(t *testing.T, raw string) (*Request, error) {
	t.Helper()
	br := bufio.NewReaderSize(strings.NewReader(raw), MaxLineLen)
	return ReadRequest(br, arena.New())
}

func TestReadRequest_Basic(t *testing.T) {
	req, err := parse(t, "GET /index.html HTTP/1.1\r\nHost: x\r\nAccept: */*\r\n\r\n")
	require.NoError(t, err)
	defer req.Release()

	require.Equal(t, MethodGet, req.Method)
	require.Equal(t, "GET", req.MethodName)
	require.Equal(t, "/index.html", req.Target)
	require.Equal(t, Proto11, req.Proto)
	require.Equal(t, 2, req.NumHeaders())

	host, ok := req.Header("host")
	require.True(t, ok)
	require.Equal(t, "x", host)

	_, ok = req.Header("Cookie")
	require.False(t, ok)
}

func TestReadRequest_Methods(t *testing.T) {
	tests := []struct {
		token string
		want  Method
	}{
		{"GET", MethodGet},
		{"PUT", MethodPut},
		{"HEAD", MethodHead},
		{"POST", MethodPost},
		{"TRACE", MethodTrace},
		{"DELETE", MethodDelete},
		{"OPTIONS", MethodOptions},
		{"CONNECT", MethodConnect},
		{"get", MethodExtension},
		{"PATCH", MethodExtension},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			req, err := parse(t, tt.token+" / HTTP/1.0\r\n\r\n")
			require.NoError(t, err)
			defer req.Release()
			require.Equal(t, tt.want, req.Method)
			require.Equal(t, tt.token, req.MethodName)
			require.Equal(t, Proto10, req.Proto)
		})
	}
}

func TestReadRequest_HeaderTrimming(t *testing.T) {
	req, err := parse(t, "GET / HTTP/1.1\r\nX-Test:   value  \r\nX-Tab:\t\tv\t\r\nX-Empty:\r\n\r\n")
	require.NoError(t, err)
	defer req.Release()

	v, ok := req.Header("X-Test")
	require.True(t, ok)
	require.Equal(t, "value", v)

	v, _ = req.Header("x-tab")
	require.Equal(t, "v", v)

	v, ok = req.Header("X-EMPTY")
	require.True(t, ok)
	require.Empty(t, v)

	var fields []string
	req.Headers(func(h *Header) bool {
		fields = append(fields, h.Field)
		return true
	})
	require.Equal(t, []string{"X-Empty", "X-Tab", "X-Test"}, fields)
}

func TestReadRequest_Errors(t *testing.T) {
	long := "GET /" + strings.Repeat("a", MaxLineLen) + " HTTP/1.1\r\n\r\n"

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"http2 version", "GET / HTTP/2.0\r\n\r\n", ErrVersion},
		{"lowercase version", "GET / http/1.1\r\n\r\n", ErrVersion},
		{"missing version", "GET /\r\n\r\n", ErrTarget},
		{"empty method", " / HTTP/1.1\r\n\r\n", ErrMethod},
		{"empty target", "GET  HTTP/1.1\r\n\r\n", ErrTarget},
		{"bare LF", "GET / HTTP/1.1\n\n", ErrInvalidRequest},
		{"truncated", "GET / HTTP/1.1\r\nHost: x\r\n", ErrInvalidRequest},
		{"missing colon", "GET / HTTP/1.1\r\nHost x\r\n\r\n", ErrHeader},
		{"empty field", "GET / HTTP/1.1\r\n: x\r\n\r\n", ErrHeader},
		{"duplicate field", "GET / HTTP/1.1\r\nHost: a\r\nHOST: b\r\n\r\n", ErrHeader},
		{"line too long", long, ErrLineTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parse(t, tt.raw)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, req)
		})
	}
}

func TestReadRequest_ValuesOutliveBuffer(t *testing.T) {
	a := arena.New()
	br := bufio.NewReaderSize(strings.NewReader("GET /a HTTP/1.1\r\nHost: first\r\n\r\nGET /b HTTP/1.1\r\nHost: second\r\n\r\n"), MaxLineLen)

	first, err := ReadRequest(br, a)
	require.NoError(t, err)
	second, err := ReadRequest(br, a)
	require.NoError(t, err)

	h, _ := first.Header("Host")
	require.Equal(t, "first", h)
	require.Equal(t, "/a", first.Target)
	h, _ = second.Header("Host")
	require.Equal(t, "second", h)

	first.Release()
	second.Release()
}

func TestReadRequest_ArenaExhausted(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader("GET /index.html HTTP/1.1\r\n\r\n"), MaxLineLen)
	_, err := ReadRequest(br, arena.New(arena.WithBlockSize(64), arena.WithLimit(1)))
	require.ErrorIs(t, err, arena.ErrExhausted)
}

func BenchmarkReadRequest(b *testing.B) {
	raw := "GET /static/app.js HTTP/1.1\r\nHost: example.com\r\nUser-Agent: bench\r\nAccept: */*\r\n\r\n"
	a := arena.New()
	sr := strings.NewReader(raw)
	br := bufio.NewReaderSize(sr, MaxLineLen)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		sr.Reset(raw)
		br.Reset(sr)
		req, err := ReadRequest(br, a)
		if err != nil {
			b.Fatal(err)
		}
		req.Release()
		a.Reset()
	}
}
