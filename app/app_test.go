package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/searchktools/fast-server/config"
	"github.com/searchktools/fast-server/core"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)
	logger.Info().Msg("hidden")
	logger.Warn().Str("path", "/x").Msg("shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"path":"/x"`)
	require.Contains(t, out, `"level":"warn"`)

	buf.Reset()
	logger, err = NewLogger("debug", "console", &buf)
	require.NoError(t, err)
	logger.Debug().Msg("console line")
	require.Contains(t, buf.String(), "console line")

	_, err = NewLogger("loud", "json", &buf)
	require.Error(t, err)
	_, err = NewLogger("info", "xml", &buf)
	require.Error(t, err)
}

func TestApp_Run(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Root = root
	cfg.Workers = 2
	cfg.LogFormat = "json"

	var logs syncBuffer
	a, err := NewWithOutput(cfg, &logs, core.WithListener(ln))
	require.NoError(t, err)
	require.NotNil(t, a.Engine())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	_, err = io.WriteString(conn, "GET / HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	conn.Close()
	require.True(t, strings.HasSuffix(string(out), "\r\n\r\nhi"))

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.Contains(t, logs.String(), `"message":"stopped"`)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LogFormat = "xml"
	_, err := New(cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
