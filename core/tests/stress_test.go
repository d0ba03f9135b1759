package tests

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/fast-server/config"
	"github.com/searchktools/fast-server/core"
)

const (
	numFiles   = 16
	numClients = 32
	perClient  = 50
)

func body(i, gen int) string {
	return fmt.Sprintf("file %d generation %d %s\n", i, gen, strings.Repeat("x", i*97))
}

func startEngine(t *testing.T, root string, flags config.Flags) *core.Engine {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Root = root
	cfg.Workers = 8
	cfg.QueueSize = 1024
	cfg.Flags = flags
	cfg.ReadTimeout = 10 * time.Second

	e, err := core.NewEngine(cfg, core.WithListener(ln))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		require.NoError(t, e.Shutdown(shutdownCtx))
		require.NoError(t, <-errc)
	})
	return e
}

func get(addr, target string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := io.WriteString(conn, "GET "+target+" HTTP/1.1\r\n\r\n"); err != nil {
		return "", err
	}
	out, err := io.ReadAll(conn)
	if err != nil {
		return "", err
	}

	head, payload, ok := strings.Cut(string(out), "\r\n\r\n")
	if !ok {
		return "", fmt.Errorf("%s: no header terminator in %q", target, out)
	}
	if !strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n") {
		return "", fmt.Errorf("%s: unexpected status %q", target, head)
	}
	return payload, nil
}

// TestStress_ConcurrentClients hammers a fixed set of files from many
// clients and checks every body and the cache's mapping count.
func TestStress_ConcurrentClients(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}

	for _, mode := range []struct {
		name  string
		flags config.Flags
	}{
		{"mapped", config.FlagReuseAddr},
		{"sendfile", config.FlagReuseAddr | config.FlagSendfile},
	} {
		t.Run(mode.name, func(t *testing.T) {
			root := t.TempDir()
			for i := 0; i < numFiles; i++ {
				require.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("f%d.txt", i)), []byte(body(i, 0)), 0o644))
			}
			e := startEngine(t, root, mode.flags)
			addr := e.Addr().String()

			var g errgroup.Group
			for c := 0; c < numClients; c++ {
				g.Go(func() error {
					for r := 0; r < perClient; r++ {
						i := (c + r) % numFiles
						got, err := get(addr, fmt.Sprintf("/f%d.txt", i))
						if err != nil {
							return err
						}
						if got != body(i, 0) {
							return fmt.Errorf("f%d.txt: body mismatch", i)
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			s := e.Stats()
			require.Equal(t, numFiles, s.Cache.Entries)
			require.EqualValues(t, numFiles, s.Cache.Mappings)
			require.EqualValues(t, numClients*perClient, s.OK)
			require.Zero(t, s.Dropped)
			require.Zero(t, s.Workers.Panics)
		})
	}
}

// TestStress_RefreshUnderLoad replaces files while clients read them. Every
// response must be one complete generation of the file, never a mix.
func TestStress_RefreshUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}

	root := t.TempDir()
	const gens = 20
	path := filepath.Join(root, "f3.txt")
	require.NoError(t, os.WriteFile(path, []byte(body(3, 0)), 0o644))
	e := startEngine(t, root, config.FlagReuseAddr)
	addr := e.Addr().String()

	valid := make(map[string]bool, gens)
	for g := 0; g < gens; g++ {
		valid[body(3, g)] = true
	}

	var done atomic.Bool
	var g errgroup.Group
	for c := 0; c < 8; c++ {
		g.Go(func() error {
			for !done.Load() {
				got, err := get(addr, "/f3.txt")
				if err != nil {
					return err
				}
				if !valid[got] {
					return fmt.Errorf("torn body %q", got)
				}
			}
			return nil
		})
	}

	base := time.Now()
	for gen := 1; gen < gens; gen++ {
		tmp := path + ".tmp"
		require.NoError(t, os.WriteFile(tmp, []byte(body(3, gen)), 0o644))
		mtime := base.Add(time.Duration(gen) * time.Second)
		require.NoError(t, os.Chtimes(tmp, mtime, mtime))
		require.NoError(t, os.Rename(tmp, path))
		time.Sleep(5 * time.Millisecond)
	}
	done.Store(true)
	require.NoError(t, g.Wait())

	got, err := get(addr, "/f3.txt")
	require.NoError(t, err)
	require.Equal(t, body(3, gens-1), got)

	require.Eventually(t, func() bool {
		return e.Stats().Cache.Mappings == 1
	}, 5*time.Second, 10*time.Millisecond)
}
