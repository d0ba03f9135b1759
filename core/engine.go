package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/net/netutil"

	"github.com/searchktools/fast-server/config"
	"github.com/searchktools/fast-server/core/cache"
	"github.com/searchktools/fast-server/core/http"
	"github.com/searchktools/fast-server/core/observability"
	"github.com/searchktools/fast-server/core/pools"
	"github.com/searchktools/fast-server/core/sendfile"
)

// Engine serves files below a document root. Accepted connections are
// handed to a fixed worker pool; each worker parses one request, looks the
// target up in the mmap cache and streams the response before closing the
// connection.
type Engine struct {
	cfg  *config.Config
	root string
	fs   cache.FileSystem

	raw      net.Listener // deadline-capable listener under any limiter
	listener net.Listener

	cache   *cache.Cache
	workers *pools.WorkerPool
	arenas  *pools.ArenaPool
	readers sync.Pool
	monitor *observability.Monitor

	logger zerolog.Logger

	serving   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	// Statistics
	stats struct {
		accepted atomic.Uint64
		served   atomic.Uint64
		dropped  atomic.Uint64
		ok       atomic.Uint64
		notFound atomic.Uint64
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Components log through children of it.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithFileSystem replaces os-backed file access for resolution and caching.
func WithFileSystem(fsys cache.FileSystem) Option {
	return func(e *Engine) {
		if fsys != nil {
			e.fs = fsys
		}
	}
}

// WithListener serves on ln instead of creating a socket from the config.
// Port, Backlog and FlagReuseAddr are then ignored.
func WithListener(ln net.Listener) Option {
	return func(e *Engine) {
		e.raw = ln
	}
}

// NewEngine validates cfg and builds the cache, the worker pool and the
// listening socket. Any failure unwinds what was already built.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		fs:      cache.OSFileSystem{},
		logger:  zerolog.Nop(),
		monitor: observability.NewMonitor(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRoot, err)
	}
	info, err := e.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRoot, root)
	}
	e.root = root

	e.cache = cache.New(
		cache.WithFileSystem(e.fs),
		cache.WithLogger(e.logger.With().Str("component", "cache").Logger()),
	)

	e.workers, err = pools.NewWorkerPool(cfg.Workers,
		pools.WithQueueSize(cfg.QueueSize),
		pools.WithLogger(e.logger.With().Str("component", "workers").Logger()),
	)
	if err != nil {
		e.cache.Close()
		return nil, fmt.Errorf("%w: %w", ErrWorkers, err)
	}

	e.arenas = pools.NewArenaPool(pools.ArenaPoolConfig{
		BlockSize:  cfg.ArenaBlockSize,
		WarmupSize: cfg.Workers,
	})
	e.readers.New = func() any {
		return bufio.NewReaderSize(nil, http.MaxLineLen)
	}

	if e.raw == nil {
		e.raw, err = listen(cfg.Port, cfg.Backlog, cfg.Flags)
		if err != nil {
			e.workers.Shutdown()
			e.cache.Close()
			return nil, err
		}
	}
	e.listener = e.raw
	if cfg.MaxConns > 0 {
		e.listener = netutil.LimitListener(e.raw, cfg.MaxConns)
	}

	return e, nil
}

// Addr returns the listening address.
func (e *Engine) Addr() net.Addr {
	return e.raw.Addr()
}

// Root returns the absolute document root.
func (e *Engine) Root() string {
	return e.root
}

// Cache returns the resource cache, for administrative invalidation.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Monitor returns the per-outcome latency monitor.
func (e *Engine) Monitor() *observability.Monitor {
	return e.monitor
}

// Serve runs the accept loop until ctx is cancelled or Shutdown is called.
// It returns nil on an orderly stop. A connection the worker queue cannot
// take is closed at once and counted as dropped.
func (e *Engine) Serve(ctx context.Context) error {
	if e.closing.Load() {
		return ErrClosed
	}
	if !e.serving.CompareAndSwap(false, true) {
		return ErrServing
	}
	defer close(e.done)

	type deadliner interface {
		SetDeadline(t time.Time) error
	}
	dl, poll := e.raw.(deadliner)
	poll = poll && e.cfg.Flags.Has(config.FlagNonBlock)

	// Closing the listener also wakes an Accept parked on the MaxConns
	// limiter, which the accept deadline never reaches.
	stop := context.AfterFunc(ctx, func() {
		e.listener.Close()
	})
	defer stop()

	e.logger.Info().
		Str("addr", e.Addr().String()).
		Str("root", e.root).
		Int("workers", e.cfg.Workers).
		Bool("sendfile", e.cfg.Flags.Has(config.FlagSendfile)).
		Msg("serving")

	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}
		if poll {
			dl.SetDeadline(time.Now().Add(acceptPoll))
		}

		conn, err := e.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || e.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			e.logger.Error().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		e.stats.accepted.Add(1)

		if err := e.workers.TryPost(func() { e.serveConn(conn) }); err != nil {
			e.stats.dropped.Add(1)
			conn.Close()
			if errors.Is(err, pools.ErrPoolClosed) {
				return nil
			}
			e.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection dropped")
		}
	}
}

// serveConn handles exactly one request on conn and closes it.
func (e *Engine) serveConn(conn net.Conn) {
	defer conn.Close()
	// A file truncated under its mapping faults on access; turn that into
	// a panic the worker recovers from instead of a crash.
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))

	outcome := outcomeDropped
	start := e.monitor.Start()
	defer func() {
		e.monitor.Finish(outcome, start, outcome == outcomeDropped)
	}()

	log := e.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()

	a := e.arenas.Get()
	defer e.arenas.Put(a)

	if e.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout))
	}

	br := e.readers.Get().(*bufio.Reader)
	br.Reset(conn)
	req, err := http.ReadRequest(br, a)
	br.Reset(nil)
	e.readers.Put(br)
	if err != nil {
		e.drop(log, err, "bad request")
		return
	}
	defer req.Release()

	if e.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
	}

	name, err := http.Resolve(e.root, req.Target, e.cfg.IndexFiles, e.fs.Stat)
	if err != nil {
		if errors.Is(err, http.ErrNotFound) {
			if e.notFound(conn, req, log) {
				outcome = outcomeNotFound
			}
			return
		}
		e.drop(log, err, "bad target")
		return
	}

	view, err := e.cache.Get(name)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			if e.notFound(conn, req, log) {
				outcome = outcomeNotFound
			}
			return
		}
		e.drop(log, err, "cache lookup failed")
		return
	}
	defer view.Close()

	buf, err := a.Alloc(headerBufSize)
	if err != nil {
		e.drop(log, err, "arena exhausted")
		return
	}
	header, err := http.AppendHeader(buf[:0], req.Proto, 200, http.ContentTypeOrDefault(name), view.Len())
	if err != nil {
		e.drop(log, err, "format header")
		return
	}

	if err := e.writeResponse(conn, req, header, view); err != nil {
		e.drop(log, err, "write response")
		return
	}

	outcome = outcomeOK
	e.stats.served.Add(1)
	e.stats.ok.Add(1)
	log.Debug().
		Str("method", req.MethodName).
		Str("target", req.Target).
		Str("path", name).
		Int64("size", view.Len()).
		Msg("200")
}

func (e *Engine) writeResponse(conn net.Conn, req *http.Request, header []byte, view *cache.View) error {
	if req.Method == http.MethodHead || view.Len() == 0 {
		_, err := sendfile.WriteAll(conn, header)
		return err
	}

	if e.cfg.Flags.Has(config.FlagSendfile) {
		if _, err := sendfile.WriteAll(conn, header); err != nil {
			return err
		}
		_, err := sendfile.SendFile(conn, view.File(), 0, view.Len())
		return err
	}

	bufs := net.Buffers{header, view.Bytes()}
	_, err := bufs.WriteTo(conn)
	return err
}

func (e *Engine) notFound(conn net.Conn, req *http.Request, log zerolog.Logger) bool {
	if _, err := sendfile.WriteAll(conn, http.NotFound(req.Proto)); err != nil {
		e.drop(log, err, "write 404")
		return false
	}
	e.stats.served.Add(1)
	e.stats.notFound.Add(1)
	log.Debug().Str("method", req.MethodName).Str("target", req.Target).Msg("404")
	return true
}

func (e *Engine) drop(log zerolog.Logger, err error, msg string) {
	e.stats.dropped.Add(1)
	log.Debug().Err(err).Msg(msg)
}

// Shutdown stops accepting, waits for the accept loop and every queued
// connection, then releases the cache. If ctx expires first the remaining
// work keeps running in the background and ctx's error is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		if err := e.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			e.closeErr = err
		}
	})

	if e.serving.Load() {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	drained := make(chan struct{})
	go func() {
		e.workers.Shutdown()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := multierr.Append(e.closeErr, e.cache.Close())
	e.logger.Info().Uint64("served", e.stats.served.Load()).Msg("engine stopped")
	return err
}
