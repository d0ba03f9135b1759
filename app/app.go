package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/searchktools/fast-server/config"
	"github.com/searchktools/fast-server/core"
	"github.com/searchktools/fast-server/core/pools"
)

// ShutdownTimeout bounds the graceful drain after a stop signal.
const ShutdownTimeout = 10 * time.Second

// App is the application instance: one engine plus its logger
type App struct {
	cfg    *config.Config
	engine *core.Engine
	logger zerolog.Logger
}

// New creates an application instance logging to stderr.
func New(cfg *config.Config, opts ...core.Option) (*App, error) {
	return NewWithOutput(cfg, os.Stderr, opts...)
}

// NewWithOutput creates an application instance logging to w.
func NewWithOutput(cfg *config.Config, w io.Writer, opts ...core.Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat, w)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("env", cfg.Env).Logger()

	if cfg.GCPercent != 0 || cfg.MemoryLimit != 0 {
		prev := pools.ApplyGCConfig(pools.GCConfig{Percent: cfg.GCPercent, MemoryLimit: cfg.MemoryLimit})
		logger.Debug().
			Int("gc_percent", cfg.GCPercent).
			Int("prev_gc_percent", prev.Percent).
			Int64("memory_limit", cfg.MemoryLimit).
			Msg("runtime tuned")
	}

	engine, err := core.NewEngine(cfg, append([]core.Option{core.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:    cfg,
		engine: engine,
		logger: logger,
	}, nil
}

// NewLogger builds a zerolog logger writing console or JSON lines to w.
func NewLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	switch format {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Logger returns the application logger
func (a *App) Logger() zerolog.Logger {
	return a.logger
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives, then shuts the
// engine down gracefully within ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info().Int("port", a.cfg.Port).Str("root", a.engine.Root()).Msg("starting")

	serveErr := a.engine.Serve(ctx)
	if ctx.Err() != nil {
		a.logger.Info().Msg("stop requested, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := multierr.Append(serveErr, a.engine.Shutdown(shutdownCtx))

	a.logger.Info().Interface("stats", a.engine.Stats()).Msg("stopped")
	return err
}
