// Package config holds the server configuration bundle and loads it from
// flags, HTTPD_* environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "HTTPD"

// Flags is the server's bit-flag set
type Flags uint

const (
	// FlagReuseAddr sets SO_REUSEADDR on the listening socket.
	FlagReuseAddr Flags = 1 << iota
	// FlagNonBlock makes the accept loop poll with short deadlines.
	FlagNonBlock
	// FlagSendfile streams bodies with sendfile(2) instead of writing
	// the mapped bytes.
	FlagSendfile
)

// Has reports whether every bit of flag is set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Defaults
const (
	DefaultPort           = 8080
	DefaultRoot           = "."
	DefaultWorkers        = 16
	DefaultBacklog        = 32
	DefaultQueueSize      = 256
	DefaultArenaBlockSize = 32 << 10
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultEnv            = "development"
)

// DefaultIndexFiles are probed in order when a request names a directory.
var DefaultIndexFiles = []string{"index.htm", "index.html"}

// Config holds all application configuration.
type Config struct {
	Port    int
	Root    string
	Workers int
	Backlog int
	Flags   Flags

	QueueSize      int
	MaxConns       int
	IndexFiles     []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ArenaBlockSize int

	// Runtime tuning, applied once at startup. Zero leaves the runtime
	// default in place.
	GCPercent   int
	MemoryLimit int64

	LogLevel  string
	LogFormat string
	Env       string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		Root:           DefaultRoot,
		Workers:        DefaultWorkers,
		Backlog:        DefaultBacklog,
		Flags:          FlagReuseAddr,
		QueueSize:      DefaultQueueSize,
		IndexFiles:     append([]string(nil), DefaultIndexFiles...),
		ArenaBlockSize: DefaultArenaBlockSize,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
		Env:            DefaultEnv,
	}
}

// WithDefaults returns a copy of c with every zero field replaced by its
// default. Flags, MaxConns, timeouts and runtime tuning are taken as given.
func (c *Config) WithDefaults() *Config {
	out := *c
	if out.Port == 0 {
		out.Port = DefaultPort
	}
	if out.Root == "" {
		out.Root = DefaultRoot
	}
	if out.Workers == 0 {
		out.Workers = DefaultWorkers
	}
	if out.Backlog == 0 {
		out.Backlog = DefaultBacklog
	}
	if out.QueueSize == 0 {
		out.QueueSize = DefaultQueueSize
	}
	if len(out.IndexFiles) == 0 {
		out.IndexFiles = append([]string(nil), DefaultIndexFiles...)
	} else {
		out.IndexFiles = append([]string(nil), out.IndexFiles...)
	}
	if out.ArenaBlockSize == 0 {
		out.ArenaBlockSize = DefaultArenaBlockSize
	}
	if out.LogLevel == "" {
		out.LogLevel = DefaultLogLevel
	}
	if out.LogFormat == "" {
		out.LogFormat = DefaultLogFormat
	}
	if out.Env == "" {
		out.Env = DefaultEnv
	}
	return &out
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.Root == "":
		return fmt.Errorf("%w: empty root", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	case c.Backlog < 1:
		return fmt.Errorf("%w: backlog must be positive, got %d", ErrInvalidConfig, c.Backlog)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	case c.MaxConns < 0:
		return fmt.Errorf("%w: negative max conns", ErrInvalidConfig)
	case c.ReadTimeout < 0 || c.WriteTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	case c.ArenaBlockSize < 256:
		return fmt.Errorf("%w: arena block size %d below 256", ErrInvalidConfig, c.ArenaBlockSize)
	case c.GCPercent < -1:
		return fmt.Errorf("%w: gc percent %d below -1", ErrInvalidConfig, c.GCPercent)
	case c.MemoryLimit < 0:
		return fmt.Errorf("%w: negative memory limit", ErrInvalidConfig)
	case c.Flags&^(FlagReuseAddr|FlagNonBlock|FlagSendfile) != 0:
		return fmt.Errorf("%w: unknown flag bits %#x", ErrInvalidConfig, uint(c.Flags))
	}

	for _, name := range c.IndexFiles {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("%w: bad index file %q", ErrInvalidConfig, name)
		}
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level: %v", ErrInvalidConfig, err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// Viper keys, also used as flag names.
const (
	KeyPort           = "port"
	KeyRoot           = "root"
	KeyWorkers        = "workers"
	KeyBacklog        = "backlog"
	KeyReuseAddr      = "reuseaddr"
	KeyNonBlock       = "nonblock"
	KeySendfile       = "sendfile"
	KeyQueueSize      = "queue-size"
	KeyMaxConns       = "max-conns"
	KeyIndex          = "index"
	KeyReadTimeout    = "read-timeout"
	KeyWriteTimeout   = "write-timeout"
	KeyArenaBlockSize = "arena-block-size"
	KeyGCPercent      = "gc-percent"
	KeyMemoryLimit    = "memory-limit"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
	KeyEnv            = "env"
)

// RegisterFlags defines one flag per key on fs, defaulted from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.IntP(KeyPort, "p", d.Port, "listen port")
	fs.StringP(KeyRoot, "r", d.Root, "document root")
	fs.IntP(KeyWorkers, "w", d.Workers, "number of worker goroutines")
	fs.Int(KeyBacklog, d.Backlog, "listen backlog")
	fs.Bool(KeyReuseAddr, d.Flags.Has(FlagReuseAddr), "set SO_REUSEADDR on the listening socket")
	fs.Bool(KeyNonBlock, d.Flags.Has(FlagNonBlock), "poll accept with short deadlines")
	fs.Bool(KeySendfile, d.Flags.Has(FlagSendfile), "stream bodies with sendfile(2)")
	fs.Int(KeyQueueSize, d.QueueSize, "pending connection queue depth")
	fs.Int(KeyMaxConns, d.MaxConns, "maximum concurrent connections (0 = unlimited)")
	fs.StringSlice(KeyIndex, d.IndexFiles, "directory index files, probed in order")
	fs.Duration(KeyReadTimeout, d.ReadTimeout, "per-connection read timeout (0 = none)")
	fs.Duration(KeyWriteTimeout, d.WriteTimeout, "per-connection write timeout (0 = none)")
	fs.Int(KeyArenaBlockSize, d.ArenaBlockSize, "per-connection arena block size in bytes")
	fs.Int(KeyGCPercent, d.GCPercent, "GOGC target (0 = runtime default, -1 = off)")
	fs.Int64(KeyMemoryLimit, d.MemoryLimit, "soft memory limit in bytes (0 = none)")
	fs.String(KeyLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	fs.String(KeyLogFormat, d.LogFormat, "log format (console, json)")
	fs.String(KeyEnv, d.Env, "environment name")
}

// NewViper returns a viper instance seeded with the defaults and reading
// HTTPD_* environment variables, with dashes in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the built-in defaults with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyPort, d.Port)
	v.SetDefault(KeyRoot, d.Root)
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyBacklog, d.Backlog)
	v.SetDefault(KeyReuseAddr, d.Flags.Has(FlagReuseAddr))
	v.SetDefault(KeyNonBlock, d.Flags.Has(FlagNonBlock))
	v.SetDefault(KeySendfile, d.Flags.Has(FlagSendfile))
	v.SetDefault(KeyQueueSize, d.QueueSize)
	v.SetDefault(KeyMaxConns, d.MaxConns)
	v.SetDefault(KeyIndex, d.IndexFiles)
	v.SetDefault(KeyReadTimeout, d.ReadTimeout)
	v.SetDefault(KeyWriteTimeout, d.WriteTimeout)
	v.SetDefault(KeyArenaBlockSize, d.ArenaBlockSize)
	v.SetDefault(KeyGCPercent, d.GCPercent)
	v.SetDefault(KeyMemoryLimit, d.MemoryLimit)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyEnv, d.Env)
}

// BindFlags binds every flag registered by RegisterFlags to its key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}

// ReadFile merges a config file into v. The format follows the extension.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:           v.GetInt(KeyPort),
		Root:           v.GetString(KeyRoot),
		Workers:        v.GetInt(KeyWorkers),
		Backlog:        v.GetInt(KeyBacklog),
		QueueSize:      v.GetInt(KeyQueueSize),
		MaxConns:       v.GetInt(KeyMaxConns),
		IndexFiles:     v.GetStringSlice(KeyIndex),
		ReadTimeout:    v.GetDuration(KeyReadTimeout),
		WriteTimeout:   v.GetDuration(KeyWriteTimeout),
		ArenaBlockSize: v.GetInt(KeyArenaBlockSize),
		GCPercent:      v.GetInt(KeyGCPercent),
		MemoryLimit:    v.GetInt64(KeyMemoryLimit),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
		Env:            v.GetString(KeyEnv),
	}
	if v.GetBool(KeyReuseAddr) {
		cfg.Flags |= FlagReuseAddr
	}
	if v.GetBool(KeyNonBlock) {
		cfg.Flags |= FlagNonBlock
	}
	if v.GetBool(KeySendfile) {
		cfg.Flags |= FlagSendfile
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
