package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, ".", cfg.Root)
	require.Equal(t, 16, cfg.Workers)
	require.Equal(t, 32, cfg.Backlog)
	require.Equal(t, FlagReuseAddr, cfg.Flags)
	require.Equal(t, []string{"index.htm", "index.html"}, cfg.IndexFiles)
}

func TestWithDefaults(t *testing.T) {
	cfg := (&Config{Port: 9000}).WithDefaults()
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, DefaultWorkers, cfg.Workers)
	require.Equal(t, DefaultBacklog, cfg.Backlog)
	require.Equal(t, DefaultRoot, cfg.Root)
	require.Zero(t, cfg.Flags)
	require.NoError(t, cfg.Validate())
}

func TestFlags_Has(t *testing.T) {
	f := FlagReuseAddr | FlagSendfile
	require.True(t, f.Has(FlagReuseAddr))
	require.False(t, f.Has(FlagNonBlock))
	require.True(t, f.Has(FlagReuseAddr|FlagSendfile))
	require.False(t, f.Has(FlagReuseAddr|FlagNonBlock))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"workers", func(c *Config) { c.Workers = -1 }},
		{"backlog", func(c *Config) { c.Backlog = -3 }},
		{"queue", func(c *Config) { c.QueueSize = -1 }},
		{"max conns", func(c *Config) { c.MaxConns = -1 }},
		{"timeout", func(c *Config) { c.ReadTimeout = -time.Second }},
		{"arena", func(c *Config) { c.ArenaBlockSize = 8 }},
		{"flags", func(c *Config) { c.Flags = 1 << 7 }},
		{"gc percent", func(c *Config) { c.GCPercent = -2 }},
		{"memory limit", func(c *Config) { c.MemoryLimit = -1 }},
		{"index", func(c *Config) { c.IndexFiles = []string{"../etc/passwd"} }},
		{"level", func(c *Config) { c.LogLevel = "loud" }},
		{"format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad_Flags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--port=9090", "--root=/srv/www", "--workers=4",
		"--reuseaddr=false", "--nonblock", "--sendfile",
		"--index=default.html,index.html", "--read-timeout=5s",
		"--gc-percent=400", "--memory-limit=1073741824",
	}))

	v := NewViper()
	require.NoError(t, BindFlags(v, fs))

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "/srv/www", cfg.Root)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, DefaultBacklog, cfg.Backlog)
	require.Equal(t, FlagNonBlock|FlagSendfile, cfg.Flags)
	require.Equal(t, []string{"default.html", "index.html"}, cfg.IndexFiles)
	require.Equal(t, 5*time.Second, cfg.ReadTimeout)
	require.Equal(t, 400, cfg.GCPercent)
	require.EqualValues(t, 1<<30, cfg.MemoryLimit)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("HTTPD_PORT", "8181")
	t.Setenv("HTTPD_QUEUE_SIZE", "1024")
	t.Setenv("HTTPD_LOG_FORMAT", "json")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	require.Equal(t, 8181, cfg.Port)
	require.Equal(t, 1024, cfg.QueueSize)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, FlagReuseAddr, cfg.Flags)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "httpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7070\nworkers: 2\nmax-conns: 100\n"), 0o644))

	v := NewViper()
	require.NoError(t, ReadFile(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, 100, cfg.MaxConns)

	require.Error(t, ReadFile(NewViper(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestLoad_Invalid(t *testing.T) {
	v := NewViper()
	v.Set(KeyLogLevel, "chatty")
	_, err := Load(v)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
