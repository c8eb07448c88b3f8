package graft

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aweris/graft/internal/remote"
)

// OpenOptions configures a Graph.
type OpenOptions struct {
	DataDir          string
	InMemory         bool
	Auth             Authenticator
	Concurrency      int
	CompressionLevel int
	StrictAdvance    bool
	Logger           *zap.Logger
}

// Option is a functional option for configuring Open.
type Option func(*OpenOptions)

func defaultOptions() *OpenOptions {
	return &OpenOptions{
		DataDir:          defaultDataDir(),
		Concurrency:      remote.DefaultConcurrency,
		CompressionLevel: 2,
		Logger:           zap.NewNop(),
	}
}

// WithDataDir sets the local data directory.
func WithDataDir(dir string) Option {
	return func(o *OpenOptions) { o.DataDir = dir }
}

// WithInMemory keeps the whole graph in process memory; nothing is written
// to disk.
func WithInMemory() Option {
	return func(o *OpenOptions) { o.InMemory = true }
}

// WithAuth sets custom authentication for the remote registry.
func WithAuth(auth Authenticator) Option {
	return func(o *OpenOptions) { o.Auth = auth }
}

// WithConcurrency sets the number of parallel operations for push/pull.
func WithConcurrency(n int) Option {
	return func(o *OpenOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithCompressionLevel sets the zstd level for content at rest
// (0 disables, 1 fastest, 2 default, 3 better).
func WithCompressionLevel(level int) Option {
	return func(o *OpenOptions) { o.CompressionLevel = level }
}

// WithStrictAdvance makes AdvanceHead refuse a new head that does not
// descend from the current one. The schema allows rewinds; this option is
// for callers that want fast-forward-only history.
func WithStrictAdvance() Option {
	return func(o *OpenOptions) { o.StrictAdvance = true }
}

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *OpenOptions) {
		if log != nil {
			o.Logger = log
		}
	}
}

func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "graft")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "graft")
	}
	return ".graft"
}
