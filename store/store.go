// Package store implements the content-addressed storage engine. An Engine
// persists objects in a backend.Backend, either as one raw value keyed by
// the payload digest or as a metadata record plus fixed-size chunks, and
// keeps every object it has written or read in an in-memory cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wolfeidau/svdb"
	"github.com/wolfeidau/svdb/backend"
	"github.com/wolfeidau/svdb/metadata"
)

// DBFileName is the name of the bbolt file Open creates inside the store
// directory.
const DBFileName = "svdb.db"

// Engine stores and retrieves content-addressed objects.
// An Engine is safe for concurrent use.
type Engine struct {
	backend backend.Backend
	batcher backend.Batcher
	owned   bool

	cache  *Cache
	loads  loader
	codec  metadata.Codec
	logger *slog.Logger
	now    func() time.Time

	boltOpts    []backend.BoltOption
	compression backend.Compression
	instrument  bool
}

// Open opens the store at path, creating the directory and its database
// file if they do not exist. Failures match svdb.ErrIO.
func Open(path string, opts ...Option) (*Engine, error) {
	e := newEngine(opts)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, svdb.IOError("creating store directory", err)
	}

	dbOpts := append([]backend.BoltOption{backend.WithBoltLogger(e.logger)}, e.boltOpts...)
	db, err := backend.OpenBolt(filepath.Join(path, DBFileName), dbOpts...)
	if err != nil {
		return nil, svdb.IOError("opening store", err)
	}

	e.setBackend(db)
	e.owned = true
	e.logger.Info("opened store", "path", path, "compression", e.compression.String(), "metadata_format", e.codec.Name())
	return e, nil
}

// New creates an Engine over an existing backend. The caller keeps
// ownership of b; Close does not close it.
func New(b backend.Backend, opts ...Option) *Engine {
	e := newEngine(opts)
	e.setBackend(b)
	return e
}

func newEngine(opts []Option) *Engine {
	e := &Engine{
		cache:  NewCache(),
		codec:  metadata.JSON,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// setBackend layers the configured wrappers over b. Instrumentation sits
// below compression so backend metrics count stored bytes. The compression
// wrapper is always present: a store written with compression must read back
// under any setting.
func (e *Engine) setBackend(b backend.Backend) {
	if e.instrument {
		b = backend.NewInstrumented(b, backendName(b))
	}
	b = backend.NewCompressed(b, e.compression)
	e.backend = b
	e.batcher, _ = backend.AsBatcher(b)
}

// Backend returns the backend the engine reads and writes, including any
// wrappers added by options.
func (e *Engine) Backend() backend.Backend {
	return e.backend
}

// Cache returns the engine's object cache.
func (e *Engine) Cache() *Cache {
	return e.cache
}

// Close releases the backend if the engine opened it.
func (e *Engine) Close() error {
	if !e.owned {
		return nil
	}
	if c, ok := e.backend.(backend.Closer); ok {
		e.logger.Debug("closing store")
		return c.Close()
	}
	return nil
}

func backendName(b backend.Backend) string {
	switch b.(type) {
	case *backend.Bolt:
		return "bolt"
	case *backend.Filesystem:
		return "filesystem"
	case *backend.Memory:
		return "memory"
	default:
		return "custom"
	}
}

// outcome classifies an operation error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, svdb.ErrHashNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// ctxErr is checked between backend calls in multi-key operations.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
