package store

import (
	"log/slog"
	"time"

	"github.com/wolfeidau/svdb/backend"
	"github.com/wolfeidau/svdb/metadata"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCodec sets the codec used to encode new metadata records. Records
// are decoded by sniffing their format, so stores may mix formats.
func WithCodec(codec metadata.Codec) Option {
	return func(e *Engine) {
		e.codec = codec
	}
}

// WithNow sets the clock used for metadata timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithBackendOptions passes options to the bbolt backend created by Open.
// New ignores them.
func WithBackendOptions(opts ...backend.BoltOption) Option {
	return func(e *Engine) {
		e.boltOpts = append(e.boltOpts, opts...)
	}
}

// WithCompression compresses every value written to the backend.
func WithCompression(c backend.Compression) Option {
	return func(e *Engine) {
		e.compression = c
	}
}

// WithInstrumentation records metrics for every backend operation.
func WithInstrumentation() Option {
	return func(e *Engine) {
		e.instrument = true
	}
}
