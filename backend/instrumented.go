package backend

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/svdb/telemetry"
)

// Instrumented wraps a Backend with metrics recording.
type Instrumented struct {
	backend Backend
	name    string
}

// NewInstrumented creates a new instrumented backend wrapper. name is used
// as the backend attribute on every recorded operation.
func NewInstrumented(b Backend, name string) *Instrumented {
	return &Instrumented{backend: b, name: name}
}

func (ib *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := ib.backend.Get(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "get", outcomeFromError(err), time.Since(start), int64(len(data)))
	return data, err
}

func (ib *Instrumented) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := ib.backend.Put(ctx, key, value)
	telemetry.RecordBackendOp(ctx, ib.name, "put", outcomeFromError(err), time.Since(start), int64(len(value)))
	return err
}

func (ib *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ib.backend.Delete(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "delete", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (ib *Instrumented) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	found, err := ib.backend.Has(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "has", outcomeFromError(err), time.Since(start), 0)
	return found, err
}

// PutBatch delegates to the underlying backend if it implements Batcher.
func (ib *Instrumented) PutBatch(ctx context.Context, entries []Entry) error {
	bb, ok := ib.backend.(Batcher)
	if !ok {
		return ErrUnsupported
	}
	var n int64
	for _, e := range entries {
		n += int64(len(e.Value))
	}
	start := time.Now()
	err := bb.PutBatch(ctx, entries)
	telemetry.RecordBackendOp(ctx, ib.name, "put_batch", outcomeFromError(err), time.Since(start), n)
	return err
}

// List delegates to the underlying backend if it implements Lister.
func (ib *Instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	lb, ok := ib.backend.(Lister)
	if !ok {
		return nil, ErrUnsupported
	}
	start := time.Now()
	keys, err := lb.List(ctx, prefix)
	telemetry.RecordBackendOp(ctx, ib.name, "list", outcomeFromError(err), time.Since(start), 0)
	return keys, err
}

// Close closes the underlying backend if it holds resources.
func (ib *Instrumented) Close() error {
	if c, ok := ib.backend.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Unwrap returns the underlying backend.
func (ib *Instrumented) Unwrap() Backend {
	return ib.backend
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Compile-time interface checks
var (
	_ Backend   = (*Instrumented)(nil)
	_ Batcher   = (*Instrumented)(nil)
	_ Lister    = (*Instrumented)(nil)
	_ Closer    = (*Instrumented)(nil)
	_ Unwrapper = (*Instrumented)(nil)
)
