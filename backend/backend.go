// Package backend provides the key-value store abstraction the storage
// engine persists objects, chunks and metadata records in.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported is returned by wrappers whose underlying backend lacks
	// an optional capability.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrInvalidKey is returned for keys a backend cannot represent.
	ErrInvalidKey = errors.New("invalid key")
)

// Backend is an ordered byte-key/byte-value store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns a copy of the value stored at key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the value at key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Has checks if a key exists.
	Has(ctx context.Context, key string) (bool, error)
}

// Entry is a single key-value pair for batch writes.
type Entry struct {
	Key   string
	Value []byte
}

// Batcher extends Backend with atomic multi-key writes.
type Batcher interface {
	Backend

	// PutBatch stores all entries or none of them.
	PutBatch(ctx context.Context, entries []Entry) error
}

// Lister extends Backend with key enumeration.
type Lister interface {
	Backend

	// List returns all keys with the given prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Closer is implemented by backends that hold resources.
type Closer interface {
	Close() error
}

// Unwrapper is implemented by backends that wrap another backend.
type Unwrapper interface {
	Unwrap() Backend
}

// AsBatcher returns b as a Batcher when b and every backend it wraps
// support atomic batches.
func AsBatcher(b Backend) (Batcher, bool) {
	for cur := b; ; {
		if _, ok := cur.(Batcher); !ok {
			return nil, false
		}
		u, ok := cur.(Unwrapper)
		if !ok {
			return b.(Batcher), true
		}
		cur = u.Unwrap()
	}
}

// AsLister returns b as a Lister when b and every backend it wraps support
// key enumeration.
func AsLister(b Backend) (Lister, bool) {
	for cur := b; ; {
		if _, ok := cur.(Lister); !ok {
			return nil, false
		}
		u, ok := cur.(Unwrapper)
		if !ok {
			return b.(Lister), true
		}
		cur = u.Unwrap()
	}
}
