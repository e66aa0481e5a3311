package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var bucketObjects = []byte("objects")

// Bolt implements Backend using a single bbolt bucket.
type Bolt struct {
	db      *bbolt.DB
	path    string
	logger  *slog.Logger
	timeout time.Duration
	noSync  bool
}

// BoltOption configures a Bolt backend.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger for the backend.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// WithBoltTimeout sets how long Open waits for the file lock.
func WithBoltTimeout(d time.Duration) BoltOption {
	return func(b *Bolt) {
		b.timeout = d
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// OpenBolt opens the database file at path, creating it and the object
// bucket if they do not exist.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	b := &Bolt{
		path:    path,
		logger:  slog.Default(),
		timeout: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: b.timeout,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketObjects); err != nil {
			return fmt.Errorf("creating bucket %s: %w", bucketObjects, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	b.logger.Debug("opened bolt backend", "path", path, "noSync", b.noSync)
	return b, nil
}

// Path returns the database file path.
func (b *Bolt) Path() string {
	return b.path
}

// Close closes the database and releases the file lock.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing bolt backend", "path", b.path)
	err := b.db.Close()
	b.db = nil
	return err
}

// Get retrieves a copy of the value at key.
func (b *Bolt) Get(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		val, ok := lookup(tx, key)
		if !ok {
			return ErrNotFound
		}
		// val is only valid for the life of the transaction
		data = make([]byte, len(val))
		copy(data, val)
		return nil
	})
	return data, err
}

// Put stores value at key.
func (b *Bolt) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketObjects).Put([]byte(key), value); err != nil {
			return fmt.Errorf("putting %s: %w", key, err)
		}
		return nil
	})
}

// PutBatch stores all entries in a single transaction.
func (b *Bolt) PutBatch(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Key == "" {
			return ErrInvalidKey
		}
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketObjects)
		for _, e := range entries {
			if err := bucket.Put([]byte(e.Key), e.Value); err != nil {
				return fmt.Errorf("putting %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

// Delete removes the value at key.
func (b *Bolt) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjects).Delete([]byte(key))
	})
}

// Has checks if a key exists.
func (b *Bolt) Has(_ context.Context, key string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		_, found = lookup(tx, key)
		return nil
	})
	return found, err
}

// lookup finds key with a cursor so zero-length values are distinguishable
// from missing keys.
func lookup(tx *bbolt.Tx, key string) ([]byte, bool) {
	k := []byte(key)
	found, val := tx.Bucket(bucketObjects).Cursor().Seek(k)
	if found == nil || !bytes.Equal(found, k) {
		return nil, false
	}
	return val, true
}

// List returns all keys with the given prefix in byte order.
func (b *Bolt) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketObjects).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// Compile-time interface checks
var (
	_ Backend = (*Bolt)(nil)
	_ Batcher = (*Bolt)(nil)
	_ Lister  = (*Bolt)(nil)
	_ Closer  = (*Bolt)(nil)
)
