package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wolfeidau/svdb"
	"github.com/wolfeidau/svdb/backend"
	"github.com/wolfeidau/svdb/chunker"
	"github.com/wolfeidau/svdb/metadata"
	"github.com/wolfeidau/svdb/telemetry"
)

const (
	pathSimple  = "simple"
	pathChunked = "chunked"
)

// Store stores data as a simple object digested with the default
// algorithm, regardless of its size.
func (e *Engine) Store(ctx context.Context, data []byte) (svdb.Digest, error) {
	return e.StoreWithOptions(ctx, data, svdb.DefaultAlgorithm, 0)
}

// StoreWithOptions stores data digested with alg. When chunkSize is
// positive and data is longer than chunkSize the object is split into
// chunks; otherwise it is stored as one value and cached.
func (e *Engine) StoreWithOptions(ctx context.Context, data []byte, alg svdb.Algorithm, chunkSize int) (svdb.Digest, error) {
	start := time.Now()

	var (
		d    svdb.Digest
		path string
		err  error
	)
	switch {
	case !alg.Available():
		err = &svdb.InvalidAlgorithmError{Token: alg.String()}
	case chunkSize > 0 && len(data) > chunkSize:
		path = pathChunked
		d, err = e.storeChunked(ctx, data, alg, chunkSize)
	default:
		path = pathSimple
		d, err = e.storeSimple(ctx, data, alg)
	}

	telemetry.RecordEngineOp(ctx, "store", path, outcome(err), time.Since(start), int64(len(data)))
	if err != nil {
		e.logger.Error("store failed", "path", path, "algorithm", alg.String(), "size", len(data), "error", err)
		return "", err
	}

	e.logger.Debug("stored object", "digest", d.Short(), "path", path, "algorithm", alg.String(), "size", len(data))
	return d, nil
}

func (e *Engine) storeSimple(ctx context.Context, data []byte, alg svdb.Algorithm) (svdb.Digest, error) {
	d := svdb.Sum(alg, data)
	if err := e.backend.Put(ctx, svdb.ObjectKey(d), data); err != nil {
		return "", svdb.DBError("writing object", err)
	}
	e.cache.Put(d, data)
	return d, nil
}

// storeChunked persists the chunks and the metadata record. With a batching
// backend they are written atomically. Otherwise the chunks go first and the
// record last, so a failed write leaves unreferenced chunks rather than a
// record pointing at missing ones.
func (e *Engine) storeChunked(ctx context.Context, data []byte, alg svdb.Algorithm, chunkSize int) (svdb.Digest, error) {
	res := chunker.SplitAt(data, chunkSize, alg, e.now())
	d := res.Metadata.Hash

	record, err := e.codec.Encode(res.Metadata)
	if err != nil {
		return "", err
	}

	entries := make([]backend.Entry, 0, len(res.Chunks)+1)
	for i, chunk := range res.Chunks {
		entries = append(entries, backend.Entry{Key: svdb.ChunkKey(d, i), Value: chunk})
	}
	entries = append(entries, backend.Entry{Key: svdb.MetaKey(d), Value: record})

	if e.batcher != nil {
		if err := e.batcher.PutBatch(ctx, entries); err != nil {
			return "", svdb.DBError("writing chunked object", err)
		}
	} else {
		for _, entry := range entries {
			if err := ctxErr(ctx); err != nil {
				return "", err
			}
			if err := e.backend.Put(ctx, entry.Key, entry.Value); err != nil {
				return "", svdb.DBError("writing "+entry.Key, err)
			}
		}
	}

	telemetry.RecordChunksWritten(ctx, alg.String(), len(res.Chunks))
	return d, nil
}

// Retrieve returns a copy of the object stored under d. Cached objects are
// served without touching the backend. Concurrent misses for the same
// digest share one backend load.
func (e *Engine) Retrieve(ctx context.Context, d svdb.Digest) ([]byte, error) {
	start := time.Now()

	if data, ok := e.cache.Get(d); ok {
		telemetry.RecordCacheLookup(ctx, true)
		telemetry.RecordEngineOp(ctx, "retrieve", "cache", "success", time.Since(start), int64(len(data)))
		return data, nil
	}
	telemetry.RecordCacheLookup(ctx, false)

	data, shared, err := e.loads.Do(ctx, string(d), func(ctx context.Context) ([]byte, error) {
		return e.load(ctx, d)
	})
	telemetry.RecordEngineOp(ctx, "retrieve", "backend", outcome(err), time.Since(start), int64(len(data)))
	if err != nil {
		if !errors.Is(err, svdb.ErrHashNotFound) {
			e.logger.Error("retrieve failed", "digest", d.Short(), "error", err)
		}
		return nil, err
	}

	e.logger.Debug("retrieved object", "digest", d.Short(), "size", len(data), "shared", shared)
	return clone(data), nil
}

// load reads d from the backend, probing the metadata key before the raw
// key, and caches the result.
func (e *Engine) load(ctx context.Context, d svdb.Digest) ([]byte, error) {
	if !validDigest(d) {
		return nil, &svdb.NotFoundError{Digest: d}
	}

	meta, err := e.readMetadata(ctx, d)
	switch {
	case err == nil:
		data, err := e.assemble(ctx, d, meta)
		if err != nil {
			return nil, err
		}
		e.cache.Put(d, data)
		return data, nil
	case !errors.Is(err, svdb.ErrHashNotFound):
		return nil, err
	}

	data, err := e.backend.Get(ctx, svdb.ObjectKey(d))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, &svdb.NotFoundError{Digest: d}
		}
		return nil, svdb.DBError("reading object", err)
	}
	e.cache.Put(d, data)
	return data, nil
}

// readMetadata returns the decoded metadata record for d, or an error
// matching svdb.ErrHashNotFound when d is not a chunked object.
func (e *Engine) readMetadata(ctx context.Context, d svdb.Digest) (*metadata.FileMetadata, error) {
	record, err := e.backend.Get(ctx, svdb.MetaKey(d))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, &svdb.NotFoundError{Digest: d}
		}
		return nil, svdb.DBError("reading metadata", err)
	}
	return metadata.Decode(record)
}

// maxPrealloc bounds the buffer reserved from a metadata record's size.
const maxPrealloc = 64 << 20

// assemble concatenates the chunks of d in order. A missing chunk fails the
// whole read; partial data is never returned.
func (e *Engine) assemble(ctx context.Context, d svdb.Digest, meta *metadata.FileMetadata) ([]byte, error) {
	buf := make([]byte, 0, min(meta.Size, maxPrealloc))
	for i := range meta.Chunks {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		chunk, err := e.backend.Get(ctx, svdb.ChunkKey(d, i))
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				return nil, &svdb.MissingChunkError{Digest: d, Index: i}
			}
			return nil, svdb.DBError("reading chunk", err)
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// validDigest rejects values that cannot name an object, such as the empty
// string or another key kind.
func validDigest(d svdb.Digest) bool {
	return d != "" && !strings.Contains(string(d), ":")
}
