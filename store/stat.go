package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/wolfeidau/svdb"
	"github.com/wolfeidau/svdb/backend"
	"github.com/wolfeidau/svdb/metadata"
	"github.com/wolfeidau/svdb/telemetry"
)

// Kind is the representation of a stored object.
type Kind string

const (
	KindSimple  Kind = "simple"
	KindChunked Kind = "chunked"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Digest svdb.Digest `json:"digest"`
	Kind   Kind        `json:"kind"`
	Size   int64       `json:"size"`
	Cached bool        `json:"cached"`

	// Metadata is set for chunked objects.
	Metadata *metadata.FileMetadata `json:"metadata,omitempty"`
}

// Stat describes the object stored under d without assembling it.
func (e *Engine) Stat(ctx context.Context, d svdb.Digest) (*ObjectInfo, error) {
	start := time.Now()
	info, err := e.stat(ctx, d)
	path := ""
	if info != nil {
		path = string(info.Kind)
	}
	telemetry.RecordEngineOp(ctx, "stat", path, outcome(err), time.Since(start), 0)
	return info, err
}

func (e *Engine) stat(ctx context.Context, d svdb.Digest) (*ObjectInfo, error) {
	if !validDigest(d) {
		return nil, &svdb.NotFoundError{Digest: d}
	}

	meta, err := e.readMetadata(ctx, d)
	switch {
	case err == nil:
		return &ObjectInfo{
			Digest:   d,
			Kind:     KindChunked,
			Size:     meta.Size,
			Cached:   e.cache.Contains(d),
			Metadata: meta,
		}, nil
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
	return &ObjectInfo{
		Digest: d,
		Kind:   KindSimple,
		Size:   int64(len(data)),
		Cached: e.cache.Contains(d),
	}, nil
}

// List returns the digests of all stored objects in ascending order. The
// backend must support key enumeration.
func (e *Engine) List(ctx context.Context) ([]svdb.Digest, error) {
	start := time.Now()
	digests, err := e.list(ctx)
	telemetry.RecordEngineOp(ctx, "list", "", outcome(err), time.Since(start), 0)
	return digests, err
}

func (e *Engine) list(ctx context.Context) ([]svdb.Digest, error) {
	lister, ok := backend.AsLister(e.backend)
	if !ok {
		return nil, svdb.DBError("listing objects", backend.ErrUnsupported)
	}

	keys, err := lister.List(ctx, "")
	if err != nil {
		return nil, svdb.DBError("listing objects", err)
	}

	digests := make([]svdb.Digest, 0, len(keys))
	for _, key := range keys {
		kind, d, _, err := svdb.ParseKey(key)
		if err != nil {
			e.logger.Warn("skipping unrecognised key", "key", key)
			continue
		}
		if kind == svdb.KeyObject || kind == svdb.KeyMeta {
			digests = append(digests, d)
		}
	}
	slices.Sort(digests)
	return slices.Compact(digests), nil
}
