package store

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/svdb"
	"github.com/wolfeidau/svdb/backend"
	"github.com/wolfeidau/svdb/chunker"
	"github.com/wolfeidau/svdb/metadata"
	"github.com/wolfeidau/svdb/telemetry"
)

// VerifyResult reports whether a stored object still matches its digest.
type VerifyResult struct {
	Digest svdb.Digest `json:"digest"`
	Kind   Kind        `json:"kind"`
	Valid  bool        `json:"valid"`

	// Algorithm is the recorded algorithm of a chunked object, or the
	// algorithm whose digest matched a simple object.
	Algorithm string `json:"algorithm,omitempty"`
	Size      int64  `json:"size"`

	// Chunked objects only.
	Chunks        int   `json:"chunks,omitempty"`
	MissingChunks []int `json:"missing_chunks,omitempty"`
	CorruptChunks []int `json:"corrupt_chunks,omitempty"`
	ManifestMatch bool  `json:"manifest_match,omitempty"`
	SizeMismatch  bool  `json:"size_mismatch,omitempty"`
}

// Verify re-reads the object stored under d from the backend, bypassing the
// cache, and recomputes its digests. Chunked objects have every chunk and
// the manifest digest checked; missing or corrupt chunks are reported in
// the result rather than returned as errors.
func (e *Engine) Verify(ctx context.Context, d svdb.Digest) (*VerifyResult, error) {
	start := time.Now()
	res, err := e.verify(ctx, d)
	path := ""
	if res != nil {
		path = string(res.Kind)
	}
	telemetry.RecordEngineOp(ctx, "verify", path, outcome(err), time.Since(start), 0)
	if res != nil && !res.Valid {
		e.logger.Warn("object failed verification", "digest", d.Short(), "kind", res.Kind,
			"missing_chunks", len(res.MissingChunks), "corrupt_chunks", len(res.CorruptChunks))
	}
	return res, err
}

func (e *Engine) verify(ctx context.Context, d svdb.Digest) (*VerifyResult, error) {
	if !validDigest(d) {
		return nil, &svdb.NotFoundError{Digest: d}
	}

	meta, err := e.readMetadata(ctx, d)
	switch {
	case err == nil:
		return e.verifyChunked(ctx, d, meta)
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

	res := &VerifyResult{Digest: d, Kind: KindSimple, Size: int64(len(data))}
	for _, alg := range svdb.Algorithms() {
		if svdb.Sum(alg, data) == d {
			res.Valid = true
			res.Algorithm = alg.String()
			break
		}
	}
	return res, nil
}

func (e *Engine) verifyChunked(ctx context.Context, d svdb.Digest, meta *metadata.FileMetadata) (*VerifyResult, error) {
	res := &VerifyResult{
		Digest:    d,
		Kind:      KindChunked,
		Algorithm: meta.Algorithm.String(),
		Size:      meta.Size,
		Chunks:    len(meta.Chunks),
	}

	var total int64
	for i, want := range meta.Chunks {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		chunk, err := e.backend.Get(ctx, svdb.ChunkKey(d, i))
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				res.MissingChunks = append(res.MissingChunks, i)
				continue
			}
			return nil, svdb.DBError("reading chunk", err)
		}
		total += int64(len(chunk))
		if svdb.Sum(meta.Algorithm, chunk) != want {
			res.CorruptChunks = append(res.CorruptChunks, i)
		}
	}

	res.ManifestMatch = meta.Hash == d && chunker.ManifestDigest(meta.Algorithm, meta.Chunks) == d
	res.SizeMismatch = len(res.MissingChunks) == 0 && total != meta.Size
	res.Valid = res.ManifestMatch && !res.SizeMismatch &&
		len(res.MissingChunks) == 0 && len(res.CorruptChunks) == 0
	return res, nil
}
