// Package chunker splits payloads into fixed-size chunks and builds the
// metadata record used to reassemble them.
package chunker

import (
	"strings"
	"time"

	"github.com/wolfeidau/svdb"
	"github.com/wolfeidau/svdb/metadata"
)

const (
	// DefaultChunkSize is substituted for requested sizes below MinChunkSize.
	DefaultChunkSize = 1 << 20

	// MinChunkSize is the smallest chunk size honoured as requested.
	MinChunkSize = 1024

	manifestSep = "|"
)

// Result holds the chunks of a payload and their metadata record.
// Chunks are sub-slices of the input and share its backing array.
type Result struct {
	Chunks   [][]byte
	Metadata *metadata.FileMetadata
}

// EffectiveChunkSize returns the chunk size Split will use for a request.
// Sizes below MinChunkSize are replaced with DefaultChunkSize, not raised
// to MinChunkSize.
func EffectiveChunkSize(requested int) int {
	if requested < MinChunkSize {
		return DefaultChunkSize
	}
	return requested
}

// Split chunks data with the current time as the record timestamp.
func Split(data []byte, chunkSize int, alg svdb.Algorithm) *Result {
	return SplitAt(data, chunkSize, alg, time.Now())
}

// SplitAt splits data into consecutive chunks of at most the effective chunk
// size, digests each chunk with alg and computes the object digest over the
// chunk digests joined with "|". Empty input yields one zero-length chunk.
func SplitAt(data []byte, chunkSize int, alg svdb.Algorithm, now time.Time) *Result {
	size := EffectiveChunkSize(chunkSize)

	count := (len(data) + size - 1) / size
	if count == 0 {
		count = 1
	}

	chunks := make([][]byte, 0, count)
	digests := make([]svdb.Digest, 0, count)
	for off := 0; off < len(data) || len(chunks) == 0; off += size {
		end := min(off+size, len(data))
		chunk := data[off:end:end]
		chunks = append(chunks, chunk)
		digests = append(digests, svdb.Sum(alg, chunk))
	}

	return &Result{
		Chunks: chunks,
		Metadata: &metadata.FileMetadata{
			Hash:      ManifestDigest(alg, digests),
			Algorithm: alg,
			Size:      int64(len(data)),
			ChunkSize: int64(size),
			Chunks:    digests,
			Timestamp: now.Unix(),
		},
	}
}

// ManifestDigest computes the object digest of a chunked object from its
// ordered chunk digests.
func ManifestDigest(alg svdb.Algorithm, chunks []svdb.Digest) svdb.Digest {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = string(c)
	}
	return svdb.Sum(alg, []byte(strings.Join(parts, manifestSep)))
}
