// Package metadata defines the reconstruction record persisted for chunked
// objects and the codecs that encode it.
package metadata

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/svdb"
)

// FileMetadata describes how to reassemble a chunked object.
//
// Hash is the object digest: the digest of the chunk digests joined with
// "|", not the digest of the payload bytes.
type FileMetadata struct {
	Hash      svdb.Digest    `json:"hash" cbor:"hash"`
	Algorithm svdb.Algorithm `json:"algorithm" cbor:"algorithm"`
	Size      int64          `json:"size" cbor:"size"`
	ChunkSize int64          `json:"chunk_size" cbor:"chunk_size"`
	Chunks    []svdb.Digest  `json:"chunks" cbor:"chunks"`
	Timestamp int64          `json:"timestamp" cbor:"timestamp"`
}

var (
	errMissingHash      = errors.New("metadata: missing hash")
	errMissingChunks    = errors.New("metadata: empty chunk list")
	errInvalidSize      = errors.New("metadata: negative size")
	errInvalidChunkSize = errors.New("metadata: chunk size must be positive")
	errInvalidTimestamp = errors.New("metadata: negative timestamp")
	errChunkCount       = errors.New("metadata: chunk count does not cover size")
)

// Validate checks the record is complete. Decoders call it so a decoded
// record is never partially populated.
func (m *FileMetadata) Validate() error {
	switch {
	case m.Hash == "":
		return errMissingHash
	case !m.Algorithm.Available():
		return &svdb.InvalidAlgorithmError{Token: m.Algorithm.String()}
	case m.Size < 0:
		return errInvalidSize
	case m.ChunkSize <= 0:
		return errInvalidChunkSize
	case len(m.Chunks) == 0:
		return errMissingChunks
	case m.Timestamp < 0:
		return errInvalidTimestamp
	case int64(len(m.Chunks)) != expectedChunks(m.Size, m.ChunkSize):
		return fmt.Errorf("%w: %d chunks of %d bytes for size %d", errChunkCount, len(m.Chunks), m.ChunkSize, m.Size)
	}
	for i, c := range m.Chunks {
		if c == "" {
			return fmt.Errorf("metadata: chunk %d has empty digest", i)
		}
	}
	return nil
}

// expectedChunks is ceil(size/chunkSize) without overflow. An empty payload
// is one empty chunk.
func expectedChunks(size, chunkSize int64) int64 {
	if size == 0 {
		return 1
	}
	n := size / chunkSize
	if size%chunkSize != 0 {
		n++
	}
	return n
}

// ChunkCount returns the number of chunks in the record.
func (m *FileMetadata) ChunkCount() int {
	return len(m.Chunks)
}
