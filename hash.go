package svdb

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Digest is the lowercase hex encoding of a hash output. It is opaque:
// its length depends on the algorithm that produced it.
type Digest string

// String returns the digest as a plain string.
func (d Digest) String() string {
	return string(d)
}

// Short returns a shortened form for display.
func (d Digest) Short() string {
	if len(d) <= 16 {
		return string(d)
	}
	return string(d[:16])
}

// IsZero returns true if the digest is empty.
func (d Digest) IsZero() bool {
	return d == ""
}

// Sum computes the digest of data under alg. It is deterministic and has
// no side effects.
func Sum(alg Algorithm, data []byte) Digest {
	switch alg {
	case Blake3:
		sum := blake3.Sum256(data)
		return Digest(hex.EncodeToString(sum[:]))
	case Blake2b:
		sum := blake2b.Sum512(data)
		return Digest(hex.EncodeToString(sum[:]))
	default:
		h := alg.New()
		_, _ = h.Write(data)
		return Digest(hex.EncodeToString(h.Sum(nil)))
	}
}

// HashBytes computes the digest of data with the default algorithm.
func HashBytes(data []byte) Digest {
	return Sum(DefaultAlgorithm, data)
}

// HashWithAlgorithm resolves an algorithm token and digests data with it.
func HashWithAlgorithm(data []byte, token string) (Digest, error) {
	alg, err := ParseAlgorithm(token)
	if err != nil {
		return "", err
	}
	return Sum(alg, data), nil
}

// HashReader computes the digest of content from the reader.
// It returns the digest and the number of bytes read.
func HashReader(alg Algorithm, r io.Reader) (Digest, int64, error) {
	h := NewHasher(alg)
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hashing content: %w", err)
	}
	return h.Sum(), n, nil
}

// Hasher wraps an algorithm's hash.Hash for incremental hashing.
type Hasher struct {
	alg Algorithm
	h   hash.Hash
}

// NewHasher creates a new Hasher for incremental hashing.
func NewHasher(alg Algorithm) *Hasher {
	return &Hasher{alg: alg, h: alg.New()}
}

// Algorithm returns the algorithm the hasher computes.
func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the current digest without resetting the hasher.
func (h *Hasher) Sum() Digest {
	return Digest(hex.EncodeToString(h.h.Sum(nil)))
}

// Reset resets the hasher to its initial state.
func (h *Hasher) Reset() {
	h.h.Reset()
}
