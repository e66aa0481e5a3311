package svdb

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine matches exactly one of
// these with errors.Is.
var (
	// ErrIO is returned when the store location cannot be created or opened.
	ErrIO = errors.New("io error")

	// ErrDB is returned when a backend read or write fails.
	ErrDB = errors.New("database error")

	// ErrHashNotFound is returned when a digest is absent from both the
	// simple and the metadata key spaces.
	ErrHashNotFound = errors.New("hash not found")

	// ErrSerialization is returned when a metadata record cannot be
	// encoded or decoded.
	ErrSerialization = errors.New("serialization error")

	// ErrInvalidAlgorithm is returned for unrecognised algorithm tokens.
	ErrInvalidAlgorithm = errors.New("invalid algorithm")

	// ErrChunking is returned when a chunk required for reassembly is missing.
	ErrChunking = errors.New("chunking error")
)

// NotFoundError reports a digest that is not stored.
type NotFoundError struct {
	Digest Digest
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("hash not found: %s", e.Digest)
}

// Is reports whether target is ErrHashNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrHashNotFound
}

// InvalidAlgorithmError reports an unrecognised algorithm token.
type InvalidAlgorithmError struct {
	Token string
}

func (e *InvalidAlgorithmError) Error() string {
	return fmt.Sprintf("invalid algorithm: %q", e.Token)
}

// Is reports whether target is ErrInvalidAlgorithm.
func (e *InvalidAlgorithmError) Is(target error) bool {
	return target == ErrInvalidAlgorithm
}

// MissingChunkError reports a chunk entry that is absent during reassembly.
type MissingChunkError struct {
	Digest Digest
	Index  int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("chunking error: chunk %d of %s not found", e.Index, e.Digest.Short())
}

// Is reports whether target is ErrChunking.
func (e *MissingChunkError) Is(target error) bool {
	return target == ErrChunking
}

// DBError wraps a backend failure so it matches ErrDB as well as the cause.
func DBError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDB, op, err)
}

// SerializationError wraps a codec failure so it matches ErrSerialization
// as well as the cause.
func SerializationError(err error) error {
	if errors.Is(err, ErrSerialization) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSerialization, err)
}

// IOError wraps a filesystem failure so it matches ErrIO as well as the cause.
func IOError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
