package backend

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm a stored value was compressed with.
// Tags are written into every frame header; the values are part of the
// on-disk format.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression name as used in configuration.
// The empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Frame layout:
//
//	magic[4] | tag[1] | uvarint(uncompressed length) | payload
//
// Values that do not start with the magic are returned unchanged, so a
// store written without compression stays readable after enabling it. A
// Compressed backend with CompressionNone stores values as is, except values
// that begin with the magic, which are framed with the none tag. Only values
// written around the wrapper can be mistaken for a frame.
var frameMagic = []byte{'S', 'V', 'Z', 0x01}

const (
	// MinCompressSize is the smallest value that is worth compressing.
	MinCompressSize = 64

	// maxFrameLength bounds the uncompressed length read from a header.
	maxFrameLength = 1 << 40
)

var (
	// ErrCorruptFrame is returned when a framed value cannot be decoded.
	ErrCorruptFrame = errors.New("corrupt compressed frame")

	errIncompressible = errors.New("incompressible")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("backend: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("backend: zstd decoder initialization failed: " + err.Error())
	}
}

// Compressed wraps a Backend and compresses values on the way in. Reads
// always decode frames, whatever compression new writes use.
type Compressed struct {
	backend     Backend
	compression Compression
}

// NewCompressed creates a compressing wrapper around b.
func NewCompressed(b Backend, c Compression) *Compressed {
	return &Compressed{backend: b, compression: c}
}

// Compression returns the algorithm used for new writes.
func (cb *Compressed) Compression() Compression {
	return cb.compression
}

func (cb *Compressed) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := cb.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	out, err := DecodeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return out, nil
}

func (cb *Compressed) Put(ctx context.Context, key string, value []byte) error {
	frame, err := cb.encode(value)
	if err != nil {
		return err
	}
	return cb.backend.Put(ctx, key, frame)
}

func (cb *Compressed) Delete(ctx context.Context, key string) error {
	return cb.backend.Delete(ctx, key)
}

func (cb *Compressed) Has(ctx context.Context, key string) (bool, error) {
	return cb.backend.Has(ctx, key)
}

// PutBatch frames every entry and delegates to the underlying Batcher.
func (cb *Compressed) PutBatch(ctx context.Context, entries []Entry) error {
	bb, ok := cb.backend.(Batcher)
	if !ok {
		return ErrUnsupported
	}
	framed := make([]Entry, len(entries))
	for i, e := range entries {
		frame, err := cb.encode(e.Value)
		if err != nil {
			return err
		}
		framed[i] = Entry{Key: e.Key, Value: frame}
	}
	return bb.PutBatch(ctx, framed)
}

// List delegates to the underlying backend if it implements Lister.
func (cb *Compressed) List(ctx context.Context, prefix string) ([]string, error) {
	lb, ok := cb.backend.(Lister)
	if !ok {
		return nil, ErrUnsupported
	}
	return lb.List(ctx, prefix)
}

// Close closes the underlying backend if it holds resources.
func (cb *Compressed) Close() error {
	if c, ok := cb.backend.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Unwrap returns the underlying backend.
func (cb *Compressed) Unwrap() Backend {
	return cb.backend
}

// encode prepares value for the underlying backend.
func (cb *Compressed) encode(value []byte) ([]byte, error) {
	if cb.compression == CompressionNone && !bytes.HasPrefix(value, frameMagic) {
		return value, nil
	}
	return EncodeFrame(value, cb.compression)
}

// EncodeFrame compresses value with c and wraps it in a frame. Values
// shorter than MinCompressSize, or that do not shrink, are framed with
// CompressionNone.
func EncodeFrame(value []byte, c Compression) ([]byte, error) {
	payload := value
	tag := CompressionNone

	if len(value) >= MinCompressSize && c != CompressionNone {
		compressed, err := compress(value, c)
		switch {
		case err == nil:
			payload, tag = compressed, c
		case !errors.Is(err, errIncompressible):
			return nil, err
		}
	}

	frame := make([]byte, 0, len(frameMagic)+1+binary.MaxVarintLen64+len(payload))
	frame = append(frame, frameMagic...)
	frame = append(frame, byte(tag))
	frame = binary.AppendUvarint(frame, uint64(len(value)))
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeFrame reverses EncodeFrame. Unframed input is returned unchanged.
func DecodeFrame(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, frameMagic) {
		return data, nil
	}
	rest := data[len(frameMagic):]
	if len(rest) < 1 {
		return nil, fmt.Errorf("%w: missing tag", ErrCorruptFrame)
	}
	tag := Compression(rest[0])
	size, n := binary.Uvarint(rest[1:])
	if n <= 0 || size > maxFrameLength {
		return nil, fmt.Errorf("%w: bad length", ErrCorruptFrame)
	}
	payload := rest[1+n:]

	switch tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("%w: size %d does not match expected %d", ErrCorruptFrame, len(payload), size)
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case CompressionLZ4:
		// lz4 cannot expand a block by more than 255x
		if size > uint64(len(payload))*255+16 {
			return nil, fmt.Errorf("%w: lz4: implausible length %d", ErrCorruptFrame, size)
		}
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorruptFrame, err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("%w: lz4: got %d bytes, expected %d", ErrCorruptFrame, read, size)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorruptFrame, err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("%w: zstd: got %d bytes, expected %d", ErrCorruptFrame, len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrCorruptFrame, tag)
	}
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// 0 means lz4 found nothing to compress
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", c)
	}
}

// Compile-time interface checks
var (
	_ Backend   = (*Compressed)(nil)
	_ Batcher   = (*Compressed)(nil)
	_ Lister    = (*Compressed)(nil)
	_ Closer    = (*Compressed)(nil)
	_ Unwrapper = (*Compressed)(nil)
)
