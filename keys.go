package svdb

import (
	"fmt"
	"strconv"
	"strings"
)

// Backend key layout.
//
//	<digest>                 raw payload of a simple object
//	meta:<digest>            encoded metadata record of a chunked object
//	chunk:<digest>:<index>   raw bytes of one chunk, index is zero-based decimal

const (
	metaKeyPrefix  = "meta"
	chunkKeyPrefix = "chunk"
	keySep         = ":"
)

// KeyKind classifies a backend key.
type KeyKind int

const (
	KeyObject KeyKind = iota + 1
	KeyMeta
	KeyChunk
)

func (k KeyKind) String() string {
	switch k {
	case KeyObject:
		return "object"
	case KeyMeta:
		return "meta"
	case KeyChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// MetaKeyPrefix is the prefix shared by all metadata keys.
const MetaKeyPrefix = metaKeyPrefix + keySep

// ObjectKey returns the backend key for the raw payload of a simple object.
func ObjectKey(d Digest) string {
	return string(d)
}

// MetaKey returns the backend key for the metadata record of a chunked object.
func MetaKey(d Digest) string {
	return MetaKeyPrefix + string(d)
}

// ChunkKey returns the backend key for chunk i of a chunked object.
func ChunkKey(d Digest, i int) string {
	return chunkKeyPrefix + keySep + string(d) + keySep + strconv.Itoa(i)
}

// ParseKey classifies a backend key and extracts its digest and, for chunk
// keys, the chunk index. The index is -1 for other kinds.
func ParseKey(key string) (KeyKind, Digest, int, error) {
	if key == "" {
		return 0, "", -1, fmt.Errorf("empty key")
	}

	parts := strings.Split(key, keySep)
	switch len(parts) {
	case 1:
		return KeyObject, Digest(parts[0]), -1, nil
	case 2:
		if parts[0] != metaKeyPrefix || parts[1] == "" {
			return 0, "", -1, fmt.Errorf("invalid meta key: %s", key)
		}
		return KeyMeta, Digest(parts[1]), -1, nil
	case 3:
		if parts[0] != chunkKeyPrefix || parts[1] == "" {
			return 0, "", -1, fmt.Errorf("invalid chunk key: %s", key)
		}
		idx, err := strconv.Atoi(parts[2])
		if err != nil || idx < 0 {
			return 0, "", -1, fmt.Errorf("invalid chunk index in key: %s", key)
		}
		return KeyChunk, Digest(parts[1]), idx, nil
	default:
		return 0, "", -1, fmt.Errorf("invalid key format: %s", key)
	}
}
