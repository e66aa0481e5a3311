package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/svdb"
)

func testMetadata() *FileMetadata {
	chunks := []svdb.Digest{
		svdb.HashBytes([]byte("chunk-0")),
		svdb.HashBytes([]byte("chunk-1")),
		svdb.HashBytes([]byte("chunk-2")),
	}
	return &FileMetadata{
		Hash:      svdb.HashBytes([]byte("manifest")),
		Algorithm: svdb.Blake3,
		Size:      2_500_000,
		ChunkSize: 1 << 20,
		Chunks:    chunks,
		Timestamp: 1_760_000_000,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSON, CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			for _, alg := range svdb.Algorithms() {
				m := testMetadata()
				m.Algorithm = alg

				data, err := codec.Encode(m)
				require.NoError(t, err)

				got, err := codec.Decode(data)
				require.NoError(t, err)
				require.Equal(t, m, got)

				// format sniffing reads both encodings
				sniffed, err := Decode(data)
				require.NoError(t, err)
				require.Equal(t, m, sniffed)
			}
		})
	}
}

func TestJSONFieldNames(t *testing.T) {
	data, err := JSON.Encode(testMetadata())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, field := range []string{"hash", "algorithm", "size", "chunk_size", "chunks", "timestamp"} {
		assert.Contains(t, raw, field)
	}
	assert.Equal(t, "blake3", raw["algorithm"])
	assert.Len(t, raw, 6)
}

func TestJSONDecodeCompatibleRecord(t *testing.T) {
	record := `{"hash":"abc","algorithm":"keccak256","size":2048,"chunk_size":1024,"chunks":["c0","c1"],"timestamp":1700000000}`

	m, err := JSON.Decode([]byte(record))
	require.NoError(t, err)
	assert.Equal(t, svdb.Digest("abc"), m.Hash)
	assert.Equal(t, svdb.Keccak256, m.Algorithm)
	assert.Equal(t, int64(2048), m.Size)
	assert.Equal(t, int64(1024), m.ChunkSize)
	assert.Equal(t, []svdb.Digest{"c0", "c1"}, m.Chunks)
	assert.Equal(t, int64(1700000000), m.Timestamp)
	assert.Equal(t, 2, m.ChunkCount())
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := JSON.Encode(testMetadata())
	require.NoError(t, err)
	validCBOR, err := CBOR.Encode(testMetadata())
	require.NoError(t, err)

	tests := []struct {
		name  string
		codec Codec
		input []byte
	}{
		{"json empty", JSON, nil},
		{"json truncated", JSON, valid[:len(valid)/2]},
		{"json garbage", JSON, []byte("not json at all")},
		{"json empty object", JSON, []byte(`{}`)},
		{"json unknown algorithm", JSON, []byte(`{"hash":"a","algorithm":"md5","size":1,"chunk_size":1024,"chunks":["c"],"timestamp":1}`)},
		{"json zero chunk size", JSON, []byte(`{"hash":"a","algorithm":"blake3","size":1,"chunk_size":0,"chunks":["c"],"timestamp":1}`)},
		{"json no chunks", JSON, []byte(`{"hash":"a","algorithm":"blake3","size":1,"chunk_size":1024,"chunks":[],"timestamp":1}`)},
		{"json negative size", JSON, []byte(`{"hash":"a","algorithm":"blake3","size":-1,"chunk_size":1024,"chunks":["c"],"timestamp":1}`)},
		{"json size beyond chunks", JSON, []byte(`{"hash":"a","algorithm":"blake3","size":1125899906842624,"chunk_size":1024,"chunks":["c"],"timestamp":1}`)},
		{"json too many chunks", JSON, []byte(`{"hash":"a","algorithm":"blake3","size":1024,"chunk_size":1024,"chunks":["c","d"],"timestamp":1}`)},
		{"json empty payload with two chunks", JSON, []byte(`{"hash":"a","algorithm":"blake3","size":0,"chunk_size":1024,"chunks":["c","d"],"timestamp":1}`)},
		{"json overflowing geometry", JSON, []byte(`{"hash":"a","algorithm":"blake3","size":9223372036854775807,"chunk_size":9223372036854775807,"chunks":["c","d"],"timestamp":1}`)},
		{"json empty chunk digest", JSON, []byte(`{"hash":"a","algorithm":"blake3","size":1,"chunk_size":1024,"chunks":[""],"timestamp":1}`)},
		{"cbor empty", CBOR, nil},
		{"cbor truncated", CBOR, validCBOR[:len(validCBOR)-3]},
		{"cbor garbage", CBOR, []byte{0xff, 0x00, 0x13}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.codec.Decode(tt.input)
			require.ErrorIs(t, err, svdb.ErrSerialization)
			require.Nil(t, m)

			m, err = Decode(tt.input)
			require.ErrorIs(t, err, svdb.ErrSerialization)
			require.Nil(t, m)
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	for _, codec := range []Codec{JSON, CBOR} {
		_, err := codec.Encode(nil)
		require.ErrorIs(t, err, svdb.ErrSerialization, codec.Name())

		m := testMetadata()
		m.Algorithm = 0
		_, err = codec.Encode(m)
		require.ErrorIs(t, err, svdb.ErrSerialization, codec.Name())
	}
}

func TestForFormat(t *testing.T) {
	c, err := ForFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, c.Name())

	c, err = ForFormat("CBOR")
	require.NoError(t, err)
	assert.Equal(t, FormatCBOR, c.Name())

	_, err = ForFormat("protobuf")
	require.Error(t, err)
}

func TestCBORSmallerThanJSON(t *testing.T) {
	m := testMetadata()
	j, err := JSON.Encode(m)
	require.NoError(t, err)
	c, err := CBOR.Encode(m)
	require.NoError(t, err)
	assert.Less(t, len(c), len(j))
}
