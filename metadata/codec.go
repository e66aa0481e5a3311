package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/wolfeidau/svdb"
)

// Codec encodes and decodes metadata records. Implementations must be safe
// for concurrent use.
type Codec interface {
	Name() string
	Encode(m *FileMetadata) ([]byte, error)
	Decode(data []byte) (*FileMetadata, error)
}

const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// JSON encodes records as JSON objects. This is the default format.
var JSON Codec = jsonCodec{}

// CBOR encodes records with CBOR core deterministic encoding.
var CBOR Codec = newCBORCodec()

// ForFormat returns the codec registered under name.
func ForFormat(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", FormatJSON:
		return JSON, nil
	case FormatCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown metadata format %q", name)
	}
}

// Decode decodes a record in either format. JSON records always start with
// '{' once leading whitespace is skipped; a CBOR map never does.
func Decode(data []byte) (*FileMetadata, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return JSON.Decode(data)
	}
	return CBOR.Decode(data)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return FormatJSON }

func (jsonCodec) Encode(m *FileMetadata) ([]byte, error) {
	if m == nil {
		return nil, svdb.SerializationError(fmt.Errorf("encoding nil metadata"))
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, svdb.SerializationError(err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (*FileMetadata, error) {
	var m FileMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, svdb.SerializationError(err)
	}
	if err := m.Validate(); err != nil {
		return nil, svdb.SerializationError(err)
	}
	return &m, nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() *cborCodec {
	encOptions := cbor.CoreDetEncOptions()
	// Algorithm and Digest persist as text tokens, matching the JSON form.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	enc, err := encOptions.EncMode()
	if err != nil {
		panic("metadata: CBOR encoder initialization failed: " + err.Error())
	}

	dec, err := cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("metadata: CBOR decoder initialization failed: " + err.Error())
	}

	return &cborCodec{enc: enc, dec: dec}
}

func (c *cborCodec) Name() string { return FormatCBOR }

func (c *cborCodec) Encode(m *FileMetadata) ([]byte, error) {
	if m == nil {
		return nil, svdb.SerializationError(fmt.Errorf("encoding nil metadata"))
	}
	data, err := c.enc.Marshal(m)
	if err != nil {
		return nil, svdb.SerializationError(err)
	}
	return data, nil
}

func (c *cborCodec) Decode(data []byte) (*FileMetadata, error) {
	var m FileMetadata
	if err := c.dec.Unmarshal(data, &m); err != nil {
		return nil, svdb.SerializationError(err)
	}
	if err := m.Validate(); err != nil {
		return nil, svdb.SerializationError(err)
	}
	return &m, nil
}
