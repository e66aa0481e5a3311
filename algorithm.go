package svdb

import (
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm identifies the digest function used to address an object.
type Algorithm uint8

const (
	// Blake3 is the default algorithm (256-bit output).
	Blake3 Algorithm = iota + 1
	// Blake2b is BLAKE2b-512 (512-bit output).
	Blake2b
	// Keccak256 is the original Keccak-256 as used by Ethereum, not SHA3-256.
	Keccak256
)

// DefaultAlgorithm is used by Store and whenever no algorithm is given.
const DefaultAlgorithm = Blake3

var algorithmTokens = map[Algorithm]string{
	Blake3:    "blake3",
	Blake2b:   "blake2b",
	Keccak256: "keccak256",
}

// Algorithms returns every supported algorithm in a stable order.
func Algorithms() []Algorithm {
	return []Algorithm{Blake3, Blake2b, Keccak256}
}

// ParseAlgorithm resolves a case-insensitive algorithm token.
func ParseAlgorithm(token string) (Algorithm, error) {
	switch strings.ToLower(token) {
	case "blake3":
		return Blake3, nil
	case "blake2b":
		return Blake2b, nil
	case "keccak256":
		return Keccak256, nil
	default:
		return 0, &InvalidAlgorithmError{Token: token}
	}
}

// Available reports whether a is one of the supported algorithms.
func (a Algorithm) Available() bool {
	_, ok := algorithmTokens[a]
	return ok
}

// String returns the lowercase token persisted in metadata records.
func (a Algorithm) String() string {
	if tok, ok := algorithmTokens[a]; ok {
		return tok
	}
	return fmt.Sprintf("algorithm(%d)", uint8(a))
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	tok, ok := algorithmTokens[a]
	if !ok {
		return nil, &InvalidAlgorithmError{Token: a.String()}
	}
	return []byte(tok), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	alg, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = alg
	return nil
}

// New returns a new hash.Hash computing the algorithm's digest.
// It panics if the algorithm is not available, like crypto.Hash.New.
func (a Algorithm) New() hash.Hash {
	switch a {
	case Blake3:
		return blake3.New()
	case Blake2b:
		h, err := blake2b.New512(nil)
		if err != nil {
			// only fails for oversized keys
			panic("svdb: blake2b: " + err.Error())
		}
		return h
	case Keccak256:
		return sha3.NewLegacyKeccak256()
	default:
		panic("svdb: requested hash algorithm " + a.String() + " is unavailable")
	}
}
