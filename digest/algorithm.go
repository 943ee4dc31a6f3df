// Package digest provides the hash algorithms used to reference content
// inside a container, and imprints, which are digests tagged with the
// algorithm that produced them.
//
// An imprint is encoded as a single algorithm id byte followed by the digest
// bytes. Some algorithm ids are known but not supported for hashing; an
// imprint with such an id can still be decoded and compared, but data cannot
// be hashed with it.
package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm identifies a hash function by its imprint id.
type Algorithm byte

// The algorithm ids.
const (
	SHA256     Algorithm = 0x01
	RIPEMD160  Algorithm = 0x02
	SHA384     Algorithm = 0x04
	SHA512     Algorithm = 0x05
	SHA3_256   Algorithm = 0x08
	SHA3_512   Algorithm = 0x0a
	BLAKE2b256 Algorithm = 0x0c
	BLAKE3_256 Algorithm = 0x0d

	// Default is used when nothing else is configured.
	Default = SHA256
)

var (
	// ErrUnsupportedAlgorithm means data cannot be hashed with the
	// algorithm, either because the id is unknown or because it is not
	// implemented.
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

	// ErrUnknownAlgorithm means the algorithm id or name is not known at all.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
)

type algorithmInfo struct {
	name string
	size int
	new  func() hash.Hash // nil if not supported
}

var algorithms = map[Algorithm]algorithmInfo{
	SHA256:     {"SHA-256", sha256.Size, sha256.New},
	RIPEMD160:  {"RIPEMD-160", 20, nil},
	SHA384:     {"SHA-384", sha512.Size384, sha512.New384},
	SHA512:     {"SHA-512", sha512.Size, sha512.New},
	SHA3_256:   {"SHA3-256", 32, sha3.New256},
	SHA3_512:   {"SHA3-512", 64, sha3.New512},
	BLAKE2b256: {"BLAKE2b-256", blake2b.Size256, newBlake2b256},
	BLAKE3_256: {"BLAKE3-256", 32, func() hash.Hash { return blake3.New() }},
}

func newBlake2b256() hash.Hash {
	// New256 only fails when given a key which is too long.
	h, _ := blake2b.New256(nil)
	return h
}

// Known is true if the id is a registered algorithm, supported or not.
func (a Algorithm) Known() bool {
	_, ok := algorithms[a]
	return ok
}

// Supported is true if data can be hashed with a.
func (a Algorithm) Supported() bool {
	return algorithms[a].new != nil
}

// Size is the digest length in bytes, or 0 if a is unknown.
func (a Algorithm) Size() int {
	return algorithms[a].size
}

func (a Algorithm) String() string {
	if info, ok := algorithms[a]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN-0x%02x", byte(a))
}

// New returns a fresh hash.Hash for a.
func (a Algorithm) New() (hash.Hash, error) {
	info, ok := algorithms[a]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "id 0x%02x", byte(a))
	}
	if info.new == nil {
		return nil, errors.Wrap(ErrUnsupportedAlgorithm, info.name)
	}
	return info.new(), nil
}

// ParseAlgorithm finds an algorithm by name. Matching ignores case and
// dashes, so "sha256", "SHA-256" and "sha-256" are the same.
func ParseAlgorithm(name string) (Algorithm, error) {
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "-", ""))
	}
	for a, info := range algorithms {
		if norm(info.name) == norm(name) {
			return a, nil
		}
	}
	return 0, errors.Wrap(ErrUnknownAlgorithm, name)
}
