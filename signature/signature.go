// Package signature defines how a container sees the signature covering a
// manifest. A container only stores, reads and compares signatures; how they
// are made and checked is left to a Factory.
package signature

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/digest"
)

// Signature is an opaque signature over the hash of a manifest.
type Signature interface {
	// WriteTo writes the encoded signature.
	WriteTo(w io.Writer) (int64, error)

	// Bytes returns the encoded signature.
	Bytes() []byte

	// SignedHash is the imprint the signature was made over.
	SignedHash() digest.Imprint

	// IsExtended is true once the signature has been extended.
	IsExtended() bool
}

// A Factory makes, reads, extends and verifies one kind of signature.
type Factory interface {
	// Type names the signature scheme, e.g. "ed25519".
	Type() string

	// MimeType is recorded in the signature reference of a manifest.
	MimeType() string

	// Extension is the file extension used for signature files.
	Extension() string

	// Algorithm is the hash algorithm manifests are hashed with before
	// signing.
	Algorithm() digest.Algorithm

	Create(hash digest.Imprint) (Signature, error)
	Read(r io.Reader) (Signature, error)
	Extend(s Signature) (Signature, error)

	// Verify checks s was made over hash and that the cryptography holds.
	Verify(s Signature, hash digest.Imprint) error
}

var (
	// ErrNoKey means a signature was to be made by a factory without a
	// private key.
	ErrNoKey = errors.New("no signing key")

	// ErrInvalid means a signature did not verify.
	ErrInvalid = errors.New("signature does not verify")

	// ErrWrongType means a signature from one factory was given to
	// another.
	ErrWrongType = errors.New("signature of wrong type")
)

// Equal compares two signatures by their encoded form.
func Equal(a, b Signature) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}
