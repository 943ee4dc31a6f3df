package digest

import (
	"bytes"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
)

// ErrBadImprint means encoded imprint bytes could not be decoded.
var ErrBadImprint = errors.New("malformed imprint")

// Imprint is a digest together with the algorithm that produced it.
type Imprint struct {
	Algorithm Algorithm
	Digest    []byte
}

// Equal is true if both the algorithm and the digest bytes match.
func (i Imprint) Equal(other Imprint) bool {
	return i.Algorithm == other.Algorithm && bytes.Equal(i.Digest, other.Digest)
}

// IsZero is true for the zero Imprint.
func (i Imprint) IsZero() bool {
	return i.Algorithm == 0 && len(i.Digest) == 0
}

// Bytes returns the encoded form: algorithm id followed by the digest.
func (i Imprint) Bytes() []byte {
	b := make([]byte, 1+len(i.Digest))
	b[0] = byte(i.Algorithm)
	copy(b[1:], i.Digest)
	return b
}

func (i Imprint) String() string {
	return i.Algorithm.String() + ":" + hex.EncodeToString(i.Digest)
}

// ParseImprint decodes the encoded form of an imprint. The algorithm must be
// known, and the digest must have that algorithm's length. Unsupported but
// known algorithms are accepted.
func ParseImprint(b []byte) (Imprint, error) {
	if len(b) < 1 {
		return Imprint{}, errors.Wrap(ErrBadImprint, "empty")
	}
	a := Algorithm(b[0])
	if !a.Known() {
		return Imprint{}, errors.Wrapf(ErrUnknownAlgorithm, "id 0x%02x", b[0])
	}
	if len(b)-1 != a.Size() {
		return Imprint{}, errors.Wrapf(ErrBadImprint, "%s digest of %d bytes, expected %d",
			a, len(b)-1, a.Size())
	}
	return Imprint{Algorithm: a, Digest: append([]byte(nil), b[1:]...)}, nil
}

// Sum hashes everything read from r with a. The reader is not closed.
func Sum(r io.Reader, a Algorithm) (Imprint, error) {
	h, err := a.New()
	if err != nil {
		return Imprint{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Imprint{}, errors.Wrap(err, "hashing")
	}
	return Imprint{Algorithm: a, Digest: h.Sum(nil)}, nil
}

// SumBytes hashes b with a.
func SumBytes(b []byte, a Algorithm) (Imprint, error) {
	return Sum(bytes.NewReader(b), a)
}
