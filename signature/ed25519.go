package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/tlv"
)

// Element types of the encoded Ed25519 signature.
const (
	typeEd25519 uint16 = 0x0800

	elemImprint   uint16 = 0x01
	elemPublicKey uint16 = 0x02
	elemSignature uint16 = 0x03
	elemExtension uint16 = 0x04

	elemExtKey uint16 = 0x01
	elemExtSig uint16 = 0x02
)

// Ed25519 is a Factory for signatures made with an Ed25519 key. A factory
// without a private key can still read and verify signatures.
type Ed25519 struct {
	key ed25519.PrivateKey

	// If Trusted is not empty, Verify rejects signatures whose public key
	// is not in it.
	Trusted []ed25519.PublicKey
}

var _ Factory = &Ed25519{}

// NewEd25519 returns a factory signing with key, which may be nil.
func NewEd25519(key ed25519.PrivateKey) *Ed25519 {
	return &Ed25519{key: key}
}

func (f *Ed25519) Type() string                { return "ed25519" }
func (f *Ed25519) MimeType() string            { return "application/x-sigbag-ed25519" }
func (f *Ed25519) Extension() string           { return "sig" }
func (f *Ed25519) Algorithm() digest.Algorithm { return digest.SHA256 }

type ed25519Signature struct {
	imprint digest.Imprint
	pub     ed25519.PublicKey
	sig     []byte
	ext     *ed25519Extension
	raw     []byte
}

type ed25519Extension struct {
	pub ed25519.PublicKey
	sig []byte // over the base signature
}

func (s *ed25519Signature) Bytes() []byte              { return s.raw }
func (s *ed25519Signature) SignedHash() digest.Imprint { return s.imprint }
func (s *ed25519Signature) IsExtended() bool           { return s.ext != nil }

func (s *ed25519Signature) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.raw)
	return int64(n), err
}

func (s *ed25519Signature) encode() error {
	children := []*tlv.Element{
		tlv.New(elemImprint, true, s.imprint.Bytes()),
		tlv.New(elemPublicKey, true, s.pub),
		tlv.New(elemSignature, true, s.sig),
	}
	if s.ext != nil {
		ext, err := tlv.NewComposite(elemExtension,
			tlv.New(elemExtKey, true, s.ext.pub),
			tlv.New(elemExtSig, true, s.ext.sig))
		if err != nil {
			return err
		}
		children = append(children, ext)
	}
	e, err := tlv.NewComposite(typeEd25519, children...)
	if err != nil {
		return err
	}
	s.raw, err = e.MarshalBinary()
	return err
}

// Create signs hash.
func (f *Ed25519) Create(hash digest.Imprint) (Signature, error) {
	if f.key == nil {
		return nil, ErrNoKey
	}
	if hash.IsZero() {
		return nil, errors.New("signing an empty imprint")
	}
	s := &ed25519Signature{
		imprint: hash,
		pub:     f.key.Public().(ed25519.PublicKey),
		sig:     ed25519.Sign(f.key, hash.Bytes()),
	}
	return s, s.encode()
}

// Read decodes a signature written by WriteTo.
func (f *Ed25519) Read(r io.Reader) (Signature, error) {
	e, err := tlv.ReadElement(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading signature")
	}
	if e.Type != typeEd25519 {
		return nil, errors.Wrapf(ErrWrongType, "element 0x%x", e.Type)
	}
	s := &ed25519Signature{}
	err = tlv.WalkComposite("ed25519 signature", e, func(c *tlv.Element) (bool, error) {
		var err error
		switch c.Type {
		case elemImprint:
			s.imprint, err = digest.ParseImprint(c.Value)
		case elemPublicKey:
			s.pub, err = publicKey(c.Value)
		case elemSignature:
			s.sig = append([]byte(nil), c.Value...)
		case elemExtension:
			s.ext, err = readExtension(c)
		default:
			return false, nil
		}
		return true, err
	}, elemImprint, elemPublicKey, elemSignature)
	if err != nil {
		return nil, err
	}
	s.raw, err = e.MarshalBinary()
	return s, err
}

func readExtension(e *tlv.Element) (*ed25519Extension, error) {
	ext := &ed25519Extension{}
	err := tlv.WalkComposite("ed25519 extension", e, func(c *tlv.Element) (bool, error) {
		var err error
		switch c.Type {
		case elemExtKey:
			ext.pub, err = publicKey(c.Value)
		case elemExtSig:
			ext.sig = append([]byte(nil), c.Value...)
		default:
			return false, nil
		}
		return true, err
	}, elemExtKey, elemExtSig)
	return ext, err
}

func publicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.Wrapf(tlv.ErrMalformed, "public key of %d bytes", len(b))
	}
	return ed25519.PublicKey(append([]byte(nil), b...)), nil
}

// Extend returns a copy of s countersigned by the factory's key. Extending an
// extended signature replaces the earlier extension.
func (f *Ed25519) Extend(s Signature) (Signature, error) {
	if f.key == nil {
		return nil, ErrNoKey
	}
	base, ok := s.(*ed25519Signature)
	if !ok {
		return nil, ErrWrongType
	}
	ext := &ed25519Signature{
		imprint: base.imprint,
		pub:     base.pub,
		sig:     base.sig,
		ext: &ed25519Extension{
			pub: f.key.Public().(ed25519.PublicKey),
			sig: ed25519.Sign(f.key, base.sig),
		},
	}
	return ext, ext.encode()
}

// Verify checks s was made over hash by a trusted key, and that any
// extension countersigns it.
func (f *Ed25519) Verify(s Signature, hash digest.Imprint) error {
	sig, ok := s.(*ed25519Signature)
	if !ok {
		return ErrWrongType
	}
	if !sig.imprint.Equal(hash) {
		return errors.Wrapf(ErrInvalid, "signed %s, expected %s", sig.imprint, hash)
	}
	if !f.trusted(sig.pub) {
		return errors.Wrap(ErrInvalid, "untrusted key")
	}
	if !ed25519.Verify(sig.pub, sig.imprint.Bytes(), sig.sig) {
		return ErrInvalid
	}
	if sig.ext != nil && !ed25519.Verify(sig.ext.pub, sig.sig, sig.ext.sig) {
		return errors.Wrap(ErrInvalid, "extension")
	}
	return nil
}

func (f *Ed25519) trusted(pub ed25519.PublicKey) bool {
	if len(f.Trusted) == 0 {
		return true
	}
	for _, k := range f.Trusted {
		if bytes.Equal(k, pub) {
			return true
		}
	}
	return false
}

// GenerateKey makes a new random private key.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	return key, err
}

// WriteKeyFile saves the seed of key as hex to the file name.
func WriteKeyFile(name string, key ed25519.PrivateKey) error {
	return os.WriteFile(name, []byte(hex.EncodeToString(key.Seed())+"\n"), 0600)
}

// ReadKeyFile loads a private key saved by WriteKeyFile.
func ReadKeyFile(name string) (ed25519.PrivateKey, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("%s: seed of %d bytes", name, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// ParsePublicKey decodes a hex encoded public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return publicKey(b)
}
