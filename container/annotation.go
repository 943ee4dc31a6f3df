package container

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/parsing"
)

// An Annotation is a free-form payload attached to the documents of one
// signature. Its Domain names what kind of annotation it is, and its Type
// says whether it may later be removed.
type Annotation interface {
	Domain() string
	Type() manifest.AnnotationType

	// Present is false if the payload has been removed.
	Present() bool

	// Open returns the payload.
	Open() (io.ReadCloser, error)

	Hash(a digest.Algorithm) (digest.Imprint, error)
	Close() error
}

type annotation struct {
	domain string
	typ    manifest.AnnotationType
	open   opener // nil if the payload is absent
	close  func() error
}

func (a *annotation) Domain() string                { return a.domain }
func (a *annotation) Type() manifest.AnnotationType { return a.typ }
func (a *annotation) Present() bool                 { return a.open != nil }

func (a *annotation) Open() (io.ReadCloser, error) {
	if a.open == nil {
		return nil, errors.Wrap(ErrDetached, a.domain)
	}
	return a.open()
}

func (a *annotation) Hash(alg digest.Algorithm) (digest.Imprint, error) {
	return hashOpener(a.Open, alg)
}

func (a *annotation) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// NewBytesAnnotation returns an annotation whose payload is b.
func NewBytesAnnotation(domain string, typ manifest.AnnotationType, b []byte) Annotation {
	return &annotation{
		domain: domain,
		typ:    typ,
		open:   func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil },
	}
}

// NewFileAnnotation returns an annotation whose payload is the file at path.
func NewFileAnnotation(path, domain string, typ manifest.AnnotationType) Annotation {
	return &annotation{
		domain: domain,
		typ:    typ,
		open:   func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// NewStreamAnnotation copies r into s under key and returns an annotation
// backed by the copy.
func NewStreamAnnotation(s parsing.Store, r io.Reader, key, domain string, typ manifest.AnnotationType) (Annotation, error) {
	ref, err := s.Store(key, r)
	if err != nil {
		return nil, err
	}
	return storedAnnotation(ref, domain, typ), nil
}

// storedAnnotation returns an annotation backed by ref. A nil ref means the
// payload was not in the archive.
func storedAnnotation(ref *parsing.Reference, domain string, typ manifest.AnnotationType) Annotation {
	a := &annotation{domain: domain, typ: typ}
	if ref != nil {
		a.open = ref.Open
		a.close = ref.Release
	}
	return a
}
