package container

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/parsing"
)

// ErrDetached is returned when the content of a document or annotation is
// asked for but the container does not hold it.
var ErrDetached = errors.New("content not present in container")

// A Document is one signed file. Its Name is its path inside the container.
type Document interface {
	Name() string
	MimeType() string

	// Open returns the content. It may be called more than once.
	Open() (io.ReadCloser, error)

	// Hash computes the hash of the content with a.
	Hash(a digest.Algorithm) (digest.Imprint, error)

	// Writable is false for documents whose content is not held, and so
	// cannot be written into an archive.
	Writable() bool

	Close() error
}

type opener func() (io.ReadCloser, error)

func hashOpener(open opener, a digest.Algorithm) (digest.Imprint, error) {
	rc, err := open()
	if err != nil {
		return digest.Imprint{}, err
	}
	defer rc.Close()
	return digest.Sum(rc, a)
}

type fileDocument struct {
	name string
	mime string
	path string
}

// NewFileDocument returns a document named name whose content is the file at
// path on disk.
func NewFileDocument(path, name, mimeType string) Document {
	return &fileDocument{name: name, mime: mimeType, path: path}
}

func (d *fileDocument) Name() string     { return d.name }
func (d *fileDocument) MimeType() string { return d.mime }
func (d *fileDocument) Writable() bool   { return true }
func (d *fileDocument) Close() error     { return nil }

func (d *fileDocument) Open() (io.ReadCloser, error) {
	return os.Open(d.path)
}

func (d *fileDocument) Hash(a digest.Algorithm) (digest.Imprint, error) {
	return hashOpener(d.Open, a)
}

type bytesDocument struct {
	name string
	mime string
	b    []byte
}

// NewBytesDocument returns a document holding b.
func NewBytesDocument(name, mimeType string, b []byte) Document {
	return &bytesDocument{name: name, mime: mimeType, b: b}
}

func (d *bytesDocument) Name() string     { return d.name }
func (d *bytesDocument) MimeType() string { return d.mime }
func (d *bytesDocument) Writable() bool   { return true }
func (d *bytesDocument) Close() error     { return nil }

func (d *bytesDocument) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(d.b)), nil
}

func (d *bytesDocument) Hash(a digest.Algorithm) (digest.Imprint, error) {
	return digest.SumBytes(d.b, a)
}

// storedDocument is a document whose content sits in a parsing store.
type storedDocument struct {
	name string
	mime string
	ref  *parsing.Reference
}

// NewStreamDocument copies r into s and returns a document backed by the
// copy. The stream is read exactly once. Closing the document releases the
// copy.
func NewStreamDocument(s parsing.Store, r io.Reader, name, mimeType string) (Document, error) {
	ref, err := s.Store(name, r)
	if err != nil {
		return nil, err
	}
	return &storedDocument{name: name, mime: mimeType, ref: ref}, nil
}

func (d *storedDocument) Name() string                 { return d.name }
func (d *storedDocument) MimeType() string             { return d.mime }
func (d *storedDocument) Writable() bool               { return true }
func (d *storedDocument) Close() error                 { return d.ref.Release() }
func (d *storedDocument) Open() (io.ReadCloser, error) { return d.ref.Open() }

func (d *storedDocument) Hash(a digest.Algorithm) (digest.Imprint, error) {
	return hashOpener(d.Open, a)
}

// emptyDocument stands in for a document listed in a documents manifest but
// not present in the archive.
type emptyDocument struct {
	name string
	mime string
}

// NewEmptyDocument returns a detached document. It is listed in manifests
// but has no content.
func NewEmptyDocument(name, mimeType string) Document {
	return &emptyDocument{name: name, mime: mimeType}
}

func (d *emptyDocument) Name() string     { return d.name }
func (d *emptyDocument) MimeType() string { return d.mime }
func (d *emptyDocument) Writable() bool   { return false }
func (d *emptyDocument) Close() error     { return nil }

func (d *emptyDocument) Open() (io.ReadCloser, error) {
	return nil, errors.Wrap(ErrDetached, d.name)
}

func (d *emptyDocument) Hash(a digest.Algorithm) (digest.Imprint, error) {
	return digest.Imprint{}, errors.Wrap(ErrDetached, d.name)
}

// NewDetachedDocument computes the hashes of doc and returns a document with
// the same name which keeps only those hashes. It lets a container sign a
// document without carrying it.
func NewDetachedDocument(doc Document, algs ...digest.Algorithm) (Document, error) {
	d := &hashedDocument{emptyDocument: emptyDocument{name: doc.Name(), mime: doc.MimeType()}}
	for _, a := range algs {
		h, err := doc.Hash(a)
		if err != nil {
			return nil, err
		}
		d.hashes = append(d.hashes, h)
	}
	return d, nil
}

type hashedDocument struct {
	emptyDocument
	hashes []digest.Imprint
}

func (d *hashedDocument) Hash(a digest.Algorithm) (digest.Imprint, error) {
	for _, h := range d.hashes {
		if h.Algorithm == a {
			return h, nil
		}
	}
	return d.emptyDocument.Hash(a)
}
