package container

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/index"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/parsing"
	"github.com/ndlib/sigbag/signature"
)

var (
	// ErrNoMimeType means the archive has no mimetype entry, or it is
	// empty.
	ErrNoMimeType = errors.New("container has no mimetype")

	// ErrNothingRecognized means the archive has no manifest, document or
	// annotation in it.
	ErrNothingRecognized = errors.New("container has no recognizable content")

	// ErrMissing means a file referenced by a manifest is not in the
	// archive.
	ErrMissing = errors.New("referenced file missing")
)

// Failure records one piece of a container which could not be read.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string {
	return f.Path + ": " + f.Err.Error()
}

// ReadError is returned by Read when parts of a container could not be
// read. The Container holds everything that could be.
type ReadError struct {
	Container *Container
	Failures  []Failure
}

func (e *ReadError) Error() string {
	var s []string
	for _, f := range e.Failures {
		s = append(s, f.Error())
	}
	return fmt.Sprintf("container read with %d failures: %s", len(e.Failures), strings.Join(s, "; "))
}

// Reader turns archives into containers.
type Reader struct {
	Manifests  manifest.Factory
	Signatures signature.Factory
	Store      parsing.Factory // defaults to parsing.MemoryFactory
}

// NewReader returns a reader for containers using the given manifest and
// signature schemes.
func NewReader(mf manifest.Factory, sf signature.Factory, store parsing.Factory) *Reader {
	return &Reader{Manifests: mf, Signatures: sf, Store: store}
}

// ReadFile reads the archive in the file name.
func (r *Reader) ReadFile(name string) (*Container, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return r.Read(f, fi.Size())
}

// Read reads the zip archive in ra, which is size bytes long. Every entry is
// copied into a new parsing store owned by the returned container, so ra is
// not needed after Read returns.
//
// If some pieces of the container cannot be read, both a container and a
// *ReadError are returned. If the archive is not a container at all, only an
// error is returned.
func (r *Reader) Read(ra io.ReaderAt, size int64) (*Container, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, errors.Wrap(err, "opening archive")
	}
	newStore := r.Store
	if newStore == nil {
		newStore = parsing.MemoryFactory
	}
	store, err := newStore()
	if err != nil {
		return nil, err
	}
	s := &session{
		r:       r,
		store:   store,
		refs:    make(map[string]*parsing.Reference),
		kinds:   make(map[string]entryKind),
		claimed: make(map[string]bool),
	}
	c, err := s.read(zr)
	if c == nil {
		store.Close()
	}
	return c, err
}

// session holds the state of one Read.
type session struct {
	r        *Reader
	store    parsing.Store
	refs     map[string]*parsing.Reference
	kinds    map[string]entryKind
	order    []string // entry names in archive order
	claimed  map[string]bool
	failures []Failure
}

func (s *session) fail(path string, err error) {
	s.failures = append(s.failures, Failure{Path: path, Err: err})
}

func (s *session) read(zr *zip.Reader) (*Container, error) {
	hs := handlers(s.r.Manifests.Extension(), s.r.Signatures.Extension())
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		if _, ok := s.refs[f.Name]; ok {
			log.Println("container: duplicate entry", f.Name, "ignored")
			continue
		}
		if err := s.copyEntry(f); err != nil {
			s.fail(f.Name, err)
			continue
		}
		s.kinds[f.Name] = classify(hs, f.Name)
		s.order = append(s.order, f.Name)
	}

	mimeType, err := s.mimeType()
	if err != nil {
		return nil, err
	}

	var manifests []string
	for _, name := range s.order {
		if s.kinds[name] == kindManifest {
			manifests = append(manifests, name)
		}
	}
	sort.SliceStable(manifests, func(i, j int) bool {
		return indexLess(manifests[i], manifests[j])
	})
	var contents []*SignatureContent
	for _, name := range manifests {
		contents = append(contents, s.content(name))
	}
	if !recognized(contents) {
		return nil, ErrNothingRecognized
	}

	var unknown []Document
	for _, name := range s.order {
		if s.claimed[name] || s.kinds[name] == kindMimeType {
			continue
		}
		unknown = append(unknown, &storedDocument{name: name, ref: s.refs[name]})
	}

	c := New(contents, unknown)
	c.mimeType = mimeType
	c.store = s.store
	if len(s.failures) > 0 {
		return c, &ReadError{Container: c, Failures: s.failures}
	}
	return c, nil
}

func (s *session) copyEntry(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	ref, err := s.store.Store(f.Name, rc)
	if err != nil {
		return err
	}
	s.refs[f.Name] = ref
	return nil
}

func (s *session) mimeType() (string, error) {
	ref, ok := s.refs[MimeTypeName]
	if !ok {
		return "", ErrNoMimeType
	}
	rc, err := ref.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	mt := strings.TrimSpace(string(b))
	if mt == "" {
		return "", ErrNoMimeType
	}
	return mt, nil
}

func recognized(contents []*SignatureContent) bool {
	for _, sc := range contents {
		if sc.Manifest() != nil || len(sc.p.Documents) > 0 || len(sc.p.Annotations) > 0 {
			return true
		}
	}
	return false
}

// indexLess orders paths by their index, numerically when both are decimal.
func indexLess(a, b string) bool {
	sa, _ := index.Segment(a)
	sb, _ := index.Segment(b)
	na, erra := strconv.ParseUint(sa, 10, 64)
	nb, errb := strconv.ParseUint(sb, 10, 64)
	switch {
	case erra == nil && errb == nil && na != nb:
		return na < nb
	case (erra == nil) != (errb == nil):
		// decimal indexes sort first
		return erra == nil
	}
	return a < b
}

// open returns a reader for the entry called name, if it is in the archive.
func (s *session) open(name string) (io.ReadCloser, bool) {
	ref, ok := s.refs[name]
	if !ok {
		return nil, false
	}
	rc, err := ref.Open()
	if err != nil {
		return nil, false
	}
	return rc, true
}

// keepRaw records that name could not be decoded, and keeps it with p.
func (s *session) keepRaw(p *Parts, name string, err error) {
	s.fail(name, err)
	if ref, ok := s.refs[name]; ok {
		p.Raw[name] = ref
		s.claimed[name] = true
	}
}

// content builds the content whose manifest is at path. Failures are
// recorded and the content is built as far as it can be.
func (s *session) content(path string) *SignatureContent {
	mf := s.r.Manifests
	p := Parts{
		ManifestPath:              path,
		SingleAnnotationManifests: make(map[string]*manifest.SingleAnnotationManifest),
		Annotations:               make(map[string]Annotation),
		Documents:                 make(map[string]Document),
		Raw:                       make(map[string]*parsing.Reference),
		ManifestFactory:           mf,
		SignatureFactory:          s.r.Signatures,
	}
	s.claimed[path] = true
	rc, ok := s.open(path)
	if !ok {
		s.fail(path, ErrMissing)
		return NewSignatureContent(p)
	}
	m, err := mf.ReadManifest(rc)
	rc.Close()
	if err != nil {
		s.keepRaw(&p, path, err)
		return NewSignatureContent(p)
	}
	p.Manifest = m

	s.readSignature(&p, m.Signature.URI)
	s.readDocuments(&p, m.DocumentsManifest.URI)
	s.readAnnotations(&p, m.AnnotationsManifest.URI)
	return NewSignatureContent(p)
}

func (s *session) readSignature(p *Parts, path string) {
	rc, ok := s.open(path)
	if !ok {
		s.fail(path, ErrMissing)
		return
	}
	defer rc.Close()
	s.claimed[path] = true
	sig, err := s.r.Signatures.Read(rc)
	if err != nil {
		s.keepRaw(p, path, err)
		return
	}
	p.Signature = sig
}

func (s *session) readDocuments(p *Parts, path string) {
	rc, ok := s.open(path)
	if !ok {
		s.fail(path, ErrMissing)
		return
	}
	defer rc.Close()
	s.claimed[path] = true
	dm, err := s.r.Manifests.ReadDocumentsManifest(rc)
	if err != nil {
		s.keepRaw(p, path, err)
		return
	}
	p.DocumentsManifest = dm
	for _, ref := range dm.Documents {
		stored, ok := s.refs[ref.URI]
		if !ok || s.kinds[ref.URI] != kindDocument {
			// a detached document; verification decides if that is
			// acceptable
			p.Documents[ref.URI] = NewEmptyDocument(ref.URI, ref.MimeType)
			continue
		}
		s.claimed[ref.URI] = true
		p.Documents[ref.URI] = &storedDocument{name: ref.URI, mime: ref.MimeType, ref: stored}
	}
}

func (s *session) readAnnotations(p *Parts, path string) {
	rc, ok := s.open(path)
	if !ok {
		s.fail(path, ErrMissing)
		return
	}
	defer rc.Close()
	s.claimed[path] = true
	am, err := s.r.Manifests.ReadAnnotationsManifest(rc)
	if err != nil {
		s.keepRaw(p, path, err)
		return
	}
	p.AnnotationsManifest = am
	for _, info := range am.Annotations {
		s.readAnnotation(p, info)
	}
}

// readAnnotation reads one single annotation manifest and its payload.
// Either may be missing; that is judged by verification using the
// annotation's type.
func (s *session) readAnnotation(p *Parts, info manifest.FileReference) {
	rc, ok := s.open(info.URI)
	if !ok {
		return
	}
	defer rc.Close()
	s.claimed[info.URI] = true
	sam, err := s.r.Manifests.ReadSingleAnnotationManifest(rc)
	if err != nil {
		s.keepRaw(p, info.URI, err)
		return
	}
	p.SingleAnnotationManifests[info.URI] = sam
	data := sam.Annotation.URI
	ref, ok := s.refs[data]
	if ok {
		s.claimed[data] = true
	}
	p.Annotations[info.URI] = storedAnnotation(ref, sam.Annotation.Domain, sam.Type())
}
