package container

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/index"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/signature"
)

// ErrNoDocuments means a content was to be packaged without documents.
var ErrNoDocuments = errors.New("no documents to package")

// Packager builds new signature contents.
type Packager struct {
	Manifests  manifest.Factory
	Signatures signature.Factory
	Indexes    index.Factory

	// Algorithms used to hash documents and annotations. The first one
	// is also used for the manifests. Defaults to digest.Default.
	Algorithms []digest.Algorithm
}

// NewPackager returns a packager with incrementing indexes and the default
// hash algorithm.
func NewPackager(mf manifest.Factory, sf signature.Factory) *Packager {
	return &Packager{
		Manifests:  mf,
		Signatures: sf,
		Indexes:    index.IncrementingFactory,
		Algorithms: []digest.Algorithm{digest.Default},
	}
}

func (p *Packager) algorithms() []digest.Algorithm {
	if len(p.Algorithms) == 0 {
		return []digest.Algorithm{digest.Default}
	}
	return p.Algorithms
}

func (p *Packager) hashes(open opener) ([]digest.Imprint, error) {
	hw, err := digest.NewHashWriterPlain(p.algorithms()...)
	if err != nil {
		return nil, err
	}
	rc, err := open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if _, err := io.Copy(hw, rc); err != nil {
		return nil, err
	}
	var result []digest.Imprint
	for _, a := range p.algorithms() {
		result = append(result, hw.Imprint(a))
	}
	return result, nil
}

func (p *Packager) documentHashes(d Document) ([]digest.Imprint, error) {
	if d.Writable() {
		return p.hashes(d.Open)
	}
	// a detached document may still know its hashes
	var result []digest.Imprint
	for _, a := range p.algorithms() {
		h, err := d.Hash(a)
		if err != nil {
			return nil, errors.Wrap(err, d.Name())
		}
		result = append(result, h)
	}
	return result, nil
}

func (p *Packager) refTo(path, mimeType string, b []byte) (manifest.FileReference, error) {
	h, err := digest.SumBytes(b, p.algorithms()[0])
	return manifest.FileReference{URI: path, Hashes: []digest.Imprint{h}, MimeType: mimeType}, err
}

// Package builds a new signature content from docs and annots and returns a
// container holding it after the contents of existing, which may be nil.
// Indexes for the new files continue from those in existing. The new content
// must be mergeable with existing, so a document may only reuse the name of
// an existing document if its bytes are the same.
//
// The returned container owns existing and the given documents and
// annotations.
func (p *Packager) Package(existing *Container, docs []Document, annots []Annotation) (*Container, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	ids, err := p.Indexes(existing.IndexSeeds())
	if err != nil {
		return nil, err
	}
	sc, err := p.build(ids, docs, annots)
	if err != nil {
		return nil, err
	}
	fresh := New([]*SignatureContent{sc}, nil)
	if existing == nil {
		return fresh, nil
	}
	if err := CheckMerge(existing, fresh); err != nil {
		return nil, err
	}
	contents := append(existing.Contents(), sc)
	sortContents(contents)
	result := derive(existing.mimeType, contents, existing.Unknown(), existing)
	result.local = []*SignatureContent{sc}
	return result, nil
}

func (p *Packager) build(ids index.Provider, docs []Document, annots []Annotation) (*SignatureContent, error) {
	mext := p.Manifests.Extension()
	parts := Parts{
		SingleAnnotationManifests: make(map[string]*manifest.SingleAnnotationManifest),
		Annotations:               make(map[string]Annotation),
		Documents:                 make(map[string]Document),
		ManifestFactory:           p.Manifests,
		SignatureFactory:          p.Signatures,
	}

	var docRefs []manifest.FileReference
	for _, d := range docs {
		if err := checkDocumentName(d.Name()); err != nil {
			return nil, err
		}
		hashes, err := p.documentHashes(d)
		if err != nil {
			return nil, err
		}
		docRefs = append(docRefs, manifest.FileReference{URI: d.Name(), Hashes: hashes, MimeType: d.MimeType()})
		parts.Documents[d.Name()] = d
	}
	dm, err := p.Manifests.CreateDocumentsManifest(docRefs)
	if err != nil {
		return nil, err
	}
	parts.DocumentsManifest = dm
	idx, err := ids.Next(index.DocumentsManifest)
	if err != nil {
		return nil, err
	}
	dmRef, err := p.refTo(DocumentsManifestPath(idx, mext), manifest.DocumentsManifestType, dm.Bytes())
	if err != nil {
		return nil, err
	}

	var infos []manifest.FileReference
	for _, a := range annots {
		info, err := p.annotation(ids, &parts, dmRef, a)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	am, err := p.Manifests.CreateAnnotationsManifest(infos)
	if err != nil {
		return nil, err
	}
	parts.AnnotationsManifest = am
	if idx, err = ids.Next(index.AnnotationsManifest); err != nil {
		return nil, err
	}
	amRef, err := p.refTo(AnnotationsManifestPath(idx, mext), manifest.AnnotationsManifestType, am.Bytes())
	if err != nil {
		return nil, err
	}

	if idx, err = ids.Next(index.Signature); err != nil {
		return nil, err
	}
	sigRef := manifest.SignatureReference{
		URI:  SignaturePath(idx, p.Signatures.Extension()),
		Type: p.Signatures.MimeType(),
	}
	m, err := p.Manifests.CreateManifest(dmRef, amRef, sigRef)
	if err != nil {
		return nil, err
	}
	parts.Manifest = m
	if idx, err = ids.Next(index.Manifest); err != nil {
		return nil, err
	}
	parts.ManifestPath = ManifestPath(idx, mext)

	h, err := digest.SumBytes(m.Bytes(), p.Signatures.Algorithm())
	if err != nil {
		return nil, err
	}
	if parts.Signature, err = p.Signatures.Create(h); err != nil {
		return nil, err
	}
	return NewSignatureContent(parts), nil
}

// annotation adds a to parts, and returns the reference to its single
// annotation manifest.
func (p *Packager) annotation(ids index.Provider, parts *Parts, dmRef manifest.FileReference, a Annotation) (manifest.FileReference, error) {
	var info manifest.FileReference
	idx, err := ids.Next(index.Annotation)
	if err != nil {
		return info, err
	}
	hashes, err := p.hashes(a.Open)
	if err != nil {
		return info, errors.Wrapf(err, "annotation %s", a.Domain())
	}
	data := manifest.FileReference{
		URI:      AnnotationDataPath(idx),
		Hashes:   hashes,
		MimeType: string(a.Type()),
		Domain:   a.Domain(),
	}
	sam, err := p.Manifests.CreateSingleAnnotationManifest(dmRef, data)
	if err != nil {
		return info, err
	}
	if idx, err = ids.Next(index.SingleAnnotationManifest); err != nil {
		return info, err
	}
	path := SingleAnnotationManifestPath(idx, p.Manifests.Extension())
	info, err = p.refTo(path, string(a.Type()), sam.Bytes())
	if err != nil {
		return info, err
	}
	info.Domain = a.Domain()
	parts.SingleAnnotationManifests[path] = sam
	parts.Annotations[path] = a
	return info, nil
}
