package container

import (
	"bytes"
	"io"
	"sort"

	"github.com/ndlib/sigbag/index"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/parsing"
	"github.com/ndlib/sigbag/signature"
)

// Parts are the pieces of a SignatureContent. A content is never changed
// once made; to derive a new one, take its Parts, change them, and call
// NewSignatureContent.
type Parts struct {
	ManifestPath        string
	Manifest            *manifest.Manifest
	DocumentsManifest   *manifest.DocumentsManifest
	AnnotationsManifest *manifest.AnnotationsManifest

	// keyed by the path of each single annotation manifest
	SingleAnnotationManifests map[string]*manifest.SingleAnnotationManifest
	Annotations               map[string]Annotation

	// keyed by document name
	Documents map[string]Document

	Signature signature.Signature

	// Raw holds files of this content which were found in the archive but
	// could not be decoded, by path. They are written back unchanged.
	Raw map[string]*parsing.Reference

	ManifestFactory  manifest.Factory
	SignatureFactory signature.Factory

	// NewlyExtended is set on contents whose signature was extended by
	// Extend.
	NewlyExtended bool
}

// SignatureContent is one signed unit of a container: a manifest, the files
// it links to and the signature over it.
type SignatureContent struct {
	p Parts
}

// NewSignatureContent makes a content from its parts. The maps are copied.
func NewSignatureContent(p Parts) *SignatureContent {
	p.SingleAnnotationManifests = copyMap(p.SingleAnnotationManifests)
	p.Annotations = copyMap(p.Annotations)
	p.Documents = copyMap(p.Documents)
	p.Raw = copyMap(p.Raw)
	return &SignatureContent{p: p}
}

func copyMap[V any](m map[string]V) map[string]V {
	result := make(map[string]V, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// Parts returns a copy of the parts of sc.
func (sc *SignatureContent) Parts() Parts {
	p := sc.p
	p.SingleAnnotationManifests = copyMap(p.SingleAnnotationManifests)
	p.Annotations = copyMap(p.Annotations)
	p.Documents = copyMap(p.Documents)
	p.Raw = copyMap(p.Raw)
	return p
}

// ManifestPath is the archive path of the manifest. It is set even when the
// manifest could not be read.
func (sc *SignatureContent) ManifestPath() string { return sc.p.ManifestPath }

// Manifest returns the decoded manifest, or nil if it could not be read.
func (sc *SignatureContent) Manifest() *manifest.Manifest { return sc.p.Manifest }

// Signature returns the signature over the manifest, or nil if missing.
func (sc *SignatureContent) Signature() signature.Signature { return sc.p.Signature }

// ManifestFactory is the factory which made or decoded the manifests.
func (sc *SignatureContent) ManifestFactory() manifest.Factory { return sc.p.ManifestFactory }

// SignatureFactory is the factory which made or decoded the signature.
func (sc *SignatureContent) SignatureFactory() signature.Factory { return sc.p.SignatureFactory }

// NewlyExtended is true if Extend extended the signature of sc.
func (sc *SignatureContent) NewlyExtended() bool { return sc.p.NewlyExtended }

// DocumentsManifest returns the decoded documents manifest, or nil.
func (sc *SignatureContent) DocumentsManifest() *manifest.DocumentsManifest {
	return sc.p.DocumentsManifest
}

// AnnotationsManifest returns the decoded annotations manifest, or nil.
func (sc *SignatureContent) AnnotationsManifest() *manifest.AnnotationsManifest {
	return sc.p.AnnotationsManifest
}

// Document returns the document with the given name.
func (sc *SignatureContent) Document(name string) (Document, bool) {
	d, ok := sc.p.Documents[name]
	return d, ok
}

// Annotation returns the annotation whose single annotation manifest is at
// path.
func (sc *SignatureContent) Annotation(path string) (Annotation, bool) {
	a, ok := sc.p.Annotations[path]
	return a, ok
}

// SingleAnnotationManifest returns the decoded single annotation manifest
// at path.
func (sc *SignatureContent) SingleAnnotationManifest(path string) (*manifest.SingleAnnotationManifest, bool) {
	m, ok := sc.p.SingleAnnotationManifests[path]
	return m, ok
}

// HasRaw is true if the file at path was present but could not be decoded.
func (sc *SignatureContent) HasRaw(path string) bool {
	_, ok := sc.p.Raw[path]
	return ok
}

// Partial is true if the manifest itself could not be decoded.
func (sc *SignatureContent) Partial() bool { return sc.p.Manifest == nil }

// Documents returns the documents in the order of the documents manifest.
func (sc *SignatureContent) Documents() []Document {
	var result []Document
	if sc.p.DocumentsManifest != nil {
		for _, r := range sc.p.DocumentsManifest.Documents {
			if d, ok := sc.p.Documents[r.URI]; ok {
				result = append(result, d)
			}
		}
		return result
	}
	for _, name := range sortedKeys(sc.p.Documents) {
		result = append(result, sc.p.Documents[name])
	}
	return result
}

// Annotations returns the annotations in the order of the annotations
// manifest.
func (sc *SignatureContent) Annotations() []Annotation {
	var result []Annotation
	for _, p := range sc.annotationPaths() {
		if a, ok := sc.p.Annotations[p]; ok {
			result = append(result, a)
		}
	}
	return result
}

func (sc *SignatureContent) annotationPaths() []string {
	if sc.p.AnnotationsManifest == nil {
		return sortedKeys(sc.p.SingleAnnotationManifests)
	}
	var result []string
	for _, r := range sc.p.AnnotationsManifest.Annotations {
		result = append(result, r.URI)
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every document and annotation and releases the raw files.
func (sc *SignatureContent) Close() error {
	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}
	for _, d := range sc.p.Documents {
		keep(d.Close())
	}
	for _, a := range sc.p.Annotations {
		keep(a.Close())
	}
	for _, r := range sc.p.Raw {
		keep(r.Release())
	}
	return first
}

// entry is one file of a content as it appears in an archive.
type entry struct {
	path string
	kind entryKind
	open opener
	sig  signature.Signature // only for signature entries
	doc  Document            // only for document entries
}

func bytesOpener(b []byte) opener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

// entries lists the files of sc in the order they are written. Documents
// without content are left out.
func (sc *SignatureContent) entries() []entry {
	var result []entry
	p := &sc.p
	m := p.Manifest
	if m != nil {
		result = append(result, entry{path: p.ManifestPath, kind: kindManifest, open: bytesOpener(m.Bytes())})
		if p.DocumentsManifest != nil {
			result = append(result, entry{
				path: m.DocumentsManifest.URI,
				kind: kindDocumentsManifest,
				open: bytesOpener(p.DocumentsManifest.Bytes()),
			})
		}
		if p.AnnotationsManifest != nil {
			result = append(result, entry{
				path: m.AnnotationsManifest.URI,
				kind: kindAnnotationsManifest,
				open: bytesOpener(p.AnnotationsManifest.Bytes()),
			})
		}
		if p.Signature != nil {
			result = append(result, entry{
				path: m.Signature.URI,
				kind: kindSignature,
				open: bytesOpener(p.Signature.Bytes()),
				sig:  p.Signature,
			})
		}
	}
	for _, d := range sc.Documents() {
		if !d.Writable() {
			continue
		}
		result = append(result, entry{path: d.Name(), kind: kindDocument, open: d.Open, doc: d})
	}
	for _, path := range sc.annotationPaths() {
		sam, ok := p.SingleAnnotationManifests[path]
		if !ok {
			continue
		}
		result = append(result, entry{path: path, kind: kindSingleAnnotationManifest, open: bytesOpener(sam.Bytes())})
	}
	for _, path := range sc.annotationPaths() {
		sam, ok := p.SingleAnnotationManifests[path]
		a, ok2 := p.Annotations[path]
		if !ok || !ok2 || !a.Present() {
			continue
		}
		result = append(result, entry{path: sam.Annotation.URI, kind: kindAnnotationData, open: a.Open})
	}
	for _, path := range sortedKeys(p.Raw) {
		result = append(result, entry{path: path, kind: kindUnknown, open: p.Raw[path].Open})
	}
	return result
}

// addSeeds records every indexed path of sc.
func (sc *SignatureContent) addSeeds(seeds index.Seeds) {
	p := &sc.p
	seeds.Add(index.Manifest, p.ManifestPath)
	if m := p.Manifest; m != nil {
		seeds.Add(index.DocumentsManifest, m.DocumentsManifest.URI)
		seeds.Add(index.AnnotationsManifest, m.AnnotationsManifest.URI)
		seeds.Add(index.Signature, m.Signature.URI)
	}
	if p.AnnotationsManifest != nil {
		for _, r := range p.AnnotationsManifest.Annotations {
			seeds.Add(index.SingleAnnotationManifest, r.URI)
		}
	}
	for _, path := range sortedKeys(p.SingleAnnotationManifests) {
		seeds.Add(index.Annotation, p.SingleAnnotationManifests[path].Annotation.URI)
	}
}
