// Package manifest implements the records linking the pieces of one signed
// unit of a container together.
//
// A Manifest is the root record and is what gets signed. It points at a
// DocumentsManifest, which lists every signed document with its hash, and at
// an AnnotationsManifest, which lists one SingleAnnotationManifest per
// annotation. Each SingleAnnotationManifest ties one annotation's payload to
// the DocumentsManifest it annotates. Since every link carries the hash of
// the file it points at, signing the Manifest covers all of them.
//
// Each record can be made two ways: from references computed over real
// content when a container is being built, or by decoding bytes read from an
// archive. Both give equal references.
package manifest

import (
	"fmt"

	"github.com/pkg/errors"
)

// Top-level element types inside the manifest files.
const (
	typeDocumentsManifestRef   uint16 = 0x01
	typeAnnotationsManifestRef uint16 = 0x02
	typeSignatureRef           uint16 = 0x03
	typeDocumentRef            uint16 = 0x05
	typeAnnotationInfoRef      uint16 = 0x06
	typeAnnotationDataRef      uint16 = 0x07
)

// Mime types recorded in references to the manifests themselves.
const (
	DocumentsManifestType   = "application/x-sigbag-documents-manifest"
	AnnotationsManifestType = "application/x-sigbag-annotations-manifest"
)

// AnnotationType says whether an annotation may be removed from a container
// without breaking its signature.
type AnnotationType string

// The annotation types.
const (
	// FullyRemovable annotations may lose both their payload and their
	// single annotation manifest.
	FullyRemovable AnnotationType = "fully-removable"

	// ValueRemovable annotations may lose their payload, but the single
	// annotation manifest must stay.
	ValueRemovable AnnotationType = "value-removable"

	// NonRemovable annotations must be kept whole.
	NonRemovable AnnotationType = "non-removable"
)

// ErrBadAnnotationType means a string is not one of the annotation types.
var ErrBadAnnotationType = errors.New("unknown annotation type")

// ParseAnnotationType converts a string into an AnnotationType. The match
// is exact, so a manifest can only ever hold one spelling of each type.
func ParseAnnotationType(s string) (AnnotationType, error) {
	switch t := AnnotationType(s); t {
	case FullyRemovable, ValueRemovable, NonRemovable:
		return t, nil
	}
	return "", errors.Wrap(ErrBadAnnotationType, s)
}

// Manifest is the root record for one signature.
type Manifest struct {
	DocumentsManifest   FileReference
	AnnotationsManifest FileReference
	Signature           SignatureReference
	raw                 []byte
}

// Bytes returns the encoded form of the manifest. For a decoded manifest
// these are exactly the bytes it was decoded from.
func (m *Manifest) Bytes() []byte { return m.raw }

// DocumentsManifest lists the documents signed by one signature.
type DocumentsManifest struct {
	Documents []FileReference
	raw       []byte
}

// Bytes returns the encoded form of the manifest.
func (m *DocumentsManifest) Bytes() []byte { return m.raw }

// Find returns the reference for the document with the given uri.
func (m *DocumentsManifest) Find(uri string) (FileReference, bool) {
	for _, r := range m.Documents {
		if r.URI == uri {
			return r, true
		}
	}
	return FileReference{}, false
}

// AnnotationsManifest lists the single annotation manifests of one signature.
// The MimeType of each reference holds the annotation's AnnotationType.
type AnnotationsManifest struct {
	Annotations []FileReference
	raw         []byte
}

// Bytes returns the encoded form of the manifest.
func (m *AnnotationsManifest) Bytes() []byte { return m.raw }

// SingleAnnotationManifest links one annotation payload to the documents
// manifest it annotates.
type SingleAnnotationManifest struct {
	DocumentsManifest FileReference
	Annotation        FileReference // MimeType holds the AnnotationType
	raw               []byte
}

// Bytes returns the encoded form of the manifest.
func (m *SingleAnnotationManifest) Bytes() []byte { return m.raw }

// Type returns the annotation type recorded in the manifest.
func (m *SingleAnnotationManifest) Type() AnnotationType {
	return AnnotationType(m.Annotation.MimeType)
}

// Equal compares two manifests by their references. The encoded bytes are
// not compared, since a decoded manifest may carry unknown non-critical
// elements the encoder would not write.
func (m *Manifest) Equal(o *Manifest) bool {
	return m.DocumentsManifest.Equal(o.DocumentsManifest) &&
		m.AnnotationsManifest.Equal(o.AnnotationsManifest) &&
		m.Signature == o.Signature
}

// Equal compares two documents manifests by their references.
func (m *DocumentsManifest) Equal(o *DocumentsManifest) bool {
	return refsEqual(m.Documents, o.Documents)
}

// Equal compares two annotations manifests by their references.
func (m *AnnotationsManifest) Equal(o *AnnotationsManifest) bool {
	return refsEqual(m.Annotations, o.Annotations)
}

// Equal compares two single annotation manifests by their references.
func (m *SingleAnnotationManifest) Equal(o *SingleAnnotationManifest) bool {
	return m.DocumentsManifest.Equal(o.DocumentsManifest) && m.Annotation.Equal(o.Annotation)
}

func refsEqual(a, b []FileReference) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func (m *Manifest) String() string {
	return fmt.Sprintf("manifest(documents=%s annotations=%s signature=%s)",
		m.DocumentsManifest.URI, m.AnnotationsManifest.URI, m.Signature.URI)
}
