package manifest

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/tlv"
)

// A Factory creates manifests from references and reads them back from
// their encoded form. Containers only mix content made by factories of the
// same Type.
type Factory interface {
	// Type names the manifest scheme, e.g. "tlv".
	Type() string

	// Extension is the file extension used for manifest files.
	Extension() string

	CreateManifest(documents, annotations FileReference, sig SignatureReference) (*Manifest, error)
	CreateDocumentsManifest(documents []FileReference) (*DocumentsManifest, error)
	CreateAnnotationsManifest(annotations []FileReference) (*AnnotationsManifest, error)
	CreateSingleAnnotationManifest(documents, annotation FileReference) (*SingleAnnotationManifest, error)

	ReadManifest(r io.Reader) (*Manifest, error)
	ReadDocumentsManifest(r io.Reader) (*DocumentsManifest, error)
	ReadAnnotationsManifest(r io.Reader) (*AnnotationsManifest, error)
	ReadSingleAnnotationManifest(r io.Reader) (*SingleAnnotationManifest, error)
}

// Magic prefixes of the manifest files.
var (
	magicManifest                 = []byte("SIGBMFST")
	magicDocumentsManifest        = []byte("SIGBDAMF")
	magicAnnotationsManifest      = []byte("SIGBANMF")
	magicSingleAnnotationManifest = []byte("SIGBANNT")
)

// ErrBadMagic means a manifest file does not start with the expected magic
// bytes for its kind.
var ErrBadMagic = errors.New("bad manifest magic")

// TLVFactory encodes manifests as a magic prefix followed by TLV elements.
type TLVFactory struct{}

var _ Factory = TLVFactory{}

// Type returns "tlv".
func (TLVFactory) Type() string { return "tlv" }

// Extension returns "tlv".
func (TLVFactory) Extension() string { return "tlv" }

func encodeFile(magic []byte, elems ...*tlv.Element) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic)
	for _, e := range elems {
		if _, err := e.WriteTo(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// readFile checks the magic and splits the rest into elements.
func readFile(r io.Reader, magic []byte, what string) ([]byte, []*tlv.Element, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", what)
	}
	if !bytes.HasPrefix(raw, magic) {
		return nil, nil, errors.Wrap(ErrBadMagic, what)
	}
	elems, err := tlv.DecodeAll(raw[len(magic):])
	if err != nil {
		return nil, nil, errors.Wrap(err, what)
	}
	return raw, elems, nil
}

// CreateManifest builds and encodes a Manifest.
func (TLVFactory) CreateManifest(documents, annotations FileReference, sig SignatureReference) (*Manifest, error) {
	if err := documentsManifestRef.validate(documents); err != nil {
		return nil, err
	}
	if err := annotationsManifestRef.validate(annotations); err != nil {
		return nil, err
	}
	d, err := documentsManifestRef.encode(documents)
	if err != nil {
		return nil, err
	}
	a, err := annotationsManifestRef.encode(annotations)
	if err != nil {
		return nil, err
	}
	s, err := encodeSignatureRef(sig)
	if err != nil {
		return nil, err
	}
	raw, err := encodeFile(magicManifest, d, a, s)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		DocumentsManifest:   documents,
		AnnotationsManifest: annotations,
		Signature:           sig,
		raw:                 raw,
	}, nil
}

// CreateDocumentsManifest builds and encodes a DocumentsManifest. At least
// one document is needed and uris must be unique.
func (TLVFactory) CreateDocumentsManifest(documents []FileReference) (*DocumentsManifest, error) {
	if len(documents) == 0 {
		return nil, &tlv.StructureError{Structure: "documents manifest", Type: typeDocumentRef, Missing: true}
	}
	if err := checkUnique(documents); err != nil {
		return nil, err
	}
	var elems []*tlv.Element
	for _, d := range documents {
		if err := documentRef.validate(d); err != nil {
			return nil, err
		}
		e, err := documentRef.encode(d)
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	raw, err := encodeFile(magicDocumentsManifest, elems...)
	if err != nil {
		return nil, err
	}
	return &DocumentsManifest{Documents: append([]FileReference(nil), documents...), raw: raw}, nil
}

// CreateAnnotationsManifest builds and encodes an AnnotationsManifest. The
// list may be empty.
func (TLVFactory) CreateAnnotationsManifest(annotations []FileReference) (*AnnotationsManifest, error) {
	if err := checkUnique(annotations); err != nil {
		return nil, err
	}
	var elems []*tlv.Element
	for _, a := range annotations {
		if err := annotationInfoRef.validate(a); err != nil {
			return nil, err
		}
		if _, err := ParseAnnotationType(a.MimeType); err != nil {
			return nil, err
		}
		e, err := annotationInfoRef.encode(a)
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	raw, err := encodeFile(magicAnnotationsManifest, elems...)
	if err != nil {
		return nil, err
	}
	return &AnnotationsManifest{Annotations: append([]FileReference(nil), annotations...), raw: raw}, nil
}

// CreateSingleAnnotationManifest builds and encodes a
// SingleAnnotationManifest.
func (TLVFactory) CreateSingleAnnotationManifest(documents, annotation FileReference) (*SingleAnnotationManifest, error) {
	if err := documentsManifestRef.validate(documents); err != nil {
		return nil, err
	}
	if err := annotationDataRef.validate(annotation); err != nil {
		return nil, err
	}
	if _, err := ParseAnnotationType(annotation.MimeType); err != nil {
		return nil, err
	}
	d, err := documentsManifestRef.encode(documents)
	if err != nil {
		return nil, err
	}
	a, err := annotationDataRef.encode(annotation)
	if err != nil {
		return nil, err
	}
	raw, err := encodeFile(magicSingleAnnotationManifest, d, a)
	if err != nil {
		return nil, err
	}
	return &SingleAnnotationManifest{DocumentsManifest: documents, Annotation: annotation, raw: raw}, nil
}

// ReadManifest decodes a Manifest.
func (TLVFactory) ReadManifest(r io.Reader) (*Manifest, error) {
	raw, elems, err := readFile(r, magicManifest, "manifest")
	if err != nil {
		return nil, err
	}
	m := &Manifest{raw: raw}
	err = tlv.Walk("manifest", elems, func(e *tlv.Element) (bool, error) {
		var err error
		switch e.Type {
		case typeDocumentsManifestRef:
			m.DocumentsManifest, err = documentsManifestRef.decode(e)
		case typeAnnotationsManifestRef:
			m.AnnotationsManifest, err = annotationsManifestRef.decode(e)
		case typeSignatureRef:
			m.Signature, err = decodeSignatureRef(e)
		default:
			return false, nil
		}
		return true, err
	}, typeDocumentsManifestRef, typeAnnotationsManifestRef, typeSignatureRef)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ReadDocumentsManifest decodes a DocumentsManifest.
func (TLVFactory) ReadDocumentsManifest(r io.Reader) (*DocumentsManifest, error) {
	raw, elems, err := readFile(r, magicDocumentsManifest, "documents manifest")
	if err != nil {
		return nil, err
	}
	m := &DocumentsManifest{raw: raw}
	err = tlv.Walk("documents manifest", elems, func(e *tlv.Element) (bool, error) {
		if e.Type != typeDocumentRef {
			return false, nil
		}
		ref, err := documentRef.decode(e)
		m.Documents = append(m.Documents, ref)
		return true, err
	}, typeDocumentRef)
	if err == nil {
		err = checkUnique(m.Documents)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ReadAnnotationsManifest decodes an AnnotationsManifest.
func (TLVFactory) ReadAnnotationsManifest(r io.Reader) (*AnnotationsManifest, error) {
	raw, elems, err := readFile(r, magicAnnotationsManifest, "annotations manifest")
	if err != nil {
		return nil, err
	}
	m := &AnnotationsManifest{raw: raw}
	err = tlv.Walk("annotations manifest", elems, func(e *tlv.Element) (bool, error) {
		if e.Type != typeAnnotationInfoRef {
			return false, nil
		}
		ref, err := annotationInfoRef.decode(e)
		if err == nil {
			_, err = ParseAnnotationType(ref.MimeType)
		}
		m.Annotations = append(m.Annotations, ref)
		return true, err
	})
	if err == nil {
		err = checkUnique(m.Annotations)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ReadSingleAnnotationManifest decodes a SingleAnnotationManifest.
func (TLVFactory) ReadSingleAnnotationManifest(r io.Reader) (*SingleAnnotationManifest, error) {
	raw, elems, err := readFile(r, magicSingleAnnotationManifest, "single annotation manifest")
	if err != nil {
		return nil, err
	}
	m := &SingleAnnotationManifest{raw: raw}
	err = tlv.Walk("single annotation manifest", elems, func(e *tlv.Element) (bool, error) {
		var err error
		switch e.Type {
		case typeDocumentsManifestRef:
			m.DocumentsManifest, err = documentsManifestRef.decode(e)
		case typeAnnotationDataRef:
			m.Annotation, err = annotationDataRef.decode(e)
			if err == nil {
				_, err = ParseAnnotationType(m.Annotation.MimeType)
			}
		default:
			return false, nil
		}
		return true, err
	}, typeDocumentsManifestRef, typeAnnotationDataRef)
	if err != nil {
		return nil, err
	}
	return m, nil
}
