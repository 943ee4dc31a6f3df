package manifest

import (
	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/tlv"
)

// FileReference points at one file inside the container, and records the
// hashes and type the file is expected to have.
type FileReference struct {
	URI      string
	Hashes   []digest.Imprint
	MimeType string // for annotation references this is the AnnotationType
	Domain   string // only used by annotation references
}

// Hash returns the first recorded hash, or the zero Imprint.
func (r FileReference) Hash() digest.Imprint {
	if len(r.Hashes) == 0 {
		return digest.Imprint{}
	}
	return r.Hashes[0]
}

// HashFor returns the recorded hash for the algorithm a, if any.
func (r FileReference) HashFor(a digest.Algorithm) (digest.Imprint, bool) {
	for _, h := range r.Hashes {
		if h.Algorithm == a {
			return h, true
		}
	}
	return digest.Imprint{}, false
}

// Equal is true if both references have the same uri, type, domain and the
// same hashes in the same order.
func (r FileReference) Equal(other FileReference) bool {
	if r.URI != other.URI || r.MimeType != other.MimeType || r.Domain != other.Domain {
		return false
	}
	if len(r.Hashes) != len(other.Hashes) {
		return false
	}
	for i := range r.Hashes {
		if !r.Hashes[i].Equal(other.Hashes[i]) {
			return false
		}
	}
	return true
}

// SignatureReference points at the signature file of a manifest. It has no
// hash since the signature is computed over the manifest holding it.
type SignatureReference struct {
	URI  string
	Type string
}

// Element types inside a reference.
const (
	elemURI    uint16 = 0x01
	elemHash   uint16 = 0x02
	elemType   uint16 = 0x03
	elemDomain uint16 = 0x04
)

// refKind describes how one kind of reference is named and which children
// it must have.
type refKind struct {
	name      string
	typ       uint16
	mandatory []uint16
}

var (
	documentsManifestRef   = refKind{"documents manifest reference", typeDocumentsManifestRef, []uint16{elemURI, elemHash, elemType}}
	annotationsManifestRef = refKind{"annotations manifest reference", typeAnnotationsManifestRef, []uint16{elemURI, elemHash, elemType}}
	signatureRef           = refKind{"signature reference", typeSignatureRef, []uint16{elemURI, elemType}}
	documentRef            = refKind{"document reference", typeDocumentRef, []uint16{elemURI, elemHash, elemType}}
	annotationInfoRef      = refKind{"annotation info reference", typeAnnotationInfoRef, []uint16{elemURI, elemHash, elemType}}
	annotationDataRef      = refKind{"annotation data reference", typeAnnotationDataRef, []uint16{elemURI, elemHash, elemType, elemDomain}}
)

func (k refKind) encode(r FileReference) (*tlv.Element, error) {
	children := []*tlv.Element{tlv.NewString(elemURI, r.URI)}
	for _, h := range r.Hashes {
		children = append(children, tlv.New(elemHash, true, h.Bytes()))
	}
	if r.MimeType != "" {
		children = append(children, tlv.NewString(elemType, r.MimeType))
	}
	if r.Domain != "" {
		children = append(children, tlv.NewString(elemDomain, r.Domain))
	}
	return tlv.NewComposite(k.typ, children...)
}

// validate checks r has every mandatory field before it is encoded, so that
// a manifest we write can always be read back.
func (k refKind) validate(r FileReference) error {
	for _, t := range k.mandatory {
		var missing bool
		switch t {
		case elemURI:
			missing = r.URI == ""
		case elemHash:
			missing = len(r.Hashes) == 0
		case elemType:
			missing = r.MimeType == ""
		case elemDomain:
			missing = r.Domain == ""
		}
		if missing {
			return &tlv.StructureError{Structure: k.name, Type: t, Missing: true}
		}
	}
	return nil
}

func (k refKind) decode(e *tlv.Element) (FileReference, error) {
	var r FileReference
	err := tlv.WalkComposite(k.name, e, func(c *tlv.Element) (bool, error) {
		var err error
		switch c.Type {
		case elemURI:
			r.URI, err = c.Text()
		case elemHash:
			var h digest.Imprint
			h, err = digest.ParseImprint(c.Value)
			r.Hashes = append(r.Hashes, h)
		case elemType:
			r.MimeType, err = c.Text()
		case elemDomain:
			r.Domain, err = c.Text()
		default:
			return false, nil
		}
		return true, err
	}, k.mandatory...)
	return r, err
}

func encodeSignatureRef(s SignatureReference) (*tlv.Element, error) {
	if s.URI == "" {
		return nil, &tlv.StructureError{Structure: signatureRef.name, Type: elemURI, Missing: true}
	}
	if s.Type == "" {
		return nil, &tlv.StructureError{Structure: signatureRef.name, Type: elemType, Missing: true}
	}
	return tlv.NewComposite(typeSignatureRef,
		tlv.NewString(elemURI, s.URI),
		tlv.NewString(elemType, s.Type))
}

func decodeSignatureRef(e *tlv.Element) (SignatureReference, error) {
	r, err := signatureRef.decode(e)
	return SignatureReference{URI: r.URI, Type: r.MimeType}, err
}

// ErrDuplicateURI means a manifest lists the same uri more than once.
var ErrDuplicateURI = errors.New("duplicate uri in manifest")

func checkUnique(refs []FileReference) error {
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if seen[r.URI] {
			return errors.Wrap(ErrDuplicateURI, r.URI)
		}
		seen[r.URI] = true
	}
	return nil
}
