package container

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	// MimeTypeName is the name of the archive entry holding the mime type.
	MimeTypeName = "mimetype"

	// MimeType is the content of the mimetype entry.
	MimeType = "application/x-sigbag"

	// MetaInf is the directory holding everything but the documents.
	MetaInf = "META-INF/"

	// AnnotationDataExt is the file extension of annotation payloads.
	AnnotationDataExt = "dat"
)

// Path templates. Each takes an index and a file extension.

// ManifestPath is the archive path of the manifest with index idx.
func ManifestPath(idx, ext string) string {
	return MetaInf + "manifest-" + idx + "." + ext
}

// DocumentsManifestPath is the archive path of a documents manifest.
func DocumentsManifestPath(idx, ext string) string {
	return MetaInf + "datamanifest-" + idx + "." + ext
}

// AnnotationsManifestPath is the archive path of an annotations manifest.
func AnnotationsManifestPath(idx, ext string) string {
	return MetaInf + "annotmanifest-" + idx + "." + ext
}

// SingleAnnotationManifestPath is the archive path of the manifest of one
// annotation. It shares its index with the annotation's payload.
func SingleAnnotationManifestPath(idx, ext string) string {
	return MetaInf + "annotation-" + idx + "." + ext
}

// AnnotationDataPath is the archive path of an annotation payload. Payloads
// always use the extension AnnotationDataExt.
func AnnotationDataPath(idx string) string {
	return MetaInf + "annotation-" + idx + "." + AnnotationDataExt
}

// SignaturePath is the archive path of a signature. The extension comes
// from the signature factory.
func SignaturePath(idx, ext string) string {
	return MetaInf + "signature-" + idx + "." + ext
}

// ErrReservedName means a document would be stored where the reader looks
// for something else.
var ErrReservedName = errors.New("document name is reserved")

// checkDocumentName rejects names the reader would not take as a document.
func checkDocumentName(name string) error {
	if name == MimeTypeName || strings.HasPrefix(name, MetaInf) {
		return errors.Wrap(ErrReservedName, name)
	}
	return nil
}

// entryKind is what the reader decides an archive entry is, from its name.
type entryKind int

const (
	kindUnknown entryKind = iota
	kindMimeType
	kindManifest
	kindDocumentsManifest
	kindAnnotationsManifest
	kindSingleAnnotationManifest
	kindAnnotationData
	kindSignature
	kindDocument
)

var kindNames = map[entryKind]string{
	kindUnknown:                  "unknown file",
	kindMimeType:                 "mimetype",
	kindManifest:                 "manifest",
	kindDocumentsManifest:        "documents manifest",
	kindAnnotationsManifest:      "annotations manifest",
	kindSingleAnnotationManifest: "single annotation manifest",
	kindAnnotationData:           "annotation",
	kindSignature:                "signature",
	kindDocument:                 "document",
}

func (k entryKind) String() string { return kindNames[k] }

// handler claims archive entries whose names match.
type handler struct {
	kind  entryKind
	match func(name string) bool
}

func metaInfPattern(prefix, ext string) func(string) bool {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(MetaInf+prefix+"-") + `[^/]+\.` + regexp.QuoteMeta(ext) + "$")
	return re.MatchString
}

// handlers returns the entry handlers for the given manifest and signature
// file extensions, in the order they are tried.
func handlers(manifestExt, signatureExt string) []handler {
	return []handler{
		{kindMimeType, func(name string) bool { return name == MimeTypeName }},
		{kindManifest, metaInfPattern("manifest", manifestExt)},
		{kindDocumentsManifest, metaInfPattern("datamanifest", manifestExt)},
		{kindAnnotationsManifest, metaInfPattern("annotmanifest", manifestExt)},
		{kindSingleAnnotationManifest, metaInfPattern("annotation", manifestExt)},
		{kindAnnotationData, metaInfPattern("annotation", AnnotationDataExt)},
		{kindSignature, metaInfPattern("signature", signatureExt)},
		{kindDocument, func(name string) bool { return !strings.HasPrefix(name, MetaInf) }},
	}
}

func classify(hs []handler, name string) entryKind {
	for _, h := range hs {
		if h.match(name) {
			return h.kind
		}
	}
	return kindUnknown
}
