package verify

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ndlib/sigbag/container"
	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/manifest"
)

// Names of the built-in rules.
const (
	RuleContainerMimeType = "container-mimetype"
	RuleContentsExist     = "contents-existence"
	RuleUnknownFiles      = "unknown-files"

	RuleManifestExistence                 = "manifest-existence"
	RuleSignatureExistence                = "signature-existence"
	RuleSignatureIntegrity                = "signature-integrity"
	RuleSignatureVerification             = "signature-verification"
	RuleDocumentsManifestExistence        = "documents-manifest-existence"
	RuleDocumentsManifestIntegrity        = "documents-manifest-integrity"
	RuleDocumentExistence                 = "document-existence"
	RuleDocumentIntegrity                 = "document-integrity"
	RuleAnnotationsManifestExistence      = "annotations-manifest-existence"
	RuleAnnotationsManifestIntegrity      = "annotations-manifest-integrity"
	RuleSingleAnnotationManifestExistence = "single-annotation-manifest-existence"
	RuleSingleAnnotationManifestIntegrity = "single-annotation-manifest-integrity"
	RuleAnnotationExistence               = "annotation-existence"
	RuleAnnotationIntegrity               = "annotation-integrity"
)

// ContainerRules returns the built-in container rules in the order they run.
func ContainerRules() []ContainerRule {
	return []ContainerRule{
		NewContainerRule(RuleContentsExist, Fail, checkContentsExist),
		NewContainerRule(RuleContainerMimeType, Fail, checkMimeType),
		NewContainerRule(RuleUnknownFiles, Warning, checkUnknownFiles),
	}
}

// ContentRules returns the built-in content rules in the order they run.
func ContentRules() []ContentRule {
	rule := func(name string, state State, check func(*container.SignatureContent) Outcome, deps ...string) ContentRule {
		return NewContentRule(name, state, whole(check), deps...)
	}
	return []ContentRule{
		NewContentRule(RuleManifestExistence, Fail, checkManifestExistence),
		rule(RuleSignatureExistence, Fail, checkSignatureExistence),
		rule(RuleSignatureIntegrity, Fail, checkSignatureIntegrity,
			RuleSignatureExistence),
		rule(RuleSignatureVerification, Fail, checkSignatureVerification,
			RuleSignatureExistence, RuleSignatureIntegrity),
		rule(RuleDocumentsManifestExistence, Fail, checkDocumentsManifestExistence),
		rule(RuleDocumentsManifestIntegrity, Fail, checkDocumentsManifestIntegrity,
			RuleDocumentsManifestExistence),
		rule(RuleDocumentExistence, Warning, checkDocumentExistence,
			RuleDocumentsManifestExistence, RuleDocumentsManifestIntegrity),
		rule(RuleDocumentIntegrity, Fail, checkDocumentIntegrity,
			RuleDocumentsManifestExistence, RuleDocumentsManifestIntegrity),
		rule(RuleAnnotationsManifestExistence, Fail, checkAnnotationsManifestExistence),
		rule(RuleAnnotationsManifestIntegrity, Fail, checkAnnotationsManifestIntegrity,
			RuleAnnotationsManifestExistence),
		rule(RuleSingleAnnotationManifestExistence, Fail, checkSAMExistence,
			RuleAnnotationsManifestExistence, RuleAnnotationsManifestIntegrity),
		rule(RuleSingleAnnotationManifestIntegrity, Fail, checkSAMIntegrity,
			RuleAnnotationsManifestExistence, RuleAnnotationsManifestIntegrity),
		rule(RuleAnnotationExistence, Fail, checkAnnotationExistence,
			RuleAnnotationsManifestExistence, RuleAnnotationsManifestIntegrity),
		rule(RuleAnnotationIntegrity, Fail, checkAnnotationIntegrity,
			RuleAnnotationsManifestExistence, RuleAnnotationsManifestIntegrity),
	}
}

// whole skips contents whose manifest could not be decoded. Those are
// reported by the manifest existence rule.
func whole(check func(*container.SignatureContent) Outcome) func(*container.SignatureContent) Outcome {
	return func(sc *container.SignatureContent) Outcome {
		if sc.Partial() {
			return Continue()
		}
		return check(sc)
	}
}

func checkContentsExist(c *container.Container) Outcome {
	if len(c.Contents()) == 0 {
		return Terminate("container has no signed contents", fail("", "no manifests found"))
	}
	return Continue(pass("", fmt.Sprintf("%d contents", len(c.Contents()))))
}

func checkMimeType(c *container.Container) Outcome {
	if c.MimeType() != container.MimeType {
		return Continue(fail(container.MimeTypeName, "unexpected mimetype "+c.MimeType()))
	}
	return Continue(pass(container.MimeTypeName, ""))
}

func checkUnknownFiles(c *container.Container) Outcome {
	var fs []Finding
	for _, d := range c.Unknown() {
		fs = append(fs, fail(d.Name(), "file not referenced by any manifest"))
	}
	return Continue(fs...)
}

// checkManifestExistence ends the checks of a content whose manifest could
// not be decoded, since nothing else in it can be found.
func checkManifestExistence(sc *container.SignatureContent) Outcome {
	if sc.Partial() {
		return Terminate("manifest unreadable", fail(sc.ManifestPath(), "manifest could not be decoded"))
	}
	return Continue(pass(sc.ManifestPath(), ""))
}

func checkSignatureExistence(sc *container.SignatureContent) Outcome {
	path := sc.Manifest().Signature.URI
	return Continue(existence(sc, path, sc.Signature() != nil))
}

// existence reports whether the file at path was found and decoded.
func existence(sc *container.SignatureContent, path string, decoded bool) Finding {
	switch {
	case decoded:
		return pass(path, "")
	case sc.HasRaw(path):
		return fail(path, "present but unreadable")
	}
	return fail(path, "missing")
}

// manifestImprint hashes the manifest with the algorithm the signature used.
func manifestImprint(sc *container.SignatureContent) (digest.Imprint, error) {
	a := sc.Signature().SignedHash().Algorithm
	if !a.Supported() && sc.SignatureFactory() != nil {
		a = sc.SignatureFactory().Algorithm()
	}
	return digest.SumBytes(sc.Manifest().Bytes(), a)
}

func checkSignatureIntegrity(sc *container.SignatureContent) Outcome {
	if sc.Signature() == nil {
		return Continue()
	}
	path := sc.Manifest().Signature.URI
	got, err := manifestImprint(sc)
	if err != nil {
		return Continue(fail(path, err.Error()))
	}
	if !got.Equal(sc.Signature().SignedHash()) {
		return Continue(fail(path, fmt.Sprintf("signs %s, manifest is %s", sc.Signature().SignedHash(), got)))
	}
	return Continue(pass(path, ""))
}

func checkSignatureVerification(sc *container.SignatureContent) Outcome {
	if sc.Signature() == nil {
		return Continue()
	}
	path := sc.Manifest().Signature.URI
	f := sc.SignatureFactory()
	if f == nil {
		return Continue(fail(path, "no signature scheme configured"))
	}
	got, err := manifestImprint(sc)
	if err == nil {
		err = f.Verify(sc.Signature(), got)
	}
	if err != nil {
		return Continue(fail(path, err.Error()))
	}
	return Continue(pass(path, f.Type()))
}

// integrity hashes the file given by open and compares it with the imprints
// the reference records. Imprints of unsupported algorithms are skipped; a
// reference with no supported imprint fails.
func integrity(ref manifest.FileReference, open func() (io.ReadCloser, error)) Finding {
	var goals []digest.Imprint
	for _, h := range ref.Hashes {
		if h.Algorithm.Supported() {
			goals = append(goals, h)
		}
	}
	if len(goals) == 0 {
		return fail(ref.URI, "no supported hash algorithm")
	}
	rc, err := open()
	if err != nil {
		return fail(ref.URI, err.Error())
	}
	defer rc.Close()
	ok, err := digest.VerifyStream(rc, goals...)
	switch {
	case err != nil:
		return fail(ref.URI, err.Error())
	case !ok:
		return fail(ref.URI, "hash mismatch")
	}
	return pass(ref.URI, "")
}

func bytesOpener(b []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

func checkDocumentsManifestExistence(sc *container.SignatureContent) Outcome {
	path := sc.Manifest().DocumentsManifest.URI
	return Continue(existence(sc, path, sc.DocumentsManifest() != nil))
}

func checkDocumentsManifestIntegrity(sc *container.SignatureContent) Outcome {
	if sc.DocumentsManifest() == nil {
		return Continue()
	}
	return Continue(integrity(sc.Manifest().DocumentsManifest, bytesOpener(sc.DocumentsManifest().Bytes())))
}

func checkDocumentExistence(sc *container.SignatureContent) Outcome {
	if sc.DocumentsManifest() == nil {
		return Continue()
	}
	var fs []Finding
	for _, ref := range sc.DocumentsManifest().Documents {
		d, ok := sc.Document(ref.URI)
		if !ok || !d.Writable() {
			fs = append(fs, fail(ref.URI, "document not in container"))
			continue
		}
		fs = append(fs, pass(ref.URI, ""))
	}
	return Continue(fs...)
}

func checkDocumentIntegrity(sc *container.SignatureContent) Outcome {
	if sc.DocumentsManifest() == nil {
		return Continue()
	}
	var fs []Finding
	for _, ref := range sc.DocumentsManifest().Documents {
		d, ok := sc.Document(ref.URI)
		if !ok || !d.Writable() {
			continue
		}
		fs = append(fs, integrity(ref, d.Open))
	}
	return Continue(fs...)
}

func checkAnnotationsManifestExistence(sc *container.SignatureContent) Outcome {
	path := sc.Manifest().AnnotationsManifest.URI
	return Continue(existence(sc, path, sc.AnnotationsManifest() != nil))
}

func checkAnnotationsManifestIntegrity(sc *container.SignatureContent) Outcome {
	if sc.AnnotationsManifest() == nil {
		return Continue()
	}
	return Continue(integrity(sc.Manifest().AnnotationsManifest, bytesOpener(sc.AnnotationsManifest().Bytes())))
}

// checkSAMExistence applies the removability of each annotation to its
// single annotation manifest: only fully removable annotations may lose it.
func checkSAMExistence(sc *container.SignatureContent) Outcome {
	if sc.AnnotationsManifest() == nil {
		return Continue()
	}
	var fs []Finding
	for _, info := range sc.AnnotationsManifest().Annotations {
		if _, ok := sc.SingleAnnotationManifest(info.URI); ok {
			fs = append(fs, pass(info.URI, ""))
			continue
		}
		if sc.HasRaw(info.URI) {
			fs = append(fs, fail(info.URI, "present but unreadable"))
			continue
		}
		typ := manifest.AnnotationType(info.MimeType)
		if typ == manifest.FullyRemovable {
			fs = append(fs, pass(info.URI, "removed"))
			continue
		}
		fs = append(fs, fail(info.URI, fmt.Sprintf("missing manifest of %s annotation", typ)))
	}
	return Continue(fs...)
}

func checkSAMIntegrity(sc *container.SignatureContent) Outcome {
	if sc.AnnotationsManifest() == nil {
		return Continue()
	}
	var fs []Finding
	dmRef := sc.Manifest().DocumentsManifest
	for _, info := range sc.AnnotationsManifest().Annotations {
		sam, ok := sc.SingleAnnotationManifest(info.URI)
		if !ok {
			continue
		}
		f := integrity(info, bytesOpener(sam.Bytes()))
		switch {
		case !f.OK:
		case !sam.DocumentsManifest.Equal(dmRef):
			f = fail(info.URI, "annotates another documents manifest")
		case string(sam.Type()) != info.MimeType:
			f = fail(info.URI, fmt.Sprintf("type %s does not match %s", sam.Type(), info.MimeType))
		}
		fs = append(fs, f)
	}
	return Continue(fs...)
}

// checkAnnotationExistence looks for the payload of every annotation whose
// manifest is present. Only non-removable annotations must keep it.
func checkAnnotationExistence(sc *container.SignatureContent) Outcome {
	if sc.AnnotationsManifest() == nil {
		return Continue()
	}
	var fs []Finding
	for _, info := range sc.AnnotationsManifest().Annotations {
		sam, ok := sc.SingleAnnotationManifest(info.URI)
		if !ok {
			continue
		}
		path := sam.Annotation.URI
		if a, ok := sc.Annotation(info.URI); ok && a.Present() {
			fs = append(fs, pass(path, ""))
			continue
		}
		if sam.Type() == manifest.NonRemovable {
			fs = append(fs, fail(path, "missing payload of non-removable annotation"))
			continue
		}
		fs = append(fs, pass(path, "removed"))
	}
	return Continue(fs...)
}

func checkAnnotationIntegrity(sc *container.SignatureContent) Outcome {
	if sc.AnnotationsManifest() == nil {
		return Continue()
	}
	var fs []Finding
	for _, info := range sc.AnnotationsManifest().Annotations {
		sam, ok := sc.SingleAnnotationManifest(info.URI)
		if !ok {
			continue
		}
		a, ok := sc.Annotation(info.URI)
		if !ok || !a.Present() {
			continue
		}
		fs = append(fs, integrity(sam.Annotation, a.Open))
	}
	return Continue(fs...)
}
