package container

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/signature"
)

// MergeKind says what clashed when two containers could not be merged.
type MergeKind int

// The kinds of merge conflict.
const (
	MimeTypeClash MergeKind = iota
	ManifestClash
	DocumentsManifestClash
	AnnotationsManifestClash
	SignatureClash
	SingleAnnotationManifestClash
	AnnotationClash
	DocumentClash
	UnknownFileClash
	ManifestFactoryMismatch
	SignatureFactoryMismatch
)

var mergeKindNames = map[MergeKind]string{
	MimeTypeClash:                 "mimetype",
	ManifestClash:                 "manifest",
	DocumentsManifestClash:        "documents manifest",
	AnnotationsManifestClash:      "annotations manifest",
	SignatureClash:                "signature",
	SingleAnnotationManifestClash: "single annotation manifest",
	AnnotationClash:               "annotation",
	DocumentClash:                 "document",
	UnknownFileClash:              "unknown file",
	ManifestFactoryMismatch:       "manifest factory",
	SignatureFactoryMismatch:      "signature factory",
}

func (k MergeKind) String() string { return mergeKindNames[k] }

var clashKinds = map[entryKind]MergeKind{
	kindManifest:                 ManifestClash,
	kindDocumentsManifest:        DocumentsManifestClash,
	kindAnnotationsManifest:      AnnotationsManifestClash,
	kindSignature:                SignatureClash,
	kindSingleAnnotationManifest: SingleAnnotationManifestClash,
	kindAnnotationData:           AnnotationClash,
	kindDocument:                 DocumentClash,
	kindUnknown:                  UnknownFileClash,
}

// errNoCommonHash means two references to a document share no hash
// algorithm, so they cannot be compared.
var errNoCommonHash = errors.New("no hash algorithm in common")

// MergeError means two containers hold different content at the same path,
// or use different manifest or signature schemes.
type MergeError struct {
	Kind MergeKind
	Path string
	Err  error // set if the content could not be compared
}

func (e *MergeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge: %s %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("merge: %s %s differs", e.Kind, e.Path)
}

// files maps every path of c to the entry written there.
func files(c *Container) map[string]entry {
	result := make(map[string]entry)
	for _, sc := range c.contents {
		for _, e := range sc.entries() {
			if _, ok := result[e.path]; !ok {
				result[e.path] = e
			}
		}
	}
	for _, d := range c.unknown {
		if _, ok := result[d.Name()]; !ok {
			result[d.Name()] = entry{path: d.Name(), kind: kindUnknown, open: d.Open}
		}
	}
	return result
}

// CheckMerge returns a *MergeError if a and b cannot be merged: if they use
// different manifest or signature schemes, or if any path in both holds
// different bytes. It only reads the containers.
func CheckMerge(a, b *Container) error {
	if a.mimeType != b.mimeType {
		return &MergeError{Kind: MimeTypeClash, Path: MimeTypeName}
	}
	if err := checkFactories(a, b); err != nil {
		return err
	}
	fa := files(a)
	fb := files(b)
	for _, path := range comparisonOrder(fa) {
		ea := fa[path]
		eb, ok := fb[path]
		if !ok {
			continue
		}
		kind := clashKinds[ea.kind]
		if ea.kind != eb.kind {
			return &MergeError{Kind: kind, Path: path}
		}
		same, err := sameContent(ea, eb)
		if err != nil {
			return &MergeError{Kind: kind, Path: path, Err: err}
		}
		if !same {
			return &MergeError{Kind: kind, Path: path}
		}
	}
	if err := checkDetached(a, b, fb); err != nil {
		return err
	}
	return checkDetached(b, a, fa)
}

// claims maps each document name to every reference listing it in the
// documents manifests of c.
func claims(c *Container) map[string][]manifest.FileReference {
	result := make(map[string][]manifest.FileReference)
	for _, sc := range c.contents {
		if dm := sc.DocumentsManifest(); dm != nil {
			for _, ref := range dm.Documents {
				result[ref.URI] = append(result[ref.URI], ref)
			}
		}
	}
	return result
}

// checkDetached judges the documents x lists but does not hold. Bytes for
// the same name in other must match the hash x recorded, and if other does
// not hold them either, the recorded hashes must agree.
func checkDetached(x, other *Container, fo map[string]entry) error {
	co := claims(other)
	for _, sc := range x.contents {
		dm := sc.DocumentsManifest()
		if dm == nil {
			continue
		}
		for _, ref := range dm.Documents {
			if d, ok := sc.Document(ref.URI); ok && d.Writable() {
				continue
			}
			if e, ok := fo[ref.URI]; ok {
				if e.kind != kindDocument {
					return &MergeError{Kind: DocumentClash, Path: ref.URI}
				}
				same, err := matchesRef(e, ref)
				if err != nil {
					return &MergeError{Kind: DocumentClash, Path: ref.URI, Err: err}
				}
				if !same {
					return &MergeError{Kind: DocumentClash, Path: ref.URI}
				}
				continue
			}
			for _, theirs := range co[ref.URI] {
				same, err := sameHashes(ref, theirs)
				if err != nil {
					return &MergeError{Kind: DocumentClash, Path: ref.URI, Err: err}
				}
				if !same {
					return &MergeError{Kind: DocumentClash, Path: ref.URI}
				}
			}
		}
	}
	return nil
}

// matchesRef hashes e with the first supported algorithm of ref.
func matchesRef(e entry, ref manifest.FileReference) (bool, error) {
	for _, goal := range ref.Hashes {
		if !goal.Algorithm.Supported() {
			continue
		}
		h, err := hashOpener(e.open, goal.Algorithm)
		if err != nil {
			return false, err
		}
		return h.Equal(goal), nil
	}
	return false, errors.Wrap(digest.ErrUnsupportedAlgorithm, ref.URI)
}

func sameHashes(a, b manifest.FileReference) (bool, error) {
	for _, h := range a.Hashes {
		if hb, ok := b.HashFor(h.Algorithm); ok {
			return h.Equal(hb), nil
		}
	}
	return false, errNoCommonHash
}

// comparison order of the kinds of entry. Payloads come before the
// manifests listing them, so a clash is reported at the file which caused
// it rather than at a manifest which differs because of it.
var comparePriority = map[entryKind]int{
	kindDocument:                 0,
	kindAnnotationData:           1,
	kindSingleAnnotationManifest: 2,
	kindDocumentsManifest:        3,
	kindAnnotationsManifest:      4,
	kindSignature:                5,
	kindManifest:                 6,
	kindUnknown:                  7,
}

func comparisonOrder(fs map[string]entry) []string {
	paths := sortedKeys(fs)
	sort.SliceStable(paths, func(i, j int) bool {
		return comparePriority[fs[paths[i]].kind] < comparePriority[fs[paths[j]].kind]
	})
	return paths
}

func checkFactories(a, b *Container) error {
	if len(a.contents) == 0 || len(b.contents) == 0 {
		return nil
	}
	first := a.contents[0]
	for _, sc := range b.contents {
		if sc.ManifestFactory().Type() != first.ManifestFactory().Type() {
			return &MergeError{Kind: ManifestFactoryMismatch, Path: sc.ManifestPath()}
		}
		if sc.SignatureFactory().Type() != first.SignatureFactory().Type() {
			return &MergeError{Kind: SignatureFactoryMismatch, Path: sc.ManifestPath()}
		}
	}
	return nil
}

// sameContent compares two entries. Signatures are compared as signatures,
// everything else by hashing both streams.
func sameContent(a, b entry) (bool, error) {
	if a.sig != nil && b.sig != nil {
		return signature.Equal(a.sig, b.sig), nil
	}
	ha, err := hashOpener(a.open, digest.SHA256)
	if err != nil {
		return false, err
	}
	hb, err := hashOpener(b.open, digest.SHA256)
	if err != nil {
		return false, err
	}
	return ha.Equal(hb), nil
}

// Merge checks a and b can be merged and returns a container holding the
// contents of both. Contents and unknown files of b which are already in a
// are not repeated. Neither a nor b is changed. The result owns a and b:
// closing it closes them.
func Merge(a, b *Container) (*Container, error) {
	if err := CheckMerge(a, b); err != nil {
		return nil, err
	}
	contents := a.Contents()
	have := make(map[string]bool)
	for _, sc := range contents {
		have[sc.ManifestPath()] = true
	}
	for _, sc := range b.contents {
		if !have[sc.ManifestPath()] {
			contents = append(contents, sc)
		}
	}
	sortContents(contents)

	unknown := a.Unknown()
	inA := files(a)
	for _, d := range b.unknown {
		if _, ok := inA[d.Name()]; !ok {
			unknown = append(unknown, d)
		}
	}
	return derive(a.mimeType, contents, unknown, a, b), nil
}

func sortContents(contents []*SignatureContent) {
	sort.SliceStable(contents, func(i, j int) bool {
		return indexLess(contents[i].ManifestPath(), contents[j].ManifestPath())
	})
}

// IsMergeError is true if err is caused by a *MergeError.
func IsMergeError(err error) bool {
	var me *MergeError
	return errors.As(err, &me)
}
