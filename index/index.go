// Package index hands out the identifiers used to name new files inside a
// container, such as the 3 in "META-INF/manifest-3.tlv".
//
// There is one sequence of identifiers per kind of file. A provider is
// seeded with the file names already in a container, so the names it gives
// out do not clash with existing ones. Seeding fails if the existing names
// use a different scheme than the provider.
package index

import (
	"path"
	"strings"

	"github.com/pkg/errors"
)

// Kind is a kind of file named with an index.
type Kind int

// The kinds of indexed files.
const (
	DocumentsManifest Kind = iota
	Manifest
	AnnotationsManifest
	Signature
	SingleAnnotationManifest
	Annotation
	numKinds
)

var kindNames = [numKinds]string{
	"documents manifest",
	"manifest",
	"annotations manifest",
	"signature",
	"single annotation manifest",
	"annotation",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Seeds lists the paths already in use, by kind.
type Seeds map[Kind][]string

// Add records p as a path of kind k. Empty paths are ignored.
func (s Seeds) Add(k Kind, p string) {
	if p != "" {
		s[k] = append(s[k], p)
	}
}

// A Provider gives out new indexes.
type Provider interface {
	// Next returns an index for a new file of kind k. It differs from any
	// index of that kind seen when seeding or returned before.
	Next(k Kind) (string, error)
}

// Factory makes a provider seeded with existing paths.
type Factory func(Seeds) (Provider, error)

var (
	// ErrBadIndex means a path has no index, or one the provider cannot
	// understand.
	ErrBadIndex = errors.New("bad file index")

	// ErrIndexOverflow means an existing index is too large to continue
	// counting from.
	ErrIndexOverflow = errors.New("file index overflow")
)

// Segment returns the index part of a path: the part of the file name after
// the first '-' and before the last '.'.
func Segment(p string) (string, error) {
	name := path.Base(p)
	dash := strings.IndexByte(name, '-')
	dot := strings.LastIndexByte(name, '.')
	if dash < 0 || dot < 0 || dot <= dash+1 {
		return "", errors.Wrap(ErrBadIndex, p)
	}
	return name[dash+1 : dot], nil
}
