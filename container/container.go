// Package container reads, writes, builds and merges signed containers.
//
// A container is a zip archive. It starts with a "mimetype" entry, holds any
// number of documents, and under META-INF/ holds one group of manifests and
// a signature per SignatureContent:
//
//	mimetype
//	report.pdf
//	META-INF/manifest-1.tlv
//	META-INF/datamanifest-1.tlv
//	META-INF/annotmanifest-1.tlv
//	META-INF/annotation-1.tlv
//	META-INF/annotation-1.dat
//	META-INF/signature-1.sig
//
// Reading is tolerant. A corrupt or missing piece is recorded and the rest of
// the container is still built; see ReadError. Whether a container is
// actually intact is decided by the verify package.
package container

import (
	"io"
	"sync"

	"github.com/ndlib/sigbag/index"
)

// Container is an ordered list of signature contents together with the
// files of the archive nobody references.
type Container struct {
	contents []*SignatureContent
	unknown  []Document
	mimeType string

	// closed by Close
	local  []*SignatureContent
	store  io.Closer
	owners []*Container

	closeOnce sync.Once
	closeErr  error
}

// New returns a container made of contents and unknown files. The container
// takes ownership of them and closes them when it is closed.
func New(contents []*SignatureContent, unknown []Document) *Container {
	return &Container{
		contents: contents,
		unknown:  unknown,
		mimeType: MimeType,
		local:    contents,
	}
}

// derive returns a container made from parts of the owners, which it closes
// when it is closed.
func derive(mimeType string, contents []*SignatureContent, unknown []Document, owners ...*Container) *Container {
	return &Container{
		contents: contents,
		unknown:  unknown,
		mimeType: mimeType,
		owners:   owners,
	}
}

// Contents returns the signature contents in manifest index order.
func (c *Container) Contents() []*SignatureContent {
	return append([]*SignatureContent(nil), c.contents...)
}

// Unknown returns the archive entries not referenced by any content.
func (c *Container) Unknown() []Document {
	return append([]Document(nil), c.unknown...)
}

// MimeType returns the content of the mimetype entry.
func (c *Container) MimeType() string { return c.mimeType }

// Document finds the document called name in any content. A content
// holding its bytes is preferred over one where it is detached.
func (c *Container) Document(name string) (Document, bool) {
	var found Document
	for _, sc := range c.contents {
		d, ok := sc.Document(name)
		if !ok {
			continue
		}
		if d.Writable() {
			return d, true
		}
		if found == nil {
			found = d
		}
	}
	return found, found != nil
}

// Documents returns every document, once per name, in content order. As
// with Document, a copy holding bytes wins over a detached one.
func (c *Container) Documents() []Document {
	var result []Document
	seen := make(map[string]int)
	for _, sc := range c.contents {
		for _, d := range sc.Documents() {
			i, ok := seen[d.Name()]
			if !ok {
				seen[d.Name()] = len(result)
				result = append(result, d)
			} else if !result[i].Writable() && d.Writable() {
				result[i] = d
			}
		}
	}
	return result
}

// IndexSeeds lists every indexed path in the container, for seeding an
// index provider.
func (c *Container) IndexSeeds() index.Seeds {
	seeds := index.Seeds{}
	if c == nil {
		return seeds
	}
	for _, sc := range c.contents {
		sc.addSeeds(seeds)
	}
	return seeds
}

// Close releases everything the container holds. It is safe to call more
// than once; only the first call does anything.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		keep := func(err error) {
			if c.closeErr == nil {
				c.closeErr = err
			}
		}
		for _, sc := range c.local {
			keep(sc.Close())
		}
		if c.store != nil {
			for _, d := range c.unknown {
				keep(d.Close())
			}
			// the store error wins since it lists every failure
			if err := c.store.Close(); err != nil {
				c.closeErr = err
			}
		}
		for _, o := range c.owners {
			keep(o.Close())
		}
	})
	return c.closeErr
}
