package container

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
)

// ErrDocumentIsDirectory means a document name ends in a slash, so it would
// be read back as a directory.
var ErrDocumentIsDirectory = errors.New("document name is a directory")

// Write serializes c as a zip archive to w. The mimetype entry comes first
// and is stored uncompressed. Then, for each content in order, come its
// manifest, documents manifest, annotations manifest, signature, documents,
// single annotation manifests and annotation payloads. Unknown files come
// last. A path shared by more than one content is written once.
func Write(w io.Writer, c *Container) error {
	zw := zip.NewWriter(w)
	written := make(map[string]bool)

	mt, err := zw.CreateHeader(&zip.FileHeader{Name: MimeTypeName, Method: zip.Store})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(mt, c.mimeType); err != nil {
		return err
	}
	written[MimeTypeName] = true

	for _, sc := range c.contents {
		for _, e := range sc.entries() {
			if e.kind == kindDocument && strings.HasSuffix(e.path, "/") {
				return errors.Wrap(ErrDocumentIsDirectory, e.path)
			}
			if written[e.path] {
				continue
			}
			written[e.path] = true
			if err := writeEntry(zw, e.path, e.open); err != nil {
				return err
			}
		}
	}
	for _, d := range c.unknown {
		if written[d.Name()] {
			continue
		}
		written[d.Name()] = true
		if err := writeEntry(zw, d.Name(), d.Open); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, open opener) error {
	rc, err := open()
	if err != nil {
		return errors.Wrapf(err, "writing %s", name)
	}
	defer rc.Close()
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, rc)
	return errors.Wrapf(err, "writing %s", name)
}

// WriteFile writes c to the file name. The file is first written under a
// temporary name and renamed into place once complete, so a failed write
// never leaves a partial archive behind.
func WriteFile(name string, c *Container) error {
	tmp := name + ".partial"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return err
	}
	err = Write(f, c)
	err2 := f.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, name)
}
