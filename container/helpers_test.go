package container

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/ndlib/sigbag/index"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/parsing"
	"github.com/ndlib/sigbag/signature"
)

var testSigner *signature.Ed25519

func init() {
	key, err := signature.GenerateKey()
	if err != nil {
		panic(err)
	}
	testSigner = signature.NewEd25519(key)
}

func testPackager(ids index.Factory) *Packager {
	p := NewPackager(manifest.TLVFactory{}, testSigner)
	if ids != nil {
		p.Indexes = ids
	}
	return p
}

func testReader() *Reader {
	return NewReader(manifest.TLVFactory{}, testSigner, parsing.MemoryFactory)
}

type doc struct{ name, content string }

func docs(ds ...doc) []Document {
	var result []Document
	for _, d := range ds {
		result = append(result, NewBytesDocument(d.name, "text/plain", []byte(d.content)))
	}
	return result
}

// pack builds a container with one content holding ds, after existing.
func pack(t *testing.T, p *Packager, existing *Container, annots []Annotation, ds ...doc) *Container {
	c, err := p.Package(existing, docs(ds...), annots)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func toBytes(t *testing.T, c *Container) []byte {
	var buf bytes.Buffer
	if err := Write(&buf, c); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func fromBytes(t *testing.T, b []byte) (*Container, error) {
	return testReader().Read(bytes.NewReader(b), int64(len(b)))
}

func mustRead(t *testing.T, b []byte) *Container {
	c, err := fromBytes(t, b)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// rewrite copies the archive b, passing every entry through edit. An entry is
// dropped if edit returns false. Extra entries are appended at the end.
func rewrite(t *testing.T, b []byte, edit func(name string, data []byte) ([]byte, bool), extra ...doc) []byte {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	add := func(name string, data []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(data)
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if edit != nil {
			var keep bool
			data, keep = edit(f.Name, data)
			if !keep {
				continue
			}
		}
		add(f.Name, data)
	}
	for _, d := range extra {
		add(d.name, []byte(d.content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func drop(names ...string) func(string, []byte) ([]byte, bool) {
	return func(name string, data []byte) ([]byte, bool) {
		for _, n := range names {
			if n == name {
				return nil, false
			}
		}
		return data, true
	}
}

func readAll(t *testing.T, open func() (io.ReadCloser, error)) string {
	rc, err := open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	return string(b)
}
