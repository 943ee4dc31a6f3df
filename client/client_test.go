package client

import (
	"bytes"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/container"
	"github.com/ndlib/sigbag/index"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/parsing"
	"github.com/ndlib/sigbag/repository"
	"github.com/ndlib/sigbag/server"
	"github.com/ndlib/sigbag/signature"
	"github.com/ndlib/sigbag/store"
)

var testSigner *signature.Ed25519

func init() {
	key, err := signature.GenerateKey()
	if err != nil {
		panic(err)
	}
	testSigner = signature.NewEd25519(key)
}

func setup(t *testing.T, tokens string) (*Connection, *ErrorServer) {
	reader := container.NewReader(manifest.TLVFactory{}, testSigner, parsing.MemoryFactory)
	s := &server.RESTServer{
		Repository: repository.New(store.NewMemory(), reader, container.NewPackager(manifest.TLVFactory{}, testSigner)),
	}
	if tokens != "" {
		d, err := server.NewListDecoder(strings.NewReader(tokens))
		if err != nil {
			t.Fatal(err)
		}
		s.Validator = d
	}
	es := &ErrorServer{h: s.Handler()}
	ts := httptest.NewServer(es)
	t.Cleanup(ts.Close)
	return &Connection{HostURL: ts.URL}, es
}

func archive(t *testing.T, kv ...string) *bytes.Reader {
	p := container.NewPackager(manifest.TLVFactory{}, testSigner)
	p.Indexes = index.UUIDFactory
	var docs []container.Document
	for i := 0; i+1 < len(kv); i += 2 {
		docs = append(docs, container.NewBytesDocument(kv[i], "text/plain", []byte(kv[i+1])))
	}
	c, err := p.Package(nil, docs, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	var buf bytes.Buffer
	if err := container.Write(&buf, c); err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestRoundTrip(t *testing.T) {
	conn, _ := setup(t, "")

	result, err := conn.Upload("abc", archive(t, "a.txt", "alpha"))
	if err != nil || result.Version != 1 || !result.Created {
		t.Fatalf("Got %#v, %v", result, err)
	}
	result, err = conn.Upload("abc", archive(t, "b.txt", "beta"))
	if err != nil || result.Version != 2 || result.Created {
		t.Fatalf("Got %#v, %v", result, err)
	}
	_, err = conn.Upload("abc", archive(t, "b.txt", "other"))
	if errors.Cause(err) != ErrConflict {
		t.Errorf("Got %v", err)
	}

	ids, err := conn.List()
	if err != nil || !reflect.DeepEqual(ids, []string{"abc"}) {
		t.Errorf("Got %v, %v", ids, err)
	}
	vs, err := conn.Versions("abc")
	if err != nil || !reflect.DeepEqual(vs, []int{1, 2}) {
		t.Errorf("Got %v, %v", vs, err)
	}

	var buf bytes.Buffer
	mimetype, err := conn.Document(&buf, "abc", "b.txt")
	if err != nil || buf.String() != "beta" || mimetype != "text/plain" {
		t.Errorf("Got %q %q, %v", buf.String(), mimetype, err)
	}

	buf.Reset()
	n, err := conn.Download(&buf, "abc", 1)
	if err != nil || n != 1 {
		t.Fatalf("Got %d, %v", n, err)
	}
	c, err := container.NewReader(manifest.TLVFactory{}, testSigner, parsing.MemoryFactory).
		Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Contents()) != 1 {
		t.Errorf("Got %d contents", len(c.Contents()))
	}
	c.Close()

	report, err := conn.Verify("abc")
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != "OK" || len(report.Contents) != 2 || len(report.Problems()) != 0 {
		t.Errorf("Got %#v", report)
	}

	if err := conn.Delete("abc", 2); err != nil {
		t.Error(err)
	}
	if _, err := conn.Document(&buf, "abc", "b.txt"); errors.Cause(err) != ErrNotFound {
		t.Errorf("Got %v", err)
	}
}

func TestErrors(t *testing.T) {
	conn, es := setup(t, "")
	var table = []struct {
		status int
		err    error
	}{
		{400, ErrRejected},
		{401, ErrNotAuthorized},
		{404, ErrNotFound},
		{409, ErrConflict},
		{418, ErrUnexpectedResp},
		{500, ErrServerError},
		{503, ErrServerError},
	}
	for _, row := range table {
		t.Logf("Doing %d", row.status)
		es.Reset([]Play{{When: 0, Status: row.status, Body: "injected"}})
		_, err := conn.List()
		if errors.Cause(err) != row.err {
			t.Errorf("Got %v, expected %v", err, row.err)
		}
	}
	// the playbook is used up
	if _, err := conn.List(); err != nil {
		t.Error(err)
	}
	if _, err := conn.Verify("missing"); errors.Cause(err) != ErrNotFound {
		t.Errorf("Got %v", err)
	}
	if _, err := conn.Upload("abc", strings.NewReader("garbage")); errors.Cause(err) != ErrRejected {
		t.Errorf("Got %v", err)
	}
}

func TestToken(t *testing.T) {
	conn, _ := setup(t, "writer write w1\n")
	if _, err := conn.List(); err != ErrNotAuthorized {
		t.Errorf("Got %v", err)
	}
	conn.Token = "w1"
	if _, err := conn.Upload("abc", archive(t, "a.txt", "alpha")); err != nil {
		t.Error(err)
	}
	if err := conn.Delete("abc", 1); err != ErrNotAuthorized {
		t.Errorf("Got %v", err)
	}
}
