package verify

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/container"
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

// build packages one content holding a.txt and the given annotations.
func build(t *testing.T, annots ...container.Annotation) []byte {
	p := container.NewPackager(manifest.TLVFactory{}, testSigner)
	docs := []container.Document{container.NewBytesDocument("a.txt", "text/plain", []byte("alpha"))}
	c, err := p.Package(nil, docs, annots)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	return toBytes(t, c)
}

// buildTwo packages two contents, holding a.txt and b.txt.
func buildTwo(t *testing.T) []byte {
	p := container.NewPackager(manifest.TLVFactory{}, testSigner)
	c, err := p.Package(nil, []container.Document{container.NewBytesDocument("a.txt", "text/plain", []byte("alpha"))}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err = p.Package(c, []container.Document{container.NewBytesDocument("b.txt", "text/plain", []byte("beta"))}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	return toBytes(t, c)
}

func toBytes(t *testing.T, c *container.Container) []byte {
	var buf bytes.Buffer
	if err := container.Write(&buf, c); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readWith(t *testing.T, f signature.Factory, b []byte) *container.Container {
	r := container.NewReader(manifest.TLVFactory{}, f, parsing.MemoryFactory)
	c, err := r.Read(bytes.NewReader(b), int64(len(b)))
	if re, ok := err.(*container.ReadError); ok {
		t.Log(re)
		return re.Container
	}
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func read(t *testing.T, b []byte) *container.Container {
	return readWith(t, testSigner, b)
}

// rewrite copies the archive b, passing every entry through edit. Entries
// for which edit returns false are left out.
func rewrite(t *testing.T, b []byte, edit func(name string, data []byte) ([]byte, bool)) []byte {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		data, keep := edit(f.Name, data)
		if !keep {
			continue
		}
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(data)
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

func replace(target string, content []byte) func(string, []byte) ([]byte, bool) {
	return func(name string, data []byte) ([]byte, bool) {
		if name == target {
			return content, true
		}
		return data, true
	}
}

// paths returns the manifest path, the documents manifest path and the
// single annotation manifest and payload paths of the first content of b.
type paths struct {
	manifest, documents string
	sams, payloads      []string
}

func pathsOf(t *testing.T, b []byte) paths {
	c := read(t, b)
	defer c.Close()
	sc := c.Contents()[0]
	p := paths{manifest: sc.ManifestPath(), documents: sc.Manifest().DocumentsManifest.URI}
	for _, info := range sc.AnnotationsManifest().Annotations {
		sam, _ := sc.SingleAnnotationManifest(info.URI)
		p.sams = append(p.sams, info.URI)
		p.payloads = append(p.payloads, sam.Annotation.URI)
	}
	return p
}

func find(rs []Result, rule, element string) (Result, bool) {
	for _, r := range rs {
		if r.Rule == rule && r.Element == element {
			return r, true
		}
	}
	return Result{}, false
}

func ruleResults(rs []Result, rule string) []Result {
	var result []Result
	for _, r := range rs {
		if r.Rule == rule {
			result = append(result, r)
		}
	}
	return result
}

func TestClean(t *testing.T) {
	b := build(t, container.NewBytesAnnotation("com.example.note", manifest.NonRemovable, []byte("note")))
	c := read(t, b)
	defer c.Close()

	v := Verify(c, nil)
	for _, r := range v.AllResults() {
		if r.Status != OK {
			t.Errorf("%s: %s %s %s", r.Rule, r.Status, r.Element, r.Message)
		}
	}
	if !v.Passed() || v.Status() != OK {
		t.Errorf("got status %s", v.Status())
	}
	if len(v.VerifiedContents()) != 1 || v.VerifiedContents()[0].Status() != OK {
		t.Errorf("content results wrong")
	}
	if _, ok := find(v.AllResults(), RuleDocumentIntegrity, "a.txt"); !ok {
		t.Error("no result for a.txt")
	}
}

func TestIdempotent(t *testing.T) {
	b := build(t, container.NewBytesAnnotation("com.example.note", manifest.FullyRemovable, []byte("note")))
	b = rewrite(t, b, replace("a.txt", []byte("changed")))
	c := read(t, b)
	defer c.Close()

	first := Verify(c, nil).AllResults()
	second := Verify(c, nil).AllResults()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%v\n%v", first, second)
	}
}

func TestRemovability(t *testing.T) {
	var table = []struct {
		name        string
		typ         manifest.AnnotationType
		dropSAM     bool
		dropPayload bool
		rule        string
		want        Status
	}{
		{"fully removable, both deleted", manifest.FullyRemovable, true, true, RuleSingleAnnotationManifestExistence, OK},
		{"fully removable, payload deleted", manifest.FullyRemovable, false, true, RuleAnnotationExistence, OK},
		{"value removable, payload deleted", manifest.ValueRemovable, false, true, RuleAnnotationExistence, OK},
		{"value removable, manifest deleted", manifest.ValueRemovable, true, false, RuleSingleAnnotationManifestExistence, NOK},
		{"value removable, both deleted", manifest.ValueRemovable, true, true, RuleSingleAnnotationManifestExistence, NOK},
		{"non removable, payload deleted", manifest.NonRemovable, false, true, RuleAnnotationExistence, NOK},
		{"non removable, manifest deleted", manifest.NonRemovable, true, false, RuleSingleAnnotationManifestExistence, NOK},
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.name)
		b := build(t, container.NewBytesAnnotation("com.example.note", tab.typ, []byte("note")))
		p := pathsOf(t, b)
		var gone []string
		if tab.dropSAM {
			gone = append(gone, p.sams[0])
		}
		if tab.dropPayload {
			gone = append(gone, p.payloads[0])
		}
		c := read(t, rewrite(t, b, drop(gone...)))
		v := Verify(c, nil)
		element := p.payloads[0]
		if tab.rule == RuleSingleAnnotationManifestExistence {
			element = p.sams[0]
		}
		r, ok := find(v.AllResults(), tab.rule, element)
		if !ok {
			t.Errorf("no %s result for %s", tab.rule, element)
		} else if r.Status != tab.want {
			t.Errorf("got %s (%s), expected %s", r.Status, r.Message, tab.want)
		}
		if tab.want == OK && !v.Passed() {
			t.Errorf("container failed: %v", v.AllResults())
		}
		c.Close()
	}
}

func TestAnnotationTypeSpelling(t *testing.T) {
	// NON-REMOVABLE is not non-removable, so it cannot be packaged and
	// later judged removable.
	p := container.NewPackager(manifest.TLVFactory{}, testSigner)
	docs := []container.Document{container.NewBytesDocument("a.txt", "text/plain", []byte("alpha"))}
	annots := []container.Annotation{
		container.NewBytesAnnotation("com.example.note", manifest.AnnotationType("NON-REMOVABLE"), []byte("note")),
	}
	c, err := p.Package(nil, docs, annots)
	if errors.Cause(err) != manifest.ErrBadAnnotationType {
		t.Errorf("Got %v", err)
	}
	if c != nil {
		c.Close()
	}
}

func TestTampered(t *testing.T) {
	b := build(t, container.NewBytesAnnotation("com.example.note", manifest.ValueRemovable, []byte("note")))
	p := pathsOf(t, b)
	var table = []struct {
		name, target, rule string
	}{
		{"document", "a.txt", RuleDocumentIntegrity},
		{"annotation", p.payloads[0], RuleAnnotationIntegrity},
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.name)
		c := read(t, rewrite(t, b, replace(tab.target, []byte("tampered"))))
		v := Verify(c, nil)
		r, ok := find(v.AllResults(), tab.rule, tab.target)
		if !ok || r.Status != NOK {
			t.Errorf("got %v", r)
		}
		if v.Passed() {
			t.Error("tampered container passed")
		}
		c.Close()
	}
}

func TestDependencySkip(t *testing.T) {
	b := build(t)
	p := pathsOf(t, b)
	c := read(t, rewrite(t, b, replace(p.documents, []byte("garbage"))))
	defer c.Close()

	rs := Verify(c, nil).AllResults()
	r, ok := find(rs, RuleDocumentsManifestExistence, p.documents)
	if !ok || r.Status != NOK || !strings.Contains(r.Message, "unreadable") {
		t.Errorf("existence: got %v", r)
	}
	for _, rule := range []string{RuleDocumentsManifestIntegrity, RuleDocumentExistence, RuleDocumentIntegrity} {
		got := ruleResults(rs, rule)
		if len(got) != 1 || got[0].Status != Ignored {
			t.Errorf("%s: got %v", rule, got)
		}
	}
	// other parts of the content are still checked
	if len(ruleResults(rs, RuleSignatureVerification)) != 1 {
		t.Error("signature not verified")
	}
}

func TestManifestTerminates(t *testing.T) {
	b := buildTwo(t)
	p := pathsOf(t, b)
	c := read(t, rewrite(t, b, replace(p.manifest, []byte("garbage"))))
	defer c.Close()

	v := Verify(c, nil)
	rs := v.VerifiedContents()[0].Results()
	if len(rs) != 1 || rs[0].Rule != RuleManifestExistence || rs[0].Status != NOK {
		t.Errorf("got %v", rs)
	}
	// container rules and the other content still ran
	if len(ruleResults(v.Results(), RuleContainerMimeType)) != 1 {
		t.Errorf("got %v", v.Results())
	}
	if r, ok := find(v.AllResults(), RuleDocumentIntegrity, "b.txt"); !ok || r.Status != OK {
		t.Errorf("b.txt: got %v", r)
	}
}

func TestEmptyContainerTerminates(t *testing.T) {
	c := container.New(nil, nil)
	v := Verify(c, nil)
	rs := v.AllResults()
	if len(rs) != 1 || rs[0].Rule != RuleContentsExist || rs[0].Status != NOK {
		t.Errorf("got %v", rs)
	}
}

func TestStates(t *testing.T) {
	b := rewrite(t, build(t), replace("a.txt", []byte("changed")))
	var table = []struct {
		state string
		want  []Status
	}{
		{"fail", []Status{NOK}},
		{"warn", []Status{Warn}},
		{"ignore", nil},
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.state)
		p, err := NewPolicy("test", map[string]string{RuleDocumentIntegrity: tab.state})
		if err != nil {
			t.Fatal(err)
		}
		c := read(t, b)
		var got []Status
		for _, r := range ruleResults(Verify(c, p).AllResults(), RuleDocumentIntegrity) {
			got = append(got, r.Status)
		}
		if !reflect.DeepEqual(got, tab.want) {
			t.Errorf("got %v, expected %v", got, tab.want)
		}
		c.Close()
	}

	if _, err := NewPolicy("", map[string]string{"no-such-rule": "fail"}); errors.Cause(err) != ErrUnknownRule {
		t.Errorf("got %v", err)
	}
	if _, err := NewPolicy("", map[string]string{RuleUnknownFiles: "maybe"}); errors.Cause(err) != ErrBadState {
		t.Errorf("got %v", err)
	}
}

func TestUntrustedSignature(t *testing.T) {
	b := build(t)
	key, err := signature.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	other := signature.NewEd25519(key)
	other.Trusted = []ed25519.PublicKey{key.Public().(ed25519.PublicKey)}
	c := readWith(t, other, b)
	defer c.Close()

	rs := Verify(c, nil).AllResults()
	if r := ruleResults(rs, RuleSignatureIntegrity); len(r) != 1 || r[0].Status != OK {
		t.Errorf("integrity: got %v", r)
	}
	if r := ruleResults(rs, RuleSignatureVerification); len(r) != 1 || r[0].Status != NOK {
		t.Errorf("verification: got %v", r)
	}
}

func TestReport(t *testing.T) {
	b := build(t, container.NewBytesAnnotation("com.example.note", manifest.FullyRemovable, []byte("note")))
	c := read(t, b)
	defer c.Close()
	report := Verify(c, nil).Report()

	var buf bytes.Buffer
	if err := report.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}
	var back Report
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if back.Status != OK || len(back.Contents) != 1 || len(back.Contents[0].Results) != len(report.Contents[0].Results) {
		t.Errorf("got %+v", back)
	}

	buf.Reset()
	if err := report.WriteYAML(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "status: OK") || !strings.Contains(buf.String(), "policy: default") {
		t.Errorf("got %s", buf.String())
	}
}

func TestCloseDelegates(t *testing.T) {
	c := read(t, build(t))
	v := Verify(c, nil)
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	d, ok := v.VerifiedContents()[0].Document("a.txt")
	if !ok {
		t.Fatal("no document")
	}
	if _, err := d.Open(); err == nil {
		t.Error("document readable after close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
