package manifest

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/tlv"
)

func sum(s string) digest.Imprint {
	h, err := digest.SumBytes([]byte(s), digest.SHA256)
	if err != nil {
		panic(err)
	}
	return h
}

var (
	docsRef = FileReference{
		URI:      "META-INF/datamanifest-1.tlv",
		Hashes:   []digest.Imprint{sum("datamanifest")},
		MimeType: DocumentsManifestType,
	}
	annotsRef = FileReference{
		URI:      "META-INF/annotmanifest-1.tlv",
		Hashes:   []digest.Imprint{sum("annotmanifest")},
		MimeType: AnnotationsManifestType,
	}
	sigRef = SignatureReference{URI: "META-INF/signature-1.sig", Type: "application/x-sigbag-ed25519"}
)

func TestCreateAndReadAgree(t *testing.T) {
	f := TLVFactory{}

	m, err := f.CreateManifest(docsRef, annotsRef, sigRef)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := f.ReadManifest(bytes.NewReader(m.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !m.Equal(m2) {
		t.Errorf("manifest: created %v, read %v", m, m2)
	}

	docs := []FileReference{
		{URI: "a.txt", Hashes: []digest.Imprint{sum("a")}, MimeType: "text/plain"},
		{URI: "dir/b.pdf", Hashes: []digest.Imprint{sum("b"), {Algorithm: digest.RIPEMD160, Digest: make([]byte, 20)}}, MimeType: "application/pdf"},
	}
	dm, err := f.CreateDocumentsManifest(docs)
	if err != nil {
		t.Fatal(err)
	}
	dm2, err := f.ReadDocumentsManifest(bytes.NewReader(dm.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !dm.Equal(dm2) {
		t.Errorf("documents manifest: created %+v, read %+v", dm.Documents, dm2.Documents)
	}
	for i := range docs {
		if !dm2.Documents[i].Equal(docs[i]) {
			t.Errorf("document %d: got %+v", i, dm2.Documents[i])
		}
	}
	if r, ok := dm2.Find("dir/b.pdf"); !ok || len(r.Hashes) != 2 {
		t.Errorf("Find: got %+v %v", r, ok)
	}

	annots := []FileReference{
		{URI: "META-INF/annotation-1.tlv", Hashes: []digest.Imprint{sum("x")}, MimeType: string(FullyRemovable), Domain: "com.example.note"},
		{URI: "META-INF/annotation-2.tlv", Hashes: []digest.Imprint{sum("y")}, MimeType: string(NonRemovable)},
	}
	am, err := f.CreateAnnotationsManifest(annots)
	if err != nil {
		t.Fatal(err)
	}
	am2, err := f.ReadAnnotationsManifest(bytes.NewReader(am.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !am.Equal(am2) {
		t.Errorf("annotations manifest: created %+v, read %+v", am.Annotations, am2.Annotations)
	}

	data := FileReference{URI: "META-INF/annotation-1.dat", Hashes: []digest.Imprint{sum("value")}, MimeType: string(ValueRemovable), Domain: "com.example.note"}
	sm, err := f.CreateSingleAnnotationManifest(docsRef, data)
	if err != nil {
		t.Fatal(err)
	}
	sm2, err := f.ReadSingleAnnotationManifest(bytes.NewReader(sm.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !sm.Equal(sm2) || sm2.Type() != ValueRemovable {
		t.Errorf("single annotation manifest: created %+v, read %+v", sm, sm2)
	}
	if !bytes.Equal(sm.Bytes(), sm2.Bytes()) {
		t.Error("read manifest should keep the bytes it was read from")
	}
}

func TestEmptyAnnotationsManifest(t *testing.T) {
	f := TLVFactory{}
	am, err := f.CreateAnnotationsManifest(nil)
	if err != nil {
		t.Fatal(err)
	}
	am2, err := f.ReadAnnotationsManifest(bytes.NewReader(am.Bytes()))
	if err != nil || len(am2.Annotations) != 0 {
		t.Errorf("got %+v %v", am2, err)
	}
}

func TestCreateRejects(t *testing.T) {
	f := TLVFactory{}
	if _, err := f.CreateDocumentsManifest(nil); !tlv.IsStructural(err) {
		t.Errorf("empty documents: got %v", err)
	}
	dup := []FileReference{
		{URI: "a.txt", Hashes: []digest.Imprint{sum("a")}, MimeType: "text/plain"},
		{URI: "a.txt", Hashes: []digest.Imprint{sum("b")}, MimeType: "text/plain"},
	}
	if _, err := f.CreateDocumentsManifest(dup); errors.Cause(err) != ErrDuplicateURI {
		t.Errorf("duplicate documents: got %v", err)
	}
	nohash := []FileReference{{URI: "a.txt", MimeType: "text/plain"}}
	if _, err := f.CreateDocumentsManifest(nohash); !tlv.IsStructural(err) {
		t.Errorf("missing hash: got %v", err)
	}
	data := FileReference{URI: "META-INF/annotation-1.dat", Hashes: []digest.Imprint{sum("v")}, MimeType: "sticky"}
	data.Domain = "d"
	if _, err := f.CreateSingleAnnotationManifest(docsRef, data); errors.Cause(err) != ErrBadAnnotationType {
		t.Errorf("bad annotation type: got %v", err)
	}
	// only the exact spelling is a type
	data.MimeType = "NON-REMOVABLE"
	if _, err := f.CreateSingleAnnotationManifest(docsRef, data); errors.Cause(err) != ErrBadAnnotationType {
		t.Errorf("upper case annotation type: got %v", err)
	}
}

func TestReadAnnotationTypeCase(t *testing.T) {
	data := FileReference{
		URI:      "META-INF/annotation-1.dat",
		Hashes:   []digest.Imprint{sum("v")},
		MimeType: "NON-REMOVABLE",
		Domain:   "d",
	}
	d, _ := documentsManifestRef.encode(docsRef)
	a, _ := annotationDataRef.encode(data)
	_, err := TLVFactory{}.ReadSingleAnnotationManifest(bytes.NewReader(handmade(t, magicSingleAnnotationManifest, d, a)))
	if errors.Cause(err) != ErrBadAnnotationType {
		t.Errorf("single annotation manifest: got %v", err)
	}

	info := data
	info.URI = "META-INF/annotation-1.tlv"
	info.Domain = ""
	i, _ := annotationInfoRef.encode(info)
	_, err = TLVFactory{}.ReadAnnotationsManifest(bytes.NewReader(handmade(t, magicAnnotationsManifest, i)))
	if errors.Cause(err) != ErrBadAnnotationType {
		t.Errorf("annotations manifest: got %v", err)
	}
}

// build a manifest file by hand from the given top-level elements.
func handmade(t *testing.T, magic []byte, elems ...*tlv.Element) []byte {
	b, err := encodeFile(magic, elems...)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestReadForwardCompatibility(t *testing.T) {
	f := TLVFactory{}
	d, _ := documentsManifestRef.encode(docsRef)
	a, _ := annotationsManifestRef.encode(annotsRef)
	s, _ := encodeSignatureRef(sigRef)

	var table = []struct {
		name       string
		elems      []*tlv.Element
		ok         bool
		structural bool
	}{
		{"ok", []*tlv.Element{d, a, s}, true, false},
		{"extra non-critical", []*tlv.Element{d, tlv.New(0x1d, false, []byte("later")), a, s}, true, false},
		{"extra critical", []*tlv.Element{d, tlv.New(0x1d, true, []byte("later")), a, s}, false, true},
		{"missing signature", []*tlv.Element{d, a}, false, true},
		{"missing documents", []*tlv.Element{a, s}, false, true},
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.name)
		_, err := f.ReadManifest(bytes.NewReader(handmade(t, magicManifest, tab.elems...)))
		if tab.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tab.name, err)
		}
		if !tab.ok && err == nil {
			t.Errorf("%s: expected error", tab.name)
		}
		if tlv.IsStructural(err) != tab.structural {
			t.Errorf("%s: structural = %v, expected %v (%v)", tab.name, !tab.structural, tab.structural, err)
		}
	}
}

func TestReadNestedUnknownCritical(t *testing.T) {
	// an unknown critical element inside a reference fails the reference
	bad, _ := tlv.NewComposite(typeDocumentRef,
		tlv.NewString(elemURI, "a.txt"),
		tlv.New(elemHash, true, sum("a").Bytes()),
		tlv.NewString(elemType, "text/plain"),
		tlv.New(0x11, true, nil))
	_, err := TLVFactory{}.ReadDocumentsManifest(bytes.NewReader(handmade(t, magicDocumentsManifest, bad)))
	if !tlv.IsStructural(err) {
		t.Errorf("got %v", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	f := TLVFactory{}
	m, _ := f.CreateManifest(docsRef, annotsRef, sigRef)
	raw := m.Bytes()

	_, err := f.ReadManifest(bytes.NewReader(raw[:len(raw)-3]))
	if err == nil || tlv.IsStructural(err) {
		t.Errorf("truncated: got %v", err)
	}
	if errors.Cause(err) != tlv.ErrMalformed {
		t.Errorf("truncated: cause %v", errors.Cause(err))
	}

	_, err = f.ReadDocumentsManifest(bytes.NewReader(raw))
	if errors.Cause(err) != ErrBadMagic {
		t.Errorf("wrong kind: got %v", err)
	}

	// a hash with an unknown algorithm id is a value error
	weird, _ := tlv.NewComposite(typeDocumentRef,
		tlv.NewString(elemURI, "a.txt"),
		tlv.New(elemHash, true, []byte{0x70, 1, 2, 3}),
		tlv.NewString(elemType, "text/plain"))
	_, err = f.ReadDocumentsManifest(bytes.NewReader(handmade(t, magicDocumentsManifest, weird)))
	if errors.Cause(err) != digest.ErrUnknownAlgorithm {
		t.Errorf("unknown algorithm: got %v", err)
	}
}
