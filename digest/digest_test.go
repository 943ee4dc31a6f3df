package digest

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

const input = "hello1 hello2 hello3 hello4 hello5abcdefghijklmnopqrstuvwxyz0123456789"

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestHashWriter(t *testing.T) {
	goal := Imprint{SHA256, mustHex("fef15edd82b33633582c723562d192fec2d2003df12d4aeac89df17c279a1658")}
	var w = new(bytes.Buffer)
	hw, err := NewHashWriter(w, SHA256, SHA512, BLAKE3_256)
	if err != nil {
		t.Fatal(err)
	}
	hw.Write([]byte(input))
	if w.String() != input {
		t.Errorf("wrapped writer got %q", w.String())
	}
	if h, ok := hw.Check(goal); !ok {
		t.Fatalf("Got %v, expected %v", h, goal)
	}
	if hw.Imprint(SHA512).Algorithm != SHA512 || len(hw.Imprint(SHA512).Digest) != 64 {
		t.Errorf("bad sha512 imprint %v", hw.Imprint(SHA512))
	}
	if !hw.Imprint(SHA384).IsZero() {
		t.Error("imprint for an algorithm not computed should be zero")
	}
}

func TestSumAllSupported(t *testing.T) {
	for a, info := range algorithms {
		im, err := SumBytes([]byte(input), a)
		if info.new == nil {
			if errors.Cause(err) != ErrUnsupportedAlgorithm {
				t.Errorf("%s: expected unsupported, got %v", a, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", a, err)
		}
		if len(im.Digest) != a.Size() {
			t.Errorf("%s: digest of %d bytes, expected %d", a, len(im.Digest), a.Size())
		}
		// round trip through the encoded form
		back, err := ParseImprint(im.Bytes())
		if err != nil || !back.Equal(im) {
			t.Errorf("%s: parse got %v %v", a, back, err)
		}
	}
}

func TestParseImprint(t *testing.T) {
	var table = []struct {
		name string
		in   []byte
		err  error
	}{
		{"empty", nil, ErrBadImprint},
		{"unknown", []byte{0x7f, 1, 2}, ErrUnknownAlgorithm},
		{"short", append([]byte{byte(SHA256)}, make([]byte, 31)...), ErrBadImprint},
		{"ripemd", append([]byte{byte(RIPEMD160)}, make([]byte, 20)...), nil},
		{"sha256", append([]byte{byte(SHA256)}, make([]byte, 32)...), nil},
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.name)
		_, err := ParseImprint(tab.in)
		if errors.Cause(err) != tab.err {
			t.Errorf("%s: got %v, expected %v", tab.name, err, tab.err)
		}
	}
}

func TestVerifyStream(t *testing.T) {
	good, _ := SumBytes([]byte(input), SHA3_256)
	ok, err := VerifyStream(strings.NewReader(input), good)
	if !ok || err != nil {
		t.Errorf("expected match, got %v %v", ok, err)
	}
	bad := Imprint{SHA3_256, make([]byte, 32)}
	ok, _ = VerifyStream(strings.NewReader(input), good, bad)
	if ok {
		t.Error("expected mismatch")
	}
	_, err = VerifyStream(strings.NewReader(input), Imprint{RIPEMD160, make([]byte, 20)})
	if errors.Cause(err) != ErrUnsupportedAlgorithm {
		t.Errorf("expected unsupported error, got %v", err)
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, name := range []string{"sha256", "SHA-256", "sha-256"} {
		a, err := ParseAlgorithm(name)
		if err != nil || a != SHA256 {
			t.Errorf("%s: got %v %v", name, a, err)
		}
	}
	if a, _ := ParseAlgorithm("blake3-256"); a != BLAKE3_256 {
		t.Errorf("blake3: got %v", a)
	}
	if _, err := ParseAlgorithm("md5"); errors.Cause(err) != ErrUnknownAlgorithm {
		t.Errorf("md5: got %v", err)
	}
	if s := Algorithm(0x7a).String(); s != "UNKNOWN-0x7a" {
		t.Errorf("unknown algorithm name %s", s)
	}
}
