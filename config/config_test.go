package config

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/cache"
	"github.com/ndlib/sigbag/container"
	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/signature"
	"github.com/ndlib/sigbag/store"
	"github.com/ndlib/sigbag/verify"
)

func TestSplitBucketPrefix(t *testing.T) {
	var table = []struct {
		location string
		addition string
		bucket   string
		prefix   string
	}{
		{"", "", "", ""},
		{"rel/path", "", "rel", "path/"},
		{"/abs/path/", "", "abs", "path/"},
		{"/bucket", "", "bucket", ""},
		{"/bucket", "more", "bucket", "more/"},
		{"/bucket/prefix/", "", "bucket", "prefix/"},
		{"/bucket/prefix", "", "bucket", "prefix/"},
		{"/bucket/prefix", "more", "bucket", "prefix/more/"},
		{"/bucket/prefix/", "more", "bucket", "prefix/more/"},
	}

	for _, row := range table {
		t.Log(row.location, row.addition)
		bucket, prefix := splitBucketPrefix(row.location, row.addition)
		if bucket != row.bucket {
			t.Error("expected bucket", row.bucket, "received", bucket)
		}
		if prefix != row.prefix {
			t.Error("expected prefix", row.prefix, "received", prefix)
		}
	}
}

const (
	typeMemory = iota
	typeFileSystem
	typeS3
	typeError
)

func TestParseLocation(t *testing.T) {
	dir := t.TempDir()
	var table = []struct {
		location string
		addition string
		typ      int
		bucket   string
		prefix   string
	}{
		{"", "", typeMemory, "", ""},
		{dir, "", typeFileSystem, "", ""},
		{"file:" + dir, "more", typeFileSystem, "", ""},
		{"s3:/bucket", "", typeS3, "bucket", ""},
		{"s3:/bucket", "more", typeS3, "bucket", "more/"},
		{"s3://localhost:9000/bucket/prefix/", "", typeS3, "bucket", "prefix/"},
		{"s3://localhost:9000/bucket/prefix/", "more", typeS3, "bucket", "prefix/more/"},
		{"s3://localhost:9000/", "", typeError, "", ""},
		{"ftp://example.com/x", "", typeError, "", ""},
	}

	for _, row := range table {
		t.Logf("Doing %s %s", row.location, row.addition)
		result, err := ParseLocation(row.location, row.addition)
		if row.typ == typeError {
			if errors.Cause(err) != ErrBadLocation {
				t.Errorf("expected ErrBadLocation, got %v", err)
			}
			continue
		}
		if err != nil {
			t.Errorf("received error %s", err)
			continue
		}
		switch x := result.(type) {
		case *store.Memory:
			if row.typ != typeMemory {
				t.Errorf("unexpected received %#v", result)
			}
		case *store.FileSystem:
			if row.typ != typeFileSystem {
				t.Errorf("unexpected received %#v", result)
			}
			if _, err := os.Stat(x.Root()); err != nil {
				t.Errorf("root not made: %s", err)
			}
		case *store.S3:
			if row.typ != typeS3 {
				t.Errorf("unexpected received %#v", result)
			}
			if x.Bucket != row.bucket {
				t.Error("expected bucket", row.bucket, "received", x.Bucket)
			}
			if x.Prefix != row.prefix {
				t.Error("expected prefix", row.prefix, "received", x.Prefix)
			}
		default:
			t.Errorf("unexpected received %#v", result)
		}
	}
}

func TestDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c, Default()) {
		t.Errorf("Got %#v", c)
	}
	algs, err := c.Algorithms()
	if err != nil || !reflect.DeepEqual(algs, []digest.Algorithm{digest.SHA256}) {
		t.Errorf("Got %v, %v", algs, err)
	}
	p, err := c.VerifyPolicy()
	if err != nil || p.Name != "default" {
		t.Errorf("Got %v, %v", p, err)
	}
	ps, err := c.Parsing()()
	if err != nil {
		t.Fatal(err)
	}
	ps.Close()
}

func TestParse(t *testing.T) {
	c, err := Parse(`
listen = ":9999"
index = "uuid"
hashes = ["sha-512", "blake3-256"]

[policy]
name = "strict"
[policy.rules]
document-existence = "fail"
unknown-files = "ignore"
`)
	if err != nil {
		t.Fatal(err)
	}
	if c.Listen != ":9999" || c.Index != "uuid" {
		t.Errorf("Got %#v", c)
	}
	algs, err := c.Algorithms()
	if err != nil || !reflect.DeepEqual(algs, []digest.Algorithm{digest.SHA512, digest.BLAKE3_256}) {
		t.Errorf("Got %v, %v", algs, err)
	}
	p, err := c.VerifyPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "strict" || p.States[verify.RuleDocumentExistence] != verify.Fail ||
		p.States[verify.RuleUnknownFiles] != verify.Ignore {
		t.Errorf("Got %#v", p)
	}
}

func TestParseErrors(t *testing.T) {
	var table = []struct {
		name  string
		input string
		check func(c *Config) error
	}{
		{"unknown key", `colour = "blue"`, nil},
		{"bad toml", `listen = `, nil},
		{"bad index", `index = "random"`, func(c *Config) error { _, err := c.Indexes(); return err }},
		{"unknown hash", `hashes = ["md5"]`, func(c *Config) error { _, err := c.Algorithms(); return err }},
		{"unsupported hash", `hashes = ["ripemd-160"]`, func(c *Config) error { _, err := c.Algorithms(); return err }},
		{"bad rule", "[policy.rules]\nno-such-rule = \"warn\"", func(c *Config) error { _, err := c.VerifyPolicy(); return err }},
		{"bad state", "[policy.rules]\nunknown-files = \"maybe\"", func(c *Config) error { _, err := c.VerifyPolicy(); return err }},
		{"bad trusted key", `trusted = ["zz"]`, func(c *Config) error { _, err := c.Signer(); return err }},
		{"missing key file", `keyfile = "/does/not/exist"`, func(c *Config) error { _, err := c.Signer(); return err }},
		{"bad prefix", `prefix = "a/b"`, func(c *Config) error { _, err := c.Store(); return err }},
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.name)
		c, err := Parse(tab.input)
		if tab.check == nil {
			if err == nil {
				t.Errorf("expected a parse error")
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse: %s", err)
			continue
		}
		if err := tab.check(c); err == nil {
			t.Errorf("expected an error")
		}
	}
	_, err := Parse(`colour = "blue"`)
	if errors.Cause(err) != ErrUnknownKeys {
		t.Errorf("Got %v", err)
	}
}

func TestLoadAndBuild(t *testing.T) {
	dir := t.TempDir()
	key, err := signature.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyfile := filepath.Join(dir, "signing.key")
	if err := signature.WriteKeyFile(keyfile, key); err != nil {
		t.Fatal(err)
	}
	name := filepath.Join(dir, "sigbag.toml")
	text := "storage = \"" + filepath.Join(dir, "store") + "\"\n" +
		"tempdir = \"" + dir + "\"\n" +
		"keyfile = \"" + keyfile + "\"\n" +
		"cachedir = \"" + filepath.Join(dir, "cache") + "\"\n" +
		"cachesize = 1048576\n"
	if err := os.WriteFile(name, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(name)
	if err != nil {
		t.Fatal(err)
	}
	repo, err := c.Repository()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.S.(*store.FileSystem); !ok {
		t.Errorf("Got store %#v", repo.S)
	}
	doc := container.NewBytesDocument("a.txt", "text/plain", []byte("alpha"))
	if _, err := repo.Create("abc", []container.Document{doc}, nil); err != nil {
		t.Fatal(err)
	}
	v, _, err := repo.Verify("abc")
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	if !v.Passed() {
		t.Errorf("Got %v", v.AllResults())
	}
	if lru, ok := repo.Cache.(*cache.LRU); !ok || !lru.Contains("abc-0001.zip") {
		t.Errorf("version was not cached")
	}
}

func TestPrefixedRepositories(t *testing.T) {
	dir := t.TempDir()
	open := func(prefix string) *Config {
		c, err := Parse("storage = \"" + dir + "\"\nprefix = \"" + prefix + "\"\n")
		if err != nil {
			t.Fatal(err)
		}
		return c
	}
	var table = []struct {
		prefix string
		data   string
	}{
		{"prod_", "production"},
		{"test_", "testing"},
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.prefix)
		repo, err := open(tab.prefix).Repository()
		if err != nil {
			t.Fatal(err)
		}
		doc := container.NewBytesDocument("a.txt", "text/plain", []byte(tab.data))
		if _, err := repo.Create("abc", []container.Document{doc}, nil); err != nil {
			t.Fatalf("Create: %s", err)
		}
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.prefix)
		repo, err := open(tab.prefix).Repository()
		if err != nil {
			t.Fatal(err)
		}
		vs, err := repo.Versions("abc")
		if err != nil || !reflect.DeepEqual(vs, []int{1}) {
			t.Errorf("Got versions %v, %v", vs, err)
		}
		c, _, err := repo.Open("abc")
		if err != nil {
			t.Fatal(err)
		}
		d, ok := c.Document("a.txt")
		if !ok {
			t.Fatal("a.txt missing")
		}
		rc, err := d.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		c.Close()
		if string(b) != tab.data {
			t.Errorf("Got %q, expected %q", b, tab.data)
		}
	}
	// both versions sit side by side in the same directory
	keys, err := store.NewFileSystem(dir).ListPrefix("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(keys, []string{"prod_abc-0001.zip", "test_abc-0001.zip"}) {
		t.Errorf("Got keys %v", keys)
	}
}

func TestNoCache(t *testing.T) {
	lru, err := Default().Cache()
	if lru != nil || err != nil {
		t.Errorf("Got %v, %v", lru, err)
	}
	c := Default()
	c.CacheSize = 100
	lru, err = c.Cache()
	if lru == nil || err != nil {
		t.Errorf("Got %v, %v", lru, err)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nothing.toml")); err == nil {
		t.Error("expected an error")
	}
}
