/*
Package config reads the TOML configuration shared by the sigbag command line
tool and the sigbagd server, and builds the pieces they run with.

A configuration file looks like

	listen = ":14000"
	storage = "s3://localhost:9000/containers/prod"
	prefix = "prod_"
	tempdir = "/var/tmp/sigbag"
	keyfile = "/etc/sigbag/signing.key"
	trusted = ["3b6a27bcceb6a42d62a3a8d02a6f0d73653215771de243a63ac048a18b59da29"]
	index = "incrementing"
	hashes = ["sha256", "blake3-256"]
	tokens = "/etc/sigbag/tokens"
	cachedir = "/var/cache/sigbag"
	cachesize = 10737418240
	maxupload = 1073741824
	maxconcurrent = 4

	[policy]
	name = "archive"
	[policy.rules]
	document-existence = "fail"
	signature-verification = "ignore"

Every field is optional. Unknown keys are an error.
*/
package config

import (
	"crypto/ed25519"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/cache"
	"github.com/ndlib/sigbag/container"
	"github.com/ndlib/sigbag/digest"
	"github.com/ndlib/sigbag/index"
	"github.com/ndlib/sigbag/manifest"
	"github.com/ndlib/sigbag/parsing"
	"github.com/ndlib/sigbag/repository"
	"github.com/ndlib/sigbag/signature"
	"github.com/ndlib/sigbag/store"
	"github.com/ndlib/sigbag/verify"
)

var (
	// ErrUnknownKeys means the file had settings we do not understand.
	ErrUnknownKeys = errors.New("unknown configuration keys")

	// ErrBadIndex means the index setting is not a known provider.
	ErrBadIndex = errors.New("unknown index provider")
)

// Config holds everything that can be set in a configuration file.
type Config struct {
	// Address for the server to listen on.
	Listen string `toml:"listen"`

	// Storage is where the repository keeps containers. See ParseLocation.
	Storage string `toml:"storage"`

	// Prefix is put in front of every key in Storage, so several
	// repositories can share one location. It may not contain '/' or spaces.
	Prefix string `toml:"prefix"`

	// TempDir is the parent directory for parsing stores. If empty, parsed
	// entries are kept in memory.
	TempDir string `toml:"tempdir"`

	// KeyFile has the hex encoded Ed25519 seed used to sign. Without one
	// containers can be read and verified but not signed.
	KeyFile string `toml:"keyfile"`

	// Trusted lists hex encoded public keys. When not empty, the
	// signature-verification rule only accepts signatures made by them.
	Trusted []string `toml:"trusted"`

	// Index is "incrementing" or "uuid".
	Index string `toml:"index"`

	// Hashes names the algorithms used when packaging. The first one also
	// hashes the manifests.
	Hashes []string `toml:"hashes"`

	// Tokens is a file of user tokens for the server. If empty, the
	// server does no authentication.
	Tokens string `toml:"tokens"`

	// Recently read versions are cached in CacheDir, using at most
	// CacheSize bytes. There is no cache if CacheSize is 0. An empty
	// CacheDir keeps the cache in memory.
	CacheDir  string `toml:"cachedir"`
	CacheSize int64  `toml:"cachesize"`

	// Server limits. Zero means the server default.
	MaxUpload     int64 `toml:"maxupload"`
	MaxConcurrent int   `toml:"maxconcurrent"`

	Policy PolicyConfig `toml:"policy"`
}

// PolicyConfig names a verification policy and overrides rule states.
type PolicyConfig struct {
	Name  string            `toml:"name"`
	Rules map[string]string `toml:"rules"`
}

// Default returns the configuration used when there is no file.
func Default() *Config {
	return &Config{
		Listen: ":14000",
		Index:  "incrementing",
		Hashes: []string{digest.Default.String()},
		Policy: PolicyConfig{Name: "default"},
	}
}

// Load reads the file name over the defaults. An empty name gives the
// defaults.
func Load(name string) (*Config, error) {
	c := Default()
	if name == "" {
		return c, nil
	}
	md, err := toml.DecodeFile(name, c)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return c, checkUndecoded(md)
}

// Parse is Load for configuration text.
func Parse(data string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, err
	}
	return c, checkUndecoded(md)
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	var names []string
	for _, k := range keys {
		names = append(names, k.String())
	}
	sort.Strings(names)
	return errors.Wrap(ErrUnknownKeys, strings.Join(names, ", "))
}

// Store makes the repository store, namespaced by Prefix.
func (c *Config) Store() (store.Store, error) {
	s, err := ParseLocation(c.Storage, "")
	if err != nil {
		return nil, err
	}
	return store.NewWithPrefix(s, c.Prefix)
}

// Cache makes the archive cache, or returns nil if caching is off. Items
// left in CacheDir by an earlier run are scanned before returning.
func (c *Config) Cache() (*cache.LRU, error) {
	if c.CacheSize <= 0 {
		return nil, nil
	}
	s, err := ParseLocation(c.CacheDir, "")
	if err != nil {
		return nil, err
	}
	// cached archives keep the keys they have in Storage
	s, err = store.NewWithPrefix(s, c.Prefix)
	if err != nil {
		return nil, err
	}
	lru := cache.NewLRU(s, c.CacheSize)
	lru.Scan()
	return lru, nil
}

// Signer returns the signature factory. It has no private key if KeyFile
// is empty.
func (c *Config) Signer() (*signature.Ed25519, error) {
	var key ed25519.PrivateKey
	if c.KeyFile != "" {
		var err error
		key, err = signature.ReadKeyFile(c.KeyFile)
		if err != nil {
			return nil, err
		}
	}
	f := signature.NewEd25519(key)
	for _, s := range c.Trusted {
		pub, err := signature.ParsePublicKey(s)
		if err != nil {
			return nil, errors.Wrapf(err, "trusted key %q", s)
		}
		f.Trusted = append(f.Trusted, pub)
	}
	return f, nil
}

// Indexes returns the configured index provider.
func (c *Config) Indexes() (index.Factory, error) {
	switch strings.ToLower(c.Index) {
	case "", "incrementing":
		return index.IncrementingFactory, nil
	case "uuid":
		return index.UUIDFactory, nil
	}
	return nil, errors.Wrap(ErrBadIndex, c.Index)
}

// Algorithms returns the hash algorithms to package with.
func (c *Config) Algorithms() ([]digest.Algorithm, error) {
	var result []digest.Algorithm
	for _, name := range c.Hashes {
		a, err := digest.ParseAlgorithm(name)
		if err != nil {
			return nil, err
		}
		if _, err := a.New(); err != nil {
			return nil, errors.Wrap(err, name)
		}
		result = append(result, a)
	}
	if len(result) == 0 {
		result = []digest.Algorithm{digest.Default}
	}
	return result, nil
}

// Parsing returns the factory for parsing stores.
func (c *Config) Parsing() parsing.Factory {
	if c.TempDir == "" {
		return parsing.MemoryFactory
	}
	return parsing.TempFileFactory(c.TempDir)
}

// VerifyPolicy returns the verification policy.
func (c *Config) VerifyPolicy() (*verify.Policy, error) {
	return verify.NewPolicy(c.Policy.Name, c.Policy.Rules)
}

// Reader returns a container reader.
func (c *Config) Reader() (*container.Reader, error) {
	sf, err := c.Signer()
	if err != nil {
		return nil, err
	}
	return container.NewReader(manifest.TLVFactory{}, sf, c.Parsing()), nil
}

// Packager returns a packager signing with the configured key.
func (c *Config) Packager() (*container.Packager, error) {
	sf, err := c.Signer()
	if err != nil {
		return nil, err
	}
	ids, err := c.Indexes()
	if err != nil {
		return nil, err
	}
	algs, err := c.Algorithms()
	if err != nil {
		return nil, err
	}
	p := container.NewPackager(manifest.TLVFactory{}, sf)
	p.Indexes = ids
	p.Algorithms = algs
	return p, nil
}

// Repository builds the repository over the configured store.
func (c *Config) Repository() (*repository.Repository, error) {
	s, err := c.Store()
	if err != nil {
		return nil, err
	}
	r, err := c.Reader()
	if err != nil {
		return nil, err
	}
	p, err := c.Packager()
	if err != nil {
		return nil, err
	}
	pol, err := c.VerifyPolicy()
	if err != nil {
		return nil, err
	}
	lru, err := c.Cache()
	if err != nil {
		return nil, err
	}
	repo := repository.New(s, r, p)
	repo.Policy = pol
	if lru != nil {
		repo.Cache = lru
	}
	return repo, nil
}
