package store

import (
	"io"
	"log"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// ErrBadPrefix means a namespace prefix could not be used as part of a key.
var ErrBadPrefix = errors.New("bad store prefix")

// Namespace keeps its keys in another store with Prefix in front, so
// several repositories can share one location without seeing each other's
// containers. Keys in S without the prefix are invisible through it.
type Namespace struct {
	S      Store
	Prefix string
}

var _ Store = &Namespace{}

// NewWithPrefix returns s namespaced by prefix, or s itself if prefix is
// empty. The prefix becomes part of every key, so it may not hold the
// characters a file store refuses in keys.
func NewWithPrefix(s Store, prefix string) (Store, error) {
	if prefix == "" {
		return s, nil
	}
	if strings.ContainsAny(prefix, "/\\ *?[") || !printable(prefix) {
		return nil, errors.Wrapf(ErrBadPrefix, "%q", prefix)
	}
	return &Namespace{S: s, Prefix: prefix}, nil
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// List returns the keys in the namespace, with the prefix removed.
func (ns *Namespace) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		keys, err := ns.S.ListPrefix(ns.Prefix)
		if err != nil {
			log.Println("store: namespace", ns.Prefix, err)
			raven.CaptureError(err, map[string]string{"prefix": ns.Prefix})
			return
		}
		for _, key := range keys {
			out <- key[len(ns.Prefix):]
		}
	}()
	return out
}

// ListPrefix returns the keys in the namespace beginning with prefix.
func (ns *Namespace) ListPrefix(prefix string) ([]string, error) {
	keys, err := ns.S.ListPrefix(ns.Prefix + prefix)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i] = keys[i][len(ns.Prefix):]
	}
	return keys, nil
}

func (ns *Namespace) Open(key string) (ReadAtCloser, int64, error) {
	return ns.S.Open(ns.Prefix + key)
}

func (ns *Namespace) Create(key string) (io.WriteCloser, error) {
	return ns.S.Create(ns.Prefix + key)
}

func (ns *Namespace) Delete(key string) error {
	return ns.S.Delete(ns.Prefix + key)
}
