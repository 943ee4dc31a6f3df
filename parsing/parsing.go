// Package parsing provides the holding area used while a container archive
// is read. Every archive entry is copied into a Store once, and the pieces of
// the container then refer to it by key. This lets large payloads be read
// from the archive a single time no matter how many times they are used
// afterwards.
//
// A Store belongs to one read of one archive. It is not safe for concurrent
// use by more than one reader.
package parsing

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned when a closed store is used.
	ErrClosed = errors.New("parsing store closed")

	// ErrKeyExists means a key was stored twice. The first value is kept.
	ErrKeyExists = errors.New("key already stored")

	// ErrReleased is returned when a released Reference is opened.
	ErrReleased = errors.New("reference released")

	// ErrNotFound is returned when a Reference points at content which is
	// no longer in its store.
	ErrNotFound = errors.New("content not in store")
)

// Store holds byte streams under string keys.
type Store interface {
	// Store copies r under key and returns a reference to it. Storing a
	// key a second time gives ErrKeyExists.
	Store(key string, r io.Reader) (*Reference, error)

	// Get opens the content stored under key. The second result is false
	// if nothing is stored under key; this is not an error.
	Get(key string) (io.ReadCloser, bool, error)

	// Remove deletes the content under key. Removing an absent key is not
	// an error.
	Remove(key string) error

	// Close releases everything the store holds. A closed store returns
	// ErrClosed from every other method. Closing twice is not an error.
	Close() error
}

// Factory makes a new Store for one read session.
type Factory func() (Store, error)

// A Reference is the handle given out for stored content. It can be opened
// any number of times until it is released.
type Reference struct {
	key   string
	store Store

	m        sync.Mutex
	released bool
}

// NewReference returns a reference to key inside s. Stores return these from
// Store; this is for content put in a store by other means.
func NewReference(s Store, key string) *Reference {
	return &Reference{key: key, store: s}
}

// Key returns the key the content is stored under.
func (r *Reference) Key() string { return r.key }

// Open returns a reader for the referenced content.
func (r *Reference) Open() (io.ReadCloser, error) {
	r.m.Lock()
	released := r.released
	r.m.Unlock()
	if released {
		return nil, errors.Wrap(ErrReleased, r.key)
	}
	rc, ok, err := r.store.Get(r.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(ErrNotFound, r.key)
	}
	return rc, nil
}

// Release removes the content from the store. Later calls to Open fail.
// Releasing twice is not an error. Releasing after the store has been closed
// is also fine, since the content is already gone.
func (r *Reference) Release() error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	err := r.store.Remove(r.key)
	if errors.Cause(err) == ErrClosed {
		err = nil
	}
	return err
}
