// Package cache implements a simple cache of stored archives. It is backed by
// a store, so it can be entirely in memory or disk-backed.
//
// While the cached contents are kept in the store, the list recording usage
// information is kept only in memory. On startup the items in the store are
// enumerated and taken to populate the cache list in an undetermined order.
//
// The cache uses an LRU item replacement policy.
package cache

import (
	"container/list"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/store"
)

// Cache is what the repository needs from a cache.
type Cache interface {
	// Get returns a reader for key. A nil reader with no error is a miss.
	Get(key string) (store.ReadAtCloser, int64, error)

	// Put returns a writer which adds key to the cache when closed.
	Put(key string) (io.WriteCloser, error)

	// Delete removes key from the cache.
	Delete(key string) error
}

var (
	ErrCacheFull = errors.New("cache is full and no more items can be removed")
	ErrPending   = errors.New("item is already being cached")
)

// LRU is a Cache holding at most a fixed number of bytes.
type LRU struct {
	// this is the place where cached items are stored
	s store.Store

	m sync.Mutex // protects everything below

	size    int64 // total size used to store items in cache
	maxSize int64 // The maximum amount of space we may use

	// front of list is MRU, tail is LRU.
	lru     *list.List
	index   map[string]*list.Element
	pending map[string]bool // keys with an open writer
}

var _ Cache = &LRU{}

type entry struct {
	key  string
	size int64
}

// NewLRU creates a cache using at most maxSize bytes of s. The given store
// may already have items in it. Call Scan() either inline or in a goroutine
// to add them to the LRU list.
func NewLRU(s store.Store, maxSize int64) *LRU {
	return &LRU{
		s:       s,
		maxSize: maxSize,
		lru:     list.New(),
		index:   make(map[string]*list.Element),
		pending: make(map[string]bool),
	}
}

// Scan enumerates the items in the backing store and adds them to the
// cache. Items which do not fit are deleted. Blocks until it is completely
// finished.
func (t *LRU) Scan() {
	for key := range t.s.List() {
		if t.Contains(key) {
			continue
		}
		rc, size, err := t.s.Open(key)
		if err != nil {
			continue
		}
		rc.Close()
		err = t.reserve(size)
		if err != nil {
			// this item is too big for the cache.
			t.s.Delete(key)
			continue
		}
		t.m.Lock()
		t.link(entry{key: key, size: size})
		t.m.Unlock()
	}
}

// Contains returns true if the given item is in the cache. It does not
// update the LRU status, and does not guarantee the item will be in the
// cache when Get() is called.
func (t *LRU) Contains(key string) bool {
	t.m.Lock()
	defer t.m.Unlock()
	_, ok := t.index[key]
	return ok
}

// Get returns a reader for the given item and moves it to the front of the
// LRU list. If the item is not in the cache nil is returned for the
// ReadAtCloser. It is not an error for an item to not be in the cache.
func (t *LRU) Get(key string) (store.ReadAtCloser, int64, error) {
	t.m.Lock()
	e, ok := t.index[key]
	if ok {
		t.lru.MoveToFront(e)
	}
	t.m.Unlock()
	if !ok {
		return nil, 0, nil
	}
	rac, size, err := t.s.Open(key)
	if store.IsNotFound(err) {
		// evicted since we looked
		return nil, 0, nil
	}
	return rac, size, err
}

// Put returns a WriteCloser which saves writes to it in the cache under the
// provided key. Items are evicted from the cache as content is written to
// the Writer. The item is not formally added to the cache until the Writer is
// closed.
//
// Only one writer to a given key can be active at a time, and an item
// already in the cache cannot be put again until it is evicted or deleted.
func (t *LRU) Put(key string) (io.WriteCloser, error) {
	t.m.Lock()
	_, ok := t.index[key]
	if ok || t.pending[key] {
		t.m.Unlock()
		return nil, errors.Wrap(ErrPending, key)
	}
	t.pending[key] = true
	t.m.Unlock()

	w, err := t.s.Create(key)
	if err != nil {
		t.unpending(key)
		return nil, err
	}
	return &writer{parent: t, key: key, w: w}, nil
}

// Delete removes an item from the cache. Removing an item which is not
// there is not an error.
func (t *LRU) Delete(key string) error {
	t.m.Lock()
	e, ok := t.index[key]
	if ok {
		t.unlink(e)
	}
	t.m.Unlock()
	if !ok {
		return nil
	}
	return t.s.Delete(key)
}

// Size returns the number of bytes the cache is using.
func (t *LRU) Size() int64 {
	t.m.Lock()
	defer t.m.Unlock()
	return t.size
}

func (t *LRU) unpending(key string) {
	t.m.Lock()
	delete(t.pending, key)
	t.m.Unlock()
}

// link and unlink need t.m to be held.
func (t *LRU) link(e entry) {
	t.index[e.key] = t.lru.PushFront(e)
}

func (t *LRU) unlink(e *list.Element) {
	ent := t.lru.Remove(e).(entry)
	delete(t.index, ent.key)
	t.size -= ent.size
}

func (t *LRU) save(w *writer) {
	t.m.Lock()
	delete(t.pending, w.key)
	t.link(entry{key: w.key, size: w.size})
	t.m.Unlock()
}

func (t *LRU) discard(w *writer) {
	t.m.Lock()
	delete(t.pending, w.key)
	t.size -= w.size
	t.m.Unlock()
	t.s.Delete(w.key)
}

// reserve space for the passed in size, evicting items if necessary to stay
// under maxSize. Nothing is reserved if there is an error.
func (t *LRU) reserve(size int64) error {
	t.m.Lock()
	defer t.m.Unlock()

	t.size += size
	for t.size > t.maxSize {
		// LRU eviction
		e := t.lru.Back()
		if e == nil {
			t.size -= size
			return ErrCacheFull
		}
		key := e.Value.(entry).key
		t.unlink(e)
		if err := t.s.Delete(key); err != nil {
			t.size -= size
			return err
		}
	}
	return nil
}
