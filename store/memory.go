package store

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Memory keeps everything in a map. It is intended mainly for testing.
// A value becomes visible when the writer returned by Create is closed.
type Memory struct {
	m       sync.RWMutex
	store   map[string][]byte
	pending map[string]bool // keys being written
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte), pending: make(map[string]bool)}
}

// List returns a channel giving every key in the store, in sorted order.
func (ms *Memory) List() <-chan string {
	keys, _ := ms.ListPrefix("")
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns all the keys which begin with the given prefix, sorted.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	sort.Strings(result)
	return result, nil
}

// Open returns a reader for the value under key and its size.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	b, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, errors.Wrap(ErrNotFound, key)
	}
	return nopCloser{bytes.NewReader(b)}, int64(len(b)), nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// Create returns a writer which stores its data under key when closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, ok := ms.store[key]; ok || ms.pending[key] {
		return nil, errors.Wrap(ErrKeyExists, key)
	}
	ms.pending[key] = true
	return &memWriter{ms: ms, key: key}, nil
}

type memWriter struct {
	bytes.Buffer
	ms  *Memory
	key string
}

func (w *memWriter) Close() error {
	w.ms.m.Lock()
	defer w.ms.m.Unlock()
	if !w.ms.pending[w.key] {
		return errors.Wrap(ErrKeyExists, w.key)
	}
	delete(w.ms.pending, w.key)
	w.ms.store[w.key] = w.Bytes()
	return nil
}

// Delete removes key from the store. It is not an error if the key does
// not exist.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}
