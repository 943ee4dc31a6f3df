package parsing

import (
	"bytes"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Memory keeps everything in a map. It has no size limit, so it should only
// be used for archives known to fit in memory.
type Memory struct {
	m      sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ Store = &Memory{}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// MemoryFactory is a Factory for memory stores.
func MemoryFactory() (Store, error) {
	return NewMemory(), nil
}

// Store reads all of r into memory.
func (ms *Memory) Store(key string, r io.Reader) (*Reference, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "storing %s", key)
	}
	ms.m.Lock()
	defer ms.m.Unlock()
	if ms.closed {
		return nil, ErrClosed
	}
	if _, ok := ms.data[key]; ok {
		return nil, errors.Wrap(ErrKeyExists, key)
	}
	ms.data[key] = b
	return NewReference(ms, key), nil
}

// Get returns a reader over the stored bytes.
func (ms *Memory) Get(key string) (io.ReadCloser, bool, error) {
	ms.m.RLock()
	defer ms.m.RUnlock()
	if ms.closed {
		return nil, false, ErrClosed
	}
	b, ok := ms.data[key]
	if !ok {
		return nil, false, nil
	}
	return io.NopCloser(bytes.NewReader(b)), true, nil
}

// Remove drops key from the map.
func (ms *Memory) Remove(key string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	if ms.closed {
		return ErrClosed
	}
	delete(ms.data, key)
	return nil
}

// Close clears the map.
func (ms *Memory) Close() error {
	ms.m.Lock()
	ms.data = nil
	ms.closed = true
	ms.m.Unlock()
	return nil
}
