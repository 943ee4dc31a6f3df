package cache

import (
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/store"
)

func put(t *testing.T, c *LRU, key, data string) error {
	w, err := c.Put(key)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, data)
	w.Close()
	return err
}

func TestEviction(t *testing.T) {
	cache := NewLRU(store.NewMemory(), 100)
	// "hello world" is 11 bytes. so 10 should cause a cache eviction
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("hello-%d", i)
		if err := put(t, cache, key, "hello world"); err != nil {
			t.Fatalf("received %s", err)
		}
	}

	// the least recently used is evicted first
	r, _, err := cache.Get("hello-0")
	if err != nil || r != nil {
		t.Errorf("hello-0 still in cache")
	}
	for i := 1; i < 10; i++ {
		key := fmt.Sprintf("hello-%d", i)
		r, size, err := cache.Get(key)
		if err != nil {
			t.Fatalf("received %s", err)
		}
		if r == nil {
			t.Errorf("%s evicted", key)
			continue
		}
		if size != 11 {
			t.Errorf("Received size %d, expected %d", size, 11)
		}
		r.Close()
	}
	if cache.Size() != 99 {
		t.Errorf("Cache size is %d", cache.Size())
	}
}

func TestGetRefreshes(t *testing.T) {
	cache := NewLRU(store.NewMemory(), 30)
	put(t, cache, "a", "0123456789")
	put(t, cache, "b", "0123456789")
	put(t, cache, "c", "0123456789")
	r, _, _ := cache.Get("a")
	r.Close()
	put(t, cache, "d", "0123456789")
	if !cache.Contains("a") || cache.Contains("b") {
		t.Errorf("expected b to be evicted")
	}
}

func TestTooLargeItem(t *testing.T) {
	cache := NewLRU(store.NewMemory(), 100)
	key := "qwerty"
	w, err := cache.Put(key)
	if err != nil {
		t.Fatalf("received %s", err)
	}
	// write this in pieces. should error on last one
	for i := 0; i < 10; i++ {
		_, err = w.Write([]byte("hello world"))
		if err != nil {
			t.Logf("Received error %s", err)
			break
		}
	}
	if err != ErrCacheFull {
		t.Errorf("Did not receive ErrCacheFull")
	}
	w.Close()
	if cache.Size() != 0 {
		t.Errorf("Cache size is %d. Expected %d", cache.Size(), 0)
	}
	if cache.Contains(key) {
		t.Errorf("partial item was cached")
	}
	// the key may be tried again
	if err := put(t, cache, key, "short"); err != nil {
		t.Error(err)
	}
}

func TestPutTwice(t *testing.T) {
	cache := NewLRU(store.NewMemory(), 100)
	w, err := cache.Put("a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Put("a"); errors.Cause(err) != ErrPending {
		t.Errorf("Got %v", err)
	}
	w.Close()
	if _, err := cache.Put("a"); errors.Cause(err) != ErrPending {
		t.Errorf("Got %v", err)
	}
	if err := cache.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if err := put(t, cache, "a", "again"); err != nil {
		t.Error(err)
	}
	if err := cache.Delete("missing"); err != nil {
		t.Error(err)
	}
}

func TestScan(t *testing.T) {
	mem := store.NewMemory()

	// populate the store
	var table = []struct {
		key, contents string
	}{
		{"qwerty", "1234567890"},
		{"asdf", "1234567890-="},
		{"zxcv", "abcdefghijklmnopqrstuvwxyz"},
	}

	for _, elem := range table {
		w, err := mem.Create(elem.key)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(elem.contents))
		w.Close()
	}

	// now set up the cache and scan it
	cache := NewLRU(mem, 100)
	cache.Scan()
	for _, elem := range table {
		t.Logf("Doing %s", elem.key)
		r, _, _ := cache.Get(elem.key)
		if r == nil {
			t.Errorf("key %s: nil", elem.key)
			continue
		}
		r.Close()
	}

	// now set up a small cache and scan that
	cache = NewLRU(mem, 15)
	cache.Scan()
	if cache.Size() > 15 {
		t.Errorf("Cache size is %d", cache.Size())
	}
}
