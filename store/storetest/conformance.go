// Package storetest has checks for anything implementing store.Store.
package storetest

import (
	"io"
	"reflect"
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/store"
)

// Run checks the behavior every store must have. The store should be empty.
func Run(t *testing.T, s store.Store) {
	put(t, s, "abcd-0001.zip", "first")
	put(t, s, "abcd-0002.zip", "second")
	put(t, s, "efgh-0001.zip", "third")

	if got := get(t, s, "abcd-0002.zip"); got != "second" {
		t.Errorf("Open: got %q", got)
	}

	// values cannot be replaced
	if w, err := s.Create("abcd-0001.zip"); errors.Cause(err) != store.ErrKeyExists {
		if w != nil {
			w.Close()
		}
		t.Errorf("Create of existing key: got %v", err)
	}

	_, _, err := s.Open("nothing-0001.zip")
	if !store.IsNotFound(err) {
		t.Errorf("Open of missing key: got %v", err)
	}

	keys, err := s.ListPrefix("abcd-")
	if err != nil {
		t.Error(err)
	}
	if !reflect.DeepEqual(keys, []string{"abcd-0001.zip", "abcd-0002.zip"}) {
		t.Errorf("ListPrefix: got %v", keys)
	}

	var all []string
	for k := range s.List() {
		all = append(all, k)
	}
	if len(all) != 3 {
		t.Errorf("List: got %v", all)
	}

	if err := s.Delete("abcd-0001.zip"); err != nil {
		t.Error(err)
	}
	if err := s.Delete("abcd-0001.zip"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, _, err := s.Open("abcd-0001.zip"); !store.IsNotFound(err) {
		t.Errorf("Open after Delete: got %v", err)
	}
	// a deleted key may be reused
	put(t, s, "abcd-0001.zip", "again")
	if got := get(t, s, "abcd-0001.zip"); got != "again" {
		t.Errorf("got %q", got)
	}
}

func put(t *testing.T, s store.Store, key, data string) {
	t.Logf("put(%s, %.10s)", key, data)
	w, err := s.Create(key)
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", key, err)
	}
	if _, err = io.WriteString(w, data); err != nil {
		t.Fatalf("Couldn't write %s, %s", key, err)
	}
	if err = w.Close(); err != nil {
		t.Fatalf("Couldn't close %s, %s", key, err)
	}
}

func get(t *testing.T, s store.Store, key string) string {
	rac, size, err := s.Open(key)
	if err != nil {
		t.Fatalf("Couldn't open %s, %s", key, err)
	}
	defer rac.Close()
	b, err := io.ReadAll(io.NewSectionReader(rac, 0, size))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
