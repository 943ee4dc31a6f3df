package storetest

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/store"
)

// Stress drives s the way a busy repository does. Each writer owns one
// container id and saves numbered versions "<id>-NNNN.zip" of random size,
// pruning older ones as it goes, while readers check every saved version
// against its sha256. All writers also race to create one shared key, which
// exactly one of them may win. If versions is 0 each writer saves 25
// versions. Run it with -race.
func Stress(t *testing.T, s store.Store, versions int) {
	if versions <= 0 {
		versions = 25
	}
	const writers = 6

	sums := &ledger{sum: make(map[string][]byte), gone: make(map[string]bool)}
	saved := make(chan string, writers*versions)
	var readers sync.WaitGroup
	for i := 0; i < 3; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for key := range saved {
				checkVersion(t, s, sums, key)
			}
		}()
	}

	var wins int
	var winLock sync.Mutex
	var pool sync.WaitGroup
	for w := 0; w < writers; w++ {
		pool.Add(1)
		go func(w int) {
			defer pool.Done()
			if raceShared(s, w) {
				winLock.Lock()
				wins++
				winLock.Unlock()
			}
			writeVersions(t, s, sums, saved, fmt.Sprintf("stress%d", w), versions, int64(w))
		}(w)
	}
	pool.Wait()
	close(saved)
	readers.Wait()

	if wins != 1 {
		t.Errorf("shared key created %d times, expected once", wins)
	}
}

// ledger records the hash of every version saved and which were pruned.
type ledger struct {
	m    sync.Mutex
	sum  map[string][]byte
	gone map[string]bool
}

func (l *ledger) saved(key string, sum []byte) {
	l.m.Lock()
	l.sum[key] = sum
	l.m.Unlock()
}

func (l *ledger) pruned(key string) {
	l.m.Lock()
	l.gone[key] = true
	l.m.Unlock()
}

func (l *ledger) lookup(key string) ([]byte, bool) {
	l.m.Lock()
	defer l.m.Unlock()
	return l.sum[key], l.gone[key]
}

// writeVersions saves versions 1 to n of id. After every fourth version the
// oldest remaining one is deleted, and at the end the store must list
// exactly the versions kept, in order.
func writeVersions(t *testing.T, s store.Store, sums *ledger, out chan<- string, id string, n int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	var kept []string
	for v := 1; v <= n; v++ {
		key := fmt.Sprintf("%s-%04d.zip", id, v)
		data := make([]byte, 1+rng.Intn(1<<uint(4+rng.Intn(13))))
		rng.Read(data)

		w, err := s.Create(key)
		if err != nil {
			t.Errorf("Create %s: %s", key, err)
			continue
		}
		if _, err = w.Write(data); err != nil {
			t.Errorf("Write %s: %s", key, err)
		}
		if err = w.Close(); err != nil {
			t.Errorf("Close %s: %s", key, err)
			continue
		}
		sum := sha256.Sum256(data)
		sums.saved(key, sum[:])
		kept = append(kept, key)
		out <- key

		// versions are never rewritten
		if _, err := s.Create(key); errors.Cause(err) != store.ErrKeyExists {
			t.Errorf("Create %s again: got %v", key, err)
		}

		if v%4 == 0 {
			oldest := kept[0]
			kept = kept[1:]
			sums.pruned(oldest)
			if err := s.Delete(oldest); err != nil {
				t.Errorf("Delete %s: %s", oldest, err)
			}
		}
	}

	keys, err := s.ListPrefix(id + "-")
	if err != nil {
		t.Errorf("ListPrefix %s: %s", id, err)
		return
	}
	if len(keys) == 0 {
		keys = nil
	}
	if !reflect.DeepEqual(keys, kept) {
		t.Errorf("%s: listed %v, expected %v", id, keys, kept)
	}
}

// checkVersion reads key back and compares it with the hash it was saved
// with. A version may have been pruned since it was handed over.
func checkVersion(t *testing.T, s store.Store, sums *ledger, key string) {
	rac, size, err := s.Open(key)
	if store.IsNotFound(err) {
		if _, gone := sums.lookup(key); !gone {
			t.Errorf("%s missing but never deleted", key)
		}
		return
	} else if err != nil {
		t.Errorf("Open %s: %s", key, err)
		return
	}
	defer rac.Close()
	h := sha256.New()
	n, err := io.Copy(h, io.NewSectionReader(rac, 0, size))
	if err != nil {
		t.Errorf("Read %s: %s", key, err)
		return
	}
	if n != size {
		t.Errorf("%s: size %d but read %d", key, size, n)
	}
	want, _ := sums.lookup(key)
	if !bytes.Equal(want, h.Sum(nil)) {
		t.Errorf("%s: hash %x, expected %x", key, h.Sum(nil), want)
	}
}

// raceShared tries to save one version of a container every writer wants.
// It returns true if this writer's copy was the one stored.
func raceShared(s store.Store, w int) bool {
	const key = "shared-0001.zip"
	wc, err := s.Create(key)
	if err != nil {
		return false
	}
	fmt.Fprintf(wc, "written by %d", w)
	return wc.Close() == nil
}
