/*
Package repository keeps versioned containers in a store.

Every change to a container is saved as a new version under its own key,
"<id>-NNNN.zip", and earlier versions are never rewritten. The largest
numbered version is the current one. Version numbers start at 1 but need not
be consecutive, since old versions may be deleted from the store.

Container ids may not contain '-', '/' or spaces.
*/
package repository

import (
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/cache"
	"github.com/ndlib/sigbag/container"
	"github.com/ndlib/sigbag/store"
	"github.com/ndlib/sigbag/verify"
)

var (
	ErrBadID    = errors.New("bad container id")
	ErrNoItem   = errors.New("no container with that id")
	ErrExists   = errors.New("container already exists")
	ErrDamaged  = errors.New("current version of container is damaged")
	ErrNoChange = errors.New("nothing to add")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// Repository saves containers into S.
type Repository struct {
	S        store.Store
	Reader   *container.Reader
	Packager *container.Packager
	Policy   *verify.Policy // nil means verify.DefaultPolicy
	Cache    cache.Cache    // optional, holds recently read versions

	locks sync.Map // id -> *sync.Mutex, serializes writers of one id
}

// New returns a repository over s.
func New(s store.Store, r *container.Reader, p *container.Packager) *Repository {
	return &Repository{S: s, Reader: r, Packager: p}
}

// turn a container id and a version number n into a store key
func sugar(id string, n int) string {
	return fmt.Sprintf("%s-%04d.zip", id, n)
}

// extract a container id and a version number from a store key.
// The id is "" if the key could not be decoded.
func desugar(s string) (id string, n int) {
	s, ok := strings.CutSuffix(s, ".zip")
	if !ok {
		return "", 0
	}
	z := strings.Split(s, "-")
	if len(z) != 2 || !validID.MatchString(z[0]) {
		return "", 0
	}
	n64, err := strconv.ParseInt(z[1], 10, 0)
	if err != nil || n64 <= 0 {
		return "", 0
	}
	return z[0], int(n64)
}

func checkID(id string) error {
	if !validID.MatchString(id) {
		return errors.Wrapf(ErrBadID, "%q", id)
	}
	return nil
}

func (r *Repository) lock(id string) func() {
	m, _ := r.locks.LoadOrStore(id, new(sync.Mutex))
	m.(*sync.Mutex).Lock()
	return m.(*sync.Mutex).Unlock
}

// List returns a channel giving the id of every container in the store.
func (r *Repository) List() <-chan string {
	out := make(chan string)
	go func() {
		seen := make(map[string]bool)
		for key := range r.S.List() {
			id, _ := desugar(key)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out <- id
		}
		close(out)
	}()
	return out
}

// Versions returns the version numbers of id in increasing order.
func (r *Repository) Versions(id string) ([]int, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	keys, err := r.S.ListPrefix(id + "-")
	if err != nil {
		return nil, err
	}
	var result []int
	for _, key := range keys {
		slug, n := desugar(key)
		if slug == id {
			result = append(result, n)
		}
	}
	sort.Ints(result)
	return result, nil
}

// latest returns the largest version of id, or 0 if there is none.
func (r *Repository) latest(id string) (int, error) {
	vs, err := r.Versions(id)
	if err != nil || len(vs) == 0 {
		return 0, err
	}
	return vs[len(vs)-1], nil
}

// Open reads the current version of id, returning it and its version number.
// A damaged container is returned along with its *container.ReadError. The
// caller must close the container.
func (r *Repository) Open(id string) (*container.Container, int, error) {
	n, err := r.latest(id)
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, errors.Wrap(ErrNoItem, id)
	}
	c, err := r.OpenVersion(id, n)
	return c, n, err
}

// OpenVersion reads version n of id.
func (r *Repository) OpenVersion(id string, n int) (*container.Container, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	rac, size, err := r.open(sugar(id, n))
	if store.IsNotFound(err) {
		return nil, errors.Wrapf(ErrNoItem, "%s version %d", id, n)
	} else if err != nil {
		return nil, err
	}
	// the reader copies every entry into its parsing store
	defer rac.Close()
	return r.Reader.Read(rac, size)
}

// OpenRaw opens the stored archive of version n of id without parsing it.
// If n is 0 the current version is opened. The version opened is returned
// along with the reader and its size.
func (r *Repository) OpenRaw(id string, n int) (store.ReadAtCloser, int64, int, error) {
	if err := checkID(id); err != nil {
		return nil, 0, 0, err
	}
	if n == 0 {
		var err error
		n, err = r.latest(id)
		if err != nil {
			return nil, 0, 0, err
		}
		if n == 0 {
			return nil, 0, 0, errors.Wrap(ErrNoItem, id)
		}
	}
	rac, size, err := r.open(sugar(id, n))
	if store.IsNotFound(err) {
		return nil, 0, 0, errors.Wrapf(ErrNoItem, "%s version %d", id, n)
	}
	return rac, size, n, err
}

// open reads key through the cache, if there is one. Versions never change
// once saved, so a cached copy is always current.
func (r *Repository) open(key string) (store.ReadAtCloser, int64, error) {
	if r.Cache == nil {
		return r.S.Open(key)
	}
	rac, size, err := r.Cache.Get(key)
	if err != nil {
		log.Printf("repository: cache get %s: %s", key, err)
	} else if rac != nil {
		return rac, size, nil
	}
	rac, size, err = r.S.Open(key)
	if err != nil {
		return nil, 0, err
	}
	r.fill(key, rac, size)
	return rac, size, nil
}

// fill copies key into the cache. Failures only mean the next read goes to
// the store again.
func (r *Repository) fill(key string, rac store.ReadAtCloser, size int64) {
	w, err := r.Cache.Put(key)
	if err != nil {
		// someone else is caching it
		return
	}
	_, err = io.Copy(w, io.NewSectionReader(rac, 0, size))
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	if err != nil && errors.Cause(err) != cache.ErrCacheFull {
		log.Printf("repository: caching %s: %s", key, err)
	}
}

// openCurrent is Open for writers, which refuse to build on a damaged
// container.
func (r *Repository) openCurrent(id string) (*container.Container, int, error) {
	c, n, err := r.Open(id)
	if _, ok := err.(*container.ReadError); ok {
		c.Close()
		return nil, 0, errors.Wrapf(ErrDamaged, "%s: %s", id, err)
	}
	return c, n, err
}

// save writes c as version n of id. Nothing is left behind if writing fails.
func (r *Repository) save(id string, n int, c *container.Container) error {
	key := sugar(id, n)
	w, err := r.S.Create(key)
	if err != nil {
		return err
	}
	err = container.Write(w, c)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		log.Printf("repository: saving %s: %s", key, err)
		r.S.Delete(key)
		return errors.Wrap(err, key)
	}
	log.Printf("repository: saved %s", key)
	return nil
}

// saveAs is save returning the version number, or 0 on failure.
func (r *Repository) saveAs(id string, n int, c *container.Container) (int, error) {
	if err := r.save(id, n, c); err != nil {
		return 0, err
	}
	return n, nil
}

// Create packages a new container with the given documents and
// annotations. It returns the version number, which is 1.
func (r *Repository) Create(id string, docs []container.Document, annots []container.Annotation) (int, error) {
	if err := checkID(id); err != nil {
		return 0, err
	}
	defer r.lock(id)()
	n, err := r.latest(id)
	if err != nil {
		return 0, err
	}
	if n != 0 {
		return 0, errors.Wrap(ErrExists, id)
	}
	c, err := r.Packager.Package(nil, docs, annots)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	return r.saveAs(id, 1, c)
}

// Add signs a new content holding docs and annots into the current version
// of id and saves the result as a new version. The container is created if
// it does not exist.
func (r *Repository) Add(id string, docs []container.Document, annots []container.Annotation) (int, error) {
	if err := checkID(id); err != nil {
		return 0, err
	}
	if len(docs) == 0 && len(annots) == 0 {
		return 0, ErrNoChange
	}
	defer r.lock(id)()
	c, n, err := r.openCurrent(id)
	if errors.Cause(err) == ErrNoItem {
		c, n, err = nil, 0, nil
	}
	if err != nil {
		return 0, err
	}
	result, err := r.Packager.Package(c, docs, annots)
	if err != nil {
		if c != nil {
			c.Close()
		}
		return 0, err
	}
	defer result.Close()
	return r.saveAs(id, n+1, result)
}

// Merge combines other with the current version of id and saves the result
// as a new version. If the two clash nothing is saved and a
// *container.MergeError is returned. If id does not exist, other becomes its
// first version. The caller still owns other.
func (r *Repository) Merge(id string, other *container.Container) (int, error) {
	if err := checkID(id); err != nil {
		return 0, err
	}
	defer r.lock(id)()
	c, n, err := r.openCurrent(id)
	if errors.Cause(err) == ErrNoItem {
		return r.saveAs(id, 1, other)
	}
	if err != nil {
		return 0, err
	}
	defer c.Close()
	merged, err := container.Merge(c, other)
	if err != nil {
		return 0, err
	}
	// merged is not closed, since closing it would close other
	return r.saveAs(id, n+1, merged)
}

// Verify checks the current version of id. A damaged container is verified
// too; the damage shows in the results. The caller must close the result.
func (r *Repository) Verify(id string) (*verify.VerifiedContainer, int, error) {
	c, n, err := r.Open(id)
	if _, ok := err.(*container.ReadError); ok {
		err = nil
	}
	if err != nil {
		return nil, 0, err
	}
	return verify.Verify(c, r.Policy), n, nil
}

// Delete removes version n of id.
func (r *Repository) Delete(id string, n int) error {
	if err := checkID(id); err != nil {
		return err
	}
	defer r.lock(id)()
	key := sugar(id, n)
	if r.Cache != nil {
		if err := r.Cache.Delete(key); err != nil {
			log.Printf("repository: cache delete %s: %s", key, err)
		}
	}
	return r.S.Delete(key)
}
