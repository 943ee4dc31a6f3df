package store

import (
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// FileSystem stores each value as a file under root. Files are spread over
// two levels of subdirectories named after the first four characters of the
// key, so "abcdef-0001.zip" lives at root/ab/cd/abcdef-0001.zip.
//
// Values are written into root/scratch and moved into place when the writer
// is closed, so a partly written value is never visible.
type FileSystem struct {
	root string
}

// the subdir to store files while they are being written to.
const scratchdir = "scratch"

var (
	_ Store = &FileSystem{}

	// ErrBadKey means a key cannot be used as a file name.
	ErrBadKey = errors.New("key is not a valid file name")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// Root returns the directory the store keeps its files in.
func (s *FileSystem) Root() string { return s.root }

// List returns a channel listing all the keys in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		walkTree(c, s.root, 0)
		close(c)
	}()
	return c
}

// walkTree sends the name of every file two directories below root. The
// scratch directory is skipped.
func walkTree(out chan<- string, root string, level int) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			// we have no other way of passing this error back
			log.Println("store:", err)
			raven.CaptureError(err, nil)
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			if level < 2 && !(level == 0 && e.Name() == scratchdir) {
				walkTree(out, filepath.Join(root, e.Name()), level+1)
			}
			continue
		}
		if level == 2 {
			out <- e.Name()
		}
	}
}

// ListPrefix returns all the keys beginning with prefix, sorted.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	var glob string
	switch len(prefix) {
	case 0:
		glob = "*/*"
	case 1:
		glob = prefix + "*/*"
	case 2:
		glob = prefix + "/*"
	case 3:
		glob = prefix[0:2] + "/" + prefix[2:3] + "*"
	default:
		glob = prefix[0:2] + "/" + prefix[2:4]
	}
	matches, err := filepath.Glob(filepath.Join(s.root, glob, prefix+"*"))
	if err != nil {
		return nil, err
	}
	var result []string
	for _, m := range matches {
		if strings.HasPrefix(m, filepath.Join(s.root, scratchdir)+string(filepath.Separator)) {
			continue
		}
		result = append(result, filepath.Base(m))
	}
	sort.Strings(result)
	return result, nil
}

// Open returns a reader for the given key along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := validKey(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, errors.Wrap(ErrNotFound, key)
	} else if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

func (s *FileSystem) path(key string) string {
	return filepath.Join(s.root, itemSubdir(key), key)
}

// Create returns a writer saving data under key. The value appears once the
// writer is closed.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	target, err := s.setupSubDir(itemSubdir(key), key)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(target); !os.IsNotExist(err) {
		return nil, errors.Wrap(ErrKeyExists, key)
	}
	temp, err := s.setupSubDir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL keeps two writers of the same key apart
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, errors.Wrap(err, key)
	}
	return &moveCloser{File: w, target: target}, nil
}

// setupSubDir makes sure the given subdirectory exists under the root, and
// then returns the path of key inside it.
func (s *FileSystem) setupSubDir(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// moveCloser moves the file into place when it is closed.
type moveCloser struct {
	*os.File
	target string
}

func (w *moveCloser) Close() error {
	source := w.Name()
	if err := w.File.Close(); err != nil {
		os.Remove(source)
		return err
	}
	if _, err := os.Stat(w.target); !os.IsNotExist(err) {
		os.Remove(source)
		return errors.Wrap(ErrKeyExists, filepath.Base(w.target))
	}
	return os.Rename(source, w.target)
}

// Delete removes key. It is not an error if the key doesn't exist.
func (s *FileSystem) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// itemSubdir returns the subdirectory a key is stored in,
// e.g. "abcdd123" returns "ab/cd/".
func itemSubdir(key string) string {
	switch len(key) {
	case 0:
		return "./"
	case 1, 2:
		return key + "/"
	case 3:
		return key[0:2] + "/" + key[2:3] + "/"
	}
	return key[0:2] + "/" + key[2:4] + "/"
}

// validKey rejects keys which are not plain file names.
func validKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return errors.Wrapf(ErrBadKey, "%q", key)
	case !utf8.ValidString(key):
		return errors.Wrap(ErrBadKey, "not unicode")
	case strings.ContainsAny(key, `/\`):
		return errors.Wrapf(ErrBadKey, "%q contains a slash", key)
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.Wrapf(ErrBadKey, "%q contains space or control characters", key)
		}
	}
	return nil
}
