package parsing

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// TempFile copies every stored stream into its own file inside a directory
// made for the session. Closing the store deletes the files and then the
// directory.
type TempFile struct {
	dir string

	m      sync.RWMutex
	files  map[string]string // key -> file path
	closed bool
}

var _ Store = &TempFile{}

// NewTempFile makes a session directory inside parent. If parent is empty the
// system temp directory is used.
func NewTempFile(parent string) (*TempFile, error) {
	dir, err := os.MkdirTemp(parent, "sigbag-parse-")
	if err != nil {
		return nil, errors.Wrap(err, "making parse directory")
	}
	return &TempFile{dir: dir, files: make(map[string]string)}, nil
}

// TempFileFactory returns a Factory making temp file stores under parent.
func TempFileFactory(parent string) Factory {
	return func() (Store, error) {
		return NewTempFile(parent)
	}
}

// Dir returns the session directory.
func (ts *TempFile) Dir() string { return ts.dir }

// Store copies r into a new file.
func (ts *TempFile) Store(key string, r io.Reader) (*Reference, error) {
	ts.m.Lock()
	defer ts.m.Unlock()
	if ts.closed {
		return nil, ErrClosed
	}
	if _, ok := ts.files[key]; ok {
		return nil, errors.Wrap(ErrKeyExists, key)
	}
	f, err := os.CreateTemp(ts.dir, "part-")
	if err != nil {
		return nil, errors.Wrapf(err, "storing %s", key)
	}
	_, err = io.Copy(f, r)
	err2 := f.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, errors.Wrapf(err, "storing %s", key)
	}
	ts.files[key] = f.Name()
	return NewReference(ts, key), nil
}

// Get opens the file holding key.
func (ts *TempFile) Get(key string) (io.ReadCloser, bool, error) {
	ts.m.RLock()
	defer ts.m.RUnlock()
	if ts.closed {
		return nil, false, ErrClosed
	}
	name, ok := ts.files[key]
	if !ok {
		return nil, false, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, false, errors.Wrapf(err, "opening %s", key)
	}
	return f, true, nil
}

// Remove deletes the file holding key.
func (ts *TempFile) Remove(key string) error {
	ts.m.Lock()
	defer ts.m.Unlock()
	if ts.closed {
		return ErrClosed
	}
	name, ok := ts.files[key]
	if !ok {
		return nil
	}
	delete(ts.files, key)
	err := os.Remove(name)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", key)
	}
	return nil
}

// CloseError lists every path which could not be deleted when a TempFile
// store was closed.
type CloseError struct {
	Failures []error
}

func (e *CloseError) Error() string {
	var s []string
	for _, err := range e.Failures {
		s = append(s, err.Error())
	}
	return fmt.Sprintf("%d cleanup failures: %s", len(e.Failures), strings.Join(s, "; "))
}

// Close deletes every file and the session directory. A failure to delete
// one file does not stop the others from being tried. All failures are
// returned together in a *CloseError.
func (ts *TempFile) Close() error {
	ts.m.Lock()
	defer ts.m.Unlock()
	if ts.closed {
		return nil
	}
	ts.closed = true
	var failures []error
	for _, name := range ts.files {
		err := os.Remove(name)
		if err != nil && !os.IsNotExist(err) {
			failures = append(failures, err)
		}
	}
	ts.files = nil
	if err := os.Remove(ts.dir); err != nil && !os.IsNotExist(err) {
		failures = append(failures, err)
	}
	if len(failures) == 0 {
		return nil
	}
	cerr := &CloseError{Failures: failures}
	log.Println("parsing:", ts.dir, cerr)
	raven.CaptureError(cerr, map[string]string{"Dir": ts.dir})
	return cerr
}
