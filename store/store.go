// Package store provides a goroutine safe key-value interface whose values
// are streams. The repository keeps one container archive per key.
//
// The FileSystem is the store used in practice. Memory is for tests, and S3
// keeps archives in a bucket.
package store

import (
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound means there is nothing stored under a key.
	ErrNotFound = errors.New("key not found")

	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("key already exists")
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store. Values are
// immutable once stored, but they may be deleted and then replaced.
//
// Since the FileSystem store uses the key as file names, keys should not
// contain forbidden filesystem characters, such as '/'.
//
// Open returns a ReadAtCloser since archives are read by seeking to their
// central directory.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only part of a Store.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

// IsNotFound is true if err means a key was missing.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}
