package object

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned by Open when no object is stored under the key.
var ErrNotExist = errors.New("object does not exist")

// ObjectStore defines the contract for saving, reading and removing binary objects.
// Put always generates a fresh, globally unique storage key. Delete is idempotent:
// removing an absent key is not an error.
type ObjectStore interface {
	Put(ctx context.Context, ownerID int64, fileName, contentType string, r io.Reader) (storageKey string, sizeBytes int64, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}

// ObjectInfo describes a stored object during a listing.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Lister is implemented by stores that can enumerate their objects.
// The orphan sweep depends on it.
type Lister interface {
	List(ctx context.Context, fn func(ObjectInfo) error) error
}
