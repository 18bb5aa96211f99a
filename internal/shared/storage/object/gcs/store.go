package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"docmind-backend/internal/shared/storage/object"
)

// Store implements ObjectStore on a Google Cloud Storage bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New creates a GCS-backed object store using application default credentials.
func New(ctx context.Context, bucket, prefix string) (*Store, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Put streams the reader into a new object. The write only succeeds if the
// object does not exist yet.
func (s *Store) Put(ctx context.Context, ownerID int64, fileName, contentType string, r io.Reader) (string, int64, error) {
	storageKey, err := object.NewKey(ownerID, fileName)
	if err != nil {
		return "", 0, err
	}
	objectName := s.objectName(storageKey)

	n, err := upload(ctx, func(wctx context.Context) objectWriter {
		w := s.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(wctx)
		w.ContentType = contentType
		return w
	}, r)
	if err != nil {
		return "", 0, fmt.Errorf("gcs put %s/%s: %w", s.name, objectName, err)
	}
	return storageKey, n, nil
}

type objectWriter interface {
	io.Writer
	Close() error
}

// upload copies r into a writer bound to a cancelable context. Closing a GCS
// writer finalizes the object, so a failed copy cancels instead and the
// partial upload is discarded.
func upload(ctx context.Context, newWriter func(context.Context) objectWriter, r io.Reader) (int64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := newWriter(wctx)
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		return 0, fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	return n, nil
}

// Open returns a reader for a stored object.
func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	objectName := s.objectName(storageKey)
	rc, err := s.bucket.Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gcs object %s: %w", objectName, object.ErrNotExist)
		}
		return nil, fmt.Errorf("gcs open %s/%s: %w", s.name, objectName, err)
	}
	return rc, nil
}

// Delete removes an object; a missing object is not an error.
func (s *Store) Delete(ctx context.Context, storageKey string) error {
	objectName := s.objectName(storageKey)
	if err := s.bucket.Object(objectName).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("gcs delete %s/%s: %w", s.name, objectName, err)
	}
	return nil
}

// List iterates every object below the configured prefix.
func (s *Store) List(ctx context.Context, fn func(object.ObjectInfo) error) error {
	query := &storage.Query{}
	if s.prefix != "" {
		query.Prefix = s.prefix + "/"
	}
	it := s.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gcs list %s: %w", s.name, err)
		}
		info := object.ObjectInfo{
			Key:     strings.TrimPrefix(attrs.Name, query.Prefix),
			Size:    attrs.Size,
			ModTime: attrs.Created,
		}
		if err := fn(info); err != nil {
			return err
		}
	}
}

func (s *Store) objectName(storageKey string) string {
	key := strings.TrimLeft(storageKey, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

var (
	_ object.ObjectStore = (*Store)(nil)
	_ object.Lister      = (*Store)(nil)
)
