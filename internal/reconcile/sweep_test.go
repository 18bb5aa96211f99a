package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docmind-backend/internal/documents"
	"docmind-backend/internal/search"
	"docmind-backend/internal/shared/storage/object"
	localstore "docmind-backend/internal/shared/storage/object/local"
)

type fixture struct {
	repo  *documents.MemoryRepo
	store *localstore.Store
	index *search.MemoryIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		repo:  documents.NewMemoryRepo(),
		store: localstore.New(t.TempDir()),
		index: search.NewMemoryIndex(),
	}
}

// live stores a blob, a row and an index entry for one document.
func (f *fixture) live(t *testing.T, name string) documents.Document {
	t.Helper()
	ctx := context.Background()
	key, size, err := f.store.Put(ctx, 7, name, "text/plain", strings.NewReader("body of "+name))
	require.NoError(t, err)
	doc, err := f.repo.Create(ctx, documents.Document{
		FileName:   name,
		FileType:   "text/plain",
		FileSize:   size,
		StorageKey: key,
		OwnerID:    7,
	})
	require.NoError(t, err)
	require.NoError(t, f.index.Index(ctx, search.Entry{DocumentID: doc.ID, OwnerID: 7, FileName: name, Content: "body"}))
	return doc
}

func (f *fixture) orphanBlob(t *testing.T, name string) string {
	t.Helper()
	key, _, err := f.store.Put(context.Background(), 9, name, "text/plain", strings.NewReader("left behind"))
	require.NoError(t, err)
	return key
}

func (f *fixture) orphanEntry(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, f.index.Index(context.Background(), search.Entry{DocumentID: id, OwnerID: 9, Content: "stray"}))
}

func (f *fixture) sweeper(now time.Time) *Sweeper {
	return &Sweeper{
		Metadata: f.repo,
		Blobs:    f.store,
		Index:    f.index,
		Grace:    time.Hour,
		now:      func() time.Time { return now },
	}
}

func later() time.Time { return time.Now().Add(2 * time.Hour) }

func TestRunRemovesOrphans(t *testing.T) {
	f := newFixture(t)
	doc := f.live(t, "kept.txt")
	orphanKey := f.orphanBlob(t, "orphan.txt")
	f.orphanEntry(t, 999)

	report, err := f.sweeper(later()).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.Blobs.Scanned)
	require.Equal(t, 1, report.Blobs.Orphaned)
	require.Equal(t, 1, report.Blobs.Removed)
	require.Equal(t, 2, report.Index.Scanned)
	require.Equal(t, 1, report.Index.Orphaned)
	require.Equal(t, 1, report.Index.Removed)

	_, err = f.store.Open(context.Background(), orphanKey)
	require.ErrorIs(t, err, object.ErrNotExist)
	require.False(t, f.index.Has(999))

	rc, err := f.store.Open(context.Background(), doc.StorageKey)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.True(t, f.index.Has(doc.ID))
}

func TestRunDryRunLeavesArtifacts(t *testing.T) {
	f := newFixture(t)
	orphanKey := f.orphanBlob(t, "orphan.txt")
	f.orphanEntry(t, 42)

	s := f.sweeper(later())
	s.DryRun = true
	report, err := s.Run(context.Background())
	require.NoError(t, err)

	require.True(t, report.DryRun)
	require.Equal(t, 1, report.Blobs.Orphaned)
	require.Equal(t, 0, report.Blobs.Removed)
	require.Equal(t, 1, report.Index.Orphaned)
	require.Equal(t, 0, report.Index.Removed)

	rc, err := f.store.Open(context.Background(), orphanKey)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.True(t, f.index.Has(42))
}

func TestRunGraceProtectsRecentArtifacts(t *testing.T) {
	f := newFixture(t)
	orphanKey := f.orphanBlob(t, "in-flight.txt")
	f.orphanEntry(t, 5)

	report, err := f.sweeper(time.Now()).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.Blobs.Recent)
	require.Equal(t, 0, report.Blobs.Orphaned)
	require.Equal(t, 1, report.Index.Recent)
	require.Equal(t, 0, report.Index.Orphaned)

	rc, err := f.store.Open(context.Background(), orphanKey)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}

func TestRunSmallBatches(t *testing.T) {
	f := newFixture(t)
	f.live(t, "a.txt")
	f.live(t, "b.txt")
	for i := 0; i < 5; i++ {
		f.orphanBlob(t, "orphan.txt")
		f.orphanEntry(t, int64(100+i))
	}

	s := f.sweeper(later())
	s.BatchSize = 2
	s.Concurrency = 2
	report, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 7, report.Blobs.Scanned)
	require.Equal(t, 5, report.Blobs.Removed)
	require.Equal(t, 7, report.Index.Scanned)
	require.Equal(t, 5, report.Index.Removed)
}

type failingMetadata struct{}

func (failingMetadata) ExistingIDs(context.Context, []int64) (map[int64]bool, error) {
	return nil, errors.New("db down")
}

func (failingMetadata) ExistingStorageKeys(context.Context, []string) (map[string]bool, error) {
	return nil, errors.New("db down")
}

func TestRunAbortsWhenMetadataFails(t *testing.T) {
	f := newFixture(t)
	orphanKey := f.orphanBlob(t, "orphan.txt")

	s := f.sweeper(later())
	s.Metadata = failingMetadata{}
	_, err := s.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "db down")

	rc, err := f.store.Open(context.Background(), orphanKey)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}

type flakyBlobs struct {
	*localstore.Store
	mu    sync.Mutex
	calls int
}

func (b *flakyBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return errors.New("permission denied")
}

func TestRunCountsRemovalFailures(t *testing.T) {
	f := newFixture(t)
	f.orphanBlob(t, "one.txt")
	f.orphanBlob(t, "two.txt")

	blobs := &flakyBlobs{Store: f.store}
	s := f.sweeper(later())
	s.Blobs = blobs
	report, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.Blobs.Orphaned)
	require.Equal(t, 0, report.Blobs.Removed)
	require.Equal(t, 2, report.Blobs.Failed)
	require.Equal(t, 2, blobs.calls)
}

func TestRunSkipsMissingPhases(t *testing.T) {
	f := newFixture(t)
	s := f.sweeper(later())
	s.Blobs = nil
	s.Index = nil

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Blobs.Skipped)
	require.True(t, report.Index.Skipped)
}

func TestRunRequiresMetadata(t *testing.T) {
	_, err := (&Sweeper{}).Run(context.Background())
	require.Error(t, err)
}
