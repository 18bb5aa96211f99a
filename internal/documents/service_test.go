package documents

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"docmind-backend/internal/search"
	"docmind-backend/internal/shared/telemetry"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	telemetry.SetOutput(&buf)
	t.Cleanup(func() { telemetry.SetOutput(os.Stdout) })
	return &buf
}

func TestIngestThenGetReturnsStoredBytesAndIndexedContent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	up := pdfUpload(7)

	doc, err := f.svc.Ingest(ctx, up)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if doc.ID == 0 || doc.StorageKey == "" || doc.OwnerID != 7 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.FileType != "application/pdf" || doc.FileSize != int64(len(up.Data)) {
		t.Fatalf("unexpected attributes: %+v", doc)
	}

	got, err := f.svc.Get(ctx, doc.ID, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StorageKey != doc.StorageKey {
		t.Fatalf("storage key mismatch: %s vs %s", got.StorageKey, doc.StorageKey)
	}

	_, body, err := f.svc.Open(ctx, doc.ID, 7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(data, up.Data) {
		t.Fatalf("stored bytes differ: %q", data)
	}

	if !f.index.Has(doc.ID) {
		t.Fatalf("expected index entry for %d", doc.ID)
	}
	want := []string{"store.put", "repo.create", "index.index"}
	if got := f.log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestIngestUnsupportedFormatHasNoSideEffects(t *testing.T) {
	f := newFixture()
	f.ext.err = errors.New("cannot parse")

	_, err := f.svc.Ingest(context.Background(), pdfUpload(7))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if calls := f.log.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no backend calls, got %v", calls)
	}
}

func TestIngestStorageFailureLeavesNothing(t *testing.T) {
	f := newFixture()
	f.store.putErr = errors.New("bucket unavailable")

	_, err := f.svc.Ingest(context.Background(), pdfUpload(7))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if f.repo.count() != 0 {
		t.Fatalf("expected no metadata rows")
	}
	want := []string{"store.put"}
	if got := f.log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestIngestPersistFailureDeletesBlob(t *testing.T) {
	f := newFixture()
	backendErr := errors.New("pq: connection refused")
	f.repo.createErr = backendErr

	_, err := f.svc.Ingest(context.Background(), pdfUpload(7))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if errors.Is(err, backendErr) {
		t.Fatalf("backend error must not be reachable through the returned error")
	}
	if f.store.count() != 0 {
		t.Fatalf("expected blob to be compensated away, %d left", f.store.count())
	}
	want := []string{"store.put", "repo.create", "repo.delete_by_key", "store.delete"}
	if got := f.log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestIngestCommittedButFailedCreateRemovesRow(t *testing.T) {
	f := newFixture()
	f.repo.createErr = context.DeadlineExceeded
	f.repo.commitThenFail = true

	_, err := f.svc.Ingest(context.Background(), pdfUpload(7))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if f.repo.count() != 0 {
		t.Fatalf("expected committed row to be removed, %d left", f.repo.count())
	}
	if f.store.count() != 0 {
		t.Fatalf("expected blob to be removed, %d left", f.store.count())
	}
	if _, err := f.svc.Get(context.Background(), 1, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after failed ingest, got %v", err)
	}
	want := []string{"store.put", "repo.create", "repo.delete_by_key", "store.delete"}
	if got := f.log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestIngestDuplicateKeyKeepsExistingRow(t *testing.T) {
	f := newFixture()
	f.repo.createErr = ErrDuplicateStorageKey

	_, err := f.svc.Ingest(context.Background(), pdfUpload(7))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	want := []string{"store.put", "repo.create", "store.delete"}
	if got := f.log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestIngestIndexFailureRemovesRowAndBlob(t *testing.T) {
	f := newFixture()
	f.index.indexErr = errors.New("cluster red")

	_, err := f.svc.Ingest(context.Background(), pdfUpload(7))
	if !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
	if f.repo.count() != 0 {
		t.Fatalf("expected metadata row to be compensated away")
	}
	if f.store.count() != 0 {
		t.Fatalf("expected blob to be compensated away")
	}
	want := []string{"store.put", "repo.create", "index.index", "index.delete", "repo.delete", "store.delete"}
	if got := f.log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestIngestCompensationFailureKeepsPrimaryError(t *testing.T) {
	logs := captureLogs(t)
	f := newFixture()
	f.index.indexErr = errors.New("cluster red")
	f.store.deleteErr = errors.New("bucket unavailable")

	_, err := f.svc.Ingest(context.Background(), pdfUpload(7))
	if !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
	if errors.Is(err, ErrStorage) {
		t.Fatalf("compensation failure must not change the error kind: %v", err)
	}
	if f.repo.count() != 0 {
		t.Fatalf("metadata compensation should still have run")
	}
	out := logs.String()
	if !strings.Contains(out, `"msg":"ingest.compensation_failed"`) || !strings.Contains(out, `"step":"delete_blob"`) {
		t.Fatalf("expected compensation failure log, got:\n%s", out)
	}
	// Each compensation is attempted exactly once.
	deletes := 0
	for _, c := range f.log.snapshot() {
		if c == "store.delete" {
			deletes++
		}
	}
	if deletes != 1 {
		t.Fatalf("expected one blob delete attempt, got %d", deletes)
	}
}

func TestIngestCompensationSurvivesCallerCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.index.onIndex = cancel
	f.index.indexErr = context.Canceled

	_, err := f.svc.Ingest(ctx, pdfUpload(7))
	if !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
	if f.repo.count() != 0 || f.store.count() != 0 {
		t.Fatalf("compensation must run despite caller cancel: rows=%d blobs=%d", f.repo.count(), f.store.count())
	}
}

func TestIngestAppliesBackendTimeout(t *testing.T) {
	f := newFixture()
	f.svc.BackendTimeout = 20 * time.Millisecond
	f.store.blockPut = true

	start := time.Now()
	_, err := f.svc.Ingest(context.Background(), pdfUpload(7))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("ingest did not honor backend timeout: %s", elapsed)
	}
}

func TestIngestRejectsInvalidInput(t *testing.T) {
	f := newFixture()
	cases := []Upload{
		{Data: []byte("x"), FileName: "a.txt", OwnerID: 0},
		{Data: nil, FileName: "a.txt", OwnerID: 7},
		{Data: []byte("x"), FileName: "../etc/passwd", OwnerID: 7},
		{Data: []byte("x"), FileName: "   ", OwnerID: 7},
	}
	for _, up := range cases {
		if _, err := f.svc.Ingest(context.Background(), up); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Ingest(%+v) = %v, want ErrInvalidInput", up, err)
		}
	}
	if calls := f.log.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no backend calls, got %v", calls)
	}
}

func TestNonOwnerGetsSameNotFoundAsMissing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.Ingest(ctx, pdfUpload(7))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	_, foreignErr := f.svc.Get(ctx, doc.ID, 9)
	_, missingErr := f.svc.Get(ctx, doc.ID+100, 9)
	if !errors.Is(foreignErr, ErrNotFound) || !errors.Is(missingErr, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v / %v", foreignErr, missingErr)
	}
	if foreignErr.Error() != missingErr.Error() {
		t.Fatalf("foreign and missing errors must be indistinguishable: %q vs %q", foreignErr, missingErr)
	}
	if err := f.svc.Delete(ctx, doc.ID, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign delete, got %v", err)
	}
	if _, err := f.svc.Get(ctx, doc.ID, 7); err != nil {
		t.Fatalf("owner Get: %v", err)
	}
}

func TestIngestDeleteLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.svc.Ingest(ctx, pdfUpload(7))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if doc.ID != 1 || doc.OwnerID != 7 {
		t.Fatalf("unexpected document: %+v", doc)
	}

	if err := f.svc.Delete(ctx, 1, 7); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, 1, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := f.svc.Delete(ctx, 1, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if f.store.count() != 0 || f.index.Has(1) {
		t.Fatalf("expected blob and index entry to be gone")
	}
}

func TestDeleteNonexistent(t *testing.T) {
	f := newFixture()
	if err := f.svc.Delete(context.Background(), 42, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsLenientOnIndexAndBlobFailures(t *testing.T) {
	logs := captureLogs(t)
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.Ingest(ctx, pdfUpload(7))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	f.index.deleteErr = errors.New("cluster red")
	f.store.deleteErr = errors.New("bucket unavailable")

	if err := f.svc.Delete(ctx, doc.ID, 7); err != nil {
		t.Fatalf("Delete should succeed once metadata is gone: %v", err)
	}
	if _, err := f.svc.Get(ctx, doc.ID, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, "delete.index_failed") || !strings.Contains(out, "delete.blob_failed") {
		t.Fatalf("expected stray artifact logs, got:\n%s", out)
	}
}

func TestDeleteMetadataFailureIsRetrySafe(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.Ingest(ctx, pdfUpload(7))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	f.repo.deleteErr = errors.New("deadlock detected")
	err = f.svc.Delete(ctx, doc.ID, 7)
	if !errors.Is(err, ErrDeleteFailed) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrDeleteFailed matching ErrPersistence, got %v", err)
	}
	if !Retryable(err) {
		t.Fatalf("expected delete failure to be retryable")
	}

	f.repo.deleteErr = nil
	if err := f.svc.Delete(ctx, doc.ID, 7); err != nil {
		t.Fatalf("retry Delete: %v", err)
	}
}

func TestDeleteRowVanishedIsNotFound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.Ingest(ctx, pdfUpload(7))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	f.repo.deleteMisses = true
	if err := f.svc.Delete(ctx, doc.ID, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPersistenceFailure(t *testing.T) {
	f := newFixture()
	f.repo.getErr = errors.New("too many connections")

	_, err := f.svc.Get(context.Background(), 1, 7)
	if !errors.Is(err, ErrPersistence) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestListClampsLimitAndScopesOwner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Ingest(ctx, pdfUpload(7)); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	if _, err := f.svc.Ingest(ctx, pdfUpload(9)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	docs, err := f.svc.List(ctx, 7, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	if docs[0].ID < docs[len(docs)-1].ID {
		t.Fatalf("expected newest first, got %d..%d", docs[0].ID, docs[len(docs)-1].ID)
	}

	docs, err = f.svc.List(ctx, 7, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc on second page, got %d", len(docs))
	}

	if got := clampLimit(500); got != MaxListLimit {
		t.Fatalf("clampLimit(500) = %d", got)
	}
}

func TestSearchDropsEntriesWithoutMetadata(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.Ingest(ctx, pdfUpload(7))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// An entry left behind by a lenient delete.
	if err := f.index.MemoryIndex.Index(ctx, search.Entry{DocumentID: 99, OwnerID: 7, Content: "invoice leftovers"}); err != nil {
		t.Fatalf("seed stray entry: %v", err)
	}

	results, err := f.svc.Search(ctx, 7, "invoice", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != doc.ID {
		t.Fatalf("unexpected results: %+v", results)
	}

	results, err = f.svc.Search(ctx, 9, "invoice", 10)
	if err != nil {
		t.Fatalf("Search other owner: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for other owner, got %+v", results)
	}
}

func TestSearchErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, 7, "   ", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank query, got %v", err)
	}
	if _, err := f.svc.Search(ctx, 7, "!!", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for termless query, got %v", err)
	}
	f.index.searchErr = errors.New("cluster red")
	if _, err := f.svc.Search(ctx, 7, "invoice", 10); !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
}

func TestOpenMissingBlobIsStorageError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.Ingest(ctx, pdfUpload(7))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f.store.mu.Lock()
	delete(f.store.objects, doc.StorageKey)
	f.store.mu.Unlock()

	if _, _, err := f.svc.Open(ctx, doc.ID, 7); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if _, _, err := f.svc.Open(ctx, doc.ID, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-owner, got %v", err)
	}
}
