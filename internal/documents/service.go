package documents

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"docmind-backend/internal/search"
	"docmind-backend/internal/shared/metrics"
	"docmind-backend/internal/shared/storage/object"
	"docmind-backend/internal/shared/telemetry"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

// Extractor turns upload bytes into searchable text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error)
}

// Service coordinates the object store, the metadata repo and the search
// index for the document lifecycle.
type Service struct {
	Repo      Repo
	Store     object.ObjectStore
	Index     search.Index
	Extractor Extractor

	// BackendTimeout bounds every individual backend call. Zero disables it.
	BackendTimeout time.Duration
}

func (s *Service) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.BackendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.BackendTimeout)
}

// Get returns the document if it exists and is owned by requesterID.
// Missing and foreign documents both yield ErrNotFound.
func (s *Service) Get(ctx context.Context, id, requesterID int64) (Document, error) {
	return s.authorize(ctx, "get", id, requesterID)
}

func (s *Service) authorize(ctx context.Context, op string, id, requesterID int64) (Document, error) {
	if id <= 0 || requesterID <= 0 {
		return Document{}, newError(op, ErrNotFound, nil)
	}

	cctx, cancel := s.backendContext(ctx)
	defer cancel()

	doc, err := s.Repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Document{}, newError(op, ErrNotFound, nil)
		}
		return Document{}, newError(op, ErrPersistence, err)
	}
	if doc.OwnerID != requesterID {
		return Document{}, newError(op, ErrNotFound, nil)
	}
	return doc, nil
}

// Delete removes a document. Index and blob removal are best effort; the
// metadata delete decides the outcome and is safe to retry.
func (s *Service) Delete(ctx context.Context, id, requesterID int64) error {
	const op = "delete"

	doc, err := s.authorize(ctx, op, id, requesterID)
	if err != nil {
		return err
	}

	fields := map[string]any{"document_id": doc.ID, "owner_id": doc.OwnerID, "storage_key": doc.StorageKey}

	if err := s.call(ctx, func(c context.Context) error { return s.Index.Delete(c, doc.ID) }); err != nil {
		metrics.IncStrayArtifact("search_index")
		telemetry.Warn("delete.index_failed", withError(fields, err))
	}

	if err := s.call(ctx, func(c context.Context) error { return s.Store.Delete(c, doc.StorageKey) }); err != nil {
		metrics.IncStrayArtifact("object_store")
		telemetry.Warn("delete.blob_failed", withError(fields, err))
	}

	var deleted bool
	err = s.call(ctx, func(c context.Context) error {
		var derr error
		deleted, derr = s.Repo.DeleteByID(c, doc.ID)
		return derr
	})
	if err != nil {
		metrics.IncDelete(true)
		telemetry.Error("delete.metadata_failed", withError(fields, err))
		return newError(op, ErrDeleteFailed, err)
	}
	if !deleted {
		// Lost a race with a concurrent delete.
		return newError(op, ErrNotFound, nil)
	}

	metrics.IncDelete(false)
	telemetry.Info("document.deleted", fields)
	return nil
}

// List returns the owner's documents newest first. limit is clamped to
// [1, MaxListLimit]; zero or negative selects DefaultListLimit.
func (s *Service) List(ctx context.Context, ownerID int64, limit, offset int) ([]Document, error) {
	if ownerID <= 0 {
		return nil, newError("list", ErrInvalidInput, errors.New("owner id required"))
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var docs []Document
	err := s.call(ctx, func(c context.Context) error {
		var lerr error
		docs, lerr = s.Repo.ListByOwner(c, ownerID, limit, offset)
		return lerr
	})
	if err != nil {
		return nil, newError("list", ErrPersistence, err)
	}
	return docs, nil
}

// Open returns the document and a reader over its stored bytes. The caller
// must close the reader.
func (s *Service) Open(ctx context.Context, id, requesterID int64) (Document, io.ReadCloser, error) {
	const op = "open"

	doc, err := s.authorize(ctx, op, id, requesterID)
	if err != nil {
		return Document{}, nil, err
	}

	// The body streams after Open returns, so it is bounded by the caller's
	// context rather than the per-call timeout.
	cctx, cancel := context.WithCancel(ctx)
	body, err := s.Store.Open(cctx, doc.StorageKey)
	if err != nil {
		cancel()
		if errors.Is(err, object.ErrNotExist) {
			telemetry.Error("document.blob_missing", map[string]any{"document_id": doc.ID, "storage_key": doc.StorageKey})
		}
		return Document{}, nil, newError(op, ErrStorage, err)
	}
	return doc, &cancelOnClose{ReadCloser: body, cancel: cancel}, nil
}

// Search runs an owner-scoped full-text query. Hits without a live metadata
// row owned by ownerID are dropped.
func (s *Service) Search(ctx context.Context, ownerID int64, query string, limit int) ([]SearchResult, error) {
	const op = "search"

	query = strings.TrimSpace(query)
	if ownerID <= 0 || query == "" {
		return nil, newError(op, ErrInvalidInput, errors.New("query required"))
	}
	limit = clampLimit(limit)

	var hits []search.Hit
	err := s.call(ctx, func(c context.Context) error {
		var serr error
		hits, serr = s.Index.Search(c, ownerID, query, limit)
		return serr
	})
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return nil, newError(op, ErrInvalidInput, err)
		}
		return nil, newError(op, ErrIndex, err)
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.DocumentID)
	}

	var docs map[int64]Document
	err = s.call(ctx, func(c context.Context) error {
		var gerr error
		docs, gerr = s.Repo.GetManyByOwner(c, ownerID, ids)
		return gerr
	})
	if err != nil {
		return nil, newError(op, ErrPersistence, err)
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.DocumentID]
		if !ok {
			telemetry.Warn("search.stray_index_entry", map[string]any{"document_id": h.DocumentID, "owner_id": ownerID})
			continue
		}
		out = append(out, SearchResult{Document: doc, Score: h.Score, Snippet: h.Snippet})
	}
	return out, nil
}

// call runs fn under the per-call backend timeout.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := s.backendContext(ctx)
	defer cancel()
	return fn(cctx)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func withError(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err
	return out
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
