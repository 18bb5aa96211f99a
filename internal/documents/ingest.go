package documents

import (
	"bytes"
	"context"
	"errors"
	"time"

	"docmind-backend/internal/extract"
	"docmind-backend/internal/search"
	"docmind-backend/internal/shared/metrics"
	"docmind-backend/internal/shared/telemetry"
	"docmind-backend/internal/shared/util"
)

// ingestState is how far one ingest attempt has committed.
type ingestState int

const (
	stateStarted ingestState = iota
	stateExtracted
	stateUploaded
	statePersisted
	stateIndexed
)

func (s ingestState) String() string {
	switch s {
	case stateExtracted:
		return "extracted"
	case stateUploaded:
		return "uploaded"
	case statePersisted:
		return "persisted"
	case stateIndexed:
		return "indexed"
	default:
		return "started"
	}
}

type compensation struct {
	step string
	run  func(ctx context.Context) error
}

// ingestAttempt carries one Ingest call through its states. Each state that
// leaves something behind registers the action that undoes it.
type ingestAttempt struct {
	svc      *Service
	upload   Upload
	state    ingestState
	fileType string
	text     string
	doc      Document
	undo     []compensation
}

// Ingest extracts, stores, records and indexes an upload. On failure after a
// partial write, completed steps are undone once, newest first, and the
// original error is returned.
func (s *Service) Ingest(ctx context.Context, up Upload) (doc Document, err error) {
	if up.OwnerID <= 0 {
		return Document{}, newError("ingest", ErrInvalidInput, errors.New("owner id required"))
	}
	if len(up.Data) == 0 {
		return Document{}, newError("ingest", ErrInvalidInput, errors.New("empty upload"))
	}
	name, err := util.SanitizeFileName(up.FileName)
	if err != nil {
		return Document{}, newError("ingest", ErrInvalidInput, err)
	}
	up.FileName = name

	metrics.IncIngestStarted()
	start := time.Now()
	a := &ingestAttempt{svc: s, upload: up}

	defer func() {
		metrics.ObserveIngestDurationMs(metrics.SinceMillis(start))
		if err != nil {
			metrics.IncIngestFailed(KindName(err))
			a.compensate(ctx, err)
			return
		}
		metrics.IncIngestCompleted()
	}()

	for _, step := range []func(context.Context) error{a.extract, a.store, a.persist, a.index} {
		if err := step(ctx); err != nil {
			return Document{}, err
		}
	}

	telemetry.Info("document.ingested", map[string]any{
		"document_id": a.doc.ID,
		"owner_id":    a.doc.OwnerID,
		"file_type":   a.doc.FileType,
		"file_size":   a.doc.FileSize,
	})
	return a.doc, nil
}

func (a *ingestAttempt) extract(ctx context.Context) error {
	a.fileType = extract.ResolveMimeType(a.upload.MimeType, a.upload.FileName, a.upload.Data)

	var text string
	err := a.svc.call(ctx, func(c context.Context) error {
		var xerr error
		text, xerr = a.svc.Extractor.Extract(c, a.upload.Data, a.fileType, a.upload.FileName)
		return xerr
	})
	if err != nil {
		return newError("ingest.extract", ErrUnsupportedFormat, err)
	}
	a.text = text
	a.state = stateExtracted
	return nil
}

func (a *ingestAttempt) store(ctx context.Context) error {
	var (
		key  string
		size int64
	)
	err := a.svc.call(ctx, func(c context.Context) error {
		var perr error
		key, size, perr = a.svc.Store.Put(c, a.upload.OwnerID, a.upload.FileName, a.fileType, bytes.NewReader(a.upload.Data))
		return perr
	})
	if err != nil {
		return newError("ingest.store", ErrStorage, err)
	}

	a.doc = Document{
		FileName:   a.upload.FileName,
		FileType:   a.fileType,
		FileSize:   size,
		StorageKey: key,
		OwnerID:    a.upload.OwnerID,
	}
	a.state = stateUploaded
	a.push("delete_blob", func(c context.Context) error {
		return a.svc.Store.Delete(c, key)
	})
	return nil
}

func (a *ingestAttempt) persist(ctx context.Context) error {
	var created Document
	err := a.svc.call(ctx, func(c context.Context) error {
		var cerr error
		created, cerr = a.svc.Repo.Create(c, a.doc)
		return cerr
	})
	if err != nil {
		// The insert may have committed even though the call failed, e.g. a
		// client-side timeout. The key is unique to this attempt, so removing
		// by key cannot touch another document.
		if !errors.Is(err, ErrDuplicateStorageKey) {
			key := a.doc.StorageKey
			a.push("delete_metadata_by_storage_key", func(c context.Context) error {
				_, derr := a.svc.Repo.DeleteByStorageKey(c, key)
				return derr
			})
		}
		return newError("ingest.persist", ErrPersistence, err)
	}

	a.doc = created
	a.state = statePersisted
	id := created.ID
	a.push("delete_metadata", func(c context.Context) error {
		_, derr := a.svc.Repo.DeleteByID(c, id)
		return derr
	})
	return nil
}

func (a *ingestAttempt) index(ctx context.Context) error {
	id := a.doc.ID
	// A timed-out write may still land, so the entry is removed on failure too.
	a.push("delete_index_entry", func(c context.Context) error {
		return a.svc.Index.Delete(c, id)
	})

	err := a.svc.call(ctx, func(c context.Context) error {
		return a.svc.Index.Index(c, search.Entry{
			DocumentID: id,
			OwnerID:    a.doc.OwnerID,
			FileName:   a.doc.FileName,
			Content:    a.text,
		})
	})
	if err != nil {
		return newError("ingest.index", ErrIndex, err)
	}
	a.state = stateIndexed
	return nil
}

func (a *ingestAttempt) push(step string, run func(context.Context) error) {
	a.undo = append(a.undo, compensation{step: step, run: run})
}

// compensate runs registered undo actions newest first, once each. It is
// detached from caller cancellation and never changes the returned error.
func (a *ingestAttempt) compensate(ctx context.Context, cause error) {
	if len(a.undo) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	for i := len(a.undo) - 1; i >= 0; i-- {
		c := a.undo[i]
		err := a.svc.call(detached, c.run)
		metrics.IncCompensation(err != nil)

		fields := map[string]any{
			"step":        c.step,
			"state":       a.state.String(),
			"owner_id":    a.upload.OwnerID,
			"storage_key": a.doc.StorageKey,
			"cause":       cause,
		}
		if a.doc.ID != 0 {
			fields["document_id"] = a.doc.ID
		}
		if err != nil {
			fields["error"] = err
			telemetry.Warn("ingest.compensation_failed", fields)
			continue
		}
		telemetry.Info("ingest.compensated", fields)
	}
	a.undo = nil
}
