// Package reconcile removes blobs and index entries that no metadata row
// refers to. Such artifacts are left behind by lenient deletes and by
// compensations that failed during ingest.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"docmind-backend/internal/search"
	"docmind-backend/internal/shared/storage/object"
	"docmind-backend/internal/shared/telemetry"
)

const (
	DefaultBatchSize   = 500
	DefaultConcurrency = 8
	DefaultGrace       = time.Hour
)

// Metadata answers which ids and storage keys still have a row.
type Metadata interface {
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	ExistingStorageKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// BlobStore is an object store that can enumerate its keys.
type BlobStore interface {
	object.Lister
	Delete(ctx context.Context, storageKey string) error
}

// IndexStore is a search index that can enumerate its entries.
type IndexStore interface {
	search.Lister
	Delete(ctx context.Context, documentID int64) error
}

// Sweeper finds and removes orphaned artifacts. Blobs or Index may be nil to
// skip that phase.
type Sweeper struct {
	Metadata Metadata
	Blobs    BlobStore
	Index    IndexStore

	// Grace protects artifacts newer than this from removal, so that an
	// ingest in flight between store and persist is never swept.
	Grace       time.Duration
	BatchSize   int
	Concurrency int
	DryRun      bool

	now func() time.Time
}

// PhaseReport counts what one phase saw and did.
type PhaseReport struct {
	Skipped  bool `json:"skipped,omitempty"`
	Scanned  int  `json:"scanned"`
	Recent   int  `json:"recent"`
	Orphaned int  `json:"orphaned"`
	Removed  int  `json:"removed"`
	Failed   int  `json:"failed"`
}

// Report summarizes a sweep.
type Report struct {
	DryRun bool        `json:"dryRun"`
	Blobs  PhaseReport `json:"blobs"`
	Index  PhaseReport `json:"index"`
}

// Run sweeps blobs and index entries concurrently. Listing or metadata
// failures abort the sweep; individual removal failures are counted and
// logged.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	if s.Metadata == nil {
		return Report{}, errors.New("reconcile: metadata source required")
	}
	report := Report{DryRun: s.DryRun}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if s.Blobs == nil {
			report.Blobs.Skipped = true
			return nil
		}
		r, err := s.sweepBlobs(gctx)
		report.Blobs = r
		if err != nil {
			return fmt.Errorf("sweep blobs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if s.Index == nil {
			report.Index.Skipped = true
			return nil
		}
		r, err := s.sweepIndex(gctx)
		report.Index = r
		if err != nil {
			return fmt.Errorf("sweep index: %w", err)
		}
		return nil
	})
	err := g.Wait()

	telemetry.Info("reconcile.finished", map[string]any{
		"dry_run":        report.DryRun,
		"blobs_scanned":  report.Blobs.Scanned,
		"blobs_orphaned": report.Blobs.Orphaned,
		"blobs_removed":  report.Blobs.Removed,
		"index_scanned":  report.Index.Scanned,
		"index_orphaned": report.Index.Orphaned,
		"index_removed":  report.Index.Removed,
		"failed":         report.Blobs.Failed + report.Index.Failed,
	})
	return report, err
}

func (s *Sweeper) sweepBlobs(ctx context.Context) (PhaseReport, error) {
	var r PhaseReport
	cutoff := s.cutoff()
	batch := make([]string, 0, s.batchSize())

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		existing, err := s.Metadata.ExistingStorageKeys(ctx, batch)
		if err != nil {
			return fmt.Errorf("check storage keys: %w", err)
		}
		var orphans []string
		for _, key := range batch {
			if !existing[key] {
				orphans = append(orphans, key)
			}
		}
		batch = batch[:0]
		removed, failed := s.remove(ctx, len(orphans), func(c context.Context, i int) error {
			key := orphans[i]
			if s.DryRun {
				telemetry.Info("reconcile.orphan_blob", map[string]any{"storage_key": key, "dry_run": true})
				return nil
			}
			if err := s.Blobs.Delete(c, key); err != nil {
				telemetry.Warn("reconcile.remove_failed", map[string]any{"storage_key": key, "error": err})
				return err
			}
			return nil
		})
		r.Orphaned += len(orphans)
		r.Removed += removed
		r.Failed += failed
		return nil
	}

	err := s.Blobs.List(ctx, func(info object.ObjectInfo) error {
		r.Scanned++
		if info.ModTime.After(cutoff) {
			r.Recent++
			return nil
		}
		batch = append(batch, info.Key)
		if len(batch) >= s.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	return r, flush()
}

func (s *Sweeper) sweepIndex(ctx context.Context) (PhaseReport, error) {
	var r PhaseReport
	cutoff := s.cutoff()
	batch := make([]int64, 0, s.batchSize())

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		existing, err := s.Metadata.ExistingIDs(ctx, batch)
		if err != nil {
			return fmt.Errorf("check document ids: %w", err)
		}
		var orphans []int64
		for _, id := range batch {
			if !existing[id] {
				orphans = append(orphans, id)
			}
		}
		batch = batch[:0]
		removed, failed := s.remove(ctx, len(orphans), func(c context.Context, i int) error {
			id := orphans[i]
			if s.DryRun {
				telemetry.Info("reconcile.orphan_index_entry", map[string]any{"document_id": id, "dry_run": true})
				return nil
			}
			if err := s.Index.Delete(c, id); err != nil {
				telemetry.Warn("reconcile.remove_failed", map[string]any{"document_id": id, "error": err})
				return err
			}
			return nil
		})
		r.Orphaned += len(orphans)
		r.Removed += removed
		r.Failed += failed
		return nil
	}

	err := s.Index.List(ctx, func(rec search.Record) error {
		r.Scanned++
		if rec.IndexedAt.After(cutoff) {
			r.Recent++
			return nil
		}
		batch = append(batch, rec.DocumentID)
		if len(batch) >= s.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	return r, flush()
}

// remove runs fn for n items with bounded concurrency. Dry runs count as
// neither removed nor failed.
func (s *Sweeper) remove(ctx context.Context, n int, fn func(context.Context, int) error) (removed, failed int) {
	if n == 0 {
		return 0, 0
	}
	var ok, bad atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := fn(ctx, i); err != nil {
				bad.Add(1)
				return nil
			}
			if !s.DryRun {
				ok.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

func (s *Sweeper) cutoff() time.Time {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return now().Add(-grace)
}

func (s *Sweeper) batchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

func (s *Sweeper) concurrency() int {
	if s.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return s.Concurrency
}
