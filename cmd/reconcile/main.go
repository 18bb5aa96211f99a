package main

// Remove orphaned blobs and index entries:
//   go run ./cmd/reconcile --dry-run
//   go run ./cmd/reconcile --grace 2h --concurrency 16

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docmind-backend/internal/bootstrap"
	"docmind-backend/internal/reconcile"
	"docmind-backend/internal/shared/config"
	"docmind-backend/internal/shared/telemetry"
)

type options struct {
	dryRun      bool
	grace       time.Duration
	batchSize   int
	concurrency int
	skipBlobs   bool
	skipIndex   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		telemetry.Error("reconcile.failed", map[string]any{"error": err})
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "reconcile",
		Short:         "Remove blobs and index entries that no document refers to",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.dryRun, "dry-run", false, "report orphans without removing them")
	f.DurationVar(&opts.grace, "grace", 0, "skip artifacts younger than this (default RECONCILE_GRACE)")
	f.IntVar(&opts.batchSize, "batch-size", reconcile.DefaultBatchSize, "metadata lookups per batch")
	f.IntVar(&opts.concurrency, "concurrency", reconcile.DefaultConcurrency, "parallel removals per batch")
	f.BoolVar(&opts.skipBlobs, "skip-blobs", false, "do not sweep the object store")
	f.BoolVar(&opts.skipIndex, "skip-index", false, "do not sweep the search index")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	cfg := config.Load()
	app, err := bootstrap.BuildServices(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if app.DB == nil {
		return fmt.Errorf("reconcile requires DATABASE_URL")
	}

	grace := opts.grace
	if grace <= 0 {
		grace = cfg.ReconcileGrace
	}
	sweeper := &reconcile.Sweeper{
		Metadata:    app.DocumentsRepo,
		Grace:       grace,
		BatchSize:   opts.batchSize,
		Concurrency: opts.concurrency,
		DryRun:      opts.dryRun,
	}

	if !opts.skipBlobs {
		blobs, ok := app.Store.(reconcile.BlobStore)
		if !ok {
			return fmt.Errorf("object store %q cannot list objects", cfg.ObjectStoreType)
		}
		sweeper.Blobs = blobs
	}
	if !opts.skipIndex {
		if index, ok := app.Index.(reconcile.IndexStore); ok {
			sweeper.Index = index
		} else {
			telemetry.Warn("reconcile.index_not_listable", map[string]any{"backend": cfg.SearchBackend})
		}
	}

	report, err := sweeper.Run(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
