package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"docmind-backend/internal/documents"
	"docmind-backend/internal/extract"
	"docmind-backend/internal/search"
	"docmind-backend/internal/search/elastic"
	sqliteindex "docmind-backend/internal/search/sqlite"
	"docmind-backend/internal/services/health"
	"docmind-backend/internal/shared/config"
	"docmind-backend/internal/shared/server"
	"docmind-backend/internal/shared/server/middleware"
	"docmind-backend/internal/shared/storage/db"
	"docmind-backend/internal/shared/storage/object"
	gcsstore "docmind-backend/internal/shared/storage/object/gcs"
	localstore "docmind-backend/internal/shared/storage/object/local"
	s3store "docmind-backend/internal/shared/storage/object/s3"
	"docmind-backend/internal/shared/telemetry"
)

// App holds shared dependencies.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Store            object.ObjectStore
	Index            search.Index
	DocumentsRepo    documents.Repo
	DocumentsService *documents.Service
	DocumentsHandler *documents.Handler
	Health           *health.Service

	closers []io.Closer
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	app, err := BuildServices(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		DocumentHandler: app.DocumentsHandler,
		Health:          app.Health,
		Limiter:         middleware.NewRateLimiter(nil),
	})
	return app, nil
}

// BuildServices prepares the backends and the document service without an
// HTTP router. Used by the offline commands.
func BuildServices(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}

	app := &App{Config: cfg, Health: health.NewService()}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB

	store, err := buildStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store
	if c, ok := store.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	index, err := buildIndex(ctx, cfg, app.DB != nil)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Index = index
	if c, ok := index.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	if app.DB != nil {
		app.DocumentsRepo = &documents.PGRepo{DB: app.DB}
		app.Health.Register("database", app.DB.PingContext)
	} else {
		app.DocumentsRepo = documents.NewMemoryRepo()
	}
	if p, ok := index.(interface{ Ping(context.Context) error }); ok {
		app.Health.Register("search", p.Ping)
	}

	app.DocumentsService = &documents.Service{
		Repo:           app.DocumentsRepo,
		Store:          app.Store,
		Index:          app.Index,
		Extractor:      newExtractor(cfg),
		BackendTimeout: cfg.BackendTimeout,
	}
	app.DocumentsHandler = documents.NewHandler(app.DocumentsService, cfg.MaxUploadBytes)
	if app.DocumentsHandler == nil {
		app.Close()
		return nil, errors.New("failed to initialize handlers")
	}

	return app, nil
}

// Close releases the database pool and any backend clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.DB != nil {
		if db.IsLambdaRuntime() {
			errs = append(errs, db.CloseSingleton())
		} else {
			errs = append(errs, a.DB.Close())
		}
		a.DB = nil
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Info("bootstrap.memory_repo", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repo", map[string]any{"reason": "database connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}

	// Lambda cold starts skip migrations; cmd/migrate owns them there.
	if !db.IsLambdaRuntime() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "gcs":
		if strings.TrimSpace(cfg.GCSBucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=gcs requires GCS_BUCKET")
		}
		return gcsstore.New(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// ErrVolatileIndex is returned when the in-memory index would sit beside
// durable metadata, leaving persisted rows unsearchable after a restart.
var ErrVolatileIndex = errors.New("SEARCH_BACKEND=memory is only allowed in dev without a database; use sqlite or elasticsearch")

// expandRatio bounds decompressed document content relative to the upload limit.
const expandRatio = 8

func newExtractor(cfg config.Config) *extract.Extractor {
	e := extract.New()
	e.MaxChars = cfg.ExtractMaxChars
	if cfg.MaxUploadBytes > 0 {
		e.MaxExpandedBytes = expandRatio * cfg.MaxUploadBytes
	}
	return e
}

func buildIndex(ctx context.Context, cfg config.Config, durableMetadata bool) (search.Index, error) {
	switch cfg.SearchBackend {
	case "sqlite":
		return sqliteindex.Open(cfg.SearchSQLitePath)
	case "elasticsearch":
		idx, err := elastic.New(cfg.ElasticsearchURLs, cfg.ElasticsearchIndex)
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("ensure elasticsearch index: %w", err)
		}
		return idx, nil
	default:
		if durableMetadata || !isDevLike(cfg.Env) {
			return nil, ErrVolatileIndex
		}
		return search.NewMemoryIndex(), nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
