package documents

import "context"

// Repo defines persistence operations for document metadata.
type Repo interface {
	// Create inserts doc in a single transaction, assigning ID and CreatedAt.
	Create(ctx context.Context, doc Document) (Document, error)
	// GetByID returns ErrNotFound when no row exists.
	GetByID(ctx context.Context, id int64) (Document, error)
	// DeleteByID reports whether a row was removed.
	DeleteByID(ctx context.Context, id int64) (bool, error)
	// DeleteByStorageKey removes the row referencing key, if any.
	DeleteByStorageKey(ctx context.Context, storageKey string) (bool, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Document, error)
	// GetManyByOwner returns the subset of ids that exist and belong to ownerID.
	GetManyByOwner(ctx context.Context, ownerID int64, ids []int64) (map[int64]Document, error)
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	ExistingStorageKeys(ctx context.Context, keys []string) (map[string]bool, error)
}
