package documents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	data   map[int64]Document
	keys   map[string]int64 // storage_key -> id
	now    func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[int64]Document),
		keys: make(map[string]int64),
		now:  time.Now,
	}
}

// Create assigns the next id and stores the document.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.keys[doc.StorageKey]; exists {
		return Document{}, ErrDuplicateStorageKey
	}
	r.nextID++
	doc.ID = r.nextID
	doc.CreatedAt = r.now().UTC()
	doc.UpdatedAt = nil
	r.data[doc.ID] = doc
	r.keys[doc.StorageKey] = doc.ID
	return doc, nil
}

// GetByID returns a document by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id int64) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// DeleteByID removes a document by ID.
func (r *MemoryRepo) DeleteByID(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[id]
	if !ok {
		return false, nil
	}
	delete(r.data, id)
	delete(r.keys, doc.StorageKey)
	return true, nil
}

// DeleteByStorageKey removes the document that references storageKey.
func (r *MemoryRepo) DeleteByStorageKey(ctx context.Context, storageKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.keys[storageKey]
	if !ok {
		return false, nil
	}
	delete(r.data, id)
	delete(r.keys, storageKey)
	return true, nil
}

// ListByOwner returns documents for an owner, newest first, honoring limit/offset.
func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	docs := make([]Document, 0)
	for _, doc := range r.data {
		if doc.OwnerID == ownerID {
			docs = append(docs, doc)
		}
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID > docs[j].ID
	})

	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// GetManyByOwner returns the owned documents among ids.
func (r *MemoryRepo) GetManyByOwner(ctx context.Context, ownerID int64, ids []int64) (map[int64]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]Document, len(ids))
	for _, id := range ids {
		if doc, ok := r.data[id]; ok && doc.OwnerID == ownerID {
			out[id] = doc
		}
	}
	return out, nil
}

// ExistingIDs reports which ids have a row.
func (r *MemoryRepo) ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.data[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// ExistingStorageKeys reports which storage keys are referenced by a row.
func (r *MemoryRepo) ExistingStorageKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(keys))
	for _, key := range keys {
		if _, ok := r.keys[key]; ok {
			out[key] = true
		}
	}
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
