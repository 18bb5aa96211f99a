package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

const documentColumns = `id, filename, file_type, file_size, storage_key, owner_id, created_at, updated_at`

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var updatedAt sql.NullTime
	if err := row.Scan(
		&doc.ID,
		&doc.FileName,
		&doc.FileType,
		&doc.FileSize,
		&doc.StorageKey,
		&doc.OwnerID,
		&doc.CreatedAt,
		&updatedAt,
	); err != nil {
		return Document{}, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		doc.UpdatedAt = &t
	}
	return doc, nil
}

// Create inserts a new document inside a transaction and returns it with
// the assigned id and created_at.
func (r *PGRepo) Create(ctx context.Context, doc Document) (Document, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
INSERT INTO documents (filename, file_type, file_size, storage_key, owner_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`

	err = tx.QueryRowContext(ctx, query,
		doc.FileName,
		doc.FileType,
		doc.FileSize,
		doc.StorageKey,
		doc.OwnerID,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Document{}, fmt.Errorf("%w: %s", ErrDuplicateStorageKey, doc.StorageKey)
		}
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit document: %w", err)
	}
	doc.UpdatedAt = nil
	return doc, nil
}

// GetByID fetches a document by ID.
func (r *PGRepo) GetByID(ctx context.Context, id int64) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// DeleteByID removes a row and reports whether it existed.
func (r *PGRepo) DeleteByID(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteByStorageKey removes the row referencing storageKey.
func (r *PGRepo) DeleteByStorageKey(ctx context.Context, storageKey string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM documents WHERE storage_key = $1`, storageKey)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListByOwner lists documents ordered newest-first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// GetManyByOwner fetches the owned documents among ids in one query.
func (r *PGRepo) GetManyByOwner(ctx context.Context, ownerID int64, ids []int64) (map[int64]Document, error) {
	out := make(map[int64]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1 AND id = ANY($2)`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc
	}
	return out, rows.Err()
}

// ExistingIDs reports which ids have a row.
func (r *PGRepo) ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ExistingStorageKeys reports which storage keys are referenced by a row.
func (r *PGRepo) ExistingStorageKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT storage_key FROM documents WHERE storage_key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out[key] = true
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)
