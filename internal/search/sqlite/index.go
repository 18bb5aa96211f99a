package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"docmind-backend/internal/search"
)

const memoryPath = ":memory:"

const schema = `CREATE VIRTUAL TABLE IF NOT EXISTS document_index USING fts5(
	content,
	filename,
	owner_id UNINDEXED,
	indexed_at UNINDEXED,
	tokenize = 'unicode61 remove_diacritics 2'
)`

// Index is a search.Index backed by an SQLite FTS5 table. The FTS rowid is
// the document id.
type Index struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the index database at path. Use ":memory:" for an
// ephemeral index.
func Open(path string) (*Index, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite index path is required")
	}

	dsn := memoryPath
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if path == memoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating fts5 table: %w", err)
	}

	return &Index{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

// Ping checks the database is reachable.
func (x *Index) Ping(ctx context.Context) error {
	return x.db.PingContext(ctx)
}

// Index replaces any previous entry for the document.
func (x *Index) Index(ctx context.Context, e search.Entry) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_index WHERE rowid = ?`, e.DocumentID); err != nil {
		return fmt.Errorf("clear document %d: %w", e.DocumentID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_index (rowid, content, filename, owner_id, indexed_at) VALUES (?, ?, ?, ?, ?)`,
		e.DocumentID, e.Content, e.FileName, e.OwnerID, x.now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert document %d: %w", e.DocumentID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

// Delete removes the document entry if present.
func (x *Index) Delete(ctx context.Context, documentID int64) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM document_index WHERE rowid = ?`, documentID); err != nil {
		return fmt.Errorf("delete document %d: %w", documentID, err)
	}
	return nil
}

// Search ranks owner-scoped matches by bm25. All terms must match.
func (x *Index) Search(ctx context.Context, ownerID int64, query string, limit int) ([]search.Hit, error) {
	match := matchExpression(query)
	if match == "" {
		return nil, search.ErrEmptyQuery
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT rowid, bm25(document_index) AS rank,
		       snippet(document_index, -1, '', '', '...', 16)
		FROM document_index
		WHERE document_index MATCH ? AND owner_id = ?
		ORDER BY rank
		LIMIT ?`,
		match, ownerID, search.ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var hits []search.Hit
	for rows.Next() {
		var (
			hit  search.Hit
			rank float64
		)
		if err := rows.Scan(&hit.DocumentID, &rank, &hit.Snippet); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		// bm25 is lower-is-better; flip so higher ranks first.
		hit.Score = -rank
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// List enumerates every indexed document id.
func (x *Index) List(ctx context.Context, fn func(search.Record) error) error {
	rows, err := x.db.QueryContext(ctx, `SELECT rowid, indexed_at FROM document_index ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("list index: %w", err)
	}
	// Buffer so fn may call back into the index while we are not holding the
	// only connection.
	var records []search.Record
	for rows.Next() {
		var (
			id        int64
			indexedAt int64
		)
		if err := rows.Scan(&id, &indexedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan index row: %w", err)
		}
		records = append(records, search.Record{DocumentID: id, IndexedAt: time.Unix(indexedAt, 0).UTC()})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate index rows: %w", err)
	}
	rows.Close()

	for _, r := range records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func matchExpression(query string) string {
	terms := search.Terms(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " ")
}

var (
	_ search.Index  = (*Index)(nil)
	_ search.Lister = (*Index)(nil)
)
