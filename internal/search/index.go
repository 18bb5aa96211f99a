package search

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

// DefaultLimit bounds a search when the caller passes no limit.
const DefaultLimit = 20

// ErrEmptyQuery is returned when a query has no searchable terms.
var ErrEmptyQuery = errors.New("empty search query")

// Entry is the indexed representation of one document.
type Entry struct {
	DocumentID int64
	OwnerID    int64
	FileName   string
	Content    string
}

// Hit is one ranked match. Higher Score ranks first.
type Hit struct {
	DocumentID int64
	Score      float64
	Snippet    string
}

// Index stores extracted text keyed by document id.
type Index interface {
	// Index adds or replaces the entry for e.DocumentID.
	Index(ctx context.Context, e Entry) error

	// Delete removes the entry. Deleting an absent id is a no-op.
	Delete(ctx context.Context, documentID int64) error

	// Search returns hits for ownerID only, best first.
	Search(ctx context.Context, ownerID int64, query string, limit int) ([]Hit, error)
}

// Record describes an indexed entry for reconciliation.
type Record struct {
	DocumentID int64
	IndexedAt  time.Time
}

// Lister is implemented by indexes that can enumerate their entries.
type Lister interface {
	List(ctx context.Context, fn func(Record) error) error
}

// Terms splits a query into lowercase word terms.
func Terms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ClampLimit applies DefaultLimit to non-positive limits.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
