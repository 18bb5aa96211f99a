package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const snippetRadius = 60

// MemoryIndex is an in-process Index used in dev and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	Entry
	lowered   string
	indexedAt time.Time
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[int64]memoryEntry),
		now:     time.Now,
	}
}

// Index stores or replaces an entry.
func (m *MemoryIndex) Index(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.DocumentID] = memoryEntry{
		Entry:     e,
		lowered:   strings.ToLower(e.FileName + " " + e.Content),
		indexedAt: m.now().UTC(),
	}
	return nil
}

// Delete removes an entry if present.
func (m *MemoryIndex) Delete(ctx context.Context, documentID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, documentID)
	return nil
}

// Search requires every term to appear; score is the total term frequency.
func (m *MemoryIndex) Search(ctx context.Context, ownerID int64, query string, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, ErrEmptyQuery
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for id, e := range m.entries {
		if e.OwnerID != ownerID {
			continue
		}
		score := 0
		matched := true
		for _, term := range terms {
			n := strings.Count(e.lowered, term)
			if n == 0 {
				matched = false
				break
			}
			score += n
		}
		if !matched {
			continue
		}
		hits = append(hits, Hit{
			DocumentID: id,
			Score:      float64(score),
			Snippet:    snippet(e.Content, terms[0]),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocumentID > hits[j].DocumentID
	})
	if limit = ClampLimit(limit); len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// List enumerates entries in id order.
func (m *MemoryIndex) List(ctx context.Context, fn func(Record) error) error {
	m.mu.RLock()
	records := make([]Record, 0, len(m.entries))
	for id, e := range m.entries {
		records = append(records, Record{DocumentID: id, IndexedAt: e.indexedAt})
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].DocumentID < records[j].DocumentID })
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether an entry exists for documentID.
func (m *MemoryIndex) Has(documentID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[documentID]
	return ok
}

func snippet(content, term string) string {
	lowered := strings.ToLower(content)
	idx := strings.Index(lowered, term)
	if idx < 0 || len(lowered) != len(content) {
		idx = 0
	}
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + len(term) + snippetRadius
	if end > len(content) {
		end = len(content)
	}
	// Keep rune boundaries intact.
	for start > 0 && !utf8RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8RuneStart(content[end]) {
		end++
	}
	return strings.TrimSpace(content[start:end])
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

var (
	_ Index  = (*MemoryIndex)(nil)
	_ Lister = (*MemoryIndex)(nil)
)
