package documents

import "time"

// Document is the metadata record of an uploaded file. The raw bytes live in
// the object store under StorageKey; extracted text lives in the search index
// keyed by ID.
type Document struct {
	ID         int64
	FileName   string
	FileType   string
	FileSize   int64
	StorageKey string
	OwnerID    int64
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}

// Upload is the input to Ingest.
type Upload struct {
	Data     []byte
	FileName string
	MimeType string
	OwnerID  int64
}

// SearchResult pairs a document with its match details.
type SearchResult struct {
	Document Document
	Score    float64
	Snippet  string
}
