package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	ID        int64      `json:"id"`
	FileName  string     `json:"filename"`
	FileType  string     `json:"fileType"`
	FileSize  int64      `json:"fileSize"`
	OwnerID   int64      `json:"ownerId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// ListResponse is a page of documents.
type ListResponse struct {
	Items  []DocumentResponse `json:"items"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// SearchHitResponse is one search result.
type SearchHitResponse struct {
	Document DocumentResponse `json:"document"`
	Score    float64          `json:"score"`
	Snippet  string           `json:"snippet,omitempty"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Query   string              `json:"query"`
	Results []SearchHitResponse `json:"results"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		ID:        doc.ID,
		FileName:  doc.FileName,
		FileType:  doc.FileType,
		FileSize:  doc.FileSize,
		OwnerID:   doc.OwnerID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
