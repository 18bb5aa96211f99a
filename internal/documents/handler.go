package documents

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docmind-backend/internal/shared/server/middleware"
	"docmind-backend/internal/shared/server/respond"
	"docmind-backend/internal/shared/telemetry"
)

const defaultMaxUploadSize = 10 << 20 // 10MB

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc           *Service
	MaxUploadSize int64
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, maxUploadSize int64) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &Handler{Svc: svc, MaxUploadSize: maxUploadSize}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
	rg.GET("/documents/:id/content", h.content)
	rg.DELETE("/documents/:id", h.delete)
	rg.GET("/search", h.search)
}

func (h *Handler) upload(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)
	// Leave room for multipart framing around the file part.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadSize+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds upload limit", gin.H{"maxBytes": h.MaxUploadSize})
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if fileHeader.Size > h.MaxUploadSize {
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds upload limit", gin.H{"maxBytes": h.MaxUploadSize})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.MaxUploadSize+1))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	if int64(len(data)) > h.MaxUploadSize {
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds upload limit", gin.H{"maxBytes": h.MaxUploadSize})
		return
	}

	doc, err := h.Svc.Ingest(c.Request.Context(), Upload{
		Data:     data,
		FileName: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		OwnerID:  ownerID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.Set(middleware.DocumentIDKey, doc.ID)
	respond.Created(c, toResponse(doc))
}

func (h *Handler) get(c *gin.Context) {
	id, ok := documentIDParam(c)
	if !ok {
		return
	}
	doc, err := h.Svc.Get(c.Request.Context(), id, middleware.OwnerIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, toResponse(doc))
}

func (h *Handler) content(c *gin.Context) {
	id, ok := documentIDParam(c)
	if !ok {
		return
	}
	doc, body, err := h.Svc.Open(c.Request.Context(), id, middleware.OwnerIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	defer body.Close()

	contentType := doc.FileType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	extra := map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}),
	}
	c.DataFromReader(http.StatusOK, doc.FileSize, contentType, body, extra)
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := documentIDParam(c)
	if !ok {
		return
	}
	if err := h.Svc.Delete(c.Request.Context(), id, middleware.OwnerIDFromContext(c)); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) list(c *gin.Context) {
	limit := DefaultListLimit
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), middleware.OwnerIDFromContext(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toResponse(doc))
	}
	respond.OK(c, ListResponse{Items: items, Limit: limit, Offset: offset})
}

func (h *Handler) search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "q is required", nil)
		return
	}
	limit := DefaultListLimit
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	results, err := h.Svc.Search(c.Request.Context(), middleware.OwnerIDFromContext(c), query, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := SearchResponse{Query: query, Results: make([]SearchHitResponse, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchHitResponse{
			Document: toResponse(r.Document),
			Score:    r.Score,
			Snippet:  r.Snippet,
		})
	}
	respond.OK(c, out)
}

func documentIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		// Not a valid id, so no such document.
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		return 0, false
	}
	c.Set(middleware.DocumentIDKey, id)
	return id, true
}

// writeError maps the error taxonomy to HTTP responses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", publicMessage(err), nil)
	case errors.Is(err, ErrUnsupportedFormat):
		respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_format", "file format is not supported", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrDeleteFailed):
		c.Header("Retry-After", "1")
		respond.Error(c, http.StatusServiceUnavailable, "delete_failed", "failed to delete document", gin.H{"retryable": true})
	case errors.Is(err, ErrStorage):
		respond.Error(c, http.StatusBadGateway, "storage_error", "object storage unavailable", gin.H{"retryable": true})
	case errors.Is(err, ErrIndex):
		respond.Error(c, http.StatusBadGateway, "index_error", "search index unavailable", gin.H{"retryable": true})
	case errors.Is(err, ErrPersistence):
		respond.Error(c, http.StatusInternalServerError, "persistence_error", "metadata store unavailable", gin.H{"retryable": true})
	default:
		telemetry.Error("documents.unmapped_error", map[string]any{"error": err})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected error", nil)
	}
}

// publicMessage trims the op prefix so only the validation reason is shown.
func publicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.msg != "" {
		return e.msg
	}
	return fmt.Sprint(ErrInvalidInput)
}
