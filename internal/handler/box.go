package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/galaxy4276/HANBAT-BOX/internal/analytics"
	"github.com/galaxy4276/HANBAT-BOX/internal/handler/dto"
	"github.com/galaxy4276/HANBAT-BOX/internal/middleware"
	"github.com/galaxy4276/HANBAT-BOX/internal/model"
	"github.com/galaxy4276/HANBAT-BOX/internal/service"
)

// HeaderNextCursor carries the cursor of the following page, when there is one.
const HeaderNextCursor = "X-Next-Cursor"

// BoxService is the collaborator the box endpoints delegate to.
type BoxService interface {
	SearchBoxes(ctx context.Context, keyword, boxType string, cursor int64) (*model.BoxPage, error)
	SaveBoxWithItems(ctx context.Context, req model.BoxCreateRequest, files []model.Attachment) (int64, error)
	GetBox(ctx context.Context, id int64) (*model.Box, error)
	OpenItem(ctx context.Context, boxID, itemID int64) (*model.BoxItem, io.ReadCloser, error)
}

// DownloadPublisher records completed downloads without blocking the response.
type DownloadPublisher interface {
	PublishAsync(event analytics.DownloadEventPayload)
}

// BoxHandler handles HTTP requests for box operations.
type BoxHandler struct {
	svc          BoxService
	publisher    DownloadPublisher
	uploadMemory int64
	logger       *slog.Logger
}

// NewBoxHandler creates a new BoxHandler.
// publisher may be nil when download analytics are disabled.
func NewBoxHandler(svc BoxService, publisher DownloadPublisher, uploadMemory int64, logger *slog.Logger) *BoxHandler {
	if uploadMemory <= 0 {
		uploadMemory = 8 << 20
	}
	return &BoxHandler{
		svc:          svc,
		publisher:    publisher,
		uploadMemory: uploadMemory,
		logger:       logger,
	}
}

// Routes returns the box endpoints.
func (h *BoxHandler) Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Pattern: "/boxes", Handler: h.List},
		{Method: http.MethodPost, Pattern: "/boxes/uploads", Handler: h.Upload},
		{Method: http.MethodGet, Pattern: "/boxes/{id}", Handler: h.Get},
		{Method: http.MethodGet, Pattern: "/boxes/{id}/items/{itemID}/download", Handler: h.Download},
	}
}

// List handles GET /boxes.
func (h *BoxHandler) List(w http.ResponseWriter, r *http.Request) {
	query, err := ParseListQuery(r.URL.Query())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	page, err := h.svc.SearchBoxes(r.Context(), query.Keyword, query.Type, query.Cursor)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if page.NextCursor > 0 {
		w.Header().Set(HeaderNextCursor, strconv.FormatInt(page.NextCursor, 10))
	}
	writeJSON(w, http.StatusOK, dto.Success(dto.ToBoxSummaryList(page.Items)))
}

// Upload handles POST /boxes/uploads.
// The response is the bare id of the new box.
func (h *BoxHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Upload exceeds the size limit")
			return
		}
		h.writeError(w, http.StatusBadRequest, "INVALID_MULTIPART", "Request must be multipart/form-data")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	req, files, err := ParseUploadForm(r.MultipartForm)
	if err != nil {
		h.logger.Debug("upload_rejected", "error", err)
		h.writeError(w, http.StatusBadRequest, "INVALID_METADATA", err.Error())
		return
	}

	id, err := h.svc.SaveBoxWithItems(r.Context(), req, files)
	if err != nil {
		h.handleUploadError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, id)
}

// Get handles GET /boxes/{id}.
func (h *BoxHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		h.handleServiceError(w, r, service.ErrBoxNotFound)
		return
	}

	box, err := h.svc.GetBox(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.Success(dto.ToBoxResponse(box)))
}

// Download handles GET /boxes/{id}/items/{itemID}/download.
func (h *BoxHandler) Download(w http.ResponseWriter, r *http.Request) {
	boxID, ok := pathID(r, "id")
	if !ok {
		h.handleServiceError(w, r, service.ErrItemNotFound)
		return
	}
	itemID, ok := pathID(r, "itemID")
	if !ok {
		h.handleServiceError(w, r, service.ErrItemNotFound)
		return
	}

	item, body, err := h.svc.OpenItem(r.Context(), boxID, itemID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer body.Close()

	contentType := item.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(item.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": item.FileName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("download_interrupted",
			"box_id", boxID,
			"item_id", itemID,
			"error", err,
		)
		return
	}

	if h.publisher != nil {
		h.publisher.PublishAsync(analytics.NewDownloadEvent(
			boxID, itemID, clientIP(r), r.Header.Get("User-Agent"), time.Now(),
		))
	}
}

// handleServiceError maps service errors to enveloped responses.
func (h *BoxHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCursor):
		writeJSON(w, http.StatusBadRequest, dto.Failure(http.StatusBadRequest, "Invalid cursor"))
	case errors.Is(err, service.ErrBoxNotFound):
		writeJSON(w, http.StatusNotFound, dto.Failure(http.StatusNotFound, "Box not found"))
	case errors.Is(err, service.ErrItemNotFound):
		writeJSON(w, http.StatusNotFound, dto.Failure(http.StatusNotFound, "Item not found"))
	default:
		h.logger.Error("box_request_failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, dto.Failure(http.StatusInternalServerError, "Internal server error"))
	}
}

// handleUploadError maps upload failures to transport-level errors.
func (h *BoxHandler) handleUploadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidMetadata):
		h.writeError(w, http.StatusBadRequest, "INVALID_METADATA", err.Error())
	case errors.Is(err, service.ErrPartialWrite):
		h.logger.Error("upload_partial_write",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "UPLOAD_FAILED", "Attachments could not be stored")
	default:
		h.logger.Error("upload_failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func (h *BoxHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
