package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"github.com/galaxy4276/HANBAT-BOX/internal/middleware"
	"github.com/galaxy4276/HANBAT-BOX/internal/model"
	"github.com/galaxy4276/HANBAT-BOX/internal/service"
)

// Multipart part names of the upload form.
const (
	formFieldData  = "data"
	formFieldFiles = "files"
)

// maxMetadataBytes bounds the JSON metadata part.
const maxMetadataBytes = 64 << 10

// ErrInvalidUploadForm marks a multipart body that cannot be turned into a box.
var ErrInvalidUploadForm = errors.New("invalid upload form")

// ListQuery is the parsed form of GET /boxes query parameters.
type ListQuery struct {
	Cursor  int64
	Keyword string
	Type    string
}

// ParseListQuery reads cursor, keyword and type. Blank values mean "absent".
// A cursor that is not a positive decimal id yields service.ErrInvalidCursor.
func ParseListQuery(q url.Values) (ListQuery, error) {
	query := ListQuery{
		Keyword: strings.TrimSpace(q.Get("keyword")),
		Type:    strings.TrimSpace(q.Get("type")),
	}

	raw := strings.TrimSpace(q.Get("cursor"))
	if raw == "" {
		return query, nil
	}

	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor <= 0 {
		return ListQuery{}, fmt.Errorf("%w: %q", service.ErrInvalidCursor, raw)
	}
	query.Cursor = cursor
	return query, nil
}

// ParseUploadForm extracts the box metadata and the ordered attachments from
// a parsed multipart form. The "data" part may be a plain form value or a
// file part carrying JSON.
func ParseUploadForm(form *multipart.Form) (model.BoxCreateRequest, []model.Attachment, error) {
	var req model.BoxCreateRequest
	if form == nil {
		return req, nil, fmt.Errorf("%w: empty form", ErrInvalidUploadForm)
	}

	raw, err := metadataPart(form)
	if err != nil {
		return req, nil, err
	}

	if err := json.Unmarshal(raw, &req); err != nil {
		return req, nil, fmt.Errorf("%w: malformed %s: %w", ErrInvalidUploadForm, formFieldData, err)
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.TrimSpace(req.Type)
	req.Uploader = strings.TrimSpace(req.Uploader)
	if req.Name == "" {
		return req, nil, fmt.Errorf("%w: name is required", ErrInvalidUploadForm)
	}
	if err := middleware.ValidateBoxMetadata(req.Name, req.Type, req.Description, req.Uploader); err != nil {
		return req, nil, fmt.Errorf("%w: %w", ErrInvalidUploadForm, err)
	}

	// A files part without a filename arrives as a plain value and carries no attachment metadata.
	if len(form.Value[formFieldFiles]) > 0 {
		return req, nil, fmt.Errorf("%w: %s part without filename", ErrInvalidUploadForm, formFieldFiles)
	}

	headers := form.File[formFieldFiles]
	files := make([]model.Attachment, 0, len(headers))
	for _, fh := range headers {
		if err := middleware.ValidateFileName(fh.Filename); err != nil {
			return req, nil, fmt.Errorf("%w: %w", ErrInvalidUploadForm, err)
		}
		files = append(files, model.Attachment{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open:        openFileHeader(fh),
		})
	}

	return req, files, nil
}

func metadataPart(form *multipart.Form) ([]byte, error) {
	if values := form.Value[formFieldData]; len(values) > 0 {
		if len(values[0]) > maxMetadataBytes {
			return nil, fmt.Errorf("%w: %s too large", ErrInvalidUploadForm, formFieldData)
		}
		return []byte(values[0]), nil
	}

	parts := form.File[formFieldData]
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: missing %s part", ErrInvalidUploadForm, formFieldData)
	}

	f, err := parts[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrInvalidUploadForm, formFieldData, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxMetadataBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidUploadForm, formFieldData, err)
	}
	if len(raw) > maxMetadataBytes {
		return nil, fmt.Errorf("%w: %s too large", ErrInvalidUploadForm, formFieldData)
	}
	return raw, nil
}

func openFileHeader(fh *multipart.FileHeader) func() (model.AttachmentReader, error) {
	return func() (model.AttachmentReader, error) {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}
