// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"net/http"
	"time"

	"github.com/docker/go-units"

	"github.com/galaxy4276/HANBAT-BOX/internal/model"
)

// MessageSuccess is the envelope message of every successful response.
const MessageSuccess = "Success"

// Result is the uniform envelope for listing and detail responses.
// Status mirrors the outcome independently of the HTTP status line.
type Result[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Success wraps data in a 200 envelope.
func Success[T any](data T) Result[T] {
	return Result[T]{Status: http.StatusOK, Message: MessageSuccess, Data: data}
}

// Failure builds an envelope with null data.
func Failure(status int, message string) Result[any] {
	return Result[any]{Status: status, Message: message}
}

// ErrorResponse represents a transport-level API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BoxSummaryResponse is one row of a box listing.
type BoxSummaryResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Uploader    string    `json:"uploader"`
	ItemCount   int       `json:"item_count"`
	TotalSize   int64     `json:"total_size"`
	SizeLabel   string    `json:"size_label"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BoxItemResponse is an attachment inside a box detail.
type BoxItemResponse struct {
	ID            int64     `json:"id"`
	Position      int       `json:"position"`
	FileName      string    `json:"file_name"`
	ContentType   string    `json:"content_type"`
	SizeBytes     int64     `json:"size_bytes"`
	SizeLabel     string    `json:"size_label"`
	Checksum      string    `json:"checksum"`
	PageCount     *int      `json:"page_count,omitempty"`
	DownloadCount int64     `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// BoxResponse is a box with its ordered attachments.
type BoxResponse struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Uploader    string            `json:"uploader"`
	Items       []BoxItemResponse `json:"items"`
	TotalSize   int64             `json:"total_size"`
	SizeLabel   string            `json:"size_label"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SizeLabel renders a byte count the way the web client shows it, e.g. "1.5MB".
func SizeLabel(bytes int64) string {
	return units.HumanSize(float64(bytes))
}

// ToBoxSummaryList converts listing rows. The result is never nil so an
// empty page encodes as [].
func ToBoxSummaryList(summaries []*model.BoxSummary) []BoxSummaryResponse {
	out := make([]BoxSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, BoxSummaryResponse{
			ID:          s.ID,
			Name:        s.Name,
			Type:        s.Type,
			Description: s.Description,
			Uploader:    s.Uploader,
			ItemCount:   s.ItemCount,
			TotalSize:   s.TotalSize,
			SizeLabel:   SizeLabel(s.TotalSize),
			Thumbnail:   s.Thumbnail,
			CreatedAt:   s.CreatedAt,
		})
	}
	return out
}

// ToBoxResponse converts a box and its items.
func ToBoxResponse(box *model.Box) BoxResponse {
	items := make([]BoxItemResponse, 0, len(box.Items))
	var total int64
	for _, item := range box.Items {
		total += item.SizeBytes
		items = append(items, BoxItemResponse{
			ID:            item.ID,
			Position:      item.Position,
			FileName:      item.FileName,
			ContentType:   item.ContentType,
			SizeBytes:     item.SizeBytes,
			SizeLabel:     SizeLabel(item.SizeBytes),
			Checksum:      item.Checksum,
			PageCount:     item.PageCount,
			DownloadCount: item.DownloadCount,
			CreatedAt:     item.CreatedAt,
		})
	}

	return BoxResponse{
		ID:          box.ID,
		Name:        box.Name,
		Type:        box.Type,
		Description: box.Description,
		Uploader:    box.Uploader,
		Items:       items,
		TotalSize:   total,
		SizeLabel:   SizeLabel(total),
		CreatedAt:   box.CreatedAt,
	}
}
