// Package model defines domain entities for the application.
package model

import (
	"io"
	"time"
)

// Box is an uploaded bundle of files with descriptive metadata.
type Box struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Uploader    string     `json:"uploader"`
	Items       []*BoxItem `json:"items"`
	CreatedAt   time.Time  `json:"created_at"`
}

// BoxItem is a single attachment stored with a box.
// Position preserves the order the files were submitted in.
type BoxItem struct {
	ID            int64     `json:"id"`
	BoxID         int64     `json:"box_id"`
	Position      int       `json:"position"`
	FileName      string    `json:"file_name"`
	ContentType   string    `json:"content_type"`
	SizeBytes     int64     `json:"size_bytes"`
	Checksum      string    `json:"checksum"`
	PageCount     *int      `json:"page_count,omitempty"`
	DownloadCount int64     `json:"download_count"`
	StorageKey    string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// BoxSummary is the read-only listing projection of a box.
type BoxSummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Uploader    string    `json:"uploader"`
	ItemCount   int       `json:"item_count"`
	TotalSize   int64     `json:"total_size"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BoxCreateRequest is the metadata submitted alongside the attachments.
type BoxCreateRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Uploader    string `json:"uploader"`
}

// Attachment is an uploaded file that has not been persisted yet.
// Open may be called more than once; each call returns a reader positioned at the start.
type Attachment struct {
	FileName    string
	ContentType string
	Size        int64
	Open        func() (AttachmentReader, error)
}

// AttachmentReader is satisfied by multipart.File and *os.File.
type AttachmentReader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

// BoxFilter narrows a box search. Zero values match everything.
type BoxFilter struct {
	Keyword string
	Type    string
}

// BoxPage is one page of a box search.
// NextCursor is the id to pass as the next cursor, or 0 on the last page.
type BoxPage struct {
	Items      []*BoxSummary `json:"items"`
	NextCursor int64         `json:"next_cursor,omitempty"`
}
