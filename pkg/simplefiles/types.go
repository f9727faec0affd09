package simplefiles

import (
	"time"

	"github.com/google/uuid"
)

// BlobID is the opaque identifier a BlobStore assigns to a committed object.
type BlobID string

func (id BlobID) String() string {
	return string(id)
}

// FileRecord is the metadata document tracking a title's current blob.
//
// Title and CreatedAt never change after creation. BlobID is replaced on every
// successful update. Version is incremented by the repository on each update
// and is used for optimistic concurrency control.
type FileRecord struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	OriginalFilename string    `json:"original_filename"`
	UploadedBy       string    `json:"uploaded_by"`
	BlobID           BlobID    `json:"blob_id"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Summary projects the record to its listing fields. The blob id is not exposed.
func (f *FileRecord) Summary() *FileSummary {
	return &FileSummary{
		Title:            f.Title,
		OriginalFilename: f.OriginalFilename,
		UploadedBy:       f.UploadedBy,
		CreatedAt:        f.CreatedAt,
	}
}

// FileSummary is the listing projection of a FileRecord
type FileSummary struct {
	Title            string    `json:"title"`
	OriginalFilename string    `json:"originalFilename"`
	UploadedBy       string    `json:"uploadedBy"`
	CreatedAt        time.Time `json:"createdAt"`
}

// BlobInfo describes a blob object once the store has committed all of its chunks.
type BlobInfo struct {
	ID         BlobID
	Filename   string
	Size       int64
	ChunkSize  int
	Chunks     int
	Checksum   string // hex sha256 of the uncompressed bytes, when the store computes one
	UploadedAt time.Time
}

// UpdateResult is returned by a successful Update.
//
// CleanupErr is non-nil when the previous blob could not be deleted after the
// record was switched to the new blob. The update itself still succeeded.
type UpdateResult struct {
	File           *FileRecord
	PreviousBlobID BlobID
	CleanupErr     error
}

// HealthStatus reports reachability of the two backing stores
type HealthStatus struct {
	RepositoryErr error
	BlobStoreErr  error
}

// Healthy returns true when both stores answered their ping
func (h HealthStatus) Healthy() bool {
	return h.RepositoryErr == nil && h.BlobStoreErr == nil
}
