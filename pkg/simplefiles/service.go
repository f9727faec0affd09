package simplefiles

import (
	"context"
	"io"
)

// Service defines the file lifecycle operations
type Service interface {
	// Create uploads the first version of a title and persists its record
	Create(ctx context.Context, req CreateFileRequest) (*FileRecord, error)

	// Update replaces the blob behind an existing title and deletes the old one
	Update(ctx context.Context, req UpdateFileRequest) (*UpdateResult, error)

	// FetchByTitle returns the record and a pass-through stream over its blob.
	// The caller must close the stream.
	FetchByTitle(ctx context.Context, title string) (*FileRecord, io.ReadCloser, error)

	// ListAll returns summaries of every record
	ListAll(ctx context.Context) ([]*FileSummary, error)

	// Health pings both backing stores
	Health(ctx context.Context) HealthStatus
}
