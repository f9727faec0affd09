package simplefiles

import (
	"context"
	"io"
)

// BlobStore defines the interface for chunked blob storage backends
type BlobStore interface {
	// Upload streams r into a new object named filename. It returns only after
	// the store has committed every chunk; a returned BlobInfo is readable.
	Upload(ctx context.Context, filename string, r io.Reader) (*BlobInfo, error)

	// Download opens a stream over a committed object. It returns
	// ErrBlobNotFound when the id is unknown.
	Download(ctx context.Context, id BlobID) (io.ReadCloser, error)

	// Delete removes an object. It returns ErrBlobNotFound when the id is unknown.
	Delete(ctx context.Context, id BlobID) error

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error
}

// Repository defines the interface for file record persistence
type Repository interface {
	// CreateFile persists a new record. It returns ErrDuplicateTitle when a
	// record with the same title exists.
	CreateFile(ctx context.Context, file *FileRecord) error

	// GetFileByTitle returns the record for an exact, case-sensitive title or ErrNotFound
	GetFileByTitle(ctx context.Context, title string) (*FileRecord, error)

	// ListFiles returns every record in store-native order
	ListFiles(ctx context.Context) ([]*FileRecord, error)

	// UpdateFile saves file if the stored version still equals file.Version,
	// then increments file.Version. It returns ErrConcurrentUpdate on a
	// version mismatch and ErrNotFound if the record is gone.
	UpdateFile(ctx context.Context, file *FileRecord) error

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error
}

// TitleLocker serializes writers on the same title
type TitleLocker interface {
	// Lock blocks until the title is free or ctx is done. The returned
	// function releases the lock and is safe to call once.
	Lock(ctx context.Context, title string) (func(), error)
}

// EventSink receives lifecycle notifications. Errors are logged by the
// service and never fail an operation.
type EventSink interface {
	// FileCreated is fired after a record was created
	FileCreated(ctx context.Context, file *FileRecord) error

	// FileUpdated is fired after a record was switched to a new blob
	FileUpdated(ctx context.Context, file *FileRecord, previous BlobID) error

	// StaleBlobDeleted is fired after the previous blob of an update was removed
	StaleBlobDeleted(ctx context.Context, id BlobID) error

	// BlobOrphaned is fired when a blob is left without a referencing record
	BlobOrphaned(ctx context.Context, id BlobID, reason string) error
}
