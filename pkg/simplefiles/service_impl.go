package simplefiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-files/pkg/simplefiles/titlelock"
)

// service implements the Service interface
type service struct {
	repository Repository
	blobStore  BlobStore
	locker     TitleLocker
	eventSink  EventSink
	logger     *slog.Logger
	now        func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the record store
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob store
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithTitleLocker replaces the default in-process title lock
func WithTitleLocker(locker TitleLocker) Option {
	return func(s *service) {
		s.locker = locker
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		eventSink: NewNoopEventSink(),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.locker == nil {
		s.locker = titlelock.NewLocal()
	}

	return s, nil
}

func (s *service) Create(ctx context.Context, req CreateFileRequest) (*FileRecord, error) {
	const op = "create"

	if req.UploadedBy == "" {
		return nil, newFileError(op, req.Title, ErrValidation, &ValidationError{Field: "uploadedBy"})
	}
	if req.Title == "" {
		return nil, newFileError(op, req.Title, ErrValidation, &ValidationError{Field: "title"})
	}
	if req.Reader == nil {
		return nil, newFileError(op, req.Title, ErrValidation, &ValidationError{Field: "file"})
	}

	unlock, err := s.locker.Lock(ctx, req.Title)
	if err != nil {
		return nil, newFileError(op, req.Title, ErrConcurrentUpdate, err)
	}
	defer unlock()

	// Titles are unique; reject before writing any bytes
	_, err = s.repository.GetFileByTitle(ctx, req.Title)
	switch {
	case err == nil:
		return nil, newFileError(op, req.Title, ErrDuplicateTitle, nil)
	case !errors.Is(err, ErrNotFound):
		return nil, newFileError(op, req.Title, ErrMetadataRead, err)
	}

	info, err := s.blobStore.Upload(ctx, req.OriginalFilename, req.Reader)
	if err != nil {
		s.logger.Error("Failed to upload blob", "op", op, "title", req.Title, "error", err)
		return nil, newFileError(op, req.Title, ErrStorageWrite, err)
	}

	now := s.now()
	file := &FileRecord{
		ID:               uuid.New(),
		Title:            req.Title,
		OriginalFilename: req.OriginalFilename,
		UploadedBy:       req.UploadedBy,
		BlobID:           info.ID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repository.CreateFile(ctx, file); err != nil {
		if errors.Is(err, ErrDuplicateTitle) {
			// another process won the title; the new blob is ours alone
			s.discardBlob(ctx, op, req.Title, info.ID)
			return nil, newFileError(op, req.Title, ErrDuplicateTitle, err)
		}
		s.logger.Error("Failed to save file record", "op", op, "title", req.Title, "blob_id", info.ID, "error", err)
		s.reportOrphan(ctx, info.ID, "create: metadata write failed")
		return nil, newFileError(op, req.Title, ErrMetadataWrite, err)
	}

	s.logger.Info("File uploaded", "title", file.Title, "blob_id", file.BlobID, "size", info.Size)
	if err := s.eventSink.FileCreated(ctx, file); err != nil {
		s.logger.Warn("Event sink failed", "event", "file_created", "title", file.Title, "error", err)
	}

	return file, nil
}

func (s *service) Update(ctx context.Context, req UpdateFileRequest) (*UpdateResult, error) {
	const op = "update"

	if req.Title == "" {
		return nil, newFileError(op, req.Title, ErrValidation, &ValidationError{Field: "title"})
	}
	if req.Reader == nil {
		return nil, newFileError(op, req.Title, ErrValidation, &ValidationError{Field: "file"})
	}

	unlock, err := s.locker.Lock(ctx, req.Title)
	if err != nil {
		return nil, newFileError(op, req.Title, ErrConcurrentUpdate, err)
	}
	defer unlock()

	existing, err := s.repository.GetFileByTitle(ctx, req.Title)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newFileError(op, req.Title, ErrNotFound, nil)
		}
		return nil, newFileError(op, req.Title, ErrMetadataRead, err)
	}
	oldID := existing.BlobID

	info, err := s.blobStore.Upload(ctx, req.OriginalFilename, req.Reader)
	if err != nil {
		s.logger.Error("Failed to upload blob", "op", op, "title", req.Title, "error", err)
		return nil, newFileError(op, req.Title, ErrStorageWrite, err)
	}

	updated := *existing
	updated.BlobID = info.ID
	if req.OriginalFilename != "" {
		updated.OriginalFilename = req.OriginalFilename
	}
	updated.UpdatedAt = s.now()

	if err := s.repository.UpdateFile(ctx, &updated); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrNotFound) {
			// the record moved on without us; nothing references the new blob
			s.discardBlob(ctx, op, req.Title, info.ID)
			return nil, newFileError(op, req.Title, ErrConcurrentUpdate, err)
		}
		s.logger.Error("Failed to save file record", "op", op, "title", req.Title, "blob_id", info.ID, "error", err)
		s.reportOrphan(ctx, info.ID, "update: metadata write failed")
		return nil, newFileError(op, req.Title, ErrMetadataWrite, err)
	}

	s.logger.Info("New version of file uploaded", "title", updated.Title, "old_blob_id", oldID, "new_blob_id", info.ID)
	if err := s.eventSink.FileUpdated(ctx, &updated, oldID); err != nil {
		s.logger.Warn("Event sink failed", "event", "file_updated", "title", updated.Title, "error", err)
	}

	result := &UpdateResult{File: &updated, PreviousBlobID: oldID}

	// The new pointer is committed; only now may the old blob go away
	if oldID != "" && oldID != info.ID {
		result.CleanupErr = s.deleteStaleBlob(ctx, req.Title, oldID)
	}

	return result, nil
}

func (s *service) FetchByTitle(ctx context.Context, title string) (*FileRecord, io.ReadCloser, error) {
	const op = "fetch"

	if title == "" {
		return nil, nil, newFileError(op, title, ErrValidation, &ValidationError{Field: "title"})
	}

	file, err := s.repository.GetFileByTitle(ctx, title)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, newFileError(op, title, ErrNotFound, nil)
		}
		return nil, nil, newFileError(op, title, ErrMetadataRead, err)
	}

	rc, err := s.blobStore.Download(ctx, file.BlobID)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			s.logger.Error("File record references a missing blob", "title", title, "blob_id", file.BlobID)
		}
		return nil, nil, newFileError(op, title, ErrStorageRead, err)
	}

	return file, rc, nil
}

func (s *service) ListAll(ctx context.Context) ([]*FileSummary, error) {
	files, err := s.repository.ListFiles(ctx)
	if err != nil {
		return nil, newFileError("list", "", ErrMetadataRead, err)
	}

	summaries := make([]*FileSummary, 0, len(files))
	for _, f := range files {
		summaries = append(summaries, f.Summary())
	}
	return summaries, nil
}

func (s *service) Health(ctx context.Context) HealthStatus {
	return HealthStatus{
		RepositoryErr: s.repository.Ping(ctx),
		BlobStoreErr:  s.blobStore.Ping(ctx),
	}
}

// deleteStaleBlob removes the blob an update replaced. Failure is reported,
// never returned as an operation error.
func (s *service) deleteStaleBlob(ctx context.Context, title string, id BlobID) error {
	ctx = context.WithoutCancel(ctx)

	err := s.blobStore.Delete(ctx, id)
	switch {
	case err == nil:
		s.logger.Info("Old file deleted successfully", "title", title, "blob_id", id)
		if err := s.eventSink.StaleBlobDeleted(ctx, id); err != nil {
			s.logger.Warn("Event sink failed", "event", "stale_blob_deleted", "blob_id", id, "error", err)
		}
		return nil
	case errors.Is(err, ErrBlobNotFound):
		s.logger.Warn("Old file already gone", "title", title, "blob_id", id)
		return nil
	default:
		s.logger.Error("Error deleting old file", "title", title, "blob_id", id, "error", err)
		s.reportOrphan(ctx, id, "update: stale blob delete failed")
		return newFileError("update", title, ErrStorageDelete, err)
	}
}

// discardBlob deletes a blob that was written but is referenced by nothing
func (s *service) discardBlob(ctx context.Context, op, title string, id BlobID) {
	ctx = context.WithoutCancel(ctx)
	if err := s.blobStore.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to discard unreferenced blob", "op", op, "title", title, "blob_id", id, "error", err)
		s.reportOrphan(ctx, id, op+": discard failed")
	}
}

func (s *service) reportOrphan(ctx context.Context, id BlobID, reason string) {
	s.logger.Warn("Blob orphaned", "blob_id", id, "reason", reason)
	if err := s.eventSink.BlobOrphaned(context.WithoutCancel(ctx), id, reason); err != nil {
		s.logger.Warn("Event sink failed", "event", "blob_orphaned", "blob_id", id, "error", err)
	}
}
