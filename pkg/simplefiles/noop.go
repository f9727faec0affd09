package simplefiles

import (
	"context"
	"errors"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) FileCreated(ctx context.Context, file *FileRecord) error { return nil }

func (n *NoopEventSink) FileUpdated(ctx context.Context, file *FileRecord, previous BlobID) error {
	return nil
}

func (n *NoopEventSink) StaleBlobDeleted(ctx context.Context, id BlobID) error { return nil }

func (n *NoopEventSink) BlobOrphaned(ctx context.Context, id BlobID, reason string) error {
	return nil
}

// LogEventSink writes every event to a structured logger
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink logging to logger (slog.Default when nil)
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger.With("component", "events")}
}

func (l *LogEventSink) FileCreated(ctx context.Context, file *FileRecord) error {
	l.logger.InfoContext(ctx, "file created", "title", file.Title, "blob_id", file.BlobID, "uploaded_by", file.UploadedBy)
	return nil
}

func (l *LogEventSink) FileUpdated(ctx context.Context, file *FileRecord, previous BlobID) error {
	l.logger.InfoContext(ctx, "file updated", "title", file.Title, "blob_id", file.BlobID, "previous_blob_id", previous, "version", file.Version)
	return nil
}

func (l *LogEventSink) StaleBlobDeleted(ctx context.Context, id BlobID) error {
	l.logger.InfoContext(ctx, "stale blob deleted", "blob_id", id)
	return nil
}

func (l *LogEventSink) BlobOrphaned(ctx context.Context, id BlobID, reason string) error {
	l.logger.WarnContext(ctx, "blob orphaned", "blob_id", id, "reason", reason)
	return nil
}

// MultiEventSink fans every event out to several sinks
type MultiEventSink []EventSink

// NewMultiEventSink combines sinks, skipping nil entries
func NewMultiEventSink(sinks ...EventSink) EventSink {
	var m MultiEventSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m MultiEventSink) FileCreated(ctx context.Context, file *FileRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.FileCreated(ctx, file))
	}
	return errors.Join(errs...)
}

func (m MultiEventSink) FileUpdated(ctx context.Context, file *FileRecord, previous BlobID) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.FileUpdated(ctx, file, previous))
	}
	return errors.Join(errs...)
}

func (m MultiEventSink) StaleBlobDeleted(ctx context.Context, id BlobID) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.StaleBlobDeleted(ctx, id))
	}
	return errors.Join(errs...)
}

func (m MultiEventSink) BlobOrphaned(ctx context.Context, id BlobID, reason string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.BlobOrphaned(ctx, id, reason))
	}
	return errors.Join(errs...)
}
