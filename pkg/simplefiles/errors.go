package simplefiles

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service matches exactly one of the
// first nine with errors.Is.
var (
	// ErrValidation indicates a required field is missing. No I/O happened.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates no record exists for the title
	ErrNotFound = errors.New("file not found")

	// ErrDuplicateTitle indicates a record already exists for the title
	ErrDuplicateTitle = errors.New("title already exists")

	// ErrConcurrentUpdate indicates the record changed between read and write
	ErrConcurrentUpdate = errors.New("concurrent update detected")

	// ErrStorageWrite indicates the blob write failed. No metadata changed.
	ErrStorageWrite = errors.New("blob write failed")

	// ErrStorageRead indicates a record references a blob that cannot be read
	ErrStorageRead = errors.New("blob read failed")

	// ErrMetadataRead indicates the record store could not be queried
	ErrMetadataRead = errors.New("metadata read failed")

	// ErrMetadataWrite indicates the blob was written but the record was not saved
	ErrMetadataWrite = errors.New("metadata write failed")

	// ErrStorageDelete indicates a stale blob could not be removed
	ErrStorageDelete = errors.New("blob delete failed")

	// ErrBlobNotFound is returned by blob stores for unknown object ids
	ErrBlobNotFound = errors.New("blob not found")
)

// ValidationError reports a missing required field
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("The %s field is required", e.Field)
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FileError represents a failed lifecycle operation on a title.
//
// Kind is one of the package error kinds; Err is the underlying cause from a
// store, if any. Both are reachable through errors.Is and errors.As.
type FileError struct {
	Title string
	Op    string
	Kind  error
	Err   error
}

func (e *FileError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("file operation %s failed for title %q: %v", e.Op, e.Title, e.Kind)
	}
	return fmt.Sprintf("file operation %s failed for title %q: %v: %v", e.Op, e.Title, e.Kind, e.Err)
}

func (e *FileError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// BlobError represents a failed blob store operation
type BlobError struct {
	Backend string
	ID      BlobID
	Op      string
	Err     error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob operation %s failed for object %s on backend %s: %v", e.Op, e.ID, e.Backend, e.Err)
}

func (e *BlobError) Unwrap() error {
	return e.Err
}

func newFileError(op, title string, kind, err error) *FileError {
	return &FileError{Title: title, Op: op, Kind: kind, Err: err}
}
