package simplefiles

import "io"

// CreateFileRequest contains parameters for the first upload of a title
type CreateFileRequest struct {
	Title            string
	OriginalFilename string
	UploadedBy       string
	Reader           io.Reader
}

// UpdateFileRequest contains parameters for replacing the blob behind an existing title
type UpdateFileRequest struct {
	Title            string
	OriginalFilename string
	Reader           io.Reader
}
