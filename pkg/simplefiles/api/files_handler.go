package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

const (
	// DefaultMaxUploadBytes bounds a multipart request body
	DefaultMaxUploadBytes int64 = 64 << 20

	// multipart parts above this size spill to temporary files
	maxMemoryBytes int64 = 8 << 20
)

// FilesHandler serves the file upload, update, listing and download endpoints
type FilesHandler struct {
	service        simplefiles.Service
	maxUploadBytes int64
	logger         *slog.Logger
}

// HandlerOption configures a FilesHandler
type HandlerOption func(*FilesHandler)

// WithMaxUploadBytes bounds the request body of uploads and updates
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *FilesHandler) {
		h.maxUploadBytes = n
	}
}

// WithHandlerLogger sets the logger used for request errors
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *FilesHandler) {
		h.logger = logger
	}
}

func NewFilesHandler(service simplefiles.Service, opts ...HandlerOption) *FilesHandler {
	h := &FilesHandler{
		service:        service,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for files endpoints. Panic recovery is left to
// the router it is mounted on.
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(RequestSizeLimitMiddleware(h.maxUploadBytes))
		r.Post("/", h.UploadFile)
		r.Post("/upload", h.UploadFile)
		r.Put("/", h.UpdateFile)
		r.Put("/update", h.UpdateFile)
	})

	r.Get("/", h.ListFiles)
	r.Get("/list", h.ListFiles)
	r.Get("/title/{title}", h.GetFileByTitle)
	return r
}

// FileResponse identifies the blob a title points at after a write
type FileResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
}

// FileEnvelope wraps a write response
type FileEnvelope struct {
	File    FileResponse `json:"file"`
	Warning string       `json:"warning,omitempty"`
}

// ListResponse is the listing body
type ListResponse struct {
	Files []*simplefiles.FileSummary `json:"files"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Message string `json:"message"`
}

// uploadForm holds the parsed multipart fields of a write request
type uploadForm struct {
	title      string
	uploadedBy string
	filename   string
	file       multipart.File
}

func (f *uploadForm) reader() io.Reader {
	if f.file == nil {
		return nil
	}
	return f.file
}

func (f *uploadForm) Close() {
	if f.file != nil {
		f.file.Close()
	}
}

// parseUploadForm reads the multipart fields. A request without a multipart
// body yields an empty form so field validation reports what is missing.
// On failure the returned message is meant for the client.
func (h *FilesHandler) parseUploadForm(r *http.Request) (*uploadForm, string) {
	err := r.ParseMultipartForm(maxMemoryBytes)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) && !errors.Is(err, http.ErrMissingBoundary) {
		h.logger.Info("Rejected multipart body", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "File exceeds the maximum upload size"
		}
		return nil, "Invalid multipart form"
	}

	form := &uploadForm{
		title:      r.FormValue("title"),
		uploadedBy: r.FormValue("uploadedBy"),
	}

	if r.MultipartForm != nil {
		file, header, err := r.FormFile("file")
		if err == nil {
			form.file = file
			form.filename = filepath.Base(header.Filename)
		} else if !errors.Is(err, http.ErrMissingFile) {
			return nil, "Invalid multipart form"
		}
	}

	return form, ""
}

func (h *FilesHandler) cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Failed to remove multipart temp files", "error", err)
		}
	}
}

// UploadFile creates a file record for a new title
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Upload request received")
	defer h.cleanupForm(r)

	form, msg := h.parseUploadForm(r)
	if form == nil {
		h.writeMessage(w, r, http.StatusBadRequest, msg)
		return
	}
	defer form.Close()

	file, err := h.service.Create(r.Context(), simplefiles.CreateFileRequest{
		Title:            form.title,
		OriginalFilename: form.filename,
		UploadedBy:       form.uploadedBy,
		Reader:           form.reader(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, FileEnvelope{File: FileResponse{
		ID:       file.BlobID.String(),
		Filename: file.OriginalFilename,
		Title:    file.Title,
	}})
}

// UpdateFile uploads a new version for an existing title
func (h *FilesHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Update request received")
	defer h.cleanupForm(r)

	form, msg := h.parseUploadForm(r)
	if form == nil {
		h.writeMessage(w, r, http.StatusBadRequest, msg)
		return
	}
	defer form.Close()

	result, err := h.service.Update(r.Context(), simplefiles.UpdateFileRequest{
		Title:            form.title,
		OriginalFilename: form.filename,
		Reader:           form.reader(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := FileEnvelope{File: FileResponse{
		ID:       result.File.BlobID.String(),
		Filename: result.File.OriginalFilename,
		Title:    result.File.Title,
	}}
	if result.CleanupErr != nil {
		resp.Warning = "Previous version could not be deleted"
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// ListFiles returns the listing projection of every record
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.ListAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, ListResponse{Files: files})
}

// GetFileByTitle streams the current blob of a title
func (h *FilesHandler) GetFileByTitle(w http.ResponseWriter, r *http.Request) {
	title, err := titleParam(r)
	if err != nil {
		h.writeMessage(w, r, http.StatusBadRequest, "Invalid title")
		return
	}

	file, rc, err := h.service.FetchByTitle(r.Context(), title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(file.OriginalFilename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if file.OriginalFilename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": file.OriginalFilename}))
	}
	w.Header().Set("Last-Modified", file.UpdatedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)

	// headers are gone once the first byte is written; a broken stream can only be logged
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("Error in read stream", "title", title, "error", err)
	}
}

// titleParam returns the decoded title path segment. chi routes on the escaped
// path when one is present, so the segment is still encoded in that case.
func titleParam(r *http.Request) (string, error) {
	title := chi.URLParam(r, "title")
	if r.URL.RawPath == "" {
		return title, nil
	}
	return url.PathUnescape(title)
}

func (h *FilesHandler) writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Message: message})
}

// writeError maps service error kinds onto status codes
func (h *FilesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeMessage(w, r, status, message)
}

// StatusFor returns the HTTP status and client message for a service error.
// A FileError is classified by its Kind alone so a store cause wrapped inside
// it, such as ErrNotFound under ErrConcurrentUpdate, cannot change the status.
func StatusFor(err error) (int, string) {
	var verr *simplefiles.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Error()
	}

	kind := err
	var ferr *simplefiles.FileError
	if errors.As(err, &ferr) && ferr.Kind != nil {
		kind = ferr.Kind
	}

	switch {
	case errors.Is(kind, simplefiles.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(kind, simplefiles.ErrNotFound):
		return http.StatusNotFound, "File not found"
	case errors.Is(kind, simplefiles.ErrDuplicateTitle):
		return http.StatusConflict, "A file with this title already exists"
	case errors.Is(kind, simplefiles.ErrConcurrentUpdate):
		return http.StatusConflict, "The file was modified concurrently, retry the update"
	case errors.Is(kind, simplefiles.ErrStorageWrite):
		return http.StatusInternalServerError, "Error uploading file"
	case errors.Is(kind, simplefiles.ErrMetadataWrite):
		return http.StatusInternalServerError, "Error saving file metadata"
	case errors.Is(kind, simplefiles.ErrStorageRead):
		return http.StatusInternalServerError, "Error reading file"
	case errors.Is(kind, simplefiles.ErrMetadataRead):
		return http.StatusInternalServerError, "Error reading file metadata"
	default:
		return http.StatusInternalServerError, "Something went wrong!"
	}
}
