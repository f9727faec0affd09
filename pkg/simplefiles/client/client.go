// Package client talks to a simple-files server over HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-files/pkg/simplefiles"
	"github.com/tendant/simple-files/pkg/simplefiles/api"
)

const duplicateTitleMessage = "A file with this title already exists"

// Client provides methods for the files API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	progressFunc ProgressFunc
}

// ProgressFunc is called during upload to report progress
// It receives the number of bytes uploaded so far
type ProgressFunc func(bytesUploaded int64)

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// New creates a client for the server at baseURL (e.g. http://localhost:5000)
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // Long timeout for large uploads
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithProgress sets a progress callback function
func WithProgress(fn ProgressFunc) ClientOption {
	return func(c *Client) {
		c.progressFunc = fn
	}
}

// APIError is a non-2xx reply from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes back onto the service error kinds
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == simplefiles.ErrValidation
	case http.StatusNotFound:
		return target == simplefiles.ErrNotFound
	case http.StatusConflict:
		if e.Message == duplicateTitleMessage {
			return target == simplefiles.ErrDuplicateTitle
		}
		return target == simplefiles.ErrConcurrentUpdate
	}
	return false
}

// Upload creates a new title
func (c *Client) Upload(ctx context.Context, title, uploadedBy, filename string, data io.Reader) (*api.FileEnvelope, error) {
	fields := map[string]string{"title": title, "uploadedBy": uploadedBy}
	return c.sendFile(ctx, http.MethodPost, "/api/files/upload", fields, filename, data)
}

// Update uploads a new version of an existing title
func (c *Client) Update(ctx context.Context, title, filename string, data io.Reader) (*api.FileEnvelope, error) {
	fields := map[string]string{"title": title}
	return c.sendFile(ctx, http.MethodPut, "/api/files/update", fields, filename, data)
}

// List returns every file's listing projection
func (c *Client) List(ctx context.Context) ([]*simplefiles.FileSummary, error) {
	var resp api.ListResponse
	if err := c.getJSON(ctx, "/api/files/list", &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// Download opens the current content of title. The caller closes the body.
func (c *Client) Download(ctx context.Context, title string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/title/"+url.PathEscape(title), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", decodeError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// Health returns the server health report. An unhealthy server is not an error.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, decodeError(resp)
	}

	var health api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// sendFile streams a multipart body so large files are never held in memory
func (c *Client) sendFile(ctx context.Context, method, path string, fields map[string]string, filename string, data io.Reader) (*api.FileEnvelope, error) {
	if c.progressFunc != nil {
		data = &progressReader{reader: data, callback: c.progressFunc}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, fields, filename, data))
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}

	var envelope api.FileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &envelope, nil
}

// writeForm writes text fields before the file part
func writeForm(mw *multipart.Writer, fields map[string]string, filename string, data io.Reader) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if data != nil {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, data); err != nil {
			return err
		}
	}
	return mw.Close()
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	}
	return apiErr
}

// progressReader wraps an io.Reader to track upload progress
type progressReader struct {
	reader    io.Reader
	bytesRead int64
	callback  ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.bytesRead += int64(n)
	if pr.callback != nil && n > 0 {
		pr.callback(pr.bytesRead)
	}
	return n, err
}
