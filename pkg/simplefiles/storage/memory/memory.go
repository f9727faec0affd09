package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-files/pkg/simplefiles"
	"github.com/tendant/simple-files/pkg/simplefiles/storage/chunk"
)

type object struct {
	manifest *chunk.Manifest
	chunks   map[int][]byte
}

// Backend is an in-memory chunked implementation of the simplefiles.BlobStore interface
type Backend struct {
	mu        sync.RWMutex
	objects   map[simplefiles.BlobID]*object
	chunkSize int
}

// Option configures the in-memory backend
type Option func(*Backend)

// WithChunkSize sets the chunk size in bytes
func WithChunkSize(size int) Option {
	return func(b *Backend) {
		b.chunkSize = size
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects:   make(map[simplefiles.BlobID]*object),
		chunkSize: chunk.DefaultSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Upload assembles r into chunks and publishes the object once all are stored
func (b *Backend) Upload(ctx context.Context, filename string, r io.Reader) (*simplefiles.BlobInfo, error) {
	id := simplefiles.BlobID(uuid.NewString())

	var mu sync.Mutex
	pending := make(map[int][]byte)
	write := func(ctx context.Context, index int, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if _, exists := pending[index]; exists {
			return chunk.ErrDuplicateChunk
		}
		pending[index] = data
		return nil
	}

	manifest, err := chunk.Assemble(ctx, filename, r, b.chunkSize, chunk.DefaultParallelism, write)
	if err != nil {
		return nil, &simplefiles.BlobError{Backend: "memory", ID: id, Op: "upload", Err: err}
	}

	b.mu.Lock()
	b.objects[id] = &object{manifest: manifest, chunks: pending}
	b.mu.Unlock()

	return blobInfo(id, manifest), nil
}

// Download streams a committed object chunk by chunk
func (b *Backend) Download(ctx context.Context, id simplefiles.BlobID) (io.ReadCloser, error) {
	b.mu.RLock()
	obj, exists := b.objects[id]
	b.mu.RUnlock()
	if !exists {
		return nil, &simplefiles.BlobError{Backend: "memory", ID: id, Op: "download", Err: simplefiles.ErrBlobNotFound}
	}

	read := func(ctx context.Context, index int) ([]byte, error) {
		data, ok := obj.chunks[index]
		if !ok {
			return nil, chunk.ErrMissingChunk
		}
		return data, nil
	}
	return chunk.NewReader(ctx, obj.manifest.Chunks, read, nil), nil
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, id simplefiles.BlobID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[id]; !exists {
		return &simplefiles.BlobError{Backend: "memory", ID: id, Op: "delete", Err: simplefiles.ErrBlobNotFound}
	}
	delete(b.objects, id)
	return nil
}

// Ping always succeeds
func (b *Backend) Ping(ctx context.Context) error {
	return nil
}

// Stat returns the info of a committed object
func (b *Backend) Stat(id simplefiles.BlobID) (*simplefiles.BlobInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[id]
	if !exists {
		return nil, fmt.Errorf("object %s: %w", id, simplefiles.ErrBlobNotFound)
	}
	return blobInfo(id, obj.manifest), nil
}

// Len returns the number of committed objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// IDs returns the ids of every committed object
func (b *Backend) IDs() []simplefiles.BlobID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]simplefiles.BlobID, 0, len(b.objects))
	for id := range b.objects {
		ids = append(ids, id)
	}
	return ids
}

func blobInfo(id simplefiles.BlobID, m *chunk.Manifest) *simplefiles.BlobInfo {
	return &simplefiles.BlobInfo{
		ID:         id,
		Filename:   m.Filename,
		Size:       m.Length,
		ChunkSize:  m.ChunkSize,
		Chunks:     m.Chunks,
		Checksum:   m.Checksum,
		UploadedAt: m.UploadedAt,
	}
}
