package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

// Repository implements simplefiles.Repository using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	files   map[uuid.UUID]*simplefiles.FileRecord
	byTitle map[string]uuid.UUID // title -> file_id
	order   []uuid.UUID          // insertion order
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		files:   make(map[uuid.UUID]*simplefiles.FileRecord),
		byTitle: make(map[string]uuid.UUID),
	}
}

func (r *Repository) CreateFile(ctx context.Context, file *simplefiles.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTitle[file.Title]; exists {
		return simplefiles.ErrDuplicateTitle
	}

	// Create a copy to avoid external modifications
	fileCopy := *file
	r.files[file.ID] = &fileCopy
	r.byTitle[file.Title] = file.ID
	r.order = append(r.order, file.ID)

	return nil
}

func (r *Repository) GetFileByTitle(ctx context.Context, title string) (*simplefiles.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byTitle[title]
	if !exists {
		return nil, simplefiles.ErrNotFound
	}

	// Return a copy to prevent external modifications
	fileCopy := *r.files[id]
	return &fileCopy, nil
}

func (r *Repository) ListFiles(ctx context.Context) ([]*simplefiles.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simplefiles.FileRecord, 0, len(r.order))
	for _, id := range r.order {
		fileCopy := *r.files[id]
		result = append(result, &fileCopy)
	}

	return result, nil
}

func (r *Repository) UpdateFile(ctx context.Context, file *simplefiles.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.files[file.ID]
	if !exists {
		return simplefiles.ErrNotFound
	}
	if stored.Version != file.Version {
		return simplefiles.ErrConcurrentUpdate
	}

	// Title and creation data are immutable
	fileCopy := *file
	fileCopy.Title = stored.Title
	fileCopy.UploadedBy = stored.UploadedBy
	fileCopy.CreatedAt = stored.CreatedAt
	fileCopy.Version = stored.Version + 1
	r.files[file.ID] = &fileCopy

	file.Version = fileCopy.Version
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return nil
}
