// Package sqlite stores file records in a single SQLite database through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-files/pkg/simplefiles"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fileModel is the table projection of simplefiles.FileRecord
type fileModel struct {
	ID               string    `gorm:"primaryKey;type:char(36)"`
	Title            string    `gorm:"uniqueIndex;not null"`
	OriginalFilename string    `gorm:"not null;default:''"`
	UploadedBy       string    `gorm:"not null"`
	BlobID           string    `gorm:"not null"`
	Version          int64     `gorm:"not null;default:1"`
	CreatedAt        time.Time `gorm:"index"`
	UpdatedAt        time.Time
}

func (fileModel) TableName() string {
	return "files"
}

func toModel(f *simplefiles.FileRecord) *fileModel {
	return &fileModel{
		ID:               f.ID.String(),
		Title:            f.Title,
		OriginalFilename: f.OriginalFilename,
		UploadedBy:       f.UploadedBy,
		BlobID:           string(f.BlobID),
		Version:          f.Version,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
}

func (m *fileModel) record() (*simplefiles.FileRecord, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid file id %q: %w", m.ID, err)
	}
	return &simplefiles.FileRecord{
		ID:               id,
		Title:            m.Title,
		OriginalFilename: m.OriginalFilename,
		UploadedBy:       m.UploadedBy,
		BlobID:           simplefiles.BlobID(m.BlobID),
		Version:          m.Version,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}, nil
}

// Repository implements simplefiles.Repository on SQLite
type Repository struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates it
func Open(path string) (*Repository, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer; a single connection keeps writers queued in Go
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	repo := NewWithConn(db)
	if err := repo.Migrate(); err != nil {
		return nil, err
	}
	return repo, nil
}

// NewWithConn wraps an existing gorm connection
func NewWithConn(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the files table
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(&fileModel{}); err != nil {
		return fmt.Errorf("failed to migrate files table: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *Repository) CreateFile(ctx context.Context, file *simplefiles.FileRecord) error {
	if err := r.db.WithContext(ctx).Create(toModel(file)).Error; err != nil {
		if isUniqueViolation(err) {
			return simplefiles.ErrDuplicateTitle
		}
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

func (r *Repository) GetFileByTitle(ctx context.Context, title string) (*simplefiles.FileRecord, error) {
	var model fileModel
	err := r.db.WithContext(ctx).
		Where("title = ?", title).
		First(&model).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, simplefiles.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return model.record()
}

func (r *Repository) ListFiles(ctx context.Context) ([]*simplefiles.FileRecord, error) {
	var models []fileModel
	err := r.db.WithContext(ctx).
		Order("created_at, rowid").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	files := make([]*simplefiles.FileRecord, 0, len(models))
	for i := range models {
		f, err := models[i].record()
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// UpdateFile switches the record with compare-and-swap on version
func (r *Repository) UpdateFile(ctx context.Context, file *simplefiles.FileRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// UPDATE files SET ... , version = version + 1 WHERE id = ? AND version = ?
		result := tx.Model(&fileModel{}).
			Where("id = ? AND version = ?", file.ID.String(), file.Version).
			Updates(map[string]any{
				"original_filename": file.OriginalFilename,
				"blob_id":           string(file.BlobID),
				"updated_at":        file.UpdatedAt,
				"version":           gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update file: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&fileModel{}).Where("id = ?", file.ID.String()).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to update file: %w", err)
			}
			if count == 0 {
				return simplefiles.ErrNotFound
			}
			return simplefiles.ErrConcurrentUpdate
		}

		file.Version++
		return nil
	})
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
