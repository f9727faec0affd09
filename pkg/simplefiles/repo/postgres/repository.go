package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type pinger interface {
	Ping(context.Context) error
}

// Repository implements simplefiles.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the files table when it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return simplefiles.ErrDuplicateTitle
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const fileColumns = `id, title, original_filename, uploaded_by, blob_id, version, created_at, updated_at`

func scanFile(row pgx.Row) (*simplefiles.FileRecord, error) {
	var file simplefiles.FileRecord
	var blobID string
	err := row.Scan(
		&file.ID, &file.Title, &file.OriginalFilename, &file.UploadedBy,
		&blobID, &file.Version, &file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return nil, err
	}
	file.BlobID = simplefiles.BlobID(blobID)
	return &file, nil
}

func (r *Repository) CreateFile(ctx context.Context, file *simplefiles.FileRecord) error {
	query := `
		INSERT INTO files (
			id, title, original_filename, uploaded_by, blob_id, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		file.ID, file.Title, file.OriginalFilename, file.UploadedBy,
		string(file.BlobID), file.Version, file.CreatedAt, file.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create file", err)
	}

	return nil
}

func (r *Repository) GetFileByTitle(ctx context.Context, title string) (*simplefiles.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE title = $1`

	file, err := scanFile(r.db.QueryRow(ctx, query, title))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplefiles.ErrNotFound
		}
		return nil, r.handlePostgresError("get file", err)
	}

	return file, nil
}

func (r *Repository) ListFiles(ctx context.Context) ([]*simplefiles.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("list files", err)
	}
	defer rows.Close()

	files := make([]*simplefiles.FileRecord, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, r.handlePostgresError("list files", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list files", err)
	}

	return files, nil
}

func (r *Repository) UpdateFile(ctx context.Context, file *simplefiles.FileRecord) error {
	query := `
		UPDATE files SET
			original_filename = $3, blob_id = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $2`

	tag, err := r.db.Exec(ctx, query,
		file.ID, file.Version, file.OriginalFilename, string(file.BlobID), file.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update file", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM files WHERE id = $1)`, file.ID).Scan(&exists); err != nil {
			return r.handlePostgresError("update file", err)
		}
		if !exists {
			return simplefiles.ErrNotFound
		}
		return simplefiles.ErrConcurrentUpdate
	}

	file.Version++
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if p, ok := r.db.(pinger); ok {
		return p.Ping(ctx)
	}
	_, err := r.db.Exec(ctx, "SELECT 1")
	return err
}
