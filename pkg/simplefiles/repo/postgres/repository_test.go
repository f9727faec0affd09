package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

// newTestRepository connects to TEST_DATABASE_URL and isolates the test in
// a throwaway schema.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	schemaName := fmt.Sprintf("files_test_%d", time.Now().UnixNano())

	admin, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schemaName)
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schemaName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schemaName+" CASCADE")
		admin.Close()
	})

	repo := NewWithPool(pool)
	require.NoError(t, repo.Migrate(ctx))
	// migrations are idempotent
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func newRecord(title, blob string) *simplefiles.FileRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &simplefiles.FileRecord{
		ID:               uuid.New(),
		Title:            title,
		OriginalFilename: title + ".png",
		UploadedBy:       "alice",
		BlobID:           simplefiles.BlobID(blob),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestRepository_CreateGetList(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Ping(ctx))

	files, err := repo.ListFiles(ctx)
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)

	file := newRecord("logo", "b1")
	require.NoError(t, repo.CreateFile(ctx, file))

	got, err := repo.GetFileByTitle(ctx, "logo")
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)
	assert.Equal(t, "logo.png", got.OriginalFilename)
	assert.Equal(t, simplefiles.BlobID("b1"), got.BlobID)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, file.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.GetFileByTitle(ctx, "LOGO")
	assert.ErrorIs(t, err, simplefiles.ErrNotFound)

	err = repo.CreateFile(ctx, newRecord("logo", "b2"))
	assert.ErrorIs(t, err, simplefiles.ErrDuplicateTitle)

	files, err = repo.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRepository_UpdateCompareAndSwap(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	file := newRecord("logo", "b1")
	require.NoError(t, repo.CreateFile(ctx, file))

	stale := *file
	file.BlobID = "b2"
	file.OriginalFilename = "logo_v2.png"
	require.NoError(t, repo.UpdateFile(ctx, file))
	assert.Equal(t, int64(2), file.Version)

	stale.BlobID = "b3"
	assert.ErrorIs(t, repo.UpdateFile(ctx, &stale), simplefiles.ErrConcurrentUpdate)

	got, err := repo.GetFileByTitle(ctx, "logo")
	require.NoError(t, err)
	assert.Equal(t, simplefiles.BlobID("b2"), got.BlobID)
	assert.Equal(t, "logo_v2.png", got.OriginalFilename)
	assert.Equal(t, "alice", got.UploadedBy)

	ghost := newRecord("ghost", "b9")
	assert.ErrorIs(t, repo.UpdateFile(ctx, ghost), simplefiles.ErrNotFound)
}

func TestRepository_ConcurrentCreateSameTitle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.CreateFile(ctx, newRecord("race", fmt.Sprintf("b%d", i)))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, simplefiles.ErrDuplicateTitle)
	}
	assert.Equal(t, 1, succeeded)
}
