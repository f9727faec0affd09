package fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	backend, err := New(Config{BaseDir: t.TempDir(), ChunkSize: 8, Parallelism: 2})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestFSBackend_Config(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base directory is required")
}

func TestFSBackend_RoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 10)
	info, err := backend.Upload(ctx, "data.bin", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.Equal(t, 20, info.Chunks)
	assert.Equal(t, "data.bin", info.Filename)

	dir := backend.objectDir(info.ID)
	assert.FileExists(t, filepath.Join(dir, manifestFileName))
	assert.FileExists(t, filepath.Join(dir, "000019.zst"))

	rc, err := backend.Download(ctx, info.ID)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFSBackend_EmptyObject(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	info, err := backend.Upload(ctx, "empty.txt", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, info.Chunks)

	rc, err := backend.Download(ctx, info.ID)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFSBackend_Delete(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	info, err := backend.Upload(ctx, "a.txt", strings.NewReader("ABC"))
	require.NoError(t, err)

	require.NoError(t, backend.Delete(ctx, info.ID))
	assert.NoDirExists(t, backend.objectDir(info.ID))

	_, err = backend.Download(ctx, info.ID)
	assert.ErrorIs(t, err, simplefiles.ErrBlobNotFound)

	err = backend.Delete(ctx, info.ID)
	assert.ErrorIs(t, err, simplefiles.ErrBlobNotFound)
}

func TestFSBackend_IncompleteObjectIsInvisible(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	info, err := backend.Upload(ctx, "a.txt", strings.NewReader("ABCDEFGHIJ"))
	require.NoError(t, err)

	// simulate a crash between the last chunk and the manifest commit
	require.NoError(t, os.Remove(filepath.Join(backend.objectDir(info.ID), manifestFileName)))

	_, err = backend.Download(ctx, info.ID)
	assert.ErrorIs(t, err, simplefiles.ErrBlobNotFound)
}

func TestFSBackend_MissingChunk(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	info, err := backend.Upload(ctx, "a.txt", strings.NewReader("ABCDEFGHIJKLMNOP"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(backend.chunkPath(backend.objectDir(info.ID), 1)))

	rc, err := backend.Download(ctx, info.ID)
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	assert.Error(t, err)
}

type brokenReader struct{}

func (brokenReader) Read(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestFSBackend_FailedUploadLeavesNothing(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.Upload(ctx, "a.txt", io.MultiReader(strings.NewReader("ABCDEFGHIJ"), brokenReader{}))
	require.Error(t, err)

	var blobErr *simplefiles.BlobError
	assert.ErrorAs(t, err, &blobErr)
	assert.Equal(t, "fs", blobErr.Backend)

	shards, err := os.ReadDir(filepath.Join(backend.baseDir, objectsDirName))
	require.NoError(t, err)
	for _, shard := range shards {
		entries, err := os.ReadDir(filepath.Join(backend.baseDir, objectsDirName, shard.Name()))
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestFSBackend_RejectsForeignIDs(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	for _, id := range []simplefiles.BlobID{"", "../../etc/passwd", "ab", "not-a-uuid"} {
		_, err := backend.Download(ctx, id)
		assert.ErrorIs(t, err, simplefiles.ErrBlobNotFound, "id %q", id)
	}
}

func TestFSBackend_Ping(t *testing.T) {
	backend := newTestBackend(t)
	assert.NoError(t, backend.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(backend.baseDir))
	assert.Error(t, backend.Ping(context.Background()))
}
