package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	backend := New(WithChunkSize(4))

	t.Run("UploadAndDownload", func(t *testing.T) {
		info, err := backend.Upload(ctx, "logo.png", strings.NewReader("hello chunked world"))
		require.NoError(t, err)
		assert.NotEmpty(t, info.ID)
		assert.Equal(t, "logo.png", info.Filename)
		assert.Equal(t, int64(19), info.Size)
		assert.Equal(t, 5, info.Chunks)

		stat, err := backend.Stat(info.ID)
		require.NoError(t, err)
		assert.Equal(t, info, stat)

		rc, err := backend.Download(ctx, info.ID)
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "hello chunked world", string(data))
	})

	t.Run("DistinctIDs", func(t *testing.T) {
		a, err := backend.Upload(ctx, "a", strings.NewReader("same"))
		require.NoError(t, err)
		b, err := backend.Upload(ctx, "b", strings.NewReader("same"))
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("DownloadNonExistent", func(t *testing.T) {
		_, err := backend.Download(ctx, "missing")
		assert.ErrorIs(t, err, simplefiles.ErrBlobNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		info, err := backend.Upload(ctx, "gone.txt", strings.NewReader("bye"))
		require.NoError(t, err)

		require.NoError(t, backend.Delete(ctx, info.ID))

		_, err = backend.Download(ctx, info.ID)
		assert.ErrorIs(t, err, simplefiles.ErrBlobNotFound)

		err = backend.Delete(ctx, info.ID)
		assert.ErrorIs(t, err, simplefiles.ErrBlobNotFound)

		_, err = backend.Stat(info.ID)
		assert.ErrorIs(t, err, simplefiles.ErrBlobNotFound)
	})

	t.Run("CanceledUploadIsNotCommitted", func(t *testing.T) {
		before := backend.Len()

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := backend.Upload(canceled, "x", strings.NewReader("data"))
		assert.Error(t, err)
		assert.Equal(t, before, backend.Len())
	})
}
