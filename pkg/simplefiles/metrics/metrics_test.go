package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-files/pkg/simplefiles"
	"github.com/tendant/simple-files/pkg/simplefiles/storage/memory"
)

func TestSink_CountsEvents(t *testing.T) {
	c := New()
	sink := c.Sink()
	ctx := context.Background()

	require.NoError(t, sink.FileCreated(ctx, &simplefiles.FileRecord{Title: "logo"}))
	require.NoError(t, sink.FileUpdated(ctx, &simplefiles.FileRecord{Title: "logo"}, "old"))
	require.NoError(t, sink.FileUpdated(ctx, &simplefiles.FileRecord{Title: "logo"}, "older"))
	require.NoError(t, sink.StaleBlobDeleted(ctx, "old"))
	require.NoError(t, sink.BlobOrphaned(ctx, "b1", "update: stale blob delete failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.filesCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.filesUpdated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.staleBlobsDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.blobsOrphaned.WithLabelValues("update: stale blob delete failed")))

	n, err := testutil.GatherAndCount(c.Registry(), "simplefiles_files_created_total", "simplefiles_blobs_orphaned_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWrapBlobStore(t *testing.T) {
	c := New()
	store := c.WrapBlobStore(memory.New())
	ctx := context.Background()

	info, err := store.Upload(ctx, "a.txt", strings.NewReader("hello"))
	require.NoError(t, err)

	rc, err := store.Download(ctx, info.ID)
	require.NoError(t, err)
	rc.Close()

	require.NoError(t, store.Delete(ctx, info.ID))
	assert.Error(t, store.Delete(ctx, info.ID))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.blobOps.WithLabelValues("upload")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.blobOps.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.blobErrors.WithLabelValues("delete")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.writtenBytes))
}

func TestHandlerAndMiddleware(t *testing.T) {
	c := New()

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/files", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("201", "POST")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "simplefiles_http_requests_total")
}
