// Package metrics exposes file lifecycle and blob store activity to Prometheus.
package metrics

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

// Collector owns a private registry so tests and multiple servers never collide
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec

	filesCreated      prometheus.Counter
	filesUpdated      prometheus.Counter
	staleBlobsDeleted prometheus.Counter
	blobsOrphaned     *prometheus.CounterVec

	// using (totalRequests, errors) instead of (successes, errors)
	blobOps      *prometheus.CounterVec
	blobErrors   *prometheus.CounterVec
	blobDuration *prometheus.HistogramVec
	writtenBytes prometheus.Counter
}

// New creates a collector with every metric registered
func New() *Collector {
	reg := prometheus.NewRegistry()

	// shorthand for new'ing and registering
	counter := func(opts prometheus.CounterOpts) prometheus.Counter {
		c := prometheus.NewCounter(opts)
		reg.MustRegister(c)
		return c
	}
	counterVec := func(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(opts, labels)
		reg.MustRegister(c)
		return c
	}

	c := &Collector{
		registry: reg,
		httpRequests: counterVec(prometheus.CounterOpts{
			Name: "simplefiles_http_requests_total",
			Help: "HTTP server's handled requests",
		}, "code", "method"),
		filesCreated: counter(prometheus.CounterOpts{
			Name: "simplefiles_files_created_total",
			Help: "Files created",
		}),
		filesUpdated: counter(prometheus.CounterOpts{
			Name: "simplefiles_files_updated_total",
			Help: "New versions uploaded for existing files",
		}),
		staleBlobsDeleted: counter(prometheus.CounterOpts{
			Name: "simplefiles_stale_blobs_deleted_total",
			Help: "Replaced blobs removed after an update",
		}),
		blobsOrphaned: counterVec(prometheus.CounterOpts{
			Name: "simplefiles_blobs_orphaned_total",
			Help: "Blobs left without a referencing file record",
		}, "reason"),
		blobOps: counterVec(prometheus.CounterOpts{
			Name: "simplefiles_blob_operations_total",
			Help: "Blob store operations",
		}, "op"),
		blobErrors: counterVec(prometheus.CounterOpts{
			Name: "simplefiles_blob_operation_errors_total",
			Help: "Blob store operations that failed",
		}, "op"),
		writtenBytes: counter(prometheus.CounterOpts{
			Name: "simplefiles_blob_written_bytes_total",
			Help: "Bytes committed to the blob store",
		}),
	}

	c.blobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simplefiles_blob_operation_duration_seconds",
		Help:    "Blob store operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reg.MustRegister(c.blobDuration)

	return c
}

// Registry returns the registry the metrics are registered in
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware counts handled requests by status code and method
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.With(prometheus.Labels{
			"code":   strconv.Itoa(status),
			"method": r.Method,
		}).Inc()
	})
}

// Sink returns an EventSink that records lifecycle events
func (c *Collector) Sink() simplefiles.EventSink {
	return &sink{c}
}

type sink struct {
	c *Collector
}

func (s *sink) FileCreated(ctx context.Context, file *simplefiles.FileRecord) error {
	s.c.filesCreated.Inc()
	return nil
}

func (s *sink) FileUpdated(ctx context.Context, file *simplefiles.FileRecord, previous simplefiles.BlobID) error {
	s.c.filesUpdated.Inc()
	return nil
}

func (s *sink) StaleBlobDeleted(ctx context.Context, id simplefiles.BlobID) error {
	s.c.staleBlobsDeleted.Inc()
	return nil
}

func (s *sink) BlobOrphaned(ctx context.Context, id simplefiles.BlobID, reason string) error {
	s.c.blobsOrphaned.WithLabelValues(reason).Inc()
	return nil
}

// WrapBlobStore decorates a blob store with a proxy that doesn't change any
// behaviour, but records metrics for the operations
func (c *Collector) WrapBlobStore(origin simplefiles.BlobStore) simplefiles.BlobStore {
	return &proxyStore{origin: origin, c: c}
}

type proxyStore struct {
	origin simplefiles.BlobStore
	c      *Collector
}

func (p *proxyStore) observe(op string, started time.Time, err error) {
	p.c.blobOps.WithLabelValues(op).Inc()
	p.c.blobDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		p.c.blobErrors.WithLabelValues(op).Inc()
	}
}

func (p *proxyStore) Upload(ctx context.Context, filename string, r io.Reader) (*simplefiles.BlobInfo, error) {
	started := time.Now()
	info, err := p.origin.Upload(ctx, filename, r)
	p.observe("upload", started, err)
	if err == nil {
		p.c.writtenBytes.Add(float64(info.Size))
	}
	return info, err
}

func (p *proxyStore) Download(ctx context.Context, id simplefiles.BlobID) (io.ReadCloser, error) {
	started := time.Now()
	rc, err := p.origin.Download(ctx, id)
	p.observe("download", started, err)
	return rc, err
}

func (p *proxyStore) Delete(ctx context.Context, id simplefiles.BlobID) error {
	started := time.Now()
	err := p.origin.Delete(ctx, id)
	p.observe("delete", started, err)
	return err
}

func (p *proxyStore) Ping(ctx context.Context) error {
	return p.origin.Ping(ctx)
}
