package s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

const filenameMetaKey = "filename"

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	Prefix          string // Key prefix for objects (e.g. "uploads/")
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)
	PartSize        int64  // Multipart part size in bytes (min 5 MiB)
	Concurrency     int    // Parts uploaded in parallel (default: manager default)

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// API is the subset of the S3 client the backend uses
type API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Backend is an S3-compatible implementation of the simplefiles.BlobStore interface.
// Objects are uploaded as multipart uploads; S3 only exposes the object
// once CompleteMultipartUpload has succeeded.
type Backend struct {
	client   API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	partSize int64
	config   Config
}

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.UsePathStyle
	})

	return NewWithClient(ctx, client, config)
}

// NewWithClient creates a backend over an existing client
func NewWithClient(ctx context.Context, client API, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	partSize := config.PartSize
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		if config.Concurrency > 0 {
			u.Concurrency = config.Concurrency
		}
		// a failed multipart upload must not leave parts behind
		u.LeavePartsOnError = false
	})

	backend := &Backend{
		client:   client,
		uploader: uploader,
		bucket:   config.Bucket,
		prefix:   config.Prefix,
		partSize: partSize,
		config:   config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

func (b *Backend) key(id simplefiles.BlobID) string {
	return b.prefix + string(id)
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	input := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	if _, err := b.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return err
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Upload streams r to a new key. It returns after S3 confirmed the upload.
func (b *Backend) Upload(ctx context.Context, filename string, r io.Reader) (*simplefiles.BlobInfo, error) {
	id := simplefiles.BlobID(uuid.NewString())

	hasher := sha256.New()
	body := &countingReader{r: io.TeeReader(r, hasher)}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(b.key(id)),
		Body:     body,
		Metadata: map[string]string{filenameMetaKey: filename},
	}

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return nil, b.wrap("upload", id, fmt.Errorf("failed to upload to S3: %w", err))
	}

	chunks := int((body.n + b.partSize - 1) / b.partSize)
	return &simplefiles.BlobInfo{
		ID:         id,
		Filename:   filename,
		Size:       body.n,
		ChunkSize:  int(b.partSize),
		Chunks:     chunks,
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Download streams an object directly from S3
func (b *Backend) Download(ctx context.Context, id simplefiles.BlobID) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, b.wrap("download", id, simplefiles.ErrBlobNotFound)
		}
		return nil, b.wrap("download", id, fmt.Errorf("failed to download from S3: %w", err))
	}
	return result.Body, nil
}

// Delete removes an object. S3 deletes are idempotent, so existence is
// checked first to report ErrBlobNotFound like the other backends.
func (b *Backend) Delete(ctx context.Context, id simplefiles.BlobID) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return b.wrap("delete", id, simplefiles.ErrBlobNotFound)
		}
		return b.wrap("delete", id, fmt.Errorf("failed to stat object: %w", err))
	}

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	}); err != nil {
		return b.wrap("delete", id, fmt.Errorf("failed to delete from S3: %w", err))
	}
	return nil
}

// Ping checks the bucket is reachable
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s unavailable: %w", b.bucket, err)
	}
	return nil
}

func (b *Backend) wrap(op string, id simplefiles.BlobID, err error) error {
	return &simplefiles.BlobError{Backend: "s3", ID: id, Op: op, Err: err}
}

// isNotFound handles the typed errors of AWS and the bare codes MinIO returns
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return strings.Contains(err.Error(), "StatusCode: 404")
}
