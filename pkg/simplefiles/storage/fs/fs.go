package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/tendant/simple-files/pkg/simplefiles"
	"github.com/tendant/simple-files/pkg/simplefiles/storage/chunk"
)

const (
	objectsDirName   = "objects"
	manifestFileName = "manifest.json"
	chunkFileFormat  = "%06d.zst"
)

// Backend is a filesystem implementation of the simplefiles.BlobStore interface.
//
// Each object lives in its own directory holding zstd-compressed chunk files.
// manifest.json is renamed into place after the last chunk is written; a
// directory without it is an incomplete upload and is never served.
type Backend struct {
	baseDir     string
	chunkSize   int
	parallelism int
	dirMode     os.FileMode
	fileMode    os.FileMode

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Config options for the filesystem backend
type Config struct {
	BaseDir     string // Base directory for storing objects
	ChunkSize   int    // Chunk size in bytes (default: 255 KiB)
	Parallelism int    // Concurrent chunk writes per upload (default: 4)
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = chunk.DefaultSize
	}
	if config.Parallelism <= 0 {
		config.Parallelism = chunk.DefaultParallelism
	}

	baseDir := filepath.Clean(config.BaseDir)
	if err := os.MkdirAll(filepath.Join(baseDir, objectsDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Backend{
		baseDir:     baseDir,
		chunkSize:   config.ChunkSize,
		parallelism: config.Parallelism,
		dirMode:     0755,
		fileMode:    0644,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

// objectDir shards objects by the first two characters of their id
func (b *Backend) objectDir(id simplefiles.BlobID) string {
	s := string(id)
	return filepath.Join(b.baseDir, objectsDirName, s[:2], s)
}

func (b *Backend) chunkPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf(chunkFileFormat, index))
}

// Upload writes every chunk, then commits the manifest
func (b *Backend) Upload(ctx context.Context, filename string, r io.Reader) (*simplefiles.BlobInfo, error) {
	id := simplefiles.BlobID(uuid.NewString())
	dir := b.objectDir(id)

	if err := os.MkdirAll(dir, b.dirMode); err != nil {
		return nil, b.wrap("upload", id, fmt.Errorf("failed to create directory: %w", err))
	}

	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(dir)
		}
	}()

	write := func(ctx context.Context, index int, data []byte) error {
		// O_EXCL: a chunk index is written exactly once
		f, err := os.OpenFile(b.chunkPath(dir, index), os.O_WRONLY|os.O_CREATE|os.O_EXCL, b.fileMode)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				return chunk.ErrDuplicateChunk
			}
			return err
		}
		if _, err := f.Write(b.encoder.EncodeAll(data, nil)); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	manifest, err := chunk.Assemble(ctx, filename, r, b.chunkSize, b.parallelism, write)
	if err != nil {
		return nil, b.wrap("upload", id, err)
	}

	if err := b.writeManifest(dir, manifest); err != nil {
		return nil, b.wrap("upload", id, err)
	}
	committed = true

	return blobInfo(id, manifest), nil
}

func (b *Backend) writeManifest(dir string, m *chunk.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close manifest: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, manifestFileName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}

func (b *Backend) readManifest(id simplefiles.BlobID) (*chunk.Manifest, string, error) {
	if err := validateID(id); err != nil {
		return nil, "", err
	}

	dir := b.objectDir(id)
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", simplefiles.ErrBlobNotFound
		}
		return nil, "", fmt.Errorf("failed to read manifest: %w", err)
	}

	var m chunk.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, dir, nil
}

// Download streams an object, decompressing one chunk at a time
func (b *Backend) Download(ctx context.Context, id simplefiles.BlobID) (io.ReadCloser, error) {
	manifest, dir, err := b.readManifest(id)
	if err != nil {
		return nil, b.wrap("download", id, err)
	}

	read := func(ctx context.Context, index int) ([]byte, error) {
		compressed, err := os.ReadFile(b.chunkPath(dir, index))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, chunk.ErrMissingChunk
			}
			return nil, err
		}
		return b.decoder.DecodeAll(compressed, nil)
	}

	return chunk.NewReader(ctx, manifest.Chunks, read, nil), nil
}

// Delete uncommits the object by removing its manifest, then removes its chunks
func (b *Backend) Delete(ctx context.Context, id simplefiles.BlobID) error {
	if _, _, err := b.readManifest(id); err != nil {
		return b.wrap("delete", id, err)
	}

	dir := b.objectDir(id)
	if err := os.Remove(filepath.Join(dir, manifestFileName)); err != nil {
		return b.wrap("delete", id, fmt.Errorf("failed to remove manifest: %w", err))
	}
	if err := os.RemoveAll(dir); err != nil {
		return b.wrap("delete", id, fmt.Errorf("failed to remove chunks: %w", err))
	}

	// drop the shard directory when it became empty
	shard := filepath.Dir(dir)
	if entries, err := os.ReadDir(shard); err == nil && len(entries) == 0 {
		os.Remove(shard)
	}
	return nil
}

// Ping verifies the base directory is accessible
func (b *Backend) Ping(ctx context.Context) error {
	info, err := os.Stat(filepath.Join(b.baseDir, objectsDirName))
	if err != nil {
		return fmt.Errorf("storage directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %s is not a directory", b.baseDir)
	}
	return nil
}

// Close releases the zstd encoder and decoder
func (b *Backend) Close() error {
	b.decoder.Close()
	return b.encoder.Close()
}

func (b *Backend) wrap(op string, id simplefiles.BlobID, err error) error {
	return &simplefiles.BlobError{Backend: "fs", ID: id, Op: op, Err: err}
}

// validateID rejects ids that are not generated by this backend. Ids become
// path components, so this also prevents traversal.
func validateID(id simplefiles.BlobID) error {
	parsed, err := uuid.Parse(string(id))
	if err != nil || parsed.String() != string(id) {
		return simplefiles.ErrBlobNotFound
	}
	return nil
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
