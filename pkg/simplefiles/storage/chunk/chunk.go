// Package chunk splits byte streams into fixed-size numbered chunks and
// reassembles them in order. Chunked blob stores build on it.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSize is the default chunk size (255 KiB)
	DefaultSize = 255 * 1024

	// DefaultParallelism bounds concurrent chunk writes per upload
	DefaultParallelism = 4
)

var (
	// ErrMissingChunk indicates a committed object lacks one of its chunks
	ErrMissingChunk = errors.New("chunk missing")

	// ErrDuplicateChunk indicates a chunk index was written twice
	ErrDuplicateChunk = errors.New("chunk already written")
)

// Manifest describes a fully assembled object. A store writes it only after
// every chunk was persisted; its presence is what makes an object committed.
type Manifest struct {
	Filename   string    `json:"filename"`
	Length     int64     `json:"length"`
	ChunkSize  int       `json:"chunk_size"`
	Chunks     int       `json:"chunks"`
	Checksum   string    `json:"sha256"`
	UploadedAt time.Time `json:"upload_date"`
}

// WriteFunc persists chunk index. It is called at most once per index and
// may be called concurrently for different indexes.
type WriteFunc func(ctx context.Context, index int, data []byte) error

// ReadFunc loads chunk index
type ReadFunc func(ctx context.Context, index int) ([]byte, error)

// Assemble reads r to EOF in chunks of size bytes and hands each to write,
// keeping at most parallel writes in flight. It returns a manifest only after
// every write has returned successfully.
func Assemble(ctx context.Context, filename string, r io.Reader, size, parallel int, write WriteFunc) (*Manifest, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if parallel <= 0 {
		parallel = DefaultParallelism
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	hasher := sha256.New()
	var (
		length  int64
		chunks  int
		readErr error
	)

	for {
		if gctx.Err() != nil {
			break
		}

		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := buf[:n]
			hasher.Write(data)
			length += int64(n)

			index := chunks
			chunks++
			g.Go(func() error {
				if err := write(gctx, index, data); err != nil {
					return fmt.Errorf("chunk %d: %w", index, err)
				}
				return nil
			})
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			readErr = fmt.Errorf("failed to read source stream: %w", err)
			break
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Manifest{
		Filename:   filename,
		Length:     length,
		ChunkSize:  size,
		Chunks:     chunks,
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Reader streams chunks 0..n-1 in order, loading each only when the previous
// one is drained.
type Reader struct {
	ctx     context.Context
	read    ReadFunc
	chunks  int
	next    int
	current []byte
	err     error
	onClose func() error
}

// NewReader creates a reader over a committed object with the given chunk count.
// onClose, when not nil, runs once on Close.
func NewReader(ctx context.Context, chunks int, read ReadFunc, onClose func() error) *Reader {
	return &Reader{
		ctx:     ctx,
		read:    read,
		chunks:  chunks,
		onClose: onClose,
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	for len(r.current) == 0 {
		if r.next >= r.chunks {
			r.err = io.EOF
			return 0, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			r.err = err
			return 0, err
		}

		data, err := r.read(r.ctx, r.next)
		if err != nil {
			r.err = fmt.Errorf("chunk %d of %d: %w", r.next, r.chunks, err)
			return 0, r.err
		}
		r.current = data
		r.next++
	}

	n := copy(p, r.current)
	r.current = r.current[n:]
	return n, nil
}

// Close releases the reader. Further reads fail.
func (r *Reader) Close() error {
	if r.err == errClosed {
		return nil
	}
	r.err = errClosed
	r.current = nil
	if r.onClose != nil {
		return r.onClose()
	}
	return nil
}

var errClosed = errors.New("chunk reader closed")
