package chunk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkMap struct {
	mu     sync.Mutex
	chunks map[int][]byte
}

func newChunkMap() *chunkMap {
	return &chunkMap{chunks: make(map[int][]byte)}
}

func (m *chunkMap) write(ctx context.Context, index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chunks[index]; ok {
		return ErrDuplicateChunk
	}
	m.chunks[index] = append([]byte(nil), data...)
	return nil
}

func (m *chunkMap) read(ctx context.Context, index int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.chunks[index]
	if !ok {
		return nil, ErrMissingChunk
	}
	return data, nil
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		input      string
		wantChunks int
	}{
		{name: "empty", size: 4, input: "", wantChunks: 0},
		{name: "exact multiple", size: 4, input: "abcdefgh", wantChunks: 2},
		{name: "trailing partial chunk", size: 4, input: "abcdefghij", wantChunks: 3},
		{name: "single small chunk", size: 1024, input: "ABC", wantChunks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newChunkMap()
			manifest, err := Assemble(context.Background(), "f.bin", strings.NewReader(tt.input), tt.size, 3, m.write)
			require.NoError(t, err)

			sum := sha256.Sum256([]byte(tt.input))
			assert.Equal(t, "f.bin", manifest.Filename)
			assert.Equal(t, int64(len(tt.input)), manifest.Length)
			assert.Equal(t, tt.wantChunks, manifest.Chunks)
			assert.Equal(t, tt.size, manifest.ChunkSize)
			assert.Equal(t, hex.EncodeToString(sum[:]), manifest.Checksum)
			assert.Len(t, m.chunks, tt.wantChunks)

			rc := NewReader(context.Background(), manifest.Chunks, m.read, nil)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(got))
			assert.NoError(t, rc.Close())
		})
	}
}

func TestAssemble_WriteFailure(t *testing.T) {
	boom := errors.New("disk full")
	write := func(ctx context.Context, index int, data []byte) error {
		if index == 2 {
			return boom
		}
		return nil
	}

	manifest, err := Assemble(context.Background(), "f.bin", bytes.NewReader(make([]byte, 40)), 4, 2, write)
	assert.Nil(t, manifest)
	assert.ErrorIs(t, err, boom)
}

type failingReader struct{ err error }

func (f failingReader) Read(p []byte) (int, error) { return 0, f.err }

func TestAssemble_SourceFailure(t *testing.T) {
	boom := errors.New("connection reset")
	m := newChunkMap()

	src := io.MultiReader(strings.NewReader("abcdef"), failingReader{err: boom})
	manifest, err := Assemble(context.Background(), "f.bin", src, 4, 2, m.write)
	assert.Nil(t, manifest)
	assert.ErrorIs(t, err, boom)
}

func TestAssemble_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newChunkMap()
	manifest, err := Assemble(ctx, "f.bin", strings.NewReader("abcdef"), 4, 2, m.write)
	assert.Nil(t, manifest)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_MissingChunk(t *testing.T) {
	m := newChunkMap()
	require.NoError(t, m.write(context.Background(), 0, []byte("abcd")))
	require.NoError(t, m.write(context.Background(), 2, []byte("ij")))

	rc := NewReader(context.Background(), 3, m.read, nil)
	got, err := io.ReadAll(rc)
	assert.Equal(t, "abcd", string(got))
	assert.ErrorIs(t, err, ErrMissingChunk)
}

func TestReader_CloseRunsHookOnce(t *testing.T) {
	calls := 0
	rc := NewReader(context.Background(), 0, nil, func() error {
		calls++
		return nil
	})

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
	assert.Equal(t, 1, calls)

	_, err := rc.Read(make([]byte, 1))
	assert.Error(t, err)
}
