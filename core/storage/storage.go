package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/model"
)

var (
	ErrChunkNotFound    = errors.New("chunk not found")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

const (
	chunkFilePrefix = "chunk_"
	chunkFileSuffix = ".bin"
)

// ChunkFileName returns the on-disk name for a chunk index.
func ChunkFileName(index int) string {
	return fmt.Sprintf("%s%d%s", chunkFilePrefix, index, chunkFileSuffix)
}

// ChunkDir returns the per-file chunk directory under root.
func ChunkDir(root string, fileID uuid.UUID) string {
	return filepath.Join(root, fileID.String())
}

// InitializeStorage creates the per-file chunk directory. Idempotent.
func InitializeStorage(root string, fileID uuid.UUID) (string, error) {
	dir := ChunkDir(root, fileID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	return dir, nil
}

// SaveChunk writes chunk_<index>.bin into dir. Overwriting an existing
// index is allowed; last write wins.
func SaveChunk(dir string, meta model.ChunkMetadata, data []byte) error {
	path := filepath.Join(dir, ChunkFileName(meta.Index))
	return os.WriteFile(path, data, 0644)
}

// GetChunk reads the chunk at index from dir.
func GetChunk(dir string, index int) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChunkFileName(index)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: index %d in %s", ErrChunkNotFound, index, dir)
		}
		return nil, err
	}

	return data, nil
}

// ListChunks scans dir for chunk_<N>.bin entries and returns the
// ascending unique indices. Entries not matching the pattern are
// ignored. This is the sole mechanism for judging how much of a file
// is present; there is no separate manifest.
func ListChunks(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, chunkFilePrefix) || !strings.HasSuffix(name, chunkFileSuffix) {
			continue
		}

		indexStr := strings.TrimSuffix(strings.TrimPrefix(name, chunkFilePrefix), chunkFileSuffix)
		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 || seen[index] {
			continue
		}

		seen[index] = true
		indices = append(indices, index)
	}

	sort.Ints(indices)

	return indices, nil
}
