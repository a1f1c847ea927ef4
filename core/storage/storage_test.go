package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/model"
)

func TestSaveAndGetChunk(t *testing.T) {
	fileID := uuid.New()
	dir, err := InitializeStorage(t.TempDir(), fileID)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("Hello")
	meta := model.NewChunkMetadata(fileID, 0, len(data), 1)
	if err := SaveChunk(dir, meta, data); err != nil {
		t.Fatal(err)
	}

	retrieved, err := GetChunk(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(retrieved, data) {
		t.Errorf("expected %q, got %q", data, retrieved)
	}
}

func TestGetChunkMissing(t *testing.T) {
	dir, err := InitializeStorage(t.TempDir(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := GetChunk(dir, 3); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("expected ErrChunkNotFound, got %v", err)
	}
}

func TestSaveChunkOverwrite(t *testing.T) {
	fileID := uuid.New()
	dir, err := InitializeStorage(t.TempDir(), fileID)
	if err != nil {
		t.Fatal(err)
	}

	if err := SaveChunk(dir, model.NewChunkMetadata(fileID, 0, 3, 1), []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := SaveChunk(dir, model.NewChunkMetadata(fileID, 0, 3, 1), []byte("new")); err != nil {
		t.Fatal(err)
	}

	data, err := GetChunk(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("expected last write to win, got %q", data)
	}
}

func TestInitializeStorageIdempotent(t *testing.T) {
	root := t.TempDir()
	fileID := uuid.New()

	first, err := InitializeStorage(root, fileID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := InitializeStorage(root, fileID)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("expected the same directory, got %q and %q", first, second)
	}
}

func TestListChunks(t *testing.T) {
	fileID := uuid.New()
	dir, err := InitializeStorage(t.TempDir(), fileID)
	if err != nil {
		t.Fatal(err)
	}

	// write out of order to check sorting
	for _, i := range []int{4, 0, 2, 10, 1} {
		meta := model.NewChunkMetadata(fileID, i, 5, 5)
		if err := SaveChunk(dir, meta, []byte("chunk")); err != nil {
			t.Fatal(err)
		}
	}

	// entries that must be ignored
	for _, name := range []string{"notes.txt", "chunk_x.bin", "chunk_.bin", "chunk_2"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("junk"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	indices, err := ListChunks(dir)
	if err != nil {
		t.Fatal(err)
	}

	expected := []int{0, 1, 2, 4, 10}
	if len(indices) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, indices)
	}
	for i := range expected {
		if indices[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, indices)
		}
	}
}

func TestSplitSaveListGet(t *testing.T) {
	root := t.TempDir()

	path := filepath.Join(t.TempDir(), "input.txt")
	content := []byte("HelloPeerChunksFileChunkingTest!!")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	fileID, chunks, err := SplitFile(path, 5)
	if err != nil {
		t.Fatal(err)
	}

	dir, err := InitializeStorage(root, fileID)
	if err != nil {
		t.Fatal(err)
	}

	for _, chunk := range chunks {
		if err := SaveChunk(dir, chunk.Metadata, chunk.Data); err != nil {
			t.Fatal(err)
		}
	}

	indices, err := ListChunks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(indices) != len(chunks) {
		t.Fatalf("expected %d indices, got %d", len(chunks), len(indices))
	}

	for _, chunk := range chunks {
		data, err := GetChunk(dir, chunk.Metadata.Index)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, chunk.Data) {
			t.Errorf("chunk %d does not round-trip", chunk.Metadata.Index)
		}
	}
}
