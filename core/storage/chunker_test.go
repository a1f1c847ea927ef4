package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSplitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	content := []byte("0123456789012345678901234567890123") // 34 bytes
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	fileID, chunks, err := SplitFile(path, 5)
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 7 {
		t.Fatalf("expected 7 chunks, got %d", len(chunks))
	}

	var reassembled []byte
	for i, chunk := range chunks {
		if chunk.Metadata.FileID != fileID {
			t.Errorf("chunk %d carries file ID %s, expected %s", i, chunk.Metadata.FileID, fileID)
		}
		if chunk.Metadata.Index != i {
			t.Errorf("expected index %d, got %d", i, chunk.Metadata.Index)
		}

		expectedSize := 5
		if i == 6 {
			expectedSize = 4
		}
		if chunk.Metadata.Size != expectedSize || len(chunk.Data) != expectedSize {
			t.Errorf("chunk %d: expected %d bytes, got metadata %d, data %d", i, expectedSize, chunk.Metadata.Size, len(chunk.Data))
		}

		reassembled = append(reassembled, chunk.Data...)
	}

	if !bytes.Equal(reassembled, content) {
		t.Error("concatenated chunks do not reproduce the original file")
	}
}

func TestSplitFileExactMultiple(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.bin")
	content := bytes.Repeat([]byte{0xAB}, 20)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	_, chunks, err := SplitFile(path, 5)
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk.Data) != 5 {
			t.Errorf("chunk %d: expected 5 bytes, got %d", i, len(chunk.Data))
		}
	}
}

func TestSplitFileInvalidChunkSize(t *testing.T) {
	if _, _, err := SplitFile("whatever", 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
}

func TestSplitFileMissing(t *testing.T) {
	if _, _, err := SplitFile(filepath.Join(t.TempDir(), "missing"), 5); err == nil {
		t.Error("expected an error for a missing file")
	}
}
