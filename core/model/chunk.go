package model

import "github.com/google/uuid"

// ChunkMetadata describes one chunk of a file. TotalChunks is a hint
// only; completion is always judged by enumerating stored indices.
type ChunkMetadata struct {
	FileID      uuid.UUID
	Index       int
	Size        int
	TotalChunks int
}

func NewChunkMetadata(fileID uuid.UUID, index, size, totalChunks int) ChunkMetadata {
	return ChunkMetadata{
		FileID:      fileID,
		Index:       index,
		Size:        size,
		TotalChunks: totalChunks,
	}
}
