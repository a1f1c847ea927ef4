package storage

import (
	"errors"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/model"
)

// FileChunk pairs a chunk's metadata with its payload.
type FileChunk struct {
	Metadata model.ChunkMetadata
	Data     []byte
}

// SplitFile reads the file at path sequentially and cuts it into
// chunks of at most chunkSize bytes, assigning a fresh file ID. Chunks
// are returned in index order; only the final chunk may be shorter
// than chunkSize.
func SplitFile(path string, chunkSize int) (uuid.UUID, []FileChunk, error) {
	if chunkSize <= 0 {
		return uuid.Nil, nil, ErrInvalidChunkSize
	}

	f, err := os.Open(path)
	if err != nil {
		return uuid.Nil, nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return uuid.Nil, nil, err
	}
	totalChunks := int((fi.Size() + int64(chunkSize) - 1) / int64(chunkSize))

	fileID := uuid.New()
	chunks := make([]FileChunk, 0, totalChunks)
	buf := make([]byte, chunkSize)

	for index := 0; ; index++ {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			chunks = append(chunks, FileChunk{
				Metadata: model.NewChunkMetadata(fileID, index, n, totalChunks),
				Data:     data,
			})
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return uuid.Nil, nil, err
		}
	}

	return fileID, chunks, nil
}
