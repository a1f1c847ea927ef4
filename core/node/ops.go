package node

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/catalog"
	"github.com/peerchunks/peerchunks/core/model"
	"github.com/peerchunks/peerchunks/core/storage"
	"github.com/peerchunks/peerchunks/lib/checksum"
)

// Upload ingests a local file: split into chunks, persist them,
// register this node in the location index, record the upload in the
// catalog and replicate to peers. A replication failure is returned
// alongside a valid file ID — the local ingest stands either way.
func (n *Node) Upload(ctx context.Context, filePath string) (uuid.UUID, error) {
	fileID, chunks, err := storage.SplitFile(filePath, n.cfg.ChunkSize)
	if err != nil {
		return uuid.Nil, err
	}

	dir, err := storage.InitializeStorage(n.cfg.Storage.Path, fileID)
	if err != nil {
		return uuid.Nil, err
	}

	var size int64
	for _, chunk := range chunks {
		if err := storage.SaveChunk(dir, chunk.Metadata, chunk.Data); err != nil {
			return uuid.Nil, err
		}
		size += int64(chunk.Metadata.Size)
	}

	n.index.Register(fileID, n.self)

	digest, err := checksum.File(filePath)
	if err != nil {
		return uuid.Nil, err
	}

	record := catalog.FileRecord{
		ID:         fileID,
		Name:       filePath,
		Size:       size,
		Chunks:     len(chunks),
		Checksum:   digest,
		UploadedAt: time.Now().UTC(),
	}
	if err := n.catalog.Put(ctx, record); err != nil {
		return uuid.Nil, err
	}

	log.Infow("upload", "event", "file ingested", "fileID", fileID, "path", filePath, "chunks", len(chunks), "bytes", size)

	if err := n.replicator.Replicate(fileID, n.cfg.Storage.Path, n.peerSnapshot()); err != nil {
		return fileID, fmt.Errorf("replication: %w", err)
	}

	return fileID, nil
}

// Download reassembles a file into destination. Locally stored chunks
// are used first; when none exist, chunks are fetched from the peers
// the location index lists for the file. A complete file must have
// contiguous indices 0..N-1.
func (n *Node) Download(ctx context.Context, fileID uuid.UUID, destination string) error {
	dir, err := storage.InitializeStorage(n.cfg.Storage.Path, fileID)
	if err != nil {
		return err
	}

	indices, err := storage.ListChunks(dir)
	if err != nil {
		return err
	}

	if len(indices) == 0 {
		peers, exists := n.index.Lookup(fileID)
		if !exists {
			return ErrNotFoundInIndex
		}

		n.fetchFromPeers(dir, fileID, peers)

		indices, err = storage.ListChunks(dir)
		if err != nil {
			return err
		}
	}

	if len(indices) == 0 {
		return ErrNoChunks
	}

	for i, index := range indices {
		if index != i {
			return fmt.Errorf("%w: missing chunk %d of file %s", ErrIncompleteFile, i, fileID)
		}
	}

	out, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, index := range indices {
		data, err := storage.GetChunk(dir, index)
		if err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}

	log.Infow("download", "event", "file reassembled", "fileID", fileID, "destination", destination, "chunks", len(indices))

	return nil
}

// fetchFromPeers probes chunk indices upward from zero, asking each
// peer in turn, and stops after the first index no peer can serve.
func (n *Node) fetchFromPeers(dir string, fileID uuid.UUID, peers []model.Peer) {
	for index := 0; index < maxFetchProbes; index++ {
		fetched := false
		for _, p := range peers {
			if p.Address == n.self.Address {
				continue
			}

			if err := n.client.FetchChunk(p, dir, fileID, index); err != nil {
				log.Errorw("download", "error", "chunk fetch failed", "fileID", fileID, "chunk", index, "peer", p.Address, "cause", err)
				continue
			}

			log.Infow("download", "event", "chunk fetched", "fileID", fileID, "chunk", index, "peer", p.Address)
			fetched = true
			break
		}

		if !fetched {
			return
		}
	}
}

// Search resolves a query to peer addresses. A UUID query goes
// straight to the location index; anything else matches against
// catalog file names, and the addresses of every matching file's
// holders are combined.
func (n *Node) Search(ctx context.Context, query string) []string {
	if _, err := uuid.Parse(query); err == nil {
		return n.index.Search(query)
	}

	records, err := n.catalog.FindByName(ctx, query)
	if err != nil {
		log.Errorw("search", "error", "catalog lookup failed", "query", query, "cause", err)
		return nil
	}

	addresses := make([]string, 0)
	for _, record := range records {
		addresses = append(addresses, n.index.Search(record.ID.String())...)
	}

	return addresses
}

// List returns the catalog of files uploaded through this node.
func (n *Node) List(ctx context.Context) ([]catalog.FileRecord, error) {
	return n.catalog.All(ctx)
}
