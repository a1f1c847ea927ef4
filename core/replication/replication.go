package replication

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/constants"
	"github.com/peerchunks/peerchunks/core/model"
	"github.com/peerchunks/peerchunks/core/storage"
	"github.com/peerchunks/peerchunks/lib/logger"
)

var log, _ = logger.New("replication")

// SendFunc pushes one locally stored chunk to a peer.
type SendFunc func(peer model.Peer, chunkDir string, fileID uuid.UUID, index int) error

// InsufficientPeersError is returned when fewer eligible peers remain
// than the replication factor requires. Replication is all-or-nothing
// per file; no pushes happen for the failing selection.
type InsufficientPeersError struct {
	Required   int
	Available  int
	ChunkIndex int
}

func (e *InsufficientPeersError) Error() string {
	return fmt.Sprintf("not enough peers to replicate chunk %d: required %d, available %d",
		e.ChunkIndex, e.Required, e.Available)
}

// Replicator pushes every chunk of a file to Factor distinct peers.
// Self is this node's advertised address and is never selected.
type Replicator struct {
	Factor int
	Self   model.Peer
	Send   SendFunc
}

func NewReplicator(self model.Peer, send SendFunc) *Replicator {
	return &Replicator{
		Factor: constants.ReplicationFactor,
		Self:   self,
		Send:   send,
	}
}

// Replicate pushes all chunks of fileID to Factor peers selected from
// candidates. Selection failure aborts the whole call; a failed push
// to an individual peer is logged and does not abort the rest.
func (r *Replicator) Replicate(fileID uuid.UUID, storageRoot string, candidates []model.Peer) error {
	chunkDir := storage.ChunkDir(storageRoot, fileID)

	indices, err := storage.ListChunks(chunkDir)
	if err != nil {
		return err
	}

	for _, index := range indices {
		targets, err := r.selectPeers(candidates, index)
		if err != nil {
			return err
		}

		for _, peer := range targets {
			if err := r.Send(peer, chunkDir, fileID, index); err != nil {
				log.Errorw("replication", "error", "push failed", "fileID", fileID, "chunk", index, "peer", peer.Address, "cause", err)
				continue
			}

			log.Infow("replication", "event", "chunk replicated", "fileID", fileID, "chunk", index, "peer", peer.Address)
		}
	}

	return nil
}

func (r *Replicator) selectPeers(candidates []model.Peer, chunkIndex int) ([]model.Peer, error) {
	eligible := make([]model.Peer, 0, len(candidates))
	for _, peer := range candidates {
		if peer.Address == r.Self.Address {
			continue
		}

		eligible = append(eligible, peer)
	}

	if len(eligible) < r.Factor {
		return nil, &InsufficientPeersError{
			Required:   r.Factor,
			Available:  len(eligible),
			ChunkIndex: chunkIndex,
		}
	}

	return eligible[:r.Factor], nil
}
