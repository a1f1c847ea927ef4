package index

import (
	"sync"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/model"
	"github.com/peerchunks/peerchunks/lib/logger"
	"github.com/peerchunks/peerchunks/lib/utils"
)

var log, _ = logger.New("index")

// Entry is one flattened index row, used for gossip.
type Entry struct {
	FileID  uuid.UUID
	Address string
}

// Index maps file IDs to the set of peers known to hold that file. It
// is the only state shared across connection goroutines; every method
// is atomic under a single lock, and the lock is never held across
// I/O. Entries are append-only: peers are added, never removed.
type Index struct {
	mutex     sync.RWMutex
	locations map[uuid.UUID][]model.Peer
}

func New() *Index {
	return &Index{
		locations: make(map[uuid.UUID][]model.Peer),
	}
}

// Register records that peer holds fileID. Idempotent; a peer address
// already present for the file is not duplicated.
func (i *Index) Register(fileID uuid.UUID, peer model.Peer) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	peers := i.locations[fileID]
	if utils.Contains(peers, peer) {
		return
	}

	i.locations[fileID] = append(peers, peer)
	log.Infow("index", "event", "registered", "fileID", fileID, "peer", peer.Address)
}

// Lookup returns the peers known to hold fileID, or false if the file
// is unknown. The returned slice is a copy.
func (i *Index) Lookup(fileID uuid.UUID) ([]model.Peer, bool) {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	peers, exists := i.locations[fileID]
	if !exists {
		return nil, false
	}

	result := make([]model.Peer, len(peers))
	copy(result, peers)

	return result, true
}

// ExportAll flattens the whole index. Order is unspecified.
func (i *Index) ExportAll() []Entry {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	entries := make([]Entry, 0, len(i.locations))
	for fileID, peers := range i.locations {
		for _, peer := range peers {
			entries = append(entries, Entry{FileID: fileID, Address: peer.Address})
		}
	}

	return entries
}

// MergeAll applies Register for each entry. Merging the same entry set
// twice is a no-op beyond the first application.
func (i *Index) MergeAll(entries []Entry) {
	for _, entry := range entries {
		i.Register(entry.FileID, model.Peer{Address: entry.Address})
	}
}
