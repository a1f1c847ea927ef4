package replication

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/model"
	"github.com/peerchunks/peerchunks/core/storage"
)

type recordingSender struct {
	mutex  sync.Mutex
	pushes map[string][]int // peer address -> chunk indices
	fail   map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		pushes: make(map[string][]int),
		fail:   make(map[string]bool),
	}
}

func (s *recordingSender) send(peer model.Peer, chunkDir string, fileID uuid.UUID, index int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.fail[peer.Address] {
		return fmt.Errorf("push to %s failed", peer.Address)
	}

	s.pushes[peer.Address] = append(s.pushes[peer.Address], index)
	return nil
}

func storeChunks(t *testing.T, root string, fileID uuid.UUID, count int) {
	t.Helper()

	dir, err := storage.InitializeStorage(root, fileID)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < count; i++ {
		meta := model.NewChunkMetadata(fileID, i, 5, count)
		if err := storage.SaveChunk(dir, meta, []byte(fmt.Sprintf("chnk%d", i))); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReplicateSuccess(t *testing.T) {
	root := t.TempDir()
	fileID := uuid.New()
	storeChunks(t, root, fileID, 3)

	sender := newRecordingSender()
	self := model.Peer{Address: "127.0.0.1:8080"}
	r := NewReplicator(self, sender.send)

	candidates := []model.Peer{
		self, // must be excluded
		{Address: "127.0.0.1:8081"},
		{Address: "127.0.0.1:8082"},
		{Address: "127.0.0.1:8083"},
	}

	if err := r.Replicate(fileID, root, candidates); err != nil {
		t.Fatal(err)
	}

	if len(sender.pushes[self.Address]) != 0 {
		t.Error("self must never receive pushes")
	}

	// exactly Factor peers receive every chunk
	for _, address := range []string{"127.0.0.1:8081", "127.0.0.1:8082"} {
		if len(sender.pushes[address]) != 3 {
			t.Errorf("expected 3 chunks pushed to %s, got %d", address, len(sender.pushes[address]))
		}
	}
	if len(sender.pushes["127.0.0.1:8083"]) != 0 {
		t.Error("expected only the replication factor of peers to receive chunks")
	}
}

func TestReplicateInsufficientPeers(t *testing.T) {
	root := t.TempDir()
	fileID := uuid.New()
	storeChunks(t, root, fileID, 2)

	sender := newRecordingSender()
	self := model.Peer{Address: "127.0.0.1:8080"}
	r := NewReplicator(self, sender.send)

	// one eligible peer after self-exclusion, factor is two
	candidates := []model.Peer{self, {Address: "127.0.0.1:8081"}}

	err := r.Replicate(fileID, root, candidates)

	var insufficient *InsufficientPeersError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientPeersError, got %v", err)
	}
	if insufficient.Required != 2 || insufficient.Available != 1 {
		t.Errorf("expected required 2, available 1; got %+v", insufficient)
	}

	if len(sender.pushes) != 0 {
		t.Error("expected no pushes when selection fails")
	}
}

func TestReplicateToleratesPushFailure(t *testing.T) {
	root := t.TempDir()
	fileID := uuid.New()
	storeChunks(t, root, fileID, 2)

	sender := newRecordingSender()
	sender.fail["127.0.0.1:8081"] = true

	r := NewReplicator(model.Peer{Address: "127.0.0.1:8080"}, sender.send)
	candidates := []model.Peer{
		{Address: "127.0.0.1:8081"},
		{Address: "127.0.0.1:8082"},
	}

	if err := r.Replicate(fileID, root, candidates); err != nil {
		t.Fatalf("individual push failures must not fail the call, got %v", err)
	}

	if len(sender.pushes["127.0.0.1:8082"]) != 2 {
		t.Errorf("expected the healthy peer to receive both chunks, got %v", sender.pushes["127.0.0.1:8082"])
	}
}
