package node

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/config"
	"github.com/peerchunks/peerchunks/core/index"
	"github.com/peerchunks/peerchunks/core/model"
	"github.com/peerchunks/peerchunks/core/replication"
	"github.com/peerchunks/peerchunks/lib/crypto"
)

var testKey = strings.Repeat("ab", crypto.KeySize)

func testConfig(t *testing.T, bootstrap []string) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		BootstrapPeers: bootstrap,
		EncryptionKey:  testKey,
		ChunkSize:      5,
		AckTimeout:     2 * time.Second,
		FetchTimeout:   2 * time.Second,
	}
	cfg.Peer.Host = "127.0.0.1"
	cfg.Peer.Port = 0 // ephemeral
	cfg.Storage.Path = filepath.Join(root, "storage")
	cfg.Catalog.Path = filepath.Join(root, "catalog")

	return cfg
}

func newTestNode(t *testing.T, bootstrap []string) *Node {
	t.Helper()

	n, err := New(testConfig(t, bootstrap))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Close() })

	return n
}

func startTestNode(t *testing.T, n *Node) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := n.Start(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestUploadDownloadLocal(t *testing.T) {
	n, err := New(testConfig(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	content := []byte("a file of thirty four bytes, okay?")
	if len(content) != 34 {
		t.Fatalf("fixture must be 34 bytes, is %d", len(content))
	}

	source := filepath.Join(t.TempDir(), "source.txt")
	if err := os.WriteFile(source, content, 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	fileID, err := n.Upload(ctx, source)

	// no peers configured: the local ingest stands, replication reports
	// the shortfall
	if fileID == uuid.Nil {
		t.Fatal("expected a valid file ID despite the replication error")
	}
	var insufficient *replication.InsufficientPeersError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientPeersError, got %v", err)
	}

	records, err := n.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Chunks != 7 {
		t.Fatalf("expected one catalog record with 7 chunks, got %+v", records)
	}

	destination := filepath.Join(t.TempDir(), "restored.txt")
	if err := n.Download(ctx, fileID, destination); err != nil {
		t.Fatal(err)
	}

	restored, err := os.ReadFile(destination)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(restored, content) {
		t.Errorf("expected %q, got %q", content, restored)
	}
}

func TestDownloadUnknownFile(t *testing.T) {
	n, err := New(testConfig(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	err = n.Download(context.Background(), uuid.New(), filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrNotFoundInIndex) {
		t.Errorf("expected ErrNotFoundInIndex, got %v", err)
	}
}

func TestSearchByUUIDAndName(t *testing.T) {
	n, err := New(testConfig(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	source := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(source, []byte("searchable"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	fileID, _ := n.Upload(ctx, source) // replication shortfall is expected

	byID := n.Search(ctx, fileID.String())
	if len(byID) != 1 || byID[0] != n.Self().Address {
		t.Errorf("expected [%s], got %v", n.Self().Address, byID)
	}

	byName := n.Search(ctx, "notes")
	if len(byName) != 1 || byName[0] != n.Self().Address {
		t.Errorf("expected [%s] by name, got %v", n.Self().Address, byName)
	}

	if got := n.Search(ctx, "no-such-file"); len(got) != 0 {
		t.Errorf("expected no results, got %v", got)
	}
}

func entrySet(entries []index.Entry) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, entry := range entries {
		set[entry.FileID.String()+"|"+entry.Address] = true
	}
	return set
}

func sameEntries(a, b []index.Entry) bool {
	if len(a) != len(b) {
		return false
	}

	setA, setB := entrySet(a), entrySet(b)
	for key := range setA {
		if !setB[key] {
			return false
		}
	}
	return true
}

func TestIndexConvergence(t *testing.T) {
	first := newTestNode(t, nil)
	// seed both sides with disjoint knowledge before they meet
	first.Index().Register(uuid.New(), model.Peer{Address: "10.0.0.9:1111"})
	first.Index().Register(uuid.New(), model.Peer{Address: "10.0.0.9:1111"})
	startTestNode(t, first)

	second := newTestNode(t, []string{first.Self().Address})
	second.Index().Register(uuid.New(), model.Peer{Address: "10.0.0.7:2222"})
	startTestNode(t, second)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		a, b := first.Index().ExportAll(), second.Index().ExportAll()
		if len(a) == 3 && sameEntries(a, b) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("indexes never converged: first has %d entries, second has %d",
		len(first.Index().ExportAll()), len(second.Index().ExportAll()))
}
