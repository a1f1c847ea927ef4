package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/peerchunks/peerchunks/core/catalog"
	"github.com/peerchunks/peerchunks/core/config"
	"github.com/peerchunks/peerchunks/core/discovery"
	"github.com/peerchunks/peerchunks/core/index"
	"github.com/peerchunks/peerchunks/core/model"
	"github.com/peerchunks/peerchunks/core/peer"
	"github.com/peerchunks/peerchunks/core/replication"
	"github.com/peerchunks/peerchunks/lib/cache"
	"github.com/peerchunks/peerchunks/lib/cmap"
	"github.com/peerchunks/peerchunks/lib/logger"
	"github.com/peerchunks/peerchunks/lib/utils"
)

var log, _ = logger.New("node")

var (
	ErrNotFoundInIndex = errors.New("file not found in location index")
	ErrNoChunks        = errors.New("no chunks found locally or remotely")
	ErrIncompleteFile  = errors.New("stored chunk indices are not contiguous")
)

// maxFetchProbes caps how many chunk indices a download probes
// remotely before concluding the peers have nothing more.
const maxFetchProbes = 64

// chunkCacheCapacity is how many recently served chunks a node keeps
// in memory for the request path.
const chunkCacheCapacity = 256

const mdnsBrowseWindow = 2 * time.Second

// Node ties the cores together: it owns the location index, the
// upload catalog and the replicator, listens for inbound links, dials
// the bootstrap set and spawns one connection handler per link.
type Node struct {
	cfg        *config.Config
	self       model.Peer
	index      *index.Index
	catalog    *catalog.Catalog
	replicator *replication.Replicator
	client     *peer.Client
	chunkCache *cache.LRU

	// links tracks active connections by remote address.
	links cmap.Map[string, model.Peer]

	peersMutex sync.RWMutex
	peers      []model.Peer

	listener net.Listener
}

func New(cfg *config.Config) (*Node, error) {
	if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	cat, err := catalog.NewCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	self := model.Peer{Address: cfg.AdvertiseAddr()}
	client := &peer.Client{
		AckTimeout:   cfg.AckTimeout,
		FetchTimeout: cfg.FetchTimeout,
	}

	peers := make([]model.Peer, 0, len(cfg.BootstrapPeers))
	for _, address := range utils.Unique(cfg.BootstrapPeers) {
		peers = append(peers, model.Peer{Address: address})
	}

	return &Node{
		cfg:        cfg,
		self:       self,
		index:      index.New(),
		catalog:    cat,
		replicator: replication.NewReplicator(self, client.PushChunk),
		client:     client,
		chunkCache: cache.NewLRU(chunkCacheCapacity),
		links:      cmap.NewMap[string, model.Peer](),
		peers:      peers,
	}, nil
}

// Index exposes the location index, shared by all connection handlers.
func (n *Node) Index() *index.Index {
	return n.index
}

// Self is this node's advertised peer record.
func (n *Node) Self() model.Peer {
	return n.self
}

// Start binds the peer listener and dials the bootstrap peers. It
// returns once the listener is accepting; connection handling runs in
// per-link goroutines until ctx is cancelled or Close is called.
func (n *Node) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", n.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.cfg.ListenAddr(), err)
	}
	n.listener = listener

	if n.cfg.Peer.Port == 0 {
		// ephemeral port: advertise what the OS actually assigned
		if addr, ok := listener.Addr().(*net.TCPAddr); ok {
			n.self = model.Peer{Address: fmt.Sprintf("%s:%d", n.cfg.Peer.Host, addr.Port)}
			n.replicator.Self = n.self
		}
	}

	log.Infow("startup", "status", "listening for peers", "address", listener.Addr().String(), "advertise", n.self.Address)

	if n.cfg.MDNSDiscovery {
		n.startMDNS(ctx)
	}

	for _, p := range n.peerSnapshot() {
		go n.dialPeer(ctx, p)
	}

	go n.acceptLoop(ctx)

	return nil
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorw("listener", "error", "accept failed", "cause", err)
			return
		}

		log.Infow("listener", "event", "accepted", "peer", conn.RemoteAddr().String())
		go n.handle(conn)
	}
}

// dialPeer connects to a bootstrap peer, retrying with exponential
// backoff, and serves the link like an accepted one.
func (n *Node) dialPeer(ctx context.Context, p model.Peer) {
	dial := func() error {
		conn, err := net.Dial("tcp", p.Address)
		if err != nil {
			log.Errorw("dial", "error", "bootstrap peer unreachable", "peer", p.Address, "cause", err)
			return err
		}

		log.Infow("dial", "event", "connected", "peer", p.Address)
		n.handle(conn)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(dial, policy); err != nil {
		log.Errorw("dial", "error", "giving up on bootstrap peer", "peer", p.Address, "cause", err)
	}
}

// handle runs one connection handler to completion. Each handler gets
// an immutable snapshot of the peer set as of link start.
func (n *Node) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	n.links.Set(remote, model.Peer{Address: remote})
	defer n.links.Delete(remote)

	handler := peer.NewHandler(conn, peer.HandlerOptions{
		EncryptionKey: n.cfg.EncryptionKey,
		StorageRoot:   n.cfg.Storage.Path,
		Peers:         n.peerSnapshot(),
		Index:         n.index,
		Replicator:    n.replicator,
		Cache:         n.chunkCache,
	})

	if err := handler.Handle(); err != nil {
		log.Errorw("connection", "error", "link failed", "peer", remote, "cause", err)
	}
}

func (n *Node) startMDNS(ctx context.Context) {
	server, err := discovery.Announce(n.self.Address, n.cfg.Peer.Port)
	if err != nil {
		log.Errorw("mdns", "error", "announce failed", "cause", err)
	} else {
		go func() {
			<-ctx.Done()
			server.Shutdown()
		}()
	}

	go func() {
		addresses, err := discovery.Browse(ctx, mdnsBrowseWindow)
		if err != nil {
			log.Errorw("mdns", "error", "browse failed", "cause", err)
			return
		}

		for _, address := range addresses {
			if address == n.self.Address {
				continue
			}
			n.addPeer(model.Peer{Address: address})
		}
	}()
}

func (n *Node) addPeer(p model.Peer) {
	n.peersMutex.Lock()
	defer n.peersMutex.Unlock()

	if utils.Contains(n.peers, p) {
		return
	}

	n.peers = append(n.peers, p)
	log.Infow("node", "event", "peer added", "peer", p.Address)
}

// peerSnapshot returns a copy of the candidate peer set. Handlers get
// this at spawn time and never see later additions.
func (n *Node) peerSnapshot() []model.Peer {
	n.peersMutex.RLock()
	defer n.peersMutex.RUnlock()

	snapshot := make([]model.Peer, len(n.peers))
	copy(snapshot, n.peers)

	return snapshot
}

// ActiveLinks reports how many connections are currently served.
func (n *Node) ActiveLinks() int {
	return n.links.Len()
}

func (n *Node) Close() error {
	if n.listener != nil {
		n.listener.Close()
	}

	return n.catalog.Close()
}
