package peer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/peerchunks/peerchunks/core/index"
	"github.com/peerchunks/peerchunks/core/model"
	"github.com/peerchunks/peerchunks/core/replication"
	"github.com/peerchunks/peerchunks/core/storage"
	"github.com/peerchunks/peerchunks/lib/cache"
	"github.com/peerchunks/peerchunks/lib/crypto"
	"github.com/peerchunks/peerchunks/lib/logger"
)

var log, _ = logger.New("peer")

type HandlerOptions struct {
	EncryptionKey string
	StorageRoot   string
	// Peers is an immutable snapshot of the candidate set taken when
	// the link was spawned.
	Peers      []model.Peer
	Index      *index.Index
	Replicator *replication.Replicator
	// Cache holds recently served chunks. Optional.
	Cache *cache.LRU
}

// Handler owns one TCP link. It runs the fire-and-forget handshake
// (encrypted welcome plus DHT_REQUEST), then extracts and dispatches
// frames from a single receive buffer until the peer disconnects.
// State is per-connection; the location index is the only thing shared
// with other links.
type Handler struct {
	HandlerOptions

	conn       net.Conn
	remoteAddr string
	buf        []byte

	// counted DHT_RESPONSE entry lines still expected
	pendingCount   int
	pendingEntries []index.Entry

	// set once this side has answered a DHT_RESPONSE, so one round of
	// reconciliation never turns into a recursive exchange
	reconciled bool
}

func NewHandler(conn net.Conn, opts HandlerOptions) *Handler {
	return &Handler{
		HandlerOptions: opts,
		conn:           conn,
		remoteAddr:     conn.RemoteAddr().String(),
	}
}

// Handle drives the connection until the peer closes it or an I/O
// error occurs. Either way the link is dead on return; errors are
// fatal only to this connection.
func (h *Handler) Handle() error {
	defer h.conn.Close()

	log.Infow("connection", "event", "opened", "peer", h.remoteAddr)

	if err := h.sendWelcome(); err != nil {
		return err
	}
	if err := h.sendLine(msgDhtRequest); err != nil {
		return err
	}

	tmp := make([]byte, 4096)
	for {
		n, err := h.conn.Read(tmp)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Infow("connection", "event", "closed by peer", "peer", h.remoteAddr)
				return nil
			}
			return fmt.Errorf("read from %s: %w", h.remoteAddr, err)
		}

		h.buf = append(h.buf, tmp[:n]...)

		if err := h.drain(); err != nil {
			return err
		}
	}
}

// drain processes every complete frame currently buffered. Returned
// errors are write failures, which kill the connection.
func (h *Handler) drain() error {
	for {
		if h.pendingCount > 0 {
			advanced, err := h.takeEntryLine()
			if err != nil {
				return err
			}
			if !advanced {
				return nil
			}
			continue
		}

		frame, consumed := ParseFrame(h.buf)
		if consumed == 0 {
			return nil
		}
		h.buf = h.buf[consumed:]

		if err := h.dispatch(frame); err != nil {
			return err
		}
	}
}

// takeEntryLine consumes one counted gossip entry line following a
// DHT_RESPONSE header. Entry lines share the uuid-first shape of a
// binary push header, so they are read in this dedicated mode and
// never run through the frame parser.
func (h *Handler) takeEntryLine() (bool, error) {
	nl := bytes.IndexByte(h.buf, '\n')
	if nl < 0 {
		return false, nil
	}

	line := strings.TrimSpace(string(h.buf[:nl]))
	h.buf = h.buf[nl+1:]
	h.pendingCount--

	entry, err := ParseIndexEntry(line)
	if err != nil {
		log.Errorw("connection", "error", "bad index entry", "peer", h.remoteAddr, "line", line)
	} else {
		h.pendingEntries = append(h.pendingEntries, entry)
	}

	if h.pendingCount > 0 {
		return true, nil
	}

	h.Index.MergeAll(h.pendingEntries)
	h.pendingEntries = nil
	log.Infow("connection", "event", "index merged", "peer", h.remoteAddr)

	if !h.reconciled {
		h.reconciled = true
		return true, h.sendIndexExport()
	}

	return true, nil
}

func (h *Handler) dispatch(frame Frame) error {
	switch frame.Kind {
	case FrameDhtRequest:
		return h.sendIndexExport()

	case FrameDhtResponse:
		h.pendingCount = frame.Count
		if frame.Count == 0 && !h.reconciled {
			h.reconciled = true
			return h.sendIndexExport()
		}
		return nil

	case FrameChunkRequest:
		return h.serveChunk(frame)

	case FrameChunkResponse:
		h.storeChunk(frame)
		return nil

	case FrameChunkPush:
		if !h.storeChunk(frame) {
			return nil
		}
		if _, err := h.conn.Write([]byte(ackOK)); err != nil {
			return fmt.Errorf("write ack to %s: %w", h.remoteAddr, err)
		}
		h.replicateAfterPush(frame)
		return nil

	case FrameEncryptedText:
		plaintext, err := crypto.Decrypt(frame.Nonce, frame.Ciphertext, h.EncryptionKey)
		if err != nil {
			log.Errorw("connection", "error", "decrypt failed", "peer", h.remoteAddr, "cause", err)
			return nil
		}
		log.Infow("connection", "event", "message", "peer", h.remoteAddr, "text", string(plaintext))
		return nil

	default:
		log.Errorw("connection", "error", "malformed line", "peer", h.remoteAddr, "line", frame.Raw)
		return nil
	}
}

// serveChunk answers a CHUNK_REQUEST. A local miss is logged and no
// response is sent; the requester detects it by its own timeout.
func (h *Handler) serveChunk(frame Frame) error {
	key := chunkCacheKey(frame)

	var data []byte
	if h.Cache != nil {
		data, _ = h.Cache.Get(key)
	}

	if data == nil {
		var err error
		data, err = storage.GetChunk(storage.ChunkDir(h.StorageRoot, frame.FileID), frame.Index)
		if err != nil {
			log.Errorw("connection", "error", "chunk request miss", "peer", h.remoteAddr, "fileID", frame.FileID, "chunk", frame.Index, "cause", err)
			return nil
		}

		if h.Cache != nil {
			h.Cache.Put(key, data)
		}
	}

	header := fmt.Sprintf("%s%s:%d:%d:", prefixChunkResponse, frame.FileID, frame.Index, len(data))
	if _, err := h.conn.Write([]byte(header)); err != nil {
		return fmt.Errorf("write chunk response to %s: %w", h.remoteAddr, err)
	}
	if _, err := h.conn.Write(data); err != nil {
		return fmt.Errorf("write chunk response to %s: %w", h.remoteAddr, err)
	}

	log.Infow("connection", "event", "chunk served", "peer", h.remoteAddr, "fileID", frame.FileID, "chunk", frame.Index)

	return nil
}

func (h *Handler) storeChunk(frame Frame) bool {
	dir, err := storage.InitializeStorage(h.StorageRoot, frame.FileID)
	if err != nil {
		log.Errorw("connection", "error", "storage init failed", "peer", h.remoteAddr, "fileID", frame.FileID, "cause", err)
		return false
	}

	meta := model.NewChunkMetadata(frame.FileID, frame.Index, frame.Size, 0)
	if err := storage.SaveChunk(dir, meta, frame.Data); err != nil {
		log.Errorw("connection", "error", "chunk save failed", "peer", h.remoteAddr, "fileID", frame.FileID, "chunk", frame.Index, "cause", err)
		return false
	}

	log.Infow("connection", "event", "chunk stored", "peer", h.remoteAddr, "fileID", frame.FileID, "chunk", frame.Index)

	return true
}

func (h *Handler) replicateAfterPush(frame Frame) {
	if h.Replicator == nil {
		return
	}

	if err := h.Replicator.Replicate(frame.FileID, h.StorageRoot, h.Peers); err != nil {
		log.Errorw("connection", "error", "replication after push failed", "fileID", frame.FileID, "cause", err)
	}
}

func (h *Handler) sendWelcome() error {
	welcome := fmt.Sprintf("Welcome to PeerChunks, peer %s", h.remoteAddr)

	nonce, ciphertext, err := crypto.Encrypt([]byte(welcome), h.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encrypt welcome: %w", err)
	}

	return h.sendLine(fmt.Sprintf("%s:%s", nonce, ciphertext))
}

// sendIndexExport writes the whole index as one DHT_RESPONSE block.
// ExportAll copies under the lock, so the lock is never held while
// writing to the network.
func (h *Handler) sendIndexExport() error {
	entries := h.Index.ExportAll()

	var b strings.Builder
	fmt.Fprintf(&b, "%s%d\n", prefixDhtResponse, len(entries))
	for _, entry := range entries {
		fmt.Fprintf(&b, "%s:%s\n", entry.FileID, entry.Address)
	}

	if _, err := io.WriteString(h.conn, b.String()); err != nil {
		return fmt.Errorf("write index export to %s: %w", h.remoteAddr, err)
	}

	log.Infow("connection", "event", "index exported", "peer", h.remoteAddr, "entries", len(entries))

	return nil
}

func (h *Handler) sendLine(line string) error {
	if _, err := io.WriteString(h.conn, line+"\n"); err != nil {
		return fmt.Errorf("write to %s: %w", h.remoteAddr, err)
	}

	return nil
}

func chunkCacheKey(frame Frame) string {
	return fmt.Sprintf("%s/%d", frame.FileID, frame.Index)
}
