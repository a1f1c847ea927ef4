package peer

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/model"
	"github.com/peerchunks/peerchunks/core/storage"
)

var (
	ErrPushRejected = errors.New("peer did not acknowledge chunk push")
	ErrFetchFailed  = errors.New("chunk fetch failed")
)

// Client is the short-lived outbound role: dial, transfer one chunk,
// hang up. Distinct from the long-lived Handler that serves a link.
// Zero timeouts mean the protocol default of blocking indefinitely.
type Client struct {
	AckTimeout   time.Duration
	FetchTimeout time.Duration
}

// PushChunk sends a binary push frame for one locally stored chunk and
// waits for the 2-byte OK acknowledgment.
func (c *Client) PushChunk(peer model.Peer, chunkDir string, fileID uuid.UUID, index int) error {
	data, err := storage.GetChunk(chunkDir, index)
	if err != nil {
		return err
	}

	conn, err := net.Dial("tcp", peer.Address)
	if err != nil {
		return err
	}
	defer conn.Close()

	header := fmt.Sprintf("%s:%d:%d:", fileID, index, len(data))
	if _, err := conn.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := conn.Write(data); err != nil {
		return err
	}

	return c.awaitAck(conn)
}

// awaitAck waits for the literal OK. The serving side opens every link
// with newline-terminated handshake lines, so complete lines are
// stripped before the bare two bytes are inspected. No handshake line
// can start with "OK": nonces are lowercase hex and control lines
// start with DHT_ or CHUNK_.
func (c *Client) awaitAck(conn net.Conn) error {
	if c.AckTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.AckTimeout)); err != nil {
			return err
		}
	}

	var buf []byte
	tmp := make([]byte, 512)
	for {
		n, err := conn.Read(tmp)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPushRejected, err)
		}
		buf = append(buf, tmp[:n]...)

		for {
			nl := bytes.IndexByte(buf, '\n')
			if nl < 0 {
				break
			}
			buf = buf[nl+1:]
		}

		if len(buf) >= len(ackOK) {
			if string(buf[:len(ackOK)]) == ackOK {
				return nil
			}
			// partial line still arriving; keep reading until its
			// newline strips it or the deadline fires
		}
	}
}

// FetchChunk requests one chunk from a peer and stores the response
// into chunkDir. Frames other than the matching CHUNK_RESPONSE (the
// peer's handshake lines, mostly) are skipped. A serving-side miss
// sends nothing, so a missing chunk surfaces as a timeout or EOF.
func (c *Client) FetchChunk(peer model.Peer, chunkDir string, fileID uuid.UUID, index int) error {
	conn, err := net.Dial("tcp", peer.Address)
	if err != nil {
		return err
	}
	defer conn.Close()

	request := fmt.Sprintf("%s%s:%d\n", prefixChunkRequest, fileID, index)
	if _, err := conn.Write([]byte(request)); err != nil {
		return err
	}

	if c.FetchTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.FetchTimeout)); err != nil {
			return err
		}
	}

	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		buf = append(buf, tmp[:n]...)

		for {
			frame, consumed := ParseFrame(buf)
			if consumed == 0 {
				break
			}
			buf = buf[consumed:]

			if frame.Kind != FrameChunkResponse || frame.FileID != fileID || frame.Index != index {
				continue
			}

			meta := model.NewChunkMetadata(fileID, index, frame.Size, 0)
			return storage.SaveChunk(chunkDir, meta, frame.Data)
		}
	}
}
