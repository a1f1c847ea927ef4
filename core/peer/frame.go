package peer

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/peerchunks/peerchunks/core/index"
)

const (
	msgDhtRequest       = "DHT_REQUEST"
	prefixDhtResponse   = "DHT_RESPONSE:"
	prefixChunkRequest  = "CHUNK_REQUEST:"
	prefixChunkResponse = "CHUNK_RESPONSE:"
	ackOK               = "OK"
)

// maxChunkFrameSize bounds the declared payload size of a binary
// frame. Anything larger is treated as a malformed line instead.
const maxChunkFrameSize = 16 << 20

const uuidStrLen = 36

type FrameKind int

const (
	FrameMalformed FrameKind = iota
	FrameDhtRequest
	FrameDhtResponse
	FrameChunkRequest
	FrameChunkResponse
	FrameChunkPush
	FrameEncryptedText
)

// Frame is one complete protocol unit: a newline-terminated control
// line or a length-prefixed binary block. Which fields are set depends
// on Kind.
type Frame struct {
	Kind FrameKind

	FileID uuid.UUID
	Index  int
	Size   int
	Data   []byte

	Count int // DHT_RESPONSE entry count

	Nonce      string
	Ciphertext string

	Raw string
}

var ErrBadIndexEntry = errors.New("malformed index entry")

// ParseFrame extracts the next complete frame from buf and reports how
// many bytes it consumed. A zero count means more data is needed.
// Binary frames are recognized before any line scanning, since raw
// chunk bytes may themselves contain newline bytes.
func ParseFrame(buf []byte) (Frame, int) {
	if len(buf) == 0 {
		return Frame{}, 0
	}

	if frame, consumed, isBinary := parseBinaryFrame(buf); isBinary {
		return frame, consumed
	}

	nl := bytes.IndexByte(buf, '\n')
	if nl < 0 {
		return Frame{}, 0
	}

	line := strings.TrimRight(string(buf[:nl]), "\r")

	return parseLine(line), nl + 1
}

func parseBinaryFrame(buf []byte) (Frame, int, bool) {
	if bytes.HasPrefix(buf, []byte(prefixChunkResponse)) {
		frame, consumed, ok := parseBinaryAt(buf, len(prefixChunkResponse))
		if !ok {
			return Frame{}, 0, false
		}

		frame.Kind = FrameChunkResponse
		return frame, consumed, true
	}

	frame, consumed, ok := parseBinaryAt(buf, 0)
	if !ok {
		return Frame{}, 0, false
	}

	frame.Kind = FrameChunkPush
	return frame, consumed, true
}

// parseBinaryAt parses a `<fileID>:<index>:<size>:` header at offset.
// It reports ok only for a complete, valid header; consumed stays zero
// until the whole payload is buffered. An incomplete header is never
// followed by further bytes, so rejecting it here cannot misroute data
// to the line scanner.
func parseBinaryAt(buf []byte, offset int) (Frame, int, bool) {
	if len(buf) < offset+uuidStrLen+1 || buf[offset+uuidStrLen] != ':' {
		return Frame{}, 0, false
	}

	fileID, err := uuid.Parse(string(buf[offset : offset+uuidStrLen]))
	if err != nil {
		return Frame{}, 0, false
	}

	rest := buf[offset+uuidStrLen+1:]
	chunkIndex, n1, ok := parseNumField(rest)
	if !ok {
		return Frame{}, 0, false
	}

	size, n2, ok := parseNumField(rest[n1:])
	if !ok || size > maxChunkFrameSize {
		return Frame{}, 0, false
	}

	frame := Frame{FileID: fileID, Index: chunkIndex, Size: size}

	headerLen := offset + uuidStrLen + 1 + n1 + n2
	total := headerLen + size
	if len(buf) < total {
		return frame, 0, true
	}

	frame.Data = make([]byte, size)
	copy(frame.Data, buf[headerLen:total])

	return frame, total, true
}

// parseNumField reads a non-empty run of digits terminated by ':' and
// returns the value and bytes consumed including the delimiter.
func parseNumField(buf []byte) (int, int, bool) {
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if c == ':' {
			if i == 0 {
				return 0, 0, false
			}

			v, err := strconv.Atoi(string(buf[:i]))
			if err != nil {
				return 0, 0, false
			}

			return v, i + 1, true
		}
		if c < '0' || c > '9' {
			return 0, 0, false
		}
	}

	return 0, 0, false
}

func parseLine(line string) Frame {
	switch {
	case line == msgDhtRequest:
		return Frame{Kind: FrameDhtRequest, Raw: line}

	case strings.HasPrefix(line, prefixDhtResponse):
		count, err := strconv.Atoi(strings.TrimPrefix(line, prefixDhtResponse))
		if err != nil || count < 0 {
			return Frame{Kind: FrameMalformed, Raw: line}
		}

		return Frame{Kind: FrameDhtResponse, Count: count, Raw: line}

	case strings.HasPrefix(line, prefixChunkRequest):
		parts := strings.Split(strings.TrimPrefix(line, prefixChunkRequest), ":")
		if len(parts) != 2 {
			return Frame{Kind: FrameMalformed, Raw: line}
		}

		fileID, err := uuid.Parse(parts[0])
		if err != nil {
			return Frame{Kind: FrameMalformed, Raw: line}
		}

		chunkIndex, err := strconv.Atoi(parts[1])
		if err != nil || chunkIndex < 0 {
			return Frame{Kind: FrameMalformed, Raw: line}
		}

		return Frame{Kind: FrameChunkRequest, FileID: fileID, Index: chunkIndex, Raw: line}

	default:
		parts := strings.Split(line, ":")
		if len(parts) != 2 {
			return Frame{Kind: FrameMalformed, Raw: line}
		}

		return Frame{Kind: FrameEncryptedText, Nonce: parts[0], Ciphertext: parts[1], Raw: line}
	}
}

// ParseIndexEntry parses one `<fileID>:<address>` gossip line. The
// address keeps its own colon, so only the first delimiter splits.
func ParseIndexEntry(line string) (index.Entry, error) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return index.Entry{}, fmt.Errorf("%w: %q", ErrBadIndexEntry, line)
	}

	fileID, err := uuid.Parse(parts[0])
	if err != nil {
		return index.Entry{}, fmt.Errorf("%w: %q: %v", ErrBadIndexEntry, line, err)
	}

	return index.Entry{FileID: fileID, Address: parts[1]}, nil
}
