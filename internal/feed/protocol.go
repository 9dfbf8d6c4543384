package feed

import (
	"encoding/binary"
	"fmt"
	"io"

	"Tally/internal/event"
)

const (
	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "tally-feed/1"

	// maxMessageSize is the maximum allowed message size (4 MB).
	maxMessageSize = 4 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4

	// replayRequestSize is u64 from + u32 limit.
	replayRequestSize = 12

	// maxReplayLimit bounds the entries returned by one replay request.
	maxReplayLimit = 1000
)

// writeMessage writes a length-prefixed message to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length:\n%w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload:\n%w", err)
	}

	return nil
}

// readMessage reads a length-prefixed message from the reader.
func readMessage(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length:\n%w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload:\n%w", err)
	}

	return data, nil
}

// encodeReplayRequest encodes a replay request: [from u64 BE] [limit u32 BE].
func encodeReplayRequest(from uint64, limit int) []byte {
	buf := make([]byte, replayRequestSize)
	binary.BigEndian.PutUint64(buf[:8], from)
	binary.BigEndian.PutUint32(buf[8:], uint32(limit))

	return buf
}

// decodeReplayRequest parses a replay request and clamps the limit.
func decodeReplayRequest(data []byte) (uint64, int, error) {
	if len(data) != replayRequestSize {
		return 0, 0, fmt.Errorf("invalid replay request size %d", len(data))
	}

	from := binary.BigEndian.Uint64(data[:8])
	limit := int(binary.BigEndian.Uint32(data[8:]))

	if limit <= 0 || limit > maxReplayLimit {
		limit = maxReplayLimit
	}

	return from, limit, nil
}

// encodeEntries encodes journal entries: [count u32] then per entry [seq u64] [len u32] [event].
func encodeEntries(entries []event.Entry) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(entries)))

	for _, e := range entries {
		data := event.Encode(e.Event)
		buf = binary.BigEndian.AppendUint64(buf, e.Seq)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}

	return buf
}

// decodeEntries parses the output of encodeEntries.
func decodeEntries(data []byte) ([]event.Entry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("replay response too short")
	}

	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	if count > maxReplayLimit {
		return nil, fmt.Errorf("replay response has %d entries, max %d", count, maxReplayLimit)
	}

	entries := make([]event.Entry, 0, count)

	for i := uint32(0); i < count; i++ {
		if len(data) < 12 {
			return nil, fmt.Errorf("entry %d: truncated header", i)
		}

		seq := binary.BigEndian.Uint64(data[:8])
		n := binary.BigEndian.Uint32(data[8:12])
		data = data[12:]

		if uint32(len(data)) < n {
			return nil, fmt.Errorf("entry %d: truncated event", i)
		}

		ev, err := event.Decode(data[:n])
		if err != nil {
			return nil, fmt.Errorf("entry %d:\n%w", i, err)
		}

		entries = append(entries, event.Entry{Seq: seq, Event: ev})
		data = data[n:]
	}

	return entries, nil
}
