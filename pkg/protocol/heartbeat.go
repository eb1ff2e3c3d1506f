// ABOUTME: UDP heartbeat record
// ABOUTME: 8-byte timestamp followed by a 32-byte zero-padded name
package protocol

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

const (
	// NameSize is the fixed width of the heartbeat name field
	NameSize = 32

	// HeartbeatSize is the encoded size of a heartbeat
	HeartbeatSize = 8 + NameSize
)

// Heartbeat announces a named endpoint. Timestamp is in Unix microseconds.
type Heartbeat struct {
	Timestamp int64
	Name      string
}

// EncodeHeartbeat builds a heartbeat record. Names longer than NameSize bytes
// are cut at the last whole rune that fits.
func EncodeHeartbeat(name string, timestamp int64) []byte {
	buf := make([]byte, HeartbeatSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(timestamp))
	copy(buf[8:], TruncateName(name))
	return buf
}

// DecodeHeartbeat parses a heartbeat record. Trailing NUL padding is removed.
func DecodeHeartbeat(data []byte) (Heartbeat, error) {
	if len(data) < HeartbeatSize {
		return Heartbeat{}, ErrShortBuffer
	}

	name := data[8:HeartbeatSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return Heartbeat{
		Timestamp: int64(binary.LittleEndian.Uint64(data[0:8])),
		Name:      string(name),
	}, nil
}

// TruncateName returns name as it will appear after a heartbeat round trip
func TruncateName(name string) string {
	if i := bytes.IndexByte([]byte(name), 0); i >= 0 {
		name = name[:i]
	}
	if len(name) <= NameSize {
		return name
	}

	n := NameSize
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}
