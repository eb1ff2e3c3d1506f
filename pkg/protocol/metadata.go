// ABOUTME: Metadata frame payload
// ABOUTME: Stream format, provider name and timestamp
package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// maxNameLength bounds the provider name on decode
const maxNameLength = 4096

// Metadata describes the stream a server is sending
type Metadata struct {
	SampleRate    int32
	Channels      int32
	BitsPerSample int32
	ProviderName  string
	Timestamp     int64 // Unix microseconds
}

// DefaultMetadata returns the metadata used before a stream is configured
func DefaultMetadata() Metadata {
	return Metadata{
		SampleRate:    44100,
		Channels:      2,
		BitsPerSample: 16,
		ProviderName:  "Unknown",
	}
}

// EncodeMetadata serializes m. The name is prefixed with its uvarint length.
func EncodeMetadata(m Metadata) []byte {
	buf := make([]byte, 0, 12+binary.MaxVarintLen64+len(m.ProviderName)+8)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.SampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.BitsPerSample))
	buf = binary.AppendUvarint(buf, uint64(len(m.ProviderName)))
	buf = append(buf, m.ProviderName...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.Timestamp))
	return buf
}

// DecodeMetadata parses a metadata payload
func DecodeMetadata(data []byte) (Metadata, error) {
	if len(data) < 12 {
		return Metadata{}, ErrShortBuffer
	}
	m := Metadata{
		SampleRate:    int32(binary.LittleEndian.Uint32(data[0:4])),
		Channels:      int32(binary.LittleEndian.Uint32(data[4:8])),
		BitsPerSample: int32(binary.LittleEndian.Uint32(data[8:12])),
	}

	rest := data[12:]
	length, n := binary.Uvarint(rest)
	if n <= 0 {
		return Metadata{}, fmt.Errorf("provider name length: %w", ErrInvalidLength)
	}
	rest = rest[n:]
	if length > maxNameLength || length > uint64(len(rest)) {
		return Metadata{}, fmt.Errorf("provider name of %d bytes: %w", length, ErrInvalidLength)
	}
	name := rest[:length]
	if !utf8.Valid(name) {
		return Metadata{}, fmt.Errorf("provider name is not UTF-8: %w", ErrInvalidLength)
	}
	m.ProviderName = string(name)

	rest = rest[length:]
	if len(rest) < 8 {
		return Metadata{}, ErrShortBuffer
	}
	m.Timestamp = int64(binary.LittleEndian.Uint64(rest[:8]))
	return m, nil
}
