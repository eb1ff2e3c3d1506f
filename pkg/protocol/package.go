// ABOUTME: UDP sound package
// ABOUTME: Fixed header describing the PCM format followed by a bounded payload
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	// PackageHeaderSize is the encoded size of a sound package header
	PackageHeaderSize = 8 + 4*4

	// MaxPayload is the largest payload a sound package carries
	MaxPayload = 1024

	// MaxPackageSize is the largest encoded sound package
	MaxPackageSize = PackageHeaderSize + MaxPayload
)

// PackageHeader describes the audio carried in a sound package
type PackageHeader struct {
	Timestamp  int64 // Unix microseconds
	SampleRate int32
	SampleBits int32
	Channels   int32
	DataLength int32
}

// EncodeSoundPackage builds a sound package. DataLength is set from payload.
func EncodeSoundPackage(h PackageHeader, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("payload of %d bytes: %w", len(payload), ErrInvalidLength)
	}

	buf := make([]byte, PackageHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.Timestamp))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.SampleRate))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.SampleBits))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.Channels))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(payload)))
	copy(buf[PackageHeaderSize:], payload)
	return buf, nil
}

// DecodeSoundPackage parses a sound package. The returned payload aliases data.
func DecodeSoundPackage(data []byte) (PackageHeader, []byte, error) {
	if len(data) < PackageHeaderSize {
		return PackageHeader{}, nil, ErrShortBuffer
	}

	h := PackageHeader{
		Timestamp:  int64(binary.LittleEndian.Uint64(data[0:8])),
		SampleRate: int32(binary.LittleEndian.Uint32(data[8:12])),
		SampleBits: int32(binary.LittleEndian.Uint32(data[12:16])),
		Channels:   int32(binary.LittleEndian.Uint32(data[16:20])),
		DataLength: int32(binary.LittleEndian.Uint32(data[20:24])),
	}

	if h.DataLength < 0 || h.DataLength > MaxPayload || int(h.DataLength) > len(data)-PackageHeaderSize {
		return PackageHeader{}, nil, fmt.Errorf("declared payload %d: %w", h.DataLength, ErrInvalidLength)
	}

	return h, data[PackageHeaderSize : PackageHeaderSize+int(h.DataLength)], nil
}

// IsCompressed reports whether payload starts with the gzip magic bytes
func IsCompressed(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b
}

// CompressPayload gzips payload
func CompressPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressPayload gunzips payload. The output is capped so a hostile packet
// cannot expand without bound.
func DecompressPayload(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid gzip payload: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxFrameLength+1))
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	if len(out) > MaxFrameLength {
		return nil, fmt.Errorf("decompressed payload too large: %w", ErrInvalidLength)
	}
	return out, nil
}

// PackPayload compresses payload when that makes it smaller
func PackPayload(payload []byte, compress bool) []byte {
	if !compress || len(payload) == 0 {
		return payload
	}
	packed, err := CompressPayload(payload)
	if err != nil || len(packed) >= len(payload) {
		return payload
	}
	return packed
}

// UnpackPayload reverses PackPayload
func UnpackPayload(payload []byte) ([]byte, error) {
	if !IsCompressed(payload) {
		return payload, nil
	}
	return DecompressPayload(payload)
}
