// ABOUTME: Codec interface for fixed-size PCM frames
// ABOUTME: Selects the Opus or raw PCM implementation from an audio format
package codec

import (
	"fmt"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
)

// Codec turns fixed-size 16-bit PCM frames into packets and back. A session uses
// one frame size for its whole lifetime.
type Codec interface {
	// Name returns the codec identifier ("pcm" or "opus")
	Name() string

	// Encode converts one frame (FrameSize()*channels interleaved samples) to a packet
	Encode(pcm []int16) ([]byte, error)

	// Decode converts a packet back to interleaved samples
	Decode(packet []byte) ([]int16, error)

	// FrameSize returns samples per channel in one frame
	FrameSize() int

	// Close releases codec resources
	Close() error
}

// New creates a codec for format.Codec. An empty codec name means "pcm".
func New(format audio.Format, frameSize int) (Codec, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size: %d", frameSize)
	}
	switch format.Codec {
	case "", "pcm":
		return NewPCM(format, frameSize)
	case "opus":
		return NewOpus(format, frameSize)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}

// FrameBytes returns the raw 16-bit PCM size of one frame
func FrameBytes(c Codec, channels int) int {
	return c.FrameSize() * channels * 2
}
