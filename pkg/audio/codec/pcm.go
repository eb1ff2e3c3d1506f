// ABOUTME: Raw PCM codec
// ABOUTME: Packs 16-bit frames as little-endian bytes without compression
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
)

// PCM passes 16-bit samples through as little-endian bytes
type PCM struct {
	channels  int
	frameSize int
}

// NewPCM creates a PCM codec
func NewPCM(format audio.Format, frameSize int) (*PCM, error) {
	if format.Channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", format.Channels)
	}
	return &PCM{channels: format.Channels, frameSize: frameSize}, nil
}

func (c *PCM) Name() string { return "pcm" }

func (c *PCM) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

func (c *PCM) Decode(packet []byte) ([]int16, error) {
	if len(packet)%(2*c.channels) != 0 {
		return nil, fmt.Errorf("pcm packet of %d bytes is not whole %d-channel frames", len(packet), c.channels)
	}
	out := make([]int16, len(packet)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(packet[i*2:]))
	}
	return out, nil
}

func (c *PCM) FrameSize() int { return c.frameSize }

func (c *PCM) Close() error { return nil }
