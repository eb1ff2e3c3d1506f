// ABOUTME: Opus codec
// ABOUTME: Encodes and decodes 16-bit frames with libopus
package codec

import (
	"fmt"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket bounds the encoder output buffer
const maxOpusPacket = 4000

// Opus encodes Opus audio
type Opus struct {
	encoder    *opus.Encoder
	decoder    *opus.Decoder
	sampleRate int
	channels   int
	frameSize  int
	pcm        []int16
}

// NewOpus creates an Opus codec. Opus frames must be 2.5, 5, 10, 20, 40 or 60ms.
func NewOpus(format audio.Format, frameSize int) (*Opus, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus: %s", format.Codec)
	}

	// Frame duration in tenths of a millisecond
	tenths := frameSize * 10000 / format.SampleRate
	switch tenths {
	case 25, 50, 100, 200, 400, 600:
	default:
		return nil, fmt.Errorf("invalid opus frame size %d at %dHz", frameSize, format.SampleRate)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := encoder.SetBitrate(32000 * format.Channels); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
	}

	decoder, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &Opus{
		encoder:    encoder,
		decoder:    decoder,
		sampleRate: format.SampleRate,
		channels:   format.Channels,
		frameSize:  frameSize,
		pcm:        make([]int16, 5760*format.Channels), // max frame size
	}, nil
}

func (c *Opus) Name() string { return "opus" }

// Encode converts one frame to an Opus packet
func (c *Opus) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != c.frameSize*c.channels {
		return nil, fmt.Errorf("opus frame must be %d samples, got %d", c.frameSize*c.channels, len(pcm))
	}

	data := make([]byte, maxOpusPacket)
	n, err := c.encoder.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}
	return data[:n], nil
}

// Decode converts an Opus packet to interleaved samples
func (c *Opus) Decode(packet []byte) ([]int16, error) {
	n, err := c.decoder.Decode(packet, c.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	out := make([]int16, n*c.channels)
	copy(out, c.pcm)
	return out, nil
}

func (c *Opus) FrameSize() int { return c.frameSize }

func (c *Opus) Close() error { return nil }
