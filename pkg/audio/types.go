// ABOUTME: Audio type definitions
// ABOUTME: Defines audio formats and the sample range constants used by the pipeline
package audio

import (
	"fmt"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Voice path defaults used by the UDP broadcast session
const (
	VoiceSampleRate = 16000
	VoiceChannels   = 1
	VoiceBitDepth   = 16
	VoiceFrameMs    = 20
	VoiceFrameSize  = VoiceSampleRate / (1000 / VoiceFrameMs) // 320 samples
	VoicePayload    = VoiceFrameSize * VoiceBitDepth / 8     // 640 bytes
)

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// VoiceFormat returns the 16kHz mono 16-bit format used for voice broadcast
func VoiceFormat() Format {
	return Format{
		Codec:      "pcm",
		SampleRate: VoiceSampleRate,
		Channels:   VoiceChannels,
		BitDepth:   VoiceBitDepth,
	}
}

// Validate checks that the format can be carried by the pipeline
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels < 1 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d (supported: 8, 16, 24, 32)", f.BitDepth)
	}
	return nil
}

// BytesPerSample returns the width of one sample of one channel
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// FrameBytes returns the width of one interleaved frame (all channels)
func (f Format) FrameBytes() int {
	return f.BytesPerSample() * f.Channels
}

// Duration returns how long the given number of frames plays for
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	codec := f.Codec
	if codec == "" {
		codec = "pcm"
	}
	return fmt.Sprintf("%s %dHz %dch %dbit", codec, f.SampleRate, f.Channels, f.BitDepth)
}

// SampleToInt16 converts a normalized sample to int16, clamping out-of-range input
func SampleToInt16(sample float32) int16 {
	return int16(Clip(sample) * 32767)
}

// SampleFromInt16 converts an int16 sample to a normalized float
func SampleFromInt16(sample int16) float32 {
	return float32(sample) / 32768
}

// SampleTo24Bit converts a normalized sample to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample float32) [3]byte {
	v := int32(float64(Clip(sample)) * Max24Bit)
	return [3]byte{
		byte(v),
		byte(v >> 8),
		byte(v >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes (little-endian) to a normalized float
func SampleFrom24Bit(b [3]byte) float32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return float32(float64(val) / 8388608)
}

// Clip limits a sample to [-1.0, 1.0]
func Clip(sample float32) float32 {
	if sample > 1 {
		return 1
	}
	if sample < -1 {
		return -1
	}
	return sample
}
