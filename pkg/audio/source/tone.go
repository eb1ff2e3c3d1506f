// ABOUTME: Test tone and silence generators
// ABOUTME: Produce endless sine or zero samples at any format
package source

import (
	"math"
	"sync"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
)

// Tone generates a sine wave on every channel
type Tone struct {
	format      audio.Format
	frequency   float64
	amplitude   float64
	sampleIndex uint64
	sampleMu    sync.Mutex
}

// NewTone creates a sine generator. amplitude is clamped to [0, 1].
func NewTone(format audio.Format, frequency, amplitude float64) *Tone {
	amplitude = math.Max(0, math.Min(1, amplitude))
	return &Tone{
		format:    format,
		frequency: frequency,
		amplitude: amplitude,
	}
}

func (s *Tone) Read(samples []float32) (int, error) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	channels := s.format.Channels
	frames := len(samples) / channels

	for i := 0; i < frames; i++ {
		v := float32(s.amplitude * math.Sin(2*math.Pi*s.frequency*float64(s.sampleIndex+uint64(i))/float64(s.format.SampleRate)))
		for ch := 0; ch < channels; ch++ {
			samples[i*channels+ch] = v
		}
	}
	s.sampleIndex += uint64(frames)

	return frames * channels, nil
}

func (s *Tone) Format() audio.Format { return s.format }

// ToneSample returns the value the generator produces for frame index i
func (s *Tone) ToneSample(i uint64) float32 {
	return float32(s.amplitude * math.Sin(2*math.Pi*s.frequency*float64(i)/float64(s.format.SampleRate)))
}

// Silence produces zeros forever
type Silence struct {
	format audio.Format
}

// NewSilence creates a silence generator
func NewSilence(format audio.Format) *Silence {
	return &Silence{format: format}
}

func (s *Silence) Read(samples []float32) (int, error) {
	n := len(samples) - len(samples)%s.format.Channels
	clear(samples[:n])
	return n, nil
}

func (s *Silence) Format() audio.Format { return s.format }
