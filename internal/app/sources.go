// ABOUTME: Source specs from config and the command line
// ABOUTME: Opens tones, microphone capture and audio files as mixer sources
package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/source"
)

const (
	tonePrefix    = "tone:"
	toneAmplitude = 0.5
	captureSpec   = "capture"
)

// OpenSource opens one source spec: "tone:<hz>", "capture" or a .mp3/.flac
// path. Generated sources use format; files keep their own format and the
// mixer converts them.
func OpenSource(spec string, format audio.Format, loop bool) (source.PcmSource, string, error) {
	switch {
	case strings.HasPrefix(spec, tonePrefix):
		hz, err := strconv.ParseFloat(strings.TrimPrefix(spec, tonePrefix), 64)
		if err != nil || hz <= 0 || hz >= float64(format.SampleRate)/2 {
			return nil, "", fmt.Errorf("invalid tone %q: frequency must be between 0 and %d Hz", spec, format.SampleRate/2)
		}
		return source.NewTone(format, hz, toneAmplitude), fmt.Sprintf("Test Tone (%gHz)", hz), nil

	case spec == captureSpec:
		capture, err := source.NewCapture(format)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open capture device: %w", err)
		}
		return capture, "Microphone", nil

	default:
		src, err := source.Open(spec, loop)
		if err != nil {
			return nil, "", err
		}
		return src, source.Title(spec), nil
	}
}
