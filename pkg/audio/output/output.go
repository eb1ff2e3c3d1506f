// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for audio playback backends
package output

import "github.com/Resonate-Protocol/soundcast/pkg/audio"

// Output represents an audio output device
type Output interface {
	// Open initializes the output device
	Open(format audio.Format) error

	// Write queues normalized samples for playback without blocking
	Write(samples []float32) error

	// Close releases output resources
	Close() error
}
