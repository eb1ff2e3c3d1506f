// ABOUTME: PcmSource interface and the in-memory sources
// ABOUTME: Sources are polled for interleaved normalized samples at a declared format
package source

import (
	"sync"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/output"
)

// PcmSource provides interleaved PCM samples normalized to [-1, 1]
type PcmSource interface {
	// Read fills samples and returns how many were written. A zero read means the
	// source is exhausted for now (or for good); it is not an error.
	Read(samples []float32) (int, error)
	// Format returns the format the samples are produced in
	Format() audio.Format
}

// Buffer is a FIFO source fed by Write. When it overflows the oldest frames are
// discarded, so a producer pushing network audio never blocks.
type Buffer struct {
	format audio.Format
	ring   *output.Ring[float32]
}

// NewBuffer creates a buffer source holding up to capacity samples
func NewBuffer(format audio.Format, capacity int) *Buffer {
	return &Buffer{
		format: format,
		ring:   output.NewRing[float32](capacity, format.Channels),
	}
}

// NewBufferFrom creates a buffer preloaded with samples
func NewBufferFrom(format audio.Format, samples []float32) *Buffer {
	b := NewBuffer(format, max(len(samples), format.Channels))
	b.ring.Write(samples)
	return b
}

// Write appends samples
func (b *Buffer) Write(samples []float32) {
	b.ring.Write(samples)
}

func (b *Buffer) Read(samples []float32) (int, error) {
	return b.ring.Read(samples)
}

func (b *Buffer) Format() audio.Format { return b.format }

// Len returns the number of buffered samples
func (b *Buffer) Len() int { return b.ring.Len() }

// Tracked wraps a source and reports when it first comes up empty. Callers that
// add short-lived sources to a mixer wait on Done and then remove them.
type Tracked struct {
	PcmSource
	done chan struct{}
	once sync.Once
}

// NewTracked wraps src
func NewTracked(src PcmSource) *Tracked {
	return &Tracked{
		PcmSource: src,
		done:      make(chan struct{}),
	}
}

func (t *Tracked) Read(samples []float32) (int, error) {
	n, err := t.PcmSource.Read(samples)
	if n == 0 || err != nil {
		t.once.Do(func() { close(t.done) })
	}
	return n, err
}

// Done is closed after the first empty read
func (t *Tracked) Done() <-chan struct{} {
	return t.done
}

// Close closes the wrapped source if it can be closed
func (t *Tracked) Close() error {
	if c, ok := t.PcmSource.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
