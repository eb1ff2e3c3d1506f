// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds a persistent oto player from a discard-oldest ring with software volume
package output

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"go.uber.org/multierr"
)

// DefaultBufferDuration is how much audio the playback ring holds before the
// oldest data is discarded.
const DefaultBufferDuration = 3 * time.Second

// Oto output implementation using oto library
type Oto struct {
	otoCtx  *oto.Context
	player  *oto.Player
	ring    *Ring[byte]
	reader  *silenceReader
	format  audio.Format
	buffer  time.Duration
	volume  int
	muted   bool
	ready   bool
	mu      sync.Mutex
	scratch []float32
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{
		volume: 100,
		buffer: DefaultBufferDuration,
	}
}

// Open initializes the output device. oto only plays 16-bit here, so any other
// depth is converted on Write.
func (o *Oto) Open(format audio.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if format.BitDepth != 16 {
		log.Printf("Warning: oto output plays 16-bit, converting from %d-bit", format.BitDepth)
	}
	format.BitDepth = 16

	if o.otoCtx != nil {
		if o.format.SampleRate != format.SampleRate || o.format.Channels != format.Channels {
			// oto allows one context per process
			log.Printf("Warning: format change (%s -> %s) but oto doesn't support reinitialization. Continuing with existing context.",
				o.format, format)
		}
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	frameBytes := format.FrameBytes()
	capacity := int(o.buffer.Seconds()*float64(format.SampleRate)) * frameBytes

	o.otoCtx = ctx
	o.format = format
	o.ring = NewRing[byte](capacity, frameBytes)
	o.reader = &silenceReader{ring: o.ring}
	o.player = ctx.NewPlayer(o.reader)
	o.player.Play()
	o.ready = true

	log.Printf("Audio output initialized: %dHz, %d channels", format.SampleRate, format.Channels)
	return nil
}

// Write queues samples. It never blocks; on overflow the oldest audio is dropped.
func (o *Oto) Write(samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.ready {
		return fmt.Errorf("output not initialized")
	}

	if cap(o.scratch) < len(samples) {
		o.scratch = make([]float32, len(samples))
	}
	scaled := o.scratch[:len(samples)]
	copy(scaled, samples)
	audio.ApplyGain(scaled, volumeMultiplier(o.volume, o.muted))

	data, err := audio.EncodePCM(scaled, 16)
	if err != nil {
		return err
	}
	_, err = o.ring.Write(data)
	return err
}

// Buffered returns how much audio is waiting to be played
func (o *Oto) Buffered() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ring == nil {
		return 0
	}
	return o.format.Duration(o.ring.Len() / o.format.FrameBytes())
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reader != nil {
		o.reader.closed.Store(true)
	}
	var err error
	if o.player != nil {
		err = o.player.Close()
		o.player = nil
	}
	if o.otoCtx != nil {
		err = multierr.Append(err, o.otoCtx.Suspend())
	}
	o.ready = false
	return err
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	o.mu.Lock()
	o.volume = volume
	o.mu.Unlock()
	log.Printf("Volume set to %d", volume)
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.mu.Lock()
	o.muted = muted
	o.mu.Unlock()
	log.Printf("Muted: %v", muted)
}

// Volume returns current volume
func (o *Oto) Volume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// IsMuted returns mute state
func (o *Oto) IsMuted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

func volumeMultiplier(volume int, muted bool) float32 {
	if muted {
		return 0
	}
	return float32(volume) / 100
}

// silenceReader feeds the oto player, padding underruns with silence so the
// device clock keeps running while the ring is empty.
type silenceReader struct {
	ring   *Ring[byte]
	closed atomic.Bool
}

func (r *silenceReader) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, errClosed
	}
	n, _ := r.ring.Read(p)
	clear(p[n:])
	return len(p), nil
}

var errClosed = errors.New("output closed")
