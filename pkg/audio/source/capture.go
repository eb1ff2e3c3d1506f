// ABOUTME: Microphone capture source using malgo (miniaudio)
// ABOUTME: The device callback pushes into a discard-oldest buffer the mixer polls
package source

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/gen2brain/malgo"
)

// CaptureBuffer is how much captured audio is kept when nobody reads it
const CaptureBuffer = 500 * time.Millisecond

// Capture records from the default input device
type Capture struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	buffer   *Buffer
	format   audio.Format
	muted    bool
	mu       sync.Mutex
}

// NewCapture opens the default capture device in the given format and starts it
func NewCapture(format audio.Format) (*Capture, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	// Capture always runs at 16-bit, the mixer works on floats anyway
	format.BitDepth = 16

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	capacity := int(CaptureBuffer.Seconds()*float64(format.SampleRate)) * format.Channels
	c := &Capture{
		malgoCtx: ctx,
		buffer:   NewBuffer(format, capacity),
		format:   format,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = audio.VoiceFrameMs
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			c.onSamples(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		c.closeContext()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		c.closeContext()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}
	c.device = device

	log.Printf("Capture started: %s", format)
	return c, nil
}

func (c *Capture) onSamples(data []byte) {
	c.mu.Lock()
	muted := c.muted
	c.mu.Unlock()
	if muted {
		return
	}

	samples, err := audio.DecodePCM(data, 16)
	if err != nil {
		return
	}
	c.buffer.Write(samples)
}

// SetMuted stops (or resumes) accepting captured audio
func (c *Capture) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	if muted {
		c.buffer.ring.Reset()
	}
}

func (c *Capture) Read(samples []float32) (int, error) {
	return c.buffer.Read(samples)
}

func (c *Capture) Format() audio.Format { return c.format }

// Close stops the device and releases the context
func (c *Capture) Close() error {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	return c.closeContext()
}

func (c *Capture) closeContext() error {
	if c.malgoCtx == nil {
		return nil
	}
	err := c.malgoCtx.Uninit()
	c.malgoCtx.Free()
	c.malgoCtx = nil
	return err
}
