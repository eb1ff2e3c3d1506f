// ABOUTME: TCP client playback for connect mode
// ABOUTME: Plays a server's PCM stream, following metadata and control commands
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/Resonate-Protocol/soundcast/internal/discovery"
	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/output"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/resample"
	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
	"github.com/Resonate-Protocol/soundcast/pkg/tcpcast"
)

func (n *Node) startConnect(ctx context.Context) error {
	addr := n.opts.ConnectAddr
	if addr == "" {
		log.Printf("Looking for a server via mDNS...")
		server, err := discovery.Lookup(ctx, discovery.ServiceTCP)
		if err != nil {
			return err
		}
		addr = server.Addr()
		log.Printf("Discovered server %s at %s", server.Name, addr)
	}

	n.stream = newStreamPlayer(n.player)

	client, err := tcpcast.Dial(ctx, tcpcast.ClientConfig{
		Addr:              addr,
		HeartbeatInterval: n.config.TCPHeartbeatInterval,
		Debug:             n.config.Debug,
		OnAudio: func(_ int32, data []byte) {
			n.stream.write(data)
		},
		OnMetadata: func(m protocol.Metadata) {
			if err := n.stream.setFormat(m); err != nil {
				log.Printf("Ignoring stream metadata: %v", err)
			}
		},
		OnControl: n.stream.control,
	})
	if err != nil {
		return err
	}
	n.client = client
	return nil
}

// streamPlayer converts the server stream to the format the output was opened
// with. Output devices are opened once, so later format changes are resampled.
type streamPlayer struct {
	out output.Output

	mu        sync.Mutex
	opened    bool
	device    audio.Format
	in        audio.Format
	resampler *resample.Resampler
	resampled []float32
	remapped  []float32
	gain      float32
	paused    bool
	played    uint64
}

func newStreamPlayer(out output.Output) *streamPlayer {
	return &streamPlayer{out: out, gain: 1}
}

func (p *streamPlayer) setFormat(m protocol.Metadata) error {
	format := audio.Format{
		Codec:      "pcm",
		SampleRate: int(m.SampleRate),
		Channels:   int(m.Channels),
		BitDepth:   int(m.BitsPerSample),
	}
	if err := format.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		if err := p.out.Open(format); err != nil {
			return fmt.Errorf("failed to open output: %w", err)
		}
		p.opened = true
		p.device = format
	}
	if format != p.in {
		log.Printf("Stream from %q: %s", m.ProviderName, format)
		p.resampler = nil
	}
	p.in = format
	return nil
}

func (p *streamPlayer) write(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return
	}

	samples, err := audio.DecodePCM(data, p.in.BitDepth)
	if err != nil {
		log.Printf("Dropping audio frame: %v", err)
		return
	}
	samples = samples[:len(samples)-len(samples)%p.in.Channels]

	if p.in.SampleRate != p.device.SampleRate {
		if p.resampler == nil {
			p.resampler = resample.New(p.in.SampleRate, p.device.SampleRate, p.in.Channels)
		}
		need := p.resampler.OutputSamplesNeeded(len(samples))
		if cap(p.resampled) < need {
			p.resampled = make([]float32, need)
		}
		samples = p.resampled[:p.resampler.Resample(samples, p.resampled[:need])]
	}

	if p.in.Channels != p.device.Channels {
		need := len(samples) / p.in.Channels * p.device.Channels
		if cap(p.remapped) < need {
			p.remapped = make([]float32, need)
		}
		samples = p.remapped[:audio.RemapChannels(samples, p.in.Channels, p.remapped[:need], p.device.Channels)]
	}

	gain := p.gain
	if p.paused {
		gain = 0
	}
	audio.ApplyGain(samples, gain)

	if err := p.out.Write(samples); err != nil {
		log.Printf("Player write error: %v", err)
		return
	}
	p.played += uint64(len(samples))
}

func (p *streamPlayer) control(c protocol.Control) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch c.Command {
	case protocol.CommandStart, protocol.CommandResume:
		p.paused = false
	case protocol.CommandStop, protocol.CommandPause:
		p.paused = true
	case protocol.CommandSetVolume:
		p.gain = max(0, c.Parameter)
	default:
		return
	}
	log.Printf("Server sent %s %v", c.Command, c.Parameter)
}

// Close closes the output if it was opened
func (p *streamPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return nil
	}
	p.opened = false
	return p.out.Close()
}
