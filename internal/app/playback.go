// ABOUTME: One-shot playback and client uplinks
// ABOUTME: Removes finished sources from the mixer and buffers audio sent up by TCP clients
package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/source"
	"github.com/Resonate-Protocol/soundcast/pkg/mixer"
)

const (
	// uplinkBuffer bounds the audio queued for one TCP client
	uplinkBuffer = 3 * time.Second

	drainTimeout = 5 * time.Second
	drainPoll    = 50 * time.Millisecond
)

// playback tracks sources that play once and are removed when exhausted
type playback struct {
	engine *mixer.Engine

	mu      sync.Mutex
	pending int
	all     chan struct{}
	closed  bool
}

func newPlayback(engine *mixer.Engine) *playback {
	return &playback{engine: engine, all: make(chan struct{})}
}

// add registers src and removes it from the mixer after its first empty read
func (p *playback) add(src source.PcmSource, name string) string {
	tracked := source.NewTracked(src)
	id := p.engine.AddSource(tracked, name, 1)

	p.mu.Lock()
	p.pending++
	p.mu.Unlock()

	log.Printf("Playing %s", name)

	go func() {
		<-tracked.Done()
		p.engine.RemoveSource(id)
		log.Printf("Finished %s", name)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.pending--
		if p.pending == 0 && !p.closed {
			p.closed = true
			close(p.all)
		}
	}()
	return id
}

// done is closed once every added source has finished
func (p *playback) done() <-chan struct{} {
	return p.all
}

// drain waits for queued outbound audio to go out before a play run exits
func (n *Node) drain(ctx context.Context) {
	if n.session == nil {
		return
	}
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for n.session.Writer().Len() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

// uplink is audio from one TCP client playing through the mixer
type uplink struct {
	buf *source.Buffer
	id  string
}

// uplinks routes audio frames sent by TCP clients into the mixer. Clients send
// PCM in the server's format.
type uplinks struct {
	engine *mixer.Engine
	format audio.Format

	mu      sync.Mutex
	clients map[string]*uplink
}

func newUplinks(engine *mixer.Engine, format audio.Format) *uplinks {
	return &uplinks{
		engine:  engine,
		format:  format,
		clients: make(map[string]*uplink),
	}
}

func (u *uplinks) write(clientID string, sequence int32, data []byte) {
	samples, err := audio.DecodePCM(data, u.format.BitDepth)
	if err != nil {
		log.Printf("Dropping audio from %s: %v", clientID, err)
		return
	}
	samples = samples[:len(samples)-len(samples)%u.format.Channels]
	if len(samples) == 0 {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	up, ok := u.clients[clientID]
	if !ok {
		capacity := int(uplinkBuffer.Seconds()*float64(u.format.SampleRate)) * u.format.Channels
		buf := source.NewBuffer(u.format, capacity)
		up = &uplink{buf: buf, id: u.engine.AddSource(buf, "client "+clientID, 1)}
		u.clients[clientID] = up
	}
	up.buf.Write(samples)
}

// drop removes a disconnected client's source
func (u *uplinks) drop(clientID string) {
	u.mu.Lock()
	up, ok := u.clients[clientID]
	delete(u.clients, clientID)
	u.mu.Unlock()

	if ok {
		u.engine.RemoveSource(up.id)
	}
}

func (u *uplinks) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.clients)
}
