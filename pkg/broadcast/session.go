// ABOUTME: UDP broadcast session
// ABOUTME: Sends mixed audio to live endpoints and handles inbound heartbeats and audio
package broadcast

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/codec"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/output"
	"github.com/Resonate-Protocol/soundcast/pkg/mixer"
	"github.com/Resonate-Protocol/soundcast/pkg/presence"
	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
)

const (
	DefaultSendInterval      = 100 * time.Millisecond
	DefaultHeartbeatInterval = 250 * time.Millisecond

	// InjectBuffer bounds the audio queued for one inbound sender
	InjectBuffer = 3 * time.Second

	// OutboundBuffer bounds mixed audio waiting to be sent
	OutboundBuffer = 3 * time.Second

	frameDuration = 20 * time.Millisecond
	maxDatagram   = 64 * 1024
	maxStreams    = 64
)

// Role selects what happens to inbound audio
type Role int

const (
	// RoleRelay injects inbound audio into the mixer
	RoleRelay Role = iota
	// RoleListener plays inbound audio on the local player
	RoleListener
)

func (r Role) String() string {
	if r == RoleListener {
		return "listener"
	}
	return "relay"
}

// Config holds session settings
type Config struct {
	Name              string
	Listen            string // UDP bind address, e.g. ":5000"
	Role              Role
	Targets           []Target
	Format            audio.Format // outbound format, 16-bit
	Compress          bool
	SendInterval      time.Duration
	HeartbeatInterval time.Duration
	Liveness          int
	Debug             bool
}

// Stats is a snapshot of session counters
type Stats struct {
	PacketsSent        uint64
	BytesSent          uint64
	PacketsReceived    uint64
	BytesReceived      uint64
	HeartbeatsSent     uint64
	HeartbeatsReceived uint64
	DecodeErrors       uint64
	SendErrors         uint64
	Injected           uint64
	OutboundDropped    uint64
	Endpoints          int
}

// Session is one UDP node. It owns the socket, the presence registry and the
// outbound audio queue.
type Session struct {
	config   Config
	registry *presence.Registry
	mixer    *mixer.Engine  // relay injection target, may be nil
	player   output.Output  // listener sink, may be nil
	encoder  codec.Codec
	outbound *output.Ring[byte]
	frame    int // outbound chunk size in bytes

	conn *net.UDPConn

	// Receive loop state
	streams map[netip.AddrPort]*stream

	injectMu sync.Mutex
	injected map[netip.AddrPort]*injection

	stats counters

	stopChan    chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
	wg          sync.WaitGroup
}

// New creates a session. engine receives inbound audio in RoleRelay; player
// receives it in RoleListener. Either may be nil.
func New(config Config, engine *mixer.Engine, player output.Output) (*Session, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if config.Format.SampleRate == 0 {
		config.Format = audio.VoiceFormat()
	}
	config.Format.BitDepth = 16
	if err := config.Format.Validate(); err != nil {
		return nil, err
	}
	if config.SendInterval <= 0 {
		config.SendInterval = DefaultSendInterval
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}

	frameSize := int(int64(config.Format.SampleRate) * int64(frameDuration) / int64(time.Second))
	if config.Format.Codec != "opus" {
		// Raw frames have to fit a single package
		frameSize = min(frameSize, protocol.MaxPayload/(config.Format.Channels*2))
	}
	encoder, err := codec.New(config.Format, frameSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	ringBytes := int(int64(config.Format.SampleRate) * int64(OutboundBuffer) / int64(time.Second) * int64(config.Format.FrameBytes()))

	return &Session{
		config:   config,
		registry: presence.NewRegistry(config.Liveness),
		mixer:    engine,
		player:   player,
		encoder:  encoder,
		outbound: output.NewRing[byte](ringBytes, config.Format.FrameBytes()),
		frame:    codec.FrameBytes(encoder, config.Format.Channels),
		streams:  make(map[netip.AddrPort]*stream),
		injected: make(map[netip.AddrPort]*injection),
		stopChan: make(chan struct{}),
	}, nil
}

// Start binds the socket and starts the receive, heartbeat and send loops
func (s *Session) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.conn = conn

	if s.player != nil {
		if err := s.player.Open(s.config.Format); err != nil {
			conn.Close()
			return fmt.Errorf("failed to open player: %w", err)
		}
	}

	log.Printf("UDP %s %q listening on %s (%s, %s codec, %d targets)",
		s.config.Role, s.config.Name, conn.LocalAddr(), s.config.Format, s.encoder.Name(), len(s.config.Targets))

	s.wg.Add(3)
	go s.receiveLoop()
	go s.heartbeatLoop(ctx)
	go s.sendLoop(ctx)

	// Close the socket on cancellation to unblock the receive loop
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
		}
	}()

	return nil
}

// Stop closes the socket and waits for every loop to exit
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.conn != nil {
			s.conn.Close()
		}
	})
	s.wg.Wait()
	s.cleanupOnce.Do(s.cleanup)
}

func (s *Session) cleanup() {
	s.injectMu.Lock()
	pending := s.injected
	s.injected = make(map[netip.AddrPort]*injection)
	s.injectMu.Unlock()
	if s.mixer != nil {
		for _, inj := range pending {
			s.mixer.RemoveSource(inj.id)
		}
	}

	for _, st := range s.streams {
		st.close()
	}
	clear(s.streams)
	s.encoder.Close()

	if s.player != nil && s.conn != nil {
		if err := s.player.Close(); err != nil {
			log.Printf("Error closing player: %v", err)
		}
	}
}

// AttachMixer sets the engine that receives inbound audio in RoleRelay. It must
// be called before Start.
func (s *Session) AttachMixer(engine *mixer.Engine) {
	s.mixer = engine
}

// Addr returns the bound socket address
func (s *Session) Addr() netip.AddrPort {
	if s.conn == nil {
		return netip.AddrPort{}
	}
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Writer returns the outbound queue. The mixer writes 16-bit PCM in the session
// format here and the send loop drains it.
func (s *Session) Writer() *output.Ring[byte] {
	return s.outbound
}

// Registry returns the presence registry
func (s *Session) Registry() *presence.Registry {
	return s.registry
}

// Stats returns current counters
func (s *Session) Stats() Stats {
	return Stats{
		PacketsSent:        s.stats.packetsSent.Load(),
		BytesSent:          s.stats.bytesSent.Load(),
		PacketsReceived:    s.stats.packetsReceived.Load(),
		BytesReceived:      s.stats.bytesReceived.Load(),
		HeartbeatsSent:     s.stats.heartbeatsSent.Load(),
		HeartbeatsReceived: s.stats.heartbeatsReceived.Load(),
		DecodeErrors:       s.stats.decodeErrors.Load(),
		SendErrors:         s.stats.sendErrors.Load(),
		Injected:           s.stats.injected.Load(),
		OutboundDropped:    s.outbound.Dropped(),
		Endpoints:          s.registry.Len(),
	}
}

type counters struct {
	packetsSent        atomic.Uint64
	bytesSent          atomic.Uint64
	packetsReceived    atomic.Uint64
	bytesReceived      atomic.Uint64
	heartbeatsSent     atomic.Uint64
	heartbeatsReceived atomic.Uint64
	decodeErrors       atomic.Uint64
	sendErrors         atomic.Uint64
	injected           atomic.Uint64
}
