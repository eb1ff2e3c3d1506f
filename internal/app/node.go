// ABOUTME: Node orchestration for every run mode
// ABOUTME: Wires sources, mixer, UDP session, TCP server, discovery, monitor and TUI
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/Resonate-Protocol/soundcast/internal/config"
	"github.com/Resonate-Protocol/soundcast/internal/discovery"
	"github.com/Resonate-Protocol/soundcast/internal/monitor"
	"github.com/Resonate-Protocol/soundcast/internal/tui"
	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/output"
	"github.com/Resonate-Protocol/soundcast/pkg/broadcast"
	"github.com/Resonate-Protocol/soundcast/pkg/mixer"
	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
	"github.com/Resonate-Protocol/soundcast/pkg/tcpcast"
)

// Mode selects which components a node runs
type Mode int

const (
	// ModeRelay mixes local sources and inbound UDP audio and sends it to
	// UDP endpoints, and to TCP clients when tcp_listen is set
	ModeRelay Mode = iota
	// ModeListen plays inbound UDP audio
	ModeListen
	// ModeServe mixes local sources and streams them to TCP clients
	ModeServe
	// ModeConnect plays a TCP server's stream
	ModeConnect
	// ModePlay broadcasts the given sources once and exits when they end
	ModePlay
)

func (m Mode) String() string {
	switch m {
	case ModeRelay:
		return "relay"
	case ModeListen:
		return "listen"
	case ModeServe:
		return "serve"
	case ModeConnect:
		return "connect"
	case ModePlay:
		return "play"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Options carries per-invocation settings that are not part of the config file
type Options struct {
	Mode        Mode
	Play        []string      // source specs for ModePlay
	ConnectAddr string        // ModeConnect server; empty browses mDNS
	Player      output.Output // playback sink; nil selects oto
}

// Node is one running soundcast process
type Node struct {
	config *config.Config
	opts   Options

	engine  *mixer.Engine
	session *broadcast.Session
	server  *tcpcast.Server
	client  *tcpcast.Client
	player  output.Output
	stream  *streamPlayer
	monitor *monitor.Server
	mdns    []*discovery.Manager

	uplinks *uplinks
	playing *playback

	stopOnce sync.Once
}

// New validates the configuration and prepares a node
func New(cfg *config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Mode == ModePlay && len(opts.Play) == 0 {
		return nil, errors.New("play needs at least one source")
	}

	player := opts.Player
	if player == nil && (opts.Mode == ModeListen || opts.Mode == ModeConnect) {
		player = output.NewOto()
	}

	return &Node{
		config: cfg,
		opts:   opts,
		player: player,
	}, nil
}

// usesUDP reports whether the mode runs a UDP session
func (n *Node) usesUDP() bool {
	switch n.opts.Mode {
	case ModeRelay, ModeListen, ModePlay:
		return true
	}
	return false
}

// usesTCP reports whether the mode runs a TCP server
func (n *Node) usesTCP() bool {
	switch n.opts.Mode {
	case ModeServe:
		return true
	case ModeRelay, ModePlay:
		return n.config.TCPListen != ""
	}
	return false
}

// mixFormat is the format the engine produces. UDP carries 16-bit only.
func (n *Node) mixFormat() audio.Format {
	format := n.config.AudioFormat()
	format.Codec = "pcm"
	if n.usesUDP() {
		format.BitDepth = 16
	}
	return format
}

// Start builds and starts every component the mode needs
func (n *Node) Start(ctx context.Context) error {
	log.Printf("Starting %s node %q", n.opts.Mode, n.config.Name)

	var err error
	switch n.opts.Mode {
	case ModeConnect:
		err = n.startConnect(ctx)
	case ModeListen:
		err = n.startSession(ctx, broadcast.RoleListener)
	default:
		err = n.startMixing(ctx)
	}
	if err != nil {
		n.Stop()
		return err
	}

	n.advertise()

	if n.config.MonitorListen != "" {
		var commands func(monitor.Command) error
		if n.engine != nil {
			commands = monitor.MixerCommands(n.engine)
		}
		n.monitor = monitor.New(monitor.Config{
			Listen:  n.config.MonitorListen,
			Status:  n.Status,
			Command: commands,
			Debug:   n.config.Debug,
		})
		if err := n.monitor.Start(); err != nil {
			n.Stop()
			return fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	return nil
}

// startMixing runs the engine feeding the UDP session and/or TCP server
func (n *Node) startMixing(ctx context.Context) error {
	var sinks []io.Writer

	if n.usesUDP() {
		if err := n.startSession(ctx, broadcast.RoleRelay); err != nil {
			return err
		}
		sinks = append(sinks, n.session.Writer())
	}

	if n.usesTCP() {
		n.server = tcpcast.NewServer(tcpcast.Config{
			Listen:            n.config.TCPListen,
			Metadata:          n.metadata(),
			HeartbeatInterval: n.config.TCPHeartbeatInterval,
			IdleTimeout:       n.config.IdleTimeout,
			Debug:             n.config.Debug,
		})
		sinks = append(sinks, n.server)
	}

	engine, err := mixer.New(mixer.Config{
		Format:      n.mixFormat(),
		BlockFrames: n.config.BlockFrames,
		Sink:        io.MultiWriter(sinks...),
		Debug:       n.config.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to create mixer: %w", err)
	}
	n.engine = engine

	if n.session != nil {
		n.session.AttachMixer(engine)
	}

	if n.server != nil {
		n.uplinks = newUplinks(engine, n.mixFormat())
		n.server.HandleControl(n.handleControl)
		n.server.HandleAudio(n.uplinks.write)
		n.server.OnDisconnect(func(c tcpcast.ClientInfo) { n.uplinks.drop(c.ID) })
		if err := n.server.Start(ctx); err != nil {
			return fmt.Errorf("failed to start TCP server: %w", err)
		}
	}

	specs := n.config.Sources
	loop := true
	if n.opts.Mode == ModePlay {
		specs = n.opts.Play
		loop = false
	}
	n.playing = newPlayback(engine)
	for _, spec := range specs {
		src, name, err := OpenSource(spec, engine.Format(), loop)
		if err != nil {
			return err
		}
		if n.opts.Mode == ModePlay {
			n.playing.add(src, name)
		} else {
			engine.AddSource(src, name, 1)
		}
	}

	if n.session != nil {
		if err := n.session.Start(ctx); err != nil {
			return fmt.Errorf("failed to start UDP session: %w", err)
		}
	}

	engine.Start(ctx)
	return nil
}

func (n *Node) startSession(ctx context.Context, role broadcast.Role) error {
	targets, err := n.config.ResolveTargets()
	if err != nil {
		return fmt.Errorf("invalid targets: %w", err)
	}

	format := n.config.AudioFormat()
	format.BitDepth = 16

	var player output.Output
	if role == broadcast.RoleListener {
		player = n.player
	}

	session, err := broadcast.New(broadcast.Config{
		Name:              n.config.Name,
		Listen:            n.config.Listen,
		Role:              role,
		Targets:           targets,
		Format:            format,
		Compress:          n.config.Compress,
		SendInterval:      n.config.SendInterval,
		HeartbeatInterval: n.config.HeartbeatInterval,
		Liveness:          n.config.Liveness,
		Debug:             n.config.Debug,
	}, nil, player)
	if err != nil {
		return fmt.Errorf("failed to create UDP session: %w", err)
	}
	n.session = session

	if role == broadcast.RoleListener {
		return session.Start(ctx)
	}
	// Relay sessions start once the mixer is attached
	return nil
}

func (n *Node) metadata() protocol.Metadata {
	format := n.mixFormat()
	return protocol.Metadata{
		SampleRate:    int32(format.SampleRate),
		Channels:      int32(format.Channels),
		BitsPerSample: int32(format.BitDepth),
		ProviderName:  n.config.Name,
		Timestamp:     protocol.Now(),
	}
}

// advertise announces the node's listening services over mDNS
func (n *Node) advertise() {
	if !n.config.MDNS {
		return
	}

	info := []string{
		"codec=" + n.config.Codec,
		fmt.Sprintf("rate=%d", n.config.Format.SampleRate),
		fmt.Sprintf("channels=%d", n.config.Format.Channels),
	}

	announce := func(service string, port int) {
		m := discovery.NewManager(discovery.Config{
			ServiceName: n.config.Name,
			Service:     service,
			Port:        port,
			Info:        info,
		})
		if err := m.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
			return
		}
		n.mdns = append(n.mdns, m)
	}

	if n.session != nil && n.opts.Mode != ModeListen {
		announce(discovery.ServiceUDP, int(n.session.Addr().Port()))
	}
	if n.server != nil {
		if addr, ok := n.server.Addr().(*net.TCPAddr); ok {
			announce(discovery.ServiceTCP, addr.Port)
		}
	}
}

// Run starts the node and blocks until ctx is cancelled, the user quits the
// TUI, a play run finishes or a connect session ends
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return err
	}
	defer n.Stop()

	var quit <-chan struct{}
	if n.config.TUI {
		var commands func(monitor.Command) error
		if n.engine != nil {
			commands = monitor.MixerCommands(n.engine)
		}
		t := tui.New(n.Status, commands)
		quit = t.QuitChan()
		go func() {
			if err := t.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
		defer t.Stop()
	}

	var finished <-chan struct{}
	if n.opts.Mode == ModePlay {
		finished = n.playing.done()
	}
	var clientDone <-chan struct{}
	if n.client != nil {
		clientDone = n.client.Done()
	}

	select {
	case <-ctx.Done():
		log.Printf("Shutting down...")
	case <-quit:
		log.Printf("TUI quit requested, shutting down...")
	case <-finished:
		log.Printf("Playback finished")
		n.drain(ctx)
	case <-clientDone:
		if err := n.client.Err(); err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}
		log.Printf("Server closed the connection")
	}
	return nil
}

// Stop tears every component down in reverse dependency order
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.monitor != nil {
			n.monitor.Stop()
		}
		for _, m := range n.mdns {
			m.Stop()
		}
		if n.engine != nil {
			n.engine.Stop()
		}
		if n.session != nil {
			n.session.Stop()
		}
		if n.server != nil {
			n.server.Stop()
		}
		if n.client != nil {
			n.client.Close()
		}
		if n.stream != nil {
			if err := n.stream.Close(); err != nil {
				log.Printf("Error closing player: %v", err)
			}
		}
		log.Printf("Node stopped")
	})
}

// Engine returns the mixer, or nil in listen and connect modes
func (n *Node) Engine() *mixer.Engine { return n.engine }

// Session returns the UDP session, or nil when the mode has none
func (n *Node) Session() *broadcast.Session { return n.session }

// Server returns the TCP server, or nil when the mode has none
func (n *Node) Server() *tcpcast.Server { return n.server }

// Status snapshots every running component
func (n *Node) Status() monitor.Status {
	st := monitor.Status{Name: n.config.Name}
	if n.engine != nil {
		st.Mixer = &monitor.MixerStatus{Stats: n.engine.Stats(), Sources: n.engine.Sources()}
	}
	if n.session != nil {
		st.UDP = &monitor.UDPStatus{Stats: n.session.Stats(), Endpoints: n.session.Registry().Snapshot()}
	}
	if n.server != nil {
		st.TCP = &monitor.TCPStatus{Clients: n.server.Clients(), Metadata: n.server.Metadata()}
	}
	return st
}
