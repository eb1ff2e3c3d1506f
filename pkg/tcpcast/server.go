// ABOUTME: TCP broadcast server
// ABOUTME: Accepts clients, fans frames out through per-client queues and sweeps idle sessions
package tcpcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
	"github.com/google/uuid"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute

	sendQueueSize = 256
	writeDeadline = 10 * time.Second
)

// Config holds server settings
type Config struct {
	Listen            string
	Metadata          protocol.Metadata
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	Debug             bool
}

// ControlHandler receives control commands from clients. CommandRequestMetadata
// is answered by the server and never reaches the handler.
type ControlHandler func(clientID string, control protocol.Control)

// AudioHandler receives audio frames sent up by clients
type AudioHandler func(clientID string, sequence int32, data []byte)

// ClientInfo describes a connected client
type ClientInfo struct {
	ID           string
	Addr         string
	Connected    time.Time
	LastActivity time.Time
	Dropped      uint64
}

// session is one connected client
type session struct {
	id        string
	conn      net.Conn
	addr      string
	connected time.Time

	lastActivity atomic.Int64
	dropped      atomic.Uint64

	sendChan  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *session) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *session) info() ClientInfo {
	return ClientInfo{
		ID:           c.id,
		Addr:         c.addr,
		Connected:    c.connected,
		LastActivity: time.Unix(0, c.lastActivity.Load()),
		Dropped:      c.dropped.Load(),
	}
}

// Server streams frames to every connected client
type Server struct {
	config   Config
	listener net.Listener

	sessions   map[string]*session
	sessionsMu sync.RWMutex

	metadata   protocol.Metadata
	metadataMu sync.RWMutex

	sequence atomic.Int32

	onControl    ControlHandler
	onAudio      AudioHandler
	onConnect    func(ClientInfo)
	onDisconnect func(ClientInfo)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server. Zero intervals select the defaults.
func NewServer(config Config) *Server {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.Metadata == (protocol.Metadata{}) {
		config.Metadata = protocol.DefaultMetadata()
	}

	return &Server{
		config:   config,
		sessions: make(map[string]*session),
		metadata: config.Metadata,
		stopChan: make(chan struct{}),
	}
}

// HandleControl sets the control handler. Call before Start.
func (s *Server) HandleControl(fn ControlHandler) { s.onControl = fn }

// HandleAudio sets the handler for audio sent by clients. Call before Start.
func (s *Server) HandleAudio(fn AudioHandler) { s.onAudio = fn }

// OnConnect and OnDisconnect set connection hooks. Call before Start.
func (s *Server) OnConnect(fn func(ClientInfo))    { s.onConnect = fn }
func (s *Server) OnDisconnect(fn func(ClientInfo)) { s.onDisconnect = fn }

// Start listens and runs the accept and sweep loops in the background
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	log.Printf("TCP server listening on %s", listener.Addr())

	s.wg.Add(2)
	go s.acceptLoop()
	go s.sweepLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
		}
	}()

	return nil
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, disconnects every client and waits for all
// goroutines to exit
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		log.Printf("TCP server shutting down...")
		close(s.stopChan)
		if s.listener != nil {
			s.listener.Close()
		}

		s.sessionsMu.RLock()
		all := make([]*session, 0, len(s.sessions))
		for _, c := range s.sessions {
			all = append(all, c)
		}
		s.sessionsMu.RUnlock()

		for _, c := range all {
			s.disconnect(c, "server stopping")
		}
	})
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.addSession(conn)
	}
}

func (s *Server) addSession(conn net.Conn) {
	c := &session{
		id:        uuid.New().String(),
		conn:      conn,
		addr:      conn.RemoteAddr().String(),
		connected: time.Now(),
		sendChan:  make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
	c.touch()

	s.sessionsMu.Lock()
	select {
	case <-s.stopChan:
		s.sessionsMu.Unlock()
		conn.Close()
		return
	default:
	}
	s.sessions[c.id] = c
	s.sessionsMu.Unlock()

	log.Printf("Client connected: %s (%s)", c.addr, c.id)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()
	go func() {
		defer s.wg.Done()
		s.clientReader(c)
	}()

	s.enqueue(c, protocol.EncodeFrame(protocol.NewMetadataMessage(s.Metadata())))

	if s.onConnect != nil {
		s.onConnect(c.info())
	}
}

// clientWriter drains the session queue onto the socket
func (s *Server) clientWriter(c *session) {
	for {
		select {
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if _, err := c.conn.Write(data); err != nil {
				log.Printf("Error writing to %s: %v", c.addr, err)
				s.disconnect(c, "write error")
				return
			}
		case <-c.done:
			return
		}
	}
}

// clientReader parses frames from the socket and dispatches them
func (s *Server) clientReader(c *session) {
	reader := protocol.NewFrameReader(c.conn)
	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrCorruptFrame):
				log.Printf("Corrupt frame from %s: %v", c.addr, err)
				s.disconnect(c, "corrupt frame")
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				s.disconnect(c, "closed")
			default:
				select {
				case <-c.done:
				default:
					log.Printf("Read error from %s: %v", c.addr, err)
				}
				s.disconnect(c, "read error")
			}
			return
		}

		c.touch()
		s.handleMessage(c, msg)
	}
}

func (s *Server) handleMessage(c *session, msg protocol.Message) {
	switch msg.Type {
	case protocol.MessageControl:
		control, err := protocol.DecodeControl(msg.Payload)
		if err != nil {
			log.Printf("Bad control frame from %s: %v", c.addr, err)
			return
		}
		if s.config.Debug {
			log.Printf("[DEBUG] Control from %s: %s %.2f", c.addr, control.Command, control.Parameter)
		}
		if control.Command == protocol.CommandRequestMetadata {
			s.enqueue(c, protocol.EncodeFrame(protocol.NewMetadataMessage(s.Metadata())))
			return
		}
		if s.onControl != nil {
			s.onControl(c.id, control)
		}

	case protocol.MessageMetadata:
		s.enqueue(c, protocol.EncodeFrame(protocol.NewMetadataMessage(s.Metadata())))

	case protocol.MessageHeartbeat:
		// touch already recorded the activity

	case protocol.MessageAudio:
		if s.onAudio != nil {
			s.onAudio(c.id, msg.Sequence, msg.Payload)
		}

	default:
		if s.config.Debug {
			log.Printf("[DEBUG] Ignoring %s frame from %s", msg.Type, c.addr)
		}
	}
}

// enqueue queues a frame without blocking. A full queue drops the frame for
// this client only.
func (s *Server) enqueue(c *session, frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.sendChan <- frame:
		return true
	default:
		if c.dropped.Add(1)%100 == 1 {
			log.Printf("Warning: send queue full for %s, dropping frames", c.addr)
		}
		return false
	}
}

func (s *Server) disconnect(c *session, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		s.sessionsMu.Lock()
		delete(s.sessions, c.id)
		s.sessionsMu.Unlock()

		log.Printf("Client disconnected: %s (%s)", c.addr, reason)
		if s.onDisconnect != nil {
			s.onDisconnect(c.info())
		}
	})
}

func (s *Server) snapshot() []*session {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	all := make([]*session, 0, len(s.sessions))
	for _, c := range s.sessions {
		all = append(all, c)
	}
	return all
}

// broadcast queues a frame for every client and returns how many accepted it
func (s *Server) broadcast(frame []byte) int {
	queued := 0
	for _, c := range s.snapshot() {
		if s.enqueue(c, frame) {
			queued++
		}
	}
	return queued
}

// BroadcastAudio sends audio to every client with the next sequence number
func (s *Server) BroadcastAudio(data []byte) int {
	if len(data) == 0 || len(data) > protocol.MaxFrameLength {
		return 0
	}
	seq := s.sequence.Add(1)
	return s.broadcast(protocol.EncodeFrame(protocol.NewAudioMessage(data, seq)))
}

// Write sends p as one audio frame, so the server can be a mixer sink
func (s *Server) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	s.BroadcastAudio(data)
	return len(p), nil
}

// BroadcastControl sends a control command to every client
func (s *Server) BroadcastControl(command protocol.ControlCommand, parameter float32) int {
	return s.broadcast(protocol.EncodeFrame(protocol.NewControlMessage(command, parameter)))
}

// SendControl sends a control command to one client
func (s *Server) SendControl(id string, command protocol.ControlCommand, parameter float32) error {
	s.sessionsMu.RLock()
	c, ok := s.sessions[id]
	s.sessionsMu.RUnlock()
	if !ok {
		return fmt.Errorf("client %s not connected", id)
	}
	if !s.enqueue(c, protocol.EncodeFrame(protocol.NewControlMessage(command, parameter))) {
		return fmt.Errorf("client %s send queue full", id)
	}
	return nil
}

// SetMetadata replaces the stream metadata and pushes it to every client
func (s *Server) SetMetadata(m protocol.Metadata) {
	s.metadataMu.Lock()
	s.metadata = m
	s.metadataMu.Unlock()

	s.broadcast(protocol.EncodeFrame(protocol.NewMetadataMessage(m)))
}

// Metadata returns the current stream metadata
func (s *Server) Metadata() protocol.Metadata {
	s.metadataMu.RLock()
	defer s.metadataMu.RUnlock()
	return s.metadata
}

// Clients returns connected clients, oldest first
func (s *Server) Clients() []ClientInfo {
	sessions := s.snapshot()
	infos := make([]ClientInfo, 0, len(sessions))
	for _, c := range sessions {
		infos = append(infos, c.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Connected.Before(infos[j].Connected) })
	return infos
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// Disconnect closes one client session
func (s *Server) Disconnect(id string) bool {
	s.sessionsMu.RLock()
	c, ok := s.sessions[id]
	s.sessionsMu.RUnlock()
	if !ok {
		return false
	}
	s.disconnect(c, "disconnected by server")
	return true
}

// sweepLoop sends heartbeats and drops idle clients
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	heartbeat := protocol.EncodeFrame(protocol.NewHeartbeatMessage())
	for {
		select {
		case <-ticker.C:
			s.broadcast(heartbeat)
			s.sweepIdle(time.Now())
		case <-s.stopChan:
			return
		}
	}
}

func (s *Server) sweepIdle(now time.Time) int {
	cutoff := now.Add(-s.config.IdleTimeout).UnixNano()
	swept := 0
	for _, c := range s.snapshot() {
		if c.lastActivity.Load() < cutoff {
			s.disconnect(c, "idle timeout")
			swept++
		}
	}
	return swept
}
