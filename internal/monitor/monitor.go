// ABOUTME: HTTP and WebSocket status feed for a running node
// ABOUTME: Serves JSON snapshots of mixer, UDP and TCP state and accepts mixer commands
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/broadcast"
	"github.com/Resonate-Protocol/soundcast/pkg/mixer"
	"github.com/Resonate-Protocol/soundcast/pkg/presence"
	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
	"github.com/Resonate-Protocol/soundcast/pkg/tcpcast"
	"github.com/gorilla/websocket"
)

const (
	// DefaultInterval is how often status is pushed to WebSocket clients
	DefaultInterval = time.Second

	writeDeadline = 10 * time.Second
	pongWait      = 60 * time.Second
)

// Status is one snapshot of node state. Sections for components the node
// does not run are nil.
type Status struct {
	Name  string       `json:"name"`
	Time  time.Time    `json:"time"`
	Mixer *MixerStatus `json:"mixer,omitempty"`
	UDP   *UDPStatus   `json:"udp,omitempty"`
	TCP   *TCPStatus   `json:"tcp,omitempty"`
}

type MixerStatus struct {
	Stats   mixer.Stats        `json:"stats"`
	Sources []mixer.SourceInfo `json:"sources"`
}

type UDPStatus struct {
	Stats     broadcast.Stats  `json:"stats"`
	Endpoints []presence.Entry `json:"endpoints"`
}

type TCPStatus struct {
	Clients  []tcpcast.ClientInfo `json:"clients"`
	Metadata protocol.Metadata    `json:"metadata"`
}

// Command is a request sent by a WebSocket client
type Command struct {
	Action string  `json:"action"` // "set-gain", "enable", "disable", "remove"
	Source string  `json:"source"`
	Value  float32 `json:"value,omitempty"`
}

// Reply answers one Command
type Reply struct {
	Action string `json:"action"`
	Source string `json:"source"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Config holds monitor settings
type Config struct {
	Listen   string
	Interval time.Duration
	Status   func() Status
	Command  func(Command) error // nil rejects every command
	Debug    bool
}

// Server serves /status and /ws
type Server struct {
	config     Config
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	listener   net.Listener
	httpServer *http.Server

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a monitor server
func New(config Config) *Server {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			// Local network tool; non-browser clients send no Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:      http.NewServeMux(),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler, for mounting without Start
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.mux}

	log.Printf("Monitor listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Monitor server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down and closes every feed
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				log.Printf("Monitor shutdown error: %v", err)
			}
		}
	})
	s.wg.Wait()
}

func (s *Server) snapshot() Status {
	if s.config.Status == nil {
		return Status{Time: time.Now()}
	}
	st := s.config.Status()
	if st.Time.IsZero() {
		st.Time = time.Now()
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		log.Printf("Error encoding status: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	if s.config.Debug {
		log.Printf("[DEBUG] Monitor client connected from %s", r.RemoteAddr)
	}

	replies := make(chan Reply, 16)
	done := make(chan struct{})
	quit := make(chan struct{})

	go s.readCommands(conn, replies, done, quit)
	s.writeStatus(conn, replies, done)
	close(quit)
}

// writeStatus pushes a snapshot every interval plus a reply per command.
// gorilla connections allow one concurrent writer, so all writes happen here.
func (s *Server) writeStatus(conn *websocket.Conn, replies <-chan Reply, done <-chan struct{}) {
	defer conn.Close()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	ping := time.NewTicker(pongWait * 9 / 10)
	defer ping.Stop()

	write := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(v); err != nil {
			if s.config.Debug {
				log.Printf("[DEBUG] Monitor write failed: %v", err)
			}
			return false
		}
		return true
	}

	if !write(s.snapshot()) {
		return
	}

	for {
		select {
		case <-ticker.C:
			if !write(s.snapshot()) {
				return
			}
		case reply := <-replies:
			if !write(reply) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		case <-done:
			return
		case <-s.stopChan:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) readCommands(conn *websocket.Conn, replies chan<- Reply, done chan<- struct{}, quit <-chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		var reply Reply
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			if !errors.As(err, &syntaxErr) {
				return
			}
			reply = Reply{Error: "invalid command"}
		} else {
			reply = Reply{Action: cmd.Action, Source: cmd.Source, OK: true}
			if err := s.dispatch(cmd); err != nil {
				reply.OK = false
				reply.Error = err.Error()
			}
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case replies <- reply:
		case <-quit:
			return
		}
	}
}

func (s *Server) dispatch(cmd Command) error {
	if s.config.Command == nil {
		return errors.New("commands not supported")
	}
	return s.config.Command(cmd)
}

// MixerCommands applies Commands to an engine
func MixerCommands(engine *mixer.Engine) func(Command) error {
	return func(cmd Command) error {
		switch cmd.Action {
		case "set-gain":
			if !engine.SetGain(cmd.Source, cmd.Value) {
				return fmt.Errorf("unknown source %q", cmd.Source)
			}
		case "enable", "disable":
			if !engine.SetEnabled(cmd.Source, cmd.Action == "enable") {
				return fmt.Errorf("unknown source %q", cmd.Source)
			}
		case "remove":
			if !engine.RemoveSource(cmd.Source) {
				return fmt.Errorf("unknown source %q", cmd.Source)
			}
		default:
			return fmt.Errorf("unknown action %q", cmd.Action)
		}
		return nil
	}
}
