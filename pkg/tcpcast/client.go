// ABOUTME: TCP broadcast client
// ABOUTME: Receives frames from a server, caches metadata and keeps the session alive
package tcpcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
)

// ClientConfig holds client settings and callbacks. Callbacks run on the
// receive goroutine.
type ClientConfig struct {
	Addr              string
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	Debug             bool

	OnAudio    func(sequence int32, data []byte)
	OnMetadata func(protocol.Metadata)
	OnControl  func(protocol.Control)
}

// Client is a connection to a Server
type Client struct {
	config ClientConfig
	conn   net.Conn

	writeMu  sync.Mutex
	sequence atomic.Int32

	metadataMu  sync.RWMutex
	metadata    protocol.Metadata
	hasMetadata bool

	lastHeartbeat atomic.Int64
	received      atomic.Uint64

	err      error
	done     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to a server, starts the receive and heartbeat loops and asks
// for the stream metadata
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}

	dialer := net.Dialer{Timeout: config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Addr, err)
	}

	c := &Client{
		config:   config,
		conn:     conn,
		metadata: protocol.DefaultMetadata(),
		done:     make(chan struct{}),
		stopChan: make(chan struct{}),
	}

	log.Printf("Connected to %s", conn.RemoteAddr())

	c.wg.Add(2)
	go c.receiveLoop()
	go c.heartbeatLoop()

	if err := c.RequestMetadata(); err != nil {
		c.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.stopChan:
		case <-c.done:
		}
	}()

	return c, nil
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()
	defer close(c.done)

	reader := protocol.NewFrameReader(c.conn)
	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
			default:
				if !errors.Is(err, io.EOF) {
					log.Printf("Connection error: %v", err)
				}
				c.err = err
			}
			c.conn.Close()
			return
		}
		c.received.Add(1)
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.MessageAudio:
		if c.config.OnAudio != nil {
			c.config.OnAudio(msg.Sequence, msg.Payload)
		}

	case protocol.MessageMetadata:
		m, err := protocol.DecodeMetadata(msg.Payload)
		if err != nil {
			log.Printf("Bad metadata frame: %v", err)
			return
		}
		c.metadataMu.Lock()
		c.metadata = m
		c.hasMetadata = true
		c.metadataMu.Unlock()

		log.Printf("Stream metadata: %s, %d Hz, %d ch, %d bit",
			m.ProviderName, m.SampleRate, m.Channels, m.BitsPerSample)
		if c.config.OnMetadata != nil {
			c.config.OnMetadata(m)
		}

	case protocol.MessageControl:
		control, err := protocol.DecodeControl(msg.Payload)
		if err != nil {
			log.Printf("Bad control frame: %v", err)
			return
		}
		if c.config.OnControl != nil {
			c.config.OnControl(control)
		}

	case protocol.MessageHeartbeat:
		c.lastHeartbeat.Store(time.Now().UnixNano())

	default:
		if c.config.Debug {
			log.Printf("[DEBUG] Ignoring %s frame", msg.Type)
		}
	}
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.send(protocol.NewHeartbeatMessage()); err != nil {
				log.Printf("Heartbeat failed: %v", err)
			}
		case <-c.done:
			return
		case <-c.stopChan:
			return
		}
	}
}

func (c *Client) send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := protocol.WriteFrame(c.conn, msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// SendControl sends a control command to the server
func (c *Client) SendControl(command protocol.ControlCommand, parameter float32) error {
	return c.send(protocol.NewControlMessage(command, parameter))
}

// RequestMetadata asks the server for the stream metadata
func (c *Client) RequestMetadata() error {
	return c.SendControl(protocol.CommandRequestMetadata, 0)
}

// SendAudio sends an audio frame to the server
func (c *Client) SendAudio(data []byte) error {
	return c.send(protocol.NewAudioMessage(data, c.sequence.Add(1)))
}

// Metadata returns the last metadata received. ok is false until the server
// has sent one.
func (c *Client) Metadata() (m protocol.Metadata, ok bool) {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	return c.metadata, c.hasMetadata
}

// LastHeartbeat returns when the server last sent a heartbeat
func (c *Client) LastHeartbeat() time.Time {
	ns := c.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Received returns the number of frames received
func (c *Client) Received() uint64 {
	return c.received.Load()
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil after Close or a clean EOF
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close disconnects and waits for the client goroutines
func (c *Client) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}
