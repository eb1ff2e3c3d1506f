// ABOUTME: TCP message framing
// ABOUTME: 9-byte header (type, sequence, length) and a streaming frame parser
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType identifies a TCP frame payload
type MessageType byte

const (
	MessageAudio     MessageType = 0x01
	MessageMetadata  MessageType = 0x02
	MessageControl   MessageType = 0x03
	MessageHeartbeat MessageType = 0x04
)

const (
	// FrameHeaderSize is the encoded size of a frame header
	FrameHeaderSize = 1 + 4 + 4

	// MaxFrameLength bounds a frame payload
	MaxFrameLength = 1 << 20
)

func (t MessageType) String() string {
	switch t {
	case MessageAudio:
		return "audio"
	case MessageMetadata:
		return "metadata"
	case MessageControl:
		return "control"
	case MessageHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Message is one TCP frame
type Message struct {
	Type     MessageType
	Sequence int32
	Payload  []byte
}

// EncodeFrame serializes m
func EncodeFrame(m Message) []byte {
	buf := make([]byte, FrameHeaderSize+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(m.Sequence))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(m.Payload)))
	copy(buf[FrameHeaderSize:], m.Payload)
	return buf
}

// WriteFrame encodes m and writes it to w in one call
func WriteFrame(w io.Writer, m Message) error {
	if len(m.Payload) > MaxFrameLength {
		return fmt.Errorf("payload of %d bytes: %w", len(m.Payload), ErrInvalidLength)
	}
	_, err := w.Write(EncodeFrame(m))
	return err
}

// FrameDecoder reassembles frames from arbitrarily split input. Feed bytes with
// Write and collect complete messages with Next.
type FrameDecoder struct {
	buf   []byte
	start int
}

// Write buffers p. It never fails.
func (d *FrameDecoder) Write(p []byte) (int, error) {
	if d.start > 0 && d.start == len(d.buf) {
		d.buf = d.buf[:0]
		d.start = 0
	} else if d.start > 0 && d.start >= cap(d.buf)/2 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.start = 0
	}
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for a complete frame
func (d *FrameDecoder) Buffered() int {
	return len(d.buf) - d.start
}

// Next returns the next complete message. ok is false when more input is needed.
// ErrCorruptFrame means the header declared an impossible length; the decoder is
// unusable afterwards.
func (d *FrameDecoder) Next() (msg Message, ok bool, err error) {
	pending := d.buf[d.start:]
	if len(pending) < FrameHeaderSize {
		return Message{}, false, nil
	}

	length := int32(binary.LittleEndian.Uint32(pending[5:9]))
	if length < 0 || length > MaxFrameLength {
		return Message{}, false, fmt.Errorf("frame length %d: %w", length, ErrCorruptFrame)
	}

	total := FrameHeaderSize + int(length)
	if len(pending) < total {
		return Message{}, false, nil
	}

	msg = Message{
		Type:     MessageType(pending[0]),
		Sequence: int32(binary.LittleEndian.Uint32(pending[1:5])),
		Payload:  make([]byte, length),
	}
	copy(msg.Payload, pending[FrameHeaderSize:total])
	d.start += total
	return msg, true, nil
}

// FrameReader pulls frames from a stream
type FrameReader struct {
	r   io.Reader
	dec FrameDecoder
	buf []byte
	err error // read error held until buffered frames are consumed
}

// NewFrameReader creates a reader over r
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:   r,
		buf: make([]byte, 8192),
	}
}

// ReadMessage blocks until a complete message arrives. A stream that ends in
// the middle of a frame returns io.ErrUnexpectedEOF.
func (fr *FrameReader) ReadMessage() (Message, error) {
	for {
		msg, ok, err := fr.dec.Next()
		if err != nil {
			return Message{}, err
		}
		if ok {
			return msg, nil
		}

		if fr.err != nil {
			if errors.Is(fr.err, io.EOF) && fr.dec.Buffered() > 0 {
				return Message{}, io.ErrUnexpectedEOF
			}
			return Message{}, fr.err
		}

		n, err := fr.r.Read(fr.buf)
		if n > 0 {
			fr.dec.Write(fr.buf[:n])
		}
		if err != nil {
			fr.err = err
		}
	}
}
