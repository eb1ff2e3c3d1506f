// ABOUTME: Control frame payload
// ABOUTME: One command byte followed by a float32 parameter
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ControlCommand is a transport control request
type ControlCommand byte

const (
	CommandStart           ControlCommand = 0x01
	CommandStop            ControlCommand = 0x02
	CommandPause           ControlCommand = 0x03
	CommandResume          ControlCommand = 0x04
	CommandSetVolume       ControlCommand = 0x05
	CommandRequestMetadata ControlCommand = 0x06
)

// ControlSize is the encoded size of a control payload
const ControlSize = 1 + 4

func (c ControlCommand) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandSetVolume:
		return "set-volume"
	case CommandRequestMetadata:
		return "request-metadata"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(c))
	}
}

// ParseCommand maps a command name to its code
func ParseCommand(name string) (ControlCommand, error) {
	for c := CommandStart; c <= CommandRequestMetadata; c++ {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownCommand)
}

// Control is a command with its parameter (the volume for CommandSetVolume)
type Control struct {
	Command   ControlCommand
	Parameter float32
}

// EncodeControl serializes c
func EncodeControl(c Control) []byte {
	buf := make([]byte, ControlSize)
	buf[0] = byte(c.Command)
	binary.LittleEndian.PutUint32(buf[1:5], math.Float32bits(c.Parameter))
	return buf
}

// DecodeControl parses a control payload
func DecodeControl(data []byte) (Control, error) {
	if len(data) < ControlSize {
		return Control{}, ErrShortBuffer
	}
	c := Control{
		Command:   ControlCommand(data[0]),
		Parameter: math.Float32frombits(binary.LittleEndian.Uint32(data[1:5])),
	}
	if c.Command < CommandStart || c.Command > CommandRequestMetadata {
		return c, fmt.Errorf("command 0x%02x: %w", data[0], ErrUnknownCommand)
	}
	return c, nil
}
