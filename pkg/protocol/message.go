// ABOUTME: Constructors for TCP messages
// ABOUTME: Wrap typed payloads into frames ready for EncodeFrame
package protocol

import "time"

// NewAudioMessage wraps audio bytes
func NewAudioMessage(data []byte, sequence int32) Message {
	return Message{Type: MessageAudio, Sequence: sequence, Payload: data}
}

// NewControlMessage wraps a control command
func NewControlMessage(command ControlCommand, parameter float32) Message {
	return Message{
		Type:    MessageControl,
		Payload: EncodeControl(Control{Command: command, Parameter: parameter}),
	}
}

// NewMetadataMessage wraps stream metadata
func NewMetadataMessage(m Metadata) Message {
	return Message{Type: MessageMetadata, Payload: EncodeMetadata(m)}
}

// NewHeartbeatMessage creates an empty heartbeat frame
func NewHeartbeatMessage() Message {
	return Message{Type: MessageHeartbeat}
}

// Now returns the wire timestamp for the current time
func Now() int64 {
	return time.Now().UnixMicro()
}
