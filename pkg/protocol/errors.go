package protocol

import "errors"

var (
	// ErrShortBuffer is returned when a buffer is smaller than the record it should hold
	ErrShortBuffer = errors.New("protocol: short buffer")

	// ErrInvalidLength is returned when a declared length is out of range
	ErrInvalidLength = errors.New("protocol: invalid length")

	// ErrCorruptFrame is returned when a TCP frame header cannot be trusted.
	// The stream is out of sync and the connection should be closed.
	ErrCorruptFrame = errors.New("protocol: corrupt frame")

	// ErrUnknownCommand is returned for control codes outside the known set
	ErrUnknownCommand = errors.New("protocol: unknown control command")
)
