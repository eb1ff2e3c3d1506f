// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format and the float/PCM conversions shared by the pipeline
// Package audio provides the audio format type and sample utilities for soundcast.
//
// Samples travel through the pipeline as interleaved float32 values normalized to
// [-1.0, 1.0]. They are only packed into integer PCM at the edges: when the mixer
// writes to a sink, when a codec encodes a frame, and when a sound package is built.
//
// Example:
//
//	format := audio.VoiceFormat() // 16kHz mono 16-bit
//	pcm, err := audio.EncodePCM(samples, format.BitDepth)
package audio
