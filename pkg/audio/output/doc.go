// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Output interface, the oto backend and the discard-oldest ring
// Package output provides audio sinks.
//
// Ring is the buffer every sink is built on: producers never block, and when the
// consumer falls behind the oldest frames are dropped. Oto plays a ring through the
// system audio device.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(audio.VoiceFormat())
//	err = out.Write(samples)
package output
