// ABOUTME: Audio codec package for the broadcast path
// ABOUTME: Fixed-frame PCM and Opus implementations behind one interface
// Package codec converts fixed-size PCM frames to packets and back.
//
// Example:
//
//	c, err := codec.New(audio.Format{Codec: "opus", SampleRate: 16000, Channels: 1, BitDepth: 16}, 320)
//	packet, err := c.Encode(frame)
//	pcm, err := c.Decode(packet)
package codec
