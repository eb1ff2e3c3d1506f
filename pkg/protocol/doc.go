// ABOUTME: Soundcast wire protocol package
// ABOUTME: Fixed-layout UDP records and length-prefixed TCP frames
// Package protocol encodes and decodes the soundcast wire formats.
//
// UDP carries two records: a 40-byte heartbeat and a sound package (24-byte
// header plus up to 1024 payload bytes, optionally gzip compressed). TCP carries
// frames made of a 9-byte header (type, sequence, length) and a payload. Every
// integer is little-endian.
//
// Example:
//
//	data := protocol.EncodeHeartbeat("kitchen", time.Now().UnixMicro())
//	hb, err := protocol.DecodeHeartbeat(data)
//
//	dec := protocol.NewFrameReader(conn)
//	msg, err := dec.ReadMessage()
package protocol
