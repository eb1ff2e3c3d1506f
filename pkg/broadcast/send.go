// ABOUTME: Outbound loops for the UDP session
// ABOUTME: Periodic heartbeats to static targets and audio to live endpoints
package broadcast

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net/netip"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
)

func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	s.sendHeartbeats()
	for {
		select {
		case <-ticker.C:
			s.sendHeartbeats()
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

func (s *Session) sendHeartbeats() {
	if len(s.config.Targets) == 0 {
		return
	}
	data := protocol.EncodeHeartbeat(s.config.Name, protocol.Now())
	for _, t := range s.config.Targets {
		if err := s.write(data, t.Addr); err != nil {
			if s.config.Debug {
				log.Printf("[DEBUG] Heartbeat to %s failed: %v", t.Addr, err)
			}
			continue
		}
		s.stats.heartbeatsSent.Add(1)
	}
}

// SendHeartbeat sends one heartbeat to addr, for bootstrapping a peer that is
// not in the target list
func (s *Session) SendHeartbeat(addr netip.AddrPort) error {
	if s.conn == nil {
		return fmt.Errorf("session not started")
	}
	if err := s.write(protocol.EncodeHeartbeat(s.config.Name, protocol.Now()), addr); err != nil {
		return fmt.Errorf("failed to send heartbeat to %s: %w", addr, err)
	}
	s.stats.heartbeatsSent.Add(1)
	return nil
}

func (s *Session) sendLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SendInterval)
	defer ticker.Stop()

	chunk := make([]byte, s.frame)
	pcm := make([]int16, s.frame/2)
	for {
		select {
		case <-ticker.C:
			s.flush(chunk, pcm)
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

// flush sends every whole frame waiting in the outbound queue to every live
// endpoint, then ages the registry by one cycle
func (s *Session) flush(chunk []byte, pcm []int16) {
	endpoints := s.registry.Snapshot()

	for s.outbound.ReadExact(chunk) {
		if len(endpoints) == 0 {
			continue
		}

		packet, err := s.encodePackage(chunk, pcm)
		if err != nil {
			log.Printf("Failed to encode package: %v", err)
			continue
		}
		if len(packet) <= protocol.HeartbeatSize {
			// Receivers would classify it as a heartbeat
			continue
		}

		for _, ep := range endpoints {
			if err := s.write(packet, ep.Addr); err != nil {
				// Liveness decay handles endpoints that stay unreachable
				s.stats.sendErrors.Add(1)
				if s.config.Debug {
					log.Printf("[DEBUG] Send to %s (%s) failed: %v", ep.Name, ep.Addr, err)
				}
				continue
			}
			s.stats.packetsSent.Add(1)
			s.stats.bytesSent.Add(uint64(len(packet)))
		}
	}

	s.registry.DecayTick()
}

func (s *Session) encodePackage(chunk []byte, pcm []int16) ([]byte, error) {
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
	}

	payload, err := s.encoder.Encode(pcm)
	if err != nil {
		return nil, err
	}
	payload = protocol.PackPayload(payload, s.config.Compress)

	header := protocol.PackageHeader{
		Timestamp:  protocol.Now(),
		SampleRate: int32(s.config.Format.SampleRate),
		SampleBits: int32(s.config.Format.BitDepth),
		Channels:   int32(s.config.Format.Channels),
	}
	return protocol.EncodeSoundPackage(header, payload)
}

func (s *Session) write(data []byte, addr netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(data, addr)
	return err
}
