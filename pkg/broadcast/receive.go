// ABOUTME: Inbound datagram handling for the UDP session
// ABOUTME: Routes heartbeats to the registry and audio to the mixer or player
package broadcast

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/codec"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/resample"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/source"
	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
)

// stream is the decode state for one sender
type stream struct {
	format    audio.Format
	decoder   codec.Codec
	resampler *resample.Resampler
	resampled []float32
	remapped  []float32
	lastSeen  time.Time
}

func (st *stream) close() {
	if st.decoder != nil {
		st.decoder.Close()
	}
}

// injection is inbound audio from one sender playing through the mixer
type injection struct {
	buf     *source.Buffer
	tracked *source.Tracked
	id      string
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("UDP receive error: %v", err)
			continue
		}

		s.stats.packetsReceived.Add(1)
		s.stats.bytesReceived.Add(uint64(n))
		s.handleDatagram(buf[:n], netip.AddrPortFrom(from.Addr().Unmap(), from.Port()))
	}
}

// handleDatagram classifies by size: anything up to a heartbeat record is a
// heartbeat, anything larger is a sound package
func (s *Session) handleDatagram(data []byte, from netip.AddrPort) {
	if len(data) <= protocol.HeartbeatSize {
		s.handleHeartbeat(data, from)
		return
	}

	if err := s.handleAudio(data, from); err != nil {
		s.stats.decodeErrors.Add(1)
		if s.config.Debug {
			log.Printf("[DEBUG] Dropping package from %s: %v", from, err)
		}
	}
}

func (s *Session) handleHeartbeat(data []byte, from netip.AddrPort) {
	hb, err := protocol.DecodeHeartbeat(data)
	if err != nil {
		s.stats.decodeErrors.Add(1)
		if s.config.Debug {
			log.Printf("[DEBUG] Bad heartbeat from %s (%d bytes): %v", from, len(data), err)
		}
		return
	}
	s.stats.heartbeatsReceived.Add(1)

	if hb.Name == protocol.TruncateName(s.config.Name) {
		return
	}
	s.registry.OnHeartbeat(hb, from)
}

func (s *Session) handleAudio(data []byte, from netip.AddrPort) error {
	header, payload, err := protocol.DecodeSoundPackage(data)
	if err != nil {
		return err
	}
	format, err := packageFormat(header, s.config.Format.Codec)
	if err != nil {
		return err
	}
	payload, err = protocol.UnpackPayload(payload)
	if err != nil {
		return err
	}

	st, err := s.stream(from, format)
	if err != nil {
		return err
	}
	samples, err := st.decode(payload)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	audio.ApplyGain(samples, volumeFor(s.config.Targets, from))

	switch s.config.Role {
	case RoleRelay:
		s.inject(from, format, samples)
	case RoleListener:
		s.play(st, samples)
	}
	return nil
}

func packageFormat(h protocol.PackageHeader, codecName string) (audio.Format, error) {
	format := audio.Format{
		Codec:      codecName,
		SampleRate: int(h.SampleRate),
		Channels:   int(h.Channels),
		BitDepth:   int(h.SampleBits),
	}
	if h.SampleRate > 384000 || h.Channels > 8 {
		return audio.Format{}, fmt.Errorf("unsupported format %s", format)
	}
	if err := format.Validate(); err != nil {
		return audio.Format{}, err
	}
	return format, nil
}

// stream returns the decode state for a sender, replacing it when the sender
// changes format
func (s *Session) stream(from netip.AddrPort, format audio.Format) (*stream, error) {
	st, ok := s.streams[from]
	if ok && st.format == format {
		st.lastSeen = time.Now()
		return st, nil
	}
	if ok {
		st.close()
		delete(s.streams, from)
	}

	if len(s.streams) >= maxStreams {
		s.evictOldestStream()
	}

	st = &stream{format: format, lastSeen: time.Now()}
	if format.Codec == "opus" {
		frameSize := int(int64(format.SampleRate) * int64(frameDuration) / int64(time.Second))
		dec, err := codec.NewOpus(format, frameSize)
		if err != nil {
			return nil, err
		}
		st.decoder = dec
	}
	s.streams[from] = st
	return st, nil
}

func (s *Session) evictOldestStream() {
	var oldest netip.AddrPort
	var oldestSeen time.Time
	for addr, st := range s.streams {
		if oldestSeen.IsZero() || st.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen = addr, st.lastSeen
		}
	}
	if st, ok := s.streams[oldest]; ok {
		st.close()
		delete(s.streams, oldest)
	}
}

// decode turns a payload into normalized samples in the sender's format
func (st *stream) decode(payload []byte) ([]float32, error) {
	if st.decoder != nil {
		pcm, err := st.decoder.Decode(payload)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(pcm))
		audio.Int16ToFloat(pcm, out)
		return out, nil
	}

	samples, err := audio.DecodePCM(payload, st.format.BitDepth)
	if err != nil {
		return nil, err
	}
	return samples[:len(samples)-len(samples)%st.format.Channels], nil
}

// play converts samples to the player format and writes them
func (s *Session) play(st *stream, samples []float32) {
	if s.player == nil {
		return
	}
	out := s.config.Format

	if st.format.SampleRate != out.SampleRate {
		if st.resampler == nil {
			st.resampler = resample.New(st.format.SampleRate, out.SampleRate, st.format.Channels)
		}
		need := st.resampler.OutputSamplesNeeded(len(samples))
		if cap(st.resampled) < need {
			st.resampled = make([]float32, need)
		}
		n := st.resampler.Resample(samples, st.resampled[:need])
		samples = st.resampled[:n]
	}

	if st.format.Channels != out.Channels {
		need := len(samples) / st.format.Channels * out.Channels
		if cap(st.remapped) < need {
			st.remapped = make([]float32, need)
		}
		n := audio.RemapChannels(samples, st.format.Channels, st.remapped[:need], out.Channels)
		samples = st.remapped[:n]
	}

	if err := s.player.Write(samples); err != nil {
		log.Printf("Player write error: %v", err)
	}
}

// inject queues samples from a sender into the mixer. Each sender gets one
// buffered source that is removed once the mixer drains it.
func (s *Session) inject(from netip.AddrPort, format audio.Format, samples []float32) {
	if s.mixer == nil {
		return
	}

	s.injectMu.Lock()
	defer s.injectMu.Unlock()

	if inj, ok := s.injected[from]; ok && inj.buf.Format() == format {
		inj.buf.Write(samples)
		return
	}

	capacity := int(int64(format.SampleRate)*int64(InjectBuffer)/int64(time.Second)) * format.Channels
	buf := source.NewBuffer(format, capacity)
	buf.Write(samples)

	inj := &injection{buf: buf, tracked: source.NewTracked(buf)}
	inj.id = s.mixer.AddSource(inj.tracked, "udp "+from.String(), 1.0)
	s.injected[from] = inj
	s.stats.injected.Add(1)

	s.wg.Add(1)
	go s.watchInjection(from, inj)
}

func (s *Session) watchInjection(from netip.AddrPort, inj *injection) {
	defer s.wg.Done()

	select {
	case <-inj.tracked.Done():
	case <-s.stopChan:
		return
	}

	s.injectMu.Lock()
	if s.injected[from] == inj {
		delete(s.injected, from)
	}
	s.injectMu.Unlock()
	s.mixer.RemoveSource(inj.id)

	// Audio that arrived after the drained read goes out on a new source
	if n := inj.buf.Len(); n > 0 {
		left := make([]float32, n)
		got, _ := inj.buf.Read(left)
		if got > 0 {
			s.inject(from, inj.buf.Format(), left[:got])
		}
	}
}
