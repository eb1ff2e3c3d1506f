package app

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/soundcast/internal/config"
	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/source"
	"github.com/Resonate-Protocol/soundcast/pkg/mixer"
	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
	"github.com/Resonate-Protocol/soundcast/pkg/tcpcast"
)

// capturePlayer records everything written to it
type capturePlayer struct {
	mu      sync.Mutex
	format  audio.Format
	opened  int
	closed  bool
	samples []float32
}

func (p *capturePlayer) Open(format audio.Format) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.format = format
	p.opened++
	return nil
}

func (p *capturePlayer) Write(samples []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, samples...)
	return nil
}

func (p *capturePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *capturePlayer) take() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.samples
	p.samples = nil
	return out
}

func (p *capturePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig(name string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Name = name
	cfg.Listen = "127.0.0.1:0"
	cfg.TCPListen = ""
	cfg.MDNS = false
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.SendInterval = 20 * time.Millisecond
	return cfg
}

func pcm16(value float32, n int) []byte {
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(audio.SampleToInt16(value)))
	}
	return data
}

func peak(samples []float32) float32 {
	var p float32
	for _, s := range samples {
		p = max(p, float32(math.Abs(float64(s))))
	}
	return p
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeRelay, "relay"},
		{ModeListen, "listen"},
		{ModeServe, "serve"},
		{ModeConnect, "connect"},
		{ModePlay, "play"},
		{Mode(42), "mode(42)"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", int(tt.mode), got, tt.want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	bad := testConfig("bad")
	bad.Codec = "mp3"
	if _, err := New(bad, Options{Mode: ModeRelay}); err == nil {
		t.Error("expected invalid config to be rejected")
	}

	if _, err := New(testConfig("play"), Options{Mode: ModePlay}); err == nil {
		t.Error("expected play without sources to be rejected")
	}

	if _, err := New(testConfig("ok"), Options{Mode: ModeServe}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOpenSource(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "clip.wav")
	if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	format := audio.VoiceFormat()
	tests := []struct {
		name     string
		spec     string
		wantErr  bool
		wantName string
	}{
		{"tone", "tone:440", false, "Test Tone (440Hz)"},
		{"tone not a number", "tone:abc", true, ""},
		{"tone above nyquist", "tone:9000", true, ""},
		{"missing file", filepath.Join(dir, "missing.mp3"), true, ""},
		{"unsupported extension", wav, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, name, err := OpenSource(tt.spec, format, false)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, name)
			}
			if src.Format() != format {
				t.Errorf("expected format %s, got %s", format, src.Format())
			}
		})
	}
}

func TestApplyControl(t *testing.T) {
	engine, err := mixer.New(mixer.Config{Format: audio.VoiceFormat(), Sink: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	a := engine.AddSource(source.NewSilence(audio.VoiceFormat()), "a", 1)
	b := engine.AddSource(source.NewSilence(audio.VoiceFormat()), "b", 1)

	applyControl(engine, protocol.Control{Command: protocol.CommandPause})
	if engine.Enabled(a) || engine.Enabled(b) {
		t.Error("expected pause to disable every source")
	}

	applyControl(engine, protocol.Control{Command: protocol.CommandResume})
	if !engine.Enabled(a) || !engine.Enabled(b) {
		t.Error("expected resume to enable every source")
	}

	applyControl(engine, protocol.Control{Command: protocol.CommandSetVolume, Parameter: 0.5})
	for _, id := range []string{a, b} {
		if g, _ := engine.Gain(id); g != 0.5 {
			t.Errorf("expected gain 0.5, got %v", g)
		}
	}

	applyControl(engine, protocol.Control{Command: protocol.CommandStop})
	if engine.Enabled(a) {
		t.Error("expected stop to disable sources")
	}
	if engine.Len() != 2 {
		t.Errorf("expected stop to keep sources, got %d", engine.Len())
	}
}

func TestPlaybackRemovesFinishedSources(t *testing.T) {
	format := audio.VoiceFormat()
	engine, err := mixer.New(mixer.Config{Format: format, BlockFrames: 160, Sink: io.Discard})
	if err != nil {
		t.Fatal(err)
	}

	p := newPlayback(engine)
	p.add(source.NewBufferFrom(format, make([]float32, 400)), "short")
	p.add(source.NewBufferFrom(format, make([]float32, 800)), "longer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	select {
	case <-p.done():
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
	}
	waitFor(t, "sources removed", func() bool { return engine.Len() == 0 })
}

func TestUplinks(t *testing.T) {
	format := audio.VoiceFormat()
	engine, err := mixer.New(mixer.Config{Format: format, Sink: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	u := newUplinks(engine, format)

	u.write("c1", 1, pcm16(0.25, 320))
	u.write("c1", 2, pcm16(0.25, 320))
	u.write("c2", 1, pcm16(0.25, 320))
	u.write("c3", 1, []byte{0x01}) // less than one sample

	if u.len() != 2 || engine.Len() != 2 {
		t.Fatalf("expected two uplink sources, got %d uplinks and %d sources", u.len(), engine.Len())
	}

	u.drop("c1")
	u.drop("unknown")
	if engine.Len() != 1 {
		t.Errorf("expected one source after drop, got %d", engine.Len())
	}
}

func TestStreamPlayer(t *testing.T) {
	out := &capturePlayer{}
	p := newStreamPlayer(out)

	// Audio before metadata is dropped
	p.write(pcm16(0.5, 100))
	if out.count() != 0 {
		t.Fatal("expected audio before metadata to be dropped")
	}

	if err := p.setFormat(protocol.Metadata{SampleRate: 0, Channels: 1, BitsPerSample: 16}); err == nil {
		t.Error("expected invalid metadata to be rejected")
	}

	mono := protocol.Metadata{SampleRate: 16000, Channels: 1, BitsPerSample: 16, ProviderName: "kitchen"}
	if err := p.setFormat(mono); err != nil {
		t.Fatalf("setFormat failed: %v", err)
	}
	if out.opened != 1 || out.format.SampleRate != 16000 {
		t.Fatalf("expected output opened at 16000 Hz, got %+v", out.format)
	}

	p.write(pcm16(0.5, 100))
	got := out.take()
	if len(got) != 100 || math.Abs(float64(peak(got)-0.5)) > 0.01 {
		t.Errorf("expected 100 samples near 0.5, got %d peaking at %v", len(got), peak(got))
	}

	p.control(protocol.Control{Command: protocol.CommandSetVolume, Parameter: 0.5})
	p.write(pcm16(0.5, 100))
	if pk := peak(out.take()); math.Abs(float64(pk-0.25)) > 0.01 {
		t.Errorf("expected volume 0.5 to halve the level, got %v", pk)
	}

	p.control(protocol.Control{Command: protocol.CommandPause})
	p.write(pcm16(0.5, 100))
	if pk := peak(out.take()); pk != 0 {
		t.Errorf("expected silence while paused, got %v", pk)
	}
	p.control(protocol.Control{Command: protocol.CommandResume})

	// A stereo stream is folded into the mono device
	stereo := protocol.Metadata{SampleRate: 16000, Channels: 2, BitsPerSample: 16}
	if err := p.setFormat(stereo); err != nil {
		t.Fatal(err)
	}
	if out.opened != 1 {
		t.Errorf("expected output to stay open, opened %d times", out.opened)
	}
	p.write(pcm16(0.5, 200))
	if got := out.take(); len(got) != 100 {
		t.Errorf("expected 100 mono samples from 200 stereo samples, got %d", len(got))
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !out.closed {
		t.Error("expected output closed")
	}
}

func TestServeNodeStreamsToClient(t *testing.T) {
	cfg := testConfig("server")
	cfg.TCPListen = "127.0.0.1:0"
	cfg.Sources = []string{"tone:440"}

	node, err := New(cfg, Options{Mode: ModeServe})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := node.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer node.Stop()

	if node.Session() != nil {
		t.Error("serve mode should not run a UDP session")
	}

	var frames atomic.Int64
	client, err := tcpcast.Dial(ctx, tcpcast.ClientConfig{
		Addr:    node.Server().Addr().String(),
		OnAudio: func(int32, []byte) { frames.Add(1) },
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	waitFor(t, "audio frames", func() bool { return frames.Load() >= 3 })

	m, ok := client.Metadata()
	if !ok {
		t.Fatal("expected metadata")
	}
	if m.SampleRate != 16000 || m.Channels != 1 || m.ProviderName != "server" {
		t.Errorf("unexpected metadata: %+v", m)
	}

	st := node.Status()
	if st.Mixer == nil || len(st.Mixer.Sources) != 1 || st.TCP == nil || st.UDP != nil {
		t.Errorf("unexpected status sections: %+v", st)
	}

	// Client control reaches the mixer
	if err := client.SendControl(protocol.CommandPause, 0); err != nil {
		t.Fatal(err)
	}
	id := st.Mixer.Sources[0].ID
	waitFor(t, "source paused", func() bool { return !node.Engine().Enabled(id) })
}

func TestConnectNodePlaysServerStream(t *testing.T) {
	serverCfg := testConfig("server")
	serverCfg.TCPListen = "127.0.0.1:0"
	serverCfg.Sources = []string{"tone:440"}

	server, err := New(serverCfg, Options{Mode: ModeServe})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	player := &capturePlayer{}
	client, err := New(testConfig("client"), Options{
		Mode:        ModeConnect,
		ConnectAddr: server.Server().Addr().String(),
		Player:      player,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Start(ctx); err != nil {
		t.Fatalf("connect Start failed: %v", err)
	}

	waitFor(t, "played audio", func() bool { return player.count() >= 1024 })
	if pk := peak(player.take()); pk < 0.4 || pk > 0.55 {
		t.Errorf("expected tone peak near 0.5, got %v", pk)
	}

	client.Stop()
	if !player.closed {
		t.Error("expected player closed on Stop")
	}
}

func TestRelayNodeReachesListener(t *testing.T) {
	relayCfg := testConfig("relay")
	relayCfg.Sources = []string{"tone:440"}

	relay, err := New(relayCfg, Options{Mode: ModeRelay})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := relay.Start(ctx); err != nil {
		t.Fatalf("relay Start failed: %v", err)
	}
	defer relay.Stop()

	listenCfg := testConfig("listener")
	listenCfg.Targets = []config.Target{{Addr: relay.Session().Addr().String()}}

	player := &capturePlayer{}
	listener, err := New(listenCfg, Options{Mode: ModeListen, Player: player})
	if err != nil {
		t.Fatal(err)
	}
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("listener Start failed: %v", err)
	}
	defer listener.Stop()

	waitFor(t, "listener registered", func() bool {
		_, ok := relay.Session().Registry().Get("listener")
		return ok
	})
	waitFor(t, "played audio", func() bool { return player.count() >= 1600 })

	if pk := peak(player.take()); pk < 0.4 || pk > 0.55 {
		t.Errorf("expected tone peak near 0.5, got %v", pk)
	}
	if relay.Server() != nil {
		t.Error("relay without tcp_listen should not run a TCP server")
	}
}
