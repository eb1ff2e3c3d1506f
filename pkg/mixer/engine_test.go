// ABOUTME: Tests for the mixing engine
// ABOUTME: Covers gain arithmetic, clipping, silence handling, removal and scheduling
package mixer

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/source"
)

// constSource produces the same value forever
type constSource struct {
	format audio.Format
	value  float32
}

func (s *constSource) Read(samples []float32) (int, error) {
	n := len(samples) - len(samples)%s.format.Channels
	for i := 0; i < n; i++ {
		samples[i] = s.value
	}
	return n, nil
}

func (s *constSource) Format() audio.Format { return s.format }

// rampSource produces a mono ramp that rises by step each frame
type rampSource struct {
	format audio.Format
	start  float32
	step   float32
	frames int
}

func (s *rampSource) Read(samples []float32) (int, error) {
	for i := range samples {
		samples[i] = s.start + float32(s.frames)*s.step
		s.frames++
	}
	return len(samples), nil
}

func (s *rampSource) Format() audio.Format { return s.format }

// closingSource records any read made after Close
type closingSource struct {
	constSource
	closed        atomic.Bool
	readAfterDone atomic.Bool
	reads         atomic.Int64
}

func (s *closingSource) Read(samples []float32) (int, error) {
	if s.closed.Load() {
		s.readAfterDone.Store(true)
	}
	s.reads.Add(1)
	time.Sleep(100 * time.Microsecond)
	return s.constSource.Read(samples)
}

func (s *closingSource) Close() error {
	s.closed.Store(true)
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	n   int
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	return b.buf.Write(p)
}

func (b *syncBuffer) writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func int16s(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// near allows one step of float rounding difference
func near(a, b int16) bool {
	d := int(a) - int(b)
	return d >= -1 && d <= 1
}

func newEngine(t *testing.T, format audio.Format, sink *bytes.Buffer) *Engine {
	t.Helper()
	e, err := New(Config{Format: format, BlockFrames: 1024, Sink: sink})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestTickMixesConstantSources(t *testing.T) {
	format := audio.VoiceFormat()

	tests := []struct {
		name   string
		a, b   float32
		ga, gb float32
	}{
		{name: "simple sum", a: 0.25, b: 0.5, ga: 1, gb: 1},
		{name: "scaled", a: 0.4, b: -0.2, ga: 0.5, gb: 2},
		{name: "positive clip", a: 0.8, b: 0.6, ga: 1, gb: 1},
		{name: "negative clip", a: -0.6, b: -0.5, ga: 2, gb: 1},
		{name: "max gain", a: 0.5, b: 0.1, ga: 3, gb: 0},
		{name: "cancel", a: 0.3, b: -0.3, ga: 1, gb: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sink bytes.Buffer
			e := newEngine(t, format, &sink)
			e.AddSource(&constSource{format: format, value: tt.a}, "a", tt.ga)
			e.AddSource(&constSource{format: format, value: tt.b}, "b", tt.gb)

			want := audio.Clip(tt.a*tt.ga + tt.b*tt.gb)
			n := e.Tick()

			if want > -SilenceThreshold && want < SilenceThreshold {
				if n != 0 || sink.Len() != 0 {
					t.Fatalf("expected silent tick to write nothing, wrote %d bytes", sink.Len())
				}
				return
			}

			if n != 1024 {
				t.Fatalf("expected 1024 samples, got %d", n)
			}
			got := int16s(sink.Bytes())
			expected := audio.SampleToInt16(want)
			for i, s := range got {
				if !near(s, expected) {
					t.Fatalf("sample %d: expected %d, got %d", i, expected, s)
				}
			}
		})
	}
}

func TestSineAndSilence(t *testing.T) {
	format := audio.VoiceFormat()
	var sink bytes.Buffer
	e := newEngine(t, format, &sink)

	e.AddSource(source.NewTone(format, 440, 0.8), "sine", 1.0)
	e.AddSource(source.NewSilence(format), "silence", 0.5)

	if n := e.Tick(); n != 1024 {
		t.Fatalf("expected 1024 samples, got %d", n)
	}

	reference := source.NewTone(format, 440, 0.8)
	got := int16s(sink.Bytes())
	if len(got) != 1024 {
		t.Fatalf("expected 1024 output samples, got %d", len(got))
	}
	for i, s := range got {
		expected := audio.SampleToInt16(reference.ToneSample(uint64(i)))
		if s != expected {
			t.Fatalf("sample %d: expected %d, got %d", i, expected, s)
		}
	}
}

func TestEmptyTableWritesNothing(t *testing.T) {
	var sink bytes.Buffer
	e := newEngine(t, audio.VoiceFormat(), &sink)

	if n := e.Tick(); n != 0 {
		t.Errorf("expected 0 samples, got %d", n)
	}
	if sink.Len() != 0 {
		t.Errorf("expected empty sink, got %d bytes", sink.Len())
	}
	if e.Stats().Ticks != 1 {
		t.Errorf("expected 1 tick, got %d", e.Stats().Ticks)
	}
}

func TestSilentMixSkipped(t *testing.T) {
	format := audio.VoiceFormat()
	var sink bytes.Buffer
	e := newEngine(t, format, &sink)
	e.AddSource(source.NewSilence(format), "silence", 1.0)
	e.AddSource(&constSource{format: format, value: 0.0005}, "hum", 1.0)

	if n := e.Tick(); n != 0 {
		t.Errorf("expected 0 samples, got %d", n)
	}
	if sink.Len() != 0 {
		t.Errorf("expected empty sink, got %d bytes", sink.Len())
	}
	if got := e.Stats().SilentTicks; got != 1 {
		t.Errorf("expected 1 silent tick, got %d", got)
	}
}

func TestExhaustedSourceStays(t *testing.T) {
	format := audio.VoiceFormat()
	var sink bytes.Buffer
	e := newEngine(t, format, &sink)

	buf := source.NewBufferFrom(format, []float32{0.5, 0.5, 0.5, 0.5})
	id := e.AddSource(buf, "short", 1.0)

	if n := e.Tick(); n != 4 {
		t.Fatalf("expected 4 samples, got %d", n)
	}
	if n := e.Tick(); n != 0 {
		t.Fatalf("expected 0 samples from drained source, got %d", n)
	}
	if _, ok := e.Gain(id); !ok {
		t.Error("drained source should remain registered")
	}
}

func TestResampleAndRemap(t *testing.T) {
	out := audio.Format{SampleRate: 16000, Channels: 2, BitDepth: 16}
	in := audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 16}

	var sink bytes.Buffer
	e := newEngine(t, out, &sink)
	e.AddSource(&constSource{format: in, value: 0.5}, "narrowband", 1.0)

	if n := e.Tick(); n != 2048 {
		t.Fatalf("expected 2048 samples, got %d", n)
	}
	expected := audio.SampleToInt16(0.5)
	for i, s := range int16s(sink.Bytes()) {
		if s != expected {
			t.Fatalf("sample %d: expected %d, got %d", i, expected, s)
		}
	}
}

func TestResampledRampContinuousAcrossTicks(t *testing.T) {
	out := audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 32}
	const inputStep = 4e-5

	for _, rate := range []int{48000, 44100, 8000} {
		t.Run(fmt.Sprintf("%d Hz", rate), func(t *testing.T) {
			var sink bytes.Buffer
			e := newEngine(t, out, &sink)
			src := &rampSource{
				format: audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16},
				start:  -0.9,
				step:   inputStep,
			}
			e.AddSource(src, "ramp", 1.0)

			const ticks = 6
			for i := 0; i < ticks; i++ {
				if n := e.Tick(); n != 1024 {
					t.Fatalf("tick %d: expected 1024 samples, got %d", i, n)
				}
			}

			mixed, err := audio.DecodePCM(sink.Bytes(), 32)
			if err != nil {
				t.Fatalf("DecodePCM failed: %v", err)
			}
			want := inputStep * float64(rate) / float64(out.SampleRate)
			for i := 1; i < len(mixed); i++ {
				step := float64(mixed[i] - mixed[i-1])
				if math.Abs(step-want) > 1e-6 {
					t.Fatalf("output %d (tick %d): step %.7f, expected %.7f", i, i/1024, step, want)
				}
			}

			// Every input frame read is accounted for by the output position
			consumed := float64(src.frames)
			ideal := float64(ticks*1024) * float64(rate) / float64(out.SampleRate)
			if consumed > ideal+2 {
				t.Errorf("read %v input frames for %v frames of output time", consumed, ideal)
			}
		})
	}
}

func TestStereoToMono(t *testing.T) {
	out := audio.VoiceFormat()
	in := audio.Format{SampleRate: 16000, Channels: 2, BitDepth: 16}

	var sink bytes.Buffer
	e := newEngine(t, out, &sink)
	e.AddSource(source.NewBufferFrom(in, []float32{0.2, 0.6, -0.4, 0.0}), "stereo", 1.0)

	if n := e.Tick(); n != 2 {
		t.Fatalf("expected 2 samples, got %d", n)
	}
	got := int16s(sink.Bytes())
	want := []int16{audio.SampleToInt16((0.2 + 0.6) * 0.5), audio.SampleToInt16(-0.4 * 0.5)}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestGainClamping(t *testing.T) {
	format := audio.VoiceFormat()
	e := newEngine(t, format, &bytes.Buffer{})

	tests := []struct {
		name string
		gain float32
		want float32
	}{
		{name: "normal", gain: 0.7, want: 0.7},
		{name: "negative", gain: -1, want: 0},
		{name: "too loud", gain: 10, want: MaxGain},
		{name: "max", gain: MaxGain, want: MaxGain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := e.AddSource(source.NewSilence(format), tt.name, tt.gain)
			if got, _ := e.Gain(id); got != tt.want {
				t.Errorf("AddSource gain: expected %v, got %v", tt.want, got)
			}
			if !e.SetGain(id, tt.gain) {
				t.Fatal("SetGain returned false for known id")
			}
			if got, _ := e.Gain(id); got != tt.want {
				t.Errorf("SetGain: expected %v, got %v", tt.want, got)
			}
		})
	}

	if e.SetGain("missing", 1) {
		t.Error("SetGain should fail for unknown id")
	}
	if _, ok := e.Gain("missing"); ok {
		t.Error("Gain should fail for unknown id")
	}
}

func TestSetEnabled(t *testing.T) {
	format := audio.VoiceFormat()
	var sink bytes.Buffer
	e := newEngine(t, format, &sink)
	id := e.AddSource(&constSource{format: format, value: 0.5}, "a", 1)

	if !e.Enabled(id) {
		t.Fatal("new source should be enabled")
	}
	e.SetEnabled(id, false)
	if n := e.Tick(); n != 0 {
		t.Errorf("disabled source mixed %d samples", n)
	}

	stats := e.Stats()
	if stats.TotalSources != 1 || stats.ActiveSources != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}

	e.SetEnabled(id, true)
	if n := e.Tick(); n != 1024 {
		t.Errorf("expected 1024 samples after enabling, got %d", n)
	}
	if e.Enabled("missing") {
		t.Error("unknown id should not be enabled")
	}
}

func TestSourcesAndStats(t *testing.T) {
	format := audio.VoiceFormat()
	var sink bytes.Buffer
	e := newEngine(t, format, &sink)
	e.AddSource(&constSource{format: format, value: 0.1}, "first", 1)
	e.AddSource(&constSource{format: format, value: 0.1}, "second", 2)

	infos := e.Sources()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(infos))
	}
	if infos[0].Name != "first" || infos[1].Name != "second" {
		t.Errorf("unexpected order: %s, %s", infos[0].Name, infos[1].Name)
	}
	if infos[0].ID == infos[1].ID {
		t.Error("source ids should be unique")
	}

	e.Tick()
	stats := e.Stats()
	if stats.AverageGain != 1.5 {
		t.Errorf("expected average gain 1.5, got %v", stats.AverageGain)
	}
	if stats.BlocksWritten != 1 || stats.BytesWritten != 2048 || stats.SamplesMixed != 1024 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LastMix.IsZero() {
		t.Error("LastMix should be set")
	}

	e.Clear()
	if e.Len() != 0 {
		t.Errorf("expected empty table after Clear, got %d", e.Len())
	}
}

func TestRemoveSource(t *testing.T) {
	format := audio.VoiceFormat()
	var sink bytes.Buffer
	e := newEngine(t, format, &sink)

	src := &closingSource{constSource: constSource{format: format, value: 0.5}}
	id := e.AddSource(src, "closer", 1)
	e.Tick()

	if !e.RemoveSource(id) {
		t.Fatal("RemoveSource returned false for known id")
	}
	if !src.closed.Load() {
		t.Error("removed source should be closed")
	}
	if e.RemoveSource(id) {
		t.Error("second RemoveSource should return false")
	}
	if n := e.Tick(); n != 0 {
		t.Errorf("expected no output after removal, got %d", n)
	}
}

func TestRemoveDuringTicks(t *testing.T) {
	format := audio.VoiceFormat()
	e, err := New(Config{Format: format, BlockFrames: 64, Sink: &syncBuffer{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				e.Tick()
			}
		}
	}()

	sources := make([]*closingSource, 50)
	for i := range sources {
		sources[i] = &closingSource{constSource: constSource{format: format, value: 0.1}}
		id := e.AddSource(sources[i], "churn", 1)
		time.Sleep(50 * time.Microsecond)
		e.RemoveSource(id)
	}
	close(done)
	wg.Wait()

	for i, src := range sources {
		if src.readAfterDone.Load() {
			t.Errorf("source %d was read after removal", i)
		}
	}
}

func TestRunProducesBlocks(t *testing.T) {
	format := audio.VoiceFormat()
	sink := &syncBuffer{}
	e, err := New(Config{Format: format, BlockFrames: 160, Sink: sink})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if e.Period() != 10*time.Millisecond {
		t.Fatalf("expected 10ms period, got %v", e.Period())
	}
	e.AddSource(source.NewTone(format, 440, 0.5), "tone", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	e.Stop()

	if n := sink.writes(); n < 3 {
		t.Errorf("expected at least 3 blocks, got %d", n)
	}
	if e.Len() != 0 {
		t.Error("Stop should release every source")
	}

	// Stop is idempotent
	e.Stop()
}

func TestNewRejectsBadFormat(t *testing.T) {
	if _, err := New(Config{Format: audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 12}}); err == nil {
		t.Error("expected error for 12-bit output")
	}
}
