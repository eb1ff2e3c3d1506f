// ABOUTME: Multi-source mixing engine
// ABOUTME: Pulls a block from every enabled source, sums with gain and writes the mix to a sink
package mixer

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/resample"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/source"
	"github.com/google/uuid"
)

const (
	// MaxGain is the upper bound for a source gain
	MaxGain = 3.0

	// SilenceThreshold is the level below which a mixed block is not written
	SilenceThreshold = 0.001

	// DefaultBlockFrames is the number of frames per channel mixed per tick
	DefaultBlockFrames = 1024
)

// Config holds engine settings
type Config struct {
	Format      audio.Format // output format
	BlockFrames int
	Sink        io.Writer // receives PCM bytes in Format
	Debug       bool
}

// SourceInfo describes a registered source
type SourceInfo struct {
	ID      string
	Name    string
	Gain    float32
	Enabled bool
	Format  audio.Format
	Added   time.Time
}

// entry is one row of the source table. gain and enabled are guarded by the
// engine lock; everything else by entry.mu, which is held for the whole read.
type entry struct {
	id      string
	name    string
	format  audio.Format
	added   time.Time
	gain    float32
	enabled bool

	mu        sync.Mutex
	src       source.PcmSource
	removed   bool
	resampler *resample.Resampler
	raw       []float32
	resampled []float32
	block     []float32
}

// active is a tick's view of one entry
type active struct {
	ent  *entry
	gain float32
}

// Engine mixes any number of sources into one output stream
type Engine struct {
	format      audio.Format
	blockFrames int
	sink        io.Writer
	debug       bool

	mu      sync.Mutex
	sources map[string]*entry
	order   []*entry

	// Tick state, only touched while holding tickMu
	tickMu sync.Mutex
	actives []active
	accum   []float32

	stats counters

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an engine. Zero BlockFrames selects DefaultBlockFrames.
func New(config Config) (*Engine, error) {
	if err := config.Format.Validate(); err != nil {
		return nil, err
	}
	if config.BlockFrames <= 0 {
		config.BlockFrames = DefaultBlockFrames
	}
	if config.Sink == nil {
		config.Sink = io.Discard
	}

	return &Engine{
		format:      config.Format,
		blockFrames: config.BlockFrames,
		sink:        config.Sink,
		debug:       config.Debug,
		sources:     make(map[string]*entry),
		accum:       make([]float32, config.BlockFrames*config.Format.Channels),
		stopChan:    make(chan struct{}),
	}, nil
}

// Format returns the output format
func (e *Engine) Format() audio.Format { return e.format }

// BlockFrames returns the frames per channel mixed each tick
func (e *Engine) BlockFrames() int { return e.blockFrames }

// Period returns the real-time duration of one block
func (e *Engine) Period() time.Duration {
	return time.Duration(float64(time.Second) * float64(e.blockFrames) / float64(e.format.SampleRate))
}

// AddSource registers src and returns its id. The next tick reads from it.
func (e *Engine) AddSource(src source.PcmSource, name string, gain float32) string {
	ent := &entry{
		id:      uuid.New().String(),
		name:    name,
		format:  src.Format(),
		added:   time.Now(),
		gain:    clampGain(gain),
		enabled: true,
		src:     src,
		block:   make([]float32, e.blockFrames*e.format.Channels),
	}

	e.mu.Lock()
	e.sources[ent.id] = ent
	e.order = append(e.order, ent)
	e.mu.Unlock()

	log.Printf("Mixer: added source %s (%s, gain %.2f)", name, ent.format, ent.gain)
	return ent.id
}

// RemoveSource unregisters a source. When it returns no tick is reading from the
// source and the engine holds no reference to it. Sources implementing io.Closer
// are closed.
func (e *Engine) RemoveSource(id string) bool {
	e.mu.Lock()
	ent, ok := e.sources[id]
	if ok {
		e.unlinkLocked(ent)
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	e.release(ent)
	log.Printf("Mixer: removed source %s", ent.name)
	return true
}

// Clear removes every source
func (e *Engine) Clear() {
	e.mu.Lock()
	removed := e.order
	e.order = nil
	e.sources = make(map[string]*entry)
	e.mu.Unlock()

	for _, ent := range removed {
		e.release(ent)
	}
	if len(removed) > 0 {
		log.Printf("Mixer: cleared %d sources", len(removed))
	}
}

func (e *Engine) unlinkLocked(ent *entry) {
	delete(e.sources, ent.id)
	for i, o := range e.order {
		if o == ent {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// release waits out any in-flight read, then drops and closes the source
func (e *Engine) release(ent *entry) {
	ent.mu.Lock()
	ent.removed = true
	src := ent.src
	ent.src = nil
	ent.resampler = nil
	ent.mu.Unlock()

	if c, ok := src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("Mixer: error closing source %s: %v", ent.name, err)
		}
	}
}

// SetGain updates a source gain, clamped to [0, MaxGain]
func (e *Engine) SetGain(id string, gain float32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.sources[id]
	if !ok {
		return false
	}
	ent.gain = clampGain(gain)
	return true
}

// Gain returns a source gain
func (e *Engine) Gain(id string) (float32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.sources[id]
	if !ok {
		return 0, false
	}
	return ent.gain, true
}

// SetEnabled includes or excludes a source from the mix
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.sources[id]
	if !ok {
		return false
	}
	ent.enabled = enabled
	return true
}

// Enabled reports whether a source is mixed. Unknown ids report false.
func (e *Engine) Enabled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.sources[id]
	return ok && ent.enabled
}

// Sources returns a snapshot of the source table in insertion order
func (e *Engine) Sources() []SourceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]SourceInfo, 0, len(e.order))
	for _, ent := range e.order {
		info := SourceInfo{
			ID:      ent.id,
			Name:    ent.name,
			Gain:    ent.gain,
			Enabled: ent.enabled,
			Format:  ent.format,
			Added:   ent.added,
		}
		infos = append(infos, info)
	}
	return infos
}

// Len returns the number of registered sources
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// Tick mixes one block and writes it to the sink. It returns the number of
// samples written, which is zero when no source produced audio or the mix was
// silent.
func (e *Engine) Tick() int {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.stats.ticks.Add(1)

	// Scan the table under the lock; reads happen outside it
	e.mu.Lock()
	e.actives = e.actives[:0]
	for _, ent := range e.order {
		if ent.enabled {
			e.actives = append(e.actives, active{ent: ent, gain: ent.gain})
		}
	}
	e.mu.Unlock()

	if len(e.actives) == 0 {
		return 0
	}

	sources := len(e.actives)
	clear(e.accum)
	mixed := 0
	for _, a := range e.actives {
		n := e.mixInto(a.ent, a.gain)
		mixed = max(mixed, n)
	}
	clear(e.actives)
	e.actives = e.actives[:0]

	if mixed == 0 {
		return 0
	}

	block := e.accum[:mixed]
	if isSilent(block) {
		e.stats.silentTicks.Add(1)
		return 0
	}

	for i, s := range block {
		block[i] = audio.Clip(s)
	}

	data, err := audio.EncodePCM(block, e.format.BitDepth)
	if err != nil {
		log.Printf("Mixer: encode error: %v", err)
		return 0
	}
	if _, err := e.sink.Write(data); err != nil {
		log.Printf("Mixer: sink write error: %v", err)
		return 0
	}

	e.stats.blocks.Add(1)
	e.stats.bytes.Add(uint64(len(data)))
	e.stats.samples.Add(uint64(mixed))
	e.stats.lastMix.Store(time.Now().UnixNano())

	if e.debug && e.stats.blocks.Load()%100 == 0 {
		log.Printf("[DEBUG] Mixer: block %d, %d sources, %d samples",
			e.stats.blocks.Load(), sources, mixed)
	}

	return mixed
}

// mixInto reads one block from ent, converts it to the output format and adds
// it to the accumulator scaled by gain. It returns the samples contributed.
func (e *Engine) mixInto(ent *entry, gain float32) int {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.removed {
		return 0
	}

	n := e.readBlock(ent)
	if n == 0 || gain == 0 {
		return n
	}

	for i, s := range ent.block[:n] {
		e.accum[i] += s * gain
	}
	return n
}

// readBlock fills ent.block with up to one block in the output format
func (e *Engine) readBlock(ent *entry) int {
	srcFormat := ent.src.Format()
	srcCh := max(srcFormat.Channels, 1)
	outCh := e.format.Channels

	frames := e.blockFrames
	input := ent.raw
	if srcFormat.SampleRate != e.format.SampleRate && srcFormat.SampleRate > 0 {
		if ent.resampler == nil || ent.resampler.InputRate() != srcFormat.SampleRate {
			ent.resampler = resample.New(srcFormat.SampleRate, e.format.SampleRate, srcCh)
		}
		// Read only what one block needs from the resampler's position, so no
		// input is left over between ticks
		need := ent.resampler.InputSamplesNeeded(frames * srcCh)
		ent.raw = grow(ent.raw, need)
		n := 0
		if need > 0 {
			n = readSource(ent, ent.raw[:need], srcCh)
		}
		if n == 0 && ent.resampler.Buffered() == 0 {
			return 0
		}
		ent.resampled = grow(ent.resampled, frames*srcCh)
		n = ent.resampler.Resample(ent.raw[:n], ent.resampled[:frames*srcCh])
		input = ent.resampled[:n]
	} else {
		ent.raw = grow(ent.raw, frames*srcCh)
		n := readSource(ent, ent.raw[:frames*srcCh], srcCh)
		input = ent.raw[:n]
	}

	if len(input) == 0 {
		return 0
	}
	return audio.RemapChannels(input, srcCh, ent.block, outCh)
}

// readSource reads whole frames from the source, treating errors as no data
func readSource(ent *entry, buf []float32, channels int) int {
	n, err := ent.src.Read(buf)
	if err != nil && err != io.EOF {
		log.Printf("Mixer: source %s read error: %v", ent.name, err)
		return 0
	}
	if n < 0 || n > len(buf) {
		return 0
	}
	return n - n%channels
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

func isSilent(block []float32) bool {
	for _, s := range block {
		if s > SilenceThreshold || s < -SilenceThreshold {
			return false
		}
	}
	return true
}

func clampGain(gain float32) float32 {
	if gain < 0 || gain != gain {
		return 0
	}
	if gain > MaxGain {
		return MaxGain
	}
	return gain
}

// counters backs Stats
type counters struct {
	ticks       atomic.Uint64
	blocks      atomic.Uint64
	silentTicks atomic.Uint64
	bytes       atomic.Uint64
	samples     atomic.Uint64
	lastMix     atomic.Int64
}
