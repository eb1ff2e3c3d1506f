// ABOUTME: Real-time scheduler and statistics for the mixing engine
// ABOUTME: Ticks on a running deadline so timing does not drift
package mixer

import (
	"context"
	"log"
	"time"
)

// Stats is a snapshot of engine counters
type Stats struct {
	TotalSources  int
	ActiveSources int
	Ticks         uint64
	BlocksWritten uint64
	SilentTicks   uint64
	BytesWritten  uint64
	SamplesMixed  uint64
	AverageGain   float32 // over enabled sources
	LastMix       time.Time
}

// Stats returns current counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	total := len(e.order)
	enabled := 0
	var gainSum float32
	for _, ent := range e.order {
		if ent.enabled {
			enabled++
			gainSum += ent.gain
		}
	}
	e.mu.Unlock()

	stats := Stats{
		TotalSources:  total,
		ActiveSources: enabled,
		Ticks:         e.stats.ticks.Load(),
		BlocksWritten: e.stats.blocks.Load(),
		SilentTicks:   e.stats.silentTicks.Load(),
		BytesWritten:  e.stats.bytes.Load(),
		SamplesMixed:  e.stats.samples.Load(),
	}
	if enabled > 0 {
		stats.AverageGain = gainSum / float32(enabled)
	}
	if ns := e.stats.lastMix.Load(); ns != 0 {
		stats.LastMix = time.Unix(0, ns)
	}
	return stats
}

// Run ticks once per block period until ctx is cancelled or Stop is called.
// The next deadline advances by one period per tick; if the loop falls more than
// a period behind it resynchronises to now instead of bursting to catch up.
func (e *Engine) Run(ctx context.Context) {
	period := e.Period()
	log.Printf("Mixer starting: %s, %d frames per tick (%v)", e.format, e.blockFrames, period)

	timer := time.NewTimer(period)
	defer timer.Stop()

	next := time.Now().Add(period)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Mixer stopping")
			return
		case <-e.stopChan:
			log.Printf("Mixer stopping")
			return
		case <-timer.C:
		}

		e.Tick()

		next = next.Add(period)
		now := time.Now()
		if now.Sub(next) > period {
			if e.debug {
				log.Printf("[DEBUG] Mixer: %v behind, resynchronising", now.Sub(next))
			}
			next = now.Add(period)
		}
		timer.Reset(max(time.Until(next), 0))
	}
}

// Start runs the scheduler in the background
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Run(ctx)
	}()
}

// Stop halts the scheduler, waits for it to exit and releases every source
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	e.wg.Wait()
	e.Clear()
}
