// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Streams interleaved float samples and carries unread frames between chunks
package resample

import "math"

// Resampler performs linear interpolation to convert between sample rates.
// It keeps the last input frame of each chunk so interpolation stays continuous
// across calls, which delays output by one input frame. Input left over when the
// output fills up is held and consumed first on the next call.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64 // input frames per output frame
	position   float64 // read position, -1 refers to lastFrame
	lastFrame  []float32
	pending    []float32 // unread input frames
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	if channels < 1 {
		channels = 1
	}
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]float32, channels),
	}
}

// InputRate returns the rate the resampler consumes
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the rate the resampler produces
func (r *Resampler) OutputRate() int { return r.outputRate }

// Resample converts input samples to the output sample rate.
// input: interleaved samples at inputRate
// output: interleaved samples at outputRate
// Input the output has no room for is kept for the next call.
func (r *Resampler) Resample(input []float32, output []float32) int {
	ch := r.channels
	input = input[:len(input)/ch*ch]
	if len(r.pending) > 0 {
		r.pending = append(r.pending, input...)
		input = r.pending
	}

	inputFrames := len(input) / ch
	outputFrames := len(output) / ch
	if inputFrames == 0 {
		return 0
	}

	outIdx := 0
	for outIdx < outputFrames {
		idx := int(math.Floor(r.position))
		if idx+1 >= inputFrames {
			break
		}

		frac := float32(r.position - float64(idx))
		for c := 0; c < ch; c++ {
			a := r.frame(input, idx, c)
			b := input[(idx+1)*ch+c]
			output[outIdx*ch+c] = a + (b-a)*frac
		}

		outIdx++
		r.position += r.ratio
	}

	next := int(math.Floor(r.position))
	if next+1 < inputFrames {
		// Output is full: hold the frames the next output still reads
		start := max(next, 0)
		r.pending = append(r.pending[:0], input[start*ch:]...)
		r.position -= float64(start)
		return outIdx * ch
	}

	// Input is used up: the last frame of this chunk becomes index -1
	copy(r.lastFrame, input[(inputFrames-1)*ch:inputFrames*ch])
	r.position -= float64(inputFrames)
	r.pending = r.pending[:0]

	return outIdx * ch
}

func (r *Resampler) frame(input []float32, idx, c int) float32 {
	if idx < 0 {
		return r.lastFrame[c]
	}
	return input[idx*r.channels+c]
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	r.pending = r.pending[:0]
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples input samples can produce
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}

// InputSamplesNeeded returns how many more input samples the next call needs to
// produce exactly outputSamples, counting from the current read position and
// the input already held. It can be zero.
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	if outputFrames == 0 {
		return 0
	}
	last := r.position + float64(outputFrames-1)*r.ratio
	inputFrames := int(math.Floor(last)) + 2 - len(r.pending)/r.channels
	return max(inputFrames, 0) * r.channels
}

// Buffered returns the input samples held for the next call
func (r *Resampler) Buffered() int {
	return len(r.pending)
}
