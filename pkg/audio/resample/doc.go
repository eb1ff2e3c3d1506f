// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates and keeps state
// between chunks so a continuous stream can be fed block by block.
//
// Example:
//
//	r := resample.New(44100, 16000, 2)
//	in := make([]float32, r.InputSamplesNeeded(1024*2))
//	n := r.Resample(in, out)
package resample
