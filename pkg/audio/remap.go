// ABOUTME: Channel count conversion for interleaved samples
// ABOUTME: Mono is duplicated upward, multi-channel is averaged down to mono
package audio

// RemapChannels converts interleaved frames from inCh to outCh channels.
// Mono input is duplicated to every output channel and any input averages down to
// mono. Other combinations copy the leading channels and zero the rest.
// Returns the number of samples written to out.
func RemapChannels(in []float32, inCh int, out []float32, outCh int) int {
	if inCh <= 0 || outCh <= 0 {
		return 0
	}
	frames := len(in) / inCh
	if limit := len(out) / outCh; frames > limit {
		frames = limit
	}

	switch {
	case inCh == outCh:
		return copy(out, in[:frames*inCh])

	case inCh == 1:
		for f := 0; f < frames; f++ {
			s := in[f]
			for c := 0; c < outCh; c++ {
				out[f*outCh+c] = s
			}
		}

	case outCh == 1:
		scale := 1 / float32(inCh)
		for f := 0; f < frames; f++ {
			var sum float32
			for c := 0; c < inCh; c++ {
				sum += in[f*inCh+c]
			}
			out[f] = sum * scale
		}

	default:
		for f := 0; f < frames; f++ {
			for c := 0; c < outCh; c++ {
				if c < inCh {
					out[f*outCh+c] = in[f*inCh+c]
				} else {
					out[f*outCh+c] = 0
				}
			}
		}
	}

	return frames * outCh
}
