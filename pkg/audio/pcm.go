// ABOUTME: PCM byte packing for every supported bit depth
// ABOUTME: Converts between normalized float samples and little-endian PCM bytes
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodePCM packs normalized samples into little-endian PCM at the given bit depth.
// 8-bit output is unsigned, every other depth is signed.
func EncodePCM(samples []float32, bitDepth int) ([]byte, error) {
	width := bitDepth / 8
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}

	out := make([]byte, len(samples)*width)
	for i, s := range samples {
		s = Clip(s)
		off := i * width
		switch bitDepth {
		case 8:
			v := min(max(int(math.Round(float64(s)*128)), -128), 127)
			out[off] = byte(v + 128)
		case 16:
			binary.LittleEndian.PutUint16(out[off:], uint16(SampleToInt16(s)))
		case 24:
			b := SampleTo24Bit(s)
			copy(out[off:off+3], b[:])
		case 32:
			binary.LittleEndian.PutUint32(out[off:], uint32(int32(float64(s)*math.MaxInt32)))
		}
	}
	return out, nil
}

// DecodePCM unpacks little-endian PCM bytes into normalized samples.
// Trailing bytes that do not form a whole sample are ignored.
func DecodePCM(data []byte, bitDepth int) ([]float32, error) {
	width := bitDepth / 8
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}

	n := len(data) / width
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		off := i * width
		switch bitDepth {
		case 8:
			out[i] = (float32(data[off]) - 128) / 128
		case 16:
			out[i] = SampleFromInt16(int16(binary.LittleEndian.Uint16(data[off:])))
		case 24:
			out[i] = SampleFrom24Bit([3]byte{data[off], data[off+1], data[off+2]})
		case 32:
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(data[off:]))) / 2147483648)
		}
	}
	return out, nil
}

// Int16ToFloat converts int16 PCM to normalized samples
func Int16ToFloat(in []int16, out []float32) int {
	n := min(len(in), len(out))
	for i := 0; i < n; i++ {
		out[i] = SampleFromInt16(in[i])
	}
	return n
}

// FloatToInt16 converts normalized samples to int16 PCM
func FloatToInt16(in []float32, out []int16) int {
	n := min(len(in), len(out))
	for i := 0; i < n; i++ {
		out[i] = SampleToInt16(in[i])
	}
	return n
}

// ApplyGain scales samples in place and clamps the result
func ApplyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] = Clip(samples[i] * gain)
	}
}
