package audio

import (
	"math"
)

// Level computes the RMS energy of a PCM-16 frame, normalized to 0..1.
// The UI level meter and the activation detector both read this value.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	// Full-scale 16-bit PCM.
	level := rms / 32768.0
	if level > 1 {
		level = 1
	}
	return level
}

// SamplesToBytes converts PCM-16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// BytesToSamples converts little-endian PCM-16 bytes to samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return out
}
