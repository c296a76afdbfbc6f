package audio

import "math"

// ClipThreshold is the absolute sample value at or above which a frame is
// reported as clipped.
const ClipThreshold = 0.99

// Levels summarises the loudness of a block of samples.
type Levels struct {
	// RMS is the root-mean-square amplitude in [0, 1].
	RMS float64

	// Peak is the largest absolute sample value in [0, 1].
	Peak float64

	// Clipped is true when any sample reached [ClipThreshold].
	Clipped bool
}

// Level computes RMS and peak amplitude of samples. NaN samples are ignored
// and out-of-range samples count as full scale.
func Level(samples []float32) Levels {
	if len(samples) == 0 {
		return Levels{}
	}
	var sum, peak float64
	n := 0
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			continue
		}
		v = math.Min(math.Abs(v), 1)
		sum += v * v
		peak = math.Max(peak, v)
		n++
	}
	if n == 0 {
		return Levels{}
	}
	return Levels{
		RMS:     math.Sqrt(sum / float64(n)),
		Peak:    peak,
		Clipped: peak >= ClipThreshold,
	}
}

// DBFS converts a linear amplitude to decibels relative to full scale.
// Silence returns -inf.
func DBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude)
}
