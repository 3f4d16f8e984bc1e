// Package loudness computes EBU R128 / ITU-R BS.1770 integrated loudness
// from float samples obtained by decoding the track again through the
// source pipeline, and persists results so repeated plays skip re-analysis.
package loudness

import "math"

// biquad is a second-order IIR filter section, used for both K-weighting
// stages of BS.1770 (a high-shelf pre-filter and an RLB high-pass).
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// kWeightingFilters returns the two cascaded biquad sections of
// ITU-R BS.1770-4's K-weighting curve, coefficients from the standard's
// reference implementation at the given sample rate.
func kWeightingFilters(sampleRate int) (shelf, highpass *biquad) {
	rate := float64(sampleRate)

	// Stage 1: high-shelf (head/ear simulation).
	db := 3.999843853973347
	f0 := 1681.9743509465316
	q := 0.7071752369554196
	k := math.Tan(math.Pi * f0 / rate)
	vh := math.Pow(10.0, db/20.0)
	vb := math.Pow(vh, 0.4996667741545416)
	a0 := 1.0 + k/q + k*k
	shelf = &biquad{
		b0: (vh + vb*k/q + k*k) / a0,
		b1: 2.0 * (k*k - vh) / a0,
		b2: (vh - vb*k/q + k*k) / a0,
		a1: 2.0 * (k*k - 1.0) / a0,
		a2: (1.0 - k/q + k*k) / a0,
	}

	// Stage 2: RLB high-pass.
	f0 = 38.13547087602444
	q = 0.5003270373238773
	k = math.Tan(math.Pi * f0 / rate)
	highpass = &biquad{
		b0: 1.0,
		b1: -2.0,
		b2: 1.0,
		a1: 2.0 * (k*k - 1.0) / (1.0 + k/q + k*k),
		a2: (1.0 - k/q + k*k) / (1.0 + k/q + k*k),
	}
	return shelf, highpass
}

// absoluteGateLUFS and relativeGateOffsetDB are BS.1770-4's two-stage
// gating thresholds.
const (
	absoluteGateLUFS     = -70.0
	relativeGateOffsetDB = -10.0
	blockSeconds         = 0.4
	blockOverlap         = 0.75
)

// MeterResult is the integrated loudness measurement, in LUFS.
type MeterResult struct {
	IntegratedLUFS float64
}

// IntegratedLoudness implements ITU-R BS.1770-4's gated integrated
// loudness measurement over interleaved multi-channel float samples in
// [-1, 1]. channels must be 1 or 2; every channel is summed with weight
// 1.0 (the standard's weight for mono/left/right), and no other
// per-channel weighting is applied.
func IntegratedLoudness(samples []float64, channels, sampleRate int) MeterResult {
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	if frames == 0 {
		return MeterResult{IntegratedLUFS: math.Inf(-1)}
	}

	shelves := make([]*biquad, channels)
	highpasses := make([]*biquad, channels)
	for c := 0; c < channels; c++ {
		shelves[c], highpasses[c] = kWeightingFilters(sampleRate)
	}

	filtered := make([]float64, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			x := samples[i*channels+c]
			x = shelves[c].process(x)
			x = highpasses[c].process(x)
			filtered[i*channels+c] = x
		}
	}

	blockFrames := int(blockSeconds * float64(sampleRate))
	if blockFrames <= 0 || frames < blockFrames {
		return MeterResult{IntegratedLUFS: meanSquareLoudness(filtered, channels, 0, frames)}
	}
	step := int(float64(blockFrames) * (1.0 - blockOverlap))
	if step <= 0 {
		step = 1
	}

	var blockLoudness []float64
	for start := 0; start+blockFrames <= frames; start += step {
		blockLoudness = append(blockLoudness, meanSquareLoudness(filtered, channels, start, start+blockFrames))
	}
	if len(blockLoudness) == 0 {
		return MeterResult{IntegratedLUFS: math.Inf(-1)}
	}

	// Absolute gate: discard blocks quieter than -70 LUFS.
	var gated []float64
	for _, l := range blockLoudness {
		if l > absoluteGateLUFS {
			gated = append(gated, l)
		}
	}
	if len(gated) == 0 {
		return MeterResult{IntegratedLUFS: math.Inf(-1)}
	}

	// Relative gate: discard blocks 10 LU below the (ungated-by-relative)
	// mean of the absolute-gated set.
	mean := meanLUFS(gated)
	threshold := mean + relativeGateOffsetDB
	var final []float64
	for _, l := range gated {
		if l > threshold {
			final = append(final, l)
		}
	}
	if len(final) == 0 {
		final = gated
	}

	return MeterResult{IntegratedLUFS: meanLUFS(final)}
}

// meanSquareLoudness converts a block's mean square energy to LUFS, per
// BS.1770's -0.691 + 10*log10(mean square) formula.
func meanSquareLoudness(filtered []float64, channels, startFrame, endFrame int) float64 {
	var sum float64
	n := 0
	for i := startFrame; i < endFrame; i++ {
		for c := 0; c < channels; c++ {
			v := filtered[i*channels+c]
			sum += v * v
			n++
		}
	}
	if n == 0 {
		return math.Inf(-1)
	}
	meanSquare := sum / float64(n)
	if meanSquare <= 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10*math.Log10(meanSquare)
}

// meanLUFS averages a set of per-block LUFS values by converting back to
// linear energy, averaging, then converting back to LUFS.
func meanLUFS(blocks []float64) float64 {
	var sum float64
	for _, l := range blocks {
		sum += math.Pow(10, (l+0.691)/10)
	}
	mean := sum / float64(len(blocks))
	if mean <= 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10*math.Log10(mean)
}
