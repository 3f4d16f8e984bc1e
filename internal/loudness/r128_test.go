package loudness

import (
	"math"
	"testing"
)

func sineWave(frames, channels, sampleRate int, freqHz, amplitude float64) []float64 {
	samples := make([]float64, frames*channels)
	for i := 0; i < frames; i++ {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		for c := 0; c < channels; c++ {
			samples[i*channels+c] = v
		}
	}
	return samples
}

func TestIntegratedLoudnessLouderSignalScoresHigher(t *testing.T) {
	const rate = 48000
	const frames = rate * 2 // 2 seconds, enough for several gating blocks

	quiet := IntegratedLoudness(sineWave(frames, 2, rate, 1000, 0.05), 2, rate)
	loud := IntegratedLoudness(sineWave(frames, 2, rate, 1000, 0.5), 2, rate)

	if !(loud.IntegratedLUFS > quiet.IntegratedLUFS) {
		t.Fatalf("expected louder signal to score higher: quiet=%.2f loud=%.2f", quiet.IntegratedLUFS, loud.IntegratedLUFS)
	}
}

func TestIntegratedLoudnessSilenceIsVeryNegative(t *testing.T) {
	const rate = 48000
	samples := make([]float64, rate*2*2)

	result := IntegratedLoudness(samples, 2, rate)
	if !math.IsInf(result.IntegratedLUFS, -1) {
		t.Fatalf("expected -Inf LUFS for digital silence, got %.2f", result.IntegratedLUFS)
	}
}

func TestIntegratedLoudnessEmptyInput(t *testing.T) {
	result := IntegratedLoudness(nil, 2, 48000)
	if !math.IsInf(result.IntegratedLUFS, -1) {
		t.Fatalf("expected -Inf LUFS for empty input, got %.2f", result.IntegratedLUFS)
	}
}

func TestIntegratedLoudnessShortClipFallsBackToWholeBuffer(t *testing.T) {
	const rate = 48000
	// Shorter than one 400ms gating block.
	samples := sineWave(rate/10, 2, rate, 1000, 0.5)

	result := IntegratedLoudness(samples, 2, rate)
	if math.IsInf(result.IntegratedLUFS, 0) {
		t.Fatalf("expected a finite measurement for a short clip, got %.2f", result.IntegratedLUFS)
	}
}
