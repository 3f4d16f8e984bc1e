// Package audio spawns external decoder/effects processes and yields raw
// PCM chunks for one queue item at a time. It implements the source
// pipeline: decode, apply per-player effects, resample, and hand back a
// channel of fixed-size chunks terminated by exactly one short-or-empty
// "last" chunk.
package audio

import "fmt"

// Quality is an ordinal ranking of a provider's offered stream quality,
// ascending. Ranks up to the highest downsample-table boundary are named;
// providers may report any larger ordinal as higher resolution.
type Quality int

const (
	QualityLossyMP3 Quality = iota
	QualityLossyOGG
	QualityFLACLossless
	QualityFLACHiRes1 // > 48kHz class
	QualityFLACHiRes2 // > 96kHz class
	QualityFLACHiRes3 // > 192kHz class
)

// Format describes a PCM stream: sample rate, bit depth, channel count,
// and byte layout. Within a single mixer session the format is fixed for
// the session's lifetime.
type Format struct {
	SampleRate int // Hz, clamped to [44100, 384000]
	BitDepth   int // 16, 24, or 32
	Channels   int // 1 or 2
	BigEndian  bool
	Signed     bool
}

// BytesPerSample returns the number of bytes used to encode one sample on
// one channel.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// FrameBytes returns the number of bytes in one multi-channel PCM frame.
func (f Format) FrameBytes() int {
	return f.BytesPerSample() * f.Channels
}

// Validate checks the format invariants from the data model: sample rate
// in range, supported bit depth, supported channel count.
func (f Format) Validate() error {
	if f.SampleRate < 44100 || f.SampleRate > 384000 {
		return fmt.Errorf("audio: sample rate %d out of range [44100, 384000]", f.SampleRate)
	}
	switch f.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("audio: unsupported bit depth %d", f.BitDepth)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("audio: unsupported channel count %d", f.Channels)
	}
	return nil
}

// RAOPFormat is the fixed PCM format the RAOP delivery driver's stdin
// expects: 44100 Hz, 16-bit, stereo, signed little-endian.
var RAOPFormat = Format{SampleRate: 44100, BitDepth: 16, Channels: 2, Signed: true}

// DefaultSampleRate is selected when a player has no max_sample_rate
// configured or the configured value falls outside [44100, 384000].
const DefaultSampleRate = 96000

// ClampSampleRate applies the mixer's sample-rate negotiation rule from the
// spec: clamp to [44100, 384000], defaulting to 96000 when unset or out of
// range.
func ClampSampleRate(requested int) int {
	if requested < 44100 || requested > 384000 {
		return DefaultSampleRate
	}
	return requested
}

// downsampleThresholds maps a quality ordinal to the sample rate a stream
// of strictly higher quality must be clamped to; the first match wins.
var downsampleThresholds = []struct {
	above Quality
	rate  int
}{
	{QualityFLACHiRes3, 192000},
	{QualityFLACHiRes2, 96000},
	{QualityFLACHiRes1, 48000},
}

// DownsampleFor returns the sample rate a stream of the given quality must
// be clamped to, or 0 if no clamp applies.
func DownsampleFor(q Quality) int {
	for _, t := range downsampleThresholds {
		if q > t.above {
			return t.rate
		}
	}
	return 0
}

// StreamDetails is the immutable descriptor of how to obtain one track's
// audio, produced on demand by a provider and consumed once per playback.
type StreamDetails struct {
	ItemID         string
	ProviderID     string
	Quality        Quality
	ContentType    string // "flac", "wav", "aac", "mp3", "ogg", "pcm-raw", ...
	SourceKind     SourceKind
	SourceLocation string
	StreamTitle    string // set for live/radio streams
}

// SourceKind identifies how SourceLocation should be interpreted.
type SourceKind int

const (
	SourceFilePath SourceKind = iota
	SourceURL
	SourceExecutableCommand
)
