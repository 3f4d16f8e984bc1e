package audio

import (
	"fmt"
	"strconv"
)

// EffectsOptions configures the sox-compatible effects chain built for one
// queue item, mirroring __get_player_sox_options in the original
// implementation.
type EffectsOptions struct {
	GainCorrectDB float64 // 0 disables the vol stage
	TargetRate    int     // 0 disables explicit resample
	ExtraEffects  []string
}

// BuildArgs assembles the argv vector for the sox-compatible effects tool.
// Stages, in order: input format spec, vol correction, rate resample,
// caller-supplied extra effect tokens. Never builds a shell string: every
// token is a separate argv element, avoiding shell-injection risk from
// user-supplied paths or extra args.
func BuildArgs(input InputSpec, out OutputSpec, opts EffectsOptions) []string {
	args := []string{}
	args = append(args, input.Args()...)
	args = append(args, out.Args()...)

	if opts.GainCorrectDB != 0 {
		args = append(args, "vol", formatDB(opts.GainCorrectDB), "dB")
	}
	if opts.TargetRate > 0 {
		args = append(args, "rate", "-v", strconv.Itoa(opts.TargetRate))
	}
	args = append(args, opts.ExtraEffects...)

	return args
}

func formatDB(db float64) string {
	return fmt.Sprintf("%.3f", db)
}

// InputSpec describes the sox `-t <fmt> -b N -c N -e signed-integer -r R
// <location>` input selector.
type InputSpec struct {
	ContentType string
	BitDepth    int
	Channels    int
	SampleRate  int
	Location    string // "-" for stdin
}

func (s InputSpec) Args() []string {
	loc := s.Location
	if loc == "" {
		loc = "-"
	}
	return []string{
		"-t", soxFormatName(s.ContentType),
		"-b", strconv.Itoa(s.BitDepth),
		"-c", strconv.Itoa(s.Channels),
		"-e", "signed-integer",
		"-r", strconv.Itoa(s.SampleRate),
		loc,
	}
}

// OutputSpec describes the output selector appended after the input and
// before effect tokens.
type OutputSpec struct {
	ContentType string
	BitDepth    int
	Channels    int
	SampleRate  int
	Location    string // "-" for stdout
}

func (s OutputSpec) Args() []string {
	loc := s.Location
	if loc == "" {
		loc = "-"
	}
	args := []string{"-t", soxFormatName(s.ContentType)}
	if s.BitDepth > 0 {
		args = append(args, "-b", strconv.Itoa(s.BitDepth))
	}
	if s.Channels > 0 {
		args = append(args, "-c", strconv.Itoa(s.Channels))
	}
	if s.ContentType != "flac" {
		args = append(args, "-e", "signed-integer")
	}
	if s.SampleRate > 0 {
		args = append(args, "-r", strconv.Itoa(s.SampleRate))
	}
	return append(args, loc)
}

// soxFormatName maps a content_type symbolic tag onto the sox -t selector.
// Raw PCM is the intermediate format used between pipeline stages.
func soxFormatName(contentType string) string {
	switch contentType {
	case "pcm-raw", "":
		return "raw"
	default:
		return contentType
	}
}
