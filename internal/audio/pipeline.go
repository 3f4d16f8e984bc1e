package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"
)

// Chunk is one slice of a source pipeline's PCM output. The producer emits
// exactly one Chunk with Last=true, which may carry fewer than the
// requested chunk size (including zero).
type Chunk struct {
	Data []byte
	Last bool
}

// Provider resolves a provider candidate to concrete StreamDetails, or
// returns (nil, nil) if the provider has nothing playable for the item
// (e.g. not currently registered). A non-nil error is a hard failure.
type Provider interface {
	ID() string
	Resolve(ctx context.Context, itemID string, candidate ProviderCandidate) (*StreamDetails, error)
}

// ProviderCandidate mirrors queue.ProviderCandidate without importing the
// queue package, which would create a cycle (queue imports audio for
// StreamDetails already).
type ProviderCandidate struct {
	ProviderID string
	Quality    Quality
}

// SelectProvider iterates candidates in the order given (the caller is
// responsible for descending-quality ordering) and returns the first
// StreamDetails a registered provider resolves. Returns nil if none
// succeed, matching the "NoProviderAvailable" failure surface: an empty
// terminal chunk, not an error.
func SelectProvider(ctx context.Context, itemID string, candidates []ProviderCandidate, providers map[string]Provider, logger *slog.Logger) *StreamDetails {
	for _, c := range candidates {
		p, ok := providers[c.ProviderID]
		if !ok {
			continue
		}
		details, err := p.Resolve(ctx, itemID, c)
		if err != nil {
			logger.Warn("audio: provider resolve failed", "provider", c.ProviderID, "item_id", itemID, "error", err)
			continue
		}
		if details != nil {
			return details
		}
	}
	return nil
}

// Pipeline spawns the external decoder+effects chain for one queue item and
// yields PCM chunks in the target format.
type Pipeline struct {
	details    StreamDetails
	opts       EffectsOptions
	target     Format
	soxPath    string
	ffmpegPath string
	logger     *slog.Logger

	cancelled atomic.Bool
}

// NewPipeline creates a pipeline for the given resolved StreamDetails.
func NewPipeline(details StreamDetails, opts EffectsOptions, target Format, soxPath, ffmpegPath string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		details:    details,
		opts:       opts,
		target:     target,
		soxPath:    soxPath,
		ffmpegPath: ffmpegPath,
		logger:     logger.With("subsystem", "audio-pipeline", "item_id", details.ItemID),
	}
}

// Cancel signals the pipeline to terminate its helper process and drain
// its remaining output into the terminal chunk, rather than blocking
// indefinitely.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
}

// Run spawns the effects-tool chain and returns a channel of PCM chunks.
// The channel is closed after the terminal chunk is sent. Run never
// blocks; all subprocess I/O happens on an internal goroutine.
func (p *Pipeline) Run(ctx context.Context, chunkSize int) (<-chan Chunk, error) {
	cmd, stdout, err := p.spawn(ctx)
	if err != nil {
		return nil, fmt.Errorf("audio: spawning pipeline: %w", err)
	}

	out := make(chan Chunk, 2)
	go p.pump(cmd, stdout, chunkSize, out)
	return out, nil
}

// spawn builds and starts the argv-vector subprocess chain. AAC content
// takes a two-stage route through ffmpeg (normalise to a lossless
// intermediate) piped into the sox-compatible effects tool; everything
// else goes straight to the effects tool.
func (p *Pipeline) spawn(ctx context.Context) (*exec.Cmd, io.ReadCloser, error) {
	input := InputSpec{
		ContentType: p.details.ContentType,
		BitDepth:    p.target.BitDepth,
		Channels:    p.target.Channels,
		SampleRate:  p.target.SampleRate,
		Location:    p.sourceLocation(),
	}
	output := OutputSpec{
		ContentType: "pcm-raw",
		BitDepth:    p.target.BitDepth,
		Channels:    p.target.Channels,
		SampleRate:  p.target.SampleRate,
		Location:    "-",
	}

	if p.details.ContentType == "aac" {
		return p.spawnAACChain(ctx, output)
	}

	if p.details.SourceKind == SourceExecutableCommand {
		return p.spawnExecutableChain(ctx, input, output)
	}

	args := BuildArgs(input, output, p.opts)
	cmd := exec.CommandContext(ctx, p.soxPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return cmd, stdout, nil
}

// spawnExecutableChain runs the item's source_location as a shell-free
// argv-vector command (split on whitespace; playcast never interpolates
// this into a shell string) and pipes its stdout into the effects tool's
// stdin, for the executable_command source kind.
func (p *Pipeline) spawnExecutableChain(ctx context.Context, input InputSpec, output OutputSpec) (*exec.Cmd, io.ReadCloser, error) {
	argv, err := splitCommand(p.sourceLocation())
	if err != nil {
		return nil, nil, fmt.Errorf("audio: parsing executable_command: %w", err)
	}
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("audio: empty executable_command")
	}

	srcCmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	srcOut, err := srcCmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	input.Location = "-"
	args := BuildArgs(input, output, p.opts)
	soxCmd := exec.CommandContext(ctx, p.soxPath, args...)
	soxCmd.Stdin = srcOut
	soxOut, err := soxCmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	if err := srcCmd.Start(); err != nil {
		return nil, nil, err
	}
	if err := soxCmd.Start(); err != nil {
		_ = srcCmd.Process.Kill()
		return nil, nil, err
	}

	return soxCmd, soxOut, nil
}

// spawnAACChain normalises AAC input through ffmpeg to a lossless
// intermediate (WAV on stdout) before the sox-compatible effects chain,
// mirroring the original's special-cased AAC route.
func (p *Pipeline) spawnAACChain(ctx context.Context, output OutputSpec) (*exec.Cmd, io.ReadCloser, error) {
	ffArgs := []string{"-i", p.sourceLocation(), "-f", "wav", "-"}
	ffCmd := exec.CommandContext(ctx, p.ffmpegPath, ffArgs...)
	ffOut, err := ffCmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	soxInput := InputSpec{ContentType: "wav", BitDepth: p.target.BitDepth, Channels: p.target.Channels, SampleRate: p.target.SampleRate, Location: "-"}
	soxArgs := BuildArgs(soxInput, output, p.opts)
	soxCmd := exec.CommandContext(ctx, p.soxPath, soxArgs...)
	soxCmd.Stdin = ffOut
	soxOut, err := soxCmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	if err := ffCmd.Start(); err != nil {
		return nil, nil, err
	}
	if err := soxCmd.Start(); err != nil {
		_ = ffCmd.Process.Kill()
		return nil, nil, err
	}

	return soxCmd, soxOut, nil
}

func (p *Pipeline) sourceLocation() string {
	return p.details.SourceLocation
}

// pump reads fixed-size blocks from stdout, classifying any short read as
// the terminal chunk. When Cancel has been called, it terminates the
// process and drains remaining output into the terminal chunk rather than
// leaving it to block.
func (p *Pipeline) pump(cmd *exec.Cmd, stdout io.ReadCloser, chunkSize int, out chan<- Chunk) {
	defer close(out)
	defer func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Debug("audio: helper process exited", "error", err)
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		if p.cancelled.Load() {
			_ = cmd.Process.Kill()
			drained, _ := io.ReadAll(stdout)
			out <- Chunk{Data: drained, Last: true}
			return
		}

		n, err := io.ReadFull(stdout, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			p.logger.Warn("audio: read error", "error", err)
			out <- Chunk{Data: buf[:n], Last: true}
			return
		}
		if n < chunkSize {
			out <- Chunk{Data: append([]byte(nil), buf[:n]...), Last: true}
			return
		}
		out <- Chunk{Data: append([]byte(nil), buf[:n]...), Last: false}
	}
}
