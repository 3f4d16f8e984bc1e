// Package mixer concatenates queue items into one continuous,
// crossfaded/gapless PCM stream. It is a direct translation of the
// original __get_queue_stream chunk-classification logic, restructured
// in the style of flowpbx-flowpbx/internal/media/mixer.go (a stateful
// struct whose inner loop performs blocking reads on helper stdout from
// a dedicated worker goroutine).
package mixer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/playcast/playcast/internal/audio"
	"github.com/playcast/playcast/internal/events"
	"github.com/playcast/playcast/internal/queue"
)

// Sink is the abstract byte sink the mixer writes its continuous PCM (or,
// for HTTP, FLAC-encoded) output into. Implementations: the HTTP stream
// responder and the RAOP driver's stdin writer.
type Sink interface {
	Write(p []byte) (int, error)
}

// Config is the session-wide mixer configuration negotiated at start.
type Config struct {
	SampleRate        int
	Channels          int
	BitDepth          int
	CrossfadeEnabled  bool
	CrossfadeDuration int // seconds
	SoxPath           string
	FFmpegPath        string
	ScratchDir        string // preferably a memory-backed fs; see crossfade.go

	// Providers resolves an item's provider candidates to StreamDetails.
	Providers map[string]audio.Provider
}

// FadeBytes returns sample_rate * channels * bytes_per_sample *
// crossfade_duration_s: the byte length of one crossfade window.
func (c Config) FadeBytes() int {
	bytesPerSample := c.BitDepth / 8
	return c.SampleRate * c.Channels * bytesPerSample * c.CrossfadeDuration
}

func (c Config) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, BitDepth: c.BitDepth, Channels: c.Channels, Signed: true}
}

// Mixer runs one mix() invocation: reads items from a queue.Source and
// writes a continuous PCM stream to a Sink until the queue is exhausted
// or cancellation is requested.
type Mixer struct {
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger

	cancelled atomic.Bool
}

func New(cfg Config, bus *events.Bus, logger *slog.Logger) *Mixer {
	return &Mixer{cfg: cfg, bus: bus, logger: logger.With("subsystem", "mixer")}
}

// Cancel requests termination of the current mix() call. Idempotent.
func (m *Mixer) Cancel() {
	m.cancelled.Store(true)
}

func (m *Mixer) cancelledFlag() bool {
	return m.cancelled.Load()
}

// publish is a no-op when the mixer was constructed without an event bus
// (e.g. the HTTP queue stream in internal/streamhttp).
func (m *Mixer) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// Mix is the mixer's single public operation. It negotiates the session
// sample rate from playerMaxRate, then loops items from src, classifying
// each item's chunk sequence (first/middle/last/only) and writing the
// result to sink.
func (m *Mixer) Mix(ctx context.Context, src queue.Source, sink Sink, playerMaxRate int) error {
	rate := playerMaxRate
	if max := src.MaxSampleRate(); max > 0 && max < rate {
		rate = max
	}
	m.cfg.SampleRate = audio.ClampSampleRate(rate)
	m.cfg.CrossfadeEnabled = src.CrossfadeEnabled()
	m.cfg.CrossfadeDuration = src.CrossfadeDurationSeconds()
	fadeBytes := m.cfg.FadeBytes()

	st := &crossfadeState{}

	item := src.StartSession()
	for item != nil {
		if m.cancelledFlag() || ctx.Err() != nil {
			return nil
		}

		bytesWritten, err := m.streamItem(ctx, item, sink, st, fadeBytes)
		if err != nil {
			m.logger.Warn("mixer: item stream failed", "item_id", item.ItemID, "error", err)
		} else if !m.cancelledFlag() {
			m.correctDuration(item, bytesWritten)
		}

		if m.cancelledFlag() || ctx.Err() != nil {
			return nil
		}
		item = src.NextItem()
	}

	// Flush any residual pending tail at queue exhaustion.
	if len(st.pendingTail) > 0 {
		if _, err := sink.Write(st.pendingTail); err != nil {
			return fmt.Errorf("mixer: flushing residual tail: %w", err)
		}
	}

	return nil
}

func (m *Mixer) correctDuration(item *queue.Item, bytesWritten int64) {
	frame := int64(m.cfg.Format().FrameBytes())
	if frame == 0 {
		return
	}
	item.Duration = float64(bytesWritten) / float64(frame) / float64(m.cfg.SampleRate)
}

// streamItem resolves the item's provider, runs the source pipeline, and
// classifies+forwards its chunk sequence. Returns the number of PCM bytes
// written for this item (used for duration correction).
func (m *Mixer) streamItem(ctx context.Context, item *queue.Item, sink Sink, st *crossfadeState, fadeBytes int) (int64, error) {
	candidates := make([]audio.ProviderCandidate, len(item.Providers))
	for i, c := range item.Providers {
		candidates[i] = audio.ProviderCandidate{ProviderID: c.ProviderID, Quality: c.Quality}
	}

	details := audio.SelectProvider(ctx, item.ItemID, candidates, m.cfg.Providers, m.logger)
	if details == nil {
		m.logger.Warn("mixer: no provider available", "item_id", item.ItemID)
		return 0, nil
	}
	item.SetStreamDetails(details)
	m.publish(events.Event{Kind: events.StreamStarted, Details: *details})
	defer m.publish(events.Event{Kind: events.StreamEnded, Details: *details})

	opts := audio.EffectsOptions{TargetRate: m.cfg.SampleRate}
	if downsample := audio.DownsampleFor(details.Quality); downsample > 0 && downsample < m.cfg.SampleRate {
		opts.TargetRate = downsample
	}

	pipeline := audio.NewPipeline(*details, opts, m.cfg.Format(), m.cfg.SoxPath, m.cfg.FFmpegPath, m.logger)
	chunks, err := pipeline.Run(ctx, fadeBytes)
	if err != nil {
		return 0, fmt.Errorf("spawning source pipeline: %w", err)
	}

	var written int64
	i := 0
	for chunk := range chunks {
		if m.cancelledFlag() || ctx.Err() != nil {
			pipeline.Cancel()
			continue
		}
		i++

		n, err := m.classifyAndForward(i, chunk, sink, st, fadeBytes)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// classifyAndForward dispatches a decoded chunk by its role (first,
// middle, last, or the only chunk of a single-chunk item) to the
// appropriate crossfade handling.
func (m *Mixer) classifyAndForward(i int, chunk audio.Chunk, sink Sink, st *crossfadeState, fadeBytes int) (int, error) {
	hasPendingTail := len(st.pendingTail) > 0

	if chunk.Last {
		return m.handleTail(chunk.Data, sink, st, fadeBytes)
	}

	switch {
	case (i == 1 || i == 2) && !hasPendingTail:
		return writeAll(sink, chunk.Data)

	case i == 1 && hasPendingTail:
		st.prevChunk = append([]byte(nil), chunk.Data...)
		return 0, nil

	case i == 2 && hasPendingTail:
		return m.handleCrossfadeHead(chunk.Data, sink, st, fadeBytes)

	default: // middle
		n := 0
		if st.prevChunk != nil {
			written, err := writeAll(sink, st.prevChunk)
			n += written
			if err != nil {
				return n, err
			}
		}
		st.prevChunk = append([]byte(nil), chunk.Data...)
		return n, nil
	}
}

func (m *Mixer) handleCrossfadeHead(data []byte, sink Sink, st *crossfadeState, fadeBytes int) (int, error) {
	combined := append(append([]byte(nil), st.prevChunk...), data...)
	trimmed := trimLeadingSilence(combined, fadeBytes)

	fadeIn := trimmed[:fadeBytes]
	leftover := trimmed[fadeBytes:]

	mixed, err := m.crossfade(fadeIn, st.pendingTail, fadeBytes)
	if err != nil {
		return 0, fmt.Errorf("crossfade: %w", err)
	}

	n, err := writeAll(sink, mixed)
	if err != nil {
		return n, err
	}
	n2, err := writeAll(sink, leftover)
	n += n2

	st.pendingTail = nil
	st.prevChunk = nil
	return n, err
}

func (m *Mixer) handleTail(data []byte, sink Sink, st *crossfadeState, fadeBytes int) (int, error) {
	combined := append(append([]byte(nil), st.prevChunk...), data...)
	trimmed := trimTrailingSilence(combined, fadeBytes)
	st.prevChunk = nil

	if !m.cfg.CrossfadeEnabled || len(trimmed) <= fadeBytes {
		return writeAll(sink, trimmed)
	}

	forward := trimmed[:len(trimmed)-fadeBytes]
	st.pendingTail = append([]byte(nil), trimmed[len(trimmed)-fadeBytes:]...)
	return writeAll(sink, forward)
}

func writeAll(sink Sink, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	return sink.Write(data)
}

// crossfadeState is the per-session scratch state mirroring the
// original CrossfadeBuffer: pendingTail carries the previous item's
// trimmed, fade_bytes-long tail awaiting crossfade with the next item's
// head.
type crossfadeState struct {
	pendingTail []byte
	prevChunk   []byte
}
