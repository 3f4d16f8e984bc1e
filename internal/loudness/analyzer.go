package loudness

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playcast/playcast/internal/audio"
)

// analysisFormat is the fixed PCM format the analyser decodes every track
// into before measuring loudness. It doesn't need to match the player's
// negotiated streaming format: only the measurement's accuracy matters, and
// BS.1770's K-weighting coefficients are recomputed for whatever rate this
// is set to.
var analysisFormat = audio.Format{SampleRate: 48000, BitDepth: 16, Channels: 2, Signed: true}

// Store persists and retrieves per-track integrated loudness, keyed by
// the (item_id, provider_id) pair. Satisfied by internal/store.
type Store interface {
	GetLoudness(ctx context.Context, itemID, providerID string) (lufs float64, found bool, err error)
	SetLoudness(ctx context.Context, itemID, providerID string, lufs float64) error
}

// Analyzer computes and caches EBU R128 integrated loudness for tracks,
// grounded on __analyze_audio in the original http_streamer.py: an
// in-flight job set prevents duplicate analysis of the same track firing
// concurrently, and already-persisted measurements short-circuit the work
// entirely.
type Analyzer struct {
	store      Store
	soxPath    string
	ffmpegPath string
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(store Store, soxPath, ffmpegPath string, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:      store,
		soxPath:    soxPath,
		ffmpegPath: ffmpegPath,
		logger:     logger.With("subsystem", "loudness"),
		inFlight:   make(map[string]struct{}),
	}
}

// InFlightCount returns the number of loudness analysis jobs currently
// running, used for the loudness-jobs-in-flight metrics gauge.
func (a *Analyzer) InFlightCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inFlight)
}

func jobKey(itemID, providerID string) string {
	return itemID + "\x00" + providerID
}

// AnalyzeAsync fires off loudness analysis for one track's StreamDetails in
// the background, off the playback path, after STREAM_ENDED. It is a
// no-op if a job for the same (item_id, provider_id) is already in
// flight; the caller does not wait for the result. Only MediaType.Track
// items should ever reach this call; radio and other live streams have
// no stable identity to cache loudness against.
func (a *Analyzer) AnalyzeAsync(ctx context.Context, details audio.StreamDetails) {
	key := jobKey(details.ItemID, details.ProviderID)

	a.mu.Lock()
	if _, busy := a.inFlight[key]; busy {
		a.mu.Unlock()
		return
	}
	a.inFlight[key] = struct{}{}
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.inFlight, key)
			a.mu.Unlock()
		}()

		if err := a.analyze(ctx, details); err != nil {
			a.logger.Warn("loudness: analysis failed", "item_id", details.ItemID, "provider", details.ProviderID, "error", err)
		}
	}()
}

func (a *Analyzer) analyze(ctx context.Context, details audio.StreamDetails) error {
	if _, found, err := a.store.GetLoudness(ctx, details.ItemID, details.ProviderID); err != nil {
		return fmt.Errorf("loudness: checking cache: %w", err)
	} else if found {
		return nil
	}

	samples, err := a.decodeToFloatSamples(ctx, details)
	if err != nil {
		return fmt.Errorf("loudness: decoding: %w", err)
	}

	result := IntegratedLoudness(samples, analysisFormat.Channels, analysisFormat.SampleRate)
	if err := a.store.SetLoudness(ctx, details.ItemID, details.ProviderID, result.IntegratedLUFS); err != nil {
		return fmt.Errorf("loudness: persisting: %w", err)
	}

	a.logger.Info("loudness: analyzed track", "item_id", details.ItemID, "provider", details.ProviderID, "lufs", result.IntegratedLUFS)
	return nil
}

// decodeToFloatSamples re-runs the source pipeline (the same decode path
// playback used) with no effects applied, and converts its raw PCM output
// into interleaved float64 samples in [-1, 1].
func (a *Analyzer) decodeToFloatSamples(ctx context.Context, details audio.StreamDetails) ([]float64, error) {
	pipeline := audio.NewPipeline(details, audio.EffectsOptions{}, analysisFormat, a.soxPath, a.ffmpegPath, a.logger)

	chunks, err := pipeline.Run(ctx, 32*1024)
	if err != nil {
		return nil, err
	}

	frameBytes := analysisFormat.FrameBytes()
	var pcm []byte
	for chunk := range chunks {
		pcm = append(pcm, chunk.Data...)
		if chunk.Last {
			break
		}
	}

	usable := len(pcm) - (len(pcm) % frameBytes)
	pcm = pcm[:usable]

	samples := make([]float64, usable/2)
	for i := 0; i < len(samples); i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float64(v) / 32768.0
	}
	return samples, nil
}
