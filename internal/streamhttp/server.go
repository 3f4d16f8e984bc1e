// Package streamhttp serves the single HTTP streaming endpoint clients and
// the built-in web player pull PCM/FLAC audio from.
package streamhttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/playcast/playcast/internal/api/middleware"
	"github.com/playcast/playcast/internal/audio"
	"github.com/playcast/playcast/internal/metrics"
	"github.com/playcast/playcast/internal/mixer"
	"github.com/playcast/playcast/internal/player"
	"github.com/playcast/playcast/internal/queue"
)

// QueueLookup is the collaborator streamhttp asks for playback sources: the
// full queue for the mixer variant, or a single resolved item for the
// single-track variant.
type QueueLookup interface {
	SourceFor(playerID string) (queue.Source, bool)
	ItemByID(playerID, queueItemID string) (*queue.Item, bool)
}

// Server wires the chi router and holds the collaborators the stream
// handler needs: player directory, queue lookup, provider registry, and
// the external tool paths the audio pipeline and mixer spawn.
type Server struct {
	router chi.Router

	players    *player.Registry
	queues     QueueLookup
	providers  map[string]audio.Provider
	soxPath    string
	ffmpegPath string
	bytes      *metrics.BytesCounter
	logger     *slog.Logger
}

func New(players *player.Registry, queues QueueLookup, providers map[string]audio.Provider, soxPath, ffmpegPath string, corsOrigins []string, bytes *metrics.BytesCounter, logger *slog.Logger) *Server {
	s := &Server{
		players:    players,
		queues:     queues,
		providers:  providers,
		soxPath:    soxPath,
		ffmpegPath: ffmpegPath,
		bytes:      bytes,
		logger:     logger.With("subsystem", "streamhttp"),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(corsOrigins))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Get("/stream/{player_id}", s.handleStream)
	r.Get("/stream/{player_id}/{queue_item_id}", s.handleStream)

	s.router = r
	return s
}

func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player_id")
	ep, ok := s.players.Get(playerID)
	if !ok {
		http.Error(w, "Player not found", http.StatusNotFound)
		return
	}

	queueItemID := chi.URLParam(r, "queue_item_id")

	var item *queue.Item
	if queueItemID != "" {
		item, ok = s.queues.ItemByID(playerID, queueItemID)
		if !ok {
			http.Error(w, "Invalid Queue item Id", http.StatusNotFound)
			return
		}
	}

	w.Header().Set("Content-Type", "audio/flac")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if item != nil {
		s.streamSingleItem(ctx, w, ep, item)
		return
	}
	s.streamQueue(ctx, w, ep, playerID)
}

// streamSingleItem feeds the source pipeline directly into the FLAC
// encoder, bypassing the mixer entirely: no crossfade, no gapless join.
func (s *Server) streamSingleItem(ctx context.Context, w http.ResponseWriter, ep *player.Endpoint, item *queue.Item) {
	candidates := make([]audio.ProviderCandidate, len(item.Providers))
	for i, c := range item.Providers {
		candidates[i] = audio.ProviderCandidate{ProviderID: c.ProviderID, Quality: c.Quality}
	}
	details := audio.SelectProvider(ctx, item.ItemID, candidates, s.providers, s.logger)
	if details == nil {
		s.logger.Warn("streamhttp: no provider available for single-item stream", "item_id", item.ItemID)
		return
	}

	rate := audio.ClampSampleRate(ep.Config.MaxSampleRate)
	format := audio.Format{SampleRate: rate, BitDepth: 16, Channels: 2, Signed: true}

	sink, err := newFLACSink(s.soxPath, format, w, s.bytes)
	if err != nil {
		s.logger.Error("streamhttp: starting flac encoder", "error", err)
		return
	}
	defer sink.Close()

	opts := audio.EffectsOptions{}
	if downsample := audio.DownsampleFor(details.Quality); downsample > 0 && downsample < rate {
		opts.TargetRate = downsample
	}

	pipeline := audio.NewPipeline(*details, opts, format, s.soxPath, s.ffmpegPath, s.logger)
	chunks, err := pipeline.Run(ctx, format.FrameBytes()*rate) // ~1s chunks
	if err != nil {
		s.logger.Error("streamhttp: spawning pipeline", "error", err)
		return
	}

	s.pumpUntilDone(ctx, chunks, pipeline, sink)
}

// streamQueue runs the full crossfading mixer against the player's queue.
func (s *Server) streamQueue(ctx context.Context, w http.ResponseWriter, ep *player.Endpoint, playerID string) {
	src, ok := s.queues.SourceFor(playerID)
	if !ok {
		return
	}

	rate := audio.ClampSampleRate(ep.Config.MaxSampleRate)
	format := audio.Format{SampleRate: rate, BitDepth: 16, Channels: 2, Signed: true}

	sink, err := newFLACSink(s.soxPath, format, w, s.bytes)
	if err != nil {
		s.logger.Error("streamhttp: starting flac encoder", "error", err)
		return
	}
	defer sink.Close()

	cfg := mixer.Config{
		SampleRate: rate,
		Channels:   2,
		BitDepth:   16,
		SoxPath:    s.soxPath,
		FFmpegPath: s.ffmpegPath,
		Providers:  s.providers,
	}
	mx := mixer.New(cfg, nil, s.logger)

	go func() {
		<-ctx.Done()
		mx.Cancel()
	}()

	if err := mx.Mix(ctx, src, sink, ep.Config.MaxSampleRate); err != nil {
		s.logger.Warn("streamhttp: mix ended with error", "player_id", playerID, "error", err)
	}
}

// pumpUntilDone forwards pipeline chunks to sink, honoring cancellation by
// continuing to drain the helper's output so its process exits cleanly
// rather than blocking on a full stdout pipe after a client disconnect.
func (s *Server) pumpUntilDone(ctx context.Context, chunks <-chan audio.Chunk, pipeline *audio.Pipeline, sink *flacSink) {
	cancelled := false
	for chunk := range chunks {
		if ctx.Err() != nil && !cancelled {
			cancelled = true
			pipeline.Cancel()
		}
		if cancelled {
			continue
		}
		if _, err := sink.Write(chunk.Data); err != nil {
			cancelled = true
			pipeline.Cancel()
		}
	}
}
