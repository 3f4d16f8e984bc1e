// Command playcastd is the playcast process entrypoint: it loads
// configuration, opens the persisted store, wires the streaming core
// (mixer, HTTP endpoint, RAOP drivers, sync coordinator, DACP control
// server, loudness analyser, metrics), and runs until an interrupt or
// terminate signal, mirroring flowpbx-flowpbx/cmd/flowpbx/main.go's
// wiring-then-signal-driven-shutdown shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playcast/playcast/internal/api/middleware"
	"github.com/playcast/playcast/internal/audio"
	"github.com/playcast/playcast/internal/config"
	"github.com/playcast/playcast/internal/dacp"
	"github.com/playcast/playcast/internal/loudness"
	"github.com/playcast/playcast/internal/metrics"
	"github.com/playcast/playcast/internal/player"
	"github.com/playcast/playcast/internal/queue"
	"github.com/playcast/playcast/internal/raop"
	"github.com/playcast/playcast/internal/store"
	"github.com/playcast/playcast/internal/streamhttp"
	"github.com/playcast/playcast/internal/syncgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting playcastd",
		"http_port", cfg.HTTPPort,
		"dacp_port_range", [2]int{cfg.DACPPortMin, cfg.DACPPortMax},
		"data_dir", cfg.DataDir,
	)

	var enc *store.Encryptor
	if keyBytes, err := cfg.EncryptionKeyBytes(); err != nil {
		slog.Error("failed to decode encryption key", "error", err)
		os.Exit(1)
	} else if keyBytes != nil {
		enc, err = store.NewEncryptor(keyBytes)
		if err != nil {
			slog.Error("failed to create encryptor", "error", err)
			os.Exit(1)
		}
		slog.Info("device password encryption enabled")
	}

	db, err := store.Open(cfg.DataDir, enc)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	players := player.NewRegistry()
	drivers := raop.NewRegistry()
	bytesCounter := &metrics.BytesCounter{}

	// Provider plugins beyond the RAOP delivery driver, and the catalogue
	// queue itself, are external collaborators — an embedding deployment
	// registers its own audio.Provider implementations and queue.Source-
	// backed catalogue against these same registries before calling
	// Coordinator.PlayMedia.
	providers := map[string]audio.Provider{}

	analyzer := loudness.New(db, cfg.SoxPath, cfg.FFmpegPath, logger)

	// dacp.Server mints its DACP id at construction time, but the sync
	// coordinator needs that id before it can start (RAOP drivers embed it
	// as -dacp at startup) while the DACP server needs the coordinator to
	// resolve inbound Active-Remote headers. SetRemotes breaks the cycle.
	dacpSrv, err := dacp.NewServer(players, nil, drivers, cfg.DACPPortMin, cfg.DACPPortMax, logger)
	if err != nil {
		slog.Error("failed to create dacp server", "error", err)
		os.Exit(1)
	}

	coordinator := syncgroup.New(players, drivers, providers, cfg.CliraopPath, dacpSrv.DACPID(), raop.QueryNTP, bytesCounter, logger)
	dacpSrv.SetRemotes(coordinator)

	if err := dacpSrv.Start(appCtx); err != nil {
		slog.Error("failed to start dacp server", "error", err)
		os.Exit(1)
	}
	defer dacpSrv.Stop()

	httpSrv := streamhttp.New(players, &noopQueueLookup{}, providers, cfg.SoxPath, cfg.FFmpegPath,
		middleware.ParseCORSOrigins(cfg.CORSOrigins), bytesCounter, logger)

	collector := metrics.NewCollector(coordinator, drivers, analyzer, bytesCounter, time.Now())
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/", httpSrv.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming responses are long-lived
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("playcastd stopped")
}

// noopQueueLookup is the default QueueLookup until an embedding catalogue
// registers real player sources; every lookup reports not-found.
type noopQueueLookup struct{}

func (noopQueueLookup) SourceFor(playerID string) (queue.Source, bool) { return nil, false }
func (noopQueueLookup) ItemByID(playerID, queueItemID string) (*queue.Item, bool) {
	return nil, false
}
