package streamhttp

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/playcast/playcast/internal/audio"
	"github.com/playcast/playcast/internal/player"
	"github.com/playcast/playcast/internal/queue"
)

type fakeQueueLookup struct {
	items map[string]*queue.Item
}

func (f *fakeQueueLookup) SourceFor(playerID string) (queue.Source, bool) {
	return nil, false
}

func (f *fakeQueueLookup) ItemByID(playerID, queueItemID string) (*queue.Item, bool) {
	item, ok := f.items[queueItemID]
	return item, ok
}

func newTestServer() *Server {
	registry := player.NewRegistry()
	registry.Add(player.NewEndpoint("p1", "10.0.0.5:5000", nil, player.DefaultConfig()))

	lookup := &fakeQueueLookup{items: map[string]*queue.Item{
		"q1": {ItemID: "q1", Providers: []queue.ProviderCandidate{{ProviderID: "local", Quality: audio.QualityFLACLossless}}},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(registry, lookup, map[string]audio.Provider{}, "sox", "ffmpeg", nil, nil, logger)
}

func TestHandleStreamUnknownPlayer(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/stream/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleStreamUnknownQueueItem(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/stream/p1/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := rec.Body.String(); body == "" {
		t.Fatal("expected an error body")
	}
}
