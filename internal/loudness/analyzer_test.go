package loudness

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/playcast/playcast/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu       sync.Mutex
	values   map[string]float64
	setCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]float64)}
}

func (s *fakeStore) GetLoudness(ctx context.Context, itemID, providerID string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[jobKey(itemID, providerID)]
	return v, ok, nil
}

func (s *fakeStore) SetLoudness(ctx context.Context, itemID, providerID string, lufs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[jobKey(itemID, providerID)] = lufs
	s.setCalls++
	return nil
}

func TestAnalyzeAsyncSkipsWhenAlreadyCached(t *testing.T) {
	store := newFakeStore()
	store.values[jobKey("track-1", "provider-a")] = -14.0

	a := New(store, "sox", "ffmpeg", testLogger())
	details := audio.StreamDetails{ItemID: "track-1", ProviderID: "provider-a", ContentType: "pcm-raw", SourceLocation: "/dev/null"}

	a.AnalyzeAsync(context.Background(), details)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		_, busy := a.inFlight[jobKey("track-1", "provider-a")]
		a.mu.Unlock()
		if !busy {
			break
		}
		time.Sleep(time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.setCalls != 0 {
		t.Fatalf("expected no SetLoudness call for an already-cached track, got %d", store.setCalls)
	}
}

func TestAnalyzeAsyncCollapsesDuplicateInFlightJobs(t *testing.T) {
	store := newFakeStore()
	a := New(store, "sox", "ffmpeg", testLogger())
	details := audio.StreamDetails{ItemID: "track-2", ProviderID: "provider-a", ContentType: "pcm-raw", SourceLocation: "/dev/null"}

	key := jobKey(details.ItemID, details.ProviderID)
	a.mu.Lock()
	a.inFlight[key] = struct{}{}
	a.mu.Unlock()

	a.AnalyzeAsync(context.Background(), details)

	a.mu.Lock()
	_, stillBusy := a.inFlight[key]
	a.mu.Unlock()
	if !stillBusy {
		t.Fatalf("expected the pre-existing in-flight marker to remain untouched by a collapsed duplicate call")
	}
}

func TestJobKeyDistinguishesProviders(t *testing.T) {
	if jobKey("a", "p1") == jobKey("a", "p2") {
		t.Fatal("expected different providers for the same item to produce different keys")
	}
}
