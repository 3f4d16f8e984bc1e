package dacp

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/playcast/playcast/internal/player"
	"github.com/playcast/playcast/internal/queue"
	"github.com/playcast/playcast/internal/raop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	played, paused, playPaused, stopped, skipped, previous bool
	shuffle                                                 *bool
}

func (f *fakeSource) StartSession() *queue.Item        { return nil }
func (f *fakeSource) NextItem() *queue.Item            { return nil }
func (f *fakeSource) CrossfadeEnabled() bool           { return false }
func (f *fakeSource) CrossfadeDurationSeconds() int    { return 0 }
func (f *fakeSource) MaxSampleRate() int               { return 44100 }
func (f *fakeSource) ElapsedTime() float64             { return 0 }
func (f *fakeSource) Play()                            { f.played = true }
func (f *fakeSource) Pause()                           { f.paused = true }
func (f *fakeSource) PlayPause()                       { f.playPaused = true }
func (f *fakeSource) Stop()                            { f.stopped = true }
func (f *fakeSource) Skip()                            { f.skipped = true }
func (f *fakeSource) Previous()                        { f.previous = true }
func (f *fakeSource) SetShuffle(v bool)                { f.shuffle = &v }
func (f *fakeSource) SetVolume(int)                    {}

type fakeResolver struct {
	playerID string
	src      queue.Source
}

func (r *fakeResolver) ResolveActiveRemote(activeRemoteID string) (string, queue.Source, bool) {
	if activeRemoteID == "" {
		return "", nil, false
	}
	return r.playerID, r.src, true
}

type fakeDriverLookup struct{}

func (fakeDriverLookup) Get(string) (*raop.Driver, bool) { return nil, false }

func newTestServerFixture() (*Server, *fakeSource) {
	registry := player.NewRegistry()
	registry.Add(player.NewEndpoint("p1", "10.0.0.1:5000", nil, player.DefaultConfig()))

	src := &fakeSource{}
	s := &Server{
		players: registry,
		remotes: &fakeResolver{playerID: "p1", src: src},
		drivers: fakeDriverLookup{},
		logger:  testLogger(),
	}
	return s, src
}

func TestDispatchNextItemCallsSkip(t *testing.T) {
	s, src := newTestServerFixture()
	s.dispatch("12345", "/ctrl-int/1/nextitem")
	if !src.skipped {
		t.Fatal("expected Skip to be called")
	}
}

func TestDispatchPlayPause(t *testing.T) {
	s, src := newTestServerFixture()
	s.dispatch("12345", "/ctrl-int/1/playpause")
	if !src.playPaused {
		t.Fatal("expected PlayPause to be called")
	}
}

func TestDispatchDiscretePauseMapsToPause(t *testing.T) {
	s, src := newTestServerFixture()
	s.dispatch("12345", "/ctrl-int/1/discrete-pause")
	if !src.paused {
		t.Fatal("expected discrete-pause to map to Pause")
	}
}

func TestDispatchUnknownActiveRemoteIsIgnored(t *testing.T) {
	s, src := newTestServerFixture()
	s.dispatch("", "/ctrl-int/1/play")
	if src.played {
		t.Fatal("expected no dispatch for an unresolvable active-remote")
	}
}

func TestDispatchDeviceVolumeDebounce(t *testing.T) {
	s, _ := newTestServerFixture()
	ep, _ := s.players.Get("p1")
	ep.SetVolume(50)

	// dmcp.device-volume is in dB [-30, 0]; -15dB maps to 50, a no-op.
	s.dispatch("12345", "/ctrl-int/1/setproperty?dmcp.device-volume=-15.0")
	if ep.Volume() != 50 {
		t.Fatalf("expected debounced volume to stay at 50, got %d", ep.Volume())
	}

	// 0dB maps to 100, well past the debounce threshold.
	s.dispatch("12345", "/ctrl-int/1/setproperty?dmcp.device-volume=0.0")
	if ep.Volume() != 100 {
		t.Fatalf("expected volume to update to 100, got %d", ep.Volume())
	}
}

func TestConvertAirplayVolumeBounds(t *testing.T) {
	cases := map[float64]int{-40: 0, -30: 0, 0: 100, 10: 100}
	for in, want := range cases {
		if got := convertAirplayVolume(in); got != want {
			t.Fatalf("convertAirplayVolume(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestResponse204Shape(t *testing.T) {
	r := response204()
	if !strings.HasPrefix(r, "HTTP/1.0 204 No Content\r\n") {
		t.Fatalf("unexpected status line: %q", r)
	}
	for _, want := range []string{"DAAP-Server: iTunes/7.6.2", "Content-Type: application/x-dmap-tagged", "Content-Length: 0", "Connection: close"} {
		if !strings.Contains(r, want) {
			t.Fatalf("response missing %q: %q", want, r)
		}
	}
}
