package syncgroup

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/playcast/playcast/internal/player"
	"github.com/playcast/playcast/internal/queue"
	"github.com/playcast/playcast/internal/raop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopQueryNTP(ctx context.Context, binaryPath string) (int64, error) {
	return 42, nil
}

type emptyQueueSource struct{}

func (emptyQueueSource) StartSession() *queue.Item          { return nil }
func (emptyQueueSource) NextItem() *queue.Item              { return nil }
func (emptyQueueSource) CrossfadeEnabled() bool             { return false }
func (emptyQueueSource) CrossfadeDurationSeconds() int      { return 0 }
func (emptyQueueSource) MaxSampleRate() int                 { return 44100 }
func (emptyQueueSource) ElapsedTime() float64               { return 0 }
func (emptyQueueSource) Play()                              {}
func (emptyQueueSource) Pause()                             {}
func (emptyQueueSource) PlayPause()                         {}
func (emptyQueueSource) Stop()                              {}
func (emptyQueueSource) Skip()                              {}
func (emptyQueueSource) Previous()                           {}
func (emptyQueueSource) SetShuffle(bool)                    {}
func (emptyQueueSource) SetVolume(int)                      {}

func newTestCoordinator() (*Coordinator, *player.Registry) {
	registry := player.NewRegistry()
	registry.Add(player.NewEndpoint("leader", "10.0.0.1:5000", map[string]string{"md": "0,1", "et": "0,1"}, player.DefaultConfig()))
	registry.Add(player.NewEndpoint("member", "10.0.0.2:5000", map[string]string{"md": "0,1", "et": "0,1"}, player.DefaultConfig()))

	c := New(registry, raop.NewRegistry(), nil, "/nonexistent/cliraop", "DACPID1", noopQueryNTP, nil, testLogger())
	return c, registry
}

func TestJoinDelegatesToPlayerRegistry(t *testing.T) {
	c, registry := newTestCoordinator()

	if err := c.Join("leader", "member"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leader, _ := registry.Get("leader")
	if len(leader.Members()) != 1 || leader.Members()[0] != "member" {
		t.Fatalf("expected member to be joined to leader, got %v", leader.Members())
	}
}

func TestLeaveRemovesFromPlayerRegistry(t *testing.T) {
	c, registry := newTestCoordinator()
	if err := c.Join("leader", "member"); err != nil {
		t.Fatal(err)
	}

	c.Leave("member")

	leader, _ := registry.Get("leader")
	if len(leader.Members()) != 0 {
		t.Fatalf("expected member removed, got %v", leader.Members())
	}
}

func TestPlayMediaUnknownLeader(t *testing.T) {
	c, _ := newTestCoordinator()

	err := c.PlayMedia(context.Background(), "does-not-exist", emptyQueueSource{}, "sox", "ffmpeg")
	if err == nil {
		t.Fatal("expected an error for an unknown leader")
	}
}

func TestPlayMediaFailsWithoutAWorkingDriverBinary(t *testing.T) {
	c, _ := newTestCoordinator()

	err := c.PlayMedia(context.Background(), "leader", emptyQueueSource{}, "sox", "ffmpeg")
	if err == nil {
		t.Fatal("expected an error when no drivers can be started")
	}
	if c.ActiveSessionCount() != 0 {
		t.Fatalf("expected no sessions left active, got %d", c.ActiveSessionCount())
	}
}
