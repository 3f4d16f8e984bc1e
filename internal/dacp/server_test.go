package dacp

import (
	"testing"

	"github.com/playcast/playcast/internal/player"
)

func TestNewServerBindsPortInRange(t *testing.T) {
	registry := player.NewRegistry()
	s, err := NewServer(registry, &fakeResolver{}, fakeDriverLookup{}, PortRangeMin, PortRangeMax, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.listener.Close()

	port := s.Port()
	if port < PortRangeMin || port > PortRangeMax {
		t.Fatalf("expected port in [%d, %d], got %d", PortRangeMin, PortRangeMax, port)
	}
	if len(s.DACPID()) == 0 {
		t.Fatal("expected a non-empty dacp_id")
	}
}
