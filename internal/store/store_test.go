package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/playcast/playcast/internal/player"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	dbPath := filepath.Join(dir, "playcast.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	var journalMode string
	if err := s.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	for _, table := range []string{"schema_migrations", "player_config", "track_loudness"} {
		var count int
		if err := s.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	s1.Close()

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	s2.Close()
}

func TestLoudnessRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, found, err := s.GetLoudness(ctx, "track-1", "provider-a"); err != nil || found {
		t.Fatalf("expected no cached loudness, found=%v err=%v", found, err)
	}

	if err := s.SetLoudness(ctx, "track-1", "provider-a", -14.2); err != nil {
		t.Fatalf("SetLoudness() error: %v", err)
	}

	lufs, found, err := s.GetLoudness(ctx, "track-1", "provider-a")
	if err != nil {
		t.Fatalf("GetLoudness() error: %v", err)
	}
	if !found || lufs != -14.2 {
		t.Fatalf("GetLoudness() = (%v, %v), want (-14.2, true)", lufs, found)
	}

	if err := s.SetLoudness(ctx, "track-1", "provider-a", -13.0); err != nil {
		t.Fatalf("SetLoudness() update error: %v", err)
	}
	lufs, _, _ = s.GetLoudness(ctx, "track-1", "provider-a")
	if lufs != -13.0 {
		t.Fatalf("expected loudness updated to -13.0, got %v", lufs)
	}
}

func TestPlayerConfigRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	cfg, volume, err := s.GetPlayerConfig(ctx, "unknown-player")
	if err != nil {
		t.Fatalf("GetPlayerConfig() error: %v", err)
	}
	if cfg != player.DefaultConfig() || volume != 0 {
		t.Fatalf("expected default config for unknown player, got %+v vol=%d", cfg, volume)
	}

	want := player.Config{
		MaxSampleRate:     192000,
		CrossfadeEnabled:  true,
		CrossfadeDuration: 8,
		LatencyMs:         1500,
		Encryption:        true,
		ALACEncode:        true,
		SyncAdjustMs:      -100,
		DevicePassword:    "secret",
		Enabled:           true,
	}
	if err := s.SetPlayerConfig(ctx, "p1", want, 75); err != nil {
		t.Fatalf("SetPlayerConfig() error: %v", err)
	}

	got, volume, err := s.GetPlayerConfig(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlayerConfig() error: %v", err)
	}
	if got != want || volume != 75 {
		t.Fatalf("GetPlayerConfig() = %+v vol=%d, want %+v vol=75", got, volume, want)
	}
}

func TestPlayerConfigDevicePasswordEncryptedAtRest(t *testing.T) {
	enc, err := NewEncryptor(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}

	dir := t.TempDir()
	s, err := Open(dir, enc)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	cfg := player.DefaultConfig()
	cfg.DevicePassword = "hunter2"
	if err := s.SetPlayerConfig(ctx, "p1", cfg, 50); err != nil {
		t.Fatalf("SetPlayerConfig() error: %v", err)
	}

	var stored string
	if err := s.QueryRow("SELECT device_password FROM player_config WHERE player_id = ?", "p1").Scan(&stored); err != nil {
		t.Fatalf("querying raw device_password: %v", err)
	}
	if stored == "hunter2" {
		t.Fatal("device_password stored in plaintext despite encryption key being configured")
	}

	got, _, err := s.GetPlayerConfig(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlayerConfig() error: %v", err)
	}
	if got.DevicePassword != "hunter2" {
		t.Fatalf("DevicePassword = %q, want %q", got.DevicePassword, "hunter2")
	}
}

func TestSetLastVolumeCreatesRowWhenMissing(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.SetLastVolume(ctx, "p2", 42); err != nil {
		t.Fatalf("SetLastVolume() error: %v", err)
	}

	_, volume, err := s.GetPlayerConfig(ctx, "p2")
	if err != nil {
		t.Fatalf("GetPlayerConfig() error: %v", err)
	}
	if volume != 42 {
		t.Fatalf("expected volume 42, got %d", volume)
	}
}
