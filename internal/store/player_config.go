package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/playcast/playcast/internal/player"
)

// GetPlayerConfig returns the persisted configuration and last-known
// volume for playerID, or player.DefaultConfig()/0 if none has been saved
// yet.
func (s *Store) GetPlayerConfig(ctx context.Context, playerID string) (player.Config, int, error) {
	var cfg player.Config
	var lastVolume int
	var crossfadeEnabled, encryption, alacEncode, enabled int

	row := s.QueryRowContext(ctx, `SELECT max_sample_rate, crossfade_enabled, crossfade_duration,
		extra_audio_effects, latency_ms, encryption, alac_encode, sync_adjust_ms,
		device_password, enabled, last_volume
		FROM player_config WHERE player_id = ?`, playerID)

	err := row.Scan(&cfg.MaxSampleRate, &crossfadeEnabled, &cfg.CrossfadeDuration,
		&cfg.ExtraAudioEffects, &cfg.LatencyMs, &encryption, &alacEncode, &cfg.SyncAdjustMs,
		&cfg.DevicePassword, &enabled, &lastVolume)
	if err == sql.ErrNoRows {
		return player.DefaultConfig(), 0, nil
	}
	if err != nil {
		return player.Config{}, 0, fmt.Errorf("store: querying player config for %q: %w", playerID, err)
	}

	cfg.CrossfadeEnabled = crossfadeEnabled != 0
	cfg.Encryption = encryption != 0
	cfg.ALACEncode = alacEncode != 0
	cfg.Enabled = enabled != 0

	if s.enc != nil && cfg.DevicePassword != "" {
		plaintext, err := s.enc.Decrypt(cfg.DevicePassword)
		if err != nil {
			return player.Config{}, 0, fmt.Errorf("store: decrypting device password for %q: %w", playerID, err)
		}
		cfg.DevicePassword = plaintext
	}
	return cfg, lastVolume, nil
}

// SetPlayerConfig upserts a player's configuration and last-known volume.
func (s *Store) SetPlayerConfig(ctx context.Context, playerID string, cfg player.Config, lastVolume int) error {
	devicePassword := cfg.DevicePassword
	if s.enc != nil && devicePassword != "" {
		encrypted, err := s.enc.Encrypt(devicePassword)
		if err != nil {
			return fmt.Errorf("store: encrypting device password for %q: %w", playerID, err)
		}
		devicePassword = encrypted
	}

	_, err := s.ExecContext(ctx, `
		INSERT INTO player_config (
			player_id, max_sample_rate, crossfade_enabled, crossfade_duration,
			extra_audio_effects, latency_ms, encryption, alac_encode, sync_adjust_ms,
			device_password, enabled, last_volume, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(player_id) DO UPDATE SET
			max_sample_rate = excluded.max_sample_rate,
			crossfade_enabled = excluded.crossfade_enabled,
			crossfade_duration = excluded.crossfade_duration,
			extra_audio_effects = excluded.extra_audio_effects,
			latency_ms = excluded.latency_ms,
			encryption = excluded.encryption,
			alac_encode = excluded.alac_encode,
			sync_adjust_ms = excluded.sync_adjust_ms,
			device_password = excluded.device_password,
			enabled = excluded.enabled,
			last_volume = excluded.last_volume,
			updated_at = excluded.updated_at`,
		playerID, cfg.MaxSampleRate, boolInt(cfg.CrossfadeEnabled), cfg.CrossfadeDuration,
		cfg.ExtraAudioEffects, cfg.LatencyMs, boolInt(cfg.Encryption), boolInt(cfg.ALACEncode), cfg.SyncAdjustMs,
		devicePassword, boolInt(cfg.Enabled), lastVolume,
	)
	if err != nil {
		return fmt.Errorf("store: setting player config for %q: %w", playerID, err)
	}
	return nil
}

// SetLastVolume persists just the last-known volume for playerID, used on
// every DACP volume write-through without round-tripping the whole config.
func (s *Store) SetLastVolume(ctx context.Context, playerID string, volume int) error {
	res, err := s.ExecContext(ctx, "UPDATE player_config SET last_volume = ?, updated_at = datetime('now') WHERE player_id = ?", volume, playerID)
	if err != nil {
		return fmt.Errorf("store: updating last volume for %q: %w", playerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.SetPlayerConfig(ctx, playerID, player.DefaultConfig(), volume)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
