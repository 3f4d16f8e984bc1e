package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetLoudness returns the cached integrated loudness for (item_id,
// provider_id), if already analyzed. Satisfies internal/loudness.Store.
func (s *Store) GetLoudness(ctx context.Context, itemID, providerID string) (float64, bool, error) {
	var lufs float64
	err := s.QueryRowContext(ctx,
		"SELECT lufs FROM track_loudness WHERE item_id = ? AND provider_id = ?",
		itemID, providerID,
	).Scan(&lufs)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: querying track loudness: %w", err)
	}
	return lufs, true, nil
}

// SetLoudness persists a freshly analyzed track's integrated loudness.
func (s *Store) SetLoudness(ctx context.Context, itemID, providerID string, lufs float64) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO track_loudness (item_id, provider_id, lufs, analyzed_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(item_id, provider_id) DO UPDATE SET lufs = excluded.lufs, analyzed_at = excluded.analyzed_at`,
		itemID, providerID, lufs,
	)
	if err != nil {
		return fmt.Errorf("store: setting track loudness: %w", err)
	}
	return nil
}
