// Package session models one live playback: the shared PCM format, the
// NTP checksum used for delivery-driver orphan detection, and the
// per-endpoint driver map the group coordinator and mixer fan out
// through.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/playcast/playcast/internal/audio"
)

// Driver is the subset of the RAOP delivery driver (or any other
// delivery-driver implementation) the session needs to fan PCM out to.
// Defined here, implemented in package raop, to avoid a cyclic import
// between session and raop — session owns drivers, drivers never own
// sessions.
type Driver interface {
	// StartNTP returns the NTP checksum this driver was started with.
	StartNTP() int64
	// WriteChunk forwards PCM bytes to the driver. Must be a no-op once
	// the underlying process has exited.
	WriteChunk(data []byte) error
	// WriteEOF signals end of stream and waits for the driver to settle.
	WriteEOF() error
	// Stop tears the driver down.
	Stop()
}

// Session is one live playback: a leader endpoint, an NTP checksum shared
// by every delivery driver, and the PCM format negotiated for its
// lifetime. Every delivery driver's start_ntp must equal the session's; a
// driver whose stamp differs is orphaned and ignored by fan-out.
type Session struct {
	ID       string
	LeaderID string
	StartNTP int64
	Format   audio.Format

	mu        sync.RWMutex
	drivers   map[string]Driver // player_id -> driver
	cancelled atomic.Bool
}

// New creates a session for leaderID with the given PCM format and NTP
// checksum. The format must already satisfy audio.Format.Validate.
func New(leaderID string, format audio.Format, startNTP int64) *Session {
	return &Session{
		ID:       uuid.NewString(),
		LeaderID: leaderID,
		StartNTP: startNTP,
		Format:   format,
		drivers:  make(map[string]Driver),
	}
}

// AddDriver registers a delivery driver for playerID. Rejects drivers
// whose StartNTP does not match the session's, since such a driver is
// orphaned by definition and must never enter the fan-out set.
func (s *Session) AddDriver(playerID string, d Driver) error {
	if d.StartNTP() != s.StartNTP {
		return errOrphanedDriver(playerID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[playerID] = d
	return nil
}

// RemoveDriver drops playerID's driver from the fan-out set without
// stopping it; callers that want the driver stopped should call Stop on
// it directly before or after removal.
func (s *Session) RemoveDriver(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drivers, playerID)
}

// LiveDrivers returns the drivers currently eligible for fan-out: those
// whose StartNTP still matches the session's. A driver that has drifted
// (e.g. restarted with a new checksum) is dropped from the returned set
// but left in the registry for the caller to decide whether to remove.
func (s *Session) LiveDrivers() map[string]Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make(map[string]Driver, len(s.drivers))
	for id, d := range s.drivers {
		if d.StartNTP() == s.StartNTP {
			live[id] = d
		}
	}
	return live
}

// DriverCount returns the number of drivers currently registered,
// regardless of orphan status.
func (s *Session) DriverCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drivers)
}

// Cancel marks the session cancelled. Idempotent.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// StopAll stops every registered driver and clears the fan-out set.
func (s *Session) StopAll() {
	s.mu.Lock()
	drivers := make([]Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		drivers = append(drivers, d)
	}
	s.drivers = make(map[string]Driver)
	s.mu.Unlock()

	for _, d := range drivers {
		d.Stop()
	}
}

type orphanedDriverError struct{ playerID string }

func (e *orphanedDriverError) Error() string {
	return "session: driver for " + e.playerID + " has a start_ntp that does not match the session"
}

func errOrphanedDriver(playerID string) error {
	return &orphanedDriverError{playerID: playerID}
}
