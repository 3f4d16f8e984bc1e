// Package syncgroup coordinates grouped (synchronized) playback: building
// one StreamSession per play_media call and fanning its PCM out to one
// RAOP driver per member endpoint. Grounded on
// flowpbx-flowpbx/internal/media/conference.go's lazily-created,
// destroy-when-empty room manager, generalized from conference bridges to
// player groups.
package syncgroup

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/playcast/playcast/internal/audio"
	"github.com/playcast/playcast/internal/events"
	"github.com/playcast/playcast/internal/metrics"
	"github.com/playcast/playcast/internal/mixer"
	"github.com/playcast/playcast/internal/player"
	"github.com/playcast/playcast/internal/queue"
	"github.com/playcast/playcast/internal/raop"
	"github.com/playcast/playcast/internal/session"
)

// NTPSource obtains the helper's current NTP timestamp, used as the
// session's orphan-detection checksum. Satisfied by raop.QueryNTP.
type NTPSource func(ctx context.Context, binaryPath string) (int64, error)

// Coordinator owns one live Session per group leader. A "group" is the
// leader endpoint plus whatever members currently follow it in the player
// registry; membership changes (Join/Leave) take effect on the leader's
// registry record immediately. A Join only affects driver fan-out starting
// with the next PlayMedia call; a Leave also stops the member's driver in
// a session already in flight.
type Coordinator struct {
	players    *player.Registry
	drivers    *raop.Registry
	providers  map[string]audio.Provider
	cliraopBin string
	dacpID     string
	queryNTP   NTPSource
	bytes      *metrics.BytesCounter
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session // leader_id -> live session
	remotes  map[string]remoteBinding    // active_remote_id -> (player_id, queue source)
}

// remoteBinding is what the DACP control server needs to route an inbound
// command: which player the request concerns, and which queue to issue
// transport commands against.
type remoteBinding struct {
	playerID string
	source   queue.Source
}

func New(players *player.Registry, drivers *raop.Registry, providers map[string]audio.Provider, cliraopBin, dacpID string, queryNTP NTPSource, bytes *metrics.BytesCounter, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		players:    players,
		drivers:    drivers,
		providers:  providers,
		cliraopBin: cliraopBin,
		dacpID:     dacpID,
		queryNTP:   queryNTP,
		bytes:      bytes,
		logger:     logger.With("subsystem", "syncgroup"),
		sessions:   make(map[string]*session.Session),
		remotes:    make(map[string]remoteBinding),
	}
}

// ResolveActiveRemote looks up which player and queue an inbound DACP
// command (identified by the Active-Remote header) belongs to.
func (c *Coordinator) ResolveActiveRemote(activeRemoteID string) (playerID string, src queue.Source, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.remotes[activeRemoteID]
	if !ok {
		return "", nil, false
	}
	return b.playerID, b.source, true
}

// Join adds memberID to leaderID's group in the player registry. If a
// session is already in progress on leaderID, memberID does not receive
// audio until the next PlayMedia call builds a fresh driver set.
func (c *Coordinator) Join(leaderID, memberID string) error {
	return c.players.Sync(leaderID, memberID)
}

// Leave removes memberID from its group and, if a session is currently
// fanning out to it, stops and drops its driver immediately.
func (c *Coordinator) Leave(memberID string) {
	c.players.Unsync(memberID)

	c.mu.Lock()
	var dropped []session.Driver
	for _, sess := range c.sessions {
		if d, ok := sess.LiveDrivers()[memberID]; ok {
			dropped = append(dropped, d)
		}
		sess.RemoveDriver(memberID)
	}
	c.mu.Unlock()

	for _, d := range dropped {
		d.Stop()
	}
}

// PlayMedia stops any active session on leaderID (and its current
// members), builds a fresh Session with one driver per member sharing a
// single start_ntp, and runs the mixer against src until the queue is
// exhausted or the session is stopped.
func (c *Coordinator) PlayMedia(ctx context.Context, leaderID string, src queue.Source, soxPath, ffmpegPath string) error {
	leader, ok := c.players.Get(leaderID)
	if !ok {
		return fmt.Errorf("syncgroup: unknown leader %q", leaderID)
	}

	c.stopSession(leaderID)

	startNTP, err := c.queryNTP(ctx, c.cliraopBin)
	if err != nil {
		return fmt.Errorf("syncgroup: querying start_ntp: %w", err)
	}

	sess := session.New(leaderID, audio.RAOPFormat, startNTP)

	var registeredRemotes []string
	memberIDs := append([]string{leaderID}, leader.Members()...)
	for _, id := range memberIDs {
		ep, ok := c.players.Get(id)
		if !ok {
			c.logger.Warn("syncgroup: member disappeared before session start", "player_id", id)
			continue
		}
		drv, err := c.startDriver(ctx, ep, startNTP)
		if err != nil {
			c.logger.Warn("syncgroup: driver failed to start", "player_id", id, "error", err)
			continue
		}
		if err := sess.AddDriver(id, drv); err != nil {
			c.logger.Warn("syncgroup: driver rejected as orphaned", "player_id", id, "error", err)
			continue
		}
		c.mu.Lock()
		c.remotes[drv.ActiveRemoteID()] = remoteBinding{playerID: id, source: src}
		c.mu.Unlock()
		registeredRemotes = append(registeredRemotes, drv.ActiveRemoteID())
	}

	if sess.DriverCount() == 0 {
		return fmt.Errorf("syncgroup: no drivers started for group led by %q", leaderID)
	}

	c.mu.Lock()
	c.sessions[leaderID] = sess
	c.mu.Unlock()
	defer c.dropSession(leaderID, sess, registeredRemotes)

	sink := newFanoutSink(sess, src, c.bytes)

	bus := events.New()
	bus.Subscribe(sink.onEvent)
	cfg := mixer.Config{Channels: audio.RAOPFormat.Channels, BitDepth: audio.RAOPFormat.BitDepth, SoxPath: soxPath, FFmpegPath: ffmpegPath, Providers: c.providers}
	mx := mixer.New(cfg, bus, c.logger)

	go func() {
		<-ctx.Done()
		mx.Cancel()
		sess.Cancel()
	}()

	return mx.Mix(ctx, src, sink, audio.RAOPFormat.SampleRate)
}

func (c *Coordinator) startDriver(ctx context.Context, ep *player.Endpoint, startNTP int64) (*raop.Driver, error) {
	host, portStr, err := net.SplitHostPort(ep.Address)
	if err != nil {
		return nil, fmt.Errorf("syncgroup: parsing endpoint address %q: %w", ep.Address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("syncgroup: parsing endpoint port %q: %w", portStr, err)
	}

	cfg := raop.StartupConfig{
		BinaryPath:     c.cliraopBin,
		Port:           port,
		Address:        host,
		Volume:         ep.Volume(),
		LatencyMs:      ep.Config.LatencyMs,
		Encryption:     ep.Config.Encryption,
		ALACEncode:     ep.Config.ALACEncode,
		SyncAdjustMs:   ep.Config.SyncAdjustMs,
		DevicePassword: ep.Config.DevicePassword,
		DACPID:         c.dacpID,
		MD:             ep.DiscoveryProps["md"],
		ET:             ep.DiscoveryProps["et"],
	}

	drv := c.drivers.Create(cfg, c.logger, func(s raop.State) {
		ep.SetState(playerStateFor(s))
	})
	if err := drv.Start(ctx, startNTP); err != nil {
		c.drivers.Release(drv)
		return nil, err
	}
	return drv, nil
}

func playerStateFor(s raop.State) player.State {
	switch s {
	case raop.StatePlaying:
		return player.StatePlaying
	case raop.StatePaused:
		return player.StatePaused
	default:
		return player.StateIdle
	}
}

// stopSession tears down any session currently live for leaderID, if one
// exists. Safe to call when none is active.
func (c *Coordinator) stopSession(leaderID string) {
	c.mu.Lock()
	sess := c.sessions[leaderID]
	delete(c.sessions, leaderID)
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.Cancel()
	sess.StopAll()
}

func (c *Coordinator) dropSession(leaderID string, sess *session.Session, remoteIDs []string) {
	c.mu.Lock()
	if c.sessions[leaderID] == sess {
		delete(c.sessions, leaderID)
	}
	for _, remoteID := range remoteIDs {
		delete(c.remotes, remoteID)
	}
	c.mu.Unlock()
	sess.StopAll()
	for _, remoteID := range remoteIDs {
		if d, ok := c.drivers.Get(remoteID); ok {
			c.drivers.Release(d)
		}
	}
}

// ActiveSessionCount returns the number of groups currently streaming.
func (c *Coordinator) ActiveSessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
