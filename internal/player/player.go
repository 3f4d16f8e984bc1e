// Package player models network audio endpoints: their discovery
// metadata, per-player configuration, grouping relationships, and the
// in-memory registry the rest of the server looks them up through.
package player

import (
	"fmt"
	"sync"
)

// State is the player's playback state as observed by the server.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Config is the per-player configuration surface persisted in the store.
type Config struct {
	MaxSampleRate     int
	CrossfadeEnabled  bool
	CrossfadeDuration int // seconds
	ExtraAudioEffects string
	LatencyMs         int // 500..4000, default 2000
	Encryption        bool
	ALACEncode        bool
	SyncAdjustMs      int // -500..500
	DevicePassword    string
	Enabled           bool
}

// DefaultConfig returns the configuration defaults mirrored from the
// original AirPlay provider's CONF_* entries.
func DefaultConfig() Config {
	return Config{
		MaxSampleRate:     96000,
		CrossfadeEnabled:  false,
		CrossfadeDuration: 6,
		LatencyMs:         2000,
		Enabled:           true,
	}
}

// Validate enforces the valid ranges for the configuration surface.
func (c Config) Validate() error {
	if c.LatencyMs < 500 || c.LatencyMs > 4000 {
		return fmt.Errorf("player: latency_ms %d out of range [500, 4000]", c.LatencyMs)
	}
	if c.SyncAdjustMs < -500 || c.SyncAdjustMs > 500 {
		return fmt.Errorf("player: sync_adjust_ms %d out of range [-500, 500]", c.SyncAdjustMs)
	}
	if c.CrossfadeDuration < 0 || c.CrossfadeDuration > 30 {
		return fmt.Errorf("player: crossfade_duration %d out of range [0, 30]", c.CrossfadeDuration)
	}
	return nil
}

// Endpoint represents one network destination: its address, discovery
// metadata, live volume/state, and grouping relationship. group_leader is
// transitive of length at most 1 — no grouped-to-grouped chains.
type Endpoint struct {
	ID             string
	Address        string // host:port
	DiscoveryProps map[string]string
	Config         Config

	mu           sync.Mutex
	volume       int
	state        State
	groupLeader  string // player_id of the leader this endpoint follows, or "" if none
	groupMembers map[string]struct{}
}

// NewEndpoint creates a registered-but-idle endpoint.
func NewEndpoint(id, address string, props map[string]string, cfg Config) *Endpoint {
	return &Endpoint{
		ID:             id,
		Address:        address,
		DiscoveryProps: props,
		Config:         cfg,
		state:          StateIdle,
		groupMembers:   make(map[string]struct{}),
	}
}

func (e *Endpoint) Volume() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Endpoint) SetVolume(v int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Endpoint) SetState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// GroupLeader returns the player_id this endpoint follows, or "" if it is
// not a group member.
func (e *Endpoint) GroupLeader() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groupLeader
}

// join records that this endpoint now follows leaderID. Per the depth-1
// invariant, leaderID must not itself already follow another endpoint;
// enforcing that is the Registry's responsibility since it alone can
// check both endpoints.
func (e *Endpoint) join(leaderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupLeader = leaderID
}

func (e *Endpoint) leaveGroup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupLeader = ""
}

func (e *Endpoint) addMember(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupMembers[id] = struct{}{}
}

func (e *Endpoint) removeMember(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.groupMembers, id)
}

// Members returns the set of player IDs currently following this endpoint.
func (e *Endpoint) Members() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.groupMembers))
	for id := range e.groupMembers {
		out = append(out, id)
	}
	return out
}

// Registry is the in-memory directory of known endpoints, safe for
// concurrent use by the control loop and any number of readers.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

func (r *Registry) Add(e *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[e.ID] = e
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, id)
}

func (r *Registry) Get(id string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	return e, ok
}

func (r *Registry) All() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		out = append(out, e)
	}
	return out
}

// Sync joins member to leader's group. Rejects the join if either endpoint
// is already part of a chain longer than depth 1 (leader already follows
// someone, or member already leads a group), preserving the invariant that
// group_leader chains never exceed length 1.
func (r *Registry) Sync(leaderID, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	leader, ok := r.endpoints[leaderID]
	if !ok {
		return fmt.Errorf("player: unknown leader %q", leaderID)
	}
	member, ok := r.endpoints[memberID]
	if !ok {
		return fmt.Errorf("player: unknown member %q", memberID)
	}
	if leader.GroupLeader() != "" {
		return fmt.Errorf("player: %q already follows %q, cannot itself lead a group", leaderID, leader.GroupLeader())
	}
	if len(member.Members()) > 0 {
		return fmt.Errorf("player: %q already leads a group, cannot also follow %q", memberID, leaderID)
	}
	if member.GroupLeader() == leaderID {
		return nil
	}

	member.join(leaderID)
	leader.addMember(memberID)
	return nil
}

// Unsync removes member from its current group, if any.
func (r *Registry) Unsync(memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.endpoints[memberID]
	if !ok {
		return
	}
	leaderID := member.GroupLeader()
	if leaderID == "" {
		return
	}
	if leader, ok := r.endpoints[leaderID]; ok {
		leader.removeMember(memberID)
	}
	member.leaveGroup()
}
