// Package raop drives Apple's RAOP/AirPlay v1 protocol through the
// external cliraop helper binary: one subprocess per streaming session,
// PCM on stdin, a line-delimited state machine on stderr, and a named
// pipe for textual control commands. Grounded on the original
// AirplayStreamJob (airplay/__init__.py) and restructured in the
// teacher's process-owning-driver idiom from internal/media/player.go.
package raop

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playcast/playcast/internal/session"
)

// State mirrors the driver's idle → starting → (playing ⇄ paused) → idle
// state machine, driven entirely by cliraop's stderr output.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
)

// StartupConfig carries everything init_cliraop needs to build the argv
// vector for one session.
type StartupConfig struct {
	BinaryPath     string
	Port           int
	Address        string
	Volume         int // 0..100
	LatencyMs      int
	Encryption     bool
	ALACEncode     bool
	SyncAdjustMs   int // -500..500
	DevicePassword string
	Debug          bool
	DACPID         string
	MD             string
	ET             string
}

// Driver owns one cliraop subprocess for the lifetime of a streaming
// session. It implements session.Driver.
type Driver struct {
	cfg           StartupConfig
	activeRemote  string
	logger        *slog.Logger
	onStateChange func(State)

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exited  atomic.Bool
	startNTP int64

	elapsedMu sync.RWMutex
	elapsed   time.Duration
	state     atomic.Value // State
}

// NewDriver constructs a driver with a freshly drawn active_remote_id.
// Uniqueness within the currently-live set is the caller's (registry's)
// responsibility: the registry retries NewDriver until it produces an id
// not already held by a live session.
func NewDriver(cfg StartupConfig, logger *slog.Logger, onStateChange func(State)) *Driver {
	d := &Driver{
		cfg:           cfg,
		activeRemote:  strconv.Itoa(1000 + rand.IntN(7000)),
		logger:        logger.With("subsystem", "raop"),
		onStateChange: onStateChange,
	}
	d.state.Store(StateIdle)
	return d
}

// ActiveRemoteID returns the per-session active_remote_id used to name
// this driver's control pipe.
func (d *Driver) ActiveRemoteID() string {
	return d.activeRemote
}

// StartNTP returns the NTP timestamp recorded at startup, used by the
// session as the orphan-detection checksum.
func (d *Driver) StartNTP() int64 {
	return d.startNTP
}

// Start records startNTP, then spawns the helper with the documented argv
// shape. startNTP is supplied by the caller (the session
// coordinator queries the helper once and shares the value across every
// driver joining that session).
func (d *Driver) Start(ctx context.Context, startNTP int64) error {
	d.startNTP = startNTP

	args := d.buildArgs(startNTP)
	cmd := exec.CommandContext(ctx, d.cfg.BinaryPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("raop: stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("raop: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("raop: starting cliraop: %w", err)
	}

	d.mu.Lock()
	d.cmd = cmd
	d.stdin = stdin
	d.mu.Unlock()

	d.setState(StateStarting)
	go d.watchStderr(stderr)

	return nil
}

func (d *Driver) buildArgs(startNTP int64) []string {
	var extra []string
	extra = append(extra, "-l", strconv.Itoa(d.cfg.LatencyMs))
	if d.cfg.Encryption {
		extra = append(extra, "-e")
	}
	if d.cfg.ALACEncode {
		extra = append(extra, "-a")
	}
	if d.cfg.DevicePassword != "" {
		extra = append(extra, "-P", d.cfg.DevicePassword)
	}
	if d.cfg.Debug {
		extra = append(extra, "-d", "5")
	}

	args := []string{
		"-n", strconv.FormatInt(startNTP, 10),
		"-p", strconv.Itoa(d.cfg.Port),
		"-w", strconv.Itoa(2500 - d.cfg.SyncAdjustMs),
		"-v", strconv.Itoa(d.cfg.Volume),
	}
	args = append(args, extra...)
	args = append(args,
		"-dacp", d.cfg.DACPID,
		"-ar", d.activeRemote,
		"-md", d.cfg.MD,
		"-et", d.cfg.ET,
		d.cfg.Address,
		"-",
	)
	return args
}

// watchStderr drives the state machine from the original's exact
// substring matches, and marks the driver exited once the stream ends.
func (d *Driver) watchStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		d.logger.Debug("cliraop", "line", line)

		switch {
		case strings.Contains(line, "restarting w/o pause"):
			d.setElapsed(0)
			d.setState(StatePlaying)
		case strings.Contains(line, "set pause"):
			d.setState(StatePaused)
		case strings.Contains(line, "Restarted at"):
			d.setState(StatePlaying)
		case strings.Contains(line, "after start), played "):
			if ms, ok := parsePlayedMillis(line); ok {
				d.setElapsed(time.Duration(ms) * time.Millisecond)
			}
		}
	}

	d.exited.Store(true)
	d.setState(StateIdle)
}

func parsePlayedMillis(line string) (int64, bool) {
	const marker = "after start), played "
	idx := strings.Index(line, marker)
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len(marker):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	ms, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

func (d *Driver) setState(s State) {
	d.state.Store(s)
	if d.onStateChange != nil {
		d.onStateChange(s)
	}
}

func (d *Driver) State() State {
	return d.state.Load().(State)
}

func (d *Driver) setElapsed(v time.Duration) {
	d.elapsedMu.Lock()
	d.elapsed = v
	d.elapsedMu.Unlock()
}

// ElapsedTime returns the most recently reported playback position.
func (d *Driver) ElapsedTime() time.Duration {
	d.elapsedMu.RLock()
	defer d.elapsedMu.RUnlock()
	return d.elapsed
}

// WriteChunk writes one PCM chunk to cliraop's stdin. A no-op once the
// process has exited; broken-pipe errors are absorbed rather than
// propagated, matching the original's suppress(BrokenPipeError).
func (d *Driver) WriteChunk(data []byte) error {
	if d.exited.Load() {
		return nil
	}
	d.mu.Lock()
	stdin := d.stdin
	d.mu.Unlock()
	if stdin == nil {
		return nil
	}

	_, err := stdin.Write(data)
	if err != nil && isBrokenPipe(err) {
		return nil
	}
	return err
}

// WriteEOF closes stdin and waits for the process to exit. A no-op if the
// process has already exited.
func (d *Driver) WriteEOF() error {
	if d.exited.Load() {
		return nil
	}
	d.mu.Lock()
	stdin := d.stdin
	cmd := d.cmd
	d.mu.Unlock()
	if stdin == nil {
		return nil
	}

	if err := stdin.Close(); err != nil && !isBrokenPipe(err) {
		return err
	}
	if cmd != nil {
		_ = cmd.Wait()
	}
	return nil
}

// Stop sends ACTION=STOP over the control pipe, then waits for exit and
// closes stdin if still open.
func (d *Driver) Stop() {
	if d.exited.Load() {
		return
	}
	_ = sendCommand(d.activeRemote, "ACTION=STOP")

	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd != nil {
		_ = cmd.Wait()
	}
}

// SendCommand writes an arbitrary textual control command to the session's
// named pipe (PROGRESS=, VOLUME=, TITLE=, ACTION=PLAY|PAUSE, etc.).
func (d *Driver) SendCommand(command string) error {
	if d.exited.Load() {
		return nil
	}
	return sendCommand(d.activeRemote, command)
}

func isBrokenPipe(err error) bool {
	return strings.Contains(err.Error(), "broken pipe") || strings.Contains(err.Error(), "closed pipe")
}

var _ session.Driver = (*Driver)(nil)
