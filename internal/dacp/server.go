// Package dacp implements the reverse-control channel an AirPlay endpoint
// uses to issue transport commands back to the server: a small HTTP/1.0-
// over-TCP protocol, advertised over mDNS so the endpoint can discover it.
// Grounded directly on _handle_dacp_request and handle_async_init in
// original_source/.../airplay/__init__.py, restructured using the
// teacher's control-plane-server idiom from internal/sip/server.go (a
// Server struct owning a listener, a cancellable context, and a
// WaitGroup).
package dacp

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"

	"github.com/playcast/playcast/internal/player"
	"github.com/playcast/playcast/internal/queue"
	"github.com/playcast/playcast/internal/raop"
)

// PortRangeMin and PortRangeMax bound the dynamic port the DACP listener
// binds to.
const (
	PortRangeMin = 39831
	PortRangeMax = 49831
)

// RemoteResolver maps an inbound request's Active-Remote header to the
// player and queue it concerns. Satisfied by syncgroup.Coordinator.
type RemoteResolver interface {
	ResolveActiveRemote(activeRemoteID string) (playerID string, src queue.Source, ok bool)
}

// DriverLookup resolves an active_remote_id to its live delivery driver,
// used only for volume commands (which target one physical endpoint, not
// the shared group queue).
type DriverLookup interface {
	Get(activeRemoteID string) (*raop.Driver, bool)
}

// Server owns the DACP TCP listener and its mDNS advertisement for one
// playcast instance. One Server is shared by every AirPlay session; the
// DACP id and port are chosen once at startup and handed to every RAOP
// driver via StartupConfig.DACPID.
type Server struct {
	players  *player.Registry
	remotes  RemoteResolver
	drivers  DriverLookup
	logger   *slog.Logger

	dacpID   string
	listener net.Listener
	service  *mdnsService

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds a TCP listener on a free port in [portMin, portMax] and
// generates a random DACP id, mirroring the original's
// f"{randrange(2**64):X}".
func NewServer(players *player.Registry, remotes RemoteResolver, drivers DriverLookup, portMin, portMax int, logger *slog.Logger) (*Server, error) {
	listener, port, err := bindInRange(portMin, portMax)
	if err != nil {
		return nil, fmt.Errorf("dacp: binding listener: %w", err)
	}

	s := &Server{
		players:  players,
		remotes:  remotes,
		drivers:  drivers,
		logger:   logger.With("subsystem", "dacp"),
		dacpID:   fmt.Sprintf("%X", rand.Uint64()),
		listener: listener,
	}
	s.logger.Info("dacp: listening", "port", port, "dacp_id", s.dacpID)
	return s, nil
}

// bindInRange tries every port in [min, max] until one is free.
func bindInRange(min, max int) (net.Listener, int, error) {
	for port := min; port <= max; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
		if err == nil {
			return l, port, nil
		}
	}
	return nil, 0, fmt.Errorf("dacp: no free port in [%d, %d]", min, max)
}

// DACPID returns the identifier RAOP drivers must pass as -dacp.
func (s *Server) DACPID() string {
	return s.dacpID
}

// SetRemotes attaches the RemoteResolver once it exists. The DACP id must
// be minted before the sync coordinator can be constructed (drivers embed
// it at startup), so this breaks the construction cycle: NewServer first,
// then build the coordinator with Server.DACPID(), then SetRemotes(coordinator).
func (s *Server) SetRemotes(remotes RemoteResolver) {
	s.remotes = remotes
}

// Port returns the bound listener's port, used to build the mDNS service
// record.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start advertises the service over mDNS and begins accepting connections.
// It returns immediately; Stop shuts both down.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	service, err := advertise(s.dacpID, s.Port())
	if err != nil {
		s.logger.Warn("dacp: mDNS advertisement failed, control server still reachable by IP", "error", err)
	} else {
		s.service = service
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := service.respond(ctx); err != nil {
				s.logger.Error("dacp: mDNS responder stopped", "error", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("dacp: accept error", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Stop tears down the listener, the mDNS advertisement, and waits for any
// in-flight request handlers to finish.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("dacp: stopped")
}
