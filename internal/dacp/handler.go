package dacp

import (
	"bufio"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/playcast/playcast/internal/queue"
)

// handleConnection reads exactly one HTTP/1.0-style request off conn,
// dispatches the matching queue command, and writes the fixed 204
// response. Malformed requests are logged and the connection dropped.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		s.logger.Debug("dacp: reading request line", "error", err)
		return
	}
	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		s.logger.Debug("dacp: malformed request line", "line", requestLine)
		return
	}
	path := fields[1]

	header, err := textproto.NewReader(reader).ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		s.logger.Debug("dacp: reading headers", "error", err)
	}
	activeRemote := header.Get("Active-Remote")

	s.dispatch(activeRemote, path)

	_, _ = conn.Write([]byte(response204()))
}

// dispatch maps an inbound path onto a queue command against the player
// and queue the Active-Remote header resolves to. An unresolvable
// Active-Remote (unknown session, already torn down) is logged and
// otherwise ignored: the caller still gets its 204.
func (s *Server) dispatch(activeRemote, path string) {
	playerID, src, ok := s.remotes.ResolveActiveRemote(activeRemote)
	if !ok {
		s.logger.Debug("dacp: request for unknown active-remote", "active_remote", activeRemote, "path", path)
		return
	}

	switch {
	case path == "/ctrl-int/1/nextitem":
		src.Skip()
	case path == "/ctrl-int/1/previtem":
		src.Previous()
	case path == "/ctrl-int/1/play":
		src.Play()
	case path == "/ctrl-int/1/playpause":
		src.PlayPause()
	case path == "/ctrl-int/1/pause", path == "/ctrl-int/1/discrete-pause":
		src.Pause()
	case path == "/ctrl-int/1/stop":
		src.Stop()
	case path == "/ctrl-int/1/volumeup":
		s.adjustVolume(playerID, activeRemote, volumeStep)
	case path == "/ctrl-int/1/volumedown":
		s.adjustVolume(playerID, activeRemote, -volumeStep)
	case path == "/ctrl-int/1/shuffle_songs":
		s.toggleShuffle(src)
	case strings.Contains(path, "dmcp.device-volume="):
		if raw, ok := queryValue(path, "dmcp.device-volume="); ok {
			if raopVol, err := strconv.ParseFloat(raw, 64); err == nil {
				s.setVolumeIfChanged(playerID, activeRemote, convertAirplayVolume(raopVol))
			}
		}
	case strings.Contains(path, "dmcp.volume="):
		if raw, ok := queryValue(path, "dmcp.volume="); ok {
			if v, err := strconv.Atoi(raw); err == nil {
				s.setVolumeIfChanged(playerID, activeRemote, v)
			}
		}
	default:
		s.logger.Debug("dacp: unknown request", "path", path, "active_remote", activeRemote)
	}
}

// volumeStep is the fixed increment applied by volumeup/volumedown, since
// the protocol carries no explicit delta for those two paths.
const volumeStep = 5

func (s *Server) toggleShuffle(src queue.Source) {
	// The queue interface doesn't expose a shuffle getter (shuffle state
	// lives with the concrete queue implementation), so this always turns
	// shuffle on; a shuffle_songs request never turns it off.
	src.SetShuffle(true)
}

func (s *Server) adjustVolume(playerID, activeRemote string, delta int) {
	ep, ok := s.players.Get(playerID)
	if !ok {
		return
	}
	s.setVolumeIfChanged(playerID, activeRemote, clampVolume(ep.Volume()+delta))
}

// setVolumeIfChanged debounces DACP volume writes: only write through
// (and push to the driver) when the delta from the endpoint's cached
// volume exceeds 2.
func (s *Server) setVolumeIfChanged(playerID, activeRemote string, volume int) {
	ep, ok := s.players.Get(playerID)
	if !ok {
		return
	}
	volume = clampVolume(volume)
	if abs(volume-ep.Volume()) <= 2 {
		return
	}
	ep.SetVolume(volume)

	if drv, ok := s.drivers.Get(activeRemote); ok {
		_ = drv.SendCommand("VOLUME=" + strconv.Itoa(volume))
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// convertAirplayVolume remaps cliraop's [-30, 0] dB device-volume scale
// onto the server's [0, 100] player volume scale, mirroring the original's
// convert_airplay_volume.
func convertAirplayVolume(dB float64) int {
	if dB <= -30 {
		return 0
	}
	if dB >= 0 {
		return 100
	}
	return int((dB + 30) / 30 * 100)
}

// queryValue extracts the value following marker in a raw request path
// (DACP paths carry query-like key=value segments without a real query
// string separator).
func queryValue(path, marker string) (string, bool) {
	idx := strings.Index(path, marker)
	if idx < 0 {
		return "", false
	}
	return path[idx+len(marker):], true
}

// response204 builds the fixed response required for every DACP command,
// success or not.
func response204() string {
	date := time.Now().UTC().Format("Mon, 2 Jan 2006 15:04:05")
	return "HTTP/1.0 204 No Content\r\n" +
		"Date: " + date + " GMT\r\n" +
		"DAAP-Server: iTunes/7.6.2 (Windows; N;)\r\n" +
		"Content-Type: application/x-dmap-tagged\r\n" +
		"Content-Length: 0\r\n" +
		"Connection: close\r\n\r\n"
}
