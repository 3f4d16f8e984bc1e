package streamhttp

import (
	"fmt"
	"io"
	"net/http"
	"os/exec"

	"github.com/playcast/playcast/internal/audio"
	"github.com/playcast/playcast/internal/metrics"
)

// flacSink wraps an http.ResponseWriter as a mixer.Sink by piping written
// PCM bytes through a persistent sox-compatible encoder process that emits
// FLAC at compression level 0 for fast, low-CPU encoding. Writes block on
// the encoder's stdin; the copy to the response runs on an internal
// goroutine so a slow client cannot deadlock the mixer against the
// encoder's bounded stdin buffer.
type flacSink struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	copyErr chan error
	bytes   *metrics.BytesCounter
}

func newFLACSink(soxPath string, format audio.Format, w http.ResponseWriter, bytes *metrics.BytesCounter) (*flacSink, error) {
	in := audio.InputSpec{ContentType: "pcm-raw", BitDepth: format.BitDepth, Channels: format.Channels, SampleRate: format.SampleRate, Location: "-"}
	out := audio.OutputSpec{ContentType: "flac", Channels: format.Channels, SampleRate: format.SampleRate, Location: "-"}
	args := append(in.Args(), out.Args()...)
	args = append(args, "-C", "0")

	cmd := exec.Command(soxPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("streamhttp: sox stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("streamhttp: sox stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("streamhttp: starting sox encoder: %w", err)
	}

	s := &flacSink{cmd: cmd, stdin: stdin, copyErr: make(chan error, 1), bytes: bytes}
	go s.copyToResponse(stdout, w)
	return s, nil
}

func (s *flacSink) copyToResponse(stdout io.Reader, w http.ResponseWriter) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.copyErr <- werr
				return
			}
			s.bytes.Add(int64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				s.copyErr <- nil
			} else {
				s.copyErr <- err
			}
			return
		}
	}
}

func (s *flacSink) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close closes the encoder's stdin, waits for the remaining FLAC output to
// reach the client, and reaps the encoder process.
func (s *flacSink) Close() error {
	_ = s.stdin.Close()
	copyErr := <-s.copyErr
	waitErr := s.cmd.Wait()
	if copyErr != nil {
		return copyErr
	}
	return waitErr
}
