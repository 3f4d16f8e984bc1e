package syncgroup

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/playcast/playcast/internal/events"
	"github.com/playcast/playcast/internal/metrics"
	"github.com/playcast/playcast/internal/queue"
	"github.com/playcast/playcast/internal/raop"
	"github.com/playcast/playcast/internal/session"
)

// fanoutSink implements mixer.Sink by writing each PCM chunk concurrently
// to every driver whose start_ntp still matches the session. A driver
// write error only drops that driver from this chunk's fan-out; it never
// fails the mix.
type fanoutSink struct {
	sess  *session.Session
	src   queue.Source
	bytes *metrics.BytesCounter

	lastMetaChecksum string
}

func newFanoutSink(sess *session.Session, src queue.Source, bytes *metrics.BytesCounter) *fanoutSink {
	return &fanoutSink{sess: sess, src: src, bytes: bytes}
}

func (f *fanoutSink) Write(p []byte) (int, error) {
	live := f.sess.LiveDrivers()
	if len(live) == 0 {
		return 0, fmt.Errorf("syncgroup: no live drivers left in session")
	}

	var g errgroup.Group
	for id, d := range live {
		id, d := id, d
		g.Go(func() error {
			if err := d.WriteChunk(p); err != nil {
				return fmt.Errorf("player %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Individual driver failures are not fatal to the group stream;
		// surviving members still need this chunk's worth of audio.
		_ = err
	}

	f.bytes.Add(int64(len(p)))
	f.sendProgress(live)
	return len(p), nil
}

func (f *fanoutSink) sendProgress(live map[string]session.Driver) {
	progress := fmt.Sprintf("PROGRESS=%d", int(f.src.ElapsedTime()))
	for _, d := range live {
		rd, ok := d.(*raop.Driver)
		if !ok {
			continue
		}
		_ = rd.SendCommand(progress)
	}
}

// onEvent pushes metadata to every live driver only when the checksum
// (stream_title, falling back to item_id) changes between items.
func (f *fanoutSink) onEvent(ev events.Event) {
	if ev.Kind != events.StreamStarted {
		return
	}

	checksum := ev.Details.StreamTitle
	if checksum == "" {
		checksum = ev.Details.ItemID
	}
	if checksum == f.lastMetaChecksum {
		return
	}
	f.lastMetaChecksum = checksum

	title := ev.Details.StreamTitle
	if title == "" {
		title = ev.Details.ItemID
	}

	for _, d := range f.sess.LiveDrivers() {
		rd, ok := d.(*raop.Driver)
		if !ok {
			continue
		}
		_ = rd.SendCommand("TITLE=" + title)
		_ = rd.SendCommand("ACTION=SENDMETA")
	}
}
