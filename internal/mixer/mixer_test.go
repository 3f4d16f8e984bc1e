package mixer

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/playcast/playcast/internal/audio"
)

type bufSink struct {
	bytes.Buffer
}

func (b *bufSink) Write(p []byte) (int, error) {
	return b.Buffer.Write(p)
}

func newTestMixer(crossfadeEnabled bool, crossfadeDuration int) *Mixer {
	cfg := Config{
		SampleRate:        44100,
		Channels:          2,
		BitDepth:          16,
		CrossfadeEnabled:  crossfadeEnabled,
		CrossfadeDuration: crossfadeDuration,
	}
	return New(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClassifyFreeHead(t *testing.T) {
	m := newTestMixer(false, 0)
	sink := &bufSink{}
	st := &crossfadeState{}

	n, err := m.classifyAndForward(1, audio.Chunk{Data: loudPCM(8)}, sink, st, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 8 || sink.Len() != 8 {
		t.Fatalf("expected free head chunk written directly, wrote %d bytes, sink has %d", n, sink.Len())
	}
}

func TestClassifyMiddleDefersOneChunk(t *testing.T) {
	m := newTestMixer(false, 0)
	sink := &bufSink{}
	st := &crossfadeState{}

	// chunk 1 and 2: free head (no pending tail).
	if _, err := m.classifyAndForward(1, audio.Chunk{Data: loudPCM(8)}, sink, st, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := m.classifyAndForward(2, audio.Chunk{Data: loudPCM(8)}, sink, st, 4); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 16 {
		t.Fatalf("expected both free-head chunks written, sink has %d", sink.Len())
	}

	// chunk 3 (middle, not last): buffered, not yet written.
	if _, err := m.classifyAndForward(3, audio.Chunk{Data: loudPCM(8)}, sink, st, 4); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 16 {
		t.Fatalf("middle chunk must be deferred, sink still has %d", sink.Len())
	}
	if st.prevChunk == nil {
		t.Fatal("expected prevChunk to hold the deferred middle chunk")
	}
}

func TestClassifyTailWithoutCrossfadeWritesTrimmedCombination(t *testing.T) {
	m := newTestMixer(false, 0)
	sink := &bufSink{}
	st := &crossfadeState{prevChunk: loudPCM(8)}

	last := append(loudPCM(4), silentPCM(8)...)
	n, err := m.classifyAndForward(5, audio.Chunk{Data: last, Last: true}, sink, st, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n == 0 {
		t.Fatal("expected tail bytes written")
	}
	if len(st.pendingTail) != 0 {
		t.Fatal("crossfade disabled: no pending tail should be carried forward")
	}
}

func TestClassifyTailWithCrossfadeDefersFadeBytes(t *testing.T) {
	m := newTestMixer(true, 1)
	sink := &bufSink{}
	st := &crossfadeState{prevChunk: loudPCM(40)}

	n, err := m.classifyAndForward(5, audio.Chunk{Data: loudPCM(40), Last: true}, sink, st, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.pendingTail) != 10 {
		t.Fatalf("expected a fadeBytes-long pending tail, got %d bytes", len(st.pendingTail))
	}
	if n+len(st.pendingTail) == 0 {
		t.Fatal("expected some forward bytes written")
	}
}
