package mixer

import (
	"bytes"
	"testing"
)

func silentPCM(n int) []byte {
	return make([]byte, n)
}

func loudPCM(n int) []byte {
	b := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		b[i] = 0xff
		b[i+1] = 0x7f // 32767, full scale
	}
	return b
}

func TestTrimLeadingSilence(t *testing.T) {
	data := append(silentPCM(40), loudPCM(40)...)
	trimmed := trimLeadingSilence(data, 10)
	if !bytes.Equal(trimmed, loudPCM(40)) {
		t.Fatalf("expected leading silence trimmed, got %d bytes", len(trimmed))
	}
}

func TestTrimLeadingSilenceFallsBackWhenTooShort(t *testing.T) {
	data := append(silentPCM(40), loudPCM(4)...)
	trimmed := trimLeadingSilence(data, 10)
	if len(trimmed) != len(data) {
		t.Fatalf("expected untrimmed fallback (len %d), got %d", len(data), len(trimmed))
	}
}

func TestTrimTrailingSilence(t *testing.T) {
	data := append(loudPCM(40), silentPCM(40)...)
	trimmed := trimTrailingSilence(data, 10)
	if !bytes.Equal(trimmed, loudPCM(40)) {
		t.Fatalf("expected trailing silence trimmed, got %d bytes", len(trimmed))
	}
}

func TestTrimTrailingSilenceFallsBackWhenTooShort(t *testing.T) {
	data := append(loudPCM(4), silentPCM(40)...)
	trimmed := trimTrailingSilence(data, 10)
	if len(trimmed) != len(data) {
		t.Fatalf("expected untrimmed fallback (len %d), got %d", len(data), len(trimmed))
	}
}

func TestIsSilentSampleThreshold(t *testing.T) {
	if !isSilentSample(0, 0) {
		t.Fatal("zero sample must be silent")
	}
	if isSilentSample(0xff, 0x7f) {
		t.Fatal("full-scale sample must not be silent")
	}
}
