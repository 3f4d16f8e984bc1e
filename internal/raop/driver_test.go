package raop

import "testing"

func TestBuildArgsShape(t *testing.T) {
	cfg := StartupConfig{
		BinaryPath:   "cliraop",
		Port:         6000,
		Address:      "192.168.1.50",
		Volume:       80,
		LatencyMs:    2000,
		Encryption:   true,
		ALACEncode:   true,
		SyncAdjustMs: 100,
		DACPID:       "ABCD1234",
		MD:           "0,1,2",
		ET:           "0,1",
	}
	d := NewDriver(cfg, testLogger(), nil)
	args := d.buildArgs(123456789)

	want := []string{
		"-n", "123456789",
		"-p", "6000",
		"-w", "2400", // 2500 - 100
		"-v", "80",
		"-l", "2000",
		"-e",
		"-a",
		"-dacp", "ABCD1234",
		"-ar", d.ActiveRemoteID(),
		"-md", "0,1,2",
		"-et", "0,1",
		"192.168.1.50",
		"-",
	}

	if len(args) != len(want) {
		t.Fatalf("arg count mismatch: got %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: got %q, want %q (full: %v)", i, args[i], want[i], args)
		}
	}
}

func TestBuildArgsOmitsOptionalFlags(t *testing.T) {
	cfg := StartupConfig{Port: 6000, Address: "10.0.0.1", Volume: 50, LatencyMs: 2000, DACPID: "x", MD: "m", ET: "e"}
	d := NewDriver(cfg, testLogger(), nil)
	args := d.buildArgs(1)

	for _, flag := range []string{"-e", "-a", "-P", "-d"} {
		for _, a := range args {
			if a == flag {
				t.Fatalf("did not expect flag %q with no corresponding config set, got %v", flag, args)
			}
		}
	}
}

func TestWatchStderrDrivesStateMachine(t *testing.T) {
	var states []State
	d := NewDriver(StartupConfig{}, testLogger(), func(s State) { states = append(states, s) })

	r, w := newPipe(t)
	go func() {
		w.WriteString("restarting w/o pause\n")
		w.WriteString("set pause\n")
		w.WriteString("Restarted at foo\n")
		w.WriteString("blah (100ms after start), played 4500 ms\n")
		w.Close()
	}()

	d.watchStderr(r)

	if d.ElapsedTime().Milliseconds() != 4500 {
		t.Fatalf("expected elapsed 4500ms, got %v", d.ElapsedTime())
	}
	if !d.exited.Load() {
		t.Fatal("expected driver marked exited after stderr closes")
	}
	if d.State() != StateIdle {
		t.Fatalf("expected final state idle, got %v", d.State())
	}

	foundPlaying, foundPaused := false, false
	for _, s := range states {
		if s == StatePlaying {
			foundPlaying = true
		}
		if s == StatePaused {
			foundPaused = true
		}
	}
	if !foundPlaying || !foundPaused {
		t.Fatalf("expected both playing and paused transitions, got %v", states)
	}
}

func TestWriteChunkNoopAfterExit(t *testing.T) {
	d := NewDriver(StartupConfig{}, testLogger(), nil)
	d.exited.Store(true)

	if err := d.WriteChunk([]byte("pcm")); err != nil {
		t.Fatalf("expected nil error after exit, got %v", err)
	}
	if err := d.WriteEOF(); err != nil {
		t.Fatalf("expected nil error after exit, got %v", err)
	}
}
