package mixer

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/playcast/playcast/internal/audio"
)

// crossfade mixes fadeIn (the next item's leading fadeBytes, already
// silence-trimmed) against tail (the previous item's trailing fadeBytes)
// using the sox-compatible effects tool's fade and mix (-m) stages. Both
// operands must already be exactly fadeBytes long.
//
// Scratch data is written to temp files rather than piped directly,
// because sox's fade effect needs to seek within each operand. The files
// go under /dev/shm when present (keeping them off physical disk) and
// under cfg.ScratchDir otherwise; every file is removed before return.
func (m *Mixer) crossfade(fadeIn, tail []byte, fadeBytes int) ([]byte, error) {
	if len(tail) == 0 {
		return fadeIn, nil
	}

	fadeInFile, err := m.writeScratch(fadeIn)
	if err != nil {
		return nil, err
	}
	defer os.Remove(fadeInFile)

	tailFile, err := m.writeScratch(tail)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tailFile)

	format := m.cfg.Format()
	durationSeconds := fmt.Sprintf("%.6f", float64(fadeBytes)/float64(format.FrameBytes())/float64(m.cfg.SampleRate))

	rawIn := func(location string) audio.InputSpec {
		return audio.InputSpec{ContentType: "pcm-raw", BitDepth: format.BitDepth, Channels: format.Channels, SampleRate: m.cfg.SampleRate, Location: location}
	}
	rawOut := audio.OutputSpec{ContentType: "pcm-raw", BitDepth: format.BitDepth, Channels: format.Channels, SampleRate: m.cfg.SampleRate, Location: "-"}

	fadeOutArgs := append(rawIn(tailFile).Args(), rawOut.Args()...)
	fadeOutArgs = append(fadeOutArgs, "fade", "t", "0", durationSeconds)

	fadeInArgs := append(rawIn(fadeInFile).Args(), rawOut.Args()...)
	fadeInArgs = append(fadeInArgs, "fade", "t", durationSeconds)

	fadedOut, err := m.runSoxToBuffer(fadeOutArgs)
	if err != nil {
		return nil, fmt.Errorf("fading out tail: %w", err)
	}
	fadedIn, err := m.runSoxToBuffer(fadeInArgs)
	if err != nil {
		return nil, fmt.Errorf("fading in head: %w", err)
	}

	outFile, err := m.writeScratch(fadedOut)
	if err != nil {
		return nil, err
	}
	defer os.Remove(outFile)
	inFile, err := m.writeScratch(fadedIn)
	if err != nil {
		return nil, err
	}
	defer os.Remove(inFile)

	mixArgs := []string{"-m"}
	mixArgs = append(mixArgs, rawIn(outFile).Args()...)
	mixArgs = append(mixArgs, rawIn(inFile).Args()...)
	mixArgs = append(mixArgs, rawOut.Args()...)

	return m.runSoxToBuffer(mixArgs)
}

func (m *Mixer) writeScratch(data []byte) (string, error) {
	dir := m.scratchDir()
	f, err := os.CreateTemp(dir, "playcast-xfade-*.pcm")
	if err != nil {
		return "", fmt.Errorf("mixer: creating scratch file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("mixer: writing scratch file: %w", err)
	}
	return f.Name(), nil
}

// scratchDir prefers /dev/shm (tmpfs) when present, falling back to the
// configured directory.
func (m *Mixer) scratchDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return m.cfg.ScratchDir
}

func (m *Mixer) runSoxToBuffer(args []string) ([]byte, error) {
	cmd := exec.Command(m.cfg.SoxPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(stdout)
	if err != nil {
		_ = cmd.Wait()
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("sox exited: %w", err)
	}
	return data, nil
}
