package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amidstdebug/atlas-capture/internal/audio"
)

func writeTestWAV(t *testing.T, samples []int16, rate int) string {
	t.Helper()
	data, err := audio.EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write test WAV: %v", err)
	}
	return path
}

func TestFileSourceReadsAllSamples(t *testing.T) {
	samples := make([]int16, 1000)
	for i := range samples {
		samples[i] = int16(i)
	}
	path := writeTestWAV(t, samples, 16000)

	f, err := NewFile(path, FileOptions{})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	defer f.Close()

	if f.SampleRate() != 16000 {
		t.Errorf("expected rate 16000, got %d", f.SampleRate())
	}

	if err := f.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var got []int16
	buf := make([]int16, 256)
	for {
		n, err := f.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("ReadFrame failed: %v", err)
		}
		got = append(got, buf[:n]...)
	}

	if len(got) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d differs: %d != %d", i, got[i], samples[i])
		}
	}
}

func TestFileSourceLoop(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 100), 16000)

	f, err := NewFile(path, FileOptions{Loop: true})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	defer f.Close()

	if err := f.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Read well past the file length; a looping source never hits EOF.
	buf := make([]int16, 64)
	total := 0
	for total < 500 {
		n, err := f.ReadFrame(buf)
		if err != nil {
			t.Fatalf("ReadFrame failed at %d samples: %v", total, err)
		}
		total += n
	}
}

func TestFileSourceRequiresStart(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 100), 16000)

	f, err := NewFile(path, FileOptions{})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	defer f.Close()

	if _, err := f.ReadFrame(make([]int16, 64)); err == nil {
		t.Error("expected error reading before Start")
	}
}

func TestFileSourceClosed(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 100), 16000)

	f, err := NewFile(path, FileOptions{})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if err := f.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if _, err := f.ReadFrame(make([]int16, 64)); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("expected ErrSourceClosed, got %v", err)
	}
	if err := f.Start(); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("expected ErrSourceClosed on restart, got %v", err)
	}
}

func TestFileSourceDuration(t *testing.T) {
	path := writeTestWAV(t, make([]int16, 8000), 16000)

	f, err := NewFile(path, FileOptions{})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	defer f.Close()

	if f.Duration() != 500*time.Millisecond {
		t.Errorf("expected 500ms duration, got %v", f.Duration())
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	if _, err := NewFile("/nonexistent/audio.wav", FileOptions{}); err == nil {
		t.Error("expected error for missing file")
	}
}
