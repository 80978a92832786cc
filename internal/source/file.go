package source

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/amidstdebug/atlas-capture/internal/audio"
)

// File replays a mono 16-bit PCM WAV file as a capture source, used to
// simulate a recording session against a live backend. With pacing
// enabled, frames are released at the file's real-time rate; without it,
// the file drains as fast as the pipeline consumes it.
type File struct {
	path     string
	samples  []int16
	rate     int
	pos      int
	paced    bool
	loop     bool
	lastRead time.Time

	started bool
	closed  bool
	mu      sync.Mutex
}

// FileOptions controls file playback behavior.
type FileOptions struct {
	Paced bool // release frames at real-time speed
	Loop  bool // restart from the beginning instead of returning io.EOF
}

// NewFile opens and decodes the WAV file at path.
func NewFile(path string, opts FileOptions) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file %s: %w", path, err)
	}

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio file %s: %w", path, err)
	}

	return &File{
		path:    path,
		samples: samples,
		rate:    rate,
		paced:   opts.Paced,
		loop:    opts.Loop,
	}, nil
}

// Start marks the source ready. The file is already decoded; there is no
// device to acquire.
func (f *File) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrSourceClosed
	}
	f.started = true
	f.lastRead = time.Now()
	return nil
}

// ReadFrame copies the next frame of samples into buf. Paced sources sleep
// so that frames arrive at the file's native rate. Returns io.EOF once the
// file is exhausted and looping is disabled.
func (f *File) ReadFrame(buf []int16) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrSourceClosed
	}
	if !f.started {
		return 0, fmt.Errorf("file source not started")
	}

	if f.pos >= len(f.samples) {
		if !f.loop {
			return 0, io.EOF
		}
		f.pos = 0
	}

	n := copy(buf, f.samples[f.pos:])
	f.pos += n

	if f.paced && n > 0 {
		frameDuration := time.Duration(n) * time.Second / time.Duration(f.rate)
		elapsed := time.Since(f.lastRead)
		if sleep := frameDuration - elapsed; sleep > 0 {
			time.Sleep(sleep)
		}
		f.lastRead = time.Now()
	}

	return n, nil
}

// SampleRate returns the rate read from the WAV header.
func (f *File) SampleRate() int {
	return f.rate
}

// Duration returns the total playback length of the file.
func (f *File) Duration() time.Duration {
	return time.Duration(len(f.samples)) * time.Second / time.Duration(f.rate)
}

// Close releases the decoded samples.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.samples = nil
	return nil
}
