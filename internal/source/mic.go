package source

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Mic captures mono PCM-16 frames from the default input device.
type Mic struct {
	sampleRate int
	frameSize  int

	stream *portaudio.Stream
	buffer []int16

	started bool
	closed  bool
	mu      sync.Mutex
}

// NewMic creates a microphone source. The device is not opened until Start.
func NewMic(sampleRate, frameSize int) (*Mic, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}

	return &Mic{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		buffer:     make([]int16, frameSize),
	}, nil
}

// Start initializes PortAudio and opens the default input stream.
// Failure here is the microphone-permission error path: it is reported
// once and not retried.
func (m *Mic) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrSourceClosed
	}
	if m.started {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio backend: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), m.frameSize, m.buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("failed to open input device: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	m.stream = stream
	m.started = true
	return nil
}

// ReadFrame blocks until the device delivers one frame and copies it
// into buf.
func (m *Mic) ReadFrame(buf []int16) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrSourceClosed
	}
	if !m.started {
		m.mu.Unlock()
		return 0, fmt.Errorf("microphone not started")
	}
	stream := m.stream
	m.mu.Unlock()

	if err := stream.Read(); err != nil {
		return 0, fmt.Errorf("failed to read input frame: %w", err)
	}

	return copy(buf, m.buffer), nil
}

// SampleRate returns the configured capture rate in Hz.
func (m *Mic) SampleRate() int {
	return m.sampleRate
}

// Close stops the stream and releases the device.
func (m *Mic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if !m.started {
		return nil
	}
	m.started = false

	var err error
	if stopErr := m.stream.Stop(); stopErr != nil {
		err = stopErr
	}
	if closeErr := m.stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if termErr := portaudio.Terminate(); termErr != nil && err == nil {
		err = termErr
	}
	m.stream = nil

	return err
}
