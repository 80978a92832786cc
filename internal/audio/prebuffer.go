package audio

import (
	"sync"
)

// PreBuffer is a fixed-capacity ring of PCM samples holding the most recent
// audio observed before activation. It is overwritten continuously while the
// pipeline is inactive and drained into the chunk accumulator the moment
// activation is detected, so the onset of speech is not lost.
//
// When full, the oldest samples are dropped. Writes never block: the capture
// loop must not stall on the pre-buffer.
type PreBuffer struct {
	buf  []int16
	head int // next write position
	size int // number of valid samples
	mu   sync.Mutex
}

// NewPreBuffer creates a pre-buffer sized for the given retention window.
func NewPreBuffer(sampleRate int, retentionMs int) *PreBuffer {
	capacity := sampleRate * retentionMs / 1000
	if capacity < 1 {
		capacity = 1
	}
	return &PreBuffer{
		buf: make([]int16, capacity),
	}
}

// Write appends samples, overwriting the oldest when the ring is full.
func (p *PreBuffer) Write(samples []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	capacity := len(p.buf)

	// A write larger than the ring keeps only its tail.
	if len(samples) >= capacity {
		copy(p.buf, samples[len(samples)-capacity:])
		p.head = 0
		p.size = capacity
		return
	}

	spaceToEnd := capacity - p.head
	if len(samples) <= spaceToEnd {
		copy(p.buf[p.head:], samples)
	} else {
		copy(p.buf[p.head:], samples[:spaceToEnd])
		copy(p.buf, samples[spaceToEnd:])
	}

	p.head = (p.head + len(samples)) % capacity
	p.size += len(samples)
	if p.size > capacity {
		p.size = capacity
	}
}

// Drain returns the buffered samples in arrival order and resets the ring.
// The returned slice is a copy and remains valid after further writes.
func (p *PreBuffer) Drain() []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.size == 0 {
		return nil
	}

	capacity := len(p.buf)
	out := make([]int16, p.size)
	start := (p.head - p.size + capacity) % capacity

	n := copy(out, p.buf[start:min(start+p.size, capacity)])
	if n < p.size {
		copy(out[n:], p.buf[:p.size-n])
	}

	p.head = 0
	p.size = 0

	return out
}

// Reset discards all buffered samples.
func (p *PreBuffer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.head = 0
	p.size = 0
}

// Len returns the number of buffered samples.
func (p *PreBuffer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Cap returns the ring capacity in samples.
func (p *PreBuffer) Cap() int {
	return len(p.buf)
}
