package session

import (
	"fmt"
	"sync"

	"github.com/amidstdebug/atlas-capture/internal/protocol"
)

// Transcript is the session-scoped ordered list of transcription segments.
// Segments are appended as backend responses arrive and may be edited in
// place afterwards. The buffer holds uncommitted live-mode text.
type Transcript struct {
	segments []protocol.Segment
	buffer   string
	mu       sync.RWMutex
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds segments to the end of the transcript.
func (t *Transcript) Append(segments ...protocol.Segment) {
	if len(segments) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = append(t.segments, segments...)
}

// Segments returns a copy of the current segment list.
func (t *Transcript) Segments() []protocol.Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]protocol.Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Edit replaces the text of the segment at index, keeping its timestamps.
func (t *Transcript) Edit(index int, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.segments) {
		return fmt.Errorf("segment index %d out of range (have %d segments)", index, len(t.segments))
	}
	t.segments[index].Text = text
	return nil
}

// SetBuffer replaces the uncommitted live transcription text.
func (t *Transcript) SetBuffer(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer = text
}

// Buffer returns the uncommitted live transcription text.
func (t *Transcript) Buffer() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.buffer
}

// Len returns the number of committed segments.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.segments)
}

// Reset clears the transcript and buffer.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = nil
	t.buffer = ""
}
