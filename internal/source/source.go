package source

import (
	"errors"
)

// ErrSourceClosed is returned by ReadFrame after Close.
var ErrSourceClosed = errors.New("capture source is closed")

// Source is a capture device producing mono PCM-16 frames.
//
// Start acquires the device; a permission or device failure is returned
// there, once, and surfaces to the user without retry. ReadFrame blocks
// until a full frame is available, fills buf, and returns the number of
// samples written; io.EOF signals the end of a finite source. Close
// releases the device and is safe to call more than once.
type Source interface {
	Start() error
	ReadFrame(buf []int16) (int, error)
	SampleRate() int
	Close() error
}
