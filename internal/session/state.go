package session

import (
	"time"
)

// RecordingState is the reactive snapshot the UI layer reads. It is
// mutated only by the capture pipeline and copied out on read.
type RecordingState struct {
	IsRecording               bool          `json:"is_recording"`
	IsProcessing              bool          `json:"is_processing"`
	Duration                  time.Duration `json:"duration"`
	Error                     string        `json:"error,omitempty"`
	AudioLevel                float64       `json:"audio_level"`
	IsWaitingForTranscription bool          `json:"is_waiting_for_transcription"`
}
