package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Live message types sent by the backend over the live-transcribe socket
const (
	MessageTypeReady         = "ready"
	MessageTypeTranscription = "transcription"
	MessageTypeConfig        = "config"
	MessageTypeError         = "error"
)

// Segment represents one span of transcribed speech.
// Start and End are offsets in seconds relative to the chunk (HTTP mode)
// or the live session (WebSocket mode).
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TranscribeResponse is the JSON body returned by POST /transcribe.
type TranscribeResponse struct {
	ChunkID  string    `json:"chunk_id,omitempty"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
}

// LiveLine is one display line of the rolling live transcript.
type LiveLine struct {
	Text  string  `json:"text"`
	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`
}

// LiveMessage is the JSON frame received from the live-transcribe socket.
// BufferTranscription holds text the backend has decoded but not yet
// committed to a line; it is display-only and may be rewritten.
type LiveMessage struct {
	Type                string     `json:"type"`
	Lines               []LiveLine `json:"lines,omitempty"`
	Segments            []Segment  `json:"segments,omitempty"`
	BufferTranscription string     `json:"buffer_transcription,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// ErrorResponse is the JSON body returned by the backend on non-2xx status.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// ParseLiveMessage parses and validates a frame from the live socket.
func ParseLiveMessage(data []byte) (*LiveMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty live message")
	}

	var msg LiveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse live message: %w", err)
	}

	switch msg.Type {
	case MessageTypeReady, MessageTypeTranscription, MessageTypeConfig:
	case MessageTypeError:
		if msg.Error == "" {
			msg.Error = "unspecified backend error"
		}
	default:
		return nil, fmt.Errorf("unknown live message type %q", msg.Type)
	}

	return &msg, nil
}

// ParseTranscribeResponse parses and validates the POST /transcribe body.
func ParseTranscribeResponse(data []byte) (*TranscribeResponse, error) {
	var resp TranscribeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse transcribe response: %w", err)
	}

	for i, seg := range resp.Segments {
		if seg.End < seg.Start {
			return nil, fmt.Errorf("segment %d has end %.3f before start %.3f", i, seg.End, seg.Start)
		}
	}

	return &resp, nil
}

// CleanSegments drops empty segments and trims whitespace from the rest.
// The backend occasionally emits blank filler segments around silence.
func CleanSegments(segments []Segment) []Segment {
	cleaned := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text == "" {
			continue
		}
		cleaned = append(cleaned, seg)
	}
	return cleaned
}

// OffsetSegments shifts segment timestamps by the given offset in seconds.
// Used to rebase per-chunk timestamps onto the session timeline.
func OffsetSegments(segments []Segment, offset float64) []Segment {
	if offset == 0 {
		return segments
	}
	shifted := make([]Segment, len(segments))
	for i, seg := range segments {
		seg.Start += offset
		seg.End += offset
		shifted[i] = seg
	}
	return shifted
}
