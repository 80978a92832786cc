package protocol

import (
	"testing"
)

func TestParseLiveMessage(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		expectError bool
		checkFn     func(t *testing.T, msg *LiveMessage)
	}{
		{
			name: "ready message",
			data: `{"type":"ready"}`,
			checkFn: func(t *testing.T, msg *LiveMessage) {
				if msg.Type != MessageTypeReady {
					t.Errorf("expected type %q, got %q", MessageTypeReady, msg.Type)
				}
			},
		},
		{
			name: "transcription with lines and buffer",
			data: `{"type":"transcription","lines":[{"text":"runway two seven","start":0,"end":1.4}],"buffer_transcription":"cleared for"}`,
			checkFn: func(t *testing.T, msg *LiveMessage) {
				if len(msg.Lines) != 1 {
					t.Fatalf("expected 1 line, got %d", len(msg.Lines))
				}
				if msg.Lines[0].Text != "runway two seven" {
					t.Errorf("unexpected line text: %q", msg.Lines[0].Text)
				}
				if msg.BufferTranscription != "cleared for" {
					t.Errorf("unexpected buffer: %q", msg.BufferTranscription)
				}
			},
		},
		{
			name: "transcription with segments",
			data: `{"type":"transcription","segments":[{"text":"hold short","start":2.1,"end":3.0}]}`,
			checkFn: func(t *testing.T, msg *LiveMessage) {
				if len(msg.Segments) != 1 {
					t.Fatalf("expected 1 segment, got %d", len(msg.Segments))
				}
				if msg.Segments[0].Start != 2.1 || msg.Segments[0].End != 3.0 {
					t.Errorf("unexpected segment times: %+v", msg.Segments[0])
				}
			},
		},
		{
			name: "error message carries detail",
			data: `{"type":"error","error":"model overloaded"}`,
			checkFn: func(t *testing.T, msg *LiveMessage) {
				if msg.Error != "model overloaded" {
					t.Errorf("unexpected error field: %q", msg.Error)
				}
			},
		},
		{
			name:        "unknown type rejected",
			data:        `{"type":"telemetry"}`,
			expectError: true,
		},
		{
			name:        "missing type rejected",
			data:        `{"lines":[]}`,
			expectError: true,
		},
		{
			name:        "empty payload rejected",
			data:        ``,
			expectError: true,
		},
		{
			name:        "invalid json rejected",
			data:        `{"type":`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseLiveMessage([]byte(tt.data))
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, msg)
			}
		})
	}
}

func TestParseTranscribeResponse(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		expectError bool
		segments    int
	}{
		{
			name:     "valid response",
			data:     `{"chunk_id":"abc","segments":[{"text":"contact ground","start":0,"end":2.5}],"language":"en","duration":2.5}`,
			segments: 1,
		},
		{
			name:     "empty segments allowed",
			data:     `{"segments":[]}`,
			segments: 0,
		},
		{
			name:        "segment end before start rejected",
			data:        `{"segments":[{"text":"x","start":3.0,"end":1.0}]}`,
			expectError: true,
		},
		{
			name:        "invalid json rejected",
			data:        `not json`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseTranscribeResponse([]byte(tt.data))
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(resp.Segments) != tt.segments {
				t.Errorf("expected %d segments, got %d", tt.segments, len(resp.Segments))
			}
		})
	}
}

func TestCleanSegments(t *testing.T) {
	in := []Segment{
		{Text: "  taxi via alpha  ", Start: 0, End: 1},
		{Text: "   ", Start: 1, End: 2},
		{Text: "", Start: 2, End: 3},
		{Text: "hold position", Start: 3, End: 4},
	}

	out := CleanSegments(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 segments after cleaning, got %d", len(out))
	}
	if out[0].Text != "taxi via alpha" {
		t.Errorf("expected trimmed text, got %q", out[0].Text)
	}
	if out[1].Text != "hold position" {
		t.Errorf("unexpected second segment: %q", out[1].Text)
	}
}

func TestOffsetSegments(t *testing.T) {
	in := []Segment{
		{Text: "a", Start: 0.5, End: 1.5},
		{Text: "b", Start: 2.0, End: 3.0},
	}

	out := OffsetSegments(in, 10.0)
	if out[0].Start != 10.5 || out[0].End != 11.5 {
		t.Errorf("unexpected first segment times: %+v", out[0])
	}
	if out[1].Start != 12.0 || out[1].End != 13.0 {
		t.Errorf("unexpected second segment times: %+v", out[1])
	}

	// Input must not be mutated.
	if in[0].Start != 0.5 {
		t.Errorf("input segment mutated: %+v", in[0])
	}

	// Zero offset returns input unchanged.
	same := OffsetSegments(in, 0)
	if len(same) != 2 || same[0].Start != 0.5 {
		t.Errorf("zero offset changed segments: %+v", same)
	}
}
