package session

import (
	"testing"

	"github.com/amidstdebug/atlas-capture/internal/protocol"
)

func TestTranscriptAppendAndEdit(t *testing.T) {
	tr := NewTranscript()

	tr.Append(
		protocol.Segment{Text: "descend flight level one two zero", Start: 0, End: 3},
		protocol.Segment{Text: "roger", Start: 3, End: 4},
	)

	if tr.Len() != 2 {
		t.Fatalf("expected 2 segments, got %d", tr.Len())
	}

	if err := tr.Edit(1, "roger, descending"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	segments := tr.Segments()
	if segments[1].Text != "roger, descending" {
		t.Errorf("edit not applied: %q", segments[1].Text)
	}
	// Timestamps survive the edit.
	if segments[1].Start != 3 || segments[1].End != 4 {
		t.Errorf("edit changed timestamps: %+v", segments[1])
	}
}

func TestTranscriptEditOutOfRange(t *testing.T) {
	tr := NewTranscript()
	tr.Append(protocol.Segment{Text: "one", Start: 0, End: 1})

	if err := tr.Edit(-1, "x"); err == nil {
		t.Error("expected error for negative index")
	}
	if err := tr.Edit(1, "x"); err == nil {
		t.Error("expected error for index past the end")
	}
}

func TestTranscriptSegmentsIsCopy(t *testing.T) {
	tr := NewTranscript()
	tr.Append(protocol.Segment{Text: "original", Start: 0, End: 1})

	segments := tr.Segments()
	segments[0].Text = "mutated"

	if tr.Segments()[0].Text != "original" {
		t.Error("Segments returned a live reference")
	}
}

func TestTranscriptBuffer(t *testing.T) {
	tr := NewTranscript()

	tr.SetBuffer("uncommitted text")
	if tr.Buffer() != "uncommitted text" {
		t.Errorf("unexpected buffer: %q", tr.Buffer())
	}

	// The buffer is rewritten wholesale by each live message.
	tr.SetBuffer("")
	if tr.Buffer() != "" {
		t.Errorf("buffer not cleared: %q", tr.Buffer())
	}
}

func TestTranscriptReset(t *testing.T) {
	tr := NewTranscript()
	tr.Append(protocol.Segment{Text: "one", Start: 0, End: 1})
	tr.SetBuffer("pending")

	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("expected empty transcript after reset, got %d segments", tr.Len())
	}
	if tr.Buffer() != "" {
		t.Errorf("expected empty buffer after reset, got %q", tr.Buffer())
	}
}
