package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amidstdebug/atlas-capture/internal/protocol"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error for empty base URL")
	}

	client, err := NewClient(ClientConfig{BaseURL: "http://localhost:8000"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client == nil {
		t.Fatal("expected client")
	}
}

func TestClientTranscribe(t *testing.T) {
	var gotAuth, gotChunkID, gotFilename string
	var gotFileSize int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		gotChunkID = r.FormValue("chunk_id")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		gotFilename = header.Filename
		buf := make([]byte, 1024)
		n, _ := file.Read(buf)
		gotFileSize = n

		json.NewEncoder(w).Encode(protocol.TranscribeResponse{
			Segments: []protocol.Segment{{Text: "say again", Start: 0, End: 1.2}},
			Language: "en",
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		BaseURL: server.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	wav := []byte("fake-wav-bytes")
	resp, err := client.Transcribe(context.Background(), "chunk-42", wav)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if gotChunkID != "chunk-42" {
		t.Errorf("unexpected chunk_id field: %q", gotChunkID)
	}
	if gotFilename != "chunk-42.wav" {
		t.Errorf("unexpected filename: %q", gotFilename)
	}
	if gotFileSize != len(wav) {
		t.Errorf("expected %d file bytes, got %d", len(wav), gotFileSize)
	}

	if len(resp.Segments) != 1 || resp.Segments[0].Text != "say again" {
		t.Errorf("unexpected response: %+v", resp)
	}
	// The client backfills the chunk ID when the backend omits it.
	if resp.ChunkID != "chunk-42" {
		t.Errorf("expected backfilled chunk ID, got %q", resp.ChunkID)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClientTranscribeHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Transcribe(context.Background(), "chunk-1", []byte("wav")); err == nil {
		t.Fatal("expected error for 503 response")
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestClientHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := client.Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	healthy = false
	if err := client.Health(context.Background()); err == nil {
		t.Error("expected error for unhealthy backend")
	}
}
