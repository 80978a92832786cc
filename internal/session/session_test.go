package session

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amidstdebug/atlas-capture/internal/audio"
	"github.com/amidstdebug/atlas-capture/internal/dispatch"
	"github.com/amidstdebug/atlas-capture/internal/protocol"
	"github.com/amidstdebug/atlas-capture/internal/queue"
	"github.com/amidstdebug/atlas-capture/internal/source"
	"github.com/amidstdebug/atlas-capture/internal/vad"
)

const (
	testRate  = 16000
	frameSize = 512
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// speechWAV writes a file with a burst of tone followed by silence, enough
// of each to drive the segmenter through a full activate/deactivate cycle.
func speechWAV(t *testing.T) string {
	t.Helper()

	voice := make([]int16, testRate/2) // 0.5s at a clearly voiced level
	for i := range voice {
		voice[i] = 8000
	}
	silence := make([]int16, testRate) // 1s of silence

	samples := append(voice, silence...)
	data, err := audio.EncodeWAV(samples, testRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "speech.wav")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write WAV: %v", err)
	}
	return path
}

func transcribeBackend(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(16 << 20)
		requests.Add(1)
		json.NewEncoder(w).Encode(protocol.TranscribeResponse{
			ChunkID:  r.FormValue("chunk_id"),
			Segments: []protocol.Segment{{Text: "cleared to land", Start: 0, End: 0.5}},
		})
	}))
}

func newHTTPSession(t *testing.T, backendURL string, lockPath string) *Session {
	t.Helper()

	detector, err := vad.NewDetector(vad.Config{
		ActivationThreshold: 0.1,
		SilenceThreshold:    0.02,
	})
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	prebuf := audio.NewPreBuffer(testRate, 100)
	segmenter := audio.NewSegmenter(audio.SegmenterConfig{
		SampleRate:       testRate,
		ActivationFrames: 1,
		SilenceFrames:    5,
		MaxChunkDuration: 30 * time.Second,
		MaxReactivations: 3,
	}, prebuf)

	client, err := dispatch.NewClient(dispatch.ClientConfig{
		BaseURL: backendURL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	store, err := queue.Open(filepath.Join(t.TempDir(), "overflow.db"), 16)
	if err != nil {
		t.Fatalf("queue.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	src, err := source.NewFile(speechWAV(t), source.FileOptions{})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	sess, err := New(Config{
		Mode:        ModeHTTP,
		SampleRate:  testRate,
		FrameSize:   frameSize,
		LockPath:    lockPath,
		StopTimeout: 5 * time.Second,
	}, Deps{
		Source:    src,
		Detector:  detector,
		PreBuffer: prebuf,
		Segmenter: segmenter,
		Client:    client,
		Queue:     store,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return sess
}

func waitForStop(t *testing.T, sess *Session) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !sess.IsRecording() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never stopped")
}

func TestSessionHTTPLifecycle(t *testing.T) {
	var requests atomic.Int64
	server := transcribeBackend(t, &requests)
	defer server.Close()

	sess := newHTTPSession(t, server.URL, "")

	if sess.IsRecording() {
		t.Fatal("session recording before Start")
	}
	if err := sess.Stop(); err != ErrNotRecording {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sess.Start(); err != ErrAlreadyRecording {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}

	// The file source hits EOF and the session stops itself.
	waitForStop(t, sess)

	if requests.Load() == 0 {
		t.Error("no chunks reached the backend")
	}
	if sess.Transcript().Len() == 0 {
		t.Error("transcript is empty after a voiced recording")
	}

	state := sess.State()
	if state.IsRecording || state.IsProcessing || state.IsWaitingForTranscription {
		t.Errorf("state not cleared after stop: %+v", state)
	}
	if state.AudioLevel != 0 {
		t.Errorf("audio level not cleared: %f", state.AudioLevel)
	}
	if state.Duration == 0 {
		t.Error("expected nonzero recorded duration")
	}
}

func TestSessionExplicitStop(t *testing.T) {
	var requests atomic.Int64
	server := transcribeBackend(t, &requests)
	defer server.Close()

	detector, _ := vad.NewDetector(vad.Config{ActivationThreshold: 0.1, SilenceThreshold: 0.02})
	prebuf := audio.NewPreBuffer(testRate, 100)
	segmenter := audio.NewSegmenter(audio.SegmenterConfig{
		SampleRate:       testRate,
		ActivationFrames: 1,
		SilenceFrames:    1000, // never deactivates on its own
		MaxChunkDuration: time.Hour,
	}, prebuf)
	client, _ := dispatch.NewClient(dispatch.ClientConfig{BaseURL: server.URL})
	store, err := queue.Open(filepath.Join(t.TempDir(), "overflow.db"), 16)
	if err != nil {
		t.Fatalf("queue.Open failed: %v", err)
	}
	defer store.Close()

	// A looping voiced source keeps the chunk open until Stop.
	src, err := source.NewFile(speechWAV(t), source.FileOptions{Paced: true, Loop: true})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	sess, err := New(Config{
		Mode:        ModeHTTP,
		SampleRate:  testRate,
		FrameSize:   frameSize,
		StopTimeout: 5 * time.Second,
	}, Deps{
		Source:    src,
		Detector:  detector,
		PreBuffer: prebuf,
		Segmenter: segmenter,
		Client:    client,
		Queue:     store,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let some voiced audio accumulate, then stop mid-chunk.
	time.Sleep(300 * time.Millisecond)
	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The accumulated audio went out as a trailing chunk.
	if requests.Load() == 0 {
		t.Error("trailing chunk never dispatched")
	}
	if sess.IsRecording() {
		t.Error("still recording after Stop")
	}
}

func TestSessionDeviceLock(t *testing.T) {
	var requests atomic.Int64
	server := transcribeBackend(t, &requests)
	defer server.Close()

	lockPath := filepath.Join(t.TempDir(), "capture.lock")

	first := newHTTPSession(t, server.URL, lockPath)
	second := newHTTPSession(t, server.URL, lockPath)

	if err := first.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	if err := second.Start(); err == nil {
		t.Error("expected second session to fail acquiring the lock")
		_ = second.Stop()
	} else if !strings.Contains(err.Error(), "capture") {
		t.Errorf("unexpected lock error: %v", err)
	}

	waitForStop(t, first)

	// Lock released on stop; a new session can start.
	third := newHTTPSession(t, server.URL, lockPath)
	if err := third.Start(); err != nil {
		t.Fatalf("Start after lock release failed: %v", err)
	}
	waitForStop(t, third)
}

func TestSessionWSLifecycle(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	frames := make(chan int, 64)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/live-transcribe" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sent := false
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			select {
			case frames <- len(data):
			default:
			}
			if !sent {
				sent = true
				_ = conn.WriteJSON(protocol.LiveMessage{
					Type:                protocol.MessageTypeTranscription,
					Segments:            []protocol.Segment{{Text: "line up and wait", Start: 0, End: 1}},
					BufferTranscription: "behind the",
				})
			}
		}
	}))
	defer server.Close()

	src, err := source.NewFile(speechWAV(t), source.FileOptions{Paced: true, Loop: true})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	sess, err := New(Config{
		Mode:       ModeWS,
		SampleRate: testRate,
		FrameSize:  frameSize,
	}, Deps{
		Source: src,
		Live: dispatch.LiveConfig{
			WSBaseURL: "ws" + strings.TrimPrefix(server.URL, "http"),
			Timeout:   5 * time.Second,
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case n := <-frames:
		if n != frameSize*2 {
			t.Errorf("expected %d-byte PCM frames, got %d", frameSize*2, n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backend never received audio")
	}

	// Wait for the live transcription to land in the transcript.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sess.Transcript().Len() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if sess.Transcript().Len() == 0 {
		t.Fatal("live segments never reached the transcript")
	}
	if sess.Transcript().Buffer() != "behind the" {
		t.Errorf("unexpected buffer text: %q", sess.Transcript().Buffer())
	}

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sess.IsRecording() {
		t.Error("still recording after Stop")
	}
}

func TestSessionWSBackendDropForcesStop(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Read one frame, then drop the connection without a close frame.
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	}))
	defer server.Close()

	src, err := source.NewFile(speechWAV(t), source.FileOptions{Paced: true, Loop: true})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	sess, err := New(Config{
		Mode:       ModeWS,
		SampleRate: testRate,
		FrameSize:  frameSize,
	}, Deps{
		Source: src,
		Live: dispatch.LiveConfig{
			WSBaseURL: "ws" + strings.TrimPrefix(server.URL, "http"),
			Timeout:   5 * time.Second,
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The dropped socket must force the session to stop on its own.
	waitForStop(t, sess)

	if sess.State().Error == "" {
		t.Error("expected a recorded error after the socket dropped")
	}
}

func TestSessionNewValidation(t *testing.T) {
	src, err := source.NewFile(speechWAV(t), source.FileOptions{})
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	tests := []struct {
		name   string
		config Config
		deps   Deps
	}{
		{
			name:   "invalid mode",
			config: Config{Mode: "udp", FrameSize: 512},
			deps:   Deps{Source: src},
		},
		{
			name:   "zero frame size",
			config: Config{Mode: ModeHTTP, FrameSize: 0},
			deps:   Deps{Source: src},
		},
		{
			name:   "missing source",
			config: Config{Mode: ModeWS, FrameSize: 512},
			deps:   Deps{},
		},
		{
			name:   "http mode missing pipeline",
			config: Config{Mode: ModeHTTP, FrameSize: 512},
			deps:   Deps{Source: src},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config, tt.deps); err == nil {
				t.Error("expected error, got none")
			}
		})
	}
}

func TestSessionOffsetsRebaseSegments(t *testing.T) {
	// Backend answers with chunk-relative timestamps; the session rebases
	// them onto the recording timeline using each chunk's start offset.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(16 << 20)
		json.NewEncoder(w).Encode(protocol.TranscribeResponse{
			ChunkID:  r.FormValue("chunk_id"),
			Segments: []protocol.Segment{{Text: "go around", Start: 0, End: 0.4}},
		})
	}))
	defer server.Close()

	sess := newHTTPSession(t, server.URL, "")
	if err := sess.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStop(t, sess)

	segments := sess.Transcript().Segments()
	if len(segments) == 0 {
		t.Fatal("no segments in transcript")
	}
	// The voiced burst starts at the head of the file, so the rebased
	// timestamps stay near zero but must not go negative.
	for _, seg := range segments {
		if seg.Start < 0 || seg.End < seg.Start {
			t.Errorf("bad rebased segment: %+v", seg)
		}
	}
}
