// Command mock-backend is a standalone transcription backend for local
// development. It accepts chunk uploads on /transcribe, speaks the
// live-transcribe WebSocket protocol on /ws/live-transcribe, and returns
// canned segments derived from the received audio's duration.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amidstdebug/atlas-capture/internal/audio"
	"github.com/amidstdebug/atlas-capture/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	chunkID := r.FormValue("chunk_id")

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid WAV: %v", err), http.StatusBadRequest)
		return
	}

	log.Printf("chunk received: id=%s file=%s size=%d duration=%.2fs rate=%d",
		chunkID, header.Filename, len(data), info.Duration, info.SampleRate)

	resp := protocol.TranscribeResponse{
		ChunkID: chunkID,
		Segments: []protocol.Segment{
			{
				Text:  fmt.Sprintf("[mock transcription of %.2fs chunk]", info.Duration),
				Start: 0,
				End:   info.Duration,
			},
		},
		Language: "en",
		Duration: info.Duration,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func liveHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.LiveMessage{Type: protocol.MessageTypeReady}); err != nil {
		return
	}

	var bytesReceived int
	start := time.Now()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("live session closed: %v (received %d bytes in %s)",
				err, bytesReceived, time.Since(start).Round(time.Second))
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		bytesReceived += len(data)

		// Echo a rolling transcript roughly once per second of audio
		// at 16 kHz mono 16-bit.
		elapsed := float64(bytesReceived) / (16000 * 2)
		msg := protocol.LiveMessage{
			Type: protocol.MessageTypeTranscription,
			Lines: []protocol.LiveLine{
				{Text: fmt.Sprintf("[mock live transcript, %.1fs received]", elapsed), Start: 0, End: elapsed},
			},
			BufferTranscription: "...",
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	http.HandleFunc("/transcribe", transcribeHandler)
	http.HandleFunc("/ws/live-transcribe", liveHandler)
	http.HandleFunc("/health", healthHandler)

	log.Printf("mock backend listening on %s", *addr)
	log.Printf("  POST %s/transcribe", *addr)
	log.Printf("  WS   %s/ws/live-transcribe", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal(err)
	}
}
