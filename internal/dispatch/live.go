package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amidstdebug/atlas-capture/internal/protocol"
)

// LiveSession is a live-transcribe WebSocket session: binary PCM frames go
// out, JSON transcription messages come in.
type LiveSession struct {
	conn *websocket.Conn

	recvChan  chan *protocol.LiveMessage
	errChan   chan error
	closeChan chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
}

// LiveConfig contains live session configuration.
type LiveConfig struct {
	WSBaseURL string // e.g. wss://atlas.example.com
	Token     string // appended as the token query parameter
	Timeout   time.Duration
}

// OpenLiveSession dials {wsBase}/ws/live-transcribe?token=... and starts
// the receive loop.
func OpenLiveSession(ctx context.Context, config LiveConfig) (*LiveSession, error) {
	if config.WSBaseURL == "" {
		return nil, fmt.Errorf("websocket base URL cannot be empty")
	}

	endpoint, err := url.Parse(config.WSBaseURL + "/ws/live-transcribe")
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if config.Token != "" {
		q := endpoint.Query()
		q.Set("token", config.Token)
		endpoint.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: config.Timeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	session := &LiveSession{
		conn:      conn,
		recvChan:  make(chan *protocol.LiveMessage, 16),
		errChan:   make(chan error, 1),
		closeChan: make(chan struct{}),
	}

	go session.readLoop()

	return session, nil
}

// SendAudio writes one binary PCM frame to the socket.
func (s *LiveSession) SendAudio(ctx context.Context, pcm []byte) error {
	select {
	case <-s.closeChan:
		return fmt.Errorf("live session is closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

// Recv returns the channel of parsed inbound messages.
func (s *LiveSession) Recv() <-chan *protocol.LiveMessage {
	return s.recvChan
}

// Errors returns the channel reporting the terminal session error.
// An unexpected socket closure is delivered here; the session owner is
// expected to stop recording in response.
func (s *LiveSession) Errors() <-chan error {
	return s.errChan
}

// Done is closed when the session ends for any reason.
func (s *LiveSession) Done() <-chan struct{} {
	return s.closeChan
}

func (s *LiveSession) readLoop() {
	defer close(s.recvChan)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeChan:
				// Deliberate close, not an error.
			default:
				s.errChan <- fmt.Errorf("live socket closed unexpectedly: %w", err)
				s.shutdown()
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.ParseLiveMessage(data)
		if err != nil {
			s.errChan <- err
			s.shutdown()
			return
		}

		select {
		case s.recvChan <- msg:
		case <-s.closeChan:
			return
		}
	}
}

// Close sends a close frame and tears the session down.
func (s *LiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeChan)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *LiveSession) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		_ = s.conn.Close()
	})
}
