package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/amidstdebug/atlas-capture/internal/audio"
	"github.com/amidstdebug/atlas-capture/internal/dispatch"
	"github.com/amidstdebug/atlas-capture/internal/metrics"
	"github.com/amidstdebug/atlas-capture/internal/protocol"
	"github.com/amidstdebug/atlas-capture/internal/queue"
	"github.com/amidstdebug/atlas-capture/internal/source"
	"github.com/amidstdebug/atlas-capture/internal/vad"
)

// Dispatch modes.
const (
	ModeHTTP = "http" // segment into chunks, POST each as WAV
	ModeWS   = "ws"   // stream frames continuously over the live socket
)

// Lifecycle errors callers branch on.
var (
	ErrNotRecording     = errors.New("session is not recording")
	ErrAlreadyRecording = errors.New("session is already recording")
)

// Config contains recording session configuration.
type Config struct {
	Mode        string
	SampleRate  int
	FrameSize   int
	LockPath    string        // capture-device lock file, empty disables locking
	StopTimeout time.Duration // time allowed for the trailing chunk on Stop
}

// Deps are the pipeline components the session owns for its lifetime.
type Deps struct {
	Source    source.Source
	Detector  *vad.Detector
	PreBuffer *audio.PreBuffer
	Segmenter *audio.Segmenter
	Client    *dispatch.Client
	Queue     *queue.Store
	Live      dispatch.LiveConfig // used when Mode == ModeWS
	Logger    *slog.Logger
	Metrics   *metrics.Metrics // may be nil in tests
}

// Session is one recording session: it owns the capture source, the
// analysis graph, the segmenter, and the dispatcher, with an explicit
// Start/Stop lifecycle and guaranteed teardown. It replaces what the
// dashboard kept in module-level closures.
type Session struct {
	config     Config
	src        source.Source
	detector   *vad.Detector
	prebuf     *audio.PreBuffer
	segmenter  *audio.Segmenter
	dispatcher *dispatch.Dispatcher
	liveConfig dispatch.LiveConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	queue      *queue.Store

	transcript *Transcript
	lock       *flock.Flock

	// Recording state, guarded by stateMu
	state       RecordingState
	samplesRead int64
	startTime   time.Time
	stateMu     sync.RWMutex

	// Chunk start offsets for rebasing response timestamps
	offsets   map[string]time.Duration
	offsetsMu sync.Mutex

	// Last observed queue eviction count, for the drops counter
	lastDrops   uint64
	lastDropsMu sync.Mutex

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	live     *dispatch.LiveSession
	stopOnce sync.Once
	running  bool
	mu       sync.Mutex
}

// New creates a recording session. No device is touched until Start.
func New(config Config, deps Deps) (*Session, error) {
	if config.Mode != ModeHTTP && config.Mode != ModeWS {
		return nil, fmt.Errorf("mode must be %q or %q, got %q", ModeHTTP, ModeWS, config.Mode)
	}
	if config.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", config.FrameSize)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("capture source is required")
	}
	if config.Mode == ModeHTTP && (deps.Detector == nil || deps.Segmenter == nil || deps.Client == nil || deps.Queue == nil) {
		return nil, fmt.Errorf("http mode requires detector, segmenter, client, and queue")
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Session{
		config:     config,
		src:        deps.Source,
		detector:   deps.Detector,
		prebuf:     deps.PreBuffer,
		segmenter:  deps.Segmenter,
		liveConfig: deps.Live,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		queue:      deps.Queue,
		transcript: NewTranscript(),
		offsets:    make(map[string]time.Duration),
	}

	if config.Mode == ModeHTTP {
		s.dispatcher = dispatch.NewDispatcher(deps.Client, deps.Queue, deps.Logger, s.onDispatchResult)
	}
	if config.LockPath != "" {
		s.lock = flock.New(config.LockPath)
	}

	return s, nil
}

// Start acquires the capture device and begins the pipeline.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRecording
	}

	if s.lock != nil {
		locked, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire capture lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("another capture session holds %s", s.config.LockPath)
		}
	}

	if err := s.src.Start(); err != nil {
		s.releaseLock()
		s.setError(err.Error())
		return fmt.Errorf("failed to start capture source: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopOnce = sync.Once{}

	if s.config.Mode == ModeWS {
		live, err := dispatch.OpenLiveSession(s.ctx, s.liveConfig)
		if err != nil {
			_ = s.src.Close()
			s.cancel()
			s.releaseLock()
			s.setError(err.Error())
			return fmt.Errorf("failed to open live session: %w", err)
		}
		s.live = live

		s.wg.Add(1)
		go s.liveRecvLoop()
	}

	now := time.Now()
	s.stateMu.Lock()
	s.state = RecordingState{IsRecording: true}
	s.samplesRead = 0
	s.startTime = now
	s.stateMu.Unlock()

	s.wg.Add(1)
	go s.captureLoop()

	s.running = true
	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}

	s.logger.Info("Recording session started",
		slog.String("mode", s.config.Mode),
		slog.Int("sample_rate", s.config.SampleRate),
		slog.Int("frame_size", s.config.FrameSize),
	)

	return nil
}

// Stop tears the session down: the capture loop exits, the source and any
// live socket are closed, the trailing chunk is dispatched, buffers are
// cleared, and the device lock is released. After Stop returns there are
// no goroutines or timers left.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRecording
	}
	s.running = false

	s.cancel()
	_ = s.src.Close()
	s.wg.Wait()

	if s.config.Mode == ModeHTTP {
		// The stream may have ended mid-chunk; send whatever accumulated.
		if final := s.segmenter.ForceFinalize(); final != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.StopTimeout)
			s.trackChunk(final)
			if err := s.dispatcher.Dispatch(ctx, final); err != nil {
				s.logger.Warn("Failed to dispatch trailing chunk",
					slog.String("chunk_id", final.ID),
					slog.String("error", err.Error()),
				)
			}
			s.dispatcher.Wait()
			cancel()
		} else {
			s.dispatcher.Wait()
		}
	}

	if s.live != nil {
		_ = s.live.Close()
		s.live = nil
	}

	if s.prebuf != nil {
		s.prebuf.Reset()
	}
	s.releaseLock()

	duration := time.Since(s.startTime)
	s.stateMu.Lock()
	s.state.IsRecording = false
	s.state.IsProcessing = false
	s.state.IsWaitingForTranscription = false
	s.state.AudioLevel = 0
	s.stateMu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionDuration.Observe(duration.Seconds())
	}

	s.logger.Info("Recording session stopped",
		slog.Duration("duration", duration),
		slog.Int("transcript_segments", s.transcript.Len()),
	)

	return nil
}

// captureLoop pumps frames from the source through the analysis graph.
func (s *Session) captureLoop() {
	defer s.wg.Done()

	frame := make([]int16, s.config.FrameSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, err := s.src.ReadFrame(frame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("Capture source exhausted")
				s.stopAsync("")
				return
			}
			if errors.Is(err, source.ErrSourceClosed) || s.ctx.Err() != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.ReadErrors.Inc()
			}
			s.logger.Error("Capture read failed", slog.String("error", err.Error()))
			s.stopAsync(err.Error())
			return
		}
		if n == 0 {
			continue
		}

		s.processFrame(frame[:n])
	}
}

func (s *Session) processFrame(frame []int16) {
	level := audio.Level(frame)

	s.stateMu.Lock()
	s.samplesRead += int64(len(frame))
	s.state.AudioLevel = level
	if s.config.SampleRate > 0 {
		s.state.Duration = time.Duration(s.samplesRead) * time.Second / time.Duration(s.config.SampleRate)
	}
	s.stateMu.Unlock()

	if s.metrics != nil {
		s.metrics.FramesProcessed.Inc()
		s.metrics.AudioLevel.Set(level)
	}

	switch s.config.Mode {
	case ModeWS:
		if err := s.live.SendAudio(s.ctx, audio.SamplesToBytes(frame)); err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error("Live frame send failed", slog.String("error", err.Error()))
				s.stopAsync(err.Error())
			}
		}

	case ModeHTTP:
		dec := s.detector.Process(frame)
		chunk := s.segmenter.Process(frame, dec)
		if chunk == nil {
			return
		}

		s.logger.Info("Chunk finalized",
			slog.String("chunk_id", chunk.ID),
			slog.Duration("duration", chunk.Duration),
			slog.String("reason", chunk.Reason),
			slog.Int("reactivations", chunk.Reactivations),
		)

		if s.metrics != nil {
			s.metrics.ChunksGenerated.Inc()
			s.metrics.ChunkDuration.Observe(chunk.Duration.Seconds())
			s.metrics.ChunkSize.Observe(float64(len(chunk.Samples) * 2))
			s.metrics.Reactivations.Add(float64(chunk.Reactivations))
			if chunk.Reason == audio.ReasonMaxDuration || chunk.Reason == audio.ReasonReactivationCap {
				s.metrics.ForceSends.Inc()
			}
		}

		s.stateMu.Lock()
		s.state.IsProcessing = true
		s.state.IsWaitingForTranscription = true
		s.stateMu.Unlock()

		s.trackChunk(chunk)
		if err := s.dispatcher.Dispatch(s.ctx, chunk); err != nil {
			s.logger.Error("Chunk dispatch failed", slog.String("error", err.Error()))
			s.setError(err.Error())
		}
		if s.metrics != nil {
			s.metrics.DispatchRequests.Inc()
			s.updateQueueMetrics()
		}
	}
}

// liveRecvLoop applies inbound live messages to the transcript. An error
// on the socket forces the session to stop.
func (s *Session) liveRecvLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case err := <-s.live.Errors():
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Live session failed, stopping recording",
				slog.String("error", err.Error()),
			)
			s.stopAsync(err.Error())
			return

		case msg, ok := <-s.live.Recv():
			if !ok {
				return
			}
			s.applyLiveMessage(msg)
		}
	}
}

func (s *Session) applyLiveMessage(msg *protocol.LiveMessage) {
	switch msg.Type {
	case protocol.MessageTypeTranscription:
		s.transcript.Append(protocol.CleanSegments(msg.Segments)...)
		s.transcript.SetBuffer(msg.BufferTranscription)

	case protocol.MessageTypeError:
		s.logger.Warn("Backend reported live error", slog.String("error", msg.Error))
		s.setError(msg.Error)
	}
}

// onDispatchResult is invoked by the dispatcher for every send outcome,
// including flushed overflow chunks.
func (s *Session) onDispatchResult(chunkID string, resp *protocol.TranscribeResponse, err error) {
	offset := s.takeOffset(chunkID)

	if err != nil {
		if s.metrics != nil {
			s.metrics.DispatchFailures.Inc()
		}
		s.setError(err.Error())
		s.clearWaitingIfIdle()
		return
	}

	if s.metrics != nil {
		s.metrics.DispatchSuccesses.Inc()
		s.updateQueueMetrics()
	}

	segments := protocol.CleanSegments(resp.Segments)
	segments = protocol.OffsetSegments(segments, offset.Seconds())
	s.transcript.Append(segments...)

	s.stateMu.Lock()
	s.state.Error = ""
	s.stateMu.Unlock()
	s.clearWaitingIfIdle()

	s.logger.Debug("Transcription received",
		slog.String("chunk_id", chunkID),
		slog.Int("segments", len(segments)),
	)
}

func (s *Session) clearWaitingIfIdle() {
	if s.dispatcher == nil || s.dispatcher.Pending() != "" {
		return
	}
	s.stateMu.Lock()
	s.state.IsProcessing = false
	s.state.IsWaitingForTranscription = false
	s.stateMu.Unlock()
}

func (s *Session) trackChunk(chunk *audio.Chunk) {
	s.offsetsMu.Lock()
	s.offsets[chunk.ID] = chunk.StartOffset
	s.offsetsMu.Unlock()
}

func (s *Session) takeOffset(chunkID string) time.Duration {
	s.offsetsMu.Lock()
	defer s.offsetsMu.Unlock()
	offset := s.offsets[chunkID]
	delete(s.offsets, chunkID)
	return offset
}

func (s *Session) updateQueueMetrics() {
	if s.queue == nil || s.metrics == nil {
		return
	}
	if depth, err := s.queue.Len(context.Background()); err == nil {
		s.metrics.QueueDepth.Set(float64(depth))
	}

	s.lastDropsMu.Lock()
	if drops := s.queue.Dropped(); drops > s.lastDrops {
		s.metrics.QueueDrops.Add(float64(drops - s.lastDrops))
		s.lastDrops = drops
	}
	s.lastDropsMu.Unlock()
}

// stopAsync requests a stop from inside a pipeline goroutine. Stop waits
// on the WaitGroup this goroutine belongs to, so it must run elsewhere.
func (s *Session) stopAsync(errMsg string) {
	if errMsg != "" {
		s.setError(errMsg)
	}
	s.stopOnce.Do(func() {
		go func() {
			if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
				s.logger.Error("Forced stop failed", slog.String("error", err.Error()))
			}
		}()
	})
}

func (s *Session) setError(msg string) {
	s.stateMu.Lock()
	s.state.Error = msg
	s.stateMu.Unlock()
}

func (s *Session) releaseLock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// State returns a snapshot of the recording state.
func (s *Session) State() RecordingState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsRecording reports whether the session is active.
func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Transcript returns the session transcript.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// DispatcherStats returns dispatcher statistics, or zero stats in live mode.
func (s *Session) DispatcherStats(ctx context.Context) dispatch.DispatcherStats {
	if s.dispatcher == nil {
		return dispatch.DispatcherStats{}
	}
	return s.dispatcher.GetStats(ctx)
}

// DetectorStats returns detector statistics, or zero stats in live mode.
func (s *Session) DetectorStats() vad.Stats {
	if s.detector == nil {
		return vad.Stats{}
	}
	return s.detector.GetStats()
}

// SegmenterStats returns segmenter statistics, or zero stats in live mode.
func (s *Session) SegmenterStats() audio.SegmenterStats {
	if s.segmenter == nil {
		return audio.SegmenterStats{}
	}
	return s.segmenter.GetStats()
}
