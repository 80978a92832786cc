package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amidstdebug/atlas-capture/internal/vad"
)

// SegmentState is the explicit state of the activation machine.
type SegmentState int

const (
	// StateInactive: no chunk open; frames flow into the pre-buffer only.
	StateInactive SegmentState = iota
	// StateActive: a chunk is open and accumulating frames.
	StateActive
	// StateDraining: energy fell into the silence band; counting consecutive
	// silent frames before the chunk is finalized. Voice resurgence here is a
	// reactivation.
	StateDraining
)

// String returns the state name for logs and stats.
func (s SegmentState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "inactive"
	}
}

// Finalize reasons recorded on emitted chunks.
const (
	ReasonSilence         = "silence"
	ReasonMaxDuration     = "max_duration"
	ReasonReactivationCap = "reactivation_cap"
	ReasonStop            = "stop"
)

// Chunk is a bounded span of recorded audio emitted as one upload unit.
type Chunk struct {
	ID            string        `json:"chunk_id"`
	Samples       []int16       `json:"-"`
	SampleRate    int           `json:"sample_rate"`
	StartOffset   time.Duration `json:"start_offset"` // position in the session timeline
	Duration      time.Duration `json:"duration"`
	Reason        string        `json:"reason"`
	Reactivations int           `json:"reactivations"`
	CreatedAt     time.Time     `json:"created_at"`
}

// SegmenterConfig contains activation state machine configuration.
type SegmenterConfig struct {
	SampleRate       int
	ActivationFrames int           // consecutive voice frames required to activate
	SilenceFrames    int           // consecutive silent frames required to deactivate
	MaxChunkDuration time.Duration // force-send cap regardless of energy state
	MaxReactivations int           // reactivations allowed per chunk before a send is forced
	Overlap          time.Duration // chunk tail retained to seed the next chunk
}

// Segmenter runs the activation/deactivation state machine over detector
// decisions and accumulates PCM frames into chunks. All timing is derived
// from sample counts, so behavior is deterministic for a given input.
type Segmenter struct {
	config SegmenterConfig
	prebuf *PreBuffer
	state  SegmentState

	accum []int16 // samples of the open chunk
	carry []int16 // overlap tail retained from the previous chunk

	voiceRun      int // consecutive voice frames while inactive
	silenceRun    int // consecutive silent frames while draining
	reactivations int // reactivations of the open chunk

	consumed     int64 // total samples ever fed through the segmenter
	chunkStart   int64 // value of consumed when the open chunk began
	forcePending bool  // reactivation cap exhausted; next evaluation sends

	// Statistics
	chunksCreated      uint64
	totalReactivations uint64
	totalDuration      time.Duration

	mu sync.Mutex
}

// SegmenterStats reports segmenter state for monitoring.
type SegmenterStats struct {
	State              string        `json:"state"`
	ChunksCreated      uint64        `json:"chunks_created"`
	TotalReactivations uint64        `json:"total_reactivations"`
	TotalDuration      time.Duration `json:"total_duration"`
	CurrentSamples     int           `json:"current_chunk_samples"`
	PreBufferSamples   int           `json:"prebuffer_samples"`
}

// NewSegmenter creates a segmenter that drains the given pre-buffer into
// each new chunk on activation.
func NewSegmenter(config SegmenterConfig, prebuf *PreBuffer) *Segmenter {
	if config.ActivationFrames < 1 {
		config.ActivationFrames = 1
	}
	if config.SilenceFrames < 1 {
		config.SilenceFrames = 1
	}
	return &Segmenter{
		config: config,
		prebuf: prebuf,
		state:  StateInactive,
	}
}

// Process feeds one frame and its detector decision through the state
// machine. It returns a finalized chunk when one is ready, else nil.
func (s *Segmenter) Process(frame []int16, dec *vad.Decision) *Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consumed += int64(len(frame))

	switch s.state {
	case StateInactive:
		s.prebuf.Write(frame)

		if dec.Voice {
			s.voiceRun++
		} else {
			s.voiceRun = 0
		}

		if s.voiceRun >= s.config.ActivationFrames {
			s.activate()
		}
		return nil

	case StateActive:
		s.accum = append(s.accum, frame...)

		if chunk := s.checkMaxDuration(); chunk != nil {
			return chunk
		}

		if dec.Silent {
			s.state = StateDraining
			s.silenceRun = 1
		}
		return nil

	case StateDraining:
		s.accum = append(s.accum, frame...)

		if chunk := s.checkMaxDuration(); chunk != nil {
			return chunk
		}

		if dec.Voice {
			if s.forcePending || s.reactivations >= s.config.MaxReactivations {
				// Cap exhausted: this silence period ends the chunk instead
				// of granting another reactivation.
				return s.finalize(ReasonReactivationCap)
			}
			s.reactivations++
			s.totalReactivations++
			s.silenceRun = 0
			s.state = StateActive
			if s.reactivations >= s.config.MaxReactivations {
				s.forcePending = true
			}
			return nil
		}

		if dec.Silent {
			s.silenceRun++
			if s.silenceRun >= s.config.SilenceFrames {
				return s.finalize(ReasonSilence)
			}
			return nil
		}

		// Energy left the silence band without reaching the activation
		// threshold: the silence run is broken, but this is not a
		// reactivation.
		s.silenceRun = 0
		s.state = StateActive
		return nil
	}

	return nil
}

// activate opens a new chunk seeded with the overlap carry and the
// pre-buffer contents, so the detected onset keeps its leading audio.
func (s *Segmenter) activate() {
	s.state = StateActive
	s.voiceRun = 0
	s.silenceRun = 0
	s.reactivations = 0
	s.forcePending = false

	pre := s.prebuf.Drain()
	s.accum = make([]int16, 0, len(s.carry)+len(pre))
	s.accum = append(s.accum, s.carry...)
	s.accum = append(s.accum, pre...)
	s.carry = nil

	s.chunkStart = s.consumed - int64(len(s.accum))
	if s.chunkStart < 0 {
		s.chunkStart = 0
	}
}

func (s *Segmenter) checkMaxDuration() *Chunk {
	if s.config.MaxChunkDuration <= 0 {
		return nil
	}
	maxSamples := int(s.config.MaxChunkDuration.Seconds() * float64(s.config.SampleRate))
	if len(s.accum) >= maxSamples {
		return s.finalize(ReasonMaxDuration)
	}
	return nil
}

// finalize closes the open chunk, retains the overlap tail for the next
// one, and resets the machine to inactive.
func (s *Segmenter) finalize(reason string) *Chunk {
	if len(s.accum) == 0 {
		s.resetLocked()
		return nil
	}

	samples := s.accum
	chunk := &Chunk{
		ID:            uuid.NewString(),
		Samples:       samples,
		SampleRate:    s.config.SampleRate,
		StartOffset:   samplesToDuration(s.chunkStart, s.config.SampleRate),
		Duration:      samplesToDuration(int64(len(samples)), s.config.SampleRate),
		Reason:        reason,
		Reactivations: s.reactivations,
		CreatedAt:     time.Now(),
	}

	if s.config.Overlap > 0 {
		overlapSamples := int(s.config.Overlap.Seconds() * float64(s.config.SampleRate))
		if overlapSamples > len(samples) {
			overlapSamples = len(samples)
		}
		s.carry = append([]int16(nil), samples[len(samples)-overlapSamples:]...)
	}

	s.chunksCreated++
	s.totalDuration += chunk.Duration
	s.resetLocked()

	return chunk
}

func (s *Segmenter) resetLocked() {
	s.state = StateInactive
	s.accum = nil
	s.voiceRun = 0
	s.silenceRun = 0
	s.reactivations = 0
	s.forcePending = false
}

// ForceFinalize closes the open chunk regardless of state. Used when the
// recording session stops with audio still accumulated.
func (s *Segmenter) ForceFinalize() *Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateInactive {
		return nil
	}
	return s.finalize(ReasonStop)
}

// State returns the current machine state.
func (s *Segmenter) State() SegmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetStats returns current segmenter statistics.
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmenterStats{
		State:              s.state.String(),
		ChunksCreated:      s.chunksCreated,
		TotalReactivations: s.totalReactivations,
		TotalDuration:      s.totalDuration,
		CurrentSamples:     len(s.accum),
		PreBufferSamples:   s.prebuf.Len(),
	}
}

func samplesToDuration(samples int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
