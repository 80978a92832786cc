package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Detector classifies PCM frames as voice or silence from their RMS energy.
//
// Two thresholds define three bands: at or above ActivationThreshold a frame
// counts as voice; at or below SilenceThreshold it sits within the silence
// band; between the two it is neither, which gives the segmenter hysteresis
// so a level hovering near one threshold cannot chatter the state machine.
type Detector struct {
	config Config

	// Detection state
	lastLevel float64
	smoothed  float64

	// Statistics
	totalFrames   uint64
	voiceFrames   uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Config contains energy detector configuration.
type Config struct {
	ActivationThreshold float64 // normalized RMS level at which a frame counts as voice
	SilenceThreshold    float64 // normalized RMS level at or below which a frame is silent
	Smoothing           float64 // exponential smoothing factor for the level, 0 disables
}

// Decision is the per-frame classification consumed by the segmenter.
type Decision struct {
	Level    float64   `json:"level"`    // raw normalized RMS of the frame
	Smoothed float64   `json:"smoothed"` // smoothed level the thresholds are applied to
	Voice    bool      `json:"voice"`    // smoothed level reached the activation threshold
	Silent   bool      `json:"silent"`   // smoothed level within the silence band
	At       time.Time `json:"at"`
}

// Stats reports detector counters for monitoring.
type Stats struct {
	TotalFrames     uint64  `json:"total_frames"`
	VoiceFrames     uint64  `json:"voice_frames"`
	VoicePercentage float64 `json:"voice_percentage"`
	LastLevel       float64 `json:"last_level"`
}

// NewDetector creates an energy detector.
func NewDetector(config Config) (*Detector, error) {
	if config.ActivationThreshold <= 0 || config.ActivationThreshold > 1 {
		return nil, fmt.Errorf("activation threshold must be in (0, 1], got %f", config.ActivationThreshold)
	}
	if config.SilenceThreshold < 0 || config.SilenceThreshold > config.ActivationThreshold {
		return nil, fmt.Errorf("silence threshold must be in [0, activation threshold], got %f", config.SilenceThreshold)
	}
	if config.Smoothing < 0 || config.Smoothing >= 1 {
		return nil, fmt.Errorf("smoothing must be in [0, 1), got %f", config.Smoothing)
	}

	return &Detector{config: config}, nil
}

// Process classifies one frame of PCM samples.
func (d *Detector) Process(samples []int16) *Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	level := rms(samples)

	smoothed := level
	if d.config.Smoothing > 0 && d.totalFrames > 0 {
		smoothed = d.config.Smoothing*d.smoothed + (1-d.config.Smoothing)*level
	}

	d.lastLevel = level
	d.smoothed = smoothed
	d.totalFrames++
	d.lastProcessed = time.Now()

	voice := smoothed >= d.config.ActivationThreshold
	if voice {
		d.voiceFrames++
	}

	return &Decision{
		Level:    level,
		Smoothed: smoothed,
		Voice:    voice,
		Silent:   smoothed <= d.config.SilenceThreshold,
		At:       d.lastProcessed,
	}
}

// rms computes the RMS energy of a PCM-16 frame, normalized to 0..1.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	level := math.Sqrt(sum/float64(len(samples))) / 32768.0
	if level > 1 {
		level = 1
	}
	return level
}

// Reset clears the detector state and counters.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLevel = 0
	d.smoothed = 0
	d.totalFrames = 0
	d.voiceFrames = 0
}

// LastLevel returns the most recent raw frame level.
func (d *Detector) LastLevel() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastLevel
}

// GetStats returns current detector statistics.
func (d *Detector) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	voicePercentage := float64(0)
	if d.totalFrames > 0 {
		voicePercentage = float64(d.voiceFrames) / float64(d.totalFrames) * 100
	}

	return Stats{
		TotalFrames:     d.totalFrames,
		VoiceFrames:     d.voiceFrames,
		VoicePercentage: voicePercentage,
		LastLevel:       d.lastLevel,
	}
}
