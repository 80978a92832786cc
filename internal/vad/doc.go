// Package vad provides energy-based voice activity detection.
// It classifies PCM frames against an activation threshold and a silence
// band, with optional level smoothing, and feeds the segmenter's
// activation state machine.
package vad
