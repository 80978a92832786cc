// Package source abstracts audio acquisition for the capture pipeline.
// It provides a microphone source backed by PortAudio and a WAV-file
// source with real-time pacing for simulated sessions.
package source
