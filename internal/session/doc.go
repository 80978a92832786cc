// Package session implements the recording session lifecycle. A session
// owns the capture source, level metering, voice detection, segmentation,
// and dispatch for one recording, exposes the reactive recording state and
// the ordered transcript, and guarantees teardown on stop.
package session
