// Package audio handles PCM buffering, segmentation, and format conversion.
// It implements the pre-buffer ring, the activation/deactivation state
// machine that cuts the capture stream into chunks, WAV encoding and
// decoding, and RMS level metering.
package audio
