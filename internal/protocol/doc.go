// Package protocol defines the wire types exchanged with the ATLAS backend.
// It covers live WebSocket transcription messages, HTTP transcription
// responses, and boundary validation helpers for both.
package protocol
