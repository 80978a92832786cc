// Package dispatch sends finalized audio chunks to the ATLAS backend.
// It provides the multipart HTTP transcription client, the live
// WebSocket session, and the dispatcher that enforces the single
// pending-chunk invariant with durable overflow queueing.
package dispatch
