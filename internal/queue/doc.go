// Package queue implements the bounded durable overflow queue for audio
// chunks that cannot be dispatched while another chunk is pending. It is
// backed by SQLite, drains in FIFO order, and evicts the oldest entry when
// the configured capacity is reached.
package queue
