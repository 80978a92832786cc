package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/amidstdebug/atlas-capture/internal/audio"
	"github.com/amidstdebug/atlas-capture/internal/protocol"
	"github.com/amidstdebug/atlas-capture/internal/queue"
)

// ResultHandler receives the outcome of every chunk send, including sends
// of queued chunks during a flush. resp is nil when err is non-nil.
type ResultHandler func(chunkID string, resp *protocol.TranscribeResponse, err error)

// Dispatcher encodes chunks to WAV and sends them to the backend while
// enforcing the pending-chunk invariant: at most one chunk is in flight.
// Chunks produced while a send is outstanding spill into the durable
// overflow queue; the backend's acknowledgment triggers an in-order flush.
//
// A failed send retains its samples, which are coalesced into the next
// chunk rather than retried with backoff.
type Dispatcher struct {
	client   *Client
	store    *queue.Store
	logger   *slog.Logger
	onResult ResultHandler

	pendingID string  // chunk currently in flight, empty when idle
	busy      bool    // gate covering the in-flight send and any flush
	retained  []int16 // samples of the last failed send

	wg sync.WaitGroup
	mu sync.Mutex
}

// DispatcherStats reports dispatcher state for monitoring.
type DispatcherStats struct {
	PendingChunkID  string      `json:"pending_chunk_id,omitempty"`
	QueuedChunks    int         `json:"queued_chunks"`
	DroppedChunks   uint64      `json:"dropped_chunks"`
	RetainedSamples int         `json:"retained_samples"`
	Client          ClientStats `json:"client"`
}

// NewDispatcher creates a dispatcher over the given client and overflow
// store. onResult may be nil.
func NewDispatcher(client *Client, store *queue.Store, logger *slog.Logger, onResult ResultHandler) *Dispatcher {
	if onResult == nil {
		onResult = func(string, *protocol.TranscribeResponse, error) {}
	}
	return &Dispatcher{
		client:   client,
		store:    store,
		logger:   logger,
		onResult: onResult,
	}
}

// Dispatch accepts a finalized chunk. If no send is outstanding, the chunk
// goes out immediately on a background goroutine; otherwise it is encoded
// and spilled to the overflow queue. Samples retained from a previous
// failed send are prepended first.
func (d *Dispatcher) Dispatch(ctx context.Context, chunk *audio.Chunk) error {
	d.mu.Lock()

	samples := chunk.Samples
	if len(d.retained) > 0 {
		merged := make([]int16, 0, len(d.retained)+len(samples))
		merged = append(merged, d.retained...)
		merged = append(merged, samples...)
		samples = merged
		d.retained = nil
	}

	wav, err := audio.EncodeWAV(samples, chunk.SampleRate)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to encode chunk %s: %w", chunk.ID, err)
	}

	if d.busy {
		d.mu.Unlock()
		if err := d.store.Enqueue(ctx, chunk.ID, wav, chunk.SampleRate); err != nil {
			return fmt.Errorf("failed to queue chunk %s: %w", chunk.ID, err)
		}
		d.logger.Debug("Chunk queued behind pending send",
			slog.String("chunk_id", chunk.ID),
			slog.Int("samples", len(samples)),
		)
		// The pending send may have been acknowledged and its flush
		// finished between the gate check and the insert committing,
		// which would strand this chunk until the next dispatch. Reclaim
		// the gate and flush if so.
		d.reclaimIfIdle(ctx)
		return nil
	}

	d.busy = true
	d.pendingID = chunk.ID
	d.mu.Unlock()

	d.wg.Add(1)
	go d.send(ctx, chunk.ID, wav, samples)

	return nil
}

func (d *Dispatcher) send(ctx context.Context, chunkID string, wav []byte, samples []int16) {
	defer d.wg.Done()

	resp, err := d.client.Transcribe(ctx, chunkID, wav)
	if err != nil {
		d.mu.Lock()
		d.busy = false
		d.pendingID = ""
		d.retained = samples
		d.mu.Unlock()

		d.logger.Warn("Chunk send failed, samples retained",
			slog.String("chunk_id", chunkID),
			slog.Int("samples", len(samples)),
			slog.String("error", err.Error()),
		)
		d.onResult(chunkID, nil, err)
		return
	}

	d.onResult(chunkID, resp, nil)

	// Acknowledgment received: flush the overflow queue while still
	// holding the gate.
	d.drainQueue(ctx)
}

// reclaimIfIdle claims the gate and starts a background flush of the
// overflow queue if no send is outstanding. Otherwise the holder of the
// gate flushes on acknowledgment.
func (d *Dispatcher) reclaimIfIdle(ctx context.Context) {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return
	}
	d.busy = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.drainQueue(ctx)
	}()
}

// drainQueue flushes the overflow queue in insertion order, so chunks
// arriving mid-flush queue behind the ones already waiting, then releases
// the gate. The caller must hold the gate.
func (d *Dispatcher) drainQueue(ctx context.Context) {
	flushed, flushErr := d.store.Flush(ctx, func(queued *queue.QueuedChunk) error {
		d.mu.Lock()
		d.pendingID = queued.ChunkID
		d.mu.Unlock()

		queuedResp, sendErr := d.client.Transcribe(ctx, queued.ChunkID, queued.Audio)
		if sendErr != nil {
			return sendErr
		}
		d.onResult(queued.ChunkID, queuedResp, nil)
		return nil
	})

	d.mu.Lock()
	d.busy = false
	d.pendingID = ""
	d.mu.Unlock()

	if flushErr != nil {
		d.logger.Warn("Overflow flush stopped on error, remainder stays queued",
			slog.Int("flushed", flushed),
			slog.String("error", flushErr.Error()),
		)
	} else if flushed > 0 {
		d.logger.Info("Overflow queue flushed",
			slog.Int("flushed", flushed),
		)
	}
}

// Pending returns the ID of the chunk currently in flight, or "".
func (d *Dispatcher) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingID
}

// Wait blocks until all in-flight sends have completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// GetStats returns current dispatcher statistics.
func (d *Dispatcher) GetStats(ctx context.Context) DispatcherStats {
	d.mu.Lock()
	pendingID := d.pendingID
	retained := len(d.retained)
	d.mu.Unlock()

	queued, err := d.store.Len(ctx)
	if err != nil {
		queued = -1
	}

	return DispatcherStats{
		PendingChunkID:  pendingID,
		QueuedChunks:    queued,
		DroppedChunks:   d.store.Dropped(),
		RetainedSamples: retained,
		Client:          d.client.GetStats(),
	}
}
