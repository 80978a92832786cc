package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// ErrEmpty is returned by Next when the queue holds no chunks.
var ErrEmpty = errors.New("overflow queue is empty")

// QueuedChunk is one overflow entry awaiting dispatch.
type QueuedChunk struct {
	ChunkID    string
	Audio      []byte // encoded WAV blob
	SampleRate int
	CreatedAt  time.Time
}

// Store manages overflow queue persistence backed by SQLite.
//
// The queue is bounded: enqueueing at capacity evicts the oldest entry,
// so a dead backend degrades the transcript instead of growing storage
// without limit.
type Store struct {
	db        *sql.DB
	path      string
	maxChunks int
	dropped   atomic.Uint64
}

// Open initializes or connects to the overflow database at path.
// maxChunks bounds the queue; values below 1 fall back to 1.
func Open(path string, maxChunks int) (*Store, error) {
	if maxChunks < 1 {
		maxChunks = 1
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, maxChunks: maxChunks}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue appends a chunk to the queue. At capacity the oldest entry is
// evicted first and counted as dropped.
func (s *Store) Enqueue(ctx context.Context, chunkID string, audio []byte, sampleRate int) error {
	if chunkID == "" {
		return fmt.Errorf("chunk id cannot be empty")
	}
	if len(audio) == 0 {
		return fmt.Errorf("chunk audio cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM overflow_chunks").Scan(&count); err != nil {
		return fmt.Errorf("count queued chunks: %w", err)
	}

	for count >= s.maxChunks {
		res, evictErr := tx.ExecContext(ctx,
			"DELETE FROM overflow_chunks WHERE id = (SELECT MIN(id) FROM overflow_chunks)")
		if evictErr != nil {
			return fmt.Errorf("evict oldest chunk: %w", evictErr)
		}
		evicted, _ := res.RowsAffected()
		if evicted == 0 {
			break
		}
		s.dropped.Add(uint64(evicted))
		count -= int(evicted)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO overflow_chunks (chunk_id, audio, sample_rate, created_at) VALUES (?, ?, ?, ?)",
		chunkID, audio, sampleRate, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", chunkID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}

	return nil
}

// Next returns the oldest queued chunk without removing it, or ErrEmpty.
func (s *Store) Next(ctx context.Context) (*QueuedChunk, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT chunk_id, audio, sample_rate, created_at FROM overflow_chunks ORDER BY id ASC LIMIT 1")

	var chunk QueuedChunk
	var createdAt string
	if err := row.Scan(&chunk.ChunkID, &chunk.Audio, &chunk.SampleRate, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("read next chunk: %w", err)
	}

	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		chunk.CreatedAt = parsed
	}

	return &chunk, nil
}

// Remove deletes a chunk after it has been acknowledged by the backend.
func (s *Store) Remove(ctx context.Context, chunkID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM overflow_chunks WHERE chunk_id = ?", chunkID)
	if err != nil {
		return fmt.Errorf("remove chunk %s: %w", chunkID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("chunk %s not found in queue", chunkID)
	}
	return nil
}

// Len returns the number of queued chunks.
func (s *Store) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM overflow_chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("count queued chunks: %w", err)
	}
	return count, nil
}

// Dropped returns the number of chunks evicted at capacity since open.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

// Flush drains the queue in insertion order, invoking send for each chunk.
// A chunk is removed only after send returns nil, so every queued chunk is
// delivered exactly once per acknowledgment; the first failure stops the
// flush and leaves the remainder queued.
func (s *Store) Flush(ctx context.Context, send func(*QueuedChunk) error) (int, error) {
	flushed := 0
	for {
		chunk, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrEmpty) {
				return flushed, nil
			}
			return flushed, err
		}

		if err := send(chunk); err != nil {
			return flushed, fmt.Errorf("flush chunk %s: %w", chunk.ChunkID, err)
		}

		if err := s.Remove(ctx, chunk.ChunkID); err != nil {
			return flushed, err
		}
		flushed++
	}
}
