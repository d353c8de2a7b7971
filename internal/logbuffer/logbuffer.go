// Package logbuffer accumulates streamed session text in memory and flushes
// it to per-session files on a timer, so slow disks never block the stream
// path.
package logbuffer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("logbuffer: buffer closed") //nolint:gochecknoglobals

// Buffer holds per-session pending chunks. Append is cheap and lock-bounded;
// file writes happen only on flush.
type Buffer struct {
	dir      string
	interval time.Duration

	mu      sync.Mutex
	pending map[string]*pendingLog
	closed  bool

	// flushMu serializes file writes and removals. It is held across the
	// pending swap and the writes, so Complete can never see a session as
	// flushed while its chunks are still in flight to disk.
	flushMu sync.Mutex
}

// pendingLog is one session's unflushed text and the time of its oldest
// unflushed chunk.
type pendingLog struct {
	chunks []string
	since  time.Time
}

// New creates a Buffer writing under dir, creating it if needed.
func New(dir string, interval time.Duration) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logbuffer.New: %w", err)
	}
	return &Buffer{
		dir:      dir,
		interval: interval,
		pending:  map[string]*pendingLog{},
	}, nil
}

// Run flushes on the configured interval until ctx is cancelled, then does a
// final flush. Intended to be run as a goroutine.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := b.Flush(); err != nil {
				log.Error().Err(err).Msg("logbuffer: final flush failed")
			}
			return
		case <-ticker.C:
			if err := b.flush(true); err != nil {
				log.Error().Err(err).Msg("logbuffer: flush failed")
			}
		}
	}
}

// Append queues a chunk for the session. It never blocks on disk.
func (b *Buffer) Append(sessionID, chunk string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	p := b.pending[sessionID]
	if p == nil {
		p = &pendingLog{since: time.Now()}
		b.pending[sessionID] = p
	}
	p.chunks = append(p.chunks, chunk)
	return nil
}

// Flush writes all pending chunks to their session files. Per-session write
// failures are collected; one failing session does not stop the others.
func (b *Buffer) Flush() error {
	return b.flush(false)
}

// flush drains pending buffers and writes them out. With agedOnly set, only
// buffers whose oldest chunk predates the flush interval are written; fresh
// buffers wait for the next tick. Appends are never blocked by the writes.
func (b *Buffer) flush(agedOnly bool) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	cutoff := time.Now().Add(-b.interval)
	batch := map[string][]string{}
	b.mu.Lock()
	for sessionID, p := range b.pending {
		if agedOnly && p.since.After(cutoff) {
			continue
		}
		batch[sessionID] = p.chunks
		delete(b.pending, sessionID)
	}
	b.mu.Unlock()

	var errs []error
	for sessionID, chunks := range batch {
		if err := b.writeSession(sessionID, chunks); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Buffer) writeSession(sessionID string, chunks []string) error {
	path := b.path(sessionID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logbuffer: opening %s: %w", path, err)
	}

	if _, err := f.WriteString(strings.Join(chunks, "")); err != nil {
		f.Close()
		return fmt.Errorf("logbuffer: writing %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("logbuffer: syncing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("logbuffer: closing %s: %w", path, err)
	}
	return nil
}

// Complete flushes the session's remaining chunks synchronously, then removes
// its file. A session that finished cleanly leaves no trace on disk; only
// interrupted streams keep their partial logs for inspection. Holding flushMu
// across both steps keeps a concurrent timer flush from re-creating the file
// after the removal.
func (b *Buffer) Complete(sessionID string) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	p := b.pending[sessionID]
	delete(b.pending, sessionID)
	b.mu.Unlock()

	if p != nil && len(p.chunks) > 0 {
		if err := b.writeSession(sessionID, p.chunks); err != nil {
			return fmt.Errorf("logbuffer.Complete: %w", err)
		}
	}

	err := os.Remove(b.path(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("logbuffer.Complete: %w", err)
	}
	return nil
}

// CleanupStale removes session files whose last modification is older than
// maxAge, returning how many were removed.
func (b *Buffer) CleanupStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("logbuffer.CleanupStale: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "session-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, fmt.Errorf("logbuffer: stat %s: %w", name, err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil {
			errs = append(errs, fmt.Errorf("logbuffer: removing %s: %w", name, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Close flushes remaining chunks and rejects further appends.
func (b *Buffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.Flush()
}

func (b *Buffer) path(sessionID string) string {
	return filepath.Join(b.dir, "session-"+sessionID+".log")
}
