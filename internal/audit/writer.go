// Package audit persists the execution audit trail without slowing the
// executor's hot path. Entries go through a buffered channel into a
// worker that batches writes to storage; Stop drains the buffer fully
// so a graceful shutdown loses nothing.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/domain"
)

// BatchSink is where batches physically land (Postgres, memory).
type BatchSink interface {
	WriteAuditBatch(ctx context.Context, entries []domain.AuditLogEntry) error
}

// GaugeSetter lets the writer report buffer fill without pulling in
// the metrics package.
type GaugeSetter interface {
	Set(float64)
}

const batchLimit = 100

type Writer struct {
	ch     chan domain.AuditLogEntry
	sink   BatchSink
	logger *zap.Logger
	gauge  GaugeSetter
	flush  time.Duration
	wg     sync.WaitGroup

	// mu orders Log's send against Stop's close: senders hold the read
	// side, so the channel can only close once no send is in flight.
	mu     sync.RWMutex
	closed bool
}

func NewWriter(sink BatchSink, bufferSize int, flushInterval time.Duration, gauge GaugeSetter, logger *zap.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Writer{
		ch:     make(chan domain.AuditLogEntry, bufferSize),
		sink:   sink,
		logger: logger.Named("audit"),
		gauge:  gauge,
		flush:  flushInterval,
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.worker()
}

// Stop locks the entrance and waits for the worker to drain and flush
// everything still buffered. Safe to call twice.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.logger.Info("stopping audit writer, flushing buffer")
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("audit writer stopped")
}

// Log enqueues one entry. When the buffer is full the entry is shed to
// the process log instead of blocking the executor.
func (w *Writer) Log(entry domain.AuditLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		w.logger.Warn("audit entry dropped: writer is stopping", zap.String("id", entry.ID))
		return
	}
	select {
	case w.ch <- entry:
	default:
		w.logger.Error("audit_buffer_overflow",
			zap.String("action_id", entry.ActionID),
			zap.String("actor", entry.Actor),
		)
	}
	w.mu.RUnlock()

	if w.gauge != nil {
		w.gauge.Set(float64(len(w.ch)))
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()

	batch := make([]domain.AuditLogEntry, 0, batchLimit)
	ticker := time.NewTicker(w.flush)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background context: the main context may already be gone
		// during the final flush.
		if err := w.sink.WriteAuditBatch(context.Background(), batch); err != nil {
			w.logger.Error("audit flush failed", zap.Error(err), zap.Int("batch", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.ch:
			if !ok {
				// Closed channel: everything buffered has been read,
				// final flush and exit.
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchLimit {
				flush()
			}
		case <-ticker.C:
			flush()
			if w.gauge != nil {
				w.gauge.Set(float64(len(w.ch)))
			}
		}
	}
}
