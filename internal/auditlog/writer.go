package auditlog

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/model"
)

// Writer is an async audit-trail writer. Record performs a non-blocking
// channel send (drops on overflow). A background goroutine flushes batches
// to the audit repo.
type Writer struct {
	repo      docstore.AuditRepo
	queue     chan model.AuditEntry
	flushCh   chan chan struct{}
	batchSize int
	interval  time.Duration

	dropped atomic.Int64
	flushed atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures the audit writer.
type Config struct {
	Repo          docstore.AuditRepo
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
}

const flushTimeout = 10 * time.Second

// New creates an audit writer. Call Start to launch the flush loop.
func New(cfg Config) *Writer {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 8192
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 512
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Writer{
		repo:      cfg.Repo,
		queue:     make(chan model.AuditEntry, queueSize),
		flushCh:   make(chan chan struct{}),
		batchSize: batchSize,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.flushLoop()
}

// Stop signals the flush loop to stop, drains remaining entries, and returns.
func (w *Writer) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// Record enqueues an audit entry. Non-blocking; drops on overflow.
func (w *Writer) Record(entry model.AuditEntry) {
	select {
	case w.queue <- entry:
	default:
		w.dropped.Add(1)
	}
}

// Barrier flushes everything queued so far and waits for the write.
// Admin reads call this to see occurrences recorded moments ago.
func (w *Writer) Barrier(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case w.flushCh <- done:
	case <-w.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports writer counters for the admin stats surface.
type Stats struct {
	Queued  int   `json:"queued"`
	Dropped int64 `json:"dropped"`
	Flushed int64 `json:"flushed"`
}

func (w *Writer) Stats() Stats {
	return Stats{
		Queued:  len(w.queue),
		Dropped: w.dropped.Load(),
		Flushed: w.flushed.Load(),
	}
}

// flushLoop runs until stopCh is closed, flushing on batch-size or timer.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	batch := make([]model.AuditEntry, 0, w.batchSize)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-w.queue:
			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}

		case done := <-w.flushCh:
			batch = w.drainAndFlush(batch)
			close(done)

		case <-w.stopCh:
			w.drainAndFlush(batch)
			return
		}
	}
}

// drainAndFlush empties the queue into batch and flushes whatever is left.
// Returns the reusable (emptied) batch slice.
func (w *Writer) drainAndFlush(batch []model.AuditEntry) []model.AuditEntry {
	for {
		select {
		case entry := <-w.queue:
			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
			return batch
		}
	}
}

func (w *Writer) flush(entries []model.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := w.repo.InsertAuditBatch(ctx, entries); err != nil {
		log.Printf("[auditlog] flush %d entries failed: %v", len(entries), err)
		return
	}
	w.flushed.Add(int64(len(entries)))
	log.Printf("[auditlog] flushed %d entries", len(entries))
}
