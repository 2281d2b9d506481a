package audit

import (
	"context"

	"go.uber.org/zap"

	"ctdms/internal/domain"
)

const (
	defaultQueueSize   = 1024
	defaultMaxOverflow = 256
)

func (r *Recorder) startWorkers() {
	size := r.cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	overflow := r.cfg.MaxOverflow
	if overflow <= 0 {
		overflow = defaultMaxOverflow
	}
	r.queue = make(chan *domain.AuditEntry, size)
	r.overflow = make(chan struct{}, overflow)

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for entry := range r.queue {
				r.metrics.QueueDepth.Dec()
				r.write(context.Background(), entry)
			}
		}()
	}
	r.log.Info("recorder: async dispatch started",
		zap.Int("workers", workers), zap.Int("queue_size", size), zap.Int("max_overflow", overflow))
}

// dispatch hands entry off without waiting for the ledger. A full queue spills
// into at most cfg.MaxOverflow extra writer goroutines; past that the entry is
// dropped and counted as a write failure. It reports false once the recorder
// is closed, leaving the write to the caller.
func (r *Recorder) dispatch(ctx context.Context, entry *domain.AuditEntry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.queue <- entry:
		r.metrics.QueueDepth.Inc()
		return true
	default:
	}

	select {
	case r.overflow <- struct{}{}:
		r.metrics.OverflowWrites.Inc()
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() { <-r.overflow }()
			r.write(ctx, entry)
		}()
	default:
		r.metrics.WriteFailures.Inc()
		r.log.Error("recorder.dispatch: queue and overflow full, audit entry dropped",
			zap.String("entry_id", entry.ID.String()),
			zap.String("operation", entry.Operation),
			zap.String("status", string(entry.Status)),
			zap.Stringp("entity_id", uuidString(entry.EntityID)),
			zap.String("request_id", entry.RequestID),
		)
	}
	return true
}

// Close stops accepting queued entries and waits until the queue and any
// overflow writers are done. Records arriving afterwards are written
// synchronously.
func (r *Recorder) Close() {
	if r.queue == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("recorder: async dispatch drained")
}
