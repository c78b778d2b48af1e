// Package audit records security-relevant actions and their outcomes.
//
// The recorder's defining contract: an entry commits independently of the
// operation it describes, the caller never blocks on the write, and a
// persistence failure is absorbed here rather than surfaced. Audit
// completeness is best-effort once persistence itself is failing, but audit
// recording must never become a reason the protected operation fails.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-iam/aegis-iam/internal/observability"
)

// Writer commits a single entry in its own transaction scope. Implemented by
// Repository (direct single-statement commit) and QueueWriter (durable queue
// consumed by the worker).
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Recorder hands entries to a dedicated writer goroutine. Log has no error
// return: failures are logged to the operational channel, counted, and
// swallowed.
type Recorder struct {
	writer    Writer
	logger    *slog.Logger
	metrics   *observability.Metrics
	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewRecorder constructs a Recorder and starts its writer goroutine.
func NewRecorder(writer Writer, logger *slog.Logger, metrics *observability.Metrics, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &Recorder{
		writer:  writer,
		logger:  logger,
		metrics: metrics,
		ch:      make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Log records one entry for the action. An empty username is recorded as
// "anonymous". The entry is dispatched without waiting for its outcome.
func (r *Recorder) Log(ctx context.Context, action, username, target, details string, status Status) {
	if r == nil || r.closed.Load() {
		return
	}
	if username == "" {
		username = AnonymousUser
	}
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Username:  username,
		Target:    target,
		Details:   details,
		Status:    status,
	}
	select {
	case r.ch <- entry:
	case <-r.done:
		// Shutdown raced the closed check; the writer may already be gone.
		r.drop("audit recorder closing, entry dropped", action, username)
	default:
		// Buffer full. Dropping beats blocking the protected operation.
		r.drop("audit buffer full, entry dropped", action, username)
	}
}

func (r *Recorder) drop(msg, action, username string) {
	r.dropped.Add(1)
	r.metrics.AuditWriteFailure()
	if r.logger != nil {
		r.logger.Error(msg,
			slog.String("action", action), slog.String("username", username))
	}
}

// LogSuccess records a SUCCESS entry.
func (r *Recorder) LogSuccess(ctx context.Context, action, username, target, details string) {
	r.Log(ctx, action, username, target, details, StatusSuccess)
}

// LogFailure records a FAILURE entry.
func (r *Recorder) LogFailure(ctx context.Context, action, username, target, details string) {
	r.Log(ctx, action, username, target, details, StatusFailure)
}

// Dropped reports how many entries could not be dispatched or persisted.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Close stops accepting entries and drains the buffer before returning.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.ch:
			r.persist(entry)
		case <-r.done:
			for {
				select {
				case entry := <-r.ch:
					r.persist(entry)
				default:
					return
				}
			}
		}
	}
}

// persist uses a background context: the entry's fate is decoupled from the
// request that produced it.
func (r *Recorder) persist(entry Entry) {
	if err := r.writer.Write(context.Background(), entry); err != nil {
		r.dropped.Add(1)
		r.metrics.AuditWriteFailure()
		if r.logger != nil {
			r.logger.Error("audit write failed",
				slog.String("action", entry.Action),
				slog.String("username", entry.Username),
				slog.Any("error", err))
		}
		return
	}
	r.metrics.AuditWritten(string(entry.Status))
}
