// Package events broadcasts pipeline telemetry to external observers.
//
// The emitter queues events and ships them in batches: automatically once
// the batch size is reached, or on an explicit flush. Delivery is strictly
// best-effort. A sink failure increments a counter and retains the batch
// for the next attempt; it never stalls or fails the evolution pipeline.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the pipeline.
const (
	TypeTaskStarted    = "task_started"
	TypeTaskCompleted  = "task_completed"
	TypeTaskRejected   = "task_rejected"
	TypeCommitApplied  = "commit_applied"
	TypeRegression     = "regression_detected"
	TypeRecoveryAction = "recovery_action"
	TypeShiftCompleted = "tectonic_shift_completed"
)

// DefaultBatchSize is how many events accumulate before an auto-flush.
const DefaultBatchSize = 100

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Event is one pipeline occurrence worth broadcasting.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Batch is one transmission unit.
type Batch struct {
	BatchID   string    `json:"batch_id"`
	Timestamp time.Time `json:"timestamp"`
	Events    []*Event  `json:"events"`
	Count     int       `json:"count"`
}

// Sink delivers flushed batches. Implementations should bound their own
// network waits; the emitter treats any error as a delivery failure and
// keeps the events for the next flush.
type Sink interface {
	Deliver(ctx context.Context, batch *Batch) error
	Close() error
}

// NullSink discards every batch. It stands in when no observer is wired.
type NullSink struct{}

// Deliver discards the batch.
func (NullSink) Deliver(context.Context, *Batch) error { return nil }

// Close is a no-op.
func (NullSink) Close() error { return nil }

// Stats counts emitter activity.
type Stats struct {
	Queued         int       `json:"queued"`
	Sent           int       `json:"sent"`
	BatchesSent    int       `json:"batches_sent"`
	DeliveryErrors int       `json:"delivery_errors"`
	LastFlushAt    time.Time `json:"last_flush_at"`
	LastFlushCount int       `json:"last_flush_count"`
}

// Emitter queues events and flushes them to a sink in batches.
type Emitter struct {
	mu        sync.Mutex
	sink      Sink
	batchSize int
	pending   []*Event
	stats     Stats
	onFlush   []func(*Batch)
	logger    Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBatchSize sets the auto-flush threshold.
func WithBatchSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithEmitterLogger sets the emitter logger.
func WithEmitterLogger(logger Logger) EmitterOption {
	return func(e *Emitter) { e.logger = logger }
}

// NewEmitter builds an emitter over the given sink.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{sink: sink, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnFlush registers a callback invoked after each successful flush.
func (e *Emitter) OnFlush(fn func(*Batch)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFlush = append(e.onFlush, fn)
}

// Emit queues one event, auto-flushing once the batch size is reached.
// Delivery problems are counted and logged, never returned: emitting
// telemetry must not be able to fail the pipeline.
func (e *Emitter) Emit(ctx context.Context, eventType, taskID string, payload map[string]any) *Event {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, event)
	e.stats.Queued++

	if len(e.pending) >= e.batchSize {
		if err := e.flushLocked(ctx); err != nil {
			e.logWarn("event_flush_failed", "error", err.Error(), "pending", len(e.pending))
		}
	}
	return event
}

// Flush sends everything pending. The error reports delivery failure for
// callers that care; the events stay queued for the next attempt either way.
func (e *Emitter) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked(ctx)
}

// flushLocked assumes e.mu is held.
func (e *Emitter) flushLocked(ctx context.Context) error {
	if len(e.pending) == 0 {
		return nil
	}

	batch := &Batch{
		BatchID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Events:    e.pending,
		Count:     len(e.pending),
	}

	if err := e.sink.Deliver(ctx, batch); err != nil {
		e.stats.DeliveryErrors++
		return err
	}

	e.stats.Sent += batch.Count
	e.stats.BatchesSent++
	e.stats.LastFlushAt = batch.Timestamp
	e.stats.LastFlushCount = batch.Count
	e.pending = nil

	e.logDebug("event_batch_flushed", "batch_id", batch.BatchID, "count", batch.Count)
	for _, fn := range e.onFlush {
		fn(batch)
	}
	return nil
}

// Pending reports how many events await the next flush.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Stats returns a copy of the counters.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close flushes what it can and releases the sink.
func (e *Emitter) Close(ctx context.Context) error {
	flushErr := e.Flush(ctx)
	if err := e.sink.Close(); err != nil {
		return err
	}
	return flushErr
}

func (e *Emitter) logDebug(msg string, kv ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, kv...)
	}
}

func (e *Emitter) logWarn(msg string, kv ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, kv...)
	}
}
