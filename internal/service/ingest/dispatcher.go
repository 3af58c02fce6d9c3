// Package ingest accepts provider webhook deliveries and defers their
// reconciliation to a sharded pool of workers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/service/reconcile"
)

var (
	// ErrQueueFull is returned by Submit when the target shard has no room.
	ErrQueueFull = errors.New("ingest queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Processor applies one recognition event to session state.
type Processor interface {
	Apply(ctx context.Context, ev models.RecognitionEvent) (reconcile.Result, error)
}

// Limits bounds the dispatcher's concurrency and buffering.
type Limits struct {
	Workers   int // Number of shards, each drained by one goroutine
	QueueSize int // Buffered events per shard before Submit fails
}

// DefaultLimits returns the default shard count and queue depth.
func DefaultLimits() Limits {
	return Limits{
		Workers:   8,
		QueueSize: 1024,
	}
}

// Dispatcher routes events to shards by session id so that one goroutine
// applies all events of a session, in the order they were submitted.
type Dispatcher struct {
	proc    Processor
	shards  []chan models.RecognitionEvent
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher starts limits.Workers shard workers feeding proc.
func NewDispatcher(proc Processor, limits Limits, m *metrics.Metrics) *Dispatcher {
	def := DefaultLimits()
	if limits.Workers <= 0 {
		limits.Workers = def.Workers
	}
	if limits.QueueSize <= 0 {
		limits.QueueSize = def.QueueSize
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		proc:    proc,
		shards:  make([]chan models.RecognitionEvent, limits.Workers),
		metrics: m,
		logger:  logging.WithComponent("dispatcher"),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range d.shards {
		d.shards[i] = make(chan models.RecognitionEvent, limits.QueueSize)
		d.wg.Add(1)
		go d.worker(i, d.shards[i])
	}

	d.logger.Info().
		Int("workers", limits.Workers).
		Int("queueSize", limits.QueueSize).
		Msg("Ingest dispatcher started")
	return d
}

// Submit queues ev without blocking. It returns ErrQueueFull when the
// session's shard is saturated and ErrClosed once shutdown has begun.
func (d *Dispatcher) Submit(ev models.RecognitionEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.shards[d.shardFor(ev.SessionID)] <- ev:
		d.metrics.RecordEnqueued()
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) shardFor(sessionID string) int {
	return int(xxhash.Sum64String(sessionID) % uint64(len(d.shards)))
}

// Close stops intake and waits for queued events to drain. If ctx expires
// first, in-flight processing is cancelled and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info().Msg("Ingest dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn().Err(ctx.Err()).Msg("Ingest dispatcher drain interrupted")
		return fmt.Errorf("drain dispatcher: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(shard int, events <-chan models.RecognitionEvent) {
	defer d.wg.Done()
	for ev := range events {
		d.metrics.RecordDequeued()
		d.process(shard, ev)
	}
}

// process applies one event. A failure or panic is contained to that event.
func (d *Dispatcher) process(shard int, ev models.RecognitionEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordProcessingError("panic")
			d.logger.Error().
				Int("shard", shard).
				Str("sessionId", ev.SessionID).
				Str("requestId", ev.RequestID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered panic while processing event")
		}
	}()

	if _, err := d.proc.Apply(d.ctx, ev); err != nil {
		d.metrics.RecordProcessingError("apply")
		d.logger.Error().
			Err(err).
			Int("shard", shard).
			Str("sessionId", ev.SessionID).
			Str("requestId", ev.RequestID).
			Msg("Failed to apply event")
	}
}
