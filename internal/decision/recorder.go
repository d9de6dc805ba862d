package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/TimurManjosov/flagledger/internal/clock"
	"github.com/TimurManjosov/flagledger/internal/telemetry"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// stamper fills the fields the recorder owns.
type stamper struct {
	clock clock.Clock
}

func (s stamper) stamp(d *Decision) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.EvaluatedAt.IsZero() {
		d.EvaluatedAt = s.clock.Now()
	}
	// SQLite keeps evaluated_at as Unix milliseconds; every log sees the same precision.
	d.EvaluatedAt = d.EvaluatedAt.UTC().Truncate(time.Millisecond)
	if d.Context == nil {
		d.Context = map[string]any{}
	}
}

// SyncRecorder appends each decision before returning, so it is visible to analytics
// as soon as the evaluation call completes.
type SyncRecorder struct {
	stamper
	log Log
}

// NewSyncRecorder returns a recorder writing straight to log. A nil clock uses the system clock.
func NewSyncRecorder(log Log, c clock.Clock) *SyncRecorder {
	if c == nil {
		c = clock.System{}
	}
	return &SyncRecorder{stamper: stamper{clock: c}, log: log}
}

func (r *SyncRecorder) Record(ctx context.Context, d Decision) error {
	r.stamp(&d)
	if err := r.log.Append(ctx, d); err != nil {
		telemetry.DecisionsRecorded.WithLabelValues(ModeSync, "error").Inc()
		return fmt.Errorf("record decision: %w", err)
	}
	telemetry.DecisionsRecorded.WithLabelValues(ModeSync, "ok").Inc()
	return nil
}

func (r *SyncRecorder) Close(context.Context) error { return nil }

// AsyncOptions configures queueing and batching for AsyncRecorder.
type AsyncOptions struct {
	QueueSize      int           // decisions buffered before Record blocks
	Workers        int           // goroutines draining the queue
	BatchSize      int           // decisions per AppendBatch call
	BatchTimeout   time.Duration // max time a partial batch waits
	StorageTimeout time.Duration // per-attempt timeout for AppendBatch
	MaxTries       uint          // attempts per batch, including the first
}

func (o *AsyncOptions) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 200 * time.Millisecond
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = 5 * time.Second
	}
	if o.MaxTries == 0 {
		o.MaxTries = 5
	}
}

// AsyncRecorder queues decisions in a bounded channel and appends them in batches from
// background workers. When the queue is full Record blocks until space frees up or the
// caller's context ends; a decision is never dropped silently.
type AsyncRecorder struct {
	stamper
	log    Log
	logger zerolog.Logger
	opts   AsyncOptions

	queue chan Decision
	done  chan struct{}

	// mu orders Record against Close: Close takes the write lock, so once it holds it no
	// Record is mid-send and none will enqueue afterwards.
	mu     sync.RWMutex
	closed bool

	wg       conc.WaitGroup
	finished chan struct{}
}

// NewAsyncRecorder starts opts.Workers workers appending to log.
func NewAsyncRecorder(log Log, c clock.Clock, logger zerolog.Logger, opts AsyncOptions) *AsyncRecorder {
	if c == nil {
		c = clock.System{}
	}
	opts.setDefaults()

	r := &AsyncRecorder{
		stamper:  stamper{clock: c},
		log:      log,
		logger:   logger.With().Str("component", "decision_recorder").Logger(),
		opts:     opts,
		queue:    make(chan Decision, opts.QueueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Go(r.worker)
	}
	go func() {
		r.wg.Wait()
		close(r.finished)
	}()
	return r
}

// Record enqueues d. It returns ErrBackpressure if ctx ends while the queue is full and
// ErrClosed after Close.
func (r *AsyncRecorder) Record(ctx context.Context, d Decision) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	r.stamp(&d)
	select {
	case r.queue <- d:
		telemetry.DecisionQueueDepth.Set(float64(len(r.queue)))
		return nil
	default:
	}

	// Queue full: wait for a worker to make room.
	select {
	case r.queue <- d:
		telemetry.DecisionQueueDepth.Set(float64(len(r.queue)))
		return nil
	case <-ctx.Done():
		telemetry.DecisionsRecorded.WithLabelValues(ModeAsync, "backpressure").Inc()
		return fmt.Errorf("%w: %w", ErrBackpressure, ctx.Err())
	}
}

func (r *AsyncRecorder) worker() {
	batch := make([]Decision, 0, r.opts.BatchSize)
	ticker := time.NewTicker(r.opts.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.flush(batch)
		clear(batch)
		batch = batch[:0]
	}

	for {
		select {
		case d := <-r.queue:
			telemetry.DecisionQueueDepth.Set(float64(len(r.queue)))
			batch = append(batch, d)
			if len(batch) >= r.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			// Drain whatever is left; no Record can enqueue once done is closed.
			for {
				select {
				case d := <-r.queue:
					batch = append(batch, d)
					if len(batch) >= r.opts.BatchSize {
						flush()
					}
				default:
					flush()
					telemetry.DecisionQueueDepth.Set(0)
					return
				}
			}
		}
	}
}

// flush appends batch with exponential backoff between attempts.
func (r *AsyncRecorder) flush(batch []Decision) {
	items := make([]Decision, len(batch))
	copy(items, batch)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second

	op := func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.StorageTimeout)
		defer cancel()
		return struct{}{}, r.log.AppendBatch(ctx, items)
	}

	_, err := backoff.Retry(context.Background(), op, backoff.WithBackOff(bo), backoff.WithMaxTries(r.opts.MaxTries))
	if err != nil {
		telemetry.DecisionsRecorded.WithLabelValues(ModeAsync, "error").Add(float64(len(items)))
		r.logger.Error().Err(err).Int("count", len(items)).Msg("failed to append decision batch")
		return
	}
	telemetry.DecisionsRecorded.WithLabelValues(ModeAsync, "ok").Add(float64(len(items)))
}

// Close stops accepting decisions and waits for queued ones to be written.
// It returns ctx.Err() if ctx ends first; workers keep draining in the background.
// Safe to call more than once.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()

	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued decisions not yet picked up by a worker.
func (r *AsyncRecorder) Pending() int {
	return len(r.queue)
}

// NewRecorder returns the recorder for mode ("sync" or "async").
func NewRecorder(mode string, log Log, c clock.Clock, logger zerolog.Logger, opts AsyncOptions) (Recorder, error) {
	switch mode {
	case "", ModeSync:
		return NewSyncRecorder(log, c), nil
	case ModeAsync:
		return NewAsyncRecorder(log, c, logger, opts), nil
	default:
		return nil, fmt.Errorf("unsupported decision log mode: %s", mode)
	}
}

var (
	_ Recorder = (*SyncRecorder)(nil)
	_ Recorder = (*AsyncRecorder)(nil)
)
