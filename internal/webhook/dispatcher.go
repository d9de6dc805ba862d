package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagledger/internal/telemetry"
)

// maxResponseBodySize limits how much of a failed response body is logged.
const maxResponseBodySize = 1024

// Options configures a Dispatcher.
type Options struct {
	Endpoints       []Endpoint
	Secret          string
	QueueSize       int
	Timeout         time.Duration // per delivery attempt
	MaxTries        uint
	InitialInterval time.Duration // first retry delay, doubled per attempt
	Client          *http.Client
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxTries == 0 {
		o.MaxTries = 4
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = time.Second
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
}

// Dispatcher delivers events to the configured endpoints from a background worker.
// Delivery is best effort: a full queue drops the event and exhausted retries give up.
type Dispatcher struct {
	opts   Options
	logger zerolog.Logger
	queue  chan Event
	done   chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewDispatcher creates a dispatcher. Call Start to begin delivering.
func NewDispatcher(opts Options, logger zerolog.Logger) *Dispatcher {
	opts.setDefaults()
	return &Dispatcher{
		opts:   opts,
		logger: logger.With().Str("component", "webhook_dispatcher").Logger(),
		queue:  make(chan Event, opts.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start begins processing events from the queue.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.worker()
}

// Close stops accepting events and waits until queued ones have been attempted.
// Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		<-d.done
	}
	return nil
}

// Dispatch queues event without blocking. Events with no matching endpoint are skipped.
func (d *Dispatcher) Dispatch(event Event) {
	if !d.hasSubscriber(event) {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- event:
	default:
		telemetry.WebhookDeliveries.WithLabelValues("dropped").Inc()
		d.logger.Warn().
			Str("event", event.Type).
			Str("flag_key", event.Resource.Key).
			Int("queue_size", d.opts.QueueSize).
			Msg("webhook queue full, dropping event")
	}
}

func (d *Dispatcher) hasSubscriber(event Event) bool {
	for _, e := range d.opts.Endpoints {
		if e.matches(event) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		payload, err := json.Marshal(event)
		if err != nil {
			d.logger.Error().Err(err).Str("event", event.Type).Msg("failed to encode webhook event")
			continue
		}
		for _, endpoint := range d.opts.Endpoints {
			if endpoint.matches(event) {
				d.deliver(endpoint, event, payload)
			}
		}
	}
}

// errRejected marks a non-2xx response.
var errRejected = errors.New("webhook endpoint rejected delivery")

func (d *Dispatcher) deliver(endpoint Endpoint, event Event, payload []byte) {
	deliveryID := uuid.NewString()
	signature := Sign(payload, d.opts.Secret)
	log := d.logger.With().
		Str("url", endpoint.URL).
		Str("event", event.Type).
		Str("flag_key", event.Resource.Key).
		Str("delivery_id", deliveryID).
		Logger()

	attempt := 0
	op := func() (int, error) {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event.Type)
		req.Header.Set(HeaderDelivery, deliveryID)

		resp, err := d.opts.Client.Do(req)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("webhook delivery attempt failed")
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
			log.Debug().Int("status", resp.StatusCode).Str("body", string(body)).Int("attempt", attempt).
				Msg("webhook delivery attempt rejected")
			return resp.StatusCode, fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.opts.InitialInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	status, err := backoff.Retry(context.Background(), op, backoff.WithBackOff(bo), backoff.WithMaxTries(d.opts.MaxTries))
	if err != nil {
		telemetry.WebhookDeliveries.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Int("attempts", attempt).Msg("webhook delivery failed permanently")
		return
	}
	telemetry.WebhookDeliveries.WithLabelValues("ok").Inc()
	log.Debug().Int("status", status).Int("attempts", attempt).Msg("webhook delivered")
}
